package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/brain/internal/integrity"
	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/telemetry"
)

// Inserter is the write side of Store.
type Inserter interface {
	InsertAudit(ctx context.Context, rec model.AuditRecord) error
}

// Recorder persists deliberation audit records.
type Recorder struct {
	store    Inserter
	logger   *slog.Logger
	now      func() time.Time
	failures metric.Int64Counter
}

// NewRecorder creates a Recorder over store.
func NewRecorder(store Inserter, logger *slog.Logger) *Recorder {
	failures, _ := telemetry.Meter("brain/audit").Int64Counter("brain.audit.failures",
		metric.WithDescription("Audit records that could not be written"),
	)
	return &Recorder{store: store, logger: logger, now: time.Now, failures: failures}
}

// Record stamps rec and inserts it, returning the stored form. Missing ids
// and timestamps are filled in; the content hash is always recomputed.
//
// When validation or the insert fails, Record makes one best-effort insert
// of an ABORTED/audit_failure record for the same run so the failure itself
// is visible to the circuit breaker, then returns the original error.
func (r *Recorder) Record(ctx context.Context, rec model.AuditRecord) (model.AuditRecord, error) {
	rec = r.stamp(rec)
	err := rec.Validate()
	if err == nil {
		err = r.store.InsertAudit(ctx, rec)
	}
	if err == nil {
		r.logger.Debug("audit record written", "audit_id", rec.ID, "run_id", rec.RunID, "final_status", rec.FinalStatus)
		return rec, nil
	}

	r.failures.Add(ctx, 1)
	r.logger.Error("audit record not written", "run_id", rec.RunID, "final_status", rec.FinalStatus, "error", err)
	r.fallback(ctx, rec)
	return model.AuditRecord{}, fmt.Errorf("audit: record run %s: %w", rec.RunID, err)
}

func (r *Recorder) stamp(rec model.AuditRecord) model.AuditRecord {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.SnapshotID == uuid.Nil {
		rec.SnapshotID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	// Database timestamps keep microseconds; hash what will be read back.
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Microsecond)
	if rec.GateHistory == nil {
		rec.GateHistory = []model.GateEntry{}
	}
	rec.ContentHash = integrity.ComputeRecordHash(rec)
	return rec
}

// fallback writes the audit_failure marker. Its own failure is only logged.
func (r *Recorder) fallback(ctx context.Context, failed model.AuditRecord) {
	reason := model.AbortAuditFailure
	marker := model.AuditRecord{
		RunID:         failed.RunID,
		EngineVersion: failed.EngineVersion,
		PromptVersion: failed.PromptVersion,
		RoundsUsed:    clamp(failed.RoundsUsed, model.MaxRounds),
		CallsUsed:     clamp(failed.CallsUsed, model.MaxCalls),
		TokensUsed:    max(failed.TokensUsed, 0),
		FinalStatus:   model.FinalAborted,
		AbortReason:   &reason,
		GateHistory:   failed.GateHistory,
	}
	if model.ValidateGateHistory(marker.GateHistory) != nil {
		marker.GateHistory = nil
	}
	marker = r.stamp(marker)

	// The primary failure may have come from a cancelled request.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.InsertAudit(fctx, marker); err != nil {
		r.logger.Error("audit failure marker not written", "run_id", failed.RunID, "error", err)
		return
	}
	r.logger.Warn("audit failure marker written", "audit_id", marker.ID, "run_id", failed.RunID)
}

func clamp(v, limit int) int {
	return min(max(v, 0), limit)
}
