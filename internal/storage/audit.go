package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/brain/internal/model"
)

const (
	retryAttempts = 3
	retryDelay    = 20 * time.Millisecond
)

const auditColumns = `id, run_id, snapshot_id, engine_version, prompt_version,
	rounds_used, calls_used, tokens_used, final_status, forced_reason, abort_reason,
	gate_history, output_digest, content_hash, legal_hold,
	deleted_at, deletion_reason, deleted_by, created_at`

// InsertAudit appends a deliberation audit record. Constraint and trigger
// violations are reported as model.ErrInvalidRecord.
func (db *DB) InsertAudit(ctx context.Context, rec model.AuditRecord) error {
	gates, err := json.Marshal(gateHistory(rec.GateHistory))
	if err != nil {
		return fmt.Errorf("storage: marshal gate history: %w", err)
	}

	err = WithRetry(ctx, retryAttempts, retryDelay, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO deliberation_audit (`+auditColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb,
			         $13, $14, $15, $16, $17, $18, $19)`,
			rec.ID, rec.RunID, rec.SnapshotID, rec.EngineVersion, rec.PromptVersion,
			rec.RoundsUsed, rec.CallsUsed, rec.TokensUsed, string(rec.FinalStatus),
			optString(rec.ForcedReason), optString(rec.AbortReason), gates, rec.OutputDigest, rec.ContentHash,
			rec.LegalHold, rec.DeletedAt, rec.DeletionReason, rec.DeletedBy, rec.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: insert audit: %w", classify(err))
	}
	return nil
}

// GetAudit returns one audit record by id.
func (db *DB) GetAudit(ctx context.Context, id uuid.UUID) (model.AuditRecord, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM deliberation_audit WHERE id = $1`, id)
	rec, err := scanAudit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AuditRecord{}, ErrNotFound
	}
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("storage: get audit: %w", err)
	}
	return rec, nil
}

// CountSince counts records created at or after since, deleted ones included.
func (db *DB) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM deliberation_audit WHERE created_at >= $1`, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count audit: %w", err)
	}
	return n, nil
}

// RecentStatuses returns the final status of up to n records created at or
// after since, newest first.
func (db *DB) RecentStatuses(ctx context.Context, n int, since time.Time) ([]model.FinalStatus, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT final_status FROM deliberation_audit
		 WHERE created_at >= $1
		 ORDER BY created_at DESC, id
		 LIMIT $2`, since, n)
	if err != nil {
		return nil, fmt.Errorf("storage: recent audit: %w", err)
	}
	statuses, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("storage: recent audit: %w", err)
	}
	out := make([]model.FinalStatus, len(statuses))
	for i, s := range statuses {
		out[i] = model.FinalStatus(s)
	}
	return out, nil
}

// SetLegalHold places or lifts a legal hold. Holding a deleted record
// violates the schema and is reported as model.ErrInvalidRecord.
func (db *DB) SetLegalHold(ctx context.Context, id uuid.UUID, hold bool) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE deliberation_audit SET legal_hold = $2 WHERE id = $1`, id, hold)
	if err != nil {
		return fmt.Errorf("storage: set legal hold: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete stamps deletion metadata on a record. Held records return
// ErrLegalHold; an already deleted record is left untouched.
func (db *DB) SoftDelete(ctx context.Context, id uuid.UUID, req model.DeletionRequest, at time.Time) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("storage: soft delete: %w: %w", model.ErrInvalidRecord, err)
	}
	err := WithRetry(ctx, retryAttempts, retryDelay, func() error {
		return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			var hold bool
			var deletedAt *time.Time
			err := tx.QueryRow(ctx,
				`SELECT legal_hold, deleted_at FROM deliberation_audit WHERE id = $1 FOR UPDATE`, id,
			).Scan(&hold, &deletedAt)
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			if hold {
				return ErrLegalHold
			}
			if deletedAt != nil {
				return nil
			}
			_, err = tx.Exec(ctx,
				`UPDATE deliberation_audit
				 SET deleted_at = $2, deletion_reason = $3, deleted_by = $4
				 WHERE id = $1`, id, at, req.Reason, req.Actor)
			return err
		})
	})
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrLegalHold):
		return err
	case err != nil:
		return fmt.Errorf("storage: soft delete: %w", classify(err))
	}
	db.logger.Info("audit record soft-deleted", "audit_id", id, "actor", req.Actor, "admin", req.Admin)
	return nil
}

func scanAudit(row pgx.Row) (model.AuditRecord, error) {
	var (
		rec       model.AuditRecord
		status    string
		forced    *string
		abort     *string
		gatesJSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.RunID, &rec.SnapshotID, &rec.EngineVersion, &rec.PromptVersion,
		&rec.RoundsUsed, &rec.CallsUsed, &rec.TokensUsed, &status, &forced, &abort,
		&gatesJSON, &rec.OutputDigest, &rec.ContentHash, &rec.LegalHold,
		&rec.DeletedAt, &rec.DeletionReason, &rec.DeletedBy, &rec.CreatedAt,
	)
	if err != nil {
		return model.AuditRecord{}, err
	}
	if err := fillAudit(&rec, status, forced, abort, gatesJSON); err != nil {
		return model.AuditRecord{}, err
	}
	return rec, nil
}

// fillAudit decodes the columns both SQL stores keep as plain text.
func fillAudit(rec *model.AuditRecord, status string, forced, abort *string, gatesJSON []byte) error {
	rec.FinalStatus = model.FinalStatus(status)
	if forced != nil {
		r := model.ForcedReason(*forced)
		rec.ForcedReason = &r
	}
	if abort != nil {
		r := model.AbortReason(*abort)
		rec.AbortReason = &r
	}
	rec.GateHistory = []model.GateEntry{}
	if len(gatesJSON) > 0 {
		if err := json.Unmarshal(gatesJSON, &rec.GateHistory); err != nil {
			return fmt.Errorf("decode gate history: %w", err)
		}
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.DeletedAt != nil {
		t := rec.DeletedAt.UTC()
		rec.DeletedAt = &t
	}
	return nil
}

func gateHistory(h []model.GateEntry) []model.GateEntry {
	if h == nil {
		return []model.GateEntry{}
	}
	return h
}

func optString[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
