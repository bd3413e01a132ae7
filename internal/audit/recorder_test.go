package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/brain/internal/integrity"
	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/storage"
	"github.com/ashita-ai/brain/internal/testutil"
)

// flakyStore fails the first failures inserts, then delegates.
type flakyStore struct {
	*MemoryStore
	failures int
	attempts int
}

func (f *flakyStore) InsertAudit(ctx context.Context, rec model.AuditRecord) error {
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	return f.MemoryStore.InsertAudit(ctx, rec)
}

func convergedRecord() model.AuditRecord {
	return model.AuditRecord{
		RunID:         uuid.New(),
		EngineVersion: "ghost-engine-v1",
		PromptVersion: "ghost-v1",
		RoundsUsed:    1,
		CallsUsed:     4,
		TokensUsed:    900,
		FinalStatus:   model.FinalConverged,
		GateHistory: []model.GateEntry{
			{Round: 0, Compliance: model.Fail, FactualConsistency: model.Fail, RiskStability: model.Fail},
			{Round: 1, Compliance: model.Pass, FactualConsistency: model.Pass, RiskStability: model.Pass},
		},
		OutputDigest: integrity.DigestOutput("answer"),
	}
}

func TestRecorder_StampsAndInserts(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, testutil.TestLogger())

	rec, err := r.Record(context.Background(), convergedRecord())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.NotEqual(t, uuid.Nil, rec.SnapshotID)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.True(t, integrity.VerifyRecordHash(rec))

	stored, err := store.GetAudit(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)
}

func TestRecorder_InvalidRecordIsFatal(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, testutil.TestLogger())

	bad := convergedRecord()
	reason := model.ForcedRoundCap
	bad.ForcedReason = &reason

	_, err := r.Record(context.Background(), bad)
	require.ErrorIs(t, err, model.ErrInvalidRecord)

	require.Equal(t, 1, store.Len(), "only the audit_failure marker is stored")
	statuses, err := store.RecentStatuses(context.Background(), 5, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []model.FinalStatus{model.FinalAborted}, statuses)
}

func TestRecorder_InsertFailureWritesMarker(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 1}
	r := NewRecorder(store, testutil.TestLogger())

	in := convergedRecord()
	_, err := r.Record(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 2, store.attempts)

	require.Equal(t, 1, store.Len())
	var marker model.AuditRecord
	for _, rec := range store.records {
		marker = rec
	}
	assert.Equal(t, in.RunID, marker.RunID)
	assert.Equal(t, model.FinalAborted, marker.FinalStatus)
	require.NotNil(t, marker.AbortReason)
	assert.Equal(t, model.AbortAuditFailure, *marker.AbortReason)
	assert.Equal(t, in.CallsUsed, marker.CallsUsed)
	assert.Len(t, marker.GateHistory, 2)
	assert.True(t, integrity.VerifyRecordHash(marker))
}

func TestRecorder_MarkerFailureStillReturnsError(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	_, err := NewRecorder(store, testutil.TestLogger()).Record(context.Background(), convergedRecord())
	require.Error(t, err)
	assert.Zero(t, store.Len())
}

func TestMemoryStore_Governance(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec, err := NewRecorder(store, testutil.TestLogger()).Record(ctx, convergedRecord())
	require.NoError(t, err)
	del := model.DeletionRequest{Reason: "retention", Actor: "ops@example.com", Admin: true}

	require.NoError(t, store.SetLegalHold(ctx, rec.ID, true))
	err = store.SoftDelete(ctx, rec.ID, del, time.Now())
	require.ErrorIs(t, err, storage.ErrLegalHold, "legal hold blocks even admin deletes")

	require.NoError(t, store.SetLegalHold(ctx, rec.ID, false))
	require.NoError(t, store.SoftDelete(ctx, rec.ID, del, time.Now()))
	got, err := store.GetAudit(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, got.Deleted())
	assert.Equal(t, "retention", *got.DeletionReason)
	assert.Equal(t, "ops@example.com", *got.DeletedBy)
	assert.True(t, integrity.VerifyRecordHash(got), "governance changes keep the hash valid")

	err = store.SetLegalHold(ctx, rec.ID, true)
	assert.ErrorIs(t, err, model.ErrInvalidRecord, "a deleted record cannot be placed on hold")

	assert.ErrorIs(t, store.SoftDelete(ctx, uuid.New(), del, time.Now()), storage.ErrNotFound)
	assert.Error(t, store.SoftDelete(ctx, rec.ID, model.DeletionRequest{Actor: "x"}, time.Now()))
}

func TestMemoryStore_Queries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := NewRecorder(store, testutil.TestLogger())
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	aborted := model.AbortGPTFailure
	for i, status := range []model.FinalStatus{model.FinalConverged, model.FinalAborted, model.FinalAborted} {
		rec := convergedRecord()
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if status == model.FinalAborted {
			rec.FinalStatus = status
			rec.AbortReason = &aborted
		}
		_, err := r.Record(ctx, rec)
		require.NoError(t, err)
	}

	n, err := store.CountSince(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	statuses, err := store.RecentStatuses(ctx, 2, base)
	require.NoError(t, err)
	assert.Equal(t, []model.FinalStatus{model.FinalAborted, model.FinalAborted}, statuses)

	statuses, err = store.RecentStatuses(ctx, 5, base)
	require.NoError(t, err)
	assert.Equal(t, []model.FinalStatus{model.FinalAborted, model.FinalAborted, model.FinalConverged}, statuses)
}
