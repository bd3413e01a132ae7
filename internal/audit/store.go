// Package audit writes one immutable record per deliberation run.
//
// The Recorder validates each record against the audit invariants, stamps its
// identifiers and content hash, and inserts it. A failed insert is fatal for
// the run: the caller must not return the answer as trusted.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/brain/internal/model"
)

// Store is an append-only audit store. PostgreSQL, SQLite and in-memory
// implementations exist; all return storage.ErrNotFound for unknown ids and
// storage.ErrLegalHold when deleting a held record.
type Store interface {
	InsertAudit(ctx context.Context, rec model.AuditRecord) error
	GetAudit(ctx context.Context, id uuid.UUID) (model.AuditRecord, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	RecentStatuses(ctx context.Context, n int, since time.Time) ([]model.FinalStatus, error)
	SetLegalHold(ctx context.Context, id uuid.UUID, hold bool) error
	SoftDelete(ctx context.Context, id uuid.UUID, req model.DeletionRequest, at time.Time) error
	Ping(ctx context.Context) error
}
