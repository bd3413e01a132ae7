package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/storage"
)

// MemoryStore keeps audit records in process memory. It enforces the same
// write-time rules as the database stores and is meant for development and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]model.AuditRecord
	order   []uuid.UUID
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]model.AuditRecord)}
}

// InsertAudit implements Store.
func (m *MemoryStore) InsertAudit(_ context.Context, rec model.AuditRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("storage: insert audit: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("storage: insert audit: record %s already exists", rec.ID)
	}
	m.records[rec.ID] = clone(rec)
	m.order = append(m.order, rec.ID)
	return nil
}

// GetAudit implements Store.
func (m *MemoryStore) GetAudit(_ context.Context, id uuid.UUID) (model.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return model.AuditRecord{}, storage.ErrNotFound
	}
	return clone(rec), nil
}

// CountSince implements Store. Soft-deleted records still count.
func (m *MemoryStore) CountSince(_ context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range m.records {
		if !rec.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// RecentStatuses implements Store.
func (m *MemoryStore) RecentStatuses(_ context.Context, n int, since time.Time) ([]model.FinalStatus, error) {
	m.mu.RLock()
	recent := make([]model.AuditRecord, 0, len(m.records))
	for _, rec := range m.records {
		if !rec.CreatedAt.Before(since) {
			recent = append(recent, rec)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(recent, func(i, j int) bool { return recent[i].CreatedAt.After(recent[j].CreatedAt) })
	if len(recent) > n {
		recent = recent[:n]
	}
	out := make([]model.FinalStatus, len(recent))
	for i, rec := range recent {
		out[i] = rec.FinalStatus
	}
	return out, nil
}

// SetLegalHold implements Store.
func (m *MemoryStore) SetLegalHold(_ context.Context, id uuid.UUID, hold bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.LegalHold = hold
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("storage: set legal hold: %w", err)
	}
	m.records[id] = rec
	return nil
}

// SoftDelete implements Store. Deleting an already deleted record keeps the
// original deletion metadata.
func (m *MemoryStore) SoftDelete(_ context.Context, id uuid.UUID, req model.DeletionRequest, at time.Time) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("storage: soft delete: %w: %w", model.ErrInvalidRecord, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	if rec.LegalHold {
		return storage.ErrLegalHold
	}
	if rec.Deleted() {
		return nil
	}
	reason, actor := req.Reason, req.Actor
	rec.DeletedAt, rec.DeletionReason, rec.DeletedBy = &at, &reason, &actor
	m.records[id] = rec
	return nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// IDs returns record ids in insertion order.
func (m *MemoryStore) IDs() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uuid.UUID(nil), m.order...)
}

func clone(rec model.AuditRecord) model.AuditRecord {
	rec.GateHistory = append([]model.GateEntry(nil), rec.GateHistory...)
	return rec
}
