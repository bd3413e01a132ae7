package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"

	"github.com/ashita-ai/brain/internal/model"
)

// sqliteTime is fixed width so text comparison orders timestamps.
const sqliteTime = "2006-01-02T15:04:05.000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS deliberation_audit (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL,
	snapshot_id     TEXT NOT NULL,
	engine_version  TEXT NOT NULL,
	prompt_version  TEXT NOT NULL,
	rounds_used     INTEGER NOT NULL CHECK (rounds_used BETWEEN 0 AND 2),
	calls_used      INTEGER NOT NULL CHECK (calls_used BETWEEN 0 AND 6),
	tokens_used     INTEGER NOT NULL CHECK (tokens_used >= 0),
	final_status    TEXT NOT NULL CHECK (final_status IN ('CONVERGED', 'FORCED', 'ABORTED')),
	forced_reason   TEXT CHECK (forced_reason IN ('round_cap', 'call_cap', 'token_cap', 'timeout')),
	abort_reason    TEXT CHECK (abort_reason IN ('gpt_failure', 'audit_failure', 'internal_error')),
	gate_history    TEXT NOT NULL DEFAULT '[]'
		CHECK (json_valid(gate_history) AND json_type(gate_history) = 'array' AND json_array_length(gate_history) <= 3),
	output_digest   TEXT NOT NULL DEFAULT '',
	content_hash    TEXT NOT NULL,
	legal_hold      INTEGER NOT NULL DEFAULT 0 CHECK (legal_hold IN (0, 1)),
	deleted_at      TEXT,
	deletion_reason TEXT,
	deleted_by      TEXT,
	created_at      TEXT NOT NULL,

	CHECK ((final_status = 'FORCED') = (forced_reason IS NOT NULL)),
	CHECK ((final_status = 'ABORTED') = (abort_reason IS NOT NULL)),
	CHECK ((deleted_at IS NULL AND deletion_reason IS NULL AND deleted_by IS NULL)
		OR (deleted_at IS NOT NULL AND deletion_reason IS NOT NULL AND deleted_by IS NOT NULL)),
	CHECK (NOT (legal_hold = 1 AND deleted_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_deliberation_audit_created ON deliberation_audit (created_at);

CREATE TRIGGER IF NOT EXISTS deliberation_audit_gates
BEFORE INSERT ON deliberation_audit
WHEN EXISTS (
	SELECT 1 FROM json_each(NEW.gate_history)
	WHERE json_type(value, '$.round') IS NOT 'integer'
	   OR json_extract(value, '$.round') NOT BETWEEN 0 AND 2
	   OR coalesce(json_extract(value, '$.compliance'), '') NOT IN ('PASS', 'FAIL')
	   OR coalesce(json_extract(value, '$.factual_consistency'), '') NOT IN ('PASS', 'FAIL')
	   OR coalesce(json_extract(value, '$.risk_stability'), '') NOT IN ('PASS', 'FAIL')
) OR EXISTS (
	SELECT 1 FROM json_each(NEW.gate_history) a
	JOIN json_each(NEW.gate_history) b ON b.key = a.key + 1
	WHERE json_extract(b.value, '$.round') <= json_extract(a.value, '$.round')
)
BEGIN
	SELECT RAISE(ABORT, 'gate_history: rounds must increase within 0..2 and gates be PASS or FAIL');
END;

CREATE TRIGGER IF NOT EXISTS deliberation_audit_immutable
BEFORE UPDATE ON deliberation_audit
WHEN NEW.id IS NOT OLD.id OR NEW.run_id IS NOT OLD.run_id OR NEW.snapshot_id IS NOT OLD.snapshot_id
  OR NEW.engine_version IS NOT OLD.engine_version OR NEW.prompt_version IS NOT OLD.prompt_version
  OR NEW.rounds_used IS NOT OLD.rounds_used OR NEW.calls_used IS NOT OLD.calls_used
  OR NEW.tokens_used IS NOT OLD.tokens_used OR NEW.final_status IS NOT OLD.final_status
  OR NEW.forced_reason IS NOT OLD.forced_reason OR NEW.abort_reason IS NOT OLD.abort_reason
  OR NEW.gate_history IS NOT OLD.gate_history OR NEW.output_digest IS NOT OLD.output_digest
  OR NEW.content_hash IS NOT OLD.content_hash OR NEW.created_at IS NOT OLD.created_at
BEGIN
	SELECT RAISE(ABORT, 'immutable: deliberation audit records cannot be modified');
END;

CREATE TRIGGER IF NOT EXISTS deliberation_audit_hold
BEFORE UPDATE ON deliberation_audit
WHEN (OLD.legal_hold = 1 OR NEW.legal_hold = 1) AND NEW.deleted_at IS NOT NULL AND OLD.deleted_at IS NULL
BEGIN
	SELECT RAISE(ABORT, 'legal_hold: record is under legal hold');
END;

CREATE TRIGGER IF NOT EXISTS deliberation_audit_no_delete
BEFORE DELETE ON deliberation_audit
BEGIN
	SELECT RAISE(ABORT, 'immutable: deliberation audit records are append-only');
END;
`

// SQLiteStore is the single-node audit store.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Parent directories are created if needed.
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// One connection serializes writers and keeps the pragmas in effect.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: create sqlite schema: %w", err)
	}

	logger.Info("sqlite audit store initialized", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// InsertAudit appends a deliberation audit record.
func (s *SQLiteStore) InsertAudit(ctx context.Context, rec model.AuditRecord) error {
	gates, err := json.Marshal(gateHistory(rec.GateHistory))
	if err != nil {
		return fmt.Errorf("storage: marshal gate history: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deliberation_audit (`+auditColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.RunID.String(), rec.SnapshotID.String(), rec.EngineVersion, rec.PromptVersion,
		rec.RoundsUsed, rec.CallsUsed, rec.TokensUsed, string(rec.FinalStatus),
		optString(rec.ForcedReason), optString(rec.AbortReason), string(gates), rec.OutputDigest, rec.ContentHash,
		rec.LegalHold, optTime(rec.DeletedAt), rec.DeletionReason, rec.DeletedBy, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert audit: %w", classifySQLite(err))
	}
	return nil
}

// GetAudit returns one audit record by id.
func (s *SQLiteStore) GetAudit(ctx context.Context, id uuid.UUID) (model.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM deliberation_audit WHERE id = ?`, id.String())

	var rec model.AuditRecord
	var recID, runID, snapshotID, status, gates, createdAt string
	var forced, abort, deletedAt *string
	err := row.Scan(
		&recID, &runID, &snapshotID, &rec.EngineVersion, &rec.PromptVersion,
		&rec.RoundsUsed, &rec.CallsUsed, &rec.TokensUsed, &status, &forced, &abort,
		&gates, &rec.OutputDigest, &rec.ContentHash, &rec.LegalHold,
		&deletedAt, &rec.DeletionReason, &rec.DeletedBy, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuditRecord{}, ErrNotFound
	}
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("storage: get audit: %w", err)
	}

	for _, p := range []struct {
		dst *uuid.UUID
		src string
	}{{&rec.ID, recID}, {&rec.RunID, runID}, {&rec.SnapshotID, snapshotID}} {
		if *p.dst, err = uuid.Parse(p.src); err != nil {
			return model.AuditRecord{}, fmt.Errorf("storage: get audit: %w", err)
		}
	}
	if rec.CreatedAt, err = time.Parse(sqliteTime, createdAt); err != nil {
		return model.AuditRecord{}, fmt.Errorf("storage: get audit: created_at: %w", err)
	}
	if deletedAt != nil {
		t, err := time.Parse(sqliteTime, *deletedAt)
		if err != nil {
			return model.AuditRecord{}, fmt.Errorf("storage: get audit: deleted_at: %w", err)
		}
		rec.DeletedAt = &t
	}
	if err := fillAudit(&rec, status, forced, abort, []byte(gates)); err != nil {
		return model.AuditRecord{}, fmt.Errorf("storage: get audit: %w", err)
	}
	return rec, nil
}

// CountSince counts records created at or after since, deleted ones included.
func (s *SQLiteStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM deliberation_audit WHERE created_at >= ?`, formatTime(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count audit: %w", err)
	}
	return n, nil
}

// RecentStatuses returns the final status of up to n records created at or
// after since, newest first.
func (s *SQLiteStore) RecentStatuses(ctx context.Context, n int, since time.Time) ([]model.FinalStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT final_status FROM deliberation_audit
		 WHERE created_at >= ?
		 ORDER BY created_at DESC, id
		 LIMIT ?`, formatTime(since), n)
	if err != nil {
		return nil, fmt.Errorf("storage: recent audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.FinalStatus
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, fmt.Errorf("storage: recent audit: %w", err)
		}
		out = append(out, model.FinalStatus(status))
	}
	return out, rows.Err()
}

// SetLegalHold places or lifts a legal hold.
func (s *SQLiteStore) SetLegalHold(ctx context.Context, id uuid.UUID, hold bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliberation_audit SET legal_hold = ? WHERE id = ?`, hold, id.String())
	if err != nil {
		return fmt.Errorf("storage: set legal hold: %w", classifySQLite(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete stamps deletion metadata on a record. Held records return
// ErrLegalHold; an already deleted record is left untouched.
func (s *SQLiteStore) SoftDelete(ctx context.Context, id uuid.UUID, req model.DeletionRequest, at time.Time) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("storage: soft delete: %w: %w", model.ErrInvalidRecord, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: soft delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var hold bool
	var deletedAt *string
	err = tx.QueryRowContext(ctx,
		`SELECT legal_hold, deleted_at FROM deliberation_audit WHERE id = ?`, id.String(),
	).Scan(&hold, &deletedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("storage: soft delete: %w", err)
	case hold:
		return ErrLegalHold
	case deletedAt != nil:
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE deliberation_audit SET deleted_at = ?, deletion_reason = ?, deleted_by = ? WHERE id = ?`,
		formatTime(at), req.Reason, req.Actor, id.String(),
	); err != nil {
		return fmt.Errorf("storage: soft delete: %w", classifySQLite(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: soft delete: %w", err)
	}
	s.logger.Info("audit record soft-deleted", "audit_id", id, "actor", req.Actor, "admin", req.Admin)
	return nil
}

// classifySQLite maps constraint and trigger failures onto the package
// sentinels. SQLite reports both as SQLITE_CONSTRAINT (19).
func classifySQLite(err error) error {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) || sqlErr.Code()&0xff != 19 {
		return err
	}
	if strings.Contains(sqlErr.Error(), "legal_hold:") {
		return ErrLegalHold
	}
	return fmt.Errorf("%w: %s", model.ErrInvalidRecord, sqlErr.Error())
}

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTime) }

func optTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
