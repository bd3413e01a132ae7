package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRecord wraps every audit-record invariant violation.
var ErrInvalidRecord = errors.New("invalid audit record")

// AuditRecord is the immutable row persisted once per deliberation run.
type AuditRecord struct {
	ID            uuid.UUID     `json:"id"`
	RunID         uuid.UUID     `json:"run_id"`
	SnapshotID    uuid.UUID     `json:"snapshot_id"`
	EngineVersion string        `json:"engine_version"`
	PromptVersion string        `json:"prompt_version"`
	RoundsUsed    int           `json:"rounds_used"`
	CallsUsed     int           `json:"calls_used"`
	TokensUsed    int           `json:"tokens_used"`
	FinalStatus   FinalStatus   `json:"final_status"`
	ForcedReason  *ForcedReason `json:"forced_reason,omitempty"`
	AbortReason   *AbortReason  `json:"abort_reason,omitempty"`
	GateHistory   []GateEntry   `json:"gate_history"`
	OutputDigest  string        `json:"output_digest,omitempty"`
	ContentHash   string        `json:"content_hash"`

	LegalHold      bool       `json:"legal_hold"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletionReason *string    `json:"deletion_reason,omitempty"`
	DeletedBy      *string    `json:"deleted_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Deleted reports whether the record has been soft-deleted.
func (r AuditRecord) Deleted() bool { return r.DeletedAt != nil }

// Validate enforces every record invariant. The same rules are repeated as
// storage constraints; this check runs first so bad records never reach a
// database round trip.
func (r AuditRecord) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch r.FinalStatus {
	case FinalConverged:
		if r.ForcedReason != nil || r.AbortReason != nil {
			add("CONVERGED record must not carry forced_reason or abort_reason")
		}
	case FinalForced:
		if r.ForcedReason == nil || !r.ForcedReason.Valid() {
			add("FORCED record requires a valid forced_reason")
		}
		if r.AbortReason != nil {
			add("FORCED record must not carry abort_reason")
		}
	case FinalAborted:
		if r.AbortReason == nil || !r.AbortReason.Valid() {
			add("ABORTED record requires a valid abort_reason")
		}
		if r.ForcedReason != nil {
			add("ABORTED record must not carry forced_reason")
		}
	default:
		add("final_status %q is not CONVERGED, FORCED or ABORTED", r.FinalStatus)
	}

	if r.RoundsUsed < 0 || r.RoundsUsed > MaxRounds {
		add("rounds_used %d outside [0,%d]", r.RoundsUsed, MaxRounds)
	}
	if r.CallsUsed < 0 || r.CallsUsed > MaxCalls {
		add("calls_used %d outside [0,%d]", r.CallsUsed, MaxCalls)
	}
	if r.TokensUsed < 0 {
		add("tokens_used %d is negative", r.TokensUsed)
	}
	if err := ValidateGateHistory(r.GateHistory); err != nil {
		errs = append(errs, err)
	}

	set := 0
	if r.DeletedAt != nil {
		set++
	}
	if r.DeletionReason != nil {
		set++
	}
	if r.DeletedBy != nil {
		set++
	}
	if set != 0 && set != 3 {
		add("deletion metadata must be all set or all empty")
	}
	if r.LegalHold && set != 0 {
		add("record under legal hold cannot carry deletion metadata")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidRecord, errors.Join(errs...))
}

// DeletionRequest is an administrative soft-delete of an audit record.
type DeletionRequest struct {
	Reason string
	Actor  string
	// Admin marks requests issued through the administrative API. It grants
	// no exemption from legal hold.
	Admin bool
}

// Validate checks that reason and actor are present.
func (d DeletionRequest) Validate() error {
	if d.Reason == "" {
		return errors.New("deletion reason is required")
	}
	if d.Actor == "" {
		return errors.New("deletion actor is required")
	}
	return nil
}
