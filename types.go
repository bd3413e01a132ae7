package brain

import (
	"time"

	"github.com/google/uuid"
)

// DeliberationRecord is the public view of a persisted deliberation audit
// record. It carries counters and gate outcomes, never the answer text.
type DeliberationRecord struct {
	ID            uuid.UUID
	RunID         uuid.UUID
	EngineVersion string
	PromptVersion string
	RoundsUsed    int
	CallsUsed     int
	TokensUsed    int
	// FinalStatus is CONVERGED, FORCED or ABORTED.
	FinalStatus string
	// Reason is the forced reason for FORCED runs and the abort reason for
	// ABORTED runs; empty for CONVERGED.
	Reason       string
	Gates        []Gate
	OutputDigest string
	ContentHash  string
	CreatedAt    time.Time
}

// Gate is one round's gate declaration.
type Gate struct {
	Round              int
	Compliance         bool
	FactualConsistency bool
	RiskStability      bool
}
