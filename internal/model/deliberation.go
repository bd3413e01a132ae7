package model

import (
	"fmt"
	"time"
)

// Hard caps for a deliberation run.
const (
	MaxRounds        = 2
	MaxCalls         = 6
	MaxTokens        = 4000
	SynthesisReserve = 1000
	MaxElapsed       = 90 * time.Second
	MaxGateHistory   = 3
)

// FinalStatus is the terminal outcome of a deliberation run.
type FinalStatus string

const (
	FinalConverged FinalStatus = "CONVERGED"
	FinalForced    FinalStatus = "FORCED"
	FinalAborted   FinalStatus = "ABORTED"
)

// ForcedReason names the cap that forced termination.
type ForcedReason string

const (
	ForcedRoundCap ForcedReason = "round_cap"
	ForcedCallCap  ForcedReason = "call_cap"
	ForcedTokenCap ForcedReason = "token_cap"
	ForcedTimeout  ForcedReason = "timeout"
)

// Valid reports whether r is one of the four forced reasons.
func (r ForcedReason) Valid() bool {
	switch r {
	case ForcedRoundCap, ForcedCallCap, ForcedTokenCap, ForcedTimeout:
		return true
	}
	return false
}

// AbortReason names why a deliberation run was aborted.
type AbortReason string

const (
	AbortGPTFailure    AbortReason = "gpt_failure"
	AbortAuditFailure  AbortReason = "audit_failure"
	AbortInternalError AbortReason = "internal_error"
)

// Valid reports whether r is one of the three abort reasons.
func (r AbortReason) Valid() bool {
	switch r {
	case AbortGPTFailure, AbortAuditFailure, AbortInternalError:
		return true
	}
	return false
}

// Verdict is the declared value of a single gate.
type Verdict string

const (
	Pass Verdict = "PASS"
	Fail Verdict = "FAIL"
)

// Valid reports whether v is PASS or FAIL.
func (v Verdict) Valid() bool { return v == Pass || v == Fail }

// DeclaredStatus is the overall status the lead declares each round.
type DeclaredStatus string

const (
	StatusContinue  DeclaredStatus = "CONTINUE"
	StatusConverged DeclaredStatus = "CONVERGED"
	StatusForced    DeclaredStatus = "FORCED"
)

// GateEntry is one round's gate declaration as recorded in the audit trail.
type GateEntry struct {
	Round              int     `json:"round"`
	Compliance         Verdict `json:"compliance"`
	FactualConsistency Verdict `json:"factual_consistency"`
	RiskStability      Verdict `json:"risk_stability"`
}

// AllPass reports whether every gate in e is PASS.
func (e GateEntry) AllPass() bool {
	return e.Compliance == Pass && e.FactualConsistency == Pass && e.RiskStability == Pass
}

// ValidateGateHistory checks length, monotonic rounds and gate values.
func ValidateGateHistory(h []GateEntry) error {
	if len(h) > MaxGateHistory {
		return fmt.Errorf("gate history has %d entries, max %d", len(h), MaxGateHistory)
	}
	prev := -1
	for i, e := range h {
		if e.Round < 0 || e.Round > MaxRounds {
			return fmt.Errorf("gate history[%d]: round %d outside 0..%d", i, e.Round, MaxRounds)
		}
		if e.Round <= prev {
			return fmt.Errorf("gate history[%d]: round %d not greater than %d", i, e.Round, prev)
		}
		prev = e.Round
		for _, v := range []Verdict{e.Compliance, e.FactualConsistency, e.RiskStability} {
			if !v.Valid() {
				return fmt.Errorf("gate history[%d]: gate value %q is not PASS or FAIL", i, v)
			}
		}
	}
	return nil
}

// DeliberationState tracks usage for one deliberation run. Counters saturate
// at their caps instead of overflowing, so a double count can never push an
// audit record outside its bounds.
type DeliberationState struct {
	RoundsUsed  int
	CallsUsed   int
	TokensUsed  int
	StartTime   time.Time
	GateHistory []GateEntry
}

// NewDeliberationState starts a run clock at now.
func NewDeliberationState(now time.Time) *DeliberationState {
	return &DeliberationState{StartTime: now}
}

// AddRound increments RoundsUsed, saturating at MaxRounds.
func (s *DeliberationState) AddRound() {
	s.RoundsUsed = saturatingAdd(s.RoundsUsed, 1, MaxRounds)
}

// AddCall increments CallsUsed, saturating at MaxCalls.
func (s *DeliberationState) AddCall() {
	s.CallsUsed = saturatingAdd(s.CallsUsed, 1, MaxCalls)
}

// AddTokens adds n tokens, saturating at MaxTokens. Negative n is ignored.
func (s *DeliberationState) AddTokens(n int) {
	s.TokensUsed = saturatingAdd(s.TokensUsed, n, MaxTokens)
}

// PreviousRound returns the round of the last gate entry, or -1.
func (s *DeliberationState) PreviousRound() int {
	if len(s.GateHistory) == 0 {
		return -1
	}
	return s.GateHistory[len(s.GateHistory)-1].Round
}

// RecordGates appends e to the gate history. Entries that would break the
// history invariants are dropped and reported as false.
func (s *DeliberationState) RecordGates(e GateEntry) bool {
	if len(s.GateHistory) >= MaxGateHistory || e.Round <= s.PreviousRound() {
		return false
	}
	s.GateHistory = append(s.GateHistory, e)
	return true
}

// CanDispatch reports whether another deliberation call fits while one call
// stays reserved for forced synthesis.
func (s *DeliberationState) CanDispatch() bool {
	return s.CallsUsed+1 <= MaxCalls-1
}

// CapReached evaluates the hard caps in their fixed priority order and
// returns the first one that trips.
func (s *DeliberationState) CapReached(now time.Time) (ForcedReason, bool) {
	switch {
	case s.RoundsUsed >= MaxRounds:
		return ForcedRoundCap, true
	case s.CallsUsed >= MaxCalls:
		return ForcedCallCap, true
	case s.TokensUsed+SynthesisReserve >= MaxTokens:
		return ForcedTokenCap, true
	case now.Sub(s.StartTime) >= MaxElapsed:
		return ForcedTimeout, true
	}
	return "", false
}

func saturatingAdd(v, n, limit int) int {
	if n <= 0 {
		return v
	}
	if v >= limit || n >= limit-v {
		return limit
	}
	return v + n
}
