package deliberation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashita-ai/brain/internal/model"
)

const (
	keyRound      = "round:"
	keyCompliance = "compliance:"
	keyFactual    = "factual_consistency:"
	keyRisk       = "risk_stability:"
	keyStatus     = "status:"
)

// Declaration is the parsed gate block from a lead synthesis.
type Declaration struct {
	Round              int
	Compliance         model.Verdict
	FactualConsistency model.Verdict
	RiskStability      model.Verdict
	Status             model.DeclaredStatus
	Valid              bool
}

// Entry converts d into a gate-history entry for the given engine round.
func (d Declaration) Entry(round int) model.GateEntry {
	return model.GateEntry{
		Round:              round,
		Compliance:         d.Compliance,
		FactualConsistency: d.FactualConsistency,
		RiskStability:      d.RiskStability,
	}
}

// Converged reports whether d is a usable convergence signal.
func (d Declaration) Converged() bool {
	return d.Valid && d.Status == model.StatusConverged
}

func invalidDeclaration() Declaration {
	return Declaration{
		Round:              -1,
		Compliance:         model.Fail,
		FactualConsistency: model.Fail,
		RiskStability:      model.Fail,
		Status:             model.StatusContinue,
	}
}

// ParseDeclaration reads the gate block from a lead response. prevRound is
// the round of the previous declaration, or -1 for the first.
//
// A missing or unparseable ROUND or STATUS, a round outside 0..2, or a round
// not greater than prevRound invalidates the whole declaration: the result
// is CONTINUE with every gate FAIL, and the returned error says why. Within
// a valid declaration a missing gate counts as FAIL, and CONVERGED with any
// failing gate is downgraded to CONTINUE. Only hard caps force termination,
// so a declared FORCED is also read as CONTINUE.
func ParseDeclaration(response string, prevRound int) (Declaration, error) {
	var roundRaw, statusRaw string
	var sawRound, sawStatus bool
	d := invalidDeclaration()

	for _, line := range strings.Split(response, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(lower, keyRound):
			roundRaw, sawRound = value(lower, keyRound), true
		case strings.HasPrefix(lower, keyStatus):
			statusRaw, sawStatus = value(lower, keyStatus), true
		case strings.HasPrefix(lower, keyCompliance):
			d.Compliance = verdict(value(lower, keyCompliance))
		case strings.HasPrefix(lower, keyFactual):
			d.FactualConsistency = verdict(value(lower, keyFactual))
		case strings.HasPrefix(lower, keyRisk):
			d.RiskStability = verdict(value(lower, keyRisk))
		}
	}

	if !sawRound {
		return invalidDeclaration(), errors.New("declaration: ROUND missing")
	}
	round, err := strconv.Atoi(roundRaw)
	if err != nil {
		return invalidDeclaration(), fmt.Errorf("declaration: ROUND %q is not an integer", roundRaw)
	}
	if round < 0 || round > model.MaxRounds {
		return invalidDeclaration(), fmt.Errorf("declaration: ROUND %d outside 0..%d", round, model.MaxRounds)
	}
	if round <= prevRound {
		return invalidDeclaration(), fmt.Errorf("declaration: ROUND %d not greater than previous round %d", round, prevRound)
	}
	if !sawStatus {
		return invalidDeclaration(), errors.New("declaration: STATUS missing")
	}

	switch model.DeclaredStatus(strings.ToUpper(statusRaw)) {
	case model.StatusContinue, model.StatusForced:
		d.Status = model.StatusContinue
	case model.StatusConverged:
		d.Status = model.StatusConverged
	default:
		return invalidDeclaration(), fmt.Errorf("declaration: STATUS %q not recognized", statusRaw)
	}

	d.Round = round
	d.Valid = true
	if d.Status == model.StatusConverged && !d.Entry(round).AllPass() {
		d.Status = model.StatusContinue
	}
	return d, nil
}

// StripDeclaration removes gate-block lines so the remaining text can be
// returned to the user.
func StripDeclaration(response string) string {
	lines := strings.Split(response, "\n")
	kept := lines[:0]
	for _, line := range lines {
		lower := strings.ToLower(strings.TrimSpace(line))
		if isDeclarationLine(lower) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isDeclarationLine(lower string) bool {
	for _, k := range []string{keyRound, keyCompliance, keyFactual, keyRisk, keyStatus} {
		if strings.HasPrefix(lower, k) {
			return true
		}
	}
	return false
}

func value(lower, key string) string {
	return strings.Trim(strings.TrimSpace(lower[len(key):]), "[]*. ")
}

func verdict(s string) model.Verdict {
	if strings.ToUpper(s) == string(model.Pass) {
		return model.Pass
	}
	return model.Fail
}
