// Package model defines the core domain types for Brain.
//
// Types here are shared by the run controller, the deliberation engine, the
// admission guard and the audit store. They carry no behaviour beyond
// validation and small invariant-preserving helpers.
package model

import (
	"fmt"
	"strings"
)

// AgentID identifies one of the three collaborating agents.
type AgentID string

const (
	AgentGPT    AgentID = "gpt"
	AgentClaude AgentID = "claude"
	AgentGemini AgentID = "gemini"
)

// Lead is the agent that speaks last and issues the authoritative output.
const Lead = AgentGPT

// Advisors returns the two advisory agents in their natural speaking order.
func Advisors() []AgentID {
	return []AgentID{AgentClaude, AgentGemini}
}

// AllAgents returns every agent, advisors first, lead last.
func AllAgents() []AgentID {
	return append(Advisors(), Lead)
}

// IsLead reports whether a is the lead agent.
func (a AgentID) IsLead() bool { return a == Lead }

// Valid reports whether a names a known agent.
func (a AgentID) Valid() bool {
	switch a {
	case AgentGPT, AgentClaude, AgentGemini:
		return true
	}
	return false
}

// Label is the transcript prefix used when this agent's output is replayed
// as context to later calls.
func (a AgentID) Label() string { return string(a) + ":" }

// ParseAgentID parses a case-insensitive agent name. The empty string is
// accepted and returns "" so optional settings (such as the gatekeeper) can
// be left unset.
func ParseAgentID(s string) (AgentID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	a := AgentID(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown agent %q (want gpt, claude or gemini)", s)
	}
	return a, nil
}

// CallMode carries the mode flags passed to every gateway call.
type CallMode struct {
	Deliberation bool `json:"deliberation"`
	Gatekeeping  bool `json:"gatekeeping"`
	Forced       bool `json:"forced,omitempty"`
}
