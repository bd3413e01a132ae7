package model

import "time"

// RunStatus represents the lifecycle state of a session's run slot.
type RunStatus string

const (
	RunStatusIdle       RunStatus = "idle"
	RunStatusRunning    RunStatus = "running"
	RunStatusCancelling RunStatus = "cancelling"
	RunStatusCompleted  RunStatus = "completed"
)

// RunID identifies one submitted run. Generated ids are UUIDs; callers may
// supply their own (for example an Idempotency-Key header).
type RunID string

// AgentOutcome pairs an agent with its result inside a run.
type AgentOutcome struct {
	Agent  AgentID
	Result AgentResult
}

// Run is a point-in-time copy of a run's state. The live run is owned by the
// session that executes it; callers only ever see snapshots.
type Run struct {
	ID          RunID
	Prompt      string
	Status      RunStatus
	Order       []AgentID
	Results     []AgentOutcome
	Flags       *GatekeepingFlags
	Warnings    []string
	Budget      BudgetStats
	Cancelled   bool
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Result returns the result recorded for agent, if any.
func (r Run) Result(agent AgentID) (AgentResult, bool) {
	for _, o := range r.Results {
		if o.Agent == agent {
			return o.Result, true
		}
	}
	return nil, false
}

// Final returns the lead agent's text, which is the run's answer.
func (r Run) Final() (string, bool) {
	res, ok := r.Result(Lead)
	if !ok {
		return "", false
	}
	return TextOf(res)
}

// RunView is the JSON projection of a Run.
type RunView struct {
	ID          RunID             `json:"id"`
	Status      RunStatus         `json:"status"`
	Order       []AgentID         `json:"order"`
	Results     []ResultView      `json:"results"`
	Flags       *GatekeepingFlags `json:"gatekeeping,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	Budget      BudgetStats       `json:"budget"`
	Cancelled   bool              `json:"cancelled"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// View projects r for API responses.
func (r Run) View() RunView {
	views := make([]ResultView, 0, len(r.Results))
	for _, o := range r.Results {
		views = append(views, ViewOf(o.Agent, o.Result))
	}
	return RunView{
		ID:          r.ID,
		Status:      r.Status,
		Order:       r.Order,
		Results:     views,
		Flags:       r.Flags,
		Warnings:    r.Warnings,
		Budget:      r.Budget,
		Cancelled:   r.Cancelled,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

// BudgetStats accumulates context-budgeter counters across a run's calls.
type BudgetStats struct {
	Dropped         int `json:"dropped"`
	PromptTruncated int `json:"prompt_truncated"`
}

// Exchange is one labelled transcript entry fed to the context budgeter.
type Exchange struct {
	Label string
	Text  string
}

// GatekeepingFlags are the routing decisions extracted from the gatekeeper's
// output. When Valid is false the flags must be ignored and every agent called.
type GatekeepingFlags struct {
	RouteClaude bool   `json:"route_claude"`
	RouteGemini bool   `json:"route_gemini"`
	Reason      string `json:"reason"`
	Valid       bool   `json:"valid"`
}

// RouteAll is the fail-open flag set used when parsing fails.
func RouteAll() GatekeepingFlags {
	return GatekeepingFlags{RouteClaude: true, RouteGemini: true, Valid: false}
}

// Routes reports whether agent should be called. The lead is always called,
// and invalid flags route to everyone.
func (f GatekeepingFlags) Routes(agent AgentID) bool {
	if !f.Valid || agent.IsLead() {
		return true
	}
	switch agent {
	case AgentClaude:
		return f.RouteClaude
	case AgentGemini:
		return f.RouteGemini
	}
	return true
}
