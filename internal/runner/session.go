// Package runner drives the ordered agent sequence for one user request.
//
// A Session owns at most one active run. Submit claims the slot and the run
// id synchronously, then hands the run to a dedicated goroutine that calls
// each agent in turn. Cancellation is a context threaded through every call
// and checked before each dispatch and after each result.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/brain/internal/budget"
	"github.com/ashita-ai/brain/internal/gatekeeping"
	"github.com/ashita-ai/brain/internal/gateway"
	"github.com/ashita-ai/brain/internal/model"
)

var (
	// ErrRunActive is returned when a run is submitted while another is active.
	ErrRunActive = errors.New("runner: a run is already active in this session")
	// ErrAlreadyDispatched is returned when a run id is submitted a second time.
	ErrAlreadyDispatched = errors.New("runner: run id already dispatched")
	// ErrRunNotFound is returned by Get and Wait for unknown run ids.
	ErrRunNotFound = errors.New("runner: run not found")
	// ErrEmptyPrompt is returned when the prompt is blank.
	ErrEmptyPrompt = errors.New("runner: prompt is empty")
)

const (
	defaultHistoryLimit = 20
	completedRunsKept   = 32
	dispatchedIDsKept   = 4096
	// registryIDsKept bounds the dispatched-id set shared by a Registry.
	registryIDsKept = 64 * dispatchedIDsKept
)

// Config controls how a session runs.
type Config struct {
	// Gatekeeper is the agent whose first answer carries routing flags.
	// Empty disables gatekeeping.
	Gatekeeper model.AgentID
	Budget     budget.Budgeter
	// CallTimeout overrides gateway.PerCallTimeout; zero keeps the default.
	CallTimeout time.Duration
	// HistoryLimit bounds the completed exchanges kept for later runs.
	HistoryLimit int
}

// Order returns the speaking order. The lead always speaks last unless it is
// also the gatekeeper, in which case it opens the run.
func Order(gatekeeper model.AgentID) []model.AgentID {
	if gatekeeper == model.Lead {
		return append([]model.AgentID{model.Lead}, model.Advisors()...)
	}
	return model.AllAgents()
}

// Session is one conversation's run slot.
type Session struct {
	id     string
	gw     gateway.Gateway
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	active     *activeRun
	last       *model.Run
	completed  map[model.RunID]model.Run
	doneOrder  []model.RunID
	dispatched *idSet
	history    []model.Exchange
	lastUsed   time.Time
}

type activeRun struct {
	run    model.Run
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates an idle session.
func NewSession(id string, gw gateway.Gateway, cfg Config, logger *slog.Logger) *Session {
	return newSession(id, gw, cfg, logger, newIDSet(dispatchedIDsKept))
}

func newSession(id string, gw gateway.Gateway, cfg Config, logger *slog.Logger, dispatched *idSet) *Session {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = gateway.PerCallTimeout
	}
	if cfg.Budget.MaxChars() <= 0 {
		cfg.Budget = budget.New(0, 0)
	}
	return &Session{
		id:         id,
		gw:         gw,
		cfg:        cfg,
		logger:     logger.With("session_id", id),
		completed:  make(map[model.RunID]model.Run),
		dispatched: dispatched,
		lastUsed:   time.Now(),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Submit starts a run with a generated id.
func (s *Session) Submit(ctx context.Context, prompt string) (model.RunID, error) {
	return s.SubmitWithID(ctx, model.RunID(uuid.NewString()), prompt)
}

// SubmitWithID starts a run under a caller-chosen id. The id and the run slot
// are claimed under the session lock before any goroutine starts, so a
// duplicated trigger can never dispatch the same run twice. The run outlives
// ctx's cancellation; use Cancel to stop it.
func (s *Session) SubmitWithID(ctx context.Context, id model.RunID, prompt string) (model.RunID, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	key := s.id + "/" + string(id)
	s.mu.Lock()
	if s.dispatched.has(key) {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAlreadyDispatched, id)
	}
	if s.active != nil {
		s.mu.Unlock()
		return "", ErrRunActive
	}
	s.dispatched.add(key)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ar := &activeRun{
		run: model.Run{
			ID:        id,
			Prompt:    prompt,
			Status:    model.RunStatusRunning,
			Order:     Order(s.cfg.Gatekeeper),
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.active = ar
	s.lastUsed = time.Now()
	history := append([]model.Exchange(nil), s.history...)
	s.mu.Unlock()

	s.logger.Info("run submitted", "run_id", id, "order", ar.run.Order)
	go s.execute(runCtx, ar, history)
	return id, nil
}

// Cancel requests cooperative cancellation of the active run. It reports
// whether a run was active.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return false
	}
	if s.active.run.Status == model.RunStatusRunning {
		s.active.run.Status = model.RunStatusCancelling
		s.logger.Info("run cancelling", "run_id", s.active.run.ID)
	}
	s.active.cancel()
	return true
}

// Status returns the session's run-slot state.
func (s *Session) Status() model.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.active != nil:
		return s.active.run.Status
	case s.last != nil:
		return model.RunStatusCompleted
	}
	return model.RunStatusIdle
}

// Active reports whether a run is in progress.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Get returns a snapshot of the active or a recently completed run.
func (s *Session) Get(id model.RunID) (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.run.ID == id {
		return snapshot(s.active.run), nil
	}
	if r, ok := s.completed[id]; ok {
		return snapshot(r), nil
	}
	return model.Run{}, ErrRunNotFound
}

// Wait blocks until run id completes or ctx is done.
func (s *Session) Wait(ctx context.Context, id model.RunID) (model.Run, error) {
	s.mu.Lock()
	var done chan struct{}
	if s.active != nil && s.active.run.ID == id {
		done = s.active.done
	}
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return model.Run{}, ctx.Err()
		}
	}
	return s.Get(id)
}

// DismissWarnings clears the warnings of a completed run.
func (s *Session) DismissWarnings(id model.RunID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.completed[id]
	if !ok {
		return ErrRunNotFound
	}
	r.Warnings = nil
	s.completed[id] = r
	return nil
}

// History returns the exchanges folded in from completed runs, oldest first.
func (s *Session) History() []model.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Exchange(nil), s.history...)
}

func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed, s.active == nil
}

// execute runs on its own goroutine and is the only writer of ar.run's
// results while the run is active.
func (s *Session) execute(ctx context.Context, ar *activeRun, history []model.Exchange) {
	defer ar.cancel()

	prompt := ar.run.Prompt
	order := ar.run.Order
	gatekept := s.cfg.Gatekeeper != "" && order[0] == s.cfg.Gatekeeper
	flags := model.RouteAll()
	exchanges := history

	for i, agent := range order {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && gatekept && !flags.Routes(agent) {
			s.record(ar, agent, model.Skipped{Reason: "gatekeeper: " + flags.Reason})
			continue
		}

		bc := s.cfg.Budget.Build(prompt, exchanges)
		gatekeeper := i == 0 && gatekept
		call := gateway.Call{
			Agent:   agent,
			Prompt:  bc.Prompt,
			Context: bc.Transcript,
			Meta: gateway.Meta{
				RunID:     string(ar.run.ID),
				CallIndex: i,
				History:   exchanges,
				Mode:      model.CallMode{Gatekeeping: gatekeeper},
			},
		}
		if gatekeeper {
			call.Prompt += gatekeeping.Instructions
		}
		s.addBudget(ar, bc)

		res := gateway.Invoke(ctx, s.gw, call, s.cfg.CallTimeout)
		if ctx.Err() != nil {
			s.record(ar, agent, model.Cancelled{})
			break
		}

		if gatekeeper {
			res, flags = s.gatekeep(ar, agent, res)
		}
		s.record(ar, agent, res)
		if text, ok := model.TextOf(res); ok {
			exchanges = append(exchanges, model.Exchange{Label: agent.Label(), Text: text})
		}
	}

	s.finish(ar, ctx.Err() != nil)
}

// gatekeep parses routing flags out of the gatekeeper's result. Any failure
// routes to everyone and leaves a warning on the run.
func (s *Session) gatekeep(ar *activeRun, agent model.AgentID, res model.AgentResult) (model.AgentResult, model.GatekeepingFlags) {
	flags := model.RouteAll()
	var warn error
	if succ, ok := res.(model.Success); ok {
		flags, warn = gatekeeping.Parse(succ.Content)
		succ.Content = gatekeeping.Strip(succ.Content)
		if succ.Content == "" {
			succ.Content = "(routing only)"
		}
		res = succ
	} else {
		warn = fmt.Errorf("gatekeeping: %s returned %s, routing to all agents", agent, res.Status())
	}

	s.mu.Lock()
	ar.run.Flags = &flags
	if warn != nil {
		ar.run.Warnings = append(ar.run.Warnings, warn.Error())
	}
	s.mu.Unlock()

	if warn != nil {
		s.logger.Warn("gatekeeping flags invalid, calling every agent", "run_id", ar.run.ID, "error", warn)
	}
	return res, flags
}

func (s *Session) record(ar *activeRun, agent model.AgentID, res model.AgentResult) {
	s.mu.Lock()
	ar.run.Results = append(ar.run.Results, model.AgentOutcome{Agent: agent, Result: res})
	s.mu.Unlock()
	s.logger.Debug("agent result", "run_id", ar.run.ID, "agent", agent, "status", res.Status())
}

func (s *Session) addBudget(ar *activeRun, bc budget.Context) {
	s.mu.Lock()
	ar.run.Budget.Dropped += bc.Dropped
	ar.run.Budget.PromptTruncated += bc.PromptTruncated
	s.mu.Unlock()
}

func (s *Session) finish(ar *activeRun, cancelled bool) {
	now := time.Now().UTC()

	s.mu.Lock()
	ar.run.Status = model.RunStatusCompleted
	ar.run.Cancelled = cancelled
	ar.run.CompletedAt = &now
	final := snapshot(ar.run)

	s.completed[final.ID] = final
	s.doneOrder = append(s.doneOrder, final.ID)
	if len(s.doneOrder) > completedRunsKept {
		delete(s.completed, s.doneOrder[0])
		s.doneOrder = s.doneOrder[1:]
	}
	s.last = &final
	if answer, ok := final.Final(); ok && !cancelled {
		s.history = append(s.history,
			model.Exchange{Label: "user:", Text: final.Prompt},
			model.Exchange{Label: model.Lead.Label(), Text: answer},
		)
		if over := len(s.history) - s.cfg.HistoryLimit; over > 0 {
			s.history = s.history[over:]
		}
	}
	s.active = nil
	s.lastUsed = time.Now()
	s.mu.Unlock()

	close(ar.done)
	s.logger.Info("run completed", "run_id", final.ID, "cancelled", cancelled, "results", len(final.Results))
}

func snapshot(r model.Run) model.Run {
	r.Order = append([]model.AgentID(nil), r.Order...)
	r.Results = append([]model.AgentOutcome(nil), r.Results...)
	r.Warnings = append([]string(nil), r.Warnings...)
	if r.Flags != nil {
		f := *r.Flags
		r.Flags = &f
	}
	return r
}
