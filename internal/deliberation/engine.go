// Package deliberation runs the bounded ghost-council protocol: a lead
// framing round, then up to two rounds of advisor review and lead synthesis,
// each closed by a gate declaration. Hard caps on rounds, calls, tokens and
// wall time end the run with exactly one forced synthesis call.
package deliberation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/brain/internal/budget"
	"github.com/ashita-ai/brain/internal/gateway"
	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/telemetry"
)

// EngineVersion identifies this protocol implementation in audit records.
const EngineVersion = "ghost-engine-v1"

// Config controls an Engine.
type Config struct {
	Budget budget.Budgeter
	// CallTimeout overrides gateway.PerCallTimeout; zero keeps the default.
	CallTimeout time.Duration
	// Now is the engine clock. Nil means time.Now.
	Now func() time.Time
}

// Outcome is the result of one deliberation run.
type Outcome struct {
	Status       model.FinalStatus
	ForcedReason model.ForcedReason
	AbortReason  model.AbortReason
	// Content is the user-facing answer with declaration lines removed.
	// Empty when the run aborted.
	Content    string
	State      model.DeliberationState
	Transcript []model.Exchange
	Warnings   []string
	// Err describes why the run aborted.
	Err error
}

// Engine runs deliberations over a gateway.
type Engine struct {
	gw       gateway.Gateway
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	outcomes metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates an Engine.
func New(gw gateway.Gateway, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Budget.MaxChars() <= 0 {
		cfg.Budget = budget.New(0, 0)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = gateway.PerCallTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	meter := telemetry.Meter("brain/deliberation")
	outcomes, _ := meter.Int64Counter("brain.deliberation.outcomes",
		metric.WithDescription("Deliberation runs by final status and reason"),
	)
	duration, _ := meter.Float64Histogram("brain.deliberation.duration",
		metric.WithDescription("Wall time of a deliberation run"),
		metric.WithUnit("ms"),
	)
	return &Engine{
		gw:       gw,
		cfg:      cfg,
		logger:   logger,
		tracer:   telemetry.Tracer("brain/deliberation"),
		outcomes: outcomes,
		duration: duration,
	}
}

// Run deliberates on prompt. It never returns a Go error: failures surface as
// an ABORTED outcome with Err set. Cancelling ctx aborts with internal_error.
func (e *Engine) Run(ctx context.Context, runID, prompt string) Outcome {
	ctx, span := e.tracer.Start(ctx, "deliberation.run", trace.WithAttributes(
		attribute.String("brain.run_id", runID),
	))
	defer span.End()

	start := e.cfg.Now()
	r := &run{
		engine: e,
		id:     runID,
		prompt: prompt,
		state:  model.NewDeliberationState(start),
		logger: e.logger.With("run_id", runID),
	}
	out := r.deliberate(ctx)

	reason := string(out.ForcedReason) + string(out.AbortReason)
	attrs := metric.WithAttributes(
		attribute.String("status", string(out.Status)),
		attribute.String("reason", reason),
	)
	e.outcomes.Add(ctx, 1, attrs)
	e.duration.Record(ctx, float64(e.cfg.Now().Sub(start).Milliseconds()), attrs)

	span.SetAttributes(
		attribute.String("brain.final_status", string(out.Status)),
		attribute.Int("brain.rounds_used", out.State.RoundsUsed),
		attribute.Int("brain.calls_used", out.State.CallsUsed),
		attribute.Int("brain.tokens_used", out.State.TokensUsed),
	)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, string(out.AbortReason))
	}

	r.logger.Info("deliberation finished",
		"status", out.Status,
		"reason", reason,
		"rounds", out.State.RoundsUsed,
		"calls", out.State.CallsUsed,
		"tokens", out.State.TokensUsed,
	)
	return out
}

// run holds the mutable state of one deliberation. It is confined to the
// goroutine calling Engine.Run.
type run struct {
	engine     *Engine
	id         string
	prompt     string
	state      *model.DeliberationState
	transcript []model.Exchange
	warnings   []string
	index      int
	logger     *slog.Logger
}

func (r *run) deliberate(ctx context.Context) Outcome {
	for round := 0; ; round++ {
		if reason, hit := r.state.CapReached(r.engine.cfg.Now()); hit {
			return r.force(ctx, reason)
		}

		if round > 0 {
			for _, adv := range model.Advisors() {
				if err := ctx.Err(); err != nil {
					return r.abort(model.AbortInternalError, err)
				}
				if !r.state.CanDispatch() {
					return r.force(ctx, model.ForcedCallCap)
				}
				res := r.call(ctx, adv, advisoryPrompt(round, r.prompt), model.CallMode{Deliberation: true})
				if text, ok := model.TextOf(res); ok {
					r.transcript = append(r.transcript, model.Exchange{Label: adv.Label(), Text: text})
				}
				if res.Status() != model.ResultSuccess {
					r.warn("%s returned %s in round %d", adv, res.Status(), round)
				}
			}
		}

		if err := ctx.Err(); err != nil {
			return r.abort(model.AbortInternalError, err)
		}
		if !r.state.CanDispatch() {
			return r.force(ctx, model.ForcedCallCap)
		}
		prompt := framingPrompt(r.prompt)
		if round > 0 {
			prompt = synthesisPrompt(round, r.prompt)
		}
		res := r.call(ctx, model.Lead, prompt, model.CallMode{Deliberation: true})
		if err := ctx.Err(); err != nil {
			return r.abort(model.AbortInternalError, err)
		}
		succ, ok := res.(model.Success)
		if !ok {
			return r.abort(model.AbortGPTFailure, leadError(round, res))
		}

		decl, err := ParseDeclaration(succ.Content, r.state.PreviousRound())
		if err != nil {
			r.warn("round %d: %v", round, err)
		}
		r.state.RecordGates(decl.Entry(round))
		if round > 0 {
			r.state.AddRound()
		}
		answer := answerText(succ.Content)
		r.transcript = append(r.transcript, model.Exchange{Label: model.Lead.Label(), Text: answer})

		if round > 0 && decl.Converged() {
			return r.outcome(model.FinalConverged, answer)
		}
	}
}

// force makes the single synthesis call allowed once a cap has tripped.
func (r *run) force(ctx context.Context, reason model.ForcedReason) Outcome {
	if err := ctx.Err(); err != nil {
		return r.abort(model.AbortInternalError, err)
	}
	r.logger.Info("deliberation cap reached, forcing synthesis", "reason", reason)

	res := r.call(ctx, model.Lead, forcedPrompt(reason, r.prompt), model.CallMode{Deliberation: true, Forced: true})
	if err := ctx.Err(); err != nil {
		return r.abort(model.AbortInternalError, err)
	}
	succ, ok := res.(model.Success)
	if !ok {
		return r.abort(model.AbortGPTFailure, fmt.Errorf("forced synthesis: lead returned %s", describe(res)))
	}
	answer := answerText(succ.Content)
	r.transcript = append(r.transcript, model.Exchange{Label: model.Lead.Label(), Text: answer})

	out := r.outcome(model.FinalForced, answer)
	out.ForcedReason = reason
	return out
}

func (r *run) call(ctx context.Context, agent model.AgentID, prompt string, mode model.CallMode) model.AgentResult {
	bc := r.engine.cfg.Budget.Build(prompt, r.transcript)
	c := gateway.Call{
		Agent:   agent,
		Prompt:  bc.Prompt,
		Context: bc.Transcript,
		Meta: gateway.Meta{
			RunID:     r.id,
			CallIndex: r.index,
			History:   append([]model.Exchange(nil), r.transcript...),
			Mode:      mode,
		},
	}
	r.index++

	res := gateway.Invoke(ctx, r.engine.gw, c, r.engine.cfg.CallTimeout)
	r.state.AddCall()
	r.state.AddTokens(tokenCost(bc, res))
	r.logger.Debug("deliberation call",
		"agent", agent,
		"call_index", c.Meta.CallIndex,
		"status", res.Status(),
		"tokens_used", r.state.TokensUsed,
	)
	return res
}

func (r *run) abort(reason model.AbortReason, err error) Outcome {
	r.logger.Warn("deliberation aborted", "reason", reason, "error", err)
	out := r.outcome(model.FinalAborted, "")
	out.AbortReason = reason
	out.Err = err
	return out
}

func (r *run) outcome(status model.FinalStatus, content string) Outcome {
	state := *r.state
	state.GateHistory = append([]model.GateEntry(nil), r.state.GateHistory...)
	return Outcome{
		Status:     status,
		Content:    content,
		State:      state,
		Transcript: append([]model.Exchange(nil), r.transcript...),
		Warnings:   append([]string(nil), r.warnings...),
	}
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.warnings = append(r.warnings, msg)
	r.logger.Warn("deliberation warning", "detail", msg)
}

// tokenCost prefers provider-reported usage and otherwise estimates four
// characters per token over everything sent and received.
func tokenCost(bc budget.Context, res model.AgentResult) int {
	if s, ok := res.(model.Success); ok && s.Usage != nil && s.Usage.Total() > 0 {
		return s.Usage.Total()
	}
	text, _ := model.TextOf(res)
	return (len(bc.Prompt) + len(bc.Transcript) + len(text)) / 4
}

func answerText(content string) string {
	if stripped := StripDeclaration(content); stripped != "" {
		return stripped
	}
	return content
}

func leadError(round int, res model.AgentResult) error {
	return fmt.Errorf("round %d: lead returned %s", round, describe(res))
}

func describe(res model.AgentResult) string {
	if f, ok := res.(model.Failure); ok {
		return fmt.Sprintf("%s (%s: %s)", f.Status(), f.Code, f.Message)
	}
	return string(res.Status())
}
