// Package ghost runs deliberation ("ghost") mode end to end: admission guard,
// deliberation engine, audit recorder, then the response envelope.
//
// Both the HTTP API and the MCP server delegate to this service so every
// surface applies the same guard and audit rules.
package ghost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/brain/internal/deliberation"
	"github.com/ashita-ai/brain/internal/guard"
	"github.com/ashita-ai/brain/internal/integrity"
	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/telemetry"
)

// ErrEmptyPrompt is returned for a blank prompt; nothing is attempted.
var ErrEmptyPrompt = errors.New("ghost: userPrompt is required")

// Admitter decides whether a run may start.
type Admitter interface {
	Admit(ctx context.Context) error
}

// Deliberator runs one deliberation.
type Deliberator interface {
	Run(ctx context.Context, runID, prompt string) deliberation.Outcome
}

// Recorder persists an audit record and returns its stored form.
type Recorder interface {
	Record(ctx context.Context, rec model.AuditRecord) (model.AuditRecord, error)
}

// Hook is notified after a deliberation's audit record is persisted. Hooks
// run in their own goroutines; errors are logged and never affect the
// response.
type Hook interface {
	OnDeliberation(ctx context.Context, rec model.AuditRecord) error
}

// Result is the outcome of Deliberate.
type Result struct {
	Response model.DeliberateResponse
	// Record is the persisted audit record, nil when the guard rejected the
	// run or the audit write failed.
	Record  *model.AuditRecord
	Outcome *deliberation.Outcome
}

// Service is the deliberation pipeline.
type Service struct {
	guard    Admitter
	engine   Deliberator
	recorder Recorder
	hooks    []Hook
	logger   *slog.Logger
	tracer   trace.Tracer
	hooksWG  sync.WaitGroup
}

// New creates a Service.
func New(g Admitter, engine Deliberator, recorder Recorder, hooks []Hook, logger *slog.Logger) *Service {
	return &Service{
		guard:    g,
		engine:   engine,
		recorder: recorder,
		hooks:    hooks,
		logger:   logger,
		tracer:   telemetry.Tracer("brain/ghost"),
	}
}

// Deliberate runs the full pipeline for prompt. Apart from ErrEmptyPrompt,
// every outcome is reported through Result.Response.
func (s *Service) Deliberate(ctx context.Context, prompt string) (Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, ErrEmptyPrompt
	}

	ctx, span := s.tracer.Start(ctx, "ghost.deliberate")
	defer span.End()

	if err := s.guard.Admit(ctx); err != nil {
		code, msg := model.CodeInternal, "admission check failed"
		if rej, ok := guard.AsRejection(err); ok {
			code, msg = rej.Code, rej.Reason
		}
		span.SetAttributes(attribute.String("brain.error_code", string(code)))
		return Result{Response: errorEnvelope(code, "deliberation not started: "+msg)}, nil
	}

	runID := uuid.New()
	span.SetAttributes(attribute.String("brain.run_id", runID.String()))
	out := s.engine.Run(ctx, runID.String(), prompt)

	// A caller that went away still gets its run recorded.
	rec, err := s.recorder.Record(context.WithoutCancel(ctx), recordOf(runID, out))
	if err != nil {
		s.logger.Error("deliberation result withheld, audit write failed", "run_id", runID, "final_status", out.Status, "error", err)
		return Result{Response: errorEnvelope(model.CodeAuditFailed, "deliberation could not be recorded"), Outcome: &out}, nil
	}
	s.notify(ctx, rec)

	return Result{Response: envelope(out), Record: &rec, Outcome: &out}, nil
}

// Wait blocks until running hooks return.
func (s *Service) Wait() { s.hooksWG.Wait() }

func (s *Service) notify(ctx context.Context, rec model.AuditRecord) {
	hctx := context.WithoutCancel(ctx)
	for _, h := range s.hooks {
		s.hooksWG.Add(1)
		go func(h Hook) {
			defer s.hooksWG.Done()
			if err := h.OnDeliberation(hctx, rec); err != nil {
				s.logger.Warn("deliberation hook failed", "audit_id", rec.ID, "error", err)
			}
		}(h)
	}
}

func recordOf(runID uuid.UUID, out deliberation.Outcome) model.AuditRecord {
	rec := model.AuditRecord{
		RunID:         runID,
		EngineVersion: deliberation.EngineVersion,
		PromptVersion: deliberation.PromptVersion,
		RoundsUsed:    out.State.RoundsUsed,
		CallsUsed:     out.State.CallsUsed,
		TokensUsed:    out.State.TokensUsed,
		FinalStatus:   out.Status,
		GateHistory:   out.State.GateHistory,
	}
	if out.Content != "" {
		rec.OutputDigest = integrity.DigestOutput(out.Content)
	}
	switch out.Status {
	case model.FinalForced:
		r := out.ForcedReason
		rec.ForcedReason = &r
	case model.FinalAborted:
		r := out.AbortReason
		rec.AbortReason = &r
	}
	return rec
}

func envelope(out deliberation.Outcome) model.DeliberateResponse {
	switch out.Status {
	case model.FinalConverged:
		return model.DeliberateResponse{Status: model.EnvelopeSuccess, Content: out.Content}
	case model.FinalForced:
		return model.DeliberateResponse{
			Status:    model.EnvelopeSuccess,
			Content:   out.Content,
			ErrorCode: out.ForcedReason.Code(),
		}
	}
	return errorEnvelope(out.AbortReason.Code(), abortMessage(out.AbortReason))
}

func errorEnvelope(code model.ErrorCode, msg string) model.DeliberateResponse {
	return model.DeliberateResponse{Status: model.EnvelopeError, Error: msg, ErrorCode: code}
}

func abortMessage(r model.AbortReason) string {
	switch r {
	case model.AbortGPTFailure:
		return "deliberation aborted: the lead agent failed"
	case model.AbortAuditFailure:
		return "deliberation aborted: audit failure"
	}
	return fmt.Sprintf("deliberation aborted: %s", r)
}
