package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/telemetry"
)

// Completion is the text a provider produced for one call.
type Completion struct {
	Text  string
	Usage *model.Usage
}

// Provider is a single LLM backend.
type Provider interface {
	Complete(ctx context.Context, system, user string) (Completion, error)
	Name() string
}

// Router dispatches calls to the provider bound to each agent.
type Router struct {
	providers map[model.AgentID]Provider
	logger    *slog.Logger
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	calls     metric.Int64Counter
}

// NewRouter creates a Router over the given agent bindings.
func NewRouter(providers map[model.AgentID]Provider, logger *slog.Logger) *Router {
	meter := telemetry.Meter("brain/gateway")
	duration, _ := meter.Float64Histogram("brain.gateway.call.duration",
		metric.WithDescription("Duration of a single agent call"),
		metric.WithUnit("ms"),
	)
	calls, _ := meter.Int64Counter("brain.gateway.calls",
		metric.WithDescription("Agent calls by agent and result status"),
	)
	return &Router{
		providers: providers,
		logger:    logger,
		tracer:    telemetry.Tracer("brain/gateway"),
		duration:  duration,
		calls:     calls,
	}
}

// Call implements Gateway.
func (r *Router) Call(ctx context.Context, call Call) model.AgentResult {
	p, ok := r.providers[call.Agent]
	if !ok {
		return model.Failure{Code: model.FailureUnknown, Message: fmt.Sprintf("no provider configured for agent %q", call.Agent)}
	}

	ctx, span := r.tracer.Start(ctx, "gateway.call", trace.WithAttributes(
		attribute.String("brain.agent", string(call.Agent)),
		attribute.String("brain.provider", p.Name()),
		attribute.String("brain.run_id", call.Meta.RunID),
		attribute.Int("brain.call_index", call.Meta.CallIndex),
	))
	defer span.End()

	start := time.Now()
	system, user := Render(call)
	comp, err := p.Complete(ctx, system, user)
	res := toResult(ctx, comp, err)

	attrs := metric.WithAttributes(
		attribute.String("agent", string(call.Agent)),
		attribute.String("status", string(res.Status())),
	)
	r.duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	r.calls.Add(ctx, 1, attrs)
	span.SetAttributes(attribute.String("brain.result", string(res.Status())))

	if f, isFailure := res.(model.Failure); isFailure {
		span.RecordError(err)
		span.SetStatus(codes.Error, f.Message)
		r.logger.Warn("gateway: agent call failed",
			"agent", call.Agent, "provider", p.Name(), "run_id", call.Meta.RunID,
			"code", f.Code, "error", f.Message)
	}
	return res
}

func toResult(ctx context.Context, comp Completion, err error) model.AgentResult {
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return model.Cancelled{}
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			return model.Timeout{}
		}
		return Classify(err)
	}
	if strings.TrimSpace(comp.Text) == "" {
		return model.Failure{Code: model.FailureAPI, Message: "provider returned an empty response"}
	}
	return model.Success{Content: comp.Text, Usage: comp.Usage}
}

// Classify maps a provider error onto the per-agent failure taxonomy.
func Classify(err error) model.Failure {
	if status, ok := statusCode(err); ok {
		code := model.FailureAPI
		if status == 429 {
			code = model.FailureRateLimit
		}
		return model.Failure{Code: code, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.Failure{Code: model.FailureNetwork, Message: err.Error()}
	}
	return model.Failure{Code: model.FailureUnknown, Message: err.Error()}
}

func statusCode(err error) (int, bool) {
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode, true
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode, true
	}
	var se interface{ HTTPStatus() int }
	if errors.As(err, &se) {
		return se.HTTPStatus(), true
	}
	return 0, false
}
