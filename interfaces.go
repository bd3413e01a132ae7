package brain

import (
	"context"
	"net/http"
)

// Completion is the text an AgentCaller produced for one call. Token counts
// are zero when the backend does not report them.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// AgentCaller is one LLM backend bound to an agent. When provided via
// WithAgentCaller it replaces the built-in OpenAI/Anthropic adapter for that
// agent. Errors are classified by the gateway; a context deadline becomes a
// timeout result and cancellation a cancelled result.
type AgentCaller interface {
	Complete(ctx context.Context, system, user string) (Completion, error)
	Name() string
}

// DeliberationHook receives a notification after each deliberation's audit
// record is persisted. Multiple hooks may be registered via multiple
// WithDeliberationHook calls. Hook methods run in goroutines and must not
// block indefinitely; failures are logged and never change the response.
type DeliberationHook interface {
	OnDeliberation(ctx context.Context, record DeliberationRecord) error
}

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /health.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
