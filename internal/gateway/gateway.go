// Package gateway performs single agent calls.
//
// A Gateway turns one Call into a model.AgentResult. Gateways never return Go
// errors: transport and API failures are folded into model.Failure, deadline
// expiry into model.Timeout and cancellation into model.Cancelled, so callers
// branch on the result variant alone.
package gateway

import (
	"context"
	"time"

	"github.com/ashita-ai/brain/internal/model"
)

// PerCallTimeout bounds every agent call, independently of run cancellation.
const PerCallTimeout = 30 * time.Second

// Meta is the coordination metadata attached to a call.
type Meta struct {
	RunID     string
	CallIndex int
	History   []model.Exchange
	Mode      model.CallMode
}

// Call is one request to one agent.
type Call struct {
	Agent   model.AgentID
	Prompt  string
	Context string
	Meta    Meta
}

// Gateway performs one agent call. Implementations must return promptly once
// ctx is done.
type Gateway interface {
	Call(ctx context.Context, call Call) model.AgentResult
}

// Func adapts a function to the Gateway interface.
type Func func(ctx context.Context, call Call) model.AgentResult

// Call implements Gateway.
func (f Func) Call(ctx context.Context, call Call) model.AgentResult { return f(ctx, call) }

// Invoke runs one call under its own timeout. The call is abandoned as soon
// as either the timeout or ctx fires, even if the gateway ignores its
// context; a result that arrives after ctx was cancelled is discarded and
// reported as model.Cancelled, and one that arrives after the deadline as
// model.Timeout.
func Invoke(ctx context.Context, g Gateway, call Call, timeout time.Duration) model.AgentResult {
	if ctx.Err() != nil {
		return model.Cancelled{}
	}
	if timeout <= 0 {
		timeout = PerCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan model.AgentResult, 1)
	go func() { done <- g.Call(callCtx, call) }()

	select {
	case res := <-done:
		if ctx.Err() != nil {
			return model.Cancelled{}
		}
		if callCtx.Err() != nil {
			return model.Timeout{}
		}
		if res == nil {
			return model.Failure{Code: model.FailureUnknown, Message: "gateway returned no result"}
		}
		return res
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return model.Cancelled{}
		}
		return model.Timeout{}
	}
}
