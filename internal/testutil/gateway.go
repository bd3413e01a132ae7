package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashita-ai/brain/internal/gateway"
	"github.com/ashita-ai/brain/internal/model"
)

// ScriptedGateway is a gateway.Gateway that replays queued results per agent
// and records every call it receives. Agents with an empty queue answer with
// a fixed success.
type ScriptedGateway struct {
	mu      sync.Mutex
	queues  map[model.AgentID][]func(context.Context, gateway.Call) model.AgentResult
	calls   []gateway.Call
	started chan model.AgentID
}

// NewScriptedGateway returns an empty script.
func NewScriptedGateway() *ScriptedGateway {
	return &ScriptedGateway{
		queues:  make(map[model.AgentID][]func(context.Context, gateway.Call) model.AgentResult),
		started: make(chan model.AgentID, 64),
	}
}

// Reply queues fixed results for agent.
func (g *ScriptedGateway) Reply(agent model.AgentID, results ...model.AgentResult) *ScriptedGateway {
	for _, r := range results {
		r := r
		g.ReplyFunc(agent, func(context.Context, gateway.Call) model.AgentResult { return r })
	}
	return g
}

// ReplyFunc queues a computed result for agent.
func (g *ScriptedGateway) ReplyFunc(agent model.AgentID, fn func(context.Context, gateway.Call) model.AgentResult) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queues[agent] = append(g.queues[agent], fn)
	return g
}

// Block queues a reply that waits for ctx to end, then reports cancellation.
func (g *ScriptedGateway) Block(agent model.AgentID) *ScriptedGateway {
	return g.ReplyFunc(agent, func(ctx context.Context, _ gateway.Call) model.AgentResult {
		<-ctx.Done()
		return model.Success{Content: "late reply from " + string(agent)}
	})
}

// Started delivers the agent of each call as it begins.
func (g *ScriptedGateway) Started() <-chan model.AgentID { return g.started }

// Call implements gateway.Gateway.
func (g *ScriptedGateway) Call(ctx context.Context, call gateway.Call) model.AgentResult {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	var fn func(context.Context, gateway.Call) model.AgentResult
	if q := g.queues[call.Agent]; len(q) > 0 {
		fn, g.queues[call.Agent] = q[0], q[1:]
	}
	g.mu.Unlock()

	select {
	case g.started <- call.Agent:
	default:
	}

	if fn == nil {
		return model.Success{Content: fmt.Sprintf("%s reply %d", call.Agent, call.Meta.CallIndex)}
	}
	return fn(ctx, call)
}

// Calls returns a copy of every call received so far.
func (g *ScriptedGateway) Calls() []gateway.Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Call(nil), g.calls...)
}

// Agents returns the agent of every call received so far, in order.
func (g *ScriptedGateway) Agents() []model.AgentID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.AgentID, len(g.calls))
	for i, c := range g.calls {
		out[i] = c.Agent
	}
	return out
}
