package deliberation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/brain/internal/gateway"
	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func lead(round int, c, f, r model.Verdict, status string) model.AgentResult {
	return model.Success{Content: declaration(round, c, f, r, status)}
}

func framing() model.AgentResult {
	return lead(0, model.Fail, model.Fail, model.Fail, "CONTINUE")
}

func converged(round int) model.AgentResult {
	return lead(round, model.Pass, model.Pass, model.Pass, "CONVERGED")
}

func newTestEngine(gw gateway.Gateway, cfg Config) *Engine {
	return New(gw, cfg, testutil.TestLogger())
}

func TestEngine_ConvergesInFirstRound(t *testing.T) {
	gw := testutil.NewScriptedGateway().Reply(model.AgentGPT, framing(), converged(1))
	out := newTestEngine(gw, Config{}).Run(context.Background(), "r1", "Should we ship?")

	assert.Equal(t, model.FinalConverged, out.Status)
	assert.Empty(t, out.ForcedReason)
	assert.Empty(t, out.AbortReason)
	assert.Equal(t, "answer for round 1", out.Content)
	assert.Equal(t, 1, out.State.RoundsUsed)
	assert.Equal(t, 4, out.State.CallsUsed)
	assert.Positive(t, out.State.TokensUsed)
	require.Len(t, out.State.GateHistory, 2)
	assert.Equal(t, 0, out.State.GateHistory[0].Round)
	assert.Equal(t, 1, out.State.GateHistory[1].Round)
	assert.True(t, out.State.GateHistory[1].AllPass())
	assert.NoError(t, model.ValidateGateHistory(out.State.GateHistory))

	assert.Equal(t, []model.AgentID{model.AgentGPT, model.AgentClaude, model.AgentGemini, model.AgentGPT}, gw.Agents())
	calls := gw.Calls()
	assert.Contains(t, calls[1].Context, "gpt: answer for round 0", "advisors see the framing")
	assert.NotContains(t, calls[1].Context, "ROUND:", "declaration lines stay out of the transcript")
	assert.Contains(t, calls[3].Context, "claude:")
	assert.Contains(t, calls[3].Context, "gemini:")
	for i, c := range calls {
		assert.Equal(t, "r1", c.Meta.RunID)
		assert.Equal(t, i, c.Meta.CallIndex)
		assert.True(t, c.Meta.Mode.Deliberation)
		assert.False(t, c.Meta.Mode.Forced)
	}
}

func TestEngine_FramingNeverConverges(t *testing.T) {
	gw := testutil.NewScriptedGateway().Reply(model.AgentGPT, converged(0), converged(1))
	out := newTestEngine(gw, Config{}).Run(context.Background(), "r", "q")

	assert.Equal(t, model.FinalConverged, out.Status)
	assert.Len(t, gw.Calls(), 4)
	assert.Equal(t, 1, out.State.RoundsUsed)
}

func TestEngine_TokenCapForcesOneSynthesis(t *testing.T) {
	heavy := model.Success{
		Content: declaration(0, model.Fail, model.Fail, model.Fail, "CONTINUE"),
		Usage:   &model.Usage{InputTokens: 3000, OutputTokens: 500},
	}
	gw := testutil.NewScriptedGateway().Reply(model.AgentGPT, heavy, model.Success{Content: "best effort answer"})
	out := newTestEngine(gw, Config{}).Run(context.Background(), "r", "q")

	assert.Equal(t, model.FinalForced, out.Status)
	assert.Equal(t, model.ForcedTokenCap, out.ForcedReason)
	assert.Equal(t, "best effort answer", out.Content)
	assert.Equal(t, []model.AgentID{model.AgentGPT, model.AgentGPT}, gw.Agents(), "exactly one more call after the cap")
	assert.Equal(t, 2, out.State.CallsUsed)
	assert.Equal(t, 0, out.State.RoundsUsed)
	assert.True(t, gw.Calls()[1].Meta.Mode.Forced)
	assert.LessOrEqual(t, out.State.TokensUsed, model.MaxTokens)
}

func TestEngine_CallCap(t *testing.T) {
	gw := testutil.NewScriptedGateway().Reply(model.AgentGPT,
		framing(),
		lead(1, model.Pass, model.Fail, model.Pass, "CONTINUE"),
		model.Success{Content: "forced answer"},
	)
	out := newTestEngine(gw, Config{}).Run(context.Background(), "r", "q")

	assert.Equal(t, model.FinalForced, out.Status)
	assert.Equal(t, model.ForcedCallCap, out.ForcedReason)
	assert.Equal(t, "forced answer", out.Content)
	assert.Equal(t, []model.AgentID{
		model.AgentGPT,
		model.AgentClaude, model.AgentGemini, model.AgentGPT,
		model.AgentClaude, model.AgentGPT,
	}, gw.Agents(), "round 2 stops before the second advisor")
	assert.Equal(t, model.MaxCalls, out.State.CallsUsed)
	assert.Len(t, gw.Calls(), model.MaxCalls, "the counter matches the calls actually made")
	assert.Equal(t, 1, out.State.RoundsUsed)
	calls := gw.Calls()
	assert.True(t, calls[len(calls)-1].Meta.Mode.Forced)
	for _, c := range calls[:len(calls)-1] {
		assert.False(t, c.Meta.Mode.Forced)
	}
	assert.Len(t, out.State.GateHistory, 2)
	assert.NoError(t, model.ValidateGateHistory(out.State.GateHistory))
}

func TestEngine_CallCapChecksBeforeEveryDispatch(t *testing.T) {
	gw := testutil.NewScriptedGateway().
		Reply(model.AgentGPT, framing(), lead(1, model.Fail, model.Fail, model.Fail, "CONTINUE"), model.Success{Content: "forced"}).
		Reply(model.AgentClaude, model.Failure{Code: model.FailureAPI, Message: "boom"}, model.Failure{Code: model.FailureAPI, Message: "boom"}).
		Reply(model.AgentGemini, model.Timeout{}, model.Timeout{})
	out := newTestEngine(gw, Config{}).Run(context.Background(), "r", "q")

	assert.Equal(t, model.FinalForced, out.Status)
	assert.Equal(t, model.ForcedCallCap, out.ForcedReason, "failed advisor calls still count")
	assert.Len(t, gw.Calls(), model.MaxCalls)
	assert.Equal(t, model.MaxCalls, out.State.CallsUsed)
}

func TestEngine_TimeoutCap(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	gw := testutil.NewScriptedGateway().
		ReplyFunc(model.AgentGPT, func(context.Context, gateway.Call) model.AgentResult {
			clock.Advance(model.MaxElapsed + time.Second)
			return framing()
		}).
		Reply(model.AgentGPT, model.Success{Content: "out of time"})
	out := newTestEngine(gw, Config{Now: clock.Now}).Run(context.Background(), "r", "q")

	assert.Equal(t, model.FinalForced, out.Status)
	assert.Equal(t, model.ForcedTimeout, out.ForcedReason)
	assert.Len(t, gw.Calls(), 2)
}

func TestEngine_LeadFailureAborts(t *testing.T) {
	gw := testutil.NewScriptedGateway().Reply(model.AgentGPT,
		model.Failure{Code: model.FailureAPI, Message: "500 from upstream"})
	out := newTestEngine(gw, Config{}).Run(context.Background(), "r", "q")

	assert.Equal(t, model.FinalAborted, out.Status)
	assert.Equal(t, model.AbortGPTFailure, out.AbortReason)
	assert.Empty(t, out.Content)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "500 from upstream")
	assert.Equal(t, 1, out.State.CallsUsed)
}

func TestEngine_LeadTimeoutAborts(t *testing.T) {
	gw := testutil.NewScriptedGateway().
		Reply(model.AgentGPT, framing()).
		Block(model.AgentGPT)
	out := newTestEngine(gw, Config{CallTimeout: 20 * time.Millisecond}).Run(context.Background(), "r", "q")

	assert.Equal(t, model.FinalAborted, out.Status)
	assert.Equal(t, model.AbortGPTFailure, out.AbortReason)
	assert.Equal(t, 4, out.State.CallsUsed)
}

func TestEngine_ForcedSynthesisFailureAborts(t *testing.T) {
	heavy := model.Success{Content: "framing", Usage: &model.Usage{InputTokens: 3500}}
	gw := testutil.NewScriptedGateway().Reply(model.AgentGPT, heavy, model.Failure{Code: model.FailureNetwork, Message: "reset"})
	out := newTestEngine(gw, Config{}).Run(context.Background(), "r", "q")

	assert.Equal(t, model.FinalAborted, out.Status)
	assert.Equal(t, model.AbortGPTFailure, out.AbortReason)
	assert.Empty(t, out.ForcedReason)
}

func TestEngine_AdvisorFailureIsNotFatal(t *testing.T) {
	gw := testutil.NewScriptedGateway().
		Reply(model.AgentGPT, framing(), converged(1)).
		Reply(model.AgentClaude, model.Failure{Code: model.FailureRateLimit, Message: "429"})
	out := newTestEngine(gw, Config{}).Run(context.Background(), "r", "q")

	assert.Equal(t, model.FinalConverged, out.Status)
	require.NotEmpty(t, out.Warnings)
	assert.Contains(t, out.Warnings[0], "claude")
	assert.NotContains(t, gw.Calls()[2].Context, "claude:", "failed advisor adds nothing to the transcript")
}

func TestEngine_InvalidDeclarationContinues(t *testing.T) {
	gw := testutil.NewScriptedGateway().Reply(model.AgentGPT,
		framing(),
		model.Success{Content: "answer\nROUND: 7\nCOMPLIANCE: PASS\nFACTUAL_CONSISTENCY: PASS\nRISK_STABILITY: PASS\nSTATUS: CONVERGED"},
		model.Success{Content: "forced answer"},
	)
	out := newTestEngine(gw, Config{}).Run(context.Background(), "r", "q")

	assert.Equal(t, model.FinalForced, out.Status, "an invalid declaration never converges")
	assert.Equal(t, model.ForcedCallCap, out.ForcedReason)
	assert.Equal(t, 1, out.State.RoundsUsed)
	require.Len(t, out.State.GateHistory, 2)
	assert.Equal(t, model.GateEntry{Round: 1, Compliance: model.Fail, FactualConsistency: model.Fail, RiskStability: model.Fail},
		out.State.GateHistory[1])
	assert.NotEmpty(t, out.Warnings)
}

func TestEngine_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gw := testutil.NewScriptedGateway()
	out := newTestEngine(gw, Config{}).Run(ctx, "r", "q")

	assert.Equal(t, model.FinalAborted, out.Status)
	assert.Equal(t, model.AbortInternalError, out.AbortReason)
	assert.Empty(t, gw.Calls())
}
