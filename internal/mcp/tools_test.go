package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/brain/internal/audit"
	"github.com/ashita-ai/brain/internal/budget"
	"github.com/ashita-ai/brain/internal/deliberation"
	"github.com/ashita-ai/brain/internal/guard"
	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/runner"
	"github.com/ashita-ai/brain/internal/service/ghost"
	"github.com/ashita-ai/brain/internal/testutil"
)

type fixture struct {
	gw     *testutil.ScriptedGateway
	store  *audit.MemoryStore
	server *Server
}

func newFixture(t *testing.T, cfg guard.Config) *fixture {
	t.Helper()
	gw := testutil.NewScriptedGateway()
	store := audit.NewMemoryStore()
	logger := testutil.TestLogger()

	svc := ghost.New(
		guard.New(guard.StaticSource(cfg), store, logger),
		deliberation.New(gw, deliberation.Config{}, logger),
		audit.NewRecorder(store, logger),
		nil,
		logger,
	)
	sessions := runner.NewRegistry(gw, runner.Config{Budget: budget.New(0, 0), HistoryLimit: 10}, 0, logger)
	t.Cleanup(sessions.Close)

	return &fixture{gw: gw, store: store, server: New(svc, sessions, store, logger, "test")}
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func leadReply(round int, status string) model.AgentResult {
	verdict := model.Fail
	if status == "CONVERGED" {
		verdict = model.Pass
	}
	return model.Success{Content: fmt.Sprintf(
		"final answer\nROUND: %d\nCOMPLIANCE: %s\nFACTUAL_CONSISTENCY: %s\nRISK_STABILITY: %s\nSTATUS: %s",
		round, verdict, verdict, verdict, status)}
}

func TestHandleDeliberate(t *testing.T) {
	f := newFixture(t, guard.DefaultConfig())
	f.gw.Reply(model.AgentGPT, leadReply(0, "CONTINUE"), leadReply(1, "CONVERGED"))

	result, err := f.server.handleDeliberate(context.Background(), toolRequest("brain_deliberate", map[string]any{
		"prompt": "Should we migrate?",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var resp model.DeliberateResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, model.EnvelopeSuccess, resp.Status)
	assert.Equal(t, "final answer", resp.Content)
	assert.Equal(t, 1, f.store.Len())
}

func TestHandleDeliberate_KillSwitch(t *testing.T) {
	cfg := guard.DefaultConfig()
	cfg.KillSwitch = true
	f := newFixture(t, cfg)

	result, err := f.server.handleDeliberate(context.Background(), toolRequest("brain_deliberate", map[string]any{
		"prompt": "q",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	var resp model.DeliberateResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, model.CodeKilled, resp.ErrorCode)
	assert.Empty(t, f.gw.Calls())
	assert.Zero(t, f.store.Len())
}

func TestHandleDeliberate_MissingPrompt(t *testing.T) {
	f := newFixture(t, guard.DefaultConfig())
	result, err := f.server.handleDeliberate(context.Background(), toolRequest("brain_deliberate", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "prompt is required")
}

func TestHandleAsk(t *testing.T) {
	f := newFixture(t, guard.DefaultConfig())
	f.gw.Reply(model.AgentGPT, model.Success{Content: "the answer"})

	result, err := f.server.handleAsk(context.Background(), toolRequest("brain_ask", map[string]any{
		"prompt":     "What is AI?",
		"session_id": "s1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var view model.RunView
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &view))
	assert.Equal(t, model.RunStatusCompleted, view.Status)
	require.Len(t, view.Results, 3)
	assert.Equal(t, model.AgentGPT, view.Results[2].Agent)
	assert.Equal(t, "the answer", view.Results[2].Content)
	assert.Zero(t, f.store.Len(), "plain runs are not audited")
}

func TestHandleAsk_ActiveRunRejected(t *testing.T) {
	f := newFixture(t, guard.DefaultConfig())
	f.gw.Block(model.AgentClaude)

	session := f.server.sessions.Session(defaultSession)
	_, err := session.Submit(context.Background(), "first")
	require.NoError(t, err)
	t.Cleanup(func() { session.Cancel() })

	result, err := f.server.handleAsk(context.Background(), toolRequest("brain_ask", map[string]any{"prompt": "second"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "already has an active run")
}

func TestHandleAuditGet(t *testing.T) {
	f := newFixture(t, guard.DefaultConfig())
	f.gw.Reply(model.AgentGPT, model.Failure{Code: model.FailureAPI, Message: "boom"})

	_, err := f.server.handleDeliberate(context.Background(), toolRequest("brain_deliberate", map[string]any{"prompt": "q"}))
	require.NoError(t, err)
	require.Equal(t, 1, f.store.Len())

	id := f.store.IDs()[0]
	result, err := f.server.handleAuditGet(context.Background(), toolRequest("brain_audit_get", map[string]any{"id": id.String()}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var view model.AuditView
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &view))
	assert.Equal(t, id, view.ID)
	assert.Equal(t, model.FinalAborted, view.FinalStatus)
	assert.True(t, view.IntegrityValid)
}

func TestHandleAuditGet_Errors(t *testing.T) {
	f := newFixture(t, guard.DefaultConfig())

	result, err := f.server.handleAuditGet(context.Background(), toolRequest("brain_audit_get", map[string]any{"id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.server.handleAuditGet(context.Background(), toolRequest("brain_audit_get", map[string]any{"id": uuid.NewString()}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not found")
}
