package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/brain/internal/config"
	"github.com/ashita-ai/brain/internal/model"
)

// scriptedCaller replays replies in order, then repeats the last one.
type scriptedCaller struct {
	name    string
	mu      sync.Mutex
	replies []string
}

func (c *scriptedCaller) Name() string { return c.name }

func (c *scriptedCaller) Complete(context.Context, string, string) (Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return Completion{Text: reply, InputTokens: 10, OutputTokens: 5}, nil
}

type hookFunc func(context.Context, DeliberationRecord) error

func (f hookFunc) OnDeliberation(ctx context.Context, rec DeliberationRecord) error { return f(ctx, rec) }

func leadText(round int, status string) string {
	verdict := "FAIL"
	if status == "CONVERGED" {
		verdict = "PASS"
	}
	return fmt.Sprintf("the answer\nROUND: %d\nCOMPLIANCE: %s\nFACTUAL_CONSISTENCY: %s\nRISK_STABILITY: %s\nSTATUS: %s",
		round, verdict, verdict, verdict, status)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNew_DeliberateWithCustomCallersAndHook(t *testing.T) {
	t.Setenv("BRAIN_DATABASE_URL", "")
	t.Setenv("BRAIN_SQLITE_PATH", "")
	t.Setenv("BRAIN_GUARD_CONFIG_PATH", "")

	got := make(chan DeliberationRecord, 1)
	app, err := New(
		WithLogger(quietLogger()),
		WithVersion("test"),
		WithAgentCaller("gpt", &scriptedCaller{name: "fake-gpt", replies: []string{leadText(0, "CONTINUE"), leadText(1, "CONVERGED")}}),
		WithAgentCaller("claude", &scriptedCaller{name: "fake-claude", replies: []string{"no objections"}}),
		WithAgentCaller("gemini", &scriptedCaller{name: "fake-gemini", replies: []string{"agreed"}}),
		WithDeliberationHook(hookFunc(func(_ context.Context, rec DeliberationRecord) error {
			got <- rec
			return nil
		})),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})

	body, _ := json.Marshal(model.DeliberateRequest{UserPrompt: "Should we ship?"})
	req := httptest.NewRequest(http.MethodPost, "/v1/deliberate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp model.DeliberateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.EnvelopeSuccess, resp.Status)
	assert.Equal(t, "the answer", resp.Content)

	select {
	case r := <-got:
		assert.Equal(t, "CONVERGED", r.FinalStatus)
		assert.Empty(t, r.Reason)
		assert.Equal(t, 1, r.RoundsUsed)
		require.Len(t, r.Gates, 2)
		assert.True(t, r.Gates[1].Compliance)
		assert.NotEmpty(t, r.ContentHash)
	case <-time.After(5 * time.Second):
		t.Fatal("deliberation hook was not called")
	}
}

func TestNew_RejectsUnknownAgentCaller(t *testing.T) {
	_, err := New(
		WithLogger(quietLogger()),
		WithAgentCaller("llama", &scriptedCaller{name: "x", replies: []string{"hi"}}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent caller")
}

func TestIssueAdminToken(t *testing.T) {
	app, err := New(WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	tok, exp, err := app.IssueAdminToken("ops@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(adminTokenTTL), exp, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/audit/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code, "the token is accepted and the record is missing")
}

func TestAgentCallerAdapter(t *testing.T) {
	a := &agentCallerAdapter{caller: &scriptedCaller{name: "fake", replies: []string{"hello"}}}
	assert.Equal(t, "fake", a.Name())

	c, err := a.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "hello", c.Text)
	require.NotNil(t, c.Usage)
	assert.Equal(t, model.Usage{InputTokens: 10, OutputTokens: 5}, *c.Usage)

	failing := &agentCallerAdapter{caller: errCaller{}}
	_, err = failing.Complete(context.Background(), "sys", "user")
	assert.EqualError(t, err, "backend down")
}

type errCaller struct{}

func (errCaller) Name() string { return "err" }
func (errCaller) Complete(context.Context, string, string) (Completion, error) {
	return Completion{}, errors.New("backend down")
}

func TestToPublicRecord(t *testing.T) {
	forced := model.ForcedRoundCap
	in := model.AuditRecord{
		ID:           uuid.New(),
		RunID:        uuid.New(),
		RoundsUsed:   2,
		CallsUsed:    6,
		FinalStatus:  model.FinalForced,
		ForcedReason: &forced,
		GateHistory: []model.GateEntry{
			{Round: 0, Compliance: model.Pass, FactualConsistency: model.Fail, RiskStability: model.Pass},
		},
		ContentHash: "v1:abc",
	}
	out := toPublicRecord(in)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, "FORCED", out.FinalStatus)
	assert.Equal(t, "round_cap", out.Reason)
	assert.Equal(t, []Gate{{Round: 0, Compliance: true, FactualConsistency: false, RiskStability: true}}, out.Gates)

	aborted := model.AbortGPTFailure
	out = toPublicRecord(model.AuditRecord{FinalStatus: model.FinalAborted, AbortReason: &aborted})
	assert.Equal(t, "gpt_failure", out.Reason)
	assert.Empty(t, out.Gates)
}

func TestNewRouterWarnsWithoutKeys(t *testing.T) {
	r, err := newRouter(config.Config{}, nil, quietLogger())
	require.NoError(t, err)
	assert.NotNil(t, r)
}
