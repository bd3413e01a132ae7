package ghost

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/brain/internal/audit"
	"github.com/ashita-ai/brain/internal/deliberation"
	"github.com/ashita-ai/brain/internal/guard"
	"github.com/ashita-ai/brain/internal/integrity"
	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/testutil"
)

func leadReply(round int, status string) model.AgentResult {
	verdict := model.Fail
	if status == "CONVERGED" {
		verdict = model.Pass
	}
	return model.Success{Content: fmt.Sprintf(
		"answer for round %d\nROUND: %d\nCOMPLIANCE: %s\nFACTUAL_CONSISTENCY: %s\nRISK_STABILITY: %s\nSTATUS: %s",
		round, round, verdict, verdict, verdict, status)}
}

type hookFunc func(context.Context, model.AuditRecord) error

func (f hookFunc) OnDeliberation(ctx context.Context, rec model.AuditRecord) error { return f(ctx, rec) }

type failingStore struct{ *audit.MemoryStore }

func (failingStore) InsertAudit(context.Context, model.AuditRecord) error {
	return errors.New("disk full")
}

type fixture struct {
	gw    *testutil.ScriptedGateway
	store *audit.MemoryStore
	svc   *Service
}

func newFixture(cfg guard.Config, hooks ...Hook) *fixture {
	gw := testutil.NewScriptedGateway()
	store := audit.NewMemoryStore()
	logger := testutil.TestLogger()
	svc := New(
		guard.New(guard.StaticSource(cfg), store, logger),
		deliberation.New(gw, deliberation.Config{}, logger),
		audit.NewRecorder(store, logger),
		hooks,
		logger,
	)
	return &fixture{gw: gw, store: store, svc: svc}
}

func onlyRecord(t *testing.T, store *audit.MemoryStore, id uuid.UUID) model.AuditRecord {
	t.Helper()
	require.Equal(t, 1, store.Len())
	rec, err := store.GetAudit(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func TestDeliberate_Converged(t *testing.T) {
	seen := make(chan model.AuditRecord, 1)
	f := newFixture(guard.DefaultConfig(), hookFunc(func(_ context.Context, rec model.AuditRecord) error {
		seen <- rec
		return nil
	}))
	f.gw.Reply(model.AgentGPT, leadReply(0, "CONTINUE"), leadReply(1, "CONVERGED"))

	res, err := f.svc.Deliberate(context.Background(), "  Should we ship?  ")
	require.NoError(t, err)
	assert.Equal(t, model.DeliberateResponse{Status: model.EnvelopeSuccess, Content: "answer for round 1"}, res.Response)

	require.NotNil(t, res.Record)
	rec := onlyRecord(t, f.store, res.Record.ID)
	assert.Equal(t, model.FinalConverged, rec.FinalStatus)
	assert.Equal(t, deliberation.EngineVersion, rec.EngineVersion)
	assert.Equal(t, deliberation.PromptVersion, rec.PromptVersion)
	assert.Equal(t, 4, rec.CallsUsed)
	assert.Equal(t, 1, rec.RoundsUsed)
	assert.Len(t, rec.GateHistory, 2)
	assert.Equal(t, integrity.DigestOutput("answer for round 1"), rec.OutputDigest)
	assert.True(t, integrity.VerifyRecordHash(rec))

	f.svc.Wait()
	select {
	case got := <-seen:
		assert.Equal(t, rec.ID, got.ID)
	default:
		t.Fatal("hook was not called")
	}
}

func TestDeliberate_ForcedIsSuccessWithCode(t *testing.T) {
	f := newFixture(guard.DefaultConfig())
	f.gw.Reply(model.AgentGPT, leadReply(0, "CONTINUE"), leadReply(1, "CONTINUE"), leadReply(2, "CONTINUE"))

	res, err := f.svc.Deliberate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, model.EnvelopeSuccess, res.Response.Status)
	assert.Equal(t, model.CodeCallCap, res.Response.ErrorCode)
	assert.NotEmpty(t, res.Response.Content)

	rec := onlyRecord(t, f.store, res.Record.ID)
	assert.Equal(t, model.FinalForced, rec.FinalStatus)
	require.NotNil(t, rec.ForcedReason)
	assert.Equal(t, model.ForcedCallCap, *rec.ForcedReason)
	assert.Nil(t, rec.AbortReason)
	assert.Equal(t, model.MaxCalls, rec.CallsUsed)
}

func TestDeliberate_LeadFailureAborts(t *testing.T) {
	f := newFixture(guard.DefaultConfig())
	f.gw.Reply(model.AgentGPT, model.Failure{Code: model.FailureAPI, Message: "500"})

	res, err := f.svc.Deliberate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, model.EnvelopeError, res.Response.Status)
	assert.Equal(t, model.CodeGPTFailed, res.Response.ErrorCode)
	assert.Empty(t, res.Response.Content)

	rec := onlyRecord(t, f.store, res.Record.ID)
	assert.Equal(t, model.FinalAborted, rec.FinalStatus)
	require.NotNil(t, rec.AbortReason)
	assert.Equal(t, model.AbortGPTFailure, *rec.AbortReason)
	assert.Empty(t, rec.OutputDigest)
}

func TestDeliberate_KillSwitch(t *testing.T) {
	cfg := guard.DefaultConfig()
	cfg.KillSwitch = true
	f := newFixture(cfg)

	res, err := f.svc.Deliberate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, model.EnvelopeError, res.Response.Status)
	assert.Equal(t, model.CodeKilled, res.Response.ErrorCode)
	assert.Nil(t, res.Record)
	assert.Empty(t, f.gw.Calls(), "no agent is called")
	assert.Zero(t, f.store.Len(), "no audit record is written")
}

func TestDeliberate_DailyCap(t *testing.T) {
	cfg := guard.DefaultConfig()
	cfg.DailyCap = 1
	f := newFixture(cfg)
	f.gw.Reply(model.AgentGPT, leadReply(0, "CONTINUE"), leadReply(1, "CONVERGED"))

	first, err := f.svc.Deliberate(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, model.EnvelopeSuccess, first.Response.Status)
	calls := len(f.gw.Calls())

	second, err := f.svc.Deliberate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, model.CodeDailyCapExceeded, second.Response.ErrorCode)
	assert.Len(t, f.gw.Calls(), calls)
	assert.Equal(t, 1, f.store.Len())
}

func TestDeliberate_CircuitOpensAfterAborts(t *testing.T) {
	f := newFixture(guard.DefaultConfig())
	for range guard.DefaultCircuitThreshold {
		f.gw.Reply(model.AgentGPT, model.Failure{Code: model.FailureNetwork, Message: "reset"})
		res, err := f.svc.Deliberate(context.Background(), "q")
		require.NoError(t, err)
		require.Equal(t, model.CodeGPTFailed, res.Response.ErrorCode)
	}

	res, err := f.svc.Deliberate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, model.CodeCircuitOpen, res.Response.ErrorCode)
	assert.Equal(t, guard.DefaultCircuitThreshold, f.store.Len())
}

func TestDeliberate_AuditFailureWithholdsContent(t *testing.T) {
	gw := testutil.NewScriptedGateway().Reply(model.AgentGPT, leadReply(0, "CONTINUE"), leadReply(1, "CONVERGED"))
	store := audit.NewMemoryStore()
	logger := testutil.TestLogger()
	svc := New(
		guard.New(guard.StaticSource(guard.DefaultConfig()), store, logger),
		deliberation.New(gw, deliberation.Config{}, logger),
		audit.NewRecorder(failingStore{store}, logger),
		nil,
		logger,
	)

	res, err := svc.Deliberate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, model.EnvelopeError, res.Response.Status)
	assert.Equal(t, model.CodeAuditFailed, res.Response.ErrorCode)
	assert.Empty(t, res.Response.Content)
	assert.Nil(t, res.Record)
}

func TestDeliberate_EmptyPrompt(t *testing.T) {
	f := newFixture(guard.DefaultConfig())
	_, err := f.svc.Deliberate(context.Background(), " \n\t")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, f.gw.Calls())
}

func TestDeliberate_HookErrorIsIgnored(t *testing.T) {
	f := newFixture(guard.DefaultConfig(), hookFunc(func(context.Context, model.AuditRecord) error {
		return errors.New("webhook down")
	}))
	f.gw.Reply(model.AgentGPT, leadReply(0, "CONTINUE"), leadReply(1, "CONVERGED"))

	res, err := f.svc.Deliberate(context.Background(), "q")
	require.NoError(t, err)
	f.svc.Wait()
	assert.Equal(t, model.EnvelopeSuccess, res.Response.Status)
}
