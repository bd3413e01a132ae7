package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/brain/internal/integrity"
	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/runner"
	"github.com/ashita-ai/brain/internal/service/ghost"
	"github.com/ashita-ai/brain/internal/storage"
)

// defaultSession is used by brain_ask when the caller names no session.
const defaultSession = "mcp"

// askTimeout bounds how long brain_ask waits for its run.
const askTimeout = 3 * time.Minute

func (s *Server) registerTools() {
	// brain_deliberate: bounded multi-round deliberation with an audit record.
	s.mcpServer.AddTool(
		mcplib.NewTool("brain_deliberate",
			mcplib.WithDescription(`Run a bounded deliberation between the lead model and two advisors.

WHEN TO USE: For consequential questions where a single model's answer is not
enough. The lead frames the question, the advisors critique, and the lead
synthesizes until it declares all gates passed or a hard cap is hit.

WHAT YOU GET BACK: the response envelope.
- status "success" with content: the final answer. An errorCode alongside a
  success (GHOST_ROUND_CAP, GHOST_TOKEN_CAP, ...) means a cap forced the answer.
- status "error" with errorCode: GHOST_KILLED, GHOST_DAILY_CAP_EXCEEDED and
  GHOST_CIRCUIT_OPEN mean nothing ran; retrying immediately will not help.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("prompt",
				mcplib.Description("The question to deliberate on"),
				mcplib.Required(),
			),
		),
		s.handleDeliberate,
	)

	// brain_ask: one run through every agent in a session.
	s.mcpServer.AddTool(
		mcplib.NewTool("brain_ask",
			mcplib.WithDescription(`Ask every agent once, in speaking order, and return their answers.

Runs are sessioned: later runs in the same session see earlier prompts and
answers as context. Only one run may be active per session.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("prompt",
				mcplib.Description("The question to ask"),
				mcplib.Required(),
			),
			mcplib.WithString("session_id",
				mcplib.Description("Session to run in; defaults to a shared MCP session"),
			),
		),
		s.handleAsk,
	)

	// brain_audit_get: fetch one deliberation audit record.
	s.mcpServer.AddTool(
		mcplib.NewTool("brain_audit_get",
			mcplib.WithDescription("Fetch a deliberation audit record by id and verify its content hash."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("id",
				mcplib.Description("Audit record id (UUID)"),
				mcplib.Required(),
			),
		),
		s.handleAuditGet,
	)
}

func (s *Server) handleDeliberate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	res, err := s.ghost.Deliberate(ctx, request.GetString("prompt", ""))
	if errors.Is(err, ghost.ErrEmptyPrompt) {
		return errorResult("prompt is required"), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("deliberation failed: %v", err)), nil
	}
	return jsonResult(res.Response, res.Response.Status == model.EnvelopeError), nil
}

func (s *Server) handleAsk(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sessionID := request.GetString("session_id", defaultSession)
	if sessionID == "" {
		sessionID = defaultSession
	}
	session, id, err := s.sessions.Submit(ctx, sessionID, "", request.GetString("prompt", ""))
	switch {
	case errors.Is(err, runner.ErrEmptyPrompt):
		return errorResult("prompt is required"), nil
	case errors.Is(err, runner.ErrRunActive):
		return errorResult(fmt.Sprintf("session %q already has an active run", sessionID)), nil
	case err != nil:
		return errorResult(fmt.Sprintf("submit failed: %v", err)), nil
	}

	wctx, cancel := context.WithTimeout(ctx, askTimeout)
	defer cancel()
	run, err := session.Wait(wctx, id)
	if err != nil {
		// The caller is gone or the run is too slow; do not leave it running.
		session.Cancel()
		return errorResult(fmt.Sprintf("run %s did not finish: %v", id, err)), nil
	}
	return jsonResult(run.View(), false), nil
}

func (s *Server) handleAuditGet(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("id", ""))
	if err != nil {
		return errorResult("id must be a UUID"), nil
	}
	rec, err := s.audit.GetAudit(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return errorResult(fmt.Sprintf("audit record %s not found", id)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("audit lookup failed: %v", err)), nil
	}
	return jsonResult(model.AuditView{AuditRecord: rec, IntegrityValid: integrity.VerifyRecordHash(rec)}, false), nil
}
