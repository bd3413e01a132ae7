package server

import (
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/runner"
)

const (
	sessionHeader     = "X-Session-ID"
	idempotencyHeader = "Idempotency-Key"
	maxHeaderIDLength = 128
)

// sessionID validates the X-Session-ID header.
func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(sessionHeader))
	if id == "" || len(id) > maxHeaderIDLength {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "X-Session-ID header is required (max 128 characters)")
		return "", false
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("brain.session_id", id))
	return id, true
}

// session resolves the X-Session-ID header to an existing session.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*runner.Session, bool) {
	id, ok := sessionID(w, r)
	if !ok {
		return nil, false
	}
	s, ok := h.sessions.Lookup(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "session not found")
		return nil, false
	}
	return s, true
}

// HandleSubmitRun handles POST /v1/runs.
func (h *Handlers) HandleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "prompt is required")
		return
	}
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if len(key) > maxHeaderIDLength {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "Idempotency-Key is too long (max 128 characters)")
		return
	}

	sid, ok := sessionID(w, r)
	if !ok {
		return
	}

	_, id, err := h.sessions.Submit(r.Context(), sid, model.RunID(key), prompt)
	switch {
	case errors.Is(err, runner.ErrRunActive):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "a run is already active in this session")
		return
	case errors.Is(err, runner.ErrAlreadyDispatched):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "run id already dispatched")
		return
	case err != nil:
		h.writeInternalError(w, r, "failed to submit run", err)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("brain.run_id", string(id)))
	writeJSON(w, r, http.StatusAccepted, model.SubmitRunResponse{RunID: id})
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	run, err := s.Get(model.RunID(r.PathValue("run_id")))
	if errors.Is(err, runner.ErrRunNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to get run", err)
		return
	}
	writeJSON(w, r, http.StatusOK, run.View())
}

// HandleDismissWarnings handles DELETE /v1/runs/{run_id}/warnings.
func (h *Handlers) HandleDismissWarnings(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.DismissWarnings(model.RunID(r.PathValue("run_id"))); err != nil {
		if errors.Is(err, runner.ErrRunNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "completed run not found")
			return
		}
		h.writeInternalError(w, r, "failed to dismiss warnings", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCancelRun handles POST /v1/runs/cancel.
func (h *Handlers) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	cancelled := s.Cancel()
	writeJSON(w, r, http.StatusOK, map[string]any{
		"cancelled": cancelled,
		"status":    s.Status(),
	})
}
