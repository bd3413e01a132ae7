package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/brain/internal/audit"
	"github.com/ashita-ai/brain/internal/auth"
	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/runner"
	"github.com/ashita-ai/brain/internal/service/ghost"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	ghost               *ghost.Service
	sessions            *runner.Registry
	store               audit.Store
	jwtMgr              *auth.JWTManager
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Ghost               *ghost.Service
	Sessions            *runner.Registry
	Store               audit.Store
	JWTMgr              *auth.JWTManager
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	maxBody := d.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handlers{
		ghost:               d.Ghost,
		sessions:            d.Sessions,
		store:               d.Store,
		jwtMgr:              d.JWTMgr,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: maxBody,
	}
}

// HandleDeliberate handles POST /v1/deliberate. The response body is the
// deliberation envelope itself.
func (h *Handlers) HandleDeliberate(w http.ResponseWriter, r *http.Request) {
	var req model.DeliberateRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeEnvelope(w, status, model.DeliberateResponse{Status: model.EnvelopeError, Error: "invalid request body"})
		return
	}

	res, err := h.ghost.Deliberate(r.Context(), req.UserPrompt)
	if errors.Is(err, ghost.ErrEmptyPrompt) {
		writeEnvelope(w, http.StatusBadRequest, model.DeliberateResponse{Status: model.EnvelopeError, Error: "userPrompt is required"})
		return
	}
	if err != nil {
		h.logger.Error("deliberation failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeEnvelope(w, http.StatusInternalServerError, model.DeliberateResponse{
			Status: model.EnvelopeError, Error: "internal error", ErrorCode: model.CodeInternal,
		})
		return
	}

	span := trace.SpanFromContext(r.Context())
	if res.Record != nil {
		span.SetAttributes(
			attribute.String("brain.audit_id", res.Record.ID.String()),
			attribute.String("brain.final_status", string(res.Record.FinalStatus)),
		)
	}
	writeEnvelope(w, deliberationStatus(res.Response), res.Response)
}

// deliberationStatus maps an envelope to its HTTP status.
func deliberationStatus(resp model.DeliberateResponse) int {
	if resp.Status == model.EnvelopeSuccess {
		return http.StatusOK
	}
	switch {
	case resp.ErrorCode.IsGuardCode():
		return http.StatusServiceUnavailable
	case resp.ErrorCode == model.CodeGPTFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		storeStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	sessions := 0
	if h.sessions != nil {
		sessions = h.sessions.Len()
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Store:    storeStatus,
		Sessions: sessions,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}
