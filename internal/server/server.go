package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/brain/internal/audit"
	"github.com/ashita-ai/brain/internal/auth"
	"github.com/ashita-ai/brain/internal/ratelimit"
	"github.com/ashita-ai/brain/internal/runner"
	"github.com/ashita-ai/brain/internal/service/ghost"
)

// Server is the Brain HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// MCPServer is optional (nil = disabled).
type ServerConfig struct {
	// Required dependencies.
	Ghost    *ghost.Service
	Sessions *runner.Registry
	Store    audit.Store
	JWTMgr   *auth.JWTManager
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	MCPServer *mcpserver.MCPServer
	// Limiter throttles the endpoints that call models.
	Limiter ratelimit.Limiter
	// Middlewares wrap the whole handler; the first is outermost.
	Middlewares []func(http.Handler) http.Handler

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Ghost:               cfg.Ghost,
		Sessions:            cfg.Sessions,
		Store:               cfg.Store,
		JWTMgr:              cfg.JWTMgr,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.Limiter != nil {
		limiter = cfg.Limiter
	}
	throttle := func(scope string, fn http.HandlerFunc) http.Handler {
		return ratelimit.Middleware(limiter, scope, func(r *http.Request) string {
			return RequestIDFromContext(r.Context())
		}, cfg.Logger)(fn)
	}

	mux := http.NewServeMux()

	// Deliberation mode.
	mux.Handle("POST /v1/deliberate", throttle("deliberate", h.HandleDeliberate))

	// Sessioned runs (X-Session-ID).
	mux.Handle("POST /v1/runs", throttle("runs", h.HandleSubmitRun))
	mux.HandleFunc("POST /v1/runs/cancel", h.HandleCancelRun)
	mux.HandleFunc("GET /v1/runs/{run_id}", h.HandleGetRun)
	mux.HandleFunc("DELETE /v1/runs/{run_id}/warnings", h.HandleDismissWarnings)

	// Audit administration (admin JWT).
	adminOnly := requireAdmin(cfg.JWTMgr)
	mux.Handle("GET /v1/admin/audit/{id}", adminOnly(http.HandlerFunc(h.HandleGetAudit)))
	mux.Handle("PUT /v1/admin/audit/{id}/hold", adminOnly(http.HandlerFunc(h.HandleSetLegalHold)))
	mux.Handle("DELETE /v1/admin/audit/{id}", adminOnly(http.HandlerFunc(h.HandleDeleteAudit)))

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server starting", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
