// Package brain is the public API for embedding the Brain multi-agent server.
//
// Brain routes a prompt to three agents (gpt leads, claude and gemini
// advise) either as a single sequential run or as a bounded, audited
// deliberation. Consumers import this package to construct and extend the
// server without forking it:
//
//	app, err := brain.New(
//	    brain.WithVersion(version),
//	    brain.WithLogger(logger),
//	    brain.WithDeliberationHook(myHook{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, but internal/* never imports the
// root. Public types are standalone structs; conversion helpers live here.
package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/brain/internal/audit"
	"github.com/ashita-ai/brain/internal/auth"
	"github.com/ashita-ai/brain/internal/budget"
	"github.com/ashita-ai/brain/internal/config"
	"github.com/ashita-ai/brain/internal/deliberation"
	"github.com/ashita-ai/brain/internal/gateway"
	"github.com/ashita-ai/brain/internal/guard"
	"github.com/ashita-ai/brain/internal/mcp"
	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/ratelimit"
	"github.com/ashita-ai/brain/internal/runner"
	"github.com/ashita-ai/brain/internal/server"
	"github.com/ashita-ai/brain/internal/service/ghost"
	"github.com/ashita-ai/brain/internal/storage"
	"github.com/ashita-ai/brain/internal/telemetry"
	"github.com/ashita-ai/brain/migrations"
)

// adminTokenTTL bounds admin tokens issued by IssueAdminToken.
const adminTokenTTL = time.Hour

// App is the Brain server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	store        audit.Store
	closeStore   func()
	guardFile    *guard.FileSource // nil when guard config comes from the environment
	sessions     *runner.Registry
	ghost        *ghost.Service
	jwtMgr       *auth.JWTManager
	limiter      ratelimit.Limiter
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Brain server. It opens the audit store, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does not start goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.guardConfigPath != "" {
		cfg.GuardConfigPath = o.guardConfigPath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("brain starting", "version", version, "port", cfg.Port, "audit_store", cfg.AuditBackend())

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}
	fail := func(err error) (*App, error) {
		closeStore()
		_ = otelShutdown(ctx)
		return nil, err
	}

	router, err := newRouter(cfg, o.callers, logger)
	if err != nil {
		return fail(err)
	}

	var (
		source    guard.Source = guard.EnvSource{Lookup: os.LookupEnv}
		guardFile *guard.FileSource
	)
	if cfg.GuardConfigPath != "" {
		guardFile = guard.NewFileSource(cfg.GuardConfigPath, logger)
		source = guardFile
		logger.Info("guard: reading settings from file", "path", cfg.GuardConfigPath)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, adminTokenTTL, logger)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}

	bud := budget.New(cfg.ContextBudget, cfg.ContextWindow)
	hooks := make([]ghost.Hook, 0, len(o.hooks))
	for _, h := range o.hooks {
		hooks = append(hooks, &deliberationHookAdapter{hook: h})
	}
	ghostSvc := ghost.New(
		guard.New(source, store, logger),
		deliberation.New(router, deliberation.Config{Budget: bud, CallTimeout: cfg.CallTimeout}, logger),
		audit.NewRecorder(store, logger),
		hooks,
		logger,
	)

	sessions := runner.NewRegistry(router, runner.Config{
		Gatekeeper:   model.AgentID(cfg.Gatekeeper),
		Budget:       bud,
		CallTimeout:  cfg.CallTimeout,
		HistoryLimit: cfg.HistoryLimit,
	}, cfg.SessionIdleTTL, logger)

	mcpSrv := mcp.New(ghostSvc, sessions, store, logger, version)

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)

	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	srv := server.New(server.ServerConfig{
		Ghost:               ghostSvc,
		Sessions:            sessions,
		Store:               store,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Limiter:             limiter,
		Middlewares:         middlewares,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		closeStore:   closeStore,
		guardFile:    guardFile,
		sessions:     sessions,
		ghost:        ghostSvc,
		jwtMgr:       jwtMgr,
		limiter:      limiter,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler, for tests and custom listeners.
func (a *App) Handler() http.Handler { return a.srv.Handler() }

// IssueAdminToken mints an admin API token whose subject is actor.
func (a *App) IssueAdminToken(actor string) (string, time.Time, error) {
	return a.jwtMgr.IssueToken(actor, auth.RoleAdmin)
}

// Run serves HTTP and, when guard settings come from a file, watches it for
// changes. It blocks until ctx is cancelled or the server fails, then shuts
// down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.guardFile != nil {
		g.Go(func() error { return a.guardFile.Watch(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	return g.Wait()
}

// Shutdown stops accepting HTTP requests, drains in-flight ones, cancels
// active runs and waits for deliberation hooks. It then closes the audit
// store and the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("brain shutting down")

	err := a.srv.Shutdown(ctx)
	if err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	if n := a.sessions.CancelAll(); n > 0 {
		a.logger.Info("cancelled active runs", "count", n)
	}
	a.sessions.Close()

	hooksDone := make(chan struct{})
	go func() {
		a.ghost.Wait()
		close(hooksDone)
	}()
	select {
	case <-hooksDone:
	case <-ctx.Done():
		a.logger.Warn("deliberation hooks still running at shutdown")
	}

	_ = a.limiter.Close()
	a.closeStore()
	_ = a.otelShutdown(context.Background())

	a.logger.Info("brain stopped")
	return err
}

// openStore selects the audit store: PostgreSQL, then SQLite, then memory.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (audit.Store, func(), error) {
	switch cfg.AuditBackend() {
	case "postgres":
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		return db, db.Close, nil
	case "sqlite":
		s, err := storage.NewSQLiteStore(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("sqlite close failed", "error", err)
			}
		}, nil
	}
	logger.Warn("no audit store configured, keeping deliberation audit records in memory (not for production)")
	return audit.NewMemoryStore(), func() {}, nil
}

// newRouter binds each agent to its provider. Custom callers win over the
// built-in adapters.
func newRouter(cfg config.Config, callers map[string]AgentCaller, logger *slog.Logger) (*gateway.Router, error) {
	providers := map[model.AgentID]gateway.Provider{
		model.AgentGPT: gateway.NewOpenAI(gateway.OpenAIConfig{
			Name:      "openai",
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.OpenAIModel,
			BaseURL:   cfg.OpenAIBaseURL,
			MaxTokens: int64(cfg.MaxOutputTokens),
		}),
		model.AgentClaude: gateway.NewAnthropic(gateway.AnthropicConfig{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			MaxTokens: int64(cfg.MaxOutputTokens),
		}),
		model.AgentGemini: gateway.NewOpenAI(gateway.OpenAIConfig{
			Name:      "gemini",
			APIKey:    cfg.GeminiAPIKey,
			Model:     cfg.GeminiModel,
			BaseURL:   cfg.GeminiBaseURL,
			MaxTokens: int64(cfg.MaxOutputTokens),
			// Gemini's compatibility layer only documents max_tokens.
			LegacyMaxTokens: true,
		}),
	}
	keys := map[model.AgentID]string{
		model.AgentGPT:    cfg.OpenAIAPIKey,
		model.AgentClaude: cfg.AnthropicAPIKey,
		model.AgentGemini: cfg.GeminiAPIKey,
	}

	for name, c := range callers {
		agent, err := model.ParseAgentID(name)
		if err != nil {
			return nil, fmt.Errorf("agent caller: %w", err)
		}
		providers[agent] = &agentCallerAdapter{caller: c}
		keys[agent] = "custom"
	}
	for agent, key := range keys {
		if key == "" {
			logger.Warn("no API key configured for agent, its calls will fail", "agent", agent)
		}
	}
	return gateway.NewRouter(providers, logger), nil
}

type agentCallerAdapter struct{ caller AgentCaller }

func (a *agentCallerAdapter) Name() string { return a.caller.Name() }

func (a *agentCallerAdapter) Complete(ctx context.Context, system, user string) (gateway.Completion, error) {
	c, err := a.caller.Complete(ctx, system, user)
	if err != nil {
		return gateway.Completion{}, err
	}
	comp := gateway.Completion{Text: c.Text}
	if c.InputTokens > 0 || c.OutputTokens > 0 {
		comp.Usage = &model.Usage{InputTokens: c.InputTokens, OutputTokens: c.OutputTokens}
	}
	return comp, nil
}

type deliberationHookAdapter struct{ hook DeliberationHook }

func (a *deliberationHookAdapter) OnDeliberation(ctx context.Context, rec model.AuditRecord) error {
	return a.hook.OnDeliberation(ctx, toPublicRecord(rec))
}

func toPublicRecord(rec model.AuditRecord) DeliberationRecord {
	out := DeliberationRecord{
		ID:            rec.ID,
		RunID:         rec.RunID,
		EngineVersion: rec.EngineVersion,
		PromptVersion: rec.PromptVersion,
		RoundsUsed:    rec.RoundsUsed,
		CallsUsed:     rec.CallsUsed,
		TokensUsed:    rec.TokensUsed,
		FinalStatus:   string(rec.FinalStatus),
		OutputDigest:  rec.OutputDigest,
		ContentHash:   rec.ContentHash,
		CreatedAt:     rec.CreatedAt,
	}
	switch {
	case rec.ForcedReason != nil:
		out.Reason = string(*rec.ForcedReason)
	case rec.AbortReason != nil:
		out.Reason = string(*rec.AbortReason)
	}
	out.Gates = make([]Gate, len(rec.GateHistory))
	for i, e := range rec.GateHistory {
		out.Gates[i] = Gate{
			Round:              e.Round,
			Compliance:         e.Compliance == model.Pass,
			FactualConsistency: e.FactualConsistency == model.Pass,
			RiskStability:      e.RiskStability == model.Pass,
		}
	}
	return out
}
