package brain

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	sqlitePath      string
	guardConfigPath string
	logger          *slog.Logger
	version         string
	callers         map[string]AgentCaller
	hooks           []DeliberationHook
	middlewares     []Middleware
}

// WithPort overrides the TCP port from config (BRAIN_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the PostgreSQL audit store from config (BRAIN_DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the SQLite audit store path from config (BRAIN_SQLITE_PATH env var).
// Ignored when a database URL is configured.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithGuardConfigPath reads admission-guard settings from a watched YAML file
// instead of the environment (BRAIN_GUARD_CONFIG_PATH env var).
func WithGuardConfigPath(path string) Option {
	return func(o *resolvedOptions) { o.guardConfigPath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithAgentCaller binds agent ("gpt", "claude" or "gemini") to a custom
// backend. New rejects unknown agent ids.
func WithAgentCaller(agent string, c AgentCaller) Option {
	return func(o *resolvedOptions) {
		if o.callers == nil {
			o.callers = make(map[string]AgentCaller)
		}
		o.callers[agent] = c
	}
}

// WithDeliberationHook registers a hook fired after every persisted deliberation.
func WithDeliberationHook(hook DeliberationHook) Option {
	return func(o *resolvedOptions) { o.hooks = append(o.hooks, hook) }
}

// WithMiddleware registers an outermost HTTP middleware.
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
