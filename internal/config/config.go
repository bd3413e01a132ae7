// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/brain/internal/model"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Per-client limit on the endpoints that call models. Zero RPS disables it.
	RateLimitRPS   float64
	RateLimitBurst int

	// Audit storage. DatabaseURL wins over SQLitePath; with neither set the
	// audit trail is kept in memory.
	DatabaseURL string
	SQLitePath  string

	// Agent providers.
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AnthropicModel  string
	GeminiAPIKey    string
	GeminiModel     string
	GeminiBaseURL   string
	MaxOutputTokens int

	// Run controller.
	Gatekeeper     string // agent id whose first answer carries routing flags; empty disables
	CallTimeout    time.Duration
	SessionIdleTTL time.Duration
	ContextBudget  int
	ContextWindow  int
	HistoryLimit   int

	// Admin API.
	JWTSecret string

	// Guard settings file; empty reads BRAIN_KILL_SWITCH and friends instead.
	GuardConfigPath string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel        string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	env := NewEnv(nil)
	str := env.String
	integer := env.Int
	boolean := env.Bool
	float := env.Float
	duration := env.Duration

	cfg := Config{
		Port:                integer("BRAIN_PORT", 8080),
		ReadTimeout:         duration("BRAIN_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        duration("BRAIN_WRITE_TIMEOUT", 2*time.Minute),
		MaxRequestBodyBytes: int64(integer("BRAIN_MAX_REQUEST_BODY_BYTES", 1*1024*1024)),
		RateLimitRPS:        float("BRAIN_RATE_LIMIT_RPS", 1),
		RateLimitBurst:      integer("BRAIN_RATE_LIMIT_BURST", 10),
		DatabaseURL:         str("BRAIN_DATABASE_URL", ""),
		SQLitePath:          str("BRAIN_SQLITE_PATH", ""),
		OpenAIAPIKey:        str("OPENAI_API_KEY", ""),
		OpenAIModel:         str("BRAIN_OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL:       str("BRAIN_OPENAI_BASE_URL", ""),
		AnthropicAPIKey:     str("ANTHROPIC_API_KEY", ""),
		AnthropicModel:      str("BRAIN_ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		GeminiAPIKey:        str("GEMINI_API_KEY", ""),
		GeminiModel:         str("BRAIN_GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:       str("BRAIN_GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		MaxOutputTokens:     integer("BRAIN_MAX_OUTPUT_TOKENS", 1024),
		Gatekeeper:          str("BRAIN_GATEKEEPER", ""),
		CallTimeout:         duration("BRAIN_CALL_TIMEOUT", 30*time.Second),
		SessionIdleTTL:      duration("BRAIN_SESSION_IDLE_TTL", 30*time.Minute),
		ContextBudget:       integer("BRAIN_CONTEXT_BUDGET", 12000),
		ContextWindow:       integer("BRAIN_CONTEXT_WINDOW", 6),
		HistoryLimit:        integer("BRAIN_HISTORY_LIMIT", 20),
		JWTSecret:           str("BRAIN_JWT_SECRET", ""),
		GuardConfigPath:     str("BRAIN_GUARD_CONFIG_PATH", ""),
		OTELEndpoint:        str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        boolean("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         str("OTEL_SERVICE_NAME", "brain"),
		LogLevel:            str("BRAIN_LOG_LEVEL", "info"),
		ShutdownTimeout:     duration("BRAIN_SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	if err := env.Err(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field rules.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("BRAIN_PORT must be between 1 and 65535"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("BRAIN_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("BRAIN_CALL_TIMEOUT must be positive"))
	}
	if c.SessionIdleTTL <= 0 {
		errs = append(errs, fmt.Errorf("BRAIN_SESSION_IDLE_TTL must be positive"))
	}
	if c.ContextBudget <= 0 || c.ContextWindow <= 0 {
		errs = append(errs, fmt.Errorf("BRAIN_CONTEXT_BUDGET and BRAIN_CONTEXT_WINDOW must be positive"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("BRAIN_RATE_LIMIT_RPS must not be negative and BRAIN_RATE_LIMIT_BURST must be positive"))
	}
	if c.Gatekeeper != "" {
		if _, err := model.ParseAgentID(c.Gatekeeper); err != nil {
			errs = append(errs, fmt.Errorf("BRAIN_GATEKEEPER: %w", err))
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("BRAIN_LOG_LEVEL=%q must be debug, info, warn or error", c.LogLevel))
	}
	if len(c.JWTSecret) > 0 && len(c.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("BRAIN_JWT_SECRET must be at least 32 bytes"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// AuditBackend names the audit store Load selected: "postgres", "sqlite" or "memory".
func (c Config) AuditBackend() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.SQLitePath != "":
		return "sqlite"
	}
	return "memory"
}
