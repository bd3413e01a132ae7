package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashita-ai/brain/internal/config"
)

// Conservative defaults used when a setting is absent.
const (
	DefaultDailyCap         = 50
	DefaultCircuitThreshold = 3
	DefaultCircuitWindow    = 30 * time.Minute
)

// Config holds the admission thresholds.
type Config struct {
	KillSwitch       bool
	DailyCap         int
	CircuitThreshold int
	CircuitWindow    time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DailyCap:         DefaultDailyCap,
		CircuitThreshold: DefaultCircuitThreshold,
		CircuitWindow:    DefaultCircuitWindow,
	}
}

// Validate rejects thresholds that would disable a check.
func (c Config) Validate() error {
	var errs []error
	if c.DailyCap < 0 {
		errs = append(errs, fmt.Errorf("daily cap %d is negative", c.DailyCap))
	}
	if c.CircuitThreshold < 1 {
		errs = append(errs, fmt.Errorf("circuit threshold %d must be at least 1", c.CircuitThreshold))
	}
	if c.CircuitWindow <= 0 {
		errs = append(errs, fmt.Errorf("circuit window %s must be positive", c.CircuitWindow))
	}
	return errors.Join(errs...)
}

// Source supplies the current guard configuration. Load is called on every
// admission; an error rejects the run.
type Source interface {
	Load(ctx context.Context) (Config, error)
}

// StaticSource always returns the same configuration.
type StaticSource Config

// Load implements Source.
func (s StaticSource) Load(context.Context) (Config, error) {
	cfg := Config(s)
	return cfg, cfg.Validate()
}

// Environment variables read by EnvSource.
const (
	EnvKillSwitch       = "BRAIN_KILL_SWITCH"
	EnvDailyCap         = "BRAIN_DAILY_CAP"
	EnvCircuitThreshold = "BRAIN_CIRCUIT_THRESHOLD"
	EnvCircuitWindow    = "BRAIN_CIRCUIT_WINDOW"
)

// EnvSource reads the guard settings from the process environment on every
// Load, so an operator can flip the kill switch without a restart.
type EnvSource struct {
	// Lookup replaces os.LookupEnv in tests.
	Lookup func(key string) (string, bool)
}

// Load implements Source. Unset variables take their defaults; a set but
// unparseable variable is an error.
func (s EnvSource) Load(context.Context) (Config, error) {
	env := config.NewEnv(s.Lookup)
	def := DefaultConfig()
	cfg := Config{
		KillSwitch:       env.Bool(EnvKillSwitch, def.KillSwitch),
		DailyCap:         env.Int(EnvDailyCap, def.DailyCap),
		CircuitThreshold: env.Int(EnvCircuitThreshold, def.CircuitThreshold),
		CircuitWindow:    env.Duration(EnvCircuitWindow, def.CircuitWindow),
	}
	if err := env.Err(); err != nil {
		return Config{}, fmt.Errorf("guard: env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("guard: env config: %w", err)
	}
	return cfg, nil
}
