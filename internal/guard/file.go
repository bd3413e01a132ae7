package guard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape. Pointers distinguish unset keys, which take
// defaults, from explicit zero values.
type fileConfig struct {
	KillSwitch       *bool   `yaml:"kill_switch"`
	DailyCap         *int    `yaml:"daily_cap"`
	CircuitThreshold *int    `yaml:"circuit_threshold"`
	CircuitWindow    *string `yaml:"circuit_window"`
}

// ParseYAML decodes a guard configuration document. Unknown keys are errors
// so a misspelled kill switch cannot silently stay off.
func ParseYAML(data []byte) (Config, error) {
	cfg := DefaultConfig()
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("guard: parse yaml: %w", err)
	}

	if fc.KillSwitch != nil {
		cfg.KillSwitch = *fc.KillSwitch
	}
	if fc.DailyCap != nil {
		cfg.DailyCap = *fc.DailyCap
	}
	if fc.CircuitThreshold != nil {
		cfg.CircuitThreshold = *fc.CircuitThreshold
	}
	if fc.CircuitWindow != nil {
		d, err := time.ParseDuration(*fc.CircuitWindow)
		if err != nil {
			return Config{}, fmt.Errorf("guard: circuit_window %q is not a valid duration", *fc.CircuitWindow)
		}
		cfg.CircuitWindow = d
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("guard: yaml config: %w", err)
	}
	return cfg, nil
}

// FileSource serves the configuration held in a YAML file. The file is read
// once at construction and again whenever Watch sees it change. While the
// file is missing or invalid, Load returns the error and every run is
// rejected.
type FileSource struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	cfg Config
	err error
}

// NewFileSource reads path and returns a source over it. A read or parse
// failure is kept as the source's current error rather than returned, so the
// server can start and stay closed until the file is fixed.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	s := &FileSource{path: path, logger: logger}
	s.reload()
	return s
}

// Load implements Source.
func (s *FileSource) Load(context.Context) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.err
}

// Path returns the watched file.
func (s *FileSource) Path() string { return s.path }

func (s *FileSource) reload() {
	cfg, err := readConfigFile(s.path)

	s.mu.Lock()
	s.cfg, s.err = cfg, err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("guard config unusable, rejecting deliberation runs", "path", s.path, "error", err)
		return
	}
	s.logger.Info("guard config loaded",
		"path", s.path,
		"kill_switch", cfg.KillSwitch,
		"daily_cap", cfg.DailyCap,
		"circuit_threshold", cfg.CircuitThreshold,
		"circuit_window", cfg.CircuitWindow,
	)
}

func readConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("guard: read config: %w", err)
	}
	return ParseYAML(data)
}

// Watch reloads the file on every change until ctx is done. The parent
// directory is watched so editors that replace the file by rename are seen.
func (s *FileSource) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("guard: create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("guard: watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				s.reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("guard config watcher error", "error", err)
		}
	}
}
