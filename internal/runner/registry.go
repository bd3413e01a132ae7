package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/brain/internal/gateway"
	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/telemetry"
)

// Registry maps session ids to sessions and evicts idle ones.
//
// A session is idle when it has no active run; it is evicted once it has
// been idle for longer than the configured TTL. Dispatched run ids are kept
// at registry scope, so eviction does not forget them.
type Registry struct {
	gw         gateway.Gateway
	cfg        Config
	logger     *slog.Logger
	dispatched *idSet

	mu       sync.Mutex
	sessions map[string]*Session
	idleTTL  time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry. Call Close to stop the eviction goroutine.
func NewRegistry(gw gateway.Gateway, cfg Config, idleTTL time.Duration, logger *slog.Logger) *Registry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	r := &Registry{
		gw:         gw,
		cfg:        cfg,
		logger:     logger,
		dispatched: newIDSet(registryIDsKept),
		sessions:   make(map[string]*Session),
		idleTTL:    idleTTL,
		done:       make(chan struct{}),
	}
	r.registerMetrics()
	go r.evictLoop()
	return r
}

// Session returns the session with the given id, creating it if needed.
// The session may be evicted once idle; use Submit to start a run.
func (r *Registry) Session(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionLocked(id)
}

// Submit starts a run in the session with the given id, creating the
// session if needed. An empty runID gets a generated one. The session is
// resolved and its run slot claimed under the registry lock, so eviction
// cannot drop the session in between.
func (r *Registry) Submit(ctx context.Context, sessionID string, runID model.RunID, prompt string) (*Session, model.RunID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessionLocked(sessionID)
	var (
		id  model.RunID
		err error
	)
	if runID == "" {
		id, err = s.Submit(ctx, prompt)
	} else {
		id, err = s.SubmitWithID(ctx, runID, prompt)
	}
	return s, id, err
}

func (r *Registry) sessionLocked(id string) *Session {
	s, ok := r.sessions[id]
	if !ok {
		s = newSession(id, r.gw, r.cfg, r.logger, r.dispatched)
		r.sessions[id] = s
	}
	return s
}

// Lookup returns an existing session without creating one.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CancelAll cancels every active run, used during shutdown.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	n := 0
	for _, s := range sessions {
		if s.Cancel() {
			n++
		}
	}
	return n
}

// Close stops the background eviction goroutine.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Registry) evictLoop() {
	interval := r.idleTTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.evictIdle(now)
		}
	}
}

func (r *Registry) evictIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, s := range r.sessions {
		last, idle := s.idleSince()
		if idle && now.Sub(last) > r.idleTTL {
			delete(r.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Debug("evicted idle sessions", "count", evicted)
	}
	return evicted
}

func (r *Registry) registerMetrics() {
	meter := telemetry.Meter("brain/runner")
	_, _ = meter.Int64ObservableGauge("brain.runner.sessions",
		metric.WithDescription("Live sessions in the registry"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.Len()))
			return nil
		}),
	)
}
