// Package guard decides whether a deliberation run may start.
//
// Admit evaluates three checks in order and stops at the first rejection:
// the kill switch, the daily run cap and the circuit breaker over recent
// aborted runs. Every check fails closed: a config or store error rejects
// the run with that check's code.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/telemetry"
)

const queryTimeout = 5 * time.Second

// Store is the read side of the audit store the guard consults.
type Store interface {
	// CountSince returns the number of deliberation records created at or
	// after since.
	CountSince(ctx context.Context, since time.Time) (int, error)
	// RecentStatuses returns the final status of up to n records created at
	// or after since, newest first.
	RecentStatuses(ctx context.Context, n int, since time.Time) ([]model.FinalStatus, error)
}

// Rejection is returned by Admit when a run may not start.
type Rejection struct {
	Code   model.ErrorCode
	Reason string
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("guard: %s: %s: %v", r.Code, r.Reason, r.Err)
	}
	return fmt.Sprintf("guard: %s: %s", r.Code, r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Err }

// AsRejection extracts a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Guard runs the admission checks.
type Guard struct {
	source Source
	store  Store
	logger *slog.Logger
	now    func() time.Time

	counts     singleflight.Group
	tracer     trace.Tracer
	rejections metric.Int64Counter
}

// New creates a Guard.
func New(source Source, store Store, logger *slog.Logger) *Guard {
	rejections, _ := telemetry.Meter("brain/guard").Int64Counter("brain.guard.rejections",
		metric.WithDescription("Deliberation runs rejected by the admission guard, by code"),
	)
	return &Guard{
		source:     source,
		store:      store,
		logger:     logger,
		now:        time.Now,
		tracer:     telemetry.Tracer("brain/guard"),
		rejections: rejections,
	}
}

// Admit returns nil when a run may start, or a *Rejection.
func (g *Guard) Admit(ctx context.Context) error {
	ctx, span := g.tracer.Start(ctx, "guard.admit")
	defer span.End()

	err := g.admit(ctx)
	if rej, ok := AsRejection(err); ok {
		g.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("code", string(rej.Code))))
		span.SetAttributes(attribute.String("brain.guard.code", string(rej.Code)))
		span.SetStatus(codes.Error, rej.Reason)
		g.logger.Info("deliberation rejected", "code", rej.Code, "reason", rej.Reason, "error", rej.Err)
	}
	return err
}

func (g *Guard) admit(ctx context.Context) error {
	cfg, err := g.source.Load(ctx)
	if err != nil {
		// The kill switch cannot be read, so it is treated as on.
		return &Rejection{Code: model.CodeKilled, Reason: "guard config unavailable", Err: err}
	}

	if cfg.KillSwitch {
		return &Rejection{Code: model.CodeKilled, Reason: "kill switch is on"}
	}

	now := g.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	count, err := g.countSince(ctx, dayStart)
	if err != nil {
		return &Rejection{Code: model.CodeDailyCapExceeded, Reason: "daily count unavailable", Err: err}
	}
	if count >= cfg.DailyCap {
		return &Rejection{
			Code:   model.CodeDailyCapExceeded,
			Reason: fmt.Sprintf("%d runs today, cap %d", count, cfg.DailyCap),
		}
	}

	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	statuses, err := g.store.RecentStatuses(qctx, cfg.CircuitThreshold, now.Add(-cfg.CircuitWindow))
	if err != nil {
		return &Rejection{Code: model.CodeCircuitOpen, Reason: "recent runs unavailable", Err: err}
	}
	if tripped(statuses, cfg.CircuitThreshold) {
		return &Rejection{
			Code:   model.CodeCircuitOpen,
			Reason: fmt.Sprintf("last %d runs within %s aborted", cfg.CircuitThreshold, cfg.CircuitWindow),
		}
	}
	return nil
}

// countSince collapses concurrent daily-count queries into one. The shared
// query runs detached from any single caller's cancellation.
func (g *Guard) countSince(ctx context.Context, since time.Time) (int, error) {
	ch := g.counts.DoChan(since.Format(time.RFC3339), func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), queryTimeout)
		defer cancel()
		return g.store.CountSince(qctx, since)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// tripped reports whether the newest threshold runs all aborted. Fewer
// observations than the threshold never trip the breaker.
func tripped(statuses []model.FinalStatus, threshold int) bool {
	if len(statuses) < threshold {
		return false
	}
	for _, s := range statuses[:threshold] {
		if s != model.FinalAborted {
			return false
		}
	}
	return true
}
