// Package jobs drives the periodic recomputation pipeline: rankings,
// then streaks, then tie-breaker detection and expiry. Tie detection
// reads the ranking snapshot, so the order is fixed. The runner is a
// single goroutine; a run always finishes before the next starts.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/mattdh/officepulse/internal/metrics"
	"github.com/mattdh/officepulse/internal/rankings"
	"github.com/mattdh/officepulse/internal/streaks"
	"github.com/mattdh/officepulse/internal/tiebreak"
)

// Runner owns the refresh loop.
type Runner struct {
	ranks   *rankings.Aggregator
	streaks *streaks.Tracker
	ties    *tiebreak.Manager
	log     *slog.Logger

	interval time.Duration
	kick     chan struct{}
}

// New wires a runner. Interval must be positive.
func New(ranks *rankings.Aggregator, tracker *streaks.Tracker, ties *tiebreak.Manager, interval time.Duration, lg *slog.Logger) *Runner {
	return &Runner{
		ranks:    ranks,
		streaks:  tracker,
		ties:     ties,
		log:      lg.With(slog.String("component", "jobs")),
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an out-of-cycle run, coalescing with any already
// pending request. Used after attendance writes and ingest events.
func (r *Runner) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run executes one pass immediately, then on every tick or kick until
// the context ends. A failed stage is logged and retried next round; it
// never aborts the loop.
func (r *Runner) Run(ctx context.Context) {
	r.RunOnce(ctx, time.Now().UTC())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("runner stopped")
			return
		case <-ticker.C:
		case <-r.kick:
		}
		r.RunOnce(ctx, time.Now().UTC())
	}
}

// RunOnce executes the full pipeline once for the given reference time.
func (r *Runner) RunOnce(ctx context.Context, now time.Time) {
	r.stage(ctx, "rankings", func(ctx context.Context) error {
		return r.ranks.Refresh(ctx, now)
	})
	r.stage(ctx, "streaks", func(ctx context.Context) error {
		return r.streaks.Refresh(ctx, now)
	})
	r.stage(ctx, "tiebreak_detect", func(ctx context.Context) error {
		return r.ties.Detect(ctx, now)
	})
	r.stage(ctx, "tiebreak_expire", func(ctx context.Context) error {
		return r.ties.ExpireStale(ctx, now)
	})
}

func (r *Runner) stage(ctx context.Context, name string, fn func(context.Context) error) {
	started := time.Now()
	err := fn(ctx)
	took := time.Since(started)
	metrics.RefreshDuration.WithLabelValues(name).Observe(took.Seconds())
	if err != nil {
		metrics.RefreshErrors.WithLabelValues(name).Inc()
		r.log.Error("stage failed",
			slog.String("stage", name),
			slog.Duration("took", took),
			slog.String("err", err.Error()),
		)
	}
}
