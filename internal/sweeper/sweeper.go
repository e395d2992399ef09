// Package sweeper escalates unassigned rides that are about to start.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/observability"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultWindow   = 3 * time.Hour
)

type Sweeper struct {
	engine   *lifecycle.Engine
	interval time.Duration
	window   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func New(engine *lifecycle.Engine, interval, window time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Sweeper{engine: engine, interval: interval, window: window, now: time.Now, logger: logging.Component(logger, "sweeper")}
}

// Sweep escalates every to_assign ride scheduled within the window and
// returns how many were escalated. Rides already past their scheduled time
// are left alone. A ride that fails to escalate is rolled back on its own
// and retried on the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	observability.SweepRuns.Inc()
	defer func() { observability.SweepDuration.Observe(time.Since(start).Seconds()) }()

	now := s.now().UTC()
	escalated := 0
	err := s.engine.Batch(ctx, func(b *lifecycle.Batch) error {
		due, err := b.DueForEscalation(ctx, now, now.Add(s.window))
		if err != nil {
			return err
		}
		for _, r := range due {
			if err := b.Escalate(ctx, r.ID); err != nil {
				observability.SweepFailures.Inc()
				s.logger.Error("escalate ride", "ride_id", r.ID, "err", err)
				continue
			}
			escalated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	observability.SweepEscalations.Add(float64(escalated))
	if escalated > 0 {
		s.logger.Info("rides escalated to critical", "count", escalated)
	}
	return escalated, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("critical sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
