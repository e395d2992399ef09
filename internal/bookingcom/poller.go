package bookingcom

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/logging"
)

const DefaultPollInterval = 5 * time.Minute

// Poller runs Sync on a fixed interval so bookings missed by the webhook
// still reach the dispatch board.
type Poller struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewPoller(svc *Service, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{svc: svc, interval: interval, logger: logging.Component(logger, "bookingcom-poller")}
}

// Run polls until ctx is done. Failures are logged and retried on the next
// tick.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if _, err := p.svc.Sync(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("booking.com poll failed", "err", err)
		}
	}
}
