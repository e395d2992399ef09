package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/observability"
)

// Fanout is an events.Publisher that pushes notification events to the
// recipient's live websocket sessions. Users without a session are skipped;
// the push consumer reaches them instead.
type Fanout struct {
	ws     *WSRegistry
	logger *slog.Logger
}

func NewFanout(ws *WSRegistry, logger *slog.Logger) *Fanout {
	return &Fanout{ws: ws, logger: logging.Component(logger, "fanout")}
}

func (f *Fanout) Publish(_ context.Context, evs ...events.Event) error {
	for _, e := range evs {
		if e.Type != events.NotificationCreated || e.Notification == nil {
			continue
		}
		err := f.ws.Send(e.Notification.UserID, e.Notification)
		if errors.Is(err, ErrNoSession) {
			continue
		}
		observability.EventsPublished.WithLabelValues("ws", observability.Outcome(err)).Inc()
		if err != nil {
			f.logger.Warn("notification not delivered live", "user_id", e.Notification.UserID, "notification_id", e.Notification.ID, "err", err)
		}
	}
	return nil
}
