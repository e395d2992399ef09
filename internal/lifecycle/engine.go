// Package lifecycle owns ride state. Every status change goes through an
// Engine operation, which checks the caller, applies the transition table,
// writes the history row and notification records in one transaction, and
// publishes the resulting events once that transaction has committed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

type Engine struct {
	db     *storage.DB
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(db *storage.DB, pub events.Publisher, logger *slog.Logger, opts ...Option) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	e := &Engine{db: db, pub: pub, logger: logging.Component(logger, "lifecycle"), now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) clock() time.Time { return e.now().UTC() }

// effects collects what a transaction produced so it can be reported after
// commit.
type effects struct {
	events        []events.Event
	transitions   [][2]models.RideStatus
	notifications []models.Notification
	created       []string
}

func (fx *effects) merge(other *effects) {
	fx.events = append(fx.events, other.events...)
	fx.transitions = append(fx.transitions, other.transitions...)
	fx.notifications = append(fx.notifications, other.notifications...)
	fx.created = append(fx.created, other.created...)
}

func (e *Engine) run(ctx context.Context, fn func(tx *storage.Tx, fx *effects) error) error {
	fx := &effects{}
	if err := e.db.InTx(ctx, func(tx *storage.Tx) error { return fn(tx, fx) }); err != nil {
		return err
	}
	e.flush(ctx, fx)
	return nil
}

func (e *Engine) flush(ctx context.Context, fx *effects) {
	for _, t := range fx.transitions {
		observability.Transitions.WithLabelValues(string(t[0]), string(t[1])).Inc()
	}
	for _, src := range fx.created {
		observability.RidesCreated.WithLabelValues(src).Inc()
	}
	evs := fx.events
	for i := range fx.notifications {
		n := fx.notifications[i]
		observability.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
		evs = append(evs, events.Event{Type: events.NotificationCreated, RideID: n.RideID, Notification: &n, At: n.SentAt})
	}
	if len(evs) == 0 {
		return
	}
	if err := e.pub.Publish(ctx, evs...); err != nil {
		e.logger.Error("publish events", "count", len(evs), "err", err)
	}
}

func loadRide(ctx context.Context, tx *storage.Tx, id string) (*models.Ride, error) {
	r, err := tx.GetRideForUpdate(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("ride not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load ride %s: %w", id, err)
	}
	return r, nil
}

// save writes r if it still has status expect.
func save(ctx context.Context, tx *storage.Tx, r *models.Ride, expect models.RideStatus) error {
	err := tx.SaveRide(ctx, r, expect)
	if errors.Is(err, storage.ErrStale) {
		return apperr.InvalidState("ride %s was changed concurrently", r.ID)
	}
	if err != nil {
		return fmt.Errorf("save ride %s: %w", r.ID, err)
	}
	return nil
}

// newHistoryID returns a time-ordered id. History rows written under the
// same clock reading sort by id, so they still read back in write order.
func newHistoryID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (e *Engine) history(ctx context.Context, tx *storage.Tx, r *models.Ride, old models.RideStatus, by Actor, note string) error {
	h := &models.RideHistory{
		ID:        newHistoryID(),
		RideID:    r.ID,
		OldStatus: old,
		NewStatus: r.Status,
		ChangedBy: by.changedBy(),
		Notes:     note,
		CreatedAt: e.clock(),
	}
	if err := tx.InsertHistory(ctx, h); err != nil {
		return fmt.Errorf("write history for ride %s: %w", r.ID, err)
	}
	return nil
}

// transition moves r to status to, persisting the ride and its history row.
func (e *Engine) transition(ctx context.Context, tx *storage.Tx, fx *effects, r *models.Ride, to models.RideStatus, by Actor, note string) error {
	from := r.Status
	if !from.CanTransition(to) {
		return apperr.InvalidState("invalid status transition: %s -> %s", from, to)
	}
	r.Status = to
	r.UpdatedAt = e.clock()
	if err := save(ctx, tx, r, from); err != nil {
		return err
	}
	if err := e.history(ctx, tx, r, from, by, note); err != nil {
		return err
	}
	fx.transitions = append(fx.transitions, [2]models.RideStatus{from, to})
	fx.events = append(fx.events, events.Event{
		Type: events.RideStatusChanged, RideID: r.ID, FromStatus: from, ToStatus: to,
		ActorID: by.changedBy(), At: r.UpdatedAt,
	})
	return nil
}

func (e *Engine) notify(ctx context.Context, tx *storage.Tx, fx *effects, userID string, typ models.NotificationType, title, body, rideID string) error {
	n := models.Notification{
		ID:     uuid.NewString(),
		UserID: userID,
		Type:   typ,
		Title:  title,
		Body:   body,
		RideID: rideID,
		SentAt: e.clock(),
	}
	if err := tx.InsertNotification(ctx, &n); err != nil {
		return fmt.Errorf("write %s notification: %w", typ, err)
	}
	fx.notifications = append(fx.notifications, n)
	return nil
}

// notifyStaff notifies every active admin and assistant.
func (e *Engine) notifyStaff(ctx context.Context, tx *storage.Tx, fx *effects, staff []models.User, typ models.NotificationType, title, body, rideID string) error {
	for _, u := range staff {
		if err := e.notify(ctx, tx, fx, u.ID, typ, title, body, rideID); err != nil {
			return err
		}
	}
	return nil
}

func staffUsers(ctx context.Context, tx *storage.Tx) ([]models.User, error) {
	users, err := tx.ListUsersByRole(ctx, models.RoleAdmin, models.RoleAssistant)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	return users, nil
}

func route(r *models.Ride) string {
	return r.PickupAddress + " → " + r.DropoffAddress
}
