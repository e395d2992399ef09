// Package events carries ride domain events out of the lifecycle engine
// after their transaction commits.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type Type string

const (
	RideCreated         Type = "ride.created"
	RideUpdated         Type = "ride.updated"
	RideAssigned        Type = "ride.assigned"
	RideStatusChanged   Type = "ride.status_changed"
	NotificationCreated Type = "notification.created"
)

type Event struct {
	Type       Type              `json:"type"`
	RideID     string            `json:"ride_id"`
	FromStatus models.RideStatus `json:"from_status,omitempty"`
	ToStatus   models.RideStatus `json:"to_status,omitempty"`
	ActorID    string            `json:"actor_id,omitempty"`
	// Notification is set on NotificationCreated events only.
	Notification *models.Notification `json:"notification,omitempty"`
	At           time.Time            `json:"at"`
}

// Key partitions events so that one ride's events stay ordered.
func (e Event) Key() string {
	if e.RideID != "" {
		return e.RideID
	}
	if e.Notification != nil {
		return e.Notification.UserID
	}
	return string(e.Type)
}

type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evs ...Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evs...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	Events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, evs ...Event) error {
	r.Events = append(r.Events, evs...)
	return r.Err
}

// OfType filters recorded events.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
