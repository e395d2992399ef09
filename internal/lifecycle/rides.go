package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

func validateRide(r *models.Ride) error {
	switch {
	case strings.TrimSpace(r.PickupAddress) == "":
		return apperr.Validation("pickup_address is required")
	case strings.TrimSpace(r.DropoffAddress) == "":
		return apperr.Validation("dropoff_address is required")
	case r.ScheduledAt.IsZero():
		return apperr.Validation("scheduled_at is required")
	case r.PassengerCount < 1:
		return apperr.Validation("passenger_count must be at least 1")
	case r.RouteType != "" && r.RouteType != models.RouteUrban && r.RouteType != models.RouteExtraUrban:
		return apperr.Validation("unknown route_type %q", r.RouteType)
	}
	return nil
}

// Create inserts r as a new to_assign ride with its creation history row.
// note overrides the default "Ride created" history note.
func (e *Engine) Create(ctx context.Context, by Actor, r *models.Ride, note string) (*models.Ride, error) {
	if !by.staff() {
		return nil, apperr.Forbidden("only admins and assistants can create rides")
	}
	if r.PassengerCount == 0 {
		r.PassengerCount = 1
	}
	if err := validateRide(r); err != nil {
		return nil, err
	}
	if r.DriverID != "" {
		return nil, apperr.Validation("driver_id is set through assignment, not on creation")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.SourcePlatform == "" {
		r.SourcePlatform = models.SourceDirect
	}
	if note == "" {
		note = "Ride created"
	}
	now := e.clock()
	r.Status = models.StatusToAssign
	r.ScheduledAt = r.ScheduledAt.UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	r.StartedAt, r.CompletedAt, r.CriticalAt, r.CriticalResolvedAt = nil, nil, nil, nil
	r.CriticalResolutionType = ""

	err := e.run(ctx, func(tx *storage.Tx, fx *effects) error {
		if err := tx.InsertRide(ctx, r); errors.Is(err, storage.ErrDuplicate) {
			return apperr.Conflict("ride %s from %s already exists", r.ExternalID, r.SourcePlatform)
		} else if err != nil {
			return fmt.Errorf("insert ride: %w", err)
		}
		if err := e.history(ctx, tx, r, "", by, note); err != nil {
			return err
		}
		fx.created = append(fx.created, r.SourcePlatform)
		fx.events = append(fx.events, events.Event{Type: events.RideCreated, RideID: r.ID, ToStatus: r.Status, ActorID: by.changedBy(), At: now})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Update edits non-status fields. RidePatch has no status field, so the
// audit trail cannot be bypassed here.
func (e *Engine) Update(ctx context.Context, by Actor, rideID string, p models.RidePatch) (*models.Ride, error) {
	return e.edit(ctx, by, rideID, p, "")
}

// Amend edits like Update and records note as a history row whose old and
// new status are the same.
func (e *Engine) Amend(ctx context.Context, by Actor, rideID string, p models.RidePatch, note string) (*models.Ride, error) {
	if note == "" {
		note = "Ride amended"
	}
	return e.edit(ctx, by, rideID, p, note)
}

func (e *Engine) edit(ctx context.Context, by Actor, rideID string, p models.RidePatch, note string) (*models.Ride, error) {
	if !by.staff() {
		return nil, apperr.Forbidden("only admins and assistants can edit rides")
	}
	var out *models.Ride
	err := e.run(ctx, func(tx *storage.Tx, fx *effects) error {
		r, err := loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		p.Apply(r)
		if err := validateRide(r); err != nil {
			return err
		}
		r.UpdatedAt = e.clock()
		if err := save(ctx, tx, r, r.Status); err != nil {
			return err
		}
		if note != "" {
			if err := e.history(ctx, tx, r, r.Status, by, note); err != nil {
				return err
			}
		}
		fx.events = append(fx.events, events.Event{Type: events.RideUpdated, RideID: r.ID, ToStatus: r.Status, ActorID: by.changedBy(), At: r.UpdatedAt})
		out = r
		return nil
	})
	return out, err
}

// Annotate appends a history row without touching the ride.
func (e *Engine) Annotate(ctx context.Context, by Actor, rideID, note string) error {
	if !by.staff() {
		return apperr.Forbidden("only admins and assistants can annotate rides")
	}
	return e.run(ctx, func(tx *storage.Tx, fx *effects) error {
		r, err := loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		return e.history(ctx, tx, r, r.Status, by, note)
	})
}

// RideView is a ride with its history, oldest first.
type RideView struct {
	*models.Ride
	History []models.RideHistory `json:"history"`
}

func visibleTo(by Actor, r *models.Ride) bool {
	if by.system || by.Role != models.RoleDriver {
		return true
	}
	return r.DriverID == by.UserID || r.Status.Assignable()
}

// Get returns a ride and its timeline. Drivers get not-found for rides they
// may not see.
func (e *Engine) Get(ctx context.Context, by Actor, rideID string) (*RideView, error) {
	r, err := e.db.GetRide(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !visibleTo(by, r)) {
		return nil, apperr.NotFound("ride not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get ride %s: %w", rideID, err)
	}
	h, err := e.db.RideHistory(ctx, rideID)
	if err != nil {
		return nil, fmt.Errorf("ride history %s: %w", rideID, err)
	}
	return &RideView{Ride: r, History: h}, nil
}

// List applies driver visibility and page bounds to f.
func (e *Engine) List(ctx context.Context, by Actor, f models.RideFilter) ([]*models.Ride, error) {
	if !by.system && by.Role == models.RoleDriver {
		f.VisibleTo = by.UserID
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	rides, err := e.db.ListRides(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list rides: %w", err)
	}
	return rides, nil
}

func (e *Engine) Notifications(ctx context.Context, by Actor, unreadOnly bool, limit int) ([]models.Notification, error) {
	if by.UserID == "" {
		return nil, apperr.Forbidden("notifications belong to users")
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	ns, err := e.db.ListNotifications(ctx, by.UserID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return ns, nil
}

func (e *Engine) MarkRead(ctx context.Context, by Actor, notificationID string) error {
	err := e.db.MarkNotificationRead(ctx, by.UserID, notificationID, e.clock())
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("notification not found")
	}
	return err
}
