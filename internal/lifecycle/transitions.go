package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// Assign hands a to_assign or critical ride to a driver. The status does not
// change; the driver still has to accept.
func (e *Engine) Assign(ctx context.Context, by Actor, rideID, driverID string) (*models.Ride, error) {
	if !by.staff() {
		return nil, apperr.Forbidden("only admins and assistants can assign rides")
	}
	var out *models.Ride
	err := e.run(ctx, func(tx *storage.Tx, fx *effects) error {
		r, err := loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		if !r.Status.Assignable() {
			return apperr.InvalidState("cannot assign a ride in status %s", r.Status)
		}
		if _, err := tx.GetDriver(ctx, driverID); errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("driver not found")
		} else if err != nil {
			return fmt.Errorf("load driver %s: %w", driverID, err)
		}

		now := e.clock()
		r.DriverID = driverID
		r.AssignedBy = by.changedBy()
		r.UpdatedAt = now
		if r.Status == models.StatusCritical {
			r.CriticalResolvedAt = &now
			r.CriticalResolutionType = models.ResolvedByAssign
		}
		if err := save(ctx, tx, r, r.Status); err != nil {
			return err
		}
		fx.events = append(fx.events, events.Event{Type: events.RideAssigned, RideID: r.ID, ToStatus: r.Status, ActorID: by.changedBy(), At: now})
		if err := e.notify(ctx, tx, fx, driverID, models.NotifyRideAssigned,
			"New ride assigned", "You have been assigned a ride: "+route(r), r.ID); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// checkAssigned enforces that only the ride's driver moves it forward.
func checkAssigned(by Actor, r *models.Ride) error {
	if !by.isDriver(r.DriverID) {
		return apperr.Forbidden("you are not assigned to this ride")
	}
	return nil
}

func (e *Engine) Accept(ctx context.Context, by Actor, rideID string) (*models.Ride, error) {
	var out *models.Ride
	err := e.run(ctx, func(tx *storage.Tx, fx *effects) error {
		r, err := loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		if err := checkAssigned(by, r); err != nil {
			return err
		}
		wasCritical := r.Status == models.StatusCritical
		if wasCritical {
			now := e.clock()
			r.CriticalResolvedAt = &now
			r.CriticalResolutionType = models.ResolvedByAccept
		}
		if err := e.transition(ctx, tx, fx, r, models.StatusBooked, by, "Driver accepted the ride"); err != nil {
			return err
		}
		staff, err := staffUsers(ctx, tx)
		if err != nil {
			return err
		}
		if err := e.notifyStaff(ctx, tx, fx, staff, models.NotifyRideAccepted,
			"Ride accepted", "The ride "+route(r)+" was accepted by the driver.", r.ID); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (e *Engine) Start(ctx context.Context, by Actor, rideID string) (*models.Ride, error) {
	var out *models.Ride
	err := e.run(ctx, func(tx *storage.Tx, fx *effects) error {
		r, err := loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		if err := checkAssigned(by, r); err != nil {
			return err
		}
		if r.Status.CanTransition(models.StatusInProgress) {
			now := e.clock()
			r.StartedAt = &now
		}
		if err := e.transition(ctx, tx, fx, r, models.StatusInProgress, by, "Driver started the ride"); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// Complete finishes the ride and adds its distance and driver share to the
// driver's totals. A second Complete fails on the transition table, so the
// totals move once per ride.
func (e *Engine) Complete(ctx context.Context, by Actor, rideID string) (*models.Ride, error) {
	var out *models.Ride
	err := e.run(ctx, func(tx *storage.Tx, fx *effects) error {
		r, err := loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		if err := checkAssigned(by, r); err != nil {
			return err
		}
		if r.Status.CanTransition(models.StatusCompleted) {
			now := e.clock()
			r.CompletedAt = &now
		}
		if err := e.transition(ctx, tx, fx, r, models.StatusCompleted, by, "Driver completed the ride"); err != nil {
			return err
		}

		// Assign only accepts users with a driver profile, so the row is there.
		d, err := tx.GetDriver(ctx, r.DriverID)
		if err != nil {
			return fmt.Errorf("load driver %s: %w", r.DriverID, err)
		}
		km, earnings := decimal.Zero, decimal.Zero
		if r.DistanceKm.Valid {
			km = r.DistanceKm.Decimal
		}
		if r.DriverShare.Valid {
			earnings = r.DriverShare.Decimal
		}
		if err := tx.AddDriverTotals(ctx, d, km, earnings); err != nil {
			return fmt.Errorf("update driver totals: %w", err)
		}
		out = r
		return nil
	})
	return out, err
}

// Cancel ends a ride from any non-terminal status. Staff and the system may
// cancel any ride; a driver only one assigned to them.
func (e *Engine) Cancel(ctx context.Context, by Actor, rideID, note string) (*models.Ride, error) {
	if note == "" {
		note = "Ride cancelled"
	}
	var out *models.Ride
	err := e.run(ctx, func(tx *storage.Tx, fx *effects) error {
		r, err := loadRide(ctx, tx, rideID)
		if err != nil {
			return err
		}
		if !by.staff() && !by.isDriver(r.DriverID) {
			return apperr.Forbidden("you cannot cancel this ride")
		}
		if err := e.transition(ctx, tx, fx, r, models.StatusCancelled, by, note); err != nil {
			return err
		}
		if r.DriverID != "" {
			if err := e.notify(ctx, tx, fx, r.DriverID, models.NotifyRideCancelled,
				"Ride cancelled", "The ride "+route(r)+" has been cancelled.", r.ID); err != nil {
				return err
			}
		}
		out = r
		return nil
	})
	return out, err
}
