package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// EscalationNote is the history note of a sweep escalation.
const EscalationNote = "Auto-marked as critical: < 3h to scheduled time"

// Batch groups several system operations in one transaction. Each step runs
// in its own savepoint, so a failed step is undone alone and the others
// still commit.
type Batch struct {
	e     *Engine
	tx    *storage.Tx
	fx    *effects
	staff []models.User
	// staffLoaded distinguishes "not loaded" from "no staff".
	staffLoaded bool
}

func (e *Engine) Batch(ctx context.Context, fn func(b *Batch) error) error {
	return e.run(ctx, func(tx *storage.Tx, fx *effects) error {
		return fn(&Batch{e: e, tx: tx, fx: fx})
	})
}

// DueForEscalation lists to_assign rides with now < scheduled_at <= until.
func (b *Batch) DueForEscalation(ctx context.Context, now, until time.Time) ([]*models.Ride, error) {
	rides, err := b.tx.ListDueForEscalation(ctx, now, until)
	if err != nil {
		return nil, fmt.Errorf("list rides due for escalation: %w", err)
	}
	return rides, nil
}

// Escalate marks a to_assign ride critical and notifies every admin and
// assistant.
func (b *Batch) Escalate(ctx context.Context, rideID string) error {
	if !b.staffLoaded {
		staff, err := staffUsers(ctx, b.tx)
		if err != nil {
			return err
		}
		b.staff, b.staffLoaded = staff, true
	}
	local := &effects{}
	err := b.tx.Savepoint(ctx, func() error {
		r, err := loadRide(ctx, b.tx, rideID)
		if err != nil {
			return err
		}
		if r.Status != models.StatusToAssign {
			return apperr.InvalidState("ride is %s, not to_assign", r.Status)
		}
		now := b.e.clock()
		r.CriticalAt = &now
		if err := b.e.transition(ctx, b.tx, local, r, models.StatusCritical, System, EscalationNote); err != nil {
			return err
		}
		body := fmt.Sprintf("The ride %s (scheduled at %s) is still unassigned.", route(r), r.ScheduledAt.Format("15:04"))
		return b.e.notifyStaff(ctx, b.tx, local, b.staff, models.NotifyRideCritical, "Critical ride", body, r.ID)
	})
	if err != nil {
		return err
	}
	b.fx.merge(local)
	return nil
}
