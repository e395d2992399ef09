package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/storage/storagetest"
)

func insert(t *testing.T, db *storage.DB, status models.RideStatus, at time.Time) *models.Ride {
	t.Helper()
	r := &models.Ride{
		ID: uuid.NewString(), SourcePlatform: models.SourceDirect, Status: status,
		PickupAddress: "Linate", DropoffAddress: "Duomo", ScheduledAt: at, PassengerCount: 1,
		CreatedAt: at.Add(-48 * time.Hour), UpdatedAt: at.Add(-48 * time.Hour),
	}
	if err := db.InsertRide(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSweepEscalatesOnlyInsideWindow(t *testing.T) {
	ctx := context.Background()
	db := storagetest.New(t)
	admin := storagetest.SeedUser(t, db, models.RoleAdmin)
	assistant := storagetest.SeedUser(t, db, models.RoleAssistant)
	storagetest.SeedUser(t, db, models.RoleFinance)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	inside := insert(t, db, models.StatusToAssign, now.Add(2*time.Hour+59*time.Minute))
	outside := insert(t, db, models.StatusToAssign, now.Add(3*time.Hour+time.Minute))
	past := insert(t, db, models.StatusToAssign, now.Add(-10*time.Minute))

	pub := &events.Recorder{}
	clock := func() time.Time { return now }
	s := New(lifecycle.New(db, pub, nil, lifecycle.WithClock(clock)), 0, 0, nil)
	s.now = clock

	n, err := s.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d err=%v", n, err)
	}
	got, _ := db.GetRide(ctx, inside.ID)
	if got.Status != models.StatusCritical || got.CriticalAt == nil || !got.CriticalAt.Equal(now) {
		t.Fatalf("inside ride = %+v", got)
	}
	for _, r := range []*models.Ride{outside, past} {
		if g, _ := db.GetRide(ctx, r.ID); g.Status != models.StatusToAssign {
			t.Fatalf("ride at %s should stay to_assign", r.ScheduledAt)
		}
	}

	h, _ := db.RideHistory(ctx, inside.ID)
	if len(h) != 1 || h[0].Notes != lifecycle.EscalationNote || h[0].ChangedBy != "" || h[0].OldStatus != models.StatusToAssign {
		t.Fatalf("history = %+v", h)
	}
	for _, u := range []models.User{admin, assistant} {
		ns, _ := db.ListNotifications(ctx, u.ID, false, 10)
		if len(ns) != 1 || ns[0].Type != models.NotifyRideCritical {
			t.Fatalf("%s notifications = %+v", u.Role, ns)
		}
	}
	if len(pub.OfType(events.NotificationCreated)) != 2 {
		t.Fatalf("events = %+v", pub.Events)
	}

	// A second sweep finds nothing new.
	n, err = s.Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second sweep = %d err=%v", n, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	db := storagetest.New(t)
	s := New(lifecycle.New(db, nil, nil), time.Hour, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
