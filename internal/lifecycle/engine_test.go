package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/storage/storagetest"
)

type fixture struct {
	ctx    context.Context
	db     *storage.DB
	engine *Engine
	pub    *events.Recorder
	now    time.Time
	admin  Actor
	driver models.Driver
	as     Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.New(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pub := &events.Recorder{}
	admin := storagetest.SeedUser(t, db, models.RoleAdmin)
	d := storagetest.SeedDriver(t, db, "Fiat", "Tipo", 4, "diesel")
	return &fixture{
		ctx:    context.Background(),
		db:     db,
		engine: New(db, pub, nil, WithClock(func() time.Time { return now })),
		pub:    pub,
		now:    now,
		admin:  UserActor(admin.ID, models.RoleAdmin),
		driver: d,
		as:     UserActor(d.ID, models.RoleDriver),
	}
}

func (f *fixture) create(t *testing.T) *models.Ride {
	t.Helper()
	r, err := f.engine.Create(f.ctx, f.admin, &models.Ride{
		PickupAddress:  "Milano Centrale",
		DropoffAddress: "Malpensa T1",
		ScheduledAt:    f.now.Add(24 * time.Hour),
		DistanceKm:     decimal.NewNullDecimal(decimal.RequireFromString("50")),
		Price:          decimal.NewNullDecimal(decimal.RequireFromString("65")),
		DriverShare:    decimal.NewNullDecimal(decimal.RequireFromString("40")),
	}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func (f *fixture) history(t *testing.T, id string) []models.RideHistory {
	t.Helper()
	h, err := f.db.RideHistory(f.ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if !apperr.Is(err, kind) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}

func TestRideHappyPath(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)
	if r.Status != models.StatusToAssign || r.PassengerCount != 1 || r.SourcePlatform != models.SourceDirect {
		t.Fatalf("unexpected defaults: %+v", r)
	}

	if _, err := f.engine.Assign(f.ctx, f.admin, r.ID, f.driver.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	got, _ := f.db.GetRide(f.ctx, r.ID)
	if got.Status != models.StatusToAssign || got.DriverID != f.driver.ID || got.AssignedBy != f.admin.UserID {
		t.Fatalf("assign should not change status: %+v", got)
	}
	if _, err := f.engine.Accept(f.ctx, f.as, r.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.engine.Start(f.ctx, f.as, r.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := f.engine.Complete(f.ctx, f.as, r.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Fatal("timestamps not stamped")
	}

	h := f.history(t, r.ID)
	want := []models.RideStatus{models.StatusToAssign, models.StatusBooked, models.StatusInProgress, models.StatusCompleted}
	if len(h) != len(want) {
		t.Fatalf("history rows = %d", len(h))
	}
	for i, s := range want {
		if h[i].NewStatus != s {
			t.Fatalf("history[%d] = %s want %s", i, h[i].NewStatus, s)
		}
	}
	if h[0].OldStatus != "" || h[0].Notes != "Ride created" {
		t.Fatalf("creation row = %+v", h[0])
	}

	n, _ := f.db.ListNotifications(f.ctx, f.driver.ID, false, 10)
	if len(n) != 1 || n[0].Type != models.NotifyRideAssigned {
		t.Fatalf("driver notifications = %+v", n)
	}
	n, _ = f.db.ListNotifications(f.ctx, f.admin.UserID, false, 10)
	if len(n) != 1 || n[0].Type != models.NotifyRideAccepted {
		t.Fatalf("admin notifications = %+v", n)
	}
	if len(f.pub.OfType(events.NotificationCreated)) != 2 || len(f.pub.OfType(events.RideStatusChanged)) != 3 {
		t.Fatalf("published %d events", len(f.pub.Events))
	}
}

// The fixture clock never moves, so every history row shares one timestamp.
func TestHistoryOrderWithFrozenClock(t *testing.T) {
	f := newFixture(t)
	rides := []*models.Ride{f.create(t), f.create(t), f.create(t)}
	for _, r := range rides {
		mustDo(t, func() error { _, err := f.engine.Assign(f.ctx, f.admin, r.ID, f.driver.ID); return err })
	}
	steps := []func(string) error{
		func(id string) error { _, err := f.engine.Accept(f.ctx, f.as, id); return err },
		func(id string) error { _, err := f.engine.Start(f.ctx, f.as, id); return err },
		func(id string) error { _, err := f.engine.Complete(f.ctx, f.as, id); return err },
	}
	for _, step := range steps {
		for _, r := range rides {
			mustDo(t, func() error { return step(r.ID) })
		}
	}

	want := []models.RideStatus{models.StatusToAssign, models.StatusBooked, models.StatusInProgress, models.StatusCompleted}
	for _, r := range rides {
		h := f.history(t, r.ID)
		if len(h) != len(want) {
			t.Fatalf("ride %s: history rows = %d", r.ID, len(h))
		}
		for i, s := range want {
			if !h[i].CreatedAt.Equal(f.now) {
				t.Fatalf("history[%d] created_at = %s", i, h[i].CreatedAt)
			}
			if h[i].NewStatus != s {
				t.Fatalf("ride %s: history[%d] = %s want %s", r.ID, i, h[i].NewStatus, s)
			}
			if i > 0 && h[i].OldStatus != want[i-1] {
				t.Fatalf("ride %s: history[%d] old = %s", r.ID, i, h[i].OldStatus)
			}
		}
	}
}

func TestCompleteTwiceCountsOnce(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)
	mustDo(t, func() error { _, err := f.engine.Assign(f.ctx, f.admin, r.ID, f.driver.ID); return err })
	mustDo(t, func() error { _, err := f.engine.Accept(f.ctx, f.as, r.ID); return err })
	mustDo(t, func() error { _, err := f.engine.Start(f.ctx, f.as, r.ID); return err })
	mustDo(t, func() error { _, err := f.engine.Complete(f.ctx, f.as, r.ID); return err })

	_, err := f.engine.Complete(f.ctx, f.as, r.ID)
	wantKind(t, err, apperr.KindInvalidState)

	d, err := f.db.GetDriver(f.ctx, f.driver.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.TotalRides != 1 || d.TotalKm.String() != "50" || d.TotalEarnings.String() != "40" {
		t.Fatalf("totals = %d %s %s", d.TotalRides, d.TotalKm, d.TotalEarnings)
	}
	if len(f.history(t, r.ID)) != 4 {
		t.Fatal("failed completion must not write history")
	}
}

func mustDo(t *testing.T, fn func() error) {
	t.Helper()
	if err := fn(); err != nil {
		t.Fatal(err)
	}
}

func TestIllegalTransitionLeavesRideUntouched(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)
	mustDo(t, func() error { _, err := f.engine.Assign(f.ctx, f.admin, r.ID, f.driver.ID); return err })

	_, err := f.engine.Start(f.ctx, f.as, r.ID)
	wantKind(t, err, apperr.KindInvalidState)
	_, err = f.engine.Complete(f.ctx, f.as, r.ID)
	wantKind(t, err, apperr.KindInvalidState)

	got, _ := f.db.GetRide(f.ctx, r.ID)
	if got.Status != models.StatusToAssign || got.StartedAt != nil {
		t.Fatalf("ride changed: %+v", got)
	}
	if len(f.history(t, r.ID)) != 1 {
		t.Fatal("history changed")
	}
}

func TestOnlyAssignedDriverMovesRide(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)
	other := storagetest.SeedDriver(t, f.db, "Fiat", "Panda", 4, "petrol")
	otherActor := UserActor(other.ID, models.RoleDriver)

	_, err := f.engine.Accept(f.ctx, f.as, r.ID)
	wantKind(t, err, apperr.KindForbidden)

	mustDo(t, func() error { _, err := f.engine.Assign(f.ctx, f.admin, r.ID, f.driver.ID); return err })
	_, err = f.engine.Accept(f.ctx, otherActor, r.ID)
	wantKind(t, err, apperr.KindForbidden)
	_, err = f.engine.Accept(f.ctx, f.admin, r.ID)
	wantKind(t, err, apperr.KindForbidden)
	_, err = f.engine.Assign(f.ctx, f.as, r.ID, f.driver.ID)
	wantKind(t, err, apperr.KindForbidden)
	_, err = f.engine.Cancel(f.ctx, otherActor, r.ID, "")
	wantKind(t, err, apperr.KindForbidden)

	if _, err := f.engine.Cancel(f.ctx, f.as, r.ID, "car broke down"); err != nil {
		t.Fatalf("assigned driver cancel: %v", err)
	}
	h := f.history(t, r.ID)
	if last := h[len(h)-1]; last.NewStatus != models.StatusCancelled || last.Notes != "car broke down" || last.ChangedBy != f.driver.ID {
		t.Fatalf("cancel history = %+v", last)
	}
}

func TestAssignErrors(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)

	_, err := f.engine.Assign(f.ctx, f.admin, "missing", f.driver.ID)
	wantKind(t, err, apperr.KindNotFound)
	_, err = f.engine.Assign(f.ctx, f.admin, r.ID, f.admin.UserID)
	wantKind(t, err, apperr.KindNotFound)
	// A driver account without a vehicle profile cannot take rides.
	bare := storagetest.SeedUser(t, f.db, models.RoleDriver)
	_, err = f.engine.Assign(f.ctx, f.admin, r.ID, bare.ID)
	wantKind(t, err, apperr.KindNotFound)
	if got, _ := f.db.GetRide(f.ctx, r.ID); got.DriverID != "" {
		t.Fatalf("driver set by a rejected assign: %q", got.DriverID)
	}

	mustDo(t, func() error { _, err := f.engine.Assign(f.ctx, f.admin, r.ID, f.driver.ID); return err })
	mustDo(t, func() error { _, err := f.engine.Accept(f.ctx, f.as, r.ID); return err })
	_, err = f.engine.Assign(f.ctx, f.admin, r.ID, f.driver.ID)
	wantKind(t, err, apperr.KindInvalidState)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)
	mustDo(t, func() error { _, err := f.engine.Assign(f.ctx, f.admin, r.ID, f.driver.ID); return err })

	c, err := f.engine.Cancel(f.ctx, System, r.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != models.StatusCancelled {
		t.Fatalf("status = %s", c.Status)
	}
	h := f.history(t, r.ID)
	if last := h[len(h)-1]; last.Notes != "Ride cancelled" || last.ChangedBy != "" {
		t.Fatalf("history = %+v", last)
	}
	n, _ := f.db.ListNotifications(f.ctx, f.driver.ID, false, 10)
	if len(n) != 2 || !hasType(n, models.NotifyRideCancelled) {
		t.Fatalf("driver notifications = %+v", n)
	}

	_, err = f.engine.Cancel(f.ctx, f.admin, r.ID, "")
	wantKind(t, err, apperr.KindInvalidState)
}

func hasType(ns []models.Notification, typ models.NotificationType) bool {
	for _, n := range ns {
		if n.Type == typ {
			return true
		}
	}
	return false
}

func TestCreateDuplicateExternalID(t *testing.T) {
	f := newFixture(t)
	mk := func() *models.Ride {
		return &models.Ride{ExternalID: "B-1", PickupAddress: "a", DropoffAddress: "b", ScheduledAt: f.now.Add(time.Hour)}
	}
	if _, err := f.engine.Create(f.ctx, System, mk(), ""); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.Create(f.ctx, System, mk(), "")
	wantKind(t, err, apperr.KindConflict)

	rides, _ := f.db.ListRides(f.ctx, models.RideFilter{})
	if len(rides) != 1 {
		t.Fatalf("rides = %d", len(rides))
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Create(f.ctx, f.admin, &models.Ride{PickupAddress: "a", ScheduledAt: f.now}, "")
	wantKind(t, err, apperr.KindValidation)
	_, err = f.engine.Create(f.ctx, f.as, &models.Ride{PickupAddress: "a", DropoffAddress: "b", ScheduledAt: f.now}, "")
	wantKind(t, err, apperr.KindForbidden)
}

func TestUpdateAndAmend(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)
	name := "Anna Bianchi"
	upd, err := f.engine.Update(f.ctx, f.admin, r.ID, models.RidePatch{PassengerName: &name})
	if err != nil {
		t.Fatal(err)
	}
	if upd.PassengerName != name || upd.Status != models.StatusToAssign {
		t.Fatalf("update = %+v", upd)
	}
	if len(f.history(t, r.ID)) != 1 {
		t.Fatal("plain update must not write history")
	}

	flight := "AZ123"
	if _, err := f.engine.Amend(f.ctx, System, r.ID, models.RidePatch{FlightNumber: &flight}, "Booking amended by Booking.com"); err != nil {
		t.Fatal(err)
	}
	h := f.history(t, r.ID)
	if len(h) != 2 || h[1].OldStatus != h[1].NewStatus || h[1].Notes != "Booking amended by Booking.com" {
		t.Fatalf("amend history = %+v", h)
	}

	zero := 0
	_, err = f.engine.Update(f.ctx, f.admin, r.ID, models.RidePatch{PassengerCount: &zero})
	wantKind(t, err, apperr.KindValidation)
}

func TestGetAndListVisibility(t *testing.T) {
	f := newFixture(t)
	open := f.create(t)
	theirs := f.create(t)
	other := storagetest.SeedDriver(t, f.db, "Fiat", "Panda", 4, "petrol")
	mustDo(t, func() error { _, err := f.engine.Assign(f.ctx, f.admin, theirs.ID, other.ID); return err })
	mustDo(t, func() error {
		_, err := f.engine.Accept(f.ctx, UserActor(other.ID, models.RoleDriver), theirs.ID)
		return err
	})

	if _, err := f.engine.Get(f.ctx, f.as, open.ID); err != nil {
		t.Fatalf("open ride should be visible: %v", err)
	}
	_, err := f.engine.Get(f.ctx, f.as, theirs.ID)
	wantKind(t, err, apperr.KindNotFound)

	v, err := f.engine.Get(f.ctx, f.admin, theirs.ID)
	if err != nil || len(v.History) != 2 {
		t.Fatalf("admin get = %+v err=%v", v, err)
	}

	rides, err := f.engine.List(f.ctx, f.as, models.RideFilter{})
	if err != nil || len(rides) != 1 || rides[0].ID != open.ID {
		t.Fatalf("driver list = %d err=%v", len(rides), err)
	}
	rides, _ = f.engine.List(f.ctx, f.admin, models.RideFilter{Limit: 1000})
	if len(rides) != 2 {
		t.Fatalf("admin list = %d", len(rides))
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.pub.Err = errors.New("broker down")
	r := f.create(t)
	if _, err := f.engine.Assign(f.ctx, f.admin, r.ID, f.driver.ID); err != nil {
		t.Fatalf("assign should succeed: %v", err)
	}
}

func TestNotificationsAndMarkRead(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)
	mustDo(t, func() error { _, err := f.engine.Assign(f.ctx, f.admin, r.ID, f.driver.ID); return err })

	ns, err := f.engine.Notifications(f.ctx, f.as, true, 0)
	if err != nil || len(ns) != 1 {
		t.Fatalf("notifications = %v err=%v", ns, err)
	}
	if err := f.engine.MarkRead(f.ctx, f.as, ns[0].ID); err != nil {
		t.Fatal(err)
	}
	wantKind(t, f.engine.MarkRead(f.ctx, f.admin, ns[0].ID), apperr.KindNotFound)
	ns, _ = f.engine.Notifications(f.ctx, f.as, true, 0)
	if len(ns) != 0 {
		t.Fatal("notification should be read")
	}
}

func TestBatchFailedStepRollsBackAlone(t *testing.T) {
	f := newFixture(t)
	ok := f.create(t)
	booked := f.create(t)
	if _, err := f.engine.Assign(f.ctx, f.admin, booked.ID, f.driver.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Accept(f.ctx, f.as, booked.ID); err != nil {
		t.Fatal(err)
	}
	f.pub.Events = nil

	err := f.engine.Batch(f.ctx, func(b *Batch) error {
		if err := b.Escalate(f.ctx, ok.ID); err != nil {
			t.Fatalf("escalate: %v", err)
		}
		wantKind(t, b.Escalate(f.ctx, booked.ID), apperr.KindInvalidState)
		wantKind(t, b.Escalate(f.ctx, "missing"), apperr.KindNotFound)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := f.db.GetRide(f.ctx, ok.ID)
	if got.Status != models.StatusCritical || got.CriticalAt == nil {
		t.Fatalf("escalated ride = %s", got.Status)
	}
	got, _ = f.db.GetRide(f.ctx, booked.ID)
	if got.Status != models.StatusBooked {
		t.Fatalf("booked ride = %s", got.Status)
	}
	if h := f.history(t, booked.ID); len(h) != 2 {
		t.Fatalf("booked ride history grew to %d", len(h))
	}
	if n := len(f.pub.OfType(events.RideStatusChanged)); n != 1 {
		t.Fatalf("status events = %d", n)
	}
	if n := len(f.pub.OfType(events.NotificationCreated)); n != 1 {
		t.Fatalf("notification events = %d", n)
	}
}

func TestBatchErrorRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)
	boom := errors.New("boom")
	err := f.engine.Batch(f.ctx, func(b *Batch) error {
		if err := b.Escalate(f.ctx, r.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	got, _ := f.db.GetRide(f.ctx, r.ID)
	if got.Status != models.StatusToAssign {
		t.Fatalf("status = %s", got.Status)
	}
}
