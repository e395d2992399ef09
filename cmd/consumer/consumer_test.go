package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// fakePush implements dispatch.Deliverer for tests
type fakePush struct {
	fail  int // number of times to fail before succeeding
	calls int
}

func (f *fakePush) Deliver(ctx context.Context, n models.Notification) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("gateway down")
	}
	return nil
}

type memDedup struct{ seen map[string]bool }

func (m *memDedup) Claim(_ context.Context, id string) (bool, error) {
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func (m *memDedup) Release(_ context.Context, id string) error {
	delete(m.seen, id)
	return nil
}

var note = models.Notification{ID: "n1", UserID: "u1", Type: models.NotifyRideAssigned, Title: "New ride"}

func TestDeliverWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakePush{fail: 2}
	start := time.Now()
	if err := deliverWithRetry(context.Background(), f, note, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected two backoffs")
	}
}

func TestDeliverWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakePush{fail: 5}
	if err := deliverWithRetry(context.Background(), f, note, 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
}

func TestDeliverWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakePush{fail: 5}
	if err := deliverWithRetry(ctx, f, note, 3, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHandleNotification_SkipsRedelivery(t *testing.T) {
	d := &memDedup{seen: map[string]bool{}}
	f := &fakePush{}
	if err := handleNotification(context.Background(), f, d, note, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := handleNotification(context.Background(), f, d, note, 1, 0); err != errDuplicate {
		t.Fatalf("expected errDuplicate, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("delivered %d times", f.calls)
	}
}

func TestHandleNotification_ReleasesOnFailure(t *testing.T) {
	d := &memDedup{seen: map[string]bool{}}
	f := &fakePush{fail: 1}
	if err := handleNotification(context.Background(), f, d, note, 1, 0); err == nil {
		t.Fatal("expected failure")
	}
	if err := handleNotification(context.Background(), f, d, note, 1, 0); err != nil {
		t.Fatalf("retry after release: %v", err)
	}
}
