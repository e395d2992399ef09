package bookingcom

import (
	"context"
	"testing"
	"time"
)

func TestPollerImportsOnTick(t *testing.T) {
	e := newEnv(t)
	e.enable(t)
	e.remote.bookings = []RemoteBooking{{BookingReference: "TICK1", CustomerReference: "C", Status: "NEW"}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewPoller(e.svc, 10*time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := e.db.FindRideByBookingRef(e.ctx, "booking.com", "TICK1"); err == nil {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("poller never imported the booking")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancel")
	}
}
