package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

func TestMultiJoinsErrors(t *testing.T) {
	ok := &Recorder{}
	bad := &Recorder{Err: errors.New("down")}
	err := Multi{ok, bad}.Publish(context.Background(), Event{Type: RideCreated, RideID: "r1"})
	if err == nil || err.Error() != "down" {
		t.Fatalf("err = %v", err)
	}
	if len(ok.Events) != 1 || len(bad.Events) != 1 {
		t.Fatal("every publisher should see the event")
	}
}

func TestEncodeDecode(t *testing.T) {
	n := &models.Notification{ID: "n1", UserID: "u1", Type: models.NotifyRideAssigned}
	msgs, err := Encode(
		Event{Type: RideStatusChanged, RideID: "r1", FromStatus: models.StatusToAssign, ToStatus: models.StatusBooked, At: time.Unix(0, 0).UTC()},
		Event{Type: NotificationCreated, Notification: n},
	)
	if err != nil {
		t.Fatal(err)
	}
	if string(msgs[0].Key) != "r1" || string(msgs[1].Key) != "u1" {
		t.Fatalf("keys = %q %q", msgs[0].Key, msgs[1].Key)
	}
	e, err := Decode(msgs[1])
	if err != nil || e.Notification == nil || e.Notification.UserID != "u1" {
		t.Fatalf("decoded %+v err=%v", e, err)
	}
	if _, err := Decode(kafka.Message{Value: []byte("{")}); err == nil {
		t.Fatal("expected decode error")
	}
}
