package models

import "testing"

func TestTransitionTable(t *testing.T) {
	all := []RideStatus{StatusToAssign, StatusCritical, StatusBooked, StatusInProgress, StatusCompleted, StatusCancelled}
	legal := map[[2]RideStatus]bool{
		{StatusToAssign, StatusBooked}:      true,
		{StatusToAssign, StatusCancelled}:   true,
		{StatusToAssign, StatusCritical}:    true,
		{StatusCritical, StatusBooked}:      true,
		{StatusCritical, StatusCancelled}:   true,
		{StatusBooked, StatusInProgress}:    true,
		{StatusBooked, StatusCancelled}:     true,
		{StatusInProgress, StatusCompleted}: true,
		{StatusInProgress, StatusCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]RideStatus{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: got %v want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	if !StatusCompleted.IsTerminal() || !StatusCancelled.IsTerminal() {
		t.Fatal("completed and cancelled must be terminal")
	}
	if StatusBooked.IsTerminal() {
		t.Fatal("booked is not terminal")
	}
}

func TestParseRideStatus(t *testing.T) {
	if _, err := ParseRideStatus("booked"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseRideStatus("matched"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestCarModel(t *testing.T) {
	d := Driver{VehicleMake: "Mercedes", VehicleModel: "Vito"}
	if got := d.CarModel(); got != "Mercedes Vito" {
		t.Fatalf("got %q", got)
	}
	d.VehicleMake = ""
	if got := d.CarModel(); got != "Vito" {
		t.Fatalf("got %q", got)
	}
}
