// Package storagetest opens throwaway migrated SQLite databases for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// New returns a migrated database in t's temp dir, closed on cleanup.
func New(t testing.TB) *storage.DB {
	t.Helper()
	db, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// SeedUser inserts an active user with role.
func SeedUser(t testing.TB, db *storage.DB, role models.Role) models.User {
	t.Helper()
	id := uuid.NewString()
	u := models.User{ID: id, Email: id + "@example.test", Role: role, FirstName: "Test", LastName: string(role)}
	if err := db.CreateUser(context.Background(), &u, time.Now()); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// SeedDriver inserts an active driver with the given vehicle.
func SeedDriver(t testing.TB, db *storage.DB, vehicleMake, model string, seats int, fuel string) models.Driver {
	t.Helper()
	id := uuid.NewString()
	d := models.Driver{
		User:          models.User{ID: id, Email: id + "@example.test", FirstName: "Mario", LastName: "Rossi", Phone: "+390000000"},
		VehicleMake:   vehicleMake,
		VehicleModel:  model,
		VehiclePlate:  "AB123CD",
		VehicleSeats:  seats,
		FuelType:      fuel,
		TotalKm:       decimal.Zero,
		TotalEarnings: decimal.Zero,
	}
	if err := db.CreateDriver(context.Background(), &d, time.Now()); err != nil {
		t.Fatalf("seed driver: %v", err)
	}
	return d
}
