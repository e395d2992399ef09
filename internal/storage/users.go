package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/models"
)

// Users and driver profiles are owned by the account service; this package
// only reads them, plus the running totals written on ride completion.

const driverColumns = `u.id, u.email, u.role, u.status, u.first_name, u.last_name, u.phone,
	d.vehicle_make, d.vehicle_model, d.vehicle_plate, d.vehicle_seats, d.vehicle_luggage_capacity,
	d.vehicle_fuel_type, d.total_rides, d.total_km, d.total_earnings`

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u            models.User
		role, status string
	)
	err := row.Scan(&u.ID, &u.Email, &role, &status, &u.FirstName, &u.LastName, &u.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.Status = models.UserStatus(status)
	return &u, nil
}

func scanDriver(row rowScanner) (*models.Driver, error) {
	var (
		d            models.Driver
		role, status string
	)
	err := row.Scan(&d.ID, &d.Email, &role, &status, &d.FirstName, &d.LastName, &d.Phone,
		&d.VehicleMake, &d.VehicleModel, &d.VehiclePlate, &d.VehicleSeats, &d.LuggageCapacity,
		&d.FuelType, &d.TotalRides, &d.TotalKm, &d.TotalEarnings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Role = models.Role(role)
	d.Status = models.UserStatus(status)
	return &d, nil
}

func (q *Queries) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(q.queryRow(ctx,
		`SELECT id, email, role, status, first_name, last_name, phone FROM users WHERE id = ?`, id))
}

// ListUsersByRole returns active users holding any of roles.
func (q *Queries) ListUsersByRole(ctx context.Context, roles ...models.Role) ([]models.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	query := `SELECT id, email, role, status, first_name, last_name, phone FROM users WHERE status = ? AND role IN (?`
	args := []any{string(models.UserActive), string(roles[0])}
	for _, r := range roles[1:] {
		query += `, ?`
		args = append(args, string(r))
	}
	query += `) ORDER BY id`
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// GetDriver returns a driver-role user with its vehicle profile.
func (q *Queries) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	return scanDriver(q.queryRow(ctx, `SELECT `+driverColumns+`
		FROM users u JOIN drivers d ON d.user_id = u.id
		WHERE u.id = ? AND u.role = ?`+q.lockSuffix(), id, string(models.RoleDriver)))
}

// ActiveFleet lists active drivers whose vehicle seats at least minSeats.
func (q *Queries) ActiveFleet(ctx context.Context, minSeats int) ([]models.Driver, error) {
	rows, err := q.query(ctx, `SELECT `+driverColumns+`
		FROM users u JOIN drivers d ON d.user_id = u.id
		WHERE u.role = ? AND u.status = ? AND d.vehicle_seats >= ?
		ORDER BY u.id`, string(models.RoleDriver), string(models.UserActive), minSeats)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// AddDriverTotals records one completed ride on the driver's running totals.
// The caller holds the driver row (GetDriver in the same transaction).
func (q *Queries) AddDriverTotals(ctx context.Context, d *models.Driver, km, earnings decimal.Decimal) error {
	d.TotalRides++
	d.TotalKm = d.TotalKm.Add(km)
	d.TotalEarnings = d.TotalEarnings.Add(earnings)
	_, err := q.exec(ctx, `UPDATE drivers SET total_rides = ?, total_km = ?, total_earnings = ? WHERE user_id = ?`,
		d.TotalRides, d.TotalKm.String(), d.TotalEarnings.String(), d.ID)
	return err
}

// CreateUser is used by seeding tooling and tests; account management
// proper lives outside this service.
func (q *Queries) CreateUser(ctx context.Context, u *models.User, now time.Time) error {
	if u.Status == "" {
		u.Status = models.UserActive
	}
	_, err := q.exec(ctx, `INSERT INTO users (id, email, role, status, first_name, last_name, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, string(u.Role), string(u.Status), u.FirstName, u.LastName, u.Phone, formatTime(now))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// CreateDriver inserts the user row and its vehicle profile.
func (q *Queries) CreateDriver(ctx context.Context, d *models.Driver, now time.Time) error {
	d.Role = models.RoleDriver
	if d.VehicleSeats == 0 {
		d.VehicleSeats = 4
	}
	if d.LuggageCapacity == 0 {
		d.LuggageCapacity = 2
	}
	if err := q.CreateUser(ctx, &d.User, now); err != nil {
		return err
	}
	_, err := q.exec(ctx, `INSERT INTO drivers (user_id, vehicle_make, vehicle_model, vehicle_plate,
		vehicle_seats, vehicle_luggage_capacity, vehicle_fuel_type, total_rides, total_km, total_earnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.VehicleMake, d.VehicleModel, d.VehiclePlate, d.VehicleSeats, d.LuggageCapacity,
		d.FuelType, d.TotalRides, d.TotalKm.String(), d.TotalEarnings.String())
	return err
}
