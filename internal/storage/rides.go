package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

const rideColumns = `id, external_id, source_platform, status,
	pickup_address, pickup_lat, pickup_lng, dropoff_address, dropoff_lat, dropoff_lng,
	scheduled_at, started_at, completed_at,
	passenger_name, passenger_phone, passenger_count, route_type,
	distance_km, duration_min, price, driver_share, notes,
	driver_id, assigned_by, critical_at, critical_resolved_at, critical_resolution_type,
	booking_reference, customer_reference, state_hash, raw_payload, flight_number, services,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var (
		r                                                  models.Ride
		externalID, passengerName, passengerPhone          sql.NullString
		routeType, notes, driverID, assignedBy             sql.NullString
		resolution, bookingRef, customerRef, stateHash     sql.NullString
		rawPayload, flightNumber, services                 sql.NullString
		pickupLat, pickupLng, dropoffLat, dropoffLng       sql.NullFloat64
		durationMin                                        sql.NullInt64
		status, scheduledAt, createdAt, updatedAt          string
		startedAt, completedAt, criticalAt, criticalSolved sql.NullString
	)
	err := row.Scan(
		&r.ID, &externalID, &r.SourcePlatform, &status,
		&r.PickupAddress, &pickupLat, &pickupLng, &r.DropoffAddress, &dropoffLat, &dropoffLng,
		&scheduledAt, &startedAt, &completedAt,
		&passengerName, &passengerPhone, &r.PassengerCount, &routeType,
		&r.DistanceKm, &durationMin, &r.Price, &r.DriverShare, &notes,
		&driverID, &assignedBy, &criticalAt, &criticalSolved, &resolution,
		&bookingRef, &customerRef, &stateHash, &rawPayload, &flightNumber, &services,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	st, err := models.ParseRideStatus(status)
	if err != nil {
		return nil, fmt.Errorf("ride %s: %w", r.ID, err)
	}
	r.Status = st
	r.ExternalID = externalID.String
	r.PickupLat, r.PickupLng = floatPtr(pickupLat), floatPtr(pickupLng)
	r.DropoffLat, r.DropoffLng = floatPtr(dropoffLat), floatPtr(dropoffLng)
	r.PassengerName = passengerName.String
	r.PassengerPhone = passengerPhone.String
	r.RouteType = models.RouteType(routeType.String)
	r.DurationMin = intPtr(durationMin)
	r.Notes = notes.String
	r.DriverID = driverID.String
	r.AssignedBy = assignedBy.String
	r.CriticalResolutionType = models.ResolutionType(resolution.String)
	r.BookingReference = bookingRef.String
	r.CustomerReference = customerRef.String
	r.StateHash = stateHash.String
	r.FlightNumber = flightNumber.String
	if rawPayload.Valid && rawPayload.String != "" {
		r.RawPayload = json.RawMessage(rawPayload.String)
	}
	if services.Valid && services.String != "" {
		r.Services = json.RawMessage(services.String)
	}

	if r.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&r.StartedAt, startedAt},
		{&r.CompletedAt, completedAt},
		{&r.CriticalAt, criticalAt},
		{&r.CriticalResolvedAt, criticalSolved},
	} {
		if *f.dst, err = parseTimePtr(f.src); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// InsertRide stores a new ride. A second ride with the same
// (external_id, source_platform) fails with ErrDuplicate.
func (q *Queries) InsertRide(ctx context.Context, r *models.Ride) error {
	_, err := q.exec(ctx, `INSERT INTO rides (`+rideColumns+`) VALUES (
		?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullString(r.ExternalID), r.SourcePlatform, string(r.Status),
		r.PickupAddress, nullFloat(r.PickupLat), nullFloat(r.PickupLng),
		r.DropoffAddress, nullFloat(r.DropoffLat), nullFloat(r.DropoffLng),
		formatTime(r.ScheduledAt), formatTimePtr(r.StartedAt), formatTimePtr(r.CompletedAt),
		nullString(r.PassengerName), nullString(r.PassengerPhone), r.PassengerCount, nullString(string(r.RouteType)),
		nullDecimal(r.DistanceKm), nullInt(r.DurationMin), nullDecimal(r.Price), nullDecimal(r.DriverShare), nullString(r.Notes),
		nullString(r.DriverID), nullString(r.AssignedBy), formatTimePtr(r.CriticalAt), formatTimePtr(r.CriticalResolvedAt),
		nullString(string(r.CriticalResolutionType)),
		nullString(r.BookingReference), nullString(r.CustomerReference), nullString(r.StateHash),
		nullJSON(r.RawPayload), nullString(r.FlightNumber), nullJSON(r.Services),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("ride %s/%s: %w", r.SourcePlatform, r.ExternalID, ErrDuplicate)
	}
	return err
}

// SaveRide writes every mutable column of r, provided the stored status
// still equals expect. A mismatch means another transaction moved the ride
// first and yields ErrStale.
func (q *Queries) SaveRide(ctx context.Context, r *models.Ride, expect models.RideStatus) error {
	res, err := q.exec(ctx, `UPDATE rides SET
		status = ?, pickup_address = ?, pickup_lat = ?, pickup_lng = ?,
		dropoff_address = ?, dropoff_lat = ?, dropoff_lng = ?,
		scheduled_at = ?, started_at = ?, completed_at = ?,
		passenger_name = ?, passenger_phone = ?, passenger_count = ?, route_type = ?,
		distance_km = ?, duration_min = ?, price = ?, driver_share = ?, notes = ?,
		driver_id = ?, assigned_by = ?, critical_at = ?, critical_resolved_at = ?, critical_resolution_type = ?,
		customer_reference = ?, state_hash = ?, flight_number = ?, services = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(r.Status), r.PickupAddress, nullFloat(r.PickupLat), nullFloat(r.PickupLng),
		r.DropoffAddress, nullFloat(r.DropoffLat), nullFloat(r.DropoffLng),
		formatTime(r.ScheduledAt), formatTimePtr(r.StartedAt), formatTimePtr(r.CompletedAt),
		nullString(r.PassengerName), nullString(r.PassengerPhone), r.PassengerCount, nullString(string(r.RouteType)),
		nullDecimal(r.DistanceKm), nullInt(r.DurationMin), nullDecimal(r.Price), nullDecimal(r.DriverShare), nullString(r.Notes),
		nullString(r.DriverID), nullString(r.AssignedBy), formatTimePtr(r.CriticalAt), formatTimePtr(r.CriticalResolvedAt),
		nullString(string(r.CriticalResolutionType)),
		nullString(r.CustomerReference), nullString(r.StateHash), nullString(r.FlightNumber), nullJSON(r.Services),
		formatTime(r.UpdatedAt),
		r.ID, string(expect),
	)
	if err != nil {
		return fmt.Errorf("save ride %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

// SetStateHash updates only the Marketplace-B state hash.
func (q *Queries) SetStateHash(ctx context.Context, rideID, hash string, now time.Time) error {
	_, err := q.exec(ctx, `UPDATE rides SET state_hash = ?, updated_at = ? WHERE id = ?`,
		nullString(hash), formatTime(now), rideID)
	return err
}

func (q *Queries) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	return scanRide(q.queryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = ?`, id))
}

// GetRideForUpdate reads a ride and, on PostgreSQL, locks the row for the
// rest of the transaction.
func (q *Queries) GetRideForUpdate(ctx context.Context, id string) (*models.Ride, error) {
	return scanRide(q.queryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = ?`+q.lockSuffix(), id))
}

func (q *Queries) FindRideByExternalID(ctx context.Context, source, externalID string) (*models.Ride, error) {
	return scanRide(q.queryRow(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE source_platform = ? AND external_id = ?`+q.lockSuffix(),
		source, externalID))
}

func (q *Queries) FindRideByBookingRef(ctx context.Context, source, ref string) (*models.Ride, error) {
	return scanRide(q.queryRow(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE source_platform = ? AND booking_reference = ?`+q.lockSuffix(),
		source, ref))
}

// ListDueForEscalation returns to_assign rides scheduled in (now, until].
func (q *Queries) ListDueForEscalation(ctx context.Context, now, until time.Time) ([]*models.Ride, error) {
	return q.listRides(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE status = ? AND scheduled_at > ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC`+q.lockSuffix(),
		string(models.StatusToAssign), formatTime(now), formatTime(until))
}

func (q *Queries) ListRides(ctx context.Context, f models.RideFilter) ([]*models.Ride, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.DateFrom != nil {
		where = append(where, "scheduled_at >= ?")
		args = append(args, formatTime(*f.DateFrom))
	}
	if f.DateTo != nil {
		where = append(where, "scheduled_at <= ?")
		args = append(args, formatTime(*f.DateTo))
	}
	if f.DriverID != "" {
		where = append(where, "driver_id = ?")
		args = append(args, f.DriverID)
	}
	if f.SourcePlatform != "" {
		where = append(where, "source_platform = ?")
		args = append(args, f.SourcePlatform)
	}
	if f.VisibleTo != "" {
		where = append(where, "(driver_id = ? OR status IN (?, ?))")
		args = append(args, f.VisibleTo, string(models.StatusToAssign), string(models.StatusCritical))
	}

	query := `SELECT ` + rideColumns + ` FROM rides`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY scheduled_at DESC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	return q.listRides(ctx, query, args...)
}

func (q *Queries) listRides(ctx context.Context, query string, args ...any) ([]*models.Ride, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
