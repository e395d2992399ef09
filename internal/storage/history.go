package storage

import (
	"context"
	"database/sql"

	"github.com/example/ride-dispatch/internal/models"
)

func (q *Queries) InsertHistory(ctx context.Context, h *models.RideHistory) error {
	_, err := q.exec(ctx, `INSERT INTO ride_history (id, ride_id, old_status, new_status, changed_by, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.RideID, nullString(string(h.OldStatus)), string(h.NewStatus),
		nullString(h.ChangedBy), nullString(h.Notes), formatTime(h.CreatedAt))
	return err
}

// RideHistory returns the audit trail of a ride, oldest first.
func (q *Queries) RideHistory(ctx context.Context, rideID string) ([]models.RideHistory, error) {
	rows, err := q.query(ctx, `SELECT id, ride_id, old_status, new_status, changed_by, notes, created_at
		FROM ride_history WHERE ride_id = ? ORDER BY created_at ASC, id ASC`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RideHistory
	for rows.Next() {
		var (
			h                          models.RideHistory
			oldStatus, changedBy, note sql.NullString
			newStatus, createdAt       string
		)
		if err := rows.Scan(&h.ID, &h.RideID, &oldStatus, &newStatus, &changedBy, &note, &createdAt); err != nil {
			return nil, err
		}
		h.OldStatus = models.RideStatus(oldStatus.String)
		h.NewStatus = models.RideStatus(newStatus)
		h.ChangedBy = changedBy.String
		h.Notes = note.String
		if h.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
