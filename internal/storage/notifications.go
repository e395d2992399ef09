package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func (q *Queries) InsertNotification(ctx context.Context, n *models.Notification) error {
	_, err := q.exec(ctx, `INSERT INTO notifications (id, user_id, type, title, body, ride_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Body, nullString(n.RideID), formatTime(n.SentAt))
	return err
}

func (q *Queries) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := `SELECT id, user_id, type, title, body, ride_id, sent_at, read_at FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY sent_at DESC, id ASC LIMIT ?`
	rows, err := q.query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Notification
	for rows.Next() {
		var (
			n              models.Notification
			typ, sentAt    string
			rideID, readAt sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Body, &rideID, &sentAt, &readAt); err != nil {
			return nil, err
		}
		n.Type = models.NotificationType(typ)
		n.RideID = rideID.String
		if n.SentAt, err = parseTime(sentAt); err != nil {
			return nil, err
		}
		if n.ReadAt, err = parseTimePtr(readAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead stamps read_at on a notification owned by userID.
func (q *Queries) MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) error {
	res, err := q.exec(ctx, `UPDATE notifications SET read_at = ? WHERE id = ? AND user_id = ? AND read_at IS NULL`,
		formatTime(at), id, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		var exists int
		err := q.queryRow(ctx, `SELECT 1 FROM notifications WHERE id = ? AND user_id = ?`, id, userID).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	return nil
}
