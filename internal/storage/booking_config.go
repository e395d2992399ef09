package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

const (
	BookingSandboxURL    = "https://taxi-api-sandbox.booking.com"
	BookingProductionURL = "https://taxi-api.booking.com"
)

const bookingConfigColumns = `client_id, client_secret, api_base_url, webhook_secret, is_enabled,
	environment, access_token, token_expires_at, last_sync_at, updated_at`

// BookingConfig returns the integration singleton, creating it with
// sandbox defaults on first access.
func (q *Queries) BookingConfig(ctx context.Context, now time.Time) (*models.BookingConfig, error) {
	cfg, err := q.scanBookingConfig(ctx)
	if !errors.Is(err, ErrNotFound) {
		return cfg, err
	}
	_, err = q.exec(ctx, `INSERT INTO booking_config (id, api_base_url, environment, is_enabled, created_at, updated_at)
		VALUES (1, ?, 'sandbox', 0, ?, ?)`, BookingSandboxURL, formatTime(now), formatTime(now))
	if err != nil && !isUniqueViolation(err) {
		return nil, err
	}
	return q.scanBookingConfig(ctx)
}

func (q *Queries) scanBookingConfig(ctx context.Context) (*models.BookingConfig, error) {
	var (
		c                      models.BookingConfig
		enabled                int
		tokenExpires, lastSync sql.NullString
		updatedAt              string
	)
	err := q.queryRow(ctx, `SELECT `+bookingConfigColumns+` FROM booking_config WHERE id = 1`).Scan(
		&c.ClientID, &c.ClientSecret, &c.APIBaseURL, &c.WebhookSecret, &enabled,
		&c.Environment, &c.AccessToken, &tokenExpires, &lastSync, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Enabled = enabled != 0
	if c.TokenExpiresAt, err = parseTimePtr(tokenExpires); err != nil {
		return nil, err
	}
	if c.LastSyncAt, err = parseTimePtr(lastSync); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveBookingConfig overwrites the singleton's editable settings.
func (q *Queries) SaveBookingConfig(ctx context.Context, c *models.BookingConfig) error {
	enabled := 0
	if c.Enabled {
		enabled = 1
	}
	_, err := q.exec(ctx, `UPDATE booking_config SET client_id = ?, client_secret = ?, api_base_url = ?,
		webhook_secret = ?, is_enabled = ?, environment = ?, access_token = ?, token_expires_at = ?,
		updated_at = ? WHERE id = 1`,
		c.ClientID, c.ClientSecret, c.APIBaseURL, c.WebhookSecret, enabled, c.Environment,
		c.AccessToken, formatTimePtr(c.TokenExpiresAt), formatTime(c.UpdatedAt))
	return err
}

func (q *Queries) SaveBookingToken(ctx context.Context, token string, expiresAt time.Time) error {
	_, err := q.exec(ctx, `UPDATE booking_config SET access_token = ?, token_expires_at = ?, updated_at = ? WHERE id = 1`,
		token, formatTime(expiresAt), formatTime(time.Now()))
	return err
}

func (q *Queries) SetBookingLastSync(ctx context.Context, at time.Time) error {
	_, err := q.exec(ctx, `UPDATE booking_config SET last_sync_at = ?, updated_at = ? WHERE id = 1`,
		formatTime(at), formatTime(at))
	return err
}
