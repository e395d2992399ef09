package bookingcom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/example/ride-dispatch/internal/models"
)

const (
	tokenTimeout   = 10 * time.Second
	respondTimeout = 15 * time.Second
	listTimeout    = 30 * time.Second

	// tokenLeeway is how long before expiry a cached token stops being used.
	tokenLeeway      = 60 * time.Second
	defaultExpiresIn = 3600
)

// Client talks to the Booking.com supplier API. It is stateless: the base
// URL, credentials and cached token come from the config row on every call.
type Client struct {
	httpClient *http.Client
	now        func() time.Time
}

func NewClient() *Client {
	return &Client{httpClient: &http.Client{}, now: time.Now}
}

// NewClientWith uses hc for every request; tests pass an httptest client.
func NewClientWith(hc *http.Client) *Client {
	return &Client{httpClient: hc, now: time.Now}
}

func endpoint(cfg *models.BookingConfig, path string) string {
	return strings.TrimRight(cfg.APIBaseURL, "/") + path
}

// Token returns a usable access token. The cached one is reused while it
// has more than a minute left; otherwise a new one is requested with the
// client-credentials grant and written back into cfg. refreshed reports
// whether cfg changed and must be persisted.
func (c *Client) Token(ctx context.Context, cfg *models.BookingConfig) (token string, refreshed bool, err error) {
	now := c.now().UTC()
	if cfg.AccessToken != "" && cfg.TokenExpiresAt != nil && cfg.TokenExpiresAt.After(now.Add(tokenLeeway)) {
		return cfg.AccessToken, false, nil
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     endpoint(cfg, "/oauth/token"),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenClient := &http.Client{Transport: c.httpClient.Transport, Timeout: tokenTimeout}
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, tokenClient))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return "", false, &StatusError{Code: re.Response.StatusCode, Body: truncate(string(re.Body), 200)}
		}
		return "", false, fmt.Errorf("booking.com token: %w", err)
	}

	ttl := defaultExpiresIn * time.Second
	if !tok.Expiry.IsZero() {
		ttl = time.Until(tok.Expiry).Round(time.Second)
	}
	exp := now.Add(ttl)
	cfg.AccessToken, cfg.TokenExpiresAt = tok.AccessToken, &exp
	return tok.AccessToken, true, nil
}

// Respond posts an accept or reject decision for a booking.
func (c *Client) Respond(ctx context.Context, cfg *models.BookingConfig, token, customerRef, bookingRef string, body SupplierResponse) error {
	ctx, cancel := context.WithTimeout(ctx, respondTimeout)
	defer cancel()
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("booking.com marshal: %w", err)
	}
	path := fmt.Sprintf("/v1/bookings/%s/%s/responses", url.PathEscape(customerRef), url.PathEscape(bookingRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(cfg, path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("booking.com POST %s: %w", path, err)
	}
	authorize(req, token)
	return c.do(req, nil)
}

// NewBookings lists bookings in status NEW.
func (c *Client) NewBookings(ctx context.Context, cfg *models.BookingConfig, token string) ([]RemoteBooking, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(cfg, "/v1/bookings?status=NEW&size=500"), nil)
	if err != nil {
		return nil, fmt.Errorf("booking.com GET /v1/bookings: %w", err)
	}
	authorize(req, token)
	var list bookingList
	if err := c.do(req, &list); err != nil {
		return nil, err
	}
	return list.Bookings, nil
}

func authorize(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("booking.com %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("booking.com read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 200)}
	}
	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("booking.com decode: %w", err)
		}
	}
	return nil
}

// StatusError is a non-2xx answer from Booking.com.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("booking.com HTTP %d: %s", e.Code, e.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
