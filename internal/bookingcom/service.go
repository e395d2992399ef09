// Package bookingcom is the Booking.com taxi supplier integration: inbound
// webhooks (quote, new booking, amend/cancel, incident), outbound OAuth2
// calls (accept, reject, list new bookings) and the polling reconciler.
package bookingcom

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/storage"
)

const (
	placeholderAddress  = "Da definire"
	placeholderLead     = 24 * time.Hour
	defaultRejectReason = "NO_AVAILABILITY"
	pickupLocalLayout   = "2006-01-02T15:04:05"
)

type Service struct {
	db     *storage.DB
	engine *lifecycle.Engine
	client *Client
	table  *pricing.Table
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.client.now = now
	}
}

func NewService(db *storage.DB, engine *lifecycle.Engine, client *Client, table *pricing.Table, logger *slog.Logger, opts ...Option) *Service {
	if client == nil {
		client = NewClient()
	}
	s := &Service{db: db, engine: engine, client: client, table: table, now: time.Now, logger: logging.Component(logger, "bookingcom")}
	for _, o := range opts {
		o(s)
	}
	return s
}

func record(op string, err error) {
	observability.MarketplaceCalls.WithLabelValues(models.SourceBookingCom, op, observability.Outcome(err)).Inc()
}

func (s *Service) clock() time.Time { return s.now().UTC() }

func (s *Service) config(ctx context.Context) (*models.BookingConfig, error) {
	cfg, err := s.db.BookingConfig(ctx, s.clock())
	if err != nil {
		return nil, fmt.Errorf("load booking.com config: %w", err)
	}
	return cfg, nil
}

// Authorize checks a webhook's Authorization header against the configured
// secret. With no secret configured every request is accepted.
func (s *Service) Authorize(ctx context.Context, header string) error {
	cfg, err := s.config(ctx)
	if err != nil {
		return err
	}
	if cfg.WebhookSecret == "" {
		return nil
	}
	if header == "" {
		return apperr.Unauthenticated("Missing Authorization header")
	}
	want := "Bearer " + cfg.WebhookSecret
	if subtle.ConstantTimeCompare([]byte(header), []byte(want)) != 1 {
		return apperr.Unauthenticated("Invalid webhook secret")
	}
	return nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return "****" + secret[len(secret)-4:]
}

func view(cfg *models.BookingConfig) *ConfigView {
	return &ConfigView{
		ClientID:        cfg.ClientID,
		APIBaseURL:      cfg.APIBaseURL,
		WebhookSecret:   mask(cfg.WebhookSecret),
		IsEnabled:       cfg.Enabled,
		Environment:     cfg.Environment,
		LastSyncAt:      cfg.LastSyncAt,
		HasClientSecret: cfg.ClientSecret != "",
	}
}

func (s *Service) Config(ctx context.Context) (*ConfigView, error) {
	cfg, err := s.config(ctx)
	if err != nil {
		return nil, err
	}
	return view(cfg), nil
}

// UpdateConfig applies u. Switching environment without an explicit base
// URL switches the base URL too; changing credentials drops the cached
// token.
func (s *Service) UpdateConfig(ctx context.Context, u ConfigUpdate) (*ConfigView, error) {
	cfg, err := s.config(ctx)
	if err != nil {
		return nil, err
	}
	if u.Environment != nil {
		switch *u.Environment {
		case "sandbox":
			if u.APIBaseURL == nil {
				cfg.APIBaseURL = storage.BookingSandboxURL
			}
		case "production":
			if u.APIBaseURL == nil {
				cfg.APIBaseURL = storage.BookingProductionURL
			}
		default:
			return nil, apperr.Validation("environment must be sandbox or production")
		}
		cfg.Environment = *u.Environment
	}
	if u.APIBaseURL != nil {
		cfg.APIBaseURL = strings.TrimSpace(*u.APIBaseURL)
	}
	if u.WebhookSecret != nil {
		cfg.WebhookSecret = *u.WebhookSecret
	}
	if u.IsEnabled != nil {
		cfg.Enabled = *u.IsEnabled
	}
	if u.ClientID != nil || u.ClientSecret != nil {
		if u.ClientID != nil {
			cfg.ClientID = strings.TrimSpace(*u.ClientID)
		}
		if u.ClientSecret != nil {
			cfg.ClientSecret = *u.ClientSecret
		}
		cfg.AccessToken, cfg.TokenExpiresAt = "", nil
	}
	cfg.UpdatedAt = s.clock()
	if err := s.db.SaveBookingConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("save booking.com config: %w", err)
	}
	s.logger.Info("booking.com config updated", "environment", cfg.Environment, "enabled", cfg.Enabled)
	return view(cfg), nil
}

// token returns an access token, persisting it when it was refreshed.
func (s *Service) token(ctx context.Context, cfg *models.BookingConfig) (string, error) {
	tok, refreshed, err := s.client.Token(ctx, cfg)
	if err != nil {
		return "", apperr.Upstream(err, "booking.com authentication failed")
	}
	if refreshed {
		if err := s.db.SaveBookingToken(ctx, tok, *cfg.TokenExpiresAt); err != nil {
			return "", fmt.Errorf("save booking.com token: %w", err)
		}
	}
	return tok, nil
}

// maxQuotePassengers is the largest party a quote can seat.
const maxQuotePassengers = 8

// quoteCategory maps a passenger count onto the Booking.com transport
// category, the pricing category it is sold as and its capacity. Callers
// reject parties above maxQuotePassengers first.
func quoteCategory(pax int) (string, pricing.Category, int) {
	switch {
	case pax > 6:
		return "MINIBUS", pricing.Minibus, 8
	case pax > 4:
		return "PEOPLE_CARRIER", pricing.StandardMPV, 6
	}
	return "STANDARD", pricing.Standard, 4
}

// Quote prices a search without creating anything.
func (s *Service) Quote(ctx context.Context, req SearchRequest) (q *Quote, err error) {
	defer func() { record("quote", err) }()

	km := s.table.BookingDefaultDistanceKm
	if req.DrivingDistanceInKm != nil && *req.DrivingDistanceInKm > 0 {
		km = *req.DrivingDistanceInKm
	}
	if req.Passengers > maxQuotePassengers {
		return nil, apperr.Validation("no vehicle seats %d passengers, the maximum is %d", req.Passengers, maxQuotePassengers)
	}
	transport, category, maxPax := quoteCategory(req.Passengers)
	price := s.table.Price(category, km, 0).InexactFloat64()
	s.logger.Info("quote requested",
		"from", req.Origin.Label(""), "to", req.Destination.Label(""),
		"passengers", req.Passengers, "distance_km", km, "category", transport)

	return &Quote{
		SearchResultID:    uuid.NewString(),
		TransportCategory: transport,
		Price:             QuotePrice{SalePriceMin: price, SalePriceMax: price, Currency: s.table.Currency},
		MinPassengers:     1,
		MaxPassengers:     maxPax,
		Features:          []Feature{{Name: "noOfBags", Value: strconv.Itoa(maxPax)}},
		ServicesAvailable: []string{"meetAndGreet"},
	}, nil
}

func servicesJSON(items []ServiceItem) json.RawMessage {
	if len(items) == 0 {
		return nil
	}
	raw, _ := json.Marshal(items)
	return raw
}

// parsePickup accepts RFC 3339 or a zone-less local timestamp read as UTC.
func parsePickup(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(pickupLocalLayout, v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func (s *Service) findByRef(ctx context.Context, ref string) (*models.Ride, error) {
	r, err := s.db.FindRideByBookingRef(ctx, models.SourceBookingCom, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find booking %s: %w", ref, err)
	}
	return r, nil
}

// NewBooking records a booking pushed by Booking.com. A reference that is
// already known is accepted and ignored, since the partner retries freely.
func (s *Service) NewBooking(ctx context.Context, b NewBooking) (err error) {
	defer func() { record("new_booking", err) }()

	if b.BookingReference == "" {
		return apperr.Validation("bookingReference is required")
	}
	existing, err := s.findByRef(ctx, b.BookingReference)
	if err != nil {
		return err
	}
	if existing != nil {
		s.logger.Info("duplicate booking ignored", "booking_ref", b.BookingReference)
		return nil
	}

	raw, _ := json.Marshal(b)
	r := &models.Ride{
		ExternalID:        b.BookingReference,
		SourcePlatform:    models.SourceBookingCom,
		PickupAddress:     placeholderAddress,
		DropoffAddress:    placeholderAddress,
		ScheduledAt:       s.clock().Add(placeholderLead),
		PassengerName:     b.LeadPassenger.FullName(),
		PassengerPhone:    b.LeadPassenger.PhoneNumber,
		PassengerCount:    1,
		Notes:             b.Comment,
		FlightNumber:      b.FlightNumber,
		BookingReference:  b.BookingReference,
		CustomerReference: b.CustomerReference,
		Services:          servicesJSON(b.Services),
		RawPayload:        raw,
	}
	note := fmt.Sprintf("Booking received from Booking.com (ref: %s)", b.BookingReference)
	if _, err := s.engine.Create(ctx, lifecycle.System, r, note); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			s.logger.Info("duplicate booking ignored", "booking_ref", b.BookingReference)
			return nil
		}
		return err
	}
	s.logger.Info("booking received", "booking_ref", b.BookingReference, "ride_id", r.ID)
	return nil
}

// UpdateBooking applies an amendment or cancellation. Unknown references
// are logged and ignored.
func (s *Service) UpdateBooking(ctx context.Context, ref string, u BookingUpdate) (err error) {
	defer func() { record("update_booking", err) }()

	if u.Action != ActionAmendment && u.Action != ActionCancellation {
		return apperr.Validation("action must be %s or %s", ActionAmendment, ActionCancellation)
	}
	r, err := s.findByRef(ctx, ref)
	if err != nil {
		return err
	}
	if r == nil {
		s.logger.Warn("update for unknown booking", "booking_ref", ref, "action", u.Action)
		return nil
	}

	if u.Action == ActionCancellation {
		if r.Status.IsTerminal() {
			s.logger.Warn("cancellation for finished ride ignored", "booking_ref", ref, "status", r.Status)
			return nil
		}
		reason := u.CancellationReason
		if reason == "" {
			reason = "No reason"
		}
		if _, err := s.engine.Cancel(ctx, lifecycle.System, r.ID, "Cancelled by Booking.com: "+reason); err != nil {
			return err
		}
		s.logger.Info("booking cancelled by partner", "booking_ref", ref, "ride_id", r.ID)
		return nil
	}

	var p models.RidePatch
	if u.LeadPassenger != nil {
		name := u.LeadPassenger.FullName()
		p.PassengerName = &name
		if u.LeadPassenger.PhoneNumber != "" {
			p.PassengerPhone = &u.LeadPassenger.PhoneNumber
		}
	}
	if u.FlightNumber != "" {
		p.FlightNumber = &u.FlightNumber
	}
	if u.Comment != "" {
		p.Notes = &u.Comment
	}
	if t, ok := parsePickup(u.PickupDateTime); ok {
		p.ScheduledAt = &t
	}
	p.Services = servicesJSON(u.Services)
	if _, err := s.engine.Amend(ctx, lifecycle.System, r.ID, p, "Booking amended by Booking.com"); err != nil {
		return err
	}
	s.logger.Info("booking amended by partner", "booking_ref", ref, "ride_id", r.ID)
	return nil
}

// Incident logs a partner incident and notes it on the ride when known.
func (s *Service) Incident(ctx context.Context, in Incident) (err error) {
	defer func() { record("incident", err) }()

	s.logger.Warn("booking.com incident",
		"booking_ref", in.BookingReference, "type", in.IncidentType, "status", in.Status,
		"responsible", in.ResponsibleParty, "description", in.Description)
	r, err := s.findByRef(ctx, in.BookingReference)
	if err != nil || r == nil {
		return err
	}
	desc := in.Description
	if desc == "" {
		desc = "No details"
	}
	return s.engine.Annotate(ctx, lifecycle.System, r.ID, fmt.Sprintf("Booking.com incident: %s - %s", in.IncidentType, desc))
}

func (s *Service) remoteRide(b RemoteBooking) *models.Ride {
	scheduled, ok := parsePickup(b.PickupDateTime)
	if !ok {
		scheduled = s.clock().Add(placeholderLead)
	}
	raw, _ := json.Marshal(b)
	r := &models.Ride{
		ExternalID:        b.BookingReference,
		SourcePlatform:    models.SourceBookingCom,
		PickupAddress:     b.Origin.Label("Pickup location"),
		DropoffAddress:    b.Destination.Label("Dropoff location"),
		ScheduledAt:       scheduled,
		PassengerName:     b.LeadPassenger.FullName(),
		PassengerCount:    1,
		Notes:             b.Comment,
		FlightNumber:      b.FlightNumber,
		BookingReference:  b.BookingReference,
		CustomerReference: b.CustomerReference,
		StateHash:         b.StateHash,
		Services:          servicesJSON(b.Services),
		RawPayload:        raw,
	}
	if b.LeadPassenger != nil {
		r.PassengerPhone = b.LeadPassenger.PhoneNumber
	}
	if b.Origin != nil {
		r.PickupLat, r.PickupLng = b.Origin.Latitude, b.Origin.Longitude
	}
	if b.Destination != nil {
		r.DropoffLat, r.DropoffLng = b.Destination.Latitude, b.Destination.Longitude
	}
	if km := b.DrivingDistanceInKm; km != nil && *km > 0 {
		r.DistanceKm = decimal.NewNullDecimal(decimal.NewFromFloat(*km))
		r.Price = decimal.NewNullDecimal(s.table.BookingComEstimate(*km))
	}
	return r
}

// Sync imports NEW bookings from Booking.com. Known references only get
// their state hash refreshed. A failed fetch leaves last_sync_at alone.
func (s *Service) Sync(ctx context.Context) (res *SyncResult, err error) {
	defer func() { record("sync", err) }()

	cfg, err := s.config(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.Active() {
		return &SyncResult{Success: true, Message: "Booking.com integration is disabled"}, nil
	}
	tok, err := s.token(ctx, cfg)
	if err != nil {
		return nil, err
	}
	bookings, err := s.client.NewBookings(ctx, cfg, tok)
	if err != nil {
		return nil, apperr.Upstream(err, "fetching Booking.com bookings failed")
	}

	res = &SyncResult{Success: true}
	for _, b := range bookings {
		if b.BookingReference == "" {
			continue
		}
		existing, err := s.findByRef(ctx, b.BookingReference)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if b.StateHash != "" && b.StateHash != existing.StateHash {
				if err := s.db.SetStateHash(ctx, existing.ID, b.StateHash, s.clock()); err != nil {
					return nil, fmt.Errorf("update state hash of %s: %w", b.BookingReference, err)
				}
				res.UpdatedRides++
			}
			continue
		}
		note := fmt.Sprintf("Imported from Booking.com (ref: %s)", b.BookingReference)
		if _, err := s.engine.Create(ctx, lifecycle.System, s.remoteRide(b), note); err != nil {
			if apperr.Is(err, apperr.KindConflict) {
				continue
			}
			return nil, err
		}
		res.NewRides++
	}
	if err := s.db.SetBookingLastSync(ctx, s.clock()); err != nil {
		return nil, fmt.Errorf("record booking.com sync: %w", err)
	}
	res.Message = fmt.Sprintf("Sync completed: %d new rides, %d updated", res.NewRides, res.UpdatedRides)
	s.logger.Info("booking.com sync", "new", res.NewRides, "updated", res.UpdatedRides)
	return res, nil
}

// TestConnection tries to obtain a token with the stored credentials.
func (s *Service) TestConnection(ctx context.Context) (*TestResult, error) {
	cfg, err := s.config(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return &TestResult{Message: "Client ID and client secret are required"}, nil
	}
	tok, err := s.token(ctx, cfg)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return &TestResult{Message: fmt.Sprintf("Authentication failed: %d - %s", se.Code, se.Body)}, nil
		}
		return &TestResult{Message: fmt.Sprintf("Cannot reach %s: %v", cfg.APIBaseURL, errors.Unwrap(err))}, nil
	}
	return &TestResult{Success: true, Message: fmt.Sprintf("Connection OK (token: %s...)", truncate(tok, 20))}, nil
}

// respond forwards a supplier decision for r. Rides without Booking.com
// references, or a disabled integration, make it a no-op.
func (s *Service) respond(ctx context.Context, r *models.Ride, decision, reason string) error {
	cfg, err := s.config(ctx)
	if err != nil {
		return err
	}
	if !cfg.Active() {
		s.logger.Info("booking.com integration disabled, decision not sent", "ride_id", r.ID, "decision", decision)
		return nil
	}
	if r.BookingReference == "" || r.CustomerReference == "" {
		s.logger.Warn("ride has no booking.com references", "ride_id", r.ID)
		return nil
	}
	tok, err := s.token(ctx, cfg)
	if err != nil {
		return err
	}
	body := SupplierResponse{SupplierResponse: decision, StateHash: r.StateHash, CancellationReason: reason}
	if err := s.client.Respond(ctx, cfg, tok, r.CustomerReference, r.BookingReference, body); err != nil {
		return apperr.Upstream(err, "sending %s to booking.com failed", strings.ToLower(decision))
	}
	s.logger.Info("decision sent to booking.com", "booking_ref", r.BookingReference, "decision", decision)
	return nil
}

// AcceptRide tells Booking.com the ride is accepted.
func (s *Service) AcceptRide(ctx context.Context, by lifecycle.Actor, rideID string) (err error) {
	defer func() { record("accept", err) }()

	v, err := s.engine.Get(ctx, by, rideID)
	if err != nil {
		return err
	}
	return s.respond(ctx, v.Ride, ResponseAccept, "")
}

// RejectRide tells Booking.com the ride is rejected and cancels it here.
func (s *Service) RejectRide(ctx context.Context, by lifecycle.Actor, rideID, reason string) (err error) {
	defer func() { record("reject", err) }()

	if reason == "" {
		reason = defaultRejectReason
	}
	v, err := s.engine.Get(ctx, by, rideID)
	if err != nil {
		return err
	}
	if v.Status.IsTerminal() {
		return apperr.InvalidState("ride %s is already %s", rideID, v.Status)
	}
	if err := s.respond(ctx, v.Ride, ResponseReject, reason); err != nil {
		return err
	}
	_, err = s.engine.Cancel(ctx, by, rideID, "Rejected on Booking.com: "+reason)
	return err
}
