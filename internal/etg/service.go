// Package etg is the supplier side of the Marketplace-A transfer API:
// search returns priced offers built from the live fleet, book turns one
// offer into a ride, and status and cancel act on the rides it created.
package etg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/offers"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/storage"
)

const (
	MeetingInstructions = "The driver will wait at the meeting point with a name sign."
	OfferExpiredMessage = "Invalid or expired offer_id. Please search again."

	waitingMinutes  = 60
	freeCancelAhead = 24 * time.Hour
	localTimeLayout = "2006-01-02T15:04:05"
)

type Service struct {
	db     *storage.DB
	engine *lifecycle.Engine
	cache  offers.Cache
	table  *pricing.Table
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *storage.DB, engine *lifecycle.Engine, cache offers.Cache, table *pricing.Table, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{db: db, engine: engine, cache: cache, table: table, now: time.Now, logger: logging.Component(logger, "etg")}
	for _, o := range opts {
		o(s)
	}
	return s
}

func record(op string, err error) {
	observability.MarketplaceCalls.WithLabelValues("etg", op, observability.Outcome(err)).Inc()
}

func (s *Service) price(d decimal.Decimal) Price {
	return Price{Amount: d.InexactFloat64(), Currency: s.table.Currency}
}

// Search prices every category the fleet can serve for the request and
// caches the offers for booking.
func (s *Service) Search(ctx context.Context, req SearchRequest) (resp *SearchResponse, err error) {
	defer func() { record("search", err) }()

	if req.Passengers == 0 {
		req.Passengers = 1
	}
	if req.Passengers < 1 || req.Passengers > 50 {
		return nil, apperr.Validation("passengers must be between 1 and 50")
	}
	start, err := time.Parse(time.RFC3339, req.StartDateTime)
	if err != nil {
		return nil, apperr.Validation("start_date_time must be RFC3339")
	}

	from, to := req.StartPoint.Resolve(), req.EndPoint.Resolve()
	distance := s.table.EstimateDistanceKm(from, to)
	duration := s.table.EstimateDurationMin(distance)
	freeCancel := start.Add(-freeCancelAhead).Format(localTimeLayout)

	fleet, err := s.db.ActiveFleet(ctx, req.Passengers)
	if err != nil {
		return nil, fmt.Errorf("load fleet: %w", err)
	}
	searchID := offers.NewSearchID()
	resp = &SearchResponse{StartDateTime: req.StartDateTime, Offers: []Offer{}}
	var cached []offers.Offer
	for _, m := range matcher.Match(fleet, req.Passengers, s.table) {
		price := s.table.Price(m.Category, distance, req.ChildSeats.Total())
		o := offers.Offer{
			ID:            offers.OfferID(searchID, m.Category),
			SearchID:      searchID,
			Category:      m.Category,
			CarModel:      carModel(m.Vehicle),
			Seats:         orDefault(m.Vehicle.VehicleSeats, 4),
			LuggagePlaces: orDefault(m.Vehicle.LuggageCapacity, 2),
			Price:         price,
			Currency:      s.table.Currency,
			DistanceKm:    distance,
			DurationMin:   duration,
			StartPoint:    from,
			EndPoint:      to,
			StartTime:     req.StartDateTime,
			Passengers:    req.Passengers,
		}
		cached = append(cached, o)
		resp.Offers = append(resp.Offers, Offer{
			ID:                    o.ID,
			ServiceType:           "transfer",
			TransferCategory:      string(o.Category),
			CarModel:              o.CarModel,
			Seats:                 o.Seats,
			LuggagePlaces:         o.LuggagePlaces,
			Price:                 s.price(price),
			IncludedWaitingTime:   waitingMinutes,
			TollsIncluded:         true,
			GratuityIncluded:      false,
			FreeCancelUntil:       freeCancel,
			EstimatedDurationMins: duration,
			Distance:              distance,
		})
	}
	if err := s.cache.Put(ctx, searchID, cached); err != nil {
		return nil, fmt.Errorf("cache offers: %w", err)
	}
	s.logger.Debug("search priced", "search_id", searchID, "offers", len(cached), "distance_km", distance)
	return resp, nil
}

func carModel(d models.Driver) string {
	if m := strings.TrimSpace(d.CarModel()); m != "" {
		return m
	}
	return "Standard Vehicle"
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// NewOrderID returns "AV" followed by 13 upper-case hex characters.
func NewOrderID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "AV" + strings.ToUpper(hex[:13])
}

// Book consumes the offer and creates a to_assign ride for it. An offer can
// be booked once; unknown, evicted and consumed offers all fail the same way.
func (s *Service) Book(ctx context.Context, req BookRequest) (resp *BookResponse, err error) {
	defer func() { record("book", err) }()

	if req.OfferID == "" {
		return nil, apperr.Validation("offer_id is required")
	}
	o, err := s.cache.Consume(ctx, req.OfferID)
	if errors.Is(err, offers.ErrNotFound) {
		return nil, apperr.InvalidState(OfferExpiredMessage)
	}
	if err != nil {
		return nil, fmt.Errorf("consume offer: %w", err)
	}
	scheduled, err := time.Parse(time.RFC3339, o.StartTime)
	if err != nil {
		_ = s.cache.Release(ctx, o.ID)
		return nil, fmt.Errorf("cached offer %s has bad start time: %w", o.ID, err)
	}
	if req.Passengers <= 0 {
		req.Passengers = 1
	}

	orderID := NewOrderID()
	raw, _ := json.Marshal(map[string]any{
		"offer_id":  req.OfferID,
		"category":  o.Category,
		"passenger": req.MainPassenger,
		"car_model": o.CarModel,
	})
	duration := o.DurationMin
	pickup, dropoff := req.StartPoint.Resolve(), req.EndPoint.Resolve()
	r := &models.Ride{
		ExternalID:       orderID,
		SourcePlatform:   models.SourceETG,
		PickupAddress:    orNA(pickup),
		DropoffAddress:   orNA(dropoff),
		ScheduledAt:      scheduled,
		PassengerName:    strings.TrimSpace(req.MainPassenger.FirstName + " " + req.MainPassenger.LastName),
		PassengerPhone:   req.MainPassenger.Phone,
		PassengerCount:   req.Passengers,
		DistanceKm:       decimal.NewNullDecimal(decimal.NewFromFloat(o.DistanceKm)),
		DurationMin:      &duration,
		Price:            decimal.NewNullDecimal(o.Price),
		Notes:            req.Comment,
		FlightNumber:     req.FlightNumber,
		BookingReference: orderID,
		RawPayload:       raw,
	}
	if p, ok := geo.ParsePoint(pickup); ok {
		r.PickupLat, r.PickupLng = &p.Lat, &p.Lng
	}
	if p, ok := geo.ParsePoint(dropoff); ok {
		r.DropoffLat, r.DropoffLng = &p.Lat, &p.Lng
	}
	if _, err := s.engine.Create(ctx, lifecycle.System, r, ""); err != nil {
		if relErr := s.cache.Release(ctx, o.ID); relErr != nil {
			s.logger.Warn("release offer", "offer_id", o.ID, "err", relErr)
		}
		return nil, err
	}
	s.logger.Info("order booked", "order_id", orderID, "ride_id", r.ID, "category", o.Category)

	return &BookResponse{
		OrderID:               orderID,
		SupplierLink:          "",
		StartTime:             o.StartTime,
		Distance:              o.DistanceKm,
		EstimatedDurationMins: o.DurationMin,
		IncludedWaitingTime:   waitingMinutes,
		Passengers:            req.Passengers,
		LuggagePlaces:         req.LuggagePlaces,
		FlightNumber:          req.FlightNumber,
		ShieldText:            req.ShieldText,
		Comment:               req.Comment,
		Price:                 s.price(o.Price),
		MeetingInstructions:   MeetingInstructions,
	}, nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func (s *Service) order(ctx context.Context, orderID string) (*models.Ride, error) {
	if orderID == "" {
		return nil, apperr.Validation("order_id is required")
	}
	r, err := s.db.FindRideByExternalID(ctx, models.SourceETG, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("Order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", orderID, err)
	}
	return r, nil
}

// externalStatus collapses ride statuses onto active, completed and
// cancelled.
func externalStatus(s models.RideStatus) string {
	switch s {
	case models.StatusCompleted:
		return "completed"
	case models.StatusCancelled:
		return "cancelled"
	}
	return "active"
}

func (s *Service) Status(ctx context.Context, orderID string) (resp *StatusResponse, err error) {
	defer func() { record("status", err) }()

	r, err := s.order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	resp = &StatusResponse{
		Status:      externalStatus(r.Status),
		OrderID:     orderID,
		StartTime:   r.ScheduledAt.UTC().Format(time.RFC3339),
		Price:       s.price(r.Price.Decimal),
		MeetingInfo: &MeetingInfo{Instructions: MeetingInstructions},
	}
	if r.DriverID != "" {
		d, err := s.db.GetDriver(ctx, r.DriverID)
		switch {
		case err == nil:
			resp.DriverInfo = &DriverInfo{Name: d.FullName(), Phone: d.Phone}
			resp.CarInfo = &CarInfo{Model: strings.TrimSpace(d.CarModel()), PlateNumber: d.VehiclePlate}
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("load driver for order %s: %w", orderID, err)
		}
	}
	return resp, nil
}

// Cancel cancels the order's ride. Cancelling less than 24 hours before
// pickup costs the full price.
func (s *Service) Cancel(ctx context.Context, orderID string) (resp *CancelResponse, err error) {
	defer func() { record("cancel", err) }()

	r, err := s.order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if r.Status.IsTerminal() {
		return nil, apperr.InvalidState("Order %s cannot be cancelled (status: %s)", orderID, r.Status)
	}
	penalty := decimal.Zero
	if r.ScheduledAt.Sub(s.now()) < freeCancelAhead && r.Price.Valid {
		penalty = r.Price.Decimal
	}
	if _, err := s.engine.Cancel(ctx, lifecycle.System, r.ID, "Cancelled by ETG"); err != nil {
		return nil, err
	}
	return &CancelResponse{Penalty: s.price(penalty)}, nil
}
