package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Source platform tags stored in rides.source_platform.
const (
	SourceDirect     = "direct"
	SourceETG        = "etg"
	SourceBookingCom = "booking.com"
)

type RouteType string

const (
	RouteUrban      RouteType = "urban"
	RouteExtraUrban RouteType = "extra_urban"
)

// ResolutionType records how a critical ride stopped being critical.
type ResolutionType string

const (
	ResolvedByAssign ResolutionType = "assigned"
	ResolvedByAccept ResolutionType = "accepted"
)

// Ride is a single passenger transfer job. Optional columns are pointers or
// NullDecimal so that "unset" survives a round trip through the store.
type Ride struct {
	ID             string     `json:"id"`
	ExternalID     string     `json:"external_id,omitempty"`
	SourcePlatform string     `json:"source_platform"`
	Status         RideStatus `json:"status"`

	PickupAddress  string   `json:"pickup_address"`
	PickupLat      *float64 `json:"pickup_lat,omitempty"`
	PickupLng      *float64 `json:"pickup_lng,omitempty"`
	DropoffAddress string   `json:"dropoff_address"`
	DropoffLat     *float64 `json:"dropoff_lat,omitempty"`
	DropoffLng     *float64 `json:"dropoff_lng,omitempty"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	PassengerName  string    `json:"passenger_name,omitempty"`
	PassengerPhone string    `json:"passenger_phone,omitempty"`
	PassengerCount int       `json:"passenger_count"`
	RouteType      RouteType `json:"route_type,omitempty"`

	DistanceKm  decimal.NullDecimal `json:"distance_km"`
	DurationMin *int                `json:"duration_min,omitempty"`
	Price       decimal.NullDecimal `json:"price"`
	DriverShare decimal.NullDecimal `json:"driver_share"`
	Notes       string              `json:"notes,omitempty"`

	DriverID   string `json:"driver_id,omitempty"`
	AssignedBy string `json:"assigned_by,omitempty"`

	CriticalAt             *time.Time     `json:"critical_at,omitempty"`
	CriticalResolvedAt     *time.Time     `json:"critical_resolved_at,omitempty"`
	CriticalResolutionType ResolutionType `json:"critical_resolution_type,omitempty"`

	BookingReference  string          `json:"booking_reference,omitempty"`
	CustomerReference string          `json:"customer_reference,omitempty"`
	StateHash         string          `json:"state_hash,omitempty"`
	RawPayload        json.RawMessage `json:"raw_payload,omitempty"`
	FlightNumber      string          `json:"flight_number,omitempty"`
	Services          json.RawMessage `json:"services,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RideHistory is one immutable audit row. OldStatus is empty for the
// creation row; ChangedBy is empty when the system acted.
type RideHistory struct {
	ID        string     `json:"id"`
	RideID    string     `json:"ride_id"`
	OldStatus RideStatus `json:"old_status,omitempty"`
	NewStatus RideStatus `json:"new_status"`
	ChangedBy string     `json:"changed_by,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type NotificationType string

const (
	NotifyRideAssigned  NotificationType = "ride_assigned"
	NotifyRideAccepted  NotificationType = "ride_accepted"
	NotifyRideCancelled NotificationType = "ride_cancelled"
	NotifyRideCritical  NotificationType = "ride_critical"
)

type Notification struct {
	ID     string           `json:"id"`
	UserID string           `json:"user_id"`
	Type   NotificationType `json:"type"`
	Title  string           `json:"title"`
	Body   string           `json:"body"`
	RideID string           `json:"ride_id,omitempty"`
	SentAt time.Time        `json:"sent_at"`
	ReadAt *time.Time       `json:"read_at,omitempty"`
}

type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      Role       `json:"role"`
	Status    UserStatus `json:"status"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Phone     string     `json:"phone,omitempty"`
}

func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Driver is the vehicle profile and running totals attached to a
// driver-role user.
type Driver struct {
	User
	VehicleMake     string          `json:"vehicle_make,omitempty"`
	VehicleModel    string          `json:"vehicle_model,omitempty"`
	VehiclePlate    string          `json:"vehicle_plate,omitempty"`
	VehicleSeats    int             `json:"vehicle_seats"`
	LuggageCapacity int             `json:"vehicle_luggage_capacity"`
	FuelType        string          `json:"vehicle_fuel_type,omitempty"`
	TotalRides      int             `json:"total_rides"`
	TotalKm         decimal.Decimal `json:"total_km"`
	TotalEarnings   decimal.Decimal `json:"total_earnings"`
}

// CarModel is the "make model" label shown to marketplace customers.
func (d Driver) CarModel() string {
	switch {
	case d.VehicleMake == "":
		return d.VehicleModel
	case d.VehicleModel == "":
		return d.VehicleMake
	}
	return d.VehicleMake + " " + d.VehicleModel
}

// BookingConfig is the Booking.com integration singleton (id 1).
type BookingConfig struct {
	ClientID       string     `json:"client_id"`
	ClientSecret   string     `json:"-"`
	APIBaseURL     string     `json:"api_base_url"`
	WebhookSecret  string     `json:"-"`
	Enabled        bool       `json:"is_enabled"`
	Environment    string     `json:"environment"`
	AccessToken    string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Active reports whether outbound calls should be made at all.
func (c BookingConfig) Active() bool {
	return c.Enabled && c.ClientID != "" && c.ClientSecret != ""
}

// RidePatch carries the editable, non-status fields of a ride. Nil means
// "leave unchanged".
type RidePatch struct {
	PickupAddress  *string          `json:"pickup_address,omitempty"`
	PickupLat      *float64         `json:"pickup_lat,omitempty"`
	PickupLng      *float64         `json:"pickup_lng,omitempty"`
	DropoffAddress *string          `json:"dropoff_address,omitempty"`
	DropoffLat     *float64         `json:"dropoff_lat,omitempty"`
	DropoffLng     *float64         `json:"dropoff_lng,omitempty"`
	ScheduledAt    *time.Time       `json:"scheduled_at,omitempty"`
	PassengerName  *string          `json:"passenger_name,omitempty"`
	PassengerPhone *string          `json:"passenger_phone,omitempty"`
	PassengerCount *int             `json:"passenger_count,omitempty"`
	RouteType      *RouteType       `json:"route_type,omitempty"`
	DistanceKm     *decimal.Decimal `json:"distance_km,omitempty"`
	DurationMin    *int             `json:"duration_min,omitempty"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	DriverShare    *decimal.Decimal `json:"driver_share,omitempty"`
	Notes          *string          `json:"notes,omitempty"`
	FlightNumber   *string          `json:"flight_number,omitempty"`
	Services       json.RawMessage  `json:"services,omitempty"`
}

// Apply copies every set field onto r.
func (p RidePatch) Apply(r *Ride) {
	if p.PickupAddress != nil {
		r.PickupAddress = *p.PickupAddress
	}
	if p.PickupLat != nil {
		r.PickupLat = p.PickupLat
	}
	if p.PickupLng != nil {
		r.PickupLng = p.PickupLng
	}
	if p.DropoffAddress != nil {
		r.DropoffAddress = *p.DropoffAddress
	}
	if p.DropoffLat != nil {
		r.DropoffLat = p.DropoffLat
	}
	if p.DropoffLng != nil {
		r.DropoffLng = p.DropoffLng
	}
	if p.ScheduledAt != nil {
		r.ScheduledAt = p.ScheduledAt.UTC()
	}
	if p.PassengerName != nil {
		r.PassengerName = *p.PassengerName
	}
	if p.PassengerPhone != nil {
		r.PassengerPhone = *p.PassengerPhone
	}
	if p.PassengerCount != nil {
		r.PassengerCount = *p.PassengerCount
	}
	if p.RouteType != nil {
		r.RouteType = *p.RouteType
	}
	if p.DistanceKm != nil {
		r.DistanceKm = decimal.NewNullDecimal(*p.DistanceKm)
	}
	if p.DurationMin != nil {
		r.DurationMin = p.DurationMin
	}
	if p.Price != nil {
		r.Price = decimal.NewNullDecimal(*p.Price)
	}
	if p.DriverShare != nil {
		r.DriverShare = decimal.NewNullDecimal(*p.DriverShare)
	}
	if p.Notes != nil {
		r.Notes = *p.Notes
	}
	if p.FlightNumber != nil {
		r.FlightNumber = *p.FlightNumber
	}
	if len(p.Services) > 0 {
		r.Services = p.Services
	}
}

// RideFilter narrows a ride listing. VisibleTo, when set, restricts the
// result to rides that driver may see.
type RideFilter struct {
	Status         RideStatus
	DateFrom       *time.Time
	DateTo         *time.Time
	DriverID       string
	SourcePlatform string
	VisibleTo      string
	Limit          int
	Offset         int
}
