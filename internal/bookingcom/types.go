package bookingcom

import "time"

// Payloads exchanged with the Booking.com taxi supplier API. Field names
// follow the partner's contract.

type Location struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Name      string   `json:"name,omitempty"`
	City      string   `json:"city,omitempty"`
	Country   string   `json:"country,omitempty"`
	Postcode  string   `json:"postcode,omitempty"`
	IATA      string   `json:"iata,omitempty"`
}

// Label joins name and city, or returns fallback when both are empty.
func (l *Location) Label(fallback string) string {
	if l == nil {
		return fallback
	}
	switch {
	case l.Name != "" && l.City != "":
		return l.Name + ", " + l.City
	case l.Name != "":
		return l.Name
	case l.City != "":
		return l.City
	}
	return fallback
}

type SearchRequest struct {
	Origin              Location `json:"origin"`
	Destination         Location `json:"destination"`
	Passengers          int      `json:"passengers"`
	PickupDateTime      string   `json:"pickupDateTime"`
	PickupTimezone      string   `json:"pickupTimezone,omitempty"`
	DrivingDistanceInKm *float64 `json:"drivingDistanceInKm,omitempty"`
}

type QuotePrice struct {
	SalePriceMin float64 `json:"salePriceMin"`
	SalePriceMax float64 `json:"salePriceMax"`
	Currency     string  `json:"currency"`
}

type Feature struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Quote struct {
	SearchResultID    string     `json:"searchResultId"`
	TransportCategory string     `json:"transportCategory"`
	Price             QuotePrice `json:"price"`
	MinPassengers     int        `json:"minPassengers"`
	MaxPassengers     int        `json:"maxPassengers"`
	Features          []Feature  `json:"features"`
	ServicesAvailable []string   `json:"servicesAvailable"`
}

type Passenger struct {
	Title       string `json:"title,omitempty"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	CustomerID  string `json:"customerId,omitempty"`
}

func (p *Passenger) FullName() string {
	if p == nil {
		return ""
	}
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

type ServiceItem struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// NewBooking is the new-booking webhook payload.
type NewBooking struct {
	BookingReference  string        `json:"bookingReference"`
	CustomerReference string        `json:"customerReference"`
	SearchResultID    string        `json:"searchResultId,omitempty"`
	LeadPassenger     Passenger     `json:"leadPassenger"`
	FlightNumber      string        `json:"flightNumber,omitempty"`
	Comment           string        `json:"comment,omitempty"`
	Services          []ServiceItem `json:"services,omitempty"`
}

const (
	ActionAmendment    = "AMENDMENT"
	ActionCancellation = "CANCELLATION"
)

// BookingUpdate is the amend/cancel webhook payload.
type BookingUpdate struct {
	Action             string        `json:"action"`
	LeadPassenger      *Passenger    `json:"leadPassenger,omitempty"`
	Comment            string        `json:"comment,omitempty"`
	FlightNumber       string        `json:"flightNumber,omitempty"`
	PickupDateTime     string        `json:"pickupDateTime,omitempty"`
	Services           []ServiceItem `json:"services,omitempty"`
	CancellationReason string        `json:"cancellationReason,omitempty"`
}

type Incident struct {
	BookingReference  string `json:"bookingReference"`
	CustomerReference string `json:"customerReference,omitempty"`
	IncidentType      string `json:"incidentType"`
	Status            string `json:"status,omitempty"`
	ResponsibleParty  string `json:"responsibleParty,omitempty"`
	Description       string `json:"description,omitempty"`
}

// RemoteBooking is one entry of GET /v1/bookings.
type RemoteBooking struct {
	BookingReference    string        `json:"bookingReference"`
	CustomerReference   string        `json:"customerReference"`
	Status              string        `json:"status"`
	StateHash           string        `json:"stateHash,omitempty"`
	Origin              *Location     `json:"origin,omitempty"`
	Destination         *Location     `json:"destination,omitempty"`
	PickupDateTime      string        `json:"pickupDateTime,omitempty"`
	LeadPassenger       *Passenger    `json:"leadPassenger,omitempty"`
	FlightNumber        string        `json:"flightNumber,omitempty"`
	Comment             string        `json:"comment,omitempty"`
	Services            []ServiceItem `json:"services,omitempty"`
	DrivingDistanceInKm *float64      `json:"drivingDistanceInKm,omitempty"`
}

type bookingList struct {
	Bookings []RemoteBooking `json:"bookings"`
}

const (
	ResponseAccept = "ACCEPT"
	ResponseReject = "REJECT"
)

// SupplierResponse is the body of POST /v1/bookings/{customer}/{booking}/responses.
type SupplierResponse struct {
	SupplierResponse   string `json:"supplierResponse"`
	StateHash          string `json:"state_hash"`
	CancellationReason string `json:"cancellationReason,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// ConfigView is the integration config as shown to admins. Secrets are
// never returned in full.
type ConfigView struct {
	ClientID        string     `json:"client_id"`
	APIBaseURL      string     `json:"api_base_url"`
	WebhookSecret   string     `json:"webhook_secret"`
	IsEnabled       bool       `json:"is_enabled"`
	Environment     string     `json:"environment"`
	LastSyncAt      *time.Time `json:"last_sync_at"`
	HasClientSecret bool       `json:"has_client_secret"`
}

// ConfigUpdate carries the fields an admin wants to change. Nil leaves a
// field as it is.
type ConfigUpdate struct {
	ClientID      *string `json:"client_id,omitempty"`
	ClientSecret  *string `json:"client_secret,omitempty"`
	APIBaseURL    *string `json:"api_base_url,omitempty"`
	WebhookSecret *string `json:"webhook_secret,omitempty"`
	IsEnabled     *bool   `json:"is_enabled,omitempty"`
	Environment   *string `json:"environment,omitempty"`
}

type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type SyncResult struct {
	Success      bool   `json:"success"`
	NewRides     int    `json:"new_rides"`
	UpdatedRides int    `json:"updated_rides"`
	Message      string `json:"message"`
}
