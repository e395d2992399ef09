package etg

// Wire types of the Marketplace-A supplier API. Field names follow the
// partner's contract.

type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type Point struct {
	Type        string `json:"type"`
	Value       string `json:"value,omitempty"`
	IATA        string `json:"iata,omitempty"`
	Coordinates string `json:"coordinates,omitempty"`
}

// Resolve returns the IATA code, else the coordinates, else the free value.
func (p Point) Resolve() string {
	switch {
	case p.IATA != "":
		return p.IATA
	case p.Coordinates != "":
		return p.Coordinates
	}
	return p.Value
}

type ChildSeats struct {
	Seat0 int `json:"children_seat_0"`
	Seat1 int `json:"children_seat_1"`
	Seat2 int `json:"children_seat_2"`
	Seat3 int `json:"children_seat_3"`
}

func (c ChildSeats) Total() int { return c.Seat0 + c.Seat1 + c.Seat2 + c.Seat3 }

type SearchRequest struct {
	StartPoint    Point  `json:"start_point"`
	EndPoint      Point  `json:"end_point"`
	StartDateTime string `json:"start_date_time"`
	Passengers    int    `json:"passengers"`
	ChildSeats
}

type Offer struct {
	ID                    string  `json:"id"`
	ServiceType           string  `json:"service_type"`
	TransferCategory      string  `json:"transfer_category"`
	CarModel              string  `json:"car_model"`
	Seats                 int     `json:"seats"`
	LuggagePlaces         int     `json:"luggage_places"`
	Price                 Price   `json:"price"`
	IncludedWaitingTime   int     `json:"included_waiting_time_minutes"`
	TollsIncluded         bool    `json:"tolls_included"`
	GratuityIncluded      bool    `json:"gratuity_included"`
	FreeCancelUntil       string  `json:"free_cancel_until,omitempty"`
	EstimatedDurationMins int     `json:"estimated_duration_minutes"`
	Distance              float64 `json:"distance"`
}

type SearchResponse struct {
	StartDateTime string  `json:"start_date_time"`
	Offers        []Offer `json:"offers"`
}

type MainPassenger struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

type BookRequest struct {
	OfferID       string `json:"offer_id"`
	Passengers    int    `json:"passengers"`
	LuggagePlaces int    `json:"luggage_places"`
	ChildSeats
	FlightNumber  string        `json:"flight_number"`
	ShieldText    string        `json:"shield_text"`
	Comment       string        `json:"comment"`
	MainPassenger MainPassenger `json:"main_passenger"`
	StartPoint    Point         `json:"start_point"`
	EndPoint      Point         `json:"end_point"`
}

type BookResponse struct {
	OrderID               string  `json:"order_id"`
	SupplierLink          string  `json:"supplier_link"`
	StartTime             string  `json:"start_time"`
	Distance              float64 `json:"distance"`
	EstimatedDurationMins int     `json:"estimated_duration_minutes"`
	IncludedWaitingTime   int     `json:"included_waiting_time_minutes"`
	Passengers            int     `json:"passengers"`
	LuggagePlaces         int     `json:"luggage_places"`
	SportLuggagePlaces    int     `json:"sport_luggage_places"`
	Animals               int     `json:"animals"`
	WheelchairsPlaces     int     `json:"wheelchairs_places"`
	FlightNumber          string  `json:"flight_number"`
	ShieldText            string  `json:"shield_text"`
	Comment               string  `json:"comment"`
	Price                 Price   `json:"price"`
	MeetingInstructions   string  `json:"meeting_instructions"`
}

type OrderRequest struct {
	OrderID string `json:"order_id"`
}

type DriverInfo struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	PhotoURL string `json:"photo_url"`
}

type CarInfo struct {
	Model       string `json:"model"`
	Color       string `json:"color"`
	PlateNumber string `json:"plate_number"`
	PhotoURL    string `json:"photo_url"`
}

type MeetingInfo struct {
	Instructions string `json:"instructions"`
}

type StatusResponse struct {
	Status      string       `json:"status"`
	OrderID     string       `json:"order_id"`
	StartTime   string       `json:"start_time"`
	Price       Price        `json:"price"`
	DriverInfo  *DriverInfo  `json:"driver_info,omitempty"`
	CarInfo     *CarInfo     `json:"car_info,omitempty"`
	MeetingInfo *MeetingInfo `json:"meeting_info,omitempty"`
}

type CancelResponse struct {
	Penalty Price `json:"penalty"`
}
