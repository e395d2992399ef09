// Package pricing holds the fare table shared by both marketplace adapters:
// per-category kilometre rates, minimum fares, surcharges and the distance
// and duration estimates the fares are applied to.
package pricing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
)

type Category string

const (
	Micro           Category = "micro"
	Economy         Category = "economy"
	EconomyMPV      Category = "economy_mpv"
	EconomyVan      Category = "economy_van"
	Standard        Category = "standard"
	StandardMPV     Category = "standard_mpv"
	StandardVan     Category = "standard_van"
	Business        Category = "business"
	BusinessMPV     Category = "business_mpv"
	BusinessVan     Category = "business_van"
	First           Category = "first"
	FirstMPV        Category = "first_mpv"
	FirstVan        Category = "first_van"
	Luxury          Category = "luxury"
	LuxuryMPV       Category = "luxury_mpv"
	LuxuryVan       Category = "luxury_van"
	Minibus         Category = "minibus"
	MinibusLarge    Category = "minibus_large"
	Bus             Category = "bus"
	ElectroEconomy  Category = "electro_economy"
	ElectroStandard Category = "electro_standard"
	ElectroBusiness Category = "electro_business"
	ElectroFirst    Category = "electro_first"
	ElectroLuxury   Category = "electro_luxury"
	ElectroMinibus  Category = "electro_minibus"
	ElectroBus      Category = "electro_bus"
)

var defaultRates = map[Category]string{
	Micro:           "0.80",
	Economy:         "1.00",
	EconomyMPV:      "1.20",
	EconomyVan:      "1.30",
	Standard:        "1.30",
	StandardMPV:     "1.50",
	StandardVan:     "1.60",
	Business:        "1.80",
	BusinessMPV:     "2.00",
	BusinessVan:     "2.10",
	First:           "2.50",
	FirstMPV:        "2.70",
	FirstVan:        "2.80",
	Luxury:          "3.50",
	LuxuryMPV:       "3.70",
	LuxuryVan:       "3.80",
	Minibus:         "2.00",
	MinibusLarge:    "2.50",
	Bus:             "3.00",
	ElectroEconomy:  "1.10",
	ElectroStandard: "1.40",
	ElectroBusiness: "1.90",
	ElectroFirst:    "2.60",
	ElectroLuxury:   "3.60",
	ElectroMinibus:  "2.10",
	ElectroBus:      "3.10",
}

// Table is immutable once built and safe for concurrent use.
type Table struct {
	Currency string

	rates        map[Category]decimal.Decimal
	minFareFloor decimal.Decimal
	minFareKm    decimal.Decimal
	childSeatFee decimal.Decimal

	RoadFactor         float64
	FallbackDistanceKm float64
	AverageSpeedKmh    float64
	MinDurationMin     int

	bookingRatePerKm   decimal.Decimal
	bookingMinimumFare decimal.Decimal
	// BookingDefaultDistanceKm is used when a Booking.com quote request
	// carries no driving distance.
	BookingDefaultDistanceKm float64
}

func Default() *Table {
	t := &Table{
		Currency:                 "EUR",
		rates:                    make(map[Category]decimal.Decimal, len(defaultRates)),
		minFareFloor:             decimal.NewFromInt(15),
		minFareKm:                decimal.NewFromInt(15),
		childSeatFee:             decimal.NewFromInt(5),
		RoadFactor:               1.3,
		FallbackDistanceKm:       30,
		AverageSpeedKmh:          eta.DefaultSpeedKmh,
		MinDurationMin:           15,
		bookingRatePerKm:         decimal.RequireFromString("1.80"),
		bookingMinimumFare:       decimal.NewFromInt(25),
		BookingDefaultDistanceKm: 20,
	}
	for c, r := range defaultRates {
		t.rates[c] = decimal.RequireFromString(r)
	}
	return t
}

// FromConfig overlays a pricing file onto the defaults.
func FromConfig(p config.Pricing) (*Table, error) {
	t := Default()
	for name, rate := range p.Rates {
		c := Category(name)
		if _, ok := t.rates[c]; !ok {
			return nil, fmt.Errorf("unknown transfer category %q in pricing", name)
		}
		t.rates[c] = decimal.NewFromFloat(rate)
	}
	if p.Currency != "" {
		t.Currency = p.Currency
	}
	setDecimal(&t.minFareFloor, p.MinFareFloor)
	setDecimal(&t.minFareKm, p.MinFareKm)
	setDecimal(&t.childSeatFee, p.ChildSeatFee)
	setDecimal(&t.bookingRatePerKm, p.BookingCom.RatePerKm)
	setDecimal(&t.bookingMinimumFare, p.BookingCom.MinimumFare)
	setFloat(&t.RoadFactor, p.RoadFactor)
	setFloat(&t.FallbackDistanceKm, p.FallbackDistanceKm)
	setFloat(&t.AverageSpeedKmh, p.AverageSpeedKmh)
	setFloat(&t.BookingDefaultDistanceKm, p.BookingCom.DefaultDistanceKm)
	if p.MinDurationMin > 0 {
		t.MinDurationMin = p.MinDurationMin
	}
	return t, nil
}

func setDecimal(dst *decimal.Decimal, v float64) {
	if v > 0 {
		*dst = decimal.NewFromFloat(v)
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func (t *Table) Rate(c Category) (decimal.Decimal, bool) {
	r, ok := t.rates[c]
	return r, ok
}

// Categories lists every priced category, cheapest rate first.
func (t *Table) Categories() []Category {
	out := make([]Category, 0, len(t.rates))
	for c := range t.rates {
		out = append(out, c)
	}
	t.SortByRate(out)
	return out
}

// SortByRate orders categories by ascending rate, then by name.
func (t *Table) SortByRate(cs []Category) {
	sort.Slice(cs, func(i, j int) bool {
		ri, rj := t.rates[cs[i]], t.rates[cs[j]]
		if !ri.Equal(rj) {
			return ri.LessThan(rj)
		}
		return cs[i] < cs[j]
	})
}

// MinimumFare is max(floor, rate × minimum-fare kilometres).
func (t *Table) MinimumFare(c Category) decimal.Decimal {
	return decimal.Max(t.minFareFloor, t.rates[c].Mul(t.minFareKm))
}

// Price is max(rate × km, minimum fare) plus the child seat surcharge,
// rounded to cents.
func (t *Table) Price(c Category, distanceKm float64, childSeats int) decimal.Decimal {
	base := t.rates[c].Mul(decimal.NewFromFloat(distanceKm))
	price := decimal.Max(base, t.MinimumFare(c))
	if childSeats > 0 {
		price = price.Add(t.childSeatFee.Mul(decimal.NewFromInt(int64(childSeats))))
	}
	return price.Round(2)
}

// EstimateDistanceKm returns the road distance between two "lat,lng"
// values, or the fallback distance when either is not a coordinate pair.
func (t *Table) EstimateDistanceKm(from, to string) float64 {
	a, okA := geo.ParsePoint(from)
	b, okB := geo.ParsePoint(to)
	if !okA || !okB {
		return t.FallbackDistanceKm
	}
	return geo.RoadDistanceKm(a, b, t.RoadFactor)
}

func (t *Table) EstimateDurationMin(distanceKm float64) int {
	return eta.Minutes(distanceKm, t.AverageSpeedKmh, t.MinDurationMin)
}

// BookingComEstimate prices a ride imported from Booking.com polling:
// max(round(km × rate, 2), minimum).
func (t *Table) BookingComEstimate(distanceKm float64) decimal.Decimal {
	p := t.bookingRatePerKm.Mul(decimal.NewFromFloat(distanceKm)).Round(2)
	return decimal.Max(p, t.bookingMinimumFare)
}
