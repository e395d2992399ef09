package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pricing is the on-disk shape of the fare table. Zero values mean "use the
// built-in default", so a file only needs the keys it changes.
type Pricing struct {
	Currency           string             `yaml:"currency"`
	RoadFactor         float64            `yaml:"road_factor"`
	FallbackDistanceKm float64            `yaml:"fallback_distance_km"`
	AverageSpeedKmh    float64            `yaml:"average_speed_kmh"`
	MinDurationMin     int                `yaml:"min_duration_min"`
	MinFareFloor       float64            `yaml:"min_fare_floor"`
	MinFareKm          float64            `yaml:"min_fare_km"`
	ChildSeatFee       float64            `yaml:"child_seat_fee"`
	Rates              map[string]float64 `yaml:"rates"`
	BookingCom         BookingComPricing  `yaml:"booking_com"`
}

type BookingComPricing struct {
	RatePerKm         float64 `yaml:"rate_per_km"`
	MinimumFare       float64 `yaml:"minimum_fare"`
	DefaultDistanceKm float64 `yaml:"default_distance_km"`
}

// LoadPricing reads a YAML pricing file. An empty path returns the zero
// Pricing, i.e. all defaults.
func LoadPricing(path string) (Pricing, error) {
	var p Pricing
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read pricing file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse pricing file %s: %w", path, err)
	}
	return p, p.validate()
}

func (p Pricing) validate() error {
	var errs []error
	for name, rate := range p.Rates {
		if rate <= 0 {
			errs = append(errs, fmt.Errorf("rate for %s must be > 0", name))
		}
	}
	nonNegative := map[string]float64{
		"road_factor":                     p.RoadFactor,
		"fallback_distance_km":            p.FallbackDistanceKm,
		"average_speed_kmh":               p.AverageSpeedKmh,
		"min_fare_floor":                  p.MinFareFloor,
		"min_fare_km":                     p.MinFareKm,
		"child_seat_fee":                  p.ChildSeatFee,
		"booking_com.rate_per_km":         p.BookingCom.RatePerKm,
		"booking_com.minimum_fare":        p.BookingCom.MinimumFare,
		"booking_com.default_distance_km": p.BookingCom.DefaultDistanceKm,
	}
	for key, v := range nonNegative {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0", key))
		}
	}
	if p.MinDurationMin < 0 {
		errs = append(errs, fmt.Errorf("min_duration_min must be >= 0"))
	}
	return errors.Join(errs...)
}
