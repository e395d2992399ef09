// Package offers holds the short-lived quotes returned by a marketplace
// search until they are booked or pushed out by newer searches.
package offers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/pricing"
)

// ErrNotFound covers unknown, evicted and already consumed offers alike.
var ErrNotFound = errors.New("offer not found")

type Offer struct {
	ID            string           `json:"id"`
	SearchID      string           `json:"search_id"`
	Category      pricing.Category `json:"category"`
	CarModel      string           `json:"car_model"`
	Seats         int              `json:"seats"`
	LuggagePlaces int              `json:"luggage_places"`
	Price         decimal.Decimal  `json:"price"`
	Currency      string           `json:"currency"`
	DistanceKm    float64          `json:"distance_km"`
	DurationMin   int              `json:"duration_min"`

	StartPoint string `json:"start_point"`
	EndPoint   string `json:"end_point"`
	StartTime  string `json:"start_time"`
	Passengers int    `json:"passengers"`
}

// Cache stores offers grouped by search. Implementations keep at most a
// fixed number of searches and drop the oldest inserted search first.
type Cache interface {
	Put(ctx context.Context, searchID string, offers []Offer) error
	Get(ctx context.Context, offerID string) (Offer, error)
	// Consume returns the offer and marks it used. Only the first caller
	// for a given offer succeeds.
	Consume(ctx context.Context, offerID string) (Offer, error)
	// Release undoes Consume when the booking it guarded did not happen.
	Release(ctx context.Context, offerID string) error
}

// NewSearchID returns 16 hex characters from a random uuid.
func NewSearchID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// OfferID derives the offer id from its search and category, so ids never
// collide across searches.
func OfferID(searchID string, c pricing.Category) string {
	sum := sha256.Sum256([]byte(searchID + ":" + string(c)))
	return hex.EncodeToString(sum[:])[:16]
}
