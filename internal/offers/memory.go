package offers

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/observability"
)

const DefaultMaxSearches = 1000

type memoryEntry struct {
	offer    Offer
	consumed bool
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu       sync.Mutex
	max      int
	order    []string
	searches map[string][]string
	offers   map[string]*memoryEntry
}

func NewMemoryCache(maxSearches int) *MemoryCache {
	if maxSearches <= 0 {
		maxSearches = DefaultMaxSearches
	}
	return &MemoryCache{
		max:      maxSearches,
		searches: make(map[string][]string),
		offers:   make(map[string]*memoryEntry),
	}
}

func (c *MemoryCache) Put(_ context.Context, searchID string, offers []Offer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.searches[searchID]; ok {
		c.dropLocked(searchID)
	}
	ids := make([]string, 0, len(offers))
	for _, o := range offers {
		c.offers[o.ID] = &memoryEntry{offer: o}
		ids = append(ids, o.ID)
	}
	c.searches[searchID] = ids
	c.order = append(c.order, searchID)
	for len(c.order) > c.max {
		c.dropLocked(c.order[0])
	}
	observability.OffersCached.Set(float64(len(c.order)))
	return nil
}

// dropLocked removes a search and its offers. c.mu must be held.
func (c *MemoryCache) dropLocked(searchID string) {
	for _, id := range c.searches[searchID] {
		delete(c.offers, id)
	}
	delete(c.searches, searchID)
	for i, s := range c.order {
		if s == searchID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *MemoryCache) Get(_ context.Context, offerID string) (Offer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.offers[offerID]
	if !ok || e.consumed {
		return Offer{}, ErrNotFound
	}
	return e.offer, nil
}

func (c *MemoryCache) Consume(_ context.Context, offerID string) (Offer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.offers[offerID]
	if !ok || e.consumed {
		return Offer{}, ErrNotFound
	}
	e.consumed = true
	return e.offer, nil
}

func (c *MemoryCache) Release(_ context.Context, offerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.offers[offerID]; ok {
		e.consumed = false
	}
	return nil
}

// Len reports the number of cached searches.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
