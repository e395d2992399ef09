package matcher

import (
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/pricing"
)

// CategoryMatch is one sellable category and the vehicle shown for it.
type CategoryMatch struct {
	Category pricing.Category
	Vehicle  models.Driver
	// Candidates counts fleet vehicles that qualify for the category.
	Candidates int
}

// Match groups the fleet by the categories each vehicle qualifies for,
// skipping vehicles that cannot seat passengers. The first qualifying
// vehicle in fleet order represents the category. Results are ordered by
// ascending rate.
func Match(fleet []models.Driver, passengers int, table *pricing.Table) []CategoryMatch {
	byCategory := make(map[pricing.Category]*CategoryMatch)
	var order []pricing.Category
	for _, d := range fleet {
		if d.VehicleSeats < passengers {
			continue
		}
		for _, c := range pricing.Classify(d) {
			if _, priced := table.Rate(c); !priced {
				continue
			}
			m, ok := byCategory[c]
			if !ok {
				m = &CategoryMatch{Category: c, Vehicle: d}
				byCategory[c] = m
				order = append(order, c)
			}
			m.Candidates++
		}
	}
	table.SortByRate(order)
	out := make([]CategoryMatch, 0, len(order))
	for _, c := range order {
		out = append(out, *byCategory[c])
	}
	return out
}
