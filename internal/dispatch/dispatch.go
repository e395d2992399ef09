// Package dispatch delivers notification records to people: live over
// websocket sessions, and through a push gateway for users who are offline.
package dispatch

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

// Deliverer sends one notification to its user.
type Deliverer interface {
	Deliver(ctx context.Context, n models.Notification) error
}
