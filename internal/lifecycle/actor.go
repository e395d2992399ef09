package lifecycle

import "github.com/example/ride-dispatch/internal/models"

// Actor is who asks for an operation. The zero Actor has no rights.
type Actor struct {
	UserID string
	Role   models.Role
	system bool
}

// System acts for timers and marketplace webhooks. It has staff rights and
// leaves changed_by empty in the history.
var System = Actor{system: true}

func UserActor(id string, role models.Role) Actor {
	return Actor{UserID: id, Role: role}
}

func (a Actor) IsSystem() bool { return a.system }

func (a Actor) staff() bool { return a.system || a.Role.Staff() }

func (a Actor) isDriver(id string) bool {
	return !a.system && a.Role == models.RoleDriver && id != "" && a.UserID == id
}

// changedBy is the history/assigned_by reference for a.
func (a Actor) changedBy() string {
	if a.system {
		return ""
	}
	return a.UserID
}
