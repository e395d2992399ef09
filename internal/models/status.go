package models

import "fmt"

type RideStatus string

const (
	StatusToAssign   RideStatus = "to_assign"
	StatusCritical   RideStatus = "critical"
	StatusBooked     RideStatus = "booked"
	StatusInProgress RideStatus = "in_progress"
	StatusCompleted  RideStatus = "completed"
	StatusCancelled  RideStatus = "cancelled"
)

var transitions = map[RideStatus][]RideStatus{
	StatusToAssign:   {StatusBooked, StatusCancelled, StatusCritical},
	StatusCritical:   {StatusBooked, StatusCancelled},
	StatusBooked:     {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  nil,
	StatusCancelled:  nil,
}

// ParseRideStatus rejects anything outside the closed status set.
func ParseRideStatus(s string) (RideStatus, error) {
	st := RideStatus(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown ride status %q", s)
	}
	return st, nil
}

func (s RideStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s RideStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Assignable reports whether a driver may be (re)assigned in this status.
func (s RideStatus) Assignable() bool {
	return s == StatusToAssign || s == StatusCritical
}

func (s RideStatus) CanTransition(to RideStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleAssistant Role = "assistant"
	RoleFinance   Role = "finance"
	RoleDriver    Role = "driver"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAssistant, RoleFinance, RoleDriver:
		return true
	}
	return false
}

// Staff roles manage rides on behalf of the company.
func (r Role) Staff() bool {
	return r == RoleAdmin || r == RoleAssistant
}

type UserStatus string

const (
	UserActive      UserStatus = "active"
	UserSuspended   UserStatus = "suspended"
	UserUnavailable UserStatus = "unavailable"
)
