// Package calendar wraps the external calendar the clinic treats as the
// source of truth for booked time.
package calendar

import (
	"context"
	"time"
)

// Event is a created calendar entry.
type Event struct {
	ID   string
	Link string
}

// EventRequest describes the appointment block to reserve.
type EventRequest struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	Duration    time.Duration
}

// Client is the calendar collaborator consumed by the scheduling coordinator.
type Client interface {
	CreateEvent(ctx context.Context, req EventRequest) (*Event, error)
	DeleteEvent(ctx context.Context, eventID string) error
}
