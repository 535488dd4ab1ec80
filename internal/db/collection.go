package db

import (
	"context"

	"github.com/ukydev/fleet-replay/internal/models"
)

// EventCollection defines the trip event store operations.
type EventCollection interface {
	InsertTripEvents(ctx context.Context, tripID string, events []models.Event) error
	FindTripEvents(ctx context.Context, tripID string) ([]models.Event, error)
	TripIDs(ctx context.Context) ([]string, error)
	DeleteTrip(ctx context.Context, tripID string) error
}

// EventCursor defines the interface for event cursor operations.
type EventCursor interface {
	All(ctx context.Context, out interface{}) error
	Close(ctx context.Context) error
}
