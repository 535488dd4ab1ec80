package db

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-replay/internal/models"
)

// EventSource reads trip logs from an EventCollection.
type EventSource struct {
	coll   EventCollection
	trips  []models.TripMetadata
	logger logrus.FieldLogger
}

// NewEventSource returns a source over coll. When trips is empty every trip
// in the collection is loaded, ordered by id.
func NewEventSource(coll EventCollection, trips []models.TripMetadata, logger logrus.FieldLogger) *EventSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EventSource{coll: coll, trips: trips, logger: logger}
}

// LoadAll reads every trip's events.
func (s *EventSource) LoadAll(ctx context.Context) ([]models.TripLog, error) {
	if len(s.trips) == 0 {
		ids, err := s.coll.TripIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list trips: %w", err)
		}
		for _, id := range ids {
			s.trips = append(s.trips, models.TripMetadata{ID: id, Name: id})
		}
	}

	logs := make([]models.TripLog, 0, len(s.trips))
	for _, t := range s.trips {
		events, err := s.coll.FindTripEvents(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		logs = append(logs, models.TripLog{TripID: t.ID, Events: events})
		s.logger.WithFields(logrus.Fields{"trip_id": t.ID, "events": len(events)}).Debug("Loaded trip from mongo")
	}
	return logs, nil
}

// Metadata returns the trips this source loads.
func (s *EventSource) Metadata() []models.TripMetadata {
	out := make([]models.TripMetadata, len(s.trips))
	copy(out, s.trips)
	return out
}
