// Package metrics derives per-trip and fleet-wide snapshots from the events
// revealed so far. Every function here is pure and safe for concurrent use.
package metrics

import (
	"github.com/ukydev/fleet-replay/internal/models"
)

// Status is the derived lifecycle state of a trip.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusStarted    Status = "started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Active reports whether the trip is started or in progress.
func (s Status) Active() bool {
	return s == StatusStarted || s == StatusInProgress
}

const (
	defaultBatteryLevel  = 100
	defaultSignalQuality = "unknown"
)

// TripMetrics is a snapshot of one trip at a cursor position.
type TripMetrics struct {
	Status        Status   `json:"status"`
	Progress      float64  `json:"progress"`
	Distance      float64  `json:"distance"`
	Duration      float64  `json:"duration"`
	Alerts        []Alert  `json:"alerts"`
	CurrentSpeed  float64  `json:"currentSpeed"`
	FuelLevel     *float64 `json:"fuelLevel"`
	BatteryLevel  float64  `json:"batteryLevel"`
	SignalQuality string   `json:"signalQuality"`
	IsMoving      bool     `json:"isMoving"`
	LastUpdate    string   `json:"lastUpdate,omitempty"`
}

// CalculateTrip derives the snapshot of a trip from its revealed events, in
// timeline order, and the latest of them. A nil latest is treated as an
// event carrying no optional fields.
func CalculateTrip(events []*models.Event, latest *models.Event) TripMetrics {
	if len(events) == 0 {
		return TripMetrics{
			Status:        StatusNotStarted,
			Alerts:        []Alert{},
			SignalQuality: defaultSignalQuality,
		}
	}
	if latest == nil {
		latest = &models.Event{}
	}

	m := TripMetrics{
		Status:        tripStatus(events),
		Alerts:        ExtractAlerts(events),
		BatteryLevel:  defaultBatteryLevel,
		SignalQuality: defaultSignalQuality,
		LastUpdate:    latest.Timestamp,
	}

	if m.Status == StatusCompleted && latest.TotalDistanceKm != nil {
		m.Distance = *latest.TotalDistanceKm
	} else if latest.DistanceTravelledKm != nil {
		m.Distance = *latest.DistanceTravelledKm
	}

	start := firstOfType(events, models.EventTripStarted)
	if start != nil {
		m.Duration = minutesBetween(start, events[len(events)-1])
		if start.PlannedDistanceKm != nil && *start.PlannedDistanceKm > 0 && m.Distance > 0 {
			m.Progress = min(m.Distance / *start.PlannedDistanceKm * 100, 100)
		}
	}

	if mv := latest.Movement; mv != nil {
		if mv.SpeedKmh != nil {
			m.CurrentSpeed = *mv.SpeedKmh
		}
		if mv.Moving != nil {
			m.IsMoving = *mv.Moving
		}
	}
	m.FuelLevel = fuelLevel(events)
	if latest.Device != nil && latest.Device.BatteryLevel != nil {
		m.BatteryLevel = *latest.Device.BatteryLevel
	}
	if latest.SignalQuality != nil {
		m.SignalQuality = *latest.SignalQuality
	}

	return m
}

// tripStatus applies the fixed priority completed > cancelled > started >
// in_progress; recency does not matter.
func tripStatus(events []*models.Event) Status {
	var completed, cancelled bool
	for _, e := range events {
		switch e.EventType {
		case models.EventTripCompleted:
			completed = true
		case models.EventTripCancelled:
			cancelled = true
		}
	}
	switch {
	case completed:
		return StatusCompleted
	case cancelled:
		return StatusCancelled
	case len(events) == 1 && events[0].EventType == models.EventTripStarted:
		return StatusStarted
	default:
		return StatusInProgress
	}
}

// fuelLevel returns the most recent fuel reading, either telemetry or a
// completed refuel, or nil when the trip has none.
func fuelLevel(events []*models.Event) *float64 {
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Telemetry != nil && e.Telemetry.FuelLevelPercent != nil {
			v := *e.Telemetry.FuelLevelPercent
			return &v
		}
		if e.EventType == models.EventRefuelingCompleted && e.FuelLevelAfterRefuel != nil {
			v := *e.FuelLevelAfterRefuel
			return &v
		}
	}
	return nil
}

func firstOfType(events []*models.Event, typ models.EventType) *models.Event {
	for _, e := range events {
		if e.EventType == typ {
			return e
		}
	}
	return nil
}

func minutesBetween(from, to *models.Event) float64 {
	start, err := from.Time()
	if err != nil {
		return 0
	}
	end, err := to.Time()
	if err != nil {
		return 0
	}
	return end.Sub(start).Minutes()
}
