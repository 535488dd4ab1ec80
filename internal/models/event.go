package models

import (
	"time"
)

// EventType identifies the kind of a trip event.
type EventType string

const (
	EventTripStarted        EventType = "trip_started"
	EventTripCompleted      EventType = "trip_completed"
	EventTripCancelled      EventType = "trip_cancelled"
	EventLocationPing       EventType = "location_ping"
	EventSignalLost         EventType = "signal_lost"
	EventSignalRecovered    EventType = "signal_recovered"
	EventVehicleStopped     EventType = "vehicle_stopped"
	EventVehicleMoving      EventType = "vehicle_moving"
	EventSpeedViolation     EventType = "speed_violation"
	EventVehicleTelemetry   EventType = "vehicle_telemetry"
	EventDeviceError        EventType = "device_error"
	EventBatteryLow         EventType = "battery_low"
	EventFuelLevelLow       EventType = "fuel_level_low"
	EventRefuelingStarted   EventType = "refueling_started"
	EventRefuelingCompleted EventType = "refueling_completed"
)

// Movement is the motion block of an event.
type Movement struct {
	SpeedKmh *float64 `bson:"speed_kmh,omitempty" json:"speed_kmh,omitempty"`
	Moving   *bool    `bson:"moving,omitempty" json:"moving,omitempty"`
	Heading  *float64 `bson:"heading,omitempty" json:"heading,omitempty"`
}

// Telemetry is the vehicle sensor block of an event.
type Telemetry struct {
	FuelLevelPercent *float64 `bson:"fuel_level_percent,omitempty" json:"fuel_level_percent,omitempty"`
	EngineTempC      *float64 `bson:"engine_temp_c,omitempty" json:"engine_temp_c,omitempty"`
	OdometerKm       *float64 `bson:"odometer_km,omitempty" json:"odometer_km,omitempty"`
}

// Device is the tracking-device block of an event.
type Device struct {
	BatteryLevel *float64 `bson:"battery_level,omitempty" json:"battery_level,omitempty"`
	Charging     *bool    `bson:"charging,omitempty" json:"charging,omitempty"`
}

// Event is a single timestamped record of a trip. Events are read-only once
// loaded; everything downstream holds pointers into the loaded slices.
//
// Type-specific fields are pointers so that "absent" and "zero" stay distinct.
type Event struct {
	EventType EventType `bson:"event_type" json:"event_type"`
	Timestamp string    `bson:"timestamp" json:"timestamp"`
	TripID    string    `bson:"trip_id,omitempty" json:"trip_id,omitempty"`
	VehicleID string    `bson:"vehicle_id,omitempty" json:"vehicle_id,omitempty"`
	Severity  string    `bson:"severity,omitempty" json:"severity,omitempty"`

	Location  *Location  `bson:"location,omitempty" json:"location,omitempty"`
	Movement  *Movement  `bson:"movement,omitempty" json:"movement,omitempty"`
	Telemetry *Telemetry `bson:"telemetry,omitempty" json:"telemetry,omitempty"`
	Device    *Device    `bson:"device,omitempty" json:"device,omitempty"`

	SignalQuality       *string  `bson:"signal_quality,omitempty" json:"signal_quality,omitempty"`
	DistanceTravelledKm *float64 `bson:"distance_travelled_km,omitempty" json:"distance_travelled_km,omitempty"`
	PlannedDistanceKm   *float64 `bson:"planned_distance_km,omitempty" json:"planned_distance_km,omitempty"`
	TotalDistanceKm     *float64 `bson:"total_distance_km,omitempty" json:"total_distance_km,omitempty"`
	SpeedLimitKmh       *float64 `bson:"speed_limit_kmh,omitempty" json:"speed_limit_kmh,omitempty"`
	FuelLevelPercent    *float64 `bson:"fuel_level_percent,omitempty" json:"fuel_level_percent,omitempty"`
	BatteryLevelPercent *float64 `bson:"battery_level_percent,omitempty" json:"battery_level_percent,omitempty"`
	ErrorMessage        *string  `bson:"error_message,omitempty" json:"error_message,omitempty"`
	CancellationReason  *string  `bson:"cancellation_reason,omitempty" json:"cancellation_reason,omitempty"`

	FuelLevelAfterRefuel  *float64 `bson:"fuel_level_after_refuel,omitempty" json:"fuel_level_after_refuel,omitempty"`
	RefuelDurationMinutes *float64 `bson:"refuel_duration_minutes,omitempty" json:"refuel_duration_minutes,omitempty"`
	FuelAddedPercent      *float64 `bson:"fuel_added_percent,omitempty" json:"fuel_added_percent,omitempty"`
}

// ParseTimestamp parses an event timestamp. RFC 3339 with or without
// fractional seconds is accepted.
func ParseTimestamp(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

// Time returns the parsed timestamp of the event.
func (e *Event) Time() (time.Time, error) {
	return ParseTimestamp(e.Timestamp)
}

// FormatTimestamp renders t the way event timestamps are stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Float returns a pointer to v. Convenient for building events in code.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
