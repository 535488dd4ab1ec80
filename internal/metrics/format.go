package metrics

import (
	"fmt"
	"math"

	"github.com/ukydev/fleet-replay/internal/models"
)

// FormatDistance renders kilometres, abbreviating thousands.
func FormatDistance(km float64) string {
	if km >= 1000 {
		return fmt.Sprintf("%.1fk km", km/1000)
	}
	return fmt.Sprintf("%d km", roundHalfUp(km))
}

// FormatDuration renders minutes as "45m" or "2h 5m".
func FormatDuration(minutes float64) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", roundHalfUp(minutes))
	}
	hours := int(math.Floor(minutes / 60))
	mins := roundHalfUp(math.Mod(minutes, 60))
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// AlertSeverity maps an alert type to a display severity.
func AlertSeverity(t models.EventType) string {
	switch t {
	case models.EventSpeedViolation, models.EventDeviceError, models.EventTripCancelled:
		return "error"
	case models.EventFuelLevelLow, models.EventBatteryLow, models.EventSignalLost:
		return "warning"
	default:
		return "info"
	}
}

// StatusClass maps a trip status to a display class.
func StatusClass(s Status) string {
	switch s {
	case StatusCompleted:
		return "success"
	case StatusInProgress:
		return "info"
	case StatusStarted:
		return "warning"
	case StatusCancelled:
		return "error"
	default:
		return "default"
	}
}

// TripDisplay holds the rendered strings a trip card shows.
type TripDisplay struct {
	Distance    string `json:"distance"`
	Duration    string `json:"duration"`
	StatusClass string `json:"statusClass"`
	// AlertLevel is the severity of the most recent alert, empty without one.
	AlertLevel string `json:"alertLevel,omitempty"`
}

// Display renders m for a trip card.
func Display(m TripMetrics) TripDisplay {
	d := TripDisplay{
		Distance:    FormatDistance(m.Distance),
		Duration:    FormatDuration(m.Duration),
		StatusClass: StatusClass(m.Status),
	}
	if n := len(m.Alerts); n > 0 {
		d.AlertLevel = AlertSeverity(m.Alerts[n-1].Type)
	}
	return d
}
