package metrics

import (
	"fmt"
	"strconv"

	"github.com/ukydev/fleet-replay/internal/models"
)

const defaultAlertSeverity = "warning"

// Alert is a view over an alert-type event.
type Alert struct {
	Type      models.EventType `json:"type"`
	Timestamp string           `json:"timestamp"`
	Severity  string           `json:"severity"`
	Message   string           `json:"message"`
}

var alertTypes = map[models.EventType]bool{
	models.EventSpeedViolation: true,
	models.EventFuelLevelLow:   true,
	models.EventBatteryLow:     true,
	models.EventDeviceError:    true,
	models.EventSignalLost:     true,
	models.EventTripCancelled:  true,
}

var criticalAlertTypes = map[models.EventType]bool{
	models.EventSpeedViolation: true,
	models.EventFuelLevelLow:   true,
	models.EventSignalLost:     true,
}

// IsAlert reports whether events of this type raise an alert.
func IsAlert(t models.EventType) bool { return alertTypes[t] }

// IsCritical reports whether alerts of this type count as critical.
func IsCritical(t models.EventType) bool { return criticalAlertTypes[t] }

// ExtractAlerts turns every alert-type event into an Alert, keeping order
// and duplicates.
func ExtractAlerts(events []*models.Event) []Alert {
	alerts := []Alert{}
	for _, e := range events {
		if !alertTypes[e.EventType] {
			continue
		}
		severity := e.Severity
		if severity == "" {
			severity = defaultAlertSeverity
		}
		alerts = append(alerts, Alert{
			Type:      e.EventType,
			Timestamp: e.Timestamp,
			Severity:  severity,
			Message:   AlertMessage(e),
		})
	}
	return alerts
}

// AlertMessage renders the human-readable text of an alert event. Missing
// values print as "unknown".
func AlertMessage(e *models.Event) string {
	switch e.EventType {
	case models.EventSpeedViolation:
		var speed *float64
		if e.Movement != nil {
			speed = e.Movement.SpeedKmh
		}
		return fmt.Sprintf("Speed violation: %skm/h (limit: %skm/h)", num(speed), num(e.SpeedLimitKmh))
	case models.EventFuelLevelLow:
		return fmt.Sprintf("Low fuel: %s%% remaining", num(e.FuelLevelPercent))
	case models.EventBatteryLow:
		return fmt.Sprintf("Low battery: %s%% remaining", num(e.BatteryLevelPercent))
	case models.EventDeviceError:
		if e.ErrorMessage != nil && *e.ErrorMessage != "" {
			return *e.ErrorMessage
		}
		return "Device error occurred"
	case models.EventSignalLost:
		return "GPS signal lost"
	case models.EventTripCancelled:
		reason := "unknown"
		if e.CancellationReason != nil {
			reason = *e.CancellationReason
		}
		return "Trip cancelled: " + reason
	default:
		return "Alert"
	}
}

func num(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
