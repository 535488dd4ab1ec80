package metrics

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FleetMetrics aggregates trip snapshots taken at the same cursor.
type FleetMetrics struct {
	TotalTrips     int    `json:"totalTrips"`
	ActiveTrips    int    `json:"activeTrips"`
	CompletedTrips int    `json:"completedTrips"`
	CancelledTrips int    `json:"cancelledTrips"`
	Progress50Plus int    `json:"progress50Plus"`
	Progress80Plus int    `json:"progress80Plus"`
	TotalDistance  int    `json:"totalDistance"`
	TotalAlerts    int    `json:"totalAlerts"`
	CriticalAlerts int    `json:"criticalAlerts"`
	AvgFuelLevel   *int   `json:"avgFuelLevel"`
	VehiclesMoving int    `json:"vehiclesMoving"`
	CompletionRate string `json:"completionRate"`
}

// CalculateFleet aggregates per-trip snapshots. Milestone counts consider
// active trips only.
func CalculateFleet(trips map[string]TripMetrics) FleetMetrics {
	fm := FleetMetrics{TotalTrips: len(trips), CompletionRate: "0"}

	distances := make([]float64, 0, len(trips))
	var fuel []float64
	for _, t := range trips {
		switch {
		case t.Status == StatusCompleted:
			fm.CompletedTrips++
		case t.Status == StatusCancelled:
			fm.CancelledTrips++
		case t.Status.Active():
			fm.ActiveTrips++
			if t.Progress >= 50 {
				fm.Progress50Plus++
			}
			if t.Progress >= 80 {
				fm.Progress80Plus++
			}
		}

		distances = append(distances, t.Distance)
		fm.TotalAlerts += len(t.Alerts)
		for _, a := range t.Alerts {
			if IsCritical(a.Type) {
				fm.CriticalAlerts++
			}
		}
		if t.FuelLevel != nil && !math.IsNaN(*t.FuelLevel) {
			fuel = append(fuel, *t.FuelLevel)
		}
		if t.IsMoving {
			fm.VehiclesMoving++
		}
	}

	fm.TotalDistance = roundHalfUp(floats.Sum(distances))
	if len(fuel) > 0 {
		avg := roundHalfUp(stat.Mean(fuel, nil))
		fm.AvgFuelLevel = &avg
	}
	if fm.TotalTrips > 0 {
		rate := float64(fm.CompletedTrips) / float64(fm.TotalTrips) * 100
		fm.CompletionRate = strconv.FormatFloat(rate, 'f', 1, 64)
	}
	return fm
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
