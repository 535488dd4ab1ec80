// Package monitoring exposes playback and fleet state as Prometheus metrics.
package monitoring

import (
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ukydev/fleet-replay/internal/fleet"
)

const namespace = "fleet_replay"

// Collector is a fleet.Sink that mirrors each update into gauges.
type Collector struct {
	Cursor         prometheus.Gauge
	Progress       prometheus.Gauge
	Speed          prometheus.Gauge
	Playing        prometheus.Gauge
	Trips          *prometheus.GaugeVec
	VehiclesMoving prometheus.Gauge
	TotalDistance  prometheus.Gauge
	Alerts         *prometheus.GaugeVec
	AvgFuelLevel   prometheus.Gauge
	Updates        *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cursor",
			Help: "Number of timeline entries revealed",
		}),
		Progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "progress_percent",
			Help: "Playback progress through the timeline",
		}),
		Speed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "speed_multiplier",
			Help: "Playback speed multiplier",
		}),
		Playing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "playing",
			Help: "1 while playback is running",
		}),
		Trips: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "trips",
			Help: "Trips by derived status",
		}, []string{"status"}),
		VehiclesMoving: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "vehicles_moving",
			Help: "Trips whose latest event reports movement",
		}),
		TotalDistance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "distance_km",
			Help: "Fleet distance travelled",
		}),
		Alerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "alerts",
			Help: "Alerts revealed so far",
		}, []string{"severity"}),
		AvgFuelLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "avg_fuel_level_percent",
			Help: "Mean fuel level over trips reporting fuel, NaN when none do",
		}),
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "updates_total",
			Help: "Fleet updates received by type",
		}, []string{"type"}),
	}
	reg.MustRegister(c.Cursor, c.Progress, c.Speed, c.Playing, c.Trips,
		c.VehiclesMoving, c.TotalDistance, c.Alerts, c.AvgFuelLevel, c.Updates)
	return c
}

// Publish implements fleet.Sink.
func (c *Collector) Publish(u fleet.Update) error {
	s := u.Snapshot
	c.Updates.WithLabelValues(string(u.Type)).Inc()
	c.Cursor.Set(float64(s.Cursor))
	c.Progress.Set(s.Progress)
	c.Speed.Set(s.Speed)
	if s.Playing {
		c.Playing.Set(1)
	} else {
		c.Playing.Set(0)
	}

	f := s.Fleet
	c.Trips.WithLabelValues("active").Set(float64(f.ActiveTrips))
	c.Trips.WithLabelValues("completed").Set(float64(f.CompletedTrips))
	c.Trips.WithLabelValues("cancelled").Set(float64(f.CancelledTrips))
	c.Trips.WithLabelValues("not_started").Set(float64(f.TotalTrips - f.ActiveTrips - f.CompletedTrips - f.CancelledTrips))
	c.VehiclesMoving.Set(float64(f.VehiclesMoving))
	c.TotalDistance.Set(float64(f.TotalDistance))
	c.Alerts.WithLabelValues("critical").Set(float64(f.CriticalAlerts))
	c.Alerts.WithLabelValues("other").Set(float64(f.TotalAlerts - f.CriticalAlerts))
	if f.AvgFuelLevel != nil {
		c.AvgFuelLevel.Set(float64(*f.AvgFuelLevel))
	} else {
		c.AvgFuelLevel.Set(math.NaN())
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
