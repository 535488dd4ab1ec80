// Package fleet owns a playback clock and keeps per-trip and fleet metrics
// in step with it, republishing a snapshot to every sink after each change.
package fleet

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-replay/internal/metrics"
	"github.com/ukydev/fleet-replay/internal/models"
	"github.com/ukydev/fleet-replay/internal/playback"
	"github.com/ukydev/fleet-replay/internal/timeline"
)

var ErrUnknownTrip = errors.New("unknown trip")

// UpdateState tags updates caused by play, pause and speed changes rather
// than by a clock notification.
const UpdateState playback.NotificationType = "state"

// Sink receives every update the facade publishes.
type Sink interface {
	Publish(u Update) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Update) error

func (f SinkFunc) Publish(u Update) error { return f(u) }

// TripSummary joins a trip's metadata with its current metrics and their
// display strings.
type TripSummary struct {
	ID      string              `json:"id"`
	Name    string              `json:"name"`
	Metrics metrics.TripMetrics `json:"metrics"`
	Display metrics.TripDisplay `json:"display"`
}

// Snapshot is the full derived state at one cursor position.
type Snapshot struct {
	SessionID   string               `json:"sessionId"`
	Cursor      int                  `json:"cursor"`
	Total       int                  `json:"total"`
	Progress    float64              `json:"progress"`
	CurrentTime string               `json:"currentTime,omitempty"`
	State       string               `json:"state"`
	Playing     bool                 `json:"playing"`
	Speed       float64              `json:"speed"`
	Fleet       metrics.FleetMetrics `json:"fleet"`
	Trips       []TripSummary        `json:"trips"`
}

// Update is what sinks receive: the clock notification that caused it and
// the snapshot after it was applied.
type Update struct {
	Type     playback.NotificationType `json:"type"`
	TripID   string                    `json:"tripId,omitempty"`
	Event    *models.Event             `json:"event,omitempty"`
	Snapshot Snapshot                  `json:"snapshot"`
}

// TripDetails is the drill-down view of one trip.
type TripDetails struct {
	Trip           TripSummary              `json:"trip"`
	Events         []*models.Event          `json:"events"`
	EventCounts    map[models.EventType]int `json:"eventCounts"`
	LatestLocation *models.Location         `json:"latestLocation,omitempty"`
}

// EventView is one revealed timeline entry.
type EventView struct {
	TripID   string        `json:"tripId"`
	TripName string        `json:"tripName"`
	Position int           `json:"position"`
	Event    *models.Event `json:"event"`
}

// Facade is the aggregation layer over a Clock.
type Facade struct {
	id     string
	clock  *playback.Clock
	tl     *timeline.Timeline
	names  map[string]string
	logger logrus.FieldLogger

	mu     sync.RWMutex
	cursor int
	trips  map[string]metrics.TripMetrics
	fleet  metrics.FleetMetrics
	sinks  []Sink

	unsubscribe func()
	removeEnd   func()
}

// New subscribes a facade to clock and computes the cursor-0 snapshot.
// Trips missing from meta are named by their id.
func New(clock *playback.Clock, meta []models.TripMetadata, logger logrus.FieldLogger, sinks ...Sink) *Facade {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	f := &Facade{
		id:     uuid.NewString(),
		clock:  clock,
		tl:     clock.Timeline(),
		names:  make(map[string]string, len(meta)),
		sinks:  sinks,
		logger: logger,
	}
	for _, m := range meta {
		if m.Name != "" {
			f.names[m.ID] = m.Name
		}
	}
	f.mu.Lock()
	f.recomputeAllLocked(clock.Cursor())
	f.mu.Unlock()
	f.unsubscribe = clock.Subscribe(f.handle)
	f.removeEnd = clock.OnEnd(func(playback.Notification) { f.publishState() })
	return f
}

// ID returns the session id of this facade.
func (f *Facade) ID() string { return f.id }

// AddSink registers another sink.
func (f *Facade) AddSink(s Sink) {
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

// Play starts playback.
func (f *Facade) Play() {
	f.clock.Play()
	f.publishState()
}

// Pause pauses playback.
func (f *Facade) Pause() {
	f.clock.Pause()
	f.publishState()
}

// Reset rewinds to the beginning.
func (f *Facade) Reset() { f.clock.Reset() }

// Step reveals one entry; false at the end of the timeline, where the
// paused state is published.
func (f *Facade) Step() bool {
	_, ok := f.clock.Step()
	return ok
}

// SkipTo seeks to index. A running clock is paused around the seek; Pause
// waits out a tick in flight, so no stale event lands after the seek.
func (f *Facade) SkipTo(index int) {
	wasRunning := f.clock.State() == playback.Running
	if wasRunning {
		f.clock.Pause()
	}
	f.clock.SkipTo(index)
	if wasRunning {
		f.clock.Play()
		f.publishState()
	}
}

// SetSpeed changes the playback speed multiplier.
func (f *Facade) SetSpeed(multiplier float64) error {
	if err := f.clock.SetSpeed(multiplier); err != nil {
		return err
	}
	f.publishState()
	return nil
}

// Close stops playback and detaches from the clock.
func (f *Facade) Close() {
	f.clock.Pause()
	f.unsubscribe()
	f.removeEnd()
}

// Snapshot returns the current derived state.
func (f *Facade) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshotLocked()
}

// TripDetails returns the drill-down view of a trip at the current cursor.
func (f *Facade) TripDetails(tripID string) (TripDetails, error) {
	if !f.tl.HasTrip(tripID) {
		return TripDetails{}, ErrUnknownTrip
	}
	f.mu.RLock()
	cursor := f.cursor
	m := f.trips[tripID]
	f.mu.RUnlock()

	events := f.tl.TripEvents(tripID, cursor)
	d := TripDetails{
		Trip:        f.summary(tripID, m),
		Events:      events,
		EventCounts: make(map[models.EventType]int),
	}
	for _, e := range events {
		d.EventCounts[e.EventType]++
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Location != nil {
			d.LatestLocation = events[i].Location
			break
		}
	}
	return d, nil
}

// CurrentEvents returns up to limit revealed entries, most recent first.
// A limit <= 0 returns all of them.
func (f *Facade) CurrentEvents(limit int) []EventView {
	f.mu.RLock()
	cursor := f.cursor
	f.mu.RUnlock()

	entries := f.tl.CurrentEvents(cursor)
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]EventView, 0, limit)
	for i := len(entries) - 1; i >= len(entries)-limit; i-- {
		e := entries[i]
		out = append(out, EventView{TripID: e.TripID, TripName: f.name(e.TripID), Position: i, Event: e.Event})
	}
	return out
}

func (f *Facade) handle(n playback.Notification) {
	f.mu.Lock()
	switch n.Type {
	case playback.NotifyEvent:
		f.recomputeTripLocked(n.TripID, n.Cursor)
	case playback.NotifyReset:
		f.recomputeAllLocked(0)
	default:
		f.recomputeAllLocked(n.Cursor)
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.publish(Update{Type: n.Type, TripID: n.TripID, Event: n.Event, Snapshot: snap})
}

func (f *Facade) publishState() {
	f.publish(Update{Type: UpdateState, Snapshot: f.Snapshot()})
}

func (f *Facade) publish(u Update) {
	f.mu.RLock()
	sinks := make([]Sink, len(f.sinks))
	copy(sinks, f.sinks)
	f.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Publish(u); err != nil {
			f.logger.WithFields(logrus.Fields{
				"session": f.id,
				"type":    u.Type,
				"cursor":  u.Snapshot.Cursor,
				"error":   err,
			}).Warn("Failed to publish fleet update")
		}
	}
}

// recomputeAllLocked rebuilds every trip snapshot at cursor.
func (f *Facade) recomputeAllLocked(cursor int) {
	latest := f.tl.LatestEvents(cursor)
	trips := make(map[string]metrics.TripMetrics, len(f.tl.Trips()))
	for _, id := range f.tl.Trips() {
		trips[id] = metrics.CalculateTrip(f.tl.TripEvents(id, cursor), latest[id])
	}
	f.setLocked(cursor, trips)
}

// recomputeTripLocked rebuilds only the trip whose event was revealed; the
// other snapshots are unchanged by a single step.
func (f *Facade) recomputeTripLocked(tripID string, cursor int) {
	trips := make(map[string]metrics.TripMetrics, len(f.trips))
	for id, m := range f.trips {
		trips[id] = m
	}
	trips[tripID] = metrics.CalculateTrip(f.tl.TripEvents(tripID, cursor), f.tl.Latest(tripID, cursor))
	f.setLocked(cursor, trips)
}

func (f *Facade) setLocked(cursor int, trips map[string]metrics.TripMetrics) {
	f.cursor = cursor
	f.trips = trips
	f.fleet = metrics.CalculateFleet(trips)
}

func (f *Facade) snapshotLocked() Snapshot {
	ids := f.tl.Trips()
	s := Snapshot{
		SessionID: f.id,
		Cursor:    f.cursor,
		Total:     f.tl.Len(),
		Fleet:     f.fleet,
		Trips:     make([]TripSummary, 0, len(ids)),
	}
	if s.Total > 0 {
		s.Progress = float64(s.Cursor) / float64(s.Total) * 100
	}
	if ts, ok := f.tl.TimeAt(f.cursor); ok {
		s.CurrentTime = models.FormatTimestamp(ts)
	}
	state := f.clock.State()
	s.State = state.String()
	s.Playing = state == playback.Running
	s.Speed = f.clock.Speed()
	for _, id := range ids {
		s.Trips = append(s.Trips, f.summary(id, f.trips[id]))
	}
	return s
}

func (f *Facade) summary(tripID string, m metrics.TripMetrics) TripSummary {
	return TripSummary{ID: tripID, Name: f.name(tripID), Metrics: m, Display: metrics.Display(m)}
}

func (f *Facade) name(tripID string) string {
	if n, ok := f.names[tripID]; ok {
		return n
	}
	return tripID
}
