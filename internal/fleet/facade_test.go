package fleet

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-replay/internal/logging"
	"github.com/ukydev/fleet-replay/internal/metrics"
	"github.com/ukydev/fleet-replay/internal/models"
	"github.com/ukydev/fleet-replay/internal/playback"
	"github.com/ukydev/fleet-replay/internal/timeline"
	"github.com/zoobzio/clockz"
	"go.uber.org/goleak"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recordingSink) Publish(u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *recordingSink) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func (r *recordingSink) last() Update {
	all := r.all()
	return all[len(all)-1]
}

func scenarioLogs() []models.TripLog {
	return []models.TripLog{
		{TripID: "A", Events: []models.Event{
			{EventType: models.EventTripStarted, Timestamp: "2025-11-03T08:00:00Z", PlannedDistanceKm: models.Float(100),
				Location: &models.Location{Lat: 52.52, Lon: 13.40}},
			{EventType: models.EventLocationPing, Timestamp: "2025-11-03T08:01:00Z", DistanceTravelledKm: models.Float(50),
				Location: &models.Location{Lat: 52.60, Lon: 13.50}},
			{EventType: models.EventTripCompleted, Timestamp: "2025-11-03T08:02:00Z", TotalDistanceKm: models.Float(100)},
		}},
		{TripID: "B", Events: []models.Event{
			{EventType: models.EventTripStarted, Timestamp: "2025-11-03T08:00:30Z"},
			{EventType: models.EventTripCancelled, Timestamp: "2025-11-03T08:01:30Z", CancellationReason: models.String("mechanical_failure")},
		}},
	}
}

func newTestFacade(t *testing.T, sinks ...Sink) (*Facade, *playback.ManualScheduler) {
	t.Helper()
	tl, err := timeline.Merge(scenarioLogs())
	require.NoError(t, err)
	sched := playback.NewManualScheduler()
	clock := playback.New(tl, playback.WithScheduler(sched), playback.WithLogger(logging.Discard()))
	meta := []models.TripMetadata{{ID: "A", Name: "Berlin - Hamburg"}}
	f := New(clock, meta, logging.Discard(), sinks...)
	t.Cleanup(f.Close)
	return f, sched
}

func TestFacade_InitialSnapshot(t *testing.T) {
	sink := &recordingSink{}
	f, _ := newTestFacade(t, sink)

	snap := f.Snapshot()
	assert.Equal(t, f.ID(), snap.SessionID)
	assert.Equal(t, 0, snap.Cursor)
	assert.Equal(t, 5, snap.Total)
	assert.Equal(t, "stopped", snap.State)
	assert.False(t, snap.Playing)
	assert.Empty(t, snap.CurrentTime)
	require.Len(t, snap.Trips, 2)
	assert.Equal(t, "Berlin - Hamburg", snap.Trips[0].Name)
	assert.Equal(t, "B", snap.Trips[1].Name)
	for _, trip := range snap.Trips {
		assert.Equal(t, metrics.StatusNotStarted, trip.Metrics.Status)
	}
	assert.Equal(t, 2, snap.Fleet.TotalTrips)
	assert.Empty(t, sink.all())
}

func TestFacade_EndToEndScenario(t *testing.T) {
	sink := &recordingSink{}
	f, _ := newTestFacade(t, sink)

	for i := 0; i < 5; i++ {
		require.True(t, f.Step())
	}

	updates := sink.all()
	require.Len(t, updates, 5)
	order := make([]string, len(updates))
	for i, u := range updates {
		assert.Equal(t, playback.NotifyEvent, u.Type)
		order[i] = u.TripID
	}
	assert.Equal(t, []string{"A", "B", "A", "B", "A"}, order)

	snap := f.Snapshot()
	assert.Equal(t, 5, snap.Cursor)
	assert.Equal(t, 100.0, snap.Progress)
	assert.Equal(t, "2025-11-03T08:02:00Z", snap.CurrentTime)

	a, b := snap.Trips[0].Metrics, snap.Trips[1].Metrics
	assert.Equal(t, metrics.StatusCompleted, a.Status)
	assert.Equal(t, 100.0, a.Distance)
	assert.Equal(t, 100.0, a.Progress)
	assert.Equal(t, 2.0, a.Duration)

	assert.Equal(t, metrics.StatusCancelled, b.Status)
	require.Len(t, b.Alerts, 1)
	assert.Equal(t, "Trip cancelled: mechanical_failure", b.Alerts[0].Message)

	assert.Equal(t, metrics.TripDisplay{Distance: "100 km", Duration: "2m", StatusClass: "success"}, snap.Trips[0].Display)
	assert.Equal(t, metrics.TripDisplay{Distance: "0 km", Duration: "1m", StatusClass: "error", AlertLevel: "error"}, snap.Trips[1].Display)

	assert.Equal(t, 2, snap.Fleet.TotalTrips)
	assert.Equal(t, 1, snap.Fleet.CompletedTrips)
	assert.Equal(t, 1, snap.Fleet.CancelledTrips)
	assert.Equal(t, 0, snap.Fleet.ActiveTrips)
	assert.Equal(t, "50.0", snap.Fleet.CompletionRate)

	if diff := cmp.Diff(snap, sink.last().Snapshot); diff != "" {
		t.Errorf("published snapshot mismatch (-current +published):\n%s", diff)
	}
}

func TestFacade_StepPastEndPublishesPausedState(t *testing.T) {
	sink := &recordingSink{}
	f, _ := newTestFacade(t, sink)
	for f.Step() {
	}
	last := sink.last()
	assert.Equal(t, UpdateState, last.Type)
	assert.Equal(t, "paused", last.Snapshot.State)
	assert.Equal(t, 5, last.Snapshot.Cursor)
}

func TestFacade_TickingPastEndPublishesPausedState(t *testing.T) {
	sink := &recordingSink{}
	f, sched := newTestFacade(t, sink)

	f.Play()
	for i := 0; i < 5; i++ {
		sched.Fire()
	}
	assert.True(t, sink.last().Snapshot.Playing)

	sched.Fire()
	last := sink.last()
	assert.Equal(t, UpdateState, last.Type)
	assert.False(t, last.Snapshot.Playing)
	assert.Equal(t, "paused", last.Snapshot.State)
	assert.Equal(t, 0, sched.Active())
}

func TestFacade_ResetRepublishesInitialSnapshot(t *testing.T) {
	sink := &recordingSink{}
	f, _ := newTestFacade(t, sink)
	initial := f.Snapshot()

	f.Step()
	f.Step()
	f.Step()
	f.Reset()

	last := sink.last()
	assert.Equal(t, playback.NotifyReset, last.Type)
	if diff := cmp.Diff(initial, last.Snapshot); diff != "" {
		t.Errorf("reset snapshot mismatch (-initial +reset):\n%s", diff)
	}
}

func TestFacade_SkipToRecomputesEveryTrip(t *testing.T) {
	sink := &recordingSink{}
	f, _ := newTestFacade(t, sink)

	f.SkipTo(4)
	last := sink.last()
	assert.Equal(t, playback.NotifySkip, last.Type)
	assert.Equal(t, 4, last.Snapshot.Cursor)
	assert.Equal(t, metrics.StatusInProgress, last.Snapshot.Trips[0].Metrics.Status)
	assert.Equal(t, 50.0, last.Snapshot.Trips[0].Metrics.Distance)
	assert.Equal(t, metrics.StatusCancelled, last.Snapshot.Trips[1].Metrics.Status)

	f.SkipTo(99)
	assert.Equal(t, 5, f.Snapshot().Cursor)
	f.SkipTo(-3)
	assert.Equal(t, 0, f.Snapshot().Cursor)
}

func TestFacade_SkipToWhileRunningKeepsPlaying(t *testing.T) {
	f, sched := newTestFacade(t)

	f.Play()
	require.Equal(t, 1, sched.Active())
	sched.Fire()
	f.SkipTo(3)

	snap := f.Snapshot()
	assert.Equal(t, 3, snap.Cursor)
	assert.True(t, snap.Playing)
	assert.Equal(t, 1, sched.Active())

	sched.Fire()
	assert.Equal(t, 4, f.Snapshot().Cursor)
}

func TestFacade_SkipToDuringTickInFlight(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tl, err := timeline.Merge(scenarioLogs())
	require.NoError(t, err)
	fake := clockz.NewFakeClock()
	clock := playback.New(tl,
		playback.WithScheduler(playback.NewClockzScheduler(fake)),
		playback.WithBaseInterval(10*time.Millisecond),
		playback.WithLogger(logging.Discard()))

	// registered ahead of the facade, so the first event is held before the
	// facade sees it
	entered, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	clock.Subscribe(func(n playback.Notification) {
		if n.Type != playback.NotifyEvent {
			return
		}
		held := false
		once.Do(func() { held = true })
		if held {
			close(entered)
			<-release
		}
	})

	f := New(clock, nil, logging.Discard())
	defer f.Close()

	f.Play()
	require.Eventually(t, func() bool {
		select {
		case <-entered:
			return true
		default:
			fake.Advance(10 * time.Millisecond)
			return false
		}
	}, 2*time.Second, time.Millisecond)

	skipped := make(chan struct{})
	go func() {
		f.SkipTo(4)
		close(skipped)
	}()
	select {
	case <-skipped:
		t.Fatal("SkipTo returned while a tick was still delivering")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-skipped

	snap := f.Snapshot()
	assert.Equal(t, 4, snap.Cursor)
	assert.Equal(t, clock.Cursor(), snap.Cursor)
	assert.True(t, snap.Playing)
	assert.Equal(t, 50.0, snap.Trips[0].Metrics.Distance)
	assert.Equal(t, metrics.StatusCancelled, snap.Trips[1].Metrics.Status)
}

func TestFacade_SkipToWhilePausedStaysPaused(t *testing.T) {
	f, sched := newTestFacade(t)
	f.SkipTo(2)
	assert.Equal(t, 0, sched.Active())
	assert.False(t, f.Snapshot().Playing)
}

func TestFacade_PlayPauseSpeed(t *testing.T) {
	sink := &recordingSink{}
	f, sched := newTestFacade(t, sink)

	f.Play()
	assert.True(t, sink.last().Snapshot.Playing)
	assert.Equal(t, UpdateState, sink.last().Type)

	require.NoError(t, f.SetSpeed(10))
	assert.Equal(t, 10.0, sink.last().Snapshot.Speed)
	assert.Equal(t, playback.DefaultBaseInterval/10, sched.LastInterval())

	f.Pause()
	assert.False(t, sink.last().Snapshot.Playing)
	assert.Equal(t, 0, sched.Active())

	err := f.SetSpeed(0)
	assert.True(t, errors.Is(err, playback.ErrInvalidSpeed))
	assert.Equal(t, 10.0, f.Snapshot().Speed)
}

func TestFacade_TripDetails(t *testing.T) {
	f, _ := newTestFacade(t)
	f.SkipTo(3)

	d, err := f.TripDetails("A")
	require.NoError(t, err)
	assert.Equal(t, "Berlin - Hamburg", d.Trip.Name)
	assert.Len(t, d.Events, 2)
	assert.Equal(t, map[models.EventType]int{
		models.EventTripStarted:  1,
		models.EventLocationPing: 1,
	}, d.EventCounts)
	require.NotNil(t, d.LatestLocation)
	assert.Equal(t, 52.60, d.LatestLocation.Lat)
	assert.Equal(t, metrics.StatusInProgress, d.Trip.Metrics.Status)

	d, err = f.TripDetails("B")
	require.NoError(t, err)
	assert.Nil(t, d.LatestLocation)

	_, err = f.TripDetails("missing")
	assert.ErrorIs(t, err, ErrUnknownTrip)
}

func TestFacade_CurrentEvents(t *testing.T) {
	f, _ := newTestFacade(t)
	assert.Empty(t, f.CurrentEvents(10))

	f.SkipTo(4)
	views := f.CurrentEvents(2)
	require.Len(t, views, 2)
	assert.Equal(t, "B", views[0].TripID)
	assert.Equal(t, 3, views[0].Position)
	assert.Equal(t, models.EventTripCancelled, views[0].Event.EventType)
	assert.Equal(t, "Berlin - Hamburg", views[1].TripName)
	assert.Equal(t, 2, views[1].Position)

	assert.Len(t, f.CurrentEvents(0), 4)
	assert.Len(t, f.CurrentEvents(100), 4)
}

func TestFacade_FailingSinkDoesNotBlockOthers(t *testing.T) {
	sink := &recordingSink{}
	failing := SinkFunc(func(Update) error { return errors.New("broker down") })
	f, _ := newTestFacade(t, failing)
	f.AddSink(sink)

	f.Step()
	assert.Len(t, sink.all(), 1)
}

func TestFacade_CloseDetachesFromClock(t *testing.T) {
	sink := &recordingSink{}
	tl, err := timeline.Merge(scenarioLogs())
	require.NoError(t, err)
	clock := playback.New(tl, playback.WithScheduler(playback.NewManualScheduler()), playback.WithLogger(logging.Discard()))
	f := New(clock, nil, logging.Discard(), sink)

	f.Close()
	clock.Step()
	assert.Empty(t, sink.all())
	assert.Equal(t, 0, f.Snapshot().Cursor)
}
