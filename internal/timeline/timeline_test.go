package timeline

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-replay/internal/models"
)

var base = time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)

func at(minutes float64) string {
	return models.FormatTimestamp(base.Add(time.Duration(minutes * float64(time.Minute))))
}

func ev(typ models.EventType, minutes float64) models.Event {
	return models.Event{EventType: typ, Timestamp: at(minutes)}
}

func twoTrips() []models.TripLog {
	return []models.TripLog{
		{TripID: "A", Events: []models.Event{
			ev(models.EventTripStarted, 0),
			ev(models.EventLocationPing, 1),
			ev(models.EventTripCompleted, 2),
		}},
		{TripID: "B", Events: []models.Event{
			ev(models.EventTripStarted, 0.5),
			ev(models.EventTripCancelled, 1.5),
		}},
	}
}

func TestMerge_InterleavesByTime(t *testing.T) {
	tl, err := Merge(twoTrips())
	require.NoError(t, err)
	require.Equal(t, 5, tl.Len())

	want := []struct {
		trip  string
		index int
	}{{"A", 0}, {"B", 0}, {"A", 1}, {"B", 1}, {"A", 2}}
	for i, w := range want {
		e := tl.At(i)
		assert.Equal(t, w.trip, e.TripID, "position %d", i)
		assert.Equal(t, w.index, e.Index, "position %d", i)
	}
	assert.Equal(t, []string{"A", "B"}, tl.Trips())
}

func TestMerge_EntriesReferenceSourceEvents(t *testing.T) {
	logs := twoTrips()
	tl, err := Merge(logs)
	require.NoError(t, err)

	assert.Same(t, &logs[0].Events[0], tl.At(0).Event)
	assert.Same(t, &logs[1].Events[1], tl.At(3).Event)
}

func TestMerge_TiesFollowTripThenIndexOrder(t *testing.T) {
	logs := []models.TripLog{
		{TripID: "z", Events: []models.Event{ev(models.EventTripStarted, 0), ev(models.EventLocationPing, 0)}},
		{TripID: "a", Events: []models.Event{ev(models.EventTripStarted, 0)}},
		{TripID: "m", Events: []models.Event{ev(models.EventTripStarted, 0)}},
	}
	tl, err := Merge(logs)
	require.NoError(t, err)

	var got []string
	for i := 0; i < tl.Len(); i++ {
		e := tl.At(i)
		got = append(got, fmt.Sprintf("%s%d", e.TripID, e.Index))
	}
	assert.Equal(t, []string{"z0", "z1", "a0", "m0"}, got)
}

func TestMerge_RandomizedOrdering(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		trips := 1 + rng.Intn(6)
		logs := make([]models.TripLog, trips)
		rank := make(map[string]int, trips)
		total := 0
		for i := range logs {
			id := fmt.Sprintf("trip_%d", i)
			rank[id] = i
			n := rng.Intn(12)
			total += n
			events := make([]models.Event, n)
			for j := range events {
				// a handful of distinct instants forces many collisions
				events[j] = ev(models.EventLocationPing, float64(rng.Intn(5)))
			}
			logs[i] = models.TripLog{TripID: id, Events: events}
		}

		tl, err := Merge(logs)
		require.NoError(t, err)
		require.Equal(t, total, tl.Len())

		seen := make(map[string]bool, total)
		for i := 0; i < tl.Len(); i++ {
			e := tl.At(i)
			key := fmt.Sprintf("%s/%d", e.TripID, e.Index)
			require.False(t, seen[key], "entry %s appears twice", key)
			seen[key] = true

			if i == 0 {
				continue
			}
			prev := tl.At(i - 1)
			require.False(t, e.Time.Before(prev.Time), "round %d: time decreases at %d", round, i)
			if e.Time.Equal(prev.Time) {
				if prev.TripID == e.TripID {
					require.Less(t, prev.Index, e.Index, "round %d: in-trip order broken at %d", round, i)
				} else {
					require.Less(t, rank[prev.TripID], rank[e.TripID], "round %d: trip order broken at %d", round, i)
				}
			}
		}
	}
}

func TestMerge_InvalidTimestampFails(t *testing.T) {
	logs := twoTrips()
	logs[1].Events[1].Timestamp = "not-a-time"

	tl, err := Merge(logs)
	assert.Nil(t, tl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTimestamp))

	var tsErr *TimestampError
	require.True(t, errors.As(err, &tsErr))
	assert.Equal(t, "B", tsErr.TripID)
	assert.Equal(t, 1, tsErr.Index)
	assert.Equal(t, "not-a-time", tsErr.Value)
}

func TestMerge_DuplicateTripFails(t *testing.T) {
	logs := twoTrips()
	logs[1].TripID = "A"

	_, err := Merge(logs)
	assert.True(t, errors.Is(err, ErrDuplicateTrip))
}

func TestMerge_Empty(t *testing.T) {
	tl, err := Merge(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, tl.Len())
	assert.Empty(t, tl.CurrentEvents(3))
	_, ok := tl.TimeAt(0)
	assert.False(t, ok)
}

func TestTimeline_Views(t *testing.T) {
	logs := twoTrips()
	logs = append(logs, models.TripLog{TripID: "C"})
	tl, err := Merge(logs)
	require.NoError(t, err)

	t.Run("trip events at cursor", func(t *testing.T) {
		events := tl.TripEvents("A", 3)
		require.Len(t, events, 2)
		assert.Equal(t, models.EventTripStarted, events[0].EventType)
		assert.Equal(t, models.EventLocationPing, events[1].EventType)

		assert.Len(t, tl.TripEvents("B", 3), 1)
		assert.Empty(t, tl.TripEvents("C", 5))
		assert.Empty(t, tl.TripEvents("unknown", 5))
	})

	t.Run("cursor is clamped", func(t *testing.T) {
		assert.Len(t, tl.CurrentEvents(-1), 0)
		assert.Len(t, tl.CurrentEvents(99), 5)
		assert.Equal(t, 3, tl.VisibleCount("A", 99))
	})

	t.Run("latest events", func(t *testing.T) {
		latest := tl.LatestEvents(2)
		require.Len(t, latest, 2)
		assert.Equal(t, models.EventTripStarted, latest["A"].EventType)
		assert.Equal(t, models.EventTripStarted, latest["B"].EventType)
		assert.Nil(t, tl.Latest("C", 5))
	})

	t.Run("time at cursor", func(t *testing.T) {
		ts, ok := tl.TimeAt(2)
		require.True(t, ok)
		assert.True(t, base.Add(30*time.Second).Equal(ts))
	})

	t.Run("has trip", func(t *testing.T) {
		assert.True(t, tl.HasTrip("C"))
		assert.False(t, tl.HasTrip("D"))
	})
}
