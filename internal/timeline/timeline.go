// Package timeline merges per-trip event logs into a single chronological
// sequence and answers questions about the prefix revealed by a cursor.
package timeline

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ukydev/fleet-replay/internal/models"
)

var (
	ErrInvalidTimestamp = errors.New("invalid event timestamp")
	ErrDuplicateTrip    = errors.New("duplicate trip id")
)

// TimestampError reports the event whose timestamp could not be parsed.
type TimestampError struct {
	TripID string
	Index  int
	Value  string
	Err    error
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("trip %s event %d: %v %q: %v", e.TripID, e.Index, ErrInvalidTimestamp, e.Value, e.Err)
}

func (e *TimestampError) Unwrap() []error {
	return []error{ErrInvalidTimestamp, e.Err}
}

// Entry is one position of the merged timeline. Event points into the
// source TripLog; it is never copied.
type Entry struct {
	TripID string
	Index  int
	Time   time.Time
	Event  *models.Event
}

// Timeline is an immutable, time-ordered merge of trip event logs.
type Timeline struct {
	entries []Entry
	trips   []string
	// positions[trip] holds the timeline positions of the trip's entries in
	// ascending order.
	positions map[string][]int
}

// Merge builds a Timeline from the given trip logs. Entries are ordered by
// timestamp; ties keep the order of logs, then the order within a log.
// Any unparseable timestamp fails the whole merge.
func Merge(logs []models.TripLog) (*Timeline, error) {
	total := 0
	for _, log := range logs {
		total += len(log.Events)
	}

	tl := &Timeline{
		entries:   make([]Entry, 0, total),
		trips:     make([]string, 0, len(logs)),
		positions: make(map[string][]int, len(logs)),
	}

	seen := make(map[string]struct{}, len(logs))
	for _, log := range logs {
		if _, dup := seen[log.TripID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTrip, log.TripID)
		}
		seen[log.TripID] = struct{}{}
		tl.trips = append(tl.trips, log.TripID)

		for i := range log.Events {
			ev := &log.Events[i]
			ts, err := ev.Time()
			if err != nil {
				return nil, &TimestampError{TripID: log.TripID, Index: i, Value: ev.Timestamp, Err: err}
			}
			tl.entries = append(tl.entries, Entry{TripID: log.TripID, Index: i, Time: ts, Event: ev})
		}
	}

	// entries are appended in (trip order, in-trip index) order, so a stable
	// sort on time alone yields the required tie-breaking.
	sort.SliceStable(tl.entries, func(a, b int) bool {
		return tl.entries[a].Time.Before(tl.entries[b].Time)
	})

	for _, id := range tl.trips {
		tl.positions[id] = nil
	}
	for pos, e := range tl.entries {
		tl.positions[e.TripID] = append(tl.positions[e.TripID], pos)
	}

	return tl, nil
}

// Len returns the number of entries.
func (t *Timeline) Len() int { return len(t.entries) }

// At returns the entry at position i.
func (t *Timeline) At(i int) Entry { return t.entries[i] }

// Trips returns trip ids in insertion order.
func (t *Timeline) Trips() []string {
	out := make([]string, len(t.trips))
	copy(out, t.trips)
	return out
}

// HasTrip reports whether the timeline knows the trip.
func (t *Timeline) HasTrip(tripID string) bool {
	_, ok := t.positions[tripID]
	return ok
}

func (t *Timeline) clamp(cursor int) int {
	if cursor < 0 {
		return 0
	}
	if cursor > len(t.entries) {
		return len(t.entries)
	}
	return cursor
}

// CurrentEvents returns the entries revealed at cursor. The returned slice
// shares storage with the timeline and must not be modified.
func (t *Timeline) CurrentEvents(cursor int) []Entry {
	return t.entries[:t.clamp(cursor)]
}

// VisibleCount returns how many of the trip's entries sit before cursor.
func (t *Timeline) VisibleCount(tripID string, cursor int) int {
	return sort.SearchInts(t.positions[tripID], t.clamp(cursor))
}

// TripEvents returns the trip's events revealed at cursor, in timeline order.
func (t *Timeline) TripEvents(tripID string, cursor int) []*models.Event {
	pos := t.positions[tripID]
	n := sort.SearchInts(pos, t.clamp(cursor))
	out := make([]*models.Event, n)
	for i := 0; i < n; i++ {
		out[i] = t.entries[pos[i]].Event
	}
	return out
}

// Latest returns the trip's most recent revealed event, or nil.
func (t *Timeline) Latest(tripID string, cursor int) *models.Event {
	n := t.VisibleCount(tripID, cursor)
	if n == 0 {
		return nil
	}
	return t.entries[t.positions[tripID][n-1]].Event
}

// LatestEvents maps every trip with at least one revealed event to its most
// recent one.
func (t *Timeline) LatestEvents(cursor int) map[string]*models.Event {
	out := make(map[string]*models.Event, len(t.trips))
	for _, id := range t.trips {
		if ev := t.Latest(id, cursor); ev != nil {
			out[id] = ev
		}
	}
	return out
}

// TimeAt returns the timestamp of the last revealed entry. ok is false when
// nothing has been revealed.
func (t *Timeline) TimeAt(cursor int) (ts time.Time, ok bool) {
	c := t.clamp(cursor)
	if c == 0 {
		return time.Time{}, false
	}
	return t.entries[c-1].Time, true
}
