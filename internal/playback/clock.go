// Package playback implements the virtual clock that reveals a merged
// timeline one entry at a time.
package playback

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-replay/internal/models"
	"github.com/ukydev/fleet-replay/internal/timeline"
)

// DefaultBaseInterval is the tick interval at speed 1.
const DefaultBaseInterval = 100 * time.Millisecond

// minInterval bounds the tick rate at very large multipliers.
const minInterval = time.Millisecond

var ErrInvalidSpeed = errors.New("speed multiplier must be a positive number")

// State is the run state of a Clock.
type State int

const (
	Stopped State = iota
	Paused
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Paused:
		return "paused"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// NotificationType tags a Notification.
type NotificationType string

const (
	NotifyEvent NotificationType = "event"
	NotifyReset NotificationType = "reset"
	NotifySkip  NotificationType = "skip"
	// NotifyEnd is only passed to OnEnd hooks.
	NotifyEnd NotificationType = "end"
)

// Notification is delivered to observers after every step, reset and skip.
type Notification struct {
	Type     NotificationType `json:"type"`
	TripID   string           `json:"trip_id,omitempty"`
	Event    *models.Event    `json:"event,omitempty"`
	Cursor   int              `json:"cursor"`
	Progress float64          `json:"progress"`
}

// Observer receives notifications synchronously.
type Observer func(Notification)

type subscriber struct {
	id int
	fn Observer
}

// Option configures a Clock.
type Option func(*Clock)

// WithScheduler replaces the default clockz-backed scheduler.
func WithScheduler(s Scheduler) Option {
	return func(c *Clock) { c.scheduler = s }
}

// WithBaseInterval sets the tick interval at speed 1.
func WithBaseInterval(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.baseInterval = d
		}
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Clock) { c.logger = l }
}

// Clock is a cursor over a timeline with play/pause/seek/speed control.
//
// The mutex only serialises the scheduler goroutine against callers; the
// clock has no other concurrency. Observers run outside the lock. Pause,
// Reset, SetSpeed and a Step that exhausts the timeline wait for an
// in-flight tick to finish delivering, so on a ClockzScheduler an observer
// must not call them synchronously from a tick notification. A
// ManualScheduler has no such restriction.
type Clock struct {
	mu           sync.Mutex
	tl           *timeline.Timeline
	cursor       int
	state        State
	speed        float64
	baseInterval time.Duration
	scheduler    Scheduler
	ticker       Ticker
	gen          uint64
	subs         []subscriber
	endSubs      []subscriber
	nextID       int
	logger       logrus.FieldLogger
}

// New returns a stopped clock at cursor 0.
func New(tl *timeline.Timeline, opts ...Option) *Clock {
	c := &Clock{
		tl:           tl,
		state:        Stopped,
		speed:        1,
		baseInterval: DefaultBaseInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.scheduler == nil {
		c.scheduler = NewClockzScheduler(nil)
	}
	if c.logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		c.logger = l
	}
	return c
}

// Play starts ticking. It is a no-op while already running.
func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Running {
		return
	}
	c.state = Running
	c.startLocked()
	c.logger.WithFields(logrus.Fields{"cursor": c.cursor, "speed": c.speed}).Debug("Playback started")
}

// Pause stops ticking and keeps the cursor. It is a no-op unless running.
// A tick in flight finishes delivering before Pause returns, and none
// follows it.
func (c *Clock) Pause() {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return
	}
	c.state = Paused
	t := c.detachLocked()
	cursor := c.cursor
	c.mu.Unlock()

	stopTicker(t)
	c.logger.WithField("cursor", cursor).Debug("Playback paused")
}

// Reset stops ticking and rewinds to cursor 0. The reset notification is
// the last one delivered before Reset returns.
func (c *Clock) Reset() {
	c.mu.Lock()
	c.state = Stopped
	c.cursor = 0
	t := c.detachLocked()
	subs := c.subscribersLocked()
	c.mu.Unlock()

	stopTicker(t)
	c.logger.Debug("Playback reset")
	deliver(subs, Notification{Type: NotifyReset, Progress: 0})
}

// SkipTo moves the cursor to index clamped into [0, Len()]. A running clock
// keeps running; a stopped clock moved off 0 becomes paused.
func (c *Clock) SkipTo(index int) {
	c.mu.Lock()
	n := c.tl.Len()
	if index < 0 {
		index = 0
	} else if index > n {
		index = n
	}
	c.cursor = index
	if c.state == Stopped && index > 0 {
		c.state = Paused
	}
	note := Notification{Type: NotifySkip, Cursor: index, Progress: progress(index, n)}
	subs := c.subscribersLocked()
	c.mu.Unlock()

	c.logger.WithField("cursor", index).Debug("Playback skipped")
	deliver(subs, note)
}

// SetSpeed changes the speed multiplier. A running clock is rescheduled at
// the new rate.
func (c *Clock) SetSpeed(multiplier float64) error {
	if multiplier <= 0 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, multiplier)
	}
	c.mu.Lock()
	c.speed = multiplier
	var old Ticker
	if c.state == Running {
		old = c.detachLocked()
		c.startLocked()
	}
	c.mu.Unlock()

	stopTicker(old)
	c.logger.WithField("speed", multiplier).Debug("Playback speed changed")
	return nil
}

// Step reveals the next entry. A stopped clock becomes paused. At the end
// of the timeline it pauses the clock, runs the OnEnd hooks and returns
// false.
func (c *Clock) Step() (timeline.Entry, bool) {
	c.mu.Lock()
	return c.stepLocked(false)
}

// tick is the scheduler callback. Ticks from a stopped or replaced ticker
// are dropped. It returns false once the ticker should exit.
func (c *Clock) tick(gen uint64) bool {
	c.mu.Lock()
	if c.state != Running || c.gen != gen {
		c.mu.Unlock()
		return false
	}
	_, ok := c.stepLocked(true)
	return ok
}

// stepLocked must be called with mu held; it releases it. When called from
// the ticker's own callback the ticker is left to exit on its own.
func (c *Clock) stepLocked(fromTick bool) (timeline.Entry, bool) {
	n := c.tl.Len()
	if c.cursor >= n {
		c.state = Paused
		t := c.detachLocked()
		hooks := copySubscribers(c.endSubs)
		c.mu.Unlock()
		if !fromTick {
			stopTicker(t)
		}
		c.logger.WithField("cursor", n).Debug("Playback reached end of timeline")
		for _, h := range hooks {
			h.fn(Notification{Type: NotifyEnd, Cursor: n, Progress: progress(n, n)})
		}
		return timeline.Entry{}, false
	}

	entry := c.tl.At(c.cursor)
	c.cursor++
	if c.state == Stopped {
		c.state = Paused
	}
	note := Notification{
		Type:     NotifyEvent,
		TripID:   entry.TripID,
		Event:    entry.Event,
		Cursor:   c.cursor,
		Progress: progress(c.cursor, n),
	}
	subs := c.subscribersLocked()
	c.mu.Unlock()

	deliver(subs, note)
	return entry, true
}

// Subscribe registers an observer and returns a function that removes it.
func (c *Clock) Subscribe(fn Observer) (unsubscribe func()) {
	return c.register(&c.subs, fn)
}

// OnEnd registers a hook run whenever a step finds the timeline exhausted,
// after the clock has paused. On a running clock it runs on the scheduler
// goroutine. Hooks are not clock notifications and receive NotifyEnd.
func (c *Clock) OnEnd(fn Observer) (remove func()) {
	return c.register(&c.endSubs, fn)
}

func (c *Clock) register(list *[]subscriber, fn Observer) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	*list = append(*list, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range *list {
				if s.id == id {
					*list = append((*list)[:i:i], (*list)[i+1:]...)
					return
				}
			}
		})
	}
}

// Cursor returns the number of revealed entries.
func (c *Clock) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Len returns the timeline length.
func (c *Clock) Len() int { return c.tl.Len() }

// Timeline returns the timeline the clock runs over.
func (c *Clock) Timeline() *timeline.Timeline { return c.tl }

// State returns the run state.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Speed returns the speed multiplier.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Progress returns cursor/len as a percentage, 0 for an empty timeline.
func (c *Clock) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return progress(c.cursor, c.tl.Len())
}

// CurrentTime returns the timestamp of the last revealed entry.
func (c *Clock) CurrentTime() (time.Time, bool) {
	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()
	return c.tl.TimeAt(cursor)
}

// Interval returns the current tick interval.
func (c *Clock) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intervalLocked()
}

func (c *Clock) intervalLocked() time.Duration {
	d := time.Duration(float64(c.baseInterval) / c.speed)
	if d < minInterval {
		return minInterval
	}
	return d
}

func (c *Clock) startLocked() {
	c.gen++
	gen := c.gen
	c.ticker = c.scheduler.Every(c.intervalLocked(), func() bool { return c.tick(gen) })
}

func (c *Clock) detachLocked() Ticker {
	t := c.ticker
	c.ticker = nil
	c.gen++
	return t
}

func (c *Clock) subscribersLocked() []subscriber {
	return copySubscribers(c.subs)
}

func copySubscribers(subs []subscriber) []subscriber {
	if len(subs) == 0 {
		return nil
	}
	out := make([]subscriber, len(subs))
	copy(out, subs)
	return out
}

func stopTicker(t Ticker) {
	if t != nil {
		t.Stop()
	}
}

func deliver(subs []subscriber, n Notification) {
	for _, s := range subs {
		s.fn(n)
	}
}

func progress(cursor, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(cursor) / float64(n) * 100
}
