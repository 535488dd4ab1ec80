package playback

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Scheduler starts repeating callbacks. The clock never calls time functions
// directly, so tests can drive ticks by hand.
type Scheduler interface {
	// Every calls fn once per interval until fn returns false or the
	// returned Ticker is stopped.
	Every(interval time.Duration, fn func() bool) Ticker
}

// Ticker is a running repeating callback.
type Ticker interface {
	// Stop cancels future callbacks and waits for a callback in flight to
	// return. It must not be called from the callback itself; the callback
	// ends its ticker by returning false.
	Stop()
}

// ClockzScheduler fires callbacks from a goroutine timed by a clockz.Clock.
type ClockzScheduler struct {
	clock clockz.Clock
}

// NewClockzScheduler returns a scheduler on the given clock; nil means the
// real clock.
func NewClockzScheduler(clock clockz.Clock) *ClockzScheduler {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &ClockzScheduler{clock: clock}
}

// Every calls fn every interval until fn returns false or the returned
// Ticker is stopped.
func (s *ClockzScheduler) Every(interval time.Duration, fn func() bool) Ticker {
	t := &clockzTicker{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go t.run(s.clock, interval, fn)
	return t
}

type clockzTicker struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (t *clockzTicker) run(clock clockz.Clock, interval time.Duration, fn func() bool) {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		case <-clock.After(interval):
		}
		// stop wins over a timer that fired at the same moment
		select {
		case <-t.stop:
			return
		default:
		}
		if !fn() {
			return
		}
	}
}

func (t *clockzTicker) Stop() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}
