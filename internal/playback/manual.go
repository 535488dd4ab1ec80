package playback

import (
	"sync"
	"time"
)

// ManualScheduler hands out tickers that only fire when Fire is called. It
// lets tests and offline tools step a Clock without wall-clock timers.
type ManualScheduler struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

type manualTicker struct {
	interval time.Duration
	fn       func() bool
	stopped  bool
	owner    *ManualScheduler
}

// NewManualScheduler returns an empty ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Every registers fn; it runs once per Fire until stopped or until it
// returns false.
func (s *ManualScheduler) Every(interval time.Duration, fn func() bool) Ticker {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTicker{interval: interval, fn: fn, owner: s}
	s.tickers = append(s.tickers, t)
	return t
}

// Stop never blocks, so observers of a manually driven clock may pause or
// reset it from inside a tick.
func (t *manualTicker) Stop() {
	t.owner.mu.Lock()
	t.stopped = true
	t.owner.mu.Unlock()
}

// Fire runs every live ticker once and returns how many ran.
func (s *ManualScheduler) Fire() int {
	live := s.live()
	for _, t := range live {
		if !t.fn() {
			t.Stop()
		}
	}
	return len(live)
}

// Active returns the number of tickers that have not been stopped.
func (s *ManualScheduler) Active() int {
	return len(s.live())
}

// LastInterval returns the interval of the most recently started ticker.
func (s *ManualScheduler) LastInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tickers) == 0 {
		return 0
	}
	return s.tickers[len(s.tickers)-1].interval
}

func (s *ManualScheduler) live() []*manualTicker {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*manualTicker
	for _, t := range s.tickers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}
