// Package clock abstracts wall-clock time so schedulers and date cutoffs
// can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"

	"cloud.google.com/go/civil"
)

// Clock yields the current time and periodic ticks.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Today is the calendar day of c.Now() in loc.
func Today(c Clock, loc *time.Location) civil.Date {
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateOf(c.Now().In(loc))
}

// System is the real clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) NewTicker(d time.Duration) Ticker { return systemTicker{time.NewTicker(d)} }

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// Manual is a clock that only moves when told to. Ticks are delivered
// by Advance to every live ticker whose period has elapsed.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set jumps the clock without firing tickers.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward and fires due tickers once each.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	live := m.tickers[:0]
	var due []*manualTicker
	for _, t := range m.tickers {
		if t.stopped() {
			continue
		}
		live = append(live, t)
		if !now.Before(t.next) {
			due = append(due, t)
			t.next = now.Add(t.period)
		}
	}
	m.tickers = live
	m.mu.Unlock()

	for _, t := range due {
		select {
		case t.ch <- now:
		default:
		}
	}
}

func (m *Manual) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time, 1), period: d, next: m.now.Add(d)}
	m.tickers = append(m.tickers, t)
	return t
}

type manualTicker struct {
	mu     sync.Mutex
	ch     chan time.Time
	period time.Duration
	next   time.Time
	done   bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

func (t *manualTicker) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}
