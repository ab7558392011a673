// Package clock abstracts wall-clock time so retry, debounce, coalescing,
// and health-check logic can be driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock provides the time operations the engine depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules f to run after d on its own goroutine.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker
}

// Timer is a handle to a scheduled call.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

// Ticker delivers periodic ticks.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// New returns a Clock backed by the time package.
func New() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTimer struct{ t *time.Timer }

func (t realTimer) Stop() bool                 { return t.t.Stop() }
func (t realTimer) Reset(d time.Duration) bool { return t.t.Reset(d) }

type realTicker struct{ t *time.Ticker }

func (t realTicker) Chan() <-chan time.Time { return t.t.C }
func (t realTicker) Stop()                  { t.t.Stop() }

// -----------------------------------------------------------------------------
// Manual clock for tests
// -----------------------------------------------------------------------------

// Manual is a Clock whose time only moves when Advance is called. Scheduled
// functions run synchronously inside Advance, in deadline order.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*manualTimer
	tickers []*manualTicker
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the manual clock's current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc registers f to run when the clock advances past d from now.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{clock: m, deadline: m.now.Add(d), f: f}
	m.timers = append(m.timers, t)
	return t
}

// NewTicker returns a ticker that fires when the clock advances past each
// interval boundary.
func (m *Manual) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{clock: m, interval: d, next: m.now.Add(d), ch: make(chan time.Time, 64)}
	m.tickers = append(m.tickers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers and tickers.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		t := m.nextDueLocked(target)
		if t == nil {
			break
		}
		m.now = t.deadline
		m.removeTimerLocked(t)
		f := t.f
		m.mu.Unlock()
		f()
		m.mu.Lock()
	}
	m.now = target
	for _, tk := range m.tickers {
		for !tk.next.After(target) {
			select {
			case tk.ch <- tk.next:
			default:
			}
			tk.next = tk.next.Add(tk.interval)
		}
	}
	m.mu.Unlock()
}

func (m *Manual) nextDueLocked(limit time.Time) *manualTimer {
	var due []*manualTimer
	for _, t := range m.timers {
		if !t.deadline.After(limit) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	return due[0]
}

func (m *Manual) removeTimerLocked(t *manualTimer) {
	for i, cand := range m.timers {
		if cand == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

type manualTimer struct {
	clock    *Manual
	deadline time.Time
	f        func()
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	for i, cand := range t.clock.timers {
		if cand == t {
			t.clock.timers = append(t.clock.timers[:i], t.clock.timers[i+1:]...)
			return true
		}
	}
	return false
}

func (t *manualTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := false
	for _, cand := range t.clock.timers {
		if cand == t {
			active = true
			break
		}
	}
	t.deadline = t.clock.now.Add(d)
	if !active {
		t.clock.timers = append(t.clock.timers, t)
	}
	return active
}

type manualTicker struct {
	clock    *Manual
	interval time.Duration
	next     time.Time
	ch       chan time.Time
}

func (t *manualTicker) Chan() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	for i, cand := range t.clock.tickers {
		if cand == t {
			t.clock.tickers = append(t.clock.tickers[:i], t.clock.tickers[i+1:]...)
			return
		}
	}
}
