package clock

import (
	"sync"
	"time"
)

// Clock abstracts wall time and timers so loops can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the system clock.
type Real struct{}

// New returns the system clock.
func New() Clock { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

type waiter struct {
	at time.Time
	ch chan time.Time
}

// Mock is a manually advanced clock. Timers fire only when Add moves time past their deadline.
type Mock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	waiters []waiter
}

// NewMock returns a Mock starting at now.
func NewMock(now time.Time) *Mock {
	m := &Mock{now: now}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After registers a timer that fires once the mock time reaches now+d.
func (m *Mock) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	at := m.now.Add(d)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, waiter{at: at, ch: ch})
	m.cond.Broadcast()
	return ch
}

// Add advances the clock and fires every timer that became due.
func (m *Mock) Add(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	pending := m.waiters[:0]
	var due []waiter
	for _, w := range m.waiters {
		if !w.at.After(now) {
			due = append(due, w)
			continue
		}
		pending = append(pending, w)
	}
	m.waiters = pending
	m.mu.Unlock()

	for _, w := range due {
		w.ch <- now
	}
}

// Set moves the clock to t without firing timers scheduled after t.
func (m *Mock) Set(t time.Time) {
	m.Add(t.Sub(m.Now()))
}

// BlockUntil waits until at least n timers are pending.
func (m *Mock) BlockUntil(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.waiters) < n {
		m.cond.Wait()
	}
}

// Pending returns the durations, relative to now, of all pending timers.
func (m *Mock) Pending() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, 0, len(m.waiters))
	for _, w := range m.waiters {
		out = append(out, w.at.Sub(m.now))
	}
	return out
}
