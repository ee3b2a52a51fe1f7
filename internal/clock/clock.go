// Package clock provides the wall clock used for catalog timestamps and a
// manually advanced clock for tests.
package clock

import (
	"sync"
	"time"
)

// System implements catalog.Clock using time.Now in UTC.
type System struct{}

// New creates a System clock.
func New() System {
	return System{}
}

// Now returns the current time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the clock's current reading.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
