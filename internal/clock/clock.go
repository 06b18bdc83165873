package clock

import (
	"sync"
	"time"
)

// Clock returns the current time in milliseconds since the Unix epoch.
type Clock interface {
	NowMillis() int64
}

// System reads the host wall clock.
type System struct{}

// NowMillis returns time.Now in milliseconds.
func (System) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Manual is a Clock whose value only changes when told to.
// Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual creates a manual clock starting at the given millisecond value.
func NewManual(start int64) *Manual {
	return &Manual{now: start}
}

// NowMillis returns the current manual time.
func (m *Manual) NowMillis() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to ms.
func (m *Manual) Set(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = ms
}

// Advance moves the clock forward by d and returns the new value.
func (m *Manual) Advance(d time.Duration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d.Milliseconds()
	return m.now
}
