// Package clock provides the millisecond time base shared by the sampling
// and publishing components.
package clock

import (
	"sync"
	"time"
)

// Timestamp is a millisecond counter that wraps at 2^32, like a
// microcontroller uptime counter.
type Timestamp uint32

// Clock returns the current Timestamp.
type Clock interface {
	Now() Timestamp
}

// Elapsed returns the milliseconds from since to now. Unsigned subtraction
// keeps the result correct across a counter wraparound.
func Elapsed(now, since Timestamp) uint32 {
	return uint32(now - since)
}

// Millis converts a duration to a millisecond count, saturating at the
// counter range.
func Millis(d time.Duration) uint32 {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}

	return uint32(ms)
}

type system struct {
	start time.Time
}

// System returns a Clock counting milliseconds since it was created.
func System() Clock {
	return &system{start: time.Now()}
}

func (s *system) Now() Timestamp {
	return Timestamp(uint32(time.Since(s.start).Milliseconds()))
}

// Manual is a Clock driven by hand, for tests and replay.
type Manual struct {
	mu  sync.Mutex
	now Timestamp
}

// NewManual returns a Manual clock starting at start.
func NewManual(start Timestamp) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward by ms milliseconds.
func (m *Manual) Advance(ms uint32) Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += Timestamp(ms)
	return m.now
}
