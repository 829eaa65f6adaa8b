package testutil

import (
	"sync"
	"time"
)

// FixedClock is a settable wall clock for tests.
//
// Deterministic time pins down everything derived from it: auto-key
// time buckets, paid_at stamps, and golden response sequences. The same
// scenario with the same FixedClock produces byte-identical output.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu sync.Mutex
	at time.Time
}

// NewFixedClock creates a clock pinned to at.
func NewFixedClock(at time.Time) *FixedClock {
	return &FixedClock{at: at}
}

// Now returns the pinned instant.
//
// Implements checkout.Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

// Advance moves the clock forward by d and returns the new instant.
//
// Used to cross auto-key time-bucket boundaries mid-scenario.
func (c *FixedClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
	return c.at
}

// Set pins the clock to a new instant.
func (c *FixedClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = at
}
