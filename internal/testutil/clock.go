// Package testutil provides shared fixtures for engine and syncer tests.
package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a thread-safe manual clock for tests. Each Tick
// advances it by a fixed step, so timestamps in test output are stable.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewDeterministicClock creates a clock starting at a fixed epoch,
// advancing one second per Tick.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{
		now:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		step: time.Second,
	}
}

// Now returns the current instant without advancing.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Tick advances the clock one step and returns the new instant.
func (c *DeterministicClock) Tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// Advance moves the clock forward by d.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
