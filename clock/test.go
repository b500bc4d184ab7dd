package clock

import (
	"sync"
	"time"
)

// TestClock is a Clock whose value is advanced explicitly by test code,
// for deterministic simulation of cooldown/dispute windows, ceremony
// deadlines, and flow-budget epoch resets.
type TestClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*testWaiter
}

type testWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewTestClock returns a TestClock starting at now.
func NewTestClock(now time.Time) *TestClock {
	return &TestClock{now: now}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TestClock) TickAfter(duration time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := c.now.Add(duration)
	if !deadline.After(c.now) {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, &testWaiter{deadline: deadline, ch: ch})
	return ch
}

// SetTime jumps the clock forward to now, firing any TickAfter channel
// whose deadline has passed. now must not be before the clock's current
// value.
func (c *TestClock) SetTime(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(now) {
			w.ch <- now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}

// Advance moves the clock forward by d; a convenience wrapper over SetTime.
func (c *TestClock) Advance(d time.Duration) {
	c.SetTime(c.Now().Add(d))
}

var _ Clock = (*TestClock)(nil)
