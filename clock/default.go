package clock

import "time"

// DefaultClock is a Clock backed by the real wall clock and timer.
type DefaultClock struct{}

// NewDefaultClock returns a Clock backed by time.Now/time.After.
func NewDefaultClock() *DefaultClock {
	return &DefaultClock{}
}

func (DefaultClock) Now() time.Time {
	return time.Now()
}

func (DefaultClock) TickAfter(duration time.Duration) <-chan time.Time {
	return time.After(duration)
}

var _ Clock = (*DefaultClock)(nil)
