// Package clock defines a small abstraction over wall-clock time, so
// callers can substitute a deterministic clock in tests without touching
// production code paths.
package clock

import "time"

// Clock is implemented by anything that can tell the time and wait for a
// duration to elapse.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// TickAfter returns a channel that receives the current time once
	// duration has elapsed.
	TickAfter(duration time.Duration) <-chan time.Time
}
