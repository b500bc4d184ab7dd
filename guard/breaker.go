package guard

import (
	"sync"
	"time"
)

// breakerState is a circuit breaker's position: Closed (normal), Open
// (tripped, rejecting), HalfOpen (probing whether the fault cleared).
type breakerState uint8

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker trips after a run of consecutive failures and rejects
// further requests until a cooldown elapses, then allows a single probe
// request through before fully closing again — the standard three-state
// breaker, used here to gate a context (e.g. a peer or AMP channel) that
// is failing repeatedly rather than let every guard evaluation retry it.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration

	state      breakerState
	failures   int
	openedAtMs int64
}

// NewCircuitBreaker returns a breaker that opens after failureThreshold
// consecutive failures and stays open for cooldown before probing again.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{failureThreshold: failureThreshold, cooldown: cooldown}
}

// Allow reports whether a request may proceed at nowMs, transitioning
// Open -> HalfOpen once the cooldown has elapsed.
func (b *CircuitBreaker) Allow(nowMs int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if nowMs-b.openedAtMs >= b.cooldown.Milliseconds() {
			b.state = breakerHalfOpen
			return true
		}
		return false
	case breakerHalfOpen:
		// Only one probe in flight at a time; further callers wait for
		// its outcome (RecordSuccess/RecordFailure) to resolve the state.
		return false
	default:
		return true
	}
}

// RecordSuccess resets the breaker to Closed.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
}

// RecordFailure counts a failure, tripping the breaker to Open once the
// threshold is reached (or immediately, if the failure happened during a
// HalfOpen probe).
func (b *CircuitBreaker) RecordFailure(nowMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAtMs = nowMs
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = breakerOpen
		b.openedAtMs = nowMs
	}
}

// IsOpen reports whether the breaker currently rejects all requests
// (Open, not yet past cooldown).
func (b *CircuitBreaker) IsOpen(nowMs int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen && nowMs-b.openedAtMs < b.cooldown.Milliseconds()
}

// AsGuard wraps the breaker as a Guard that denies with CodeCircuitOpen
// semantics when tripped, otherwise allows with no effects (a pass-
// through guard meant to be composed at the head of a Chain).
func (b *CircuitBreaker) AsGuard(nowMs func() int64) Guard {
	return func(req Request) Outcome {
		if !b.Allow(nowMs()) {
			return Denied("circuit breaker open")
		}
		return Allowed()
	}
}
