// Package ticker provides a mockable periodic-tick interface, used by the
// authority's background ceremony-deadline reaper so tests can force
// ticks without waiting on wall-clock time.
package ticker

import "time"

// Ticker is satisfied by anything that delivers periodic ticks on a
// channel and can be started/stopped.
type Ticker interface {
	// Ticks returns the channel new ticks are delivered on.
	Ticks() <-chan time.Time
	// Start begins delivering ticks at the configured interval.
	Start()
	// Stop halts delivery; safe to call more than once.
	Stop()
}

// wall is a Ticker backed by a real time.Ticker.
type wall struct {
	interval time.Duration
	t        *time.Ticker
	ch       chan time.Time
	quit     chan struct{}
}

// New returns a production Ticker that ticks every interval once started.
func New(interval time.Duration) Ticker {
	return &wall{interval: interval, ch: make(chan time.Time, 1)}
}

func (w *wall) Ticks() <-chan time.Time { return w.ch }

func (w *wall) Start() {
	if w.t != nil {
		return
	}
	w.t = time.NewTicker(w.interval)
	w.quit = make(chan struct{})
	go func() {
		for {
			select {
			case tm := <-w.t.C:
				select {
				case w.ch <- tm:
				default:
				}
			case <-w.quit:
				return
			}
		}
	}()
}

func (w *wall) Stop() {
	if w.t == nil {
		return
	}
	w.t.Stop()
	close(w.quit)
	w.t = nil
}

// Force is a test Ticker whose ticks are driven manually by calling Tick.
type Force struct {
	ch      chan time.Time
	started bool
}

// NewForce returns a Ticker for tests: Start/Stop are no-ops that only
// track whether ticks should be accepted, and Tick delivers one tick.
func NewForce() *Force {
	return &Force{ch: make(chan time.Time, 1)}
}

func (f *Force) Ticks() <-chan time.Time { return f.ch }
func (f *Force) Start()                  { f.started = true }
func (f *Force) Stop()                   { f.started = false }

// Tick delivers a single tick if the ticker has been started.
func (f *Force) Tick(at time.Time) {
	if !f.started {
		return
	}
	select {
	case f.ch <- at:
	default:
	}
}

var (
	_ Ticker = (*wall)(nil)
	_ Ticker = (*Force)(nil)
)
