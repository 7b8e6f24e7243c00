// Package pit provides the periodic trigger that drives the step-advance
// handler. Periods are expressed as timer load counts, like the periodic
// interrupt timer of a microcontroller: one period lasts (count+1) clock
// cycles.
package pit

import (
	"context"
	"sync"
	"time"

	"github.com/cjeanneret/StepSeq/internal/debug"
)

// DefaultClockHz is the bus clock feeding the timer.
const DefaultClockHz = 10485760

// Timer calls its handler once per elapsed period from a single goroutine.
// The handler runs with mu held, so it never overlaps itself and Pause
// returns only once any in-flight invocation has completed: no tick can be
// delivered after Pause returns.
type Timer struct {
	clockHz uint32
	handler func()

	mu      sync.Mutex
	period  time.Duration
	enabled bool
	fired   uint64

	wake chan struct{}
}

// New creates a stopped timer. Run must be started for ticks to fire.
func New(clockHz uint32, handler func()) *Timer {
	if clockHz == 0 {
		clockHz = DefaultClockHz
	}
	return &Timer{
		clockHz: clockHz,
		handler: handler,
		wake:    make(chan struct{}, 1),
	}
}

// Period converts a load count into wall-clock time.
func (t *Timer) Period(count uint32) time.Duration {
	return CountToDuration(count, t.clockHz)
}

// CountToDuration converts a load count at clockHz into a duration.
func CountToDuration(count, clockHz uint32) time.Duration {
	if clockHz == 0 {
		return 0
	}
	return time.Duration((uint64(count) + 1) * uint64(time.Second) / uint64(clockHz))
}

// Arm loads a new period and starts the timer.
func (t *Timer) Arm(count uint32) {
	t.mu.Lock()
	t.period = t.Period(count)
	t.enabled = true
	t.mu.Unlock()

	debug.Trace("PIT armed: count=%d period=%v", count, t.period)
	t.signal()
}

// Pause stops tick delivery, keeping the loaded period.
func (t *Timer) Pause() {
	t.mu.Lock()
	was := t.enabled
	t.enabled = false
	t.mu.Unlock()

	if was {
		debug.Trace("PIT paused")
		t.signal()
	}
}

// Resume restarts tick delivery at the loaded period.
func (t *Timer) Resume() {
	t.mu.Lock()
	t.enabled = t.period > 0
	t.mu.Unlock()

	debug.Trace("PIT resumed")
	t.signal()
}

// Enabled reports whether ticks are currently being delivered.
func (t *Timer) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Fired returns the number of handler invocations so far.
func (t *Timer) Fired() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Run delivers ticks until ctx is cancelled.
func (t *Timer) Run(ctx context.Context) error {
	var (
		ticker *time.Ticker
		tc     <-chan time.Time
	)
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tc = nil, nil
		}
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.wake:
			stop()
			t.mu.Lock()
			enabled, period := t.enabled, t.period
			t.mu.Unlock()
			if enabled && period > 0 {
				ticker = time.NewTicker(period)
				tc = ticker.C
			}
		case <-tc:
			t.fire()
		}
	}
}

func (t *Timer) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.fired++
	t.handler()
}

func (t *Timer) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}
