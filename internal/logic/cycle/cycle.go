// Package cycle runs the fixed-period cooperative poll loop: sample both
// buttons, then step the motor state machine once.
package cycle

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/StepSeq/internal/debug"
	"github.com/cjeanneret/StepSeq/internal/logic/debounce"
	"github.com/cjeanneret/StepSeq/internal/logic/motion"
)

// DefaultPeriod is the poll cycle.
const DefaultPeriod = 10 * time.Millisecond

// RawInput is the instantaneous level of a button.
type RawInput interface {
	Pressed() bool
}

// Button pairs a raw input with its debounce channel.
type Button struct {
	Input   RawInput
	Monitor *debounce.Monitor
}

// Poller is the state machine driven once per cycle.
type Poller interface {
	Poll(start, stop motion.Edge)
}

// Scheduler owns the button channels and calls the state machine.
type Scheduler struct {
	period      time.Duration
	start, stop Button
	ctrl        Poller
	onEdge      []func(button string)
	cycles      atomic.Uint64
}

// New creates a scheduler. A zero period selects DefaultPeriod.
func New(period time.Duration, start, stop Button, ctrl Poller) *Scheduler {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Scheduler{period: period, start: start, stop: stop, ctrl: ctrl}
}

// OnEdge registers fn to run for every debounced press. Register before Run.
func (s *Scheduler) OnEdge(fn func(button string)) {
	s.onEdge = append(s.onEdge, fn)
}

// RunOnce executes one poll cycle.
func (s *Scheduler) RunOnce() {
	s.sample(s.start)
	s.sample(s.stop)
	s.ctrl.Poll(s.start.Monitor, s.stop.Monitor)
	s.cycles.Add(1)
}

func (s *Scheduler) sample(b Button) {
	if b.Monitor.Poll(b.Input.Pressed()) {
		debug.Button(b.Monitor.Name())
		for _, fn := range s.onEdge {
			fn(b.Monitor.Name())
		}
	}
}

// Cycles returns the number of completed poll cycles.
func (s *Scheduler) Cycles() uint64 {
	return s.cycles.Load()
}

// Period returns the poll cycle duration.
func (s *Scheduler) Period() time.Duration {
	return s.period
}

// Run polls every period until ctx is cancelled. A cycle that overruns
// delays the next one rather than queueing extra cycles.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	debug.Info("Poll loop started (period %v)", s.period)
	for {
		select {
		case <-ctx.Done():
			debug.Info("Poll loop stopped after %d cycles", s.Cycles())
			return nil
		case <-ticker.C:
			s.RunOnce()
		}
	}
}
