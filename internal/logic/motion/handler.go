package motion

import (
	"sync/atomic"

	"github.com/cjeanneret/StepSeq/internal/debug"
	"github.com/cjeanneret/StepSeq/internal/hw/stepper"
)

// Driver is the stepper driver as seen from the poll loop.
type Driver interface {
	CommandMove(steps int32, dir stepper.Direction)
	CommandStop()
	IsMoving() bool
	NetPosition() int32
}

// StepDriver is the stepper driver as seen from the tick context.
type StepDriver interface {
	Advance()
	IsMoving() bool
}

// Shared holds the two run counters that cross from the tick context to
// the poll loop. The tick context writes both after every step; the poll
// loop reads them, and writes them only while the tick source is stopped
// or about to be (re)armed.
type Shared struct {
	running   atomic.Bool
	remaining atomic.Int32
}

// Running reports the driver's "still moving" flag as of the last tick.
func (s *Shared) Running() bool { return s.running.Load() }

// Remaining returns the steps left in the active motion. It may read
// zero or negative for one poll cycle before Running turns false.
func (s *Shared) Remaining() int32 { return s.remaining.Load() }

// StepHandler advances the motor once per tick and publishes the run
// counters. It makes no phase decisions.
type StepHandler struct {
	driver StepDriver
	shared *Shared
	onTick []func(remaining int32)
}

// NewStepHandler binds a handler to the driver and the shared counters.
func NewStepHandler(d StepDriver, shared *Shared) *StepHandler {
	return &StepHandler{driver: d, shared: shared}
}

// OnTick registers fn to run after every tick. Register before the tick
// source starts.
func (h *StepHandler) OnTick(fn func(remaining int32)) {
	h.onTick = append(h.onTick, fn)
}

// Tick is invoked once per elapsed tick period.
func (h *StepHandler) Tick() {
	h.driver.Advance()
	h.shared.running.Store(h.driver.IsMoving())
	remaining := h.shared.remaining.Add(-1)

	debug.Trace("tick: remaining=%d running=%v", remaining, h.shared.running.Load())
	for _, fn := range h.onTick {
		fn(remaining)
	}
}
