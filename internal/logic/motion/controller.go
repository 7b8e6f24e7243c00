package motion

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/StepSeq/internal/debug"
	"github.com/cjeanneret/StepSeq/internal/hw/stepper"
	"github.com/cjeanneret/StepSeq/internal/logic/homing"
	"github.com/cjeanneret/StepSeq/internal/logic/moves"
)

// Phase of the motor sequencing state machine.
type Phase int

const (
	AtStart Phase = iota
	Running
	Returning
	Stopped
)

func (p Phase) String() string {
	switch p {
	case AtStart:
		return "AT_START"
	case Running:
		return "RUNNING"
	case Returning:
		return "RETURNING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for _, candidate := range []Phase{AtStart, Running, Returning, Stopped} {
		if candidate.String() == string(b) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Trigger controls the periodic source that calls StepHandler.Tick.
type Trigger interface {
	Arm(count uint32)
	Pause()
	Resume()
}

// Edge is a latched button press, consumed by the controller.
type Edge interface {
	Edge() bool
	Clear()
}

// Event names what caused a transition.
type Event string

const (
	EventStart  Event = "start"  // first move from power-up
	EventNext   Event = "next"   // following move from home
	EventFinish Event = "finish" // move ran to completion
	EventStop   Event = "stop"   // move interrupted by the stop button
	EventReturn Event = "return" // return to home started
	EventPause  Event = "pause"
	EventResume Event = "resume"
	EventHome   Event = "home" // return to home completed
)

// Transition describes one state machine step, reported to observers.
type Transition struct {
	From            Phase             `json:"from"`
	To              Phase             `json:"to"`
	Event           Event             `json:"event"`
	Move            moves.ID          `json:"move"`
	NetSteps        int32             `json:"net_steps"`
	ReturnSteps     int32             `json:"return_steps"`
	ReturnDirection stepper.Direction `json:"return_direction"`
	AtHome          bool              `json:"at_home"`
}

// Observer is notified from the poll loop; it must not block.
type Observer interface {
	Transition(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) Transition(t Transition) { f(t) }

// Status is a snapshot of the run state, safe to read from any goroutine.
type Status struct {
	Phase           Phase             `json:"phase"`
	AtHome          bool              `json:"at_home"`
	Running         bool              `json:"running"`
	RemainingSteps  int32             `json:"remaining_steps"`
	Move            moves.ID          `json:"move"`
	MoveSteps       int32             `json:"move_steps"`
	NetSteps        int32             `json:"net_steps"`
	ReturnSteps     int32             `json:"return_steps"`
	ReturnDirection stepper.Direction `json:"return_direction"`
}

// Controller sequences the moves of a single actuator from two button
// edges. It runs entirely in the poll loop; Poll never blocks.
type Controller struct {
	driver  Driver
	trigger Trigger
	seq     *moves.Sequencer
	shared  *Shared

	phase       Phase
	atHome      bool
	netSteps    int32
	returnSteps int32
	returnDir   stepper.Direction

	observers []Observer

	statusMu sync.RWMutex
	status   Status
}

// NewController returns a controller at AT_START, at home, with the
// sequencer's current move ready to run.
func NewController(d Driver, tr Trigger, seq *moves.Sequencer, shared *Shared) *Controller {
	c := &Controller{
		driver:  d,
		trigger: tr,
		seq:     seq,
		shared:  shared,
		phase:   AtStart,
		atHome:  true,
	}
	c.publish()
	return c
}

// AddObserver registers o. Call before the poll loop starts.
func (c *Controller) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// Poll runs one step of the state machine. Both edges are cleared on
// return whether or not the active phase used them.
func (c *Controller) Poll(start, stop Edge) {
	startPressed := start.Edge()
	stopPressed := stop.Edge()

	switch c.phase {
	case AtStart:
		if startPressed {
			c.beginMove(c.seq.Current(), EventStart)
		}

	case Running:
		if stopPressed || c.motionDone() {
			event := EventFinish
			if stopPressed {
				event = EventStop
			}
			c.endMove(event)
		}

	case Returning:
		if stopPressed {
			if c.shared.Running() {
				c.trigger.Pause()
				c.shared.running.Store(false)
				c.notify(Returning, EventPause)
			} else {
				c.trigger.Resume()
				c.notify(Returning, EventResume)
			}
		}
		if c.motionDone() {
			c.atHome = true
			c.transition(Stopped, EventHome)
		}

	case Stopped:
		c.trigger.Pause()
		if stopPressed && !c.atHome {
			c.driver.CommandMove(c.returnSteps, c.returnDir)
			c.shared.remaining.Store(c.returnSteps)
			c.trigger.Arm(c.seq.Current().TickPeriod)
			c.transition(Returning, EventReturn)
		} else if startPressed && c.atHome {
			c.beginMove(c.seq.Advance(), EventNext)
		}
	}

	start.Clear()
	stop.Clear()
	c.publish()
}

// motionDone is the exit condition shared by RUNNING and RETURNING.
func (c *Controller) motionDone() bool {
	return !c.shared.Running() && c.shared.Remaining() <= 0
}

func (c *Controller) beginMove(m moves.Move, event Event) {
	c.driver.CommandMove(m.StepCount, m.Direction)
	c.shared.remaining.Store(m.StepCount)
	c.trigger.Arm(m.TickPeriod)
	c.atHome = false
	c.transition(Running, event)
}

func (c *Controller) endMove(event Event) {
	c.driver.CommandStop()
	c.trigger.Pause()
	c.netSteps = c.driver.NetPosition()
	c.returnSteps, c.returnDir = homing.ComputeReturn(c.netSteps)
	debug.Verbose("net=%d -> return %d steps %s", c.netSteps, c.returnSteps, c.returnDir)

	if c.returnSteps == 0 {
		c.atHome = true
	} else {
		c.shared.remaining.Store(c.returnSteps)
	}
	c.transition(Stopped, event)
}

func (c *Controller) transition(to Phase, event Event) {
	from := c.phase
	c.phase = to
	debug.Phase(from.String(), to.String(), string(event))
	c.notify(from, event)
}

func (c *Controller) notify(from Phase, event Event) {
	if len(c.observers) == 0 {
		return
	}
	t := Transition{
		From:            from,
		To:              c.phase,
		Event:           event,
		Move:            c.seq.CurrentID(),
		NetSteps:        c.netSteps,
		ReturnSteps:     c.returnSteps,
		ReturnDirection: c.returnDir,
		AtHome:          c.atHome,
	}
	for _, o := range c.observers {
		o.Transition(t)
	}
}

func (c *Controller) publish() {
	s := Status{
		Phase:           c.phase,
		AtHome:          c.atHome,
		Running:         c.shared.Running(),
		RemainingSteps:  c.shared.Remaining(),
		Move:            c.seq.CurrentID(),
		MoveSteps:       c.seq.Current().StepCount,
		NetSteps:        c.netSteps,
		ReturnSteps:     c.returnSteps,
		ReturnDirection: c.returnDir,
	}
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

// Status returns the snapshot taken at the end of the last poll.
func (c *Controller) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// Phase returns the current phase. Poll-loop only.
func (c *Controller) Phase() Phase { return c.phase }

// AtHome reports whether the actuator sits on a home position. Poll-loop only.
func (c *Controller) AtHome() bool { return c.atHome }

// NetSteps returns the displacement sampled when the last move stopped.
func (c *Controller) NetSteps() int32 { return c.netSteps }

// Return returns the pending return path.
func (c *Controller) Return() (int32, stepper.Direction) { return c.returnSteps, c.returnDir }
