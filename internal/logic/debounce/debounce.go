// Package debounce turns a noisy push-button level, sampled once per poll
// cycle, into a single latched "pressed" edge per physical press.
package debounce

// State of a button channel.
type State int

const (
	Open State = iota
	Closed
	Bouncing
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	case Bouncing:
		return "BOUNCING"
	default:
		return "UNKNOWN"
	}
}

// DefaultBounceTicks is the settle window after release, in poll cycles
// (500 ms at 10 ms per cycle).
const DefaultBounceTicks = 50

// Monitor is the state of one button channel. It is owned by the poll loop;
// the edge is read and cleared by the motor state machine.
type Monitor struct {
	name        string
	bounceTicks uint32

	state     State
	countdown uint32
	edge      bool
}

// New returns a monitor in the OPEN state. A bounceTicks of 0 selects
// DefaultBounceTicks.
func New(name string, bounceTicks uint32) *Monitor {
	if bounceTicks == 0 {
		bounceTicks = DefaultBounceTicks
	}
	return &Monitor{name: name, bounceTicks: bounceTicks}
}

// Poll samples the raw level once and reports whether this sample produced
// a new press edge. The edge also stays latched until Clear.
func (m *Monitor) Poll(rawPressed bool) bool {
	if m.countdown > 0 {
		m.countdown--
	}

	newEdge := false
	switch m.state {
	case Open:
		if rawPressed {
			m.edge = true
			newEdge = true
			m.state = Closed
		}
	case Closed:
		if !rawPressed {
			m.state = Bouncing
			m.countdown = m.bounceTicks
		}
	case Bouncing:
		if rawPressed {
			m.state = Closed
		}
		// A press on the sample that ends the window still lands in OPEN;
		// the next sample reports it as a new press.
		if m.countdown == 0 {
			m.state = Open
		}
	}
	return newEdge
}

// Edge reports whether a press is latched.
func (m *Monitor) Edge() bool { return m.edge }

// Clear acknowledges the latched press.
func (m *Monitor) Clear() { m.edge = false }

// Name returns the button label.
func (m *Monitor) Name() string { return m.name }

// State returns the current channel state.
func (m *Monitor) State() State { return m.state }

// Countdown returns the poll cycles left in the bounce window.
func (m *Monitor) Countdown() uint32 { return m.countdown }
