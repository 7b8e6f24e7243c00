// Package moves holds the fixed table of pre-programmed moves and the sequencer that cycles through it.
package moves

import (
	"fmt"

	"github.com/cjeanneret/StepSeq/internal/hw/stepper"
)

// Move is one pre-programmed motion: how many steps, how fast (timer load
// count per step) and which way.
type Move struct {
	StepCount  int32
	TickPeriod uint32
	Direction  stepper.Direction
}

func (m Move) String() string {
	return fmt.Sprintf("%d steps %s @%d", m.StepCount, m.Direction, m.TickPeriod)
}

// ID identifies an entry of the move table, 1-based.
type ID int

const (
	Move1 ID = iota + 1
	Move2
	Move3
	Move4
	Move5
	Move6
)

// Count is the number of entries in the move table.
const Count = 6

// Table holds the six moves, indexed by ID-1.
type Table [Count]Move

// DefaultTable is the move programme; load counts assume a 10.48576 MHz
// timer clock.
var DefaultTable = Table{
	{StepCount: 64, TickPeriod: 3276799, Direction: stepper.CW},  // 1 1/3 turns in 20 s
	{StepCount: 272, TickPeriod: 771011, Direction: stepper.CW},  // 5 2/3 turns in 20 s
	{StepCount: 736, TickPeriod: 284938, Direction: stepper.CCW}, // 15 1/3 turns in 20 s
	{StepCount: 512, TickPeriod: 204799, Direction: stepper.CCW}, // 10 2/3 turns in 10 s
	{StepCount: 960, TickPeriod: 109226, Direction: stepper.CCW}, // 20 turns in 10 s
	{StepCount: 1472, TickPeriod: 71234, Direction: stepper.CW},  // 30 2/3 turns in 10 s
}

// Get returns the move for id.
func (t *Table) Get(id ID) Move {
	return t[int(id)-1]
}

// Sequencer walks the table circularly: 1, 2, ..., 6, 1, ...
type Sequencer struct {
	table   *Table
	current ID
}

// NewSequencer starts at Move1. A nil table selects DefaultTable.
func NewSequencer(table *Table) *Sequencer {
	if table == nil {
		table = &DefaultTable
	}
	return &Sequencer{table: table, current: Move1}
}

// Current returns the current move.
func (s *Sequencer) Current() Move {
	return s.table.Get(s.current)
}

// CurrentID returns the 1-based number of the current move.
func (s *Sequencer) CurrentID() ID {
	return s.current
}

// Advance makes the next move current and returns it.
func (s *Sequencer) Advance() Move {
	s.current = Next(s.current)
	return s.Current()
}

// Next returns the successor of id, wrapping from Move6 to Move1.
func Next(id ID) ID {
	if id >= Move6 || id < Move1 {
		return Move1
	}
	return id + 1
}
