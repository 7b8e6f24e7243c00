package stepper

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/StepSeq/internal/debug"
	"github.com/cjeanneret/StepSeq/internal/hw/gpio"
)

// Direction is the rotational sense of a move. CW counts positive.
type Direction int

const (
	CW Direction = iota
	CCW
)

func (d Direction) String() string {
	if d == CCW {
		return "CCW"
	}
	return "CW"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "CW":
		*d = CW
	case "CCW":
		*d = CCW
	default:
		return fmt.Errorf("unknown direction %q", b)
	}
	return nil
}

// Sign returns +1 for CW and -1 for CCW.
func (d Direction) Sign() int32 {
	if d == CCW {
		return -1
	}
	return 1
}

// Drive selects the coil energization pattern.
type Drive int

const (
	DriveWave Drive = iota // one coil on at a time
	DriveFull              // two coils on, more torque
)

// ParseDrive maps the configuration name to a Drive.
func ParseDrive(s string) (Drive, error) {
	switch s {
	case "wave":
		return DriveWave, nil
	case "", "full":
		return DriveFull, nil
	default:
		return DriveFull, fmt.Errorf("unknown stepper drive %q (want wave or full)", s)
	}
}

func (d Drive) String() string {
	if d == DriveWave {
		return "wave"
	}
	return "full"
}

// Coil order in every sequence row: A+, A-, B+, B-.
var (
	waveSequence = [4][4]bool{
		{true, false, false, false},
		{false, false, true, false},
		{false, true, false, false},
		{false, false, false, true},
	}

	fullSequence = [4][4]bool{
		{true, false, true, false},
		{false, true, true, false},
		{false, true, false, true},
		{true, false, false, true},
	}
)

// Config holds the hardware configuration for a 4-wire stepper motor.
type Config struct {
	CoilPins [4]int // BCM pins for A+, A-, B+, B-
	Drive    Drive
}

// Motor converts "advance one step" requests into coil patterns and keeps
// the signed position accumulator of the current move. It is shared by the
// poll loop (commands) and the tick goroutine (Advance), hence the mutex.
type Motor struct {
	mu   sync.Mutex
	gpio gpio.Driver
	cfg  Config
	seq  *[4][4]bool

	index    int // row of seq currently energized
	dir      Direction
	target   int32 // steps commanded by the last CommandMove
	taken    int32 // steps taken since the last CommandMove
	position int32 // signed net steps since the last CommandMove
	moving   bool
	faults   uint32
}

// NewMotor configures the coil pins and energizes the first sequence row,
// leaving the motor stopped and holding.
func NewMotor(g gpio.Driver, cfg Config) (*Motor, error) {
	for _, pin := range cfg.CoilPins {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup coil pin %d: %w", pin, err)
		}
	}

	m := &Motor{gpio: g, cfg: cfg, seq: &fullSequence}
	if cfg.Drive == DriveWave {
		m.seq = &waveSequence
	}
	if err := m.apply(); err != nil {
		return nil, err
	}
	return m, nil
}

// CommandMove starts a move of steps in dir and resets the position
// accumulator. Steps are taken one per Advance call.
func (m *Motor) CommandMove(steps int32, dir Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	debug.Printf("Stepper: move %d steps %s", steps, dir)
	m.dir = dir
	m.target = steps
	m.taken = 0
	m.position = 0
	m.moving = steps > 0
}

// CommandStop halts the motor immediately. The accumulator is kept.
func (m *Motor) CommandStop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	debug.Printf("Stepper: stop after %d/%d steps", m.taken, m.target)
	m.moving = false
}

// Advance takes one step in the commanded direction if a move is active.
func (m *Motor) Advance() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.moving {
		return
	}

	if m.dir == CW {
		m.index = (m.index + 1) % len(m.seq)
	} else {
		m.index = (m.index + len(m.seq) - 1) % len(m.seq)
	}
	if err := m.apply(); err != nil {
		m.faults++
		debug.Error(err)
	}

	m.position += m.dir.Sign()
	m.taken++
	if m.taken >= m.target {
		m.moving = false
	}
}

// IsMoving is true until the commanded steps are exhausted or CommandStop.
func (m *Motor) IsMoving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moving
}

// NetPosition returns the signed steps taken since the last CommandMove.
func (m *Motor) NetPosition() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// Faults returns the number of coil writes that failed.
func (m *Motor) Faults() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.faults
}

// Release de-energizes all coils (no holding torque).
func (m *Motor) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.moving = false
	for _, pin := range m.cfg.CoilPins {
		if err := m.gpio.WritePin(pin, gpio.Low); err != nil {
			return fmt.Errorf("release coil pin %d: %w", pin, err)
		}
	}
	return nil
}

func (m *Motor) apply() error {
	row := m.seq[m.index]
	for i, pin := range m.cfg.CoilPins {
		if err := m.gpio.WritePin(pin, gpio.Level(row[i])); err != nil {
			return fmt.Errorf("write coil pin %d: %w", pin, err)
		}
	}
	return nil
}
