package button

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/StepSeq/internal/debug"
	"github.com/cjeanneret/StepSeq/internal/hw/gpio"
)

// DefaultHold keeps a virtual press closed long enough to pass the
// debounce press test on the next poll.
const DefaultHold = 100 * time.Millisecond

var (
	ErrUnknownButton = errors.New("unknown button")
	ErrBusy          = errors.New("button already held")
)

// Panel presses buttons wired to a mock GPIO driver.
type Panel struct {
	mock   *gpio.MockDriver
	hold   time.Duration
	inputs map[string]*Input

	mu   sync.Mutex
	held map[string]bool
}

// NewPanel binds inputs to the mock driver they read from.
func NewPanel(mock *gpio.MockDriver, hold time.Duration, inputs ...*Input) *Panel {
	if hold <= 0 {
		hold = DefaultHold
	}
	p := &Panel{mock: mock, hold: hold, inputs: make(map[string]*Input), held: make(map[string]bool)}
	for _, in := range inputs {
		p.inputs[in.Name()] = in
	}
	return p
}

// Press drives the named pin to its active level and releases it after
// the hold time. It returns at once.
func (p *Panel) Press(name string) error {
	in, ok := p.inputs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownButton, name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held[name] {
		return fmt.Errorf("%w: %q", ErrBusy, name)
	}
	p.held[name] = true
	p.mock.SetInput(in.Pin(), in.ActiveLevel())
	debug.Live("Virtual %s press (%v)", name, p.hold)

	time.AfterFunc(p.hold, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.mock.SetInput(in.Pin(), !in.ActiveLevel())
		p.held[name] = false
	})
	return nil
}

// Hold returns the press duration.
func (p *Panel) Hold() time.Duration { return p.hold }
