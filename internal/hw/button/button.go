package button

import (
	"fmt"

	"github.com/cjeanneret/StepSeq/internal/debug"
	"github.com/cjeanneret/StepSeq/internal/hw/gpio"
)

// Input reads the instantaneous electrical state of a push-button.
// With ActiveLow the switch closes the pin to ground and the internal
// pull-up keeps it high while released.
type Input struct {
	gpio      gpio.Driver
	name      string
	pin       int
	activeLow bool
}

// NewInput configures pin as a button input.
func NewInput(g gpio.Driver, name string, pin int, activeLow bool) (*Input, error) {
	mode := gpio.Input
	if activeLow {
		mode = gpio.InputPullUp
	}
	if err := g.SetupPin(pin, mode); err != nil {
		return nil, fmt.Errorf("setup %s button pin %d: %w", name, pin, err)
	}
	return &Input{gpio: g, name: name, pin: pin, activeLow: activeLow}, nil
}

// Name returns the button label ("start", "stop").
func (in *Input) Name() string { return in.name }

// Pin returns the BCM pin number.
func (in *Input) Pin() int { return in.pin }

// ActiveLevel is the level the pin reads while the button is held.
func (in *Input) ActiveLevel() gpio.Level {
	if in.activeLow {
		return gpio.Low
	}
	return gpio.High
}

// Pressed reports whether the switch is mechanically closed right now.
// A read error counts as released.
func (in *Input) Pressed() bool {
	level, err := in.gpio.ReadPin(in.pin)
	if err != nil {
		debug.Error(fmt.Errorf("read %s button: %w", in.name, err))
		return false
	}
	return level == in.ActiveLevel()
}
