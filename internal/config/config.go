package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 64 * 1024

// ButtonConfig describes one push button input.
type ButtonConfig struct {
	Pin       int   `yaml:"pin"`        // BCM pin
	ActiveLow *bool `yaml:"active_low"` // closed switch pulls the pin to ground (default true)
}

// IsActiveLow reports the configured polarity, defaulting to active-low.
func (b ButtonConfig) IsActiveLow() bool {
	return b.ActiveLow == nil || *b.ActiveLow
}

// ButtonsConfig holds the two operator buttons.
type ButtonsConfig struct {
	Start ButtonConfig `yaml:"start"`
	Stop  ButtonConfig `yaml:"stop"`
}

// StepperConfig holds the coil wiring of the actuator.
type StepperConfig struct {
	CoilPins []int  `yaml:"coil_pins"` // A+, A-, B+, B- (BCM)
	Drive    string `yaml:"drive"`     // "wave" or "full"
}

// TimingConfig holds the scheduler and tick source parameters.
type TimingConfig struct {
	PollPeriodMs  int    `yaml:"poll_period_ms"`
	BounceTicks   int    `yaml:"bounce_ticks"`    // poll cycles a release must persist
	TimerClockHz  uint32 `yaml:"timer_clock_hz"`  // clock the move table's load counts refer to
	VirtualHoldMs int    `yaml:"virtual_hold_ms"` // how long a web press keeps a mock pin active
}

// DefaultsConfig contains generic runtime parameters.
type DefaultsConfig struct {
	DebugLevel  int    `yaml:"debug_level"`  // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO    bool   `yaml:"mock_gpio"`    // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	JournalPath string `yaml:"journal_path"` // bbolt file for the transition journal, empty disables it
}

// Config aggregates all application configuration.
type Config struct {
	Buttons  ButtonsConfig  `yaml:"buttons"`
	Stepper  StepperConfig  `yaml:"stepper"`
	Timing   TimingConfig   `yaml:"timing"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files directly inside a configs/
// directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if strings.Contains(filepath.ToSlash(path), "..") {
		return fmt.Errorf("config path %q must not contain ..", path)
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Buttons.Start.Pin <= 0 {
		return errors.New("buttons.start.pin is required")
	}
	if c.Buttons.Stop.Pin <= 0 {
		return errors.New("buttons.stop.pin is required")
	}
	if c.Buttons.Start.Pin == c.Buttons.Stop.Pin {
		return fmt.Errorf("buttons.start.pin and buttons.stop.pin share pin %d", c.Buttons.Start.Pin)
	}

	if len(c.Stepper.CoilPins) != 4 {
		return fmt.Errorf("stepper.coil_pins needs 4 pins (A+, A-, B+, B-), got %d", len(c.Stepper.CoilPins))
	}
	seen := map[int]bool{c.Buttons.Start.Pin: true, c.Buttons.Stop.Pin: true}
	for _, p := range c.Stepper.CoilPins {
		if p <= 0 {
			return fmt.Errorf("stepper.coil_pins: invalid pin %d", p)
		}
		if seen[p] {
			return fmt.Errorf("stepper.coil_pins: pin %d is already in use", p)
		}
		seen[p] = true
	}
	switch c.Stepper.Drive {
	case "":
		c.Stepper.Drive = "full"
	case "wave", "full":
	default:
		return fmt.Errorf("stepper.drive must be wave or full, got %q", c.Stepper.Drive)
	}

	if c.Timing.PollPeriodMs <= 0 {
		c.Timing.PollPeriodMs = 10
	}
	if c.Timing.PollPeriodMs > 1000 {
		return fmt.Errorf("timing.poll_period_ms must be <= 1000, got %d", c.Timing.PollPeriodMs)
	}
	if c.Timing.BounceTicks <= 0 {
		c.Timing.BounceTicks = 50
	}
	if c.Timing.TimerClockHz == 0 {
		c.Timing.TimerClockHz = 10485760 // PIT bus clock
	}
	if c.Timing.VirtualHoldMs <= 0 {
		c.Timing.VirtualHoldMs = 100
	}
	if c.Timing.VirtualHoldMs > 5000 {
		return fmt.Errorf("timing.virtual_hold_ms must be <= 5000, got %d", c.Timing.VirtualHoldMs)
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// PollPeriod returns the scheduler cycle.
func (c *Config) PollPeriod() time.Duration {
	return time.Duration(c.Timing.PollPeriodMs) * time.Millisecond
}

// VirtualHold returns how long a virtual button press stays closed.
func (c *Config) VirtualHold() time.Duration {
	return time.Duration(c.Timing.VirtualHoldMs) * time.Millisecond
}

// CoilPins returns the four coil pins in sequence order.
func (c *Config) CoilPins() [4]int {
	var pins [4]int
	copy(pins[:], c.Stepper.CoilPins)
	return pins
}
