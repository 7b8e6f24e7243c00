package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/StepSeq/internal/config"
	"github.com/cjeanneret/StepSeq/internal/debug"
	"github.com/cjeanneret/StepSeq/internal/hw/button"
	"github.com/cjeanneret/StepSeq/internal/hw/gpio"
	"github.com/cjeanneret/StepSeq/internal/hw/pit"
	"github.com/cjeanneret/StepSeq/internal/hw/stepper"
	"github.com/cjeanneret/StepSeq/internal/journal"
	"github.com/cjeanneret/StepSeq/internal/logic/cycle"
	"github.com/cjeanneret/StepSeq/internal/logic/debounce"
	"github.com/cjeanneret/StepSeq/internal/logic/motion"
	"github.com/cjeanneret/StepSeq/internal/logic/moves"
	"github.com/cjeanneret/StepSeq/internal/metrics"
	"github.com/cjeanneret/StepSeq/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	debugLevel := &debugFlag{}
	flag.Var(debugLevel, "debug", "override debug level (0-4)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	debugLevel.apply(cfg)

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)

	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	sys, err := newSystem(cfg, gpioDriver, webPort.port() > 0)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer sys.close()

	if err := sys.run(ctx, webPort.port()); err != nil {
		log.Fatalf("stepseq: %v", err)
	}
}

// system is the wired controller: hardware shims, control core and the
// optional observers.
type system struct {
	cfg         *config.Config
	motor       *stepper.Motor
	start, stop *button.Input
	timer       *pit.Timer
	ctrl        *motion.Controller
	sched       *cycle.Scheduler
	metrics     *metrics.Collector
	journal     *journal.Journal
	broadcaster *web.StatusBroadcaster
	panel       *button.Panel
}

// newSystem builds every component on g. The tick timer and poll loop
// are created but not started.
func newSystem(cfg *config.Config, g gpio.Driver, withWeb bool) (*system, error) {
	s := &system{cfg: cfg}

	debug.Step(2, "Initializing buttons")
	var err error
	s.start, err = button.NewInput(g, "start", cfg.Buttons.Start.Pin, cfg.Buttons.Start.IsActiveLow())
	if err != nil {
		return nil, err
	}
	s.stop, err = button.NewInput(g, "stop", cfg.Buttons.Stop.Pin, cfg.Buttons.Stop.IsActiveLow())
	if err != nil {
		return nil, err
	}
	debug.PrintStruct("Buttons config", cfg.Buttons)

	debug.Step(3, "Initializing stepper driver")
	drive, err := stepper.ParseDrive(cfg.Stepper.Drive)
	if err != nil {
		return nil, err
	}
	s.motor, err = stepper.NewMotor(g, stepper.Config{CoilPins: cfg.CoilPins(), Drive: drive})
	if err != nil {
		return nil, fmt.Errorf("init stepper: %w", err)
	}
	debug.PrintStruct("Stepper config", cfg.Stepper)

	debug.Step(4, "Wiring control loop")
	shared := &motion.Shared{}
	handler := motion.NewStepHandler(s.motor, shared)
	s.timer = pit.New(cfg.Timing.TimerClockHz, handler.Tick)
	s.ctrl = motion.NewController(s.motor, s.timer, moves.NewSequencer(nil), shared)
	s.sched = cycle.New(cfg.PollPeriod(),
		cycle.Button{Input: s.start, Monitor: debounce.New("start", uint32(cfg.Timing.BounceTicks))},
		cycle.Button{Input: s.stop, Monitor: debounce.New("stop", uint32(cfg.Timing.BounceTicks))},
		s.ctrl)
	logMoveTable(s.timer)

	s.metrics = metrics.New(true)
	s.ctrl.AddObserver(s.metrics)
	handler.OnTick(s.metrics.Tick)
	s.sched.OnEdge(s.metrics.Edge)

	if path := cfg.Defaults.JournalPath; path != "" {
		s.journal, err = journal.Open(path, journal.DefaultBuffer)
		if err != nil {
			if rerr := s.motor.Release(); rerr != nil {
				debug.Error(fmt.Errorf("release coils: %w", rerr))
			}
			return nil, err
		}
		s.ctrl.AddObserver(s.journal)
	}

	if withWeb {
		s.broadcaster = web.NewStatusBroadcaster()
		s.ctrl.AddObserver(s.broadcaster)
		if mock, ok := g.(*gpio.MockDriver); ok {
			s.panel = button.NewPanel(mock, cfg.VirtualHold(), s.start, s.stop)
		}
	}
	return s, nil
}

// run starts the tick timer, the poll loop and, when port > 0, the web
// server. It returns when ctx is cancelled or one of them fails.
func (s *system) run(ctx context.Context, port int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.timer.Run(ctx) })
	g.Go(func() error { return s.sched.Run(ctx) })

	if port > 0 && s.broadcaster != nil {
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(s.broadcaster)))
		srv := web.NewServer(fmt.Sprintf(":%d", port), s.ctrl, s.broadcaster)
		h := srv.Handlers()
		h.Metrics = s.metrics.Handler()
		if s.journal != nil {
			h.History = s.journal
		}
		if s.panel != nil {
			h.Buttons = s.panel
		}
		g.Go(func() error { return srv.Run(ctx) })
	}

	debug.Summary("StepSeq ready: press start")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		debug.Error(fmt.Errorf("sd_notify: %w", err))
	}
	err := g.Wait()
	if _, nerr := daemon.SdNotify(false, daemon.SdNotifyStopping); nerr != nil {
		debug.Error(fmt.Errorf("sd_notify: %w", nerr))
	}
	return err
}

// close stops stepping and de-energizes the coils.
func (s *system) close() {
	s.timer.Pause()
	s.motor.CommandStop()
	if err := s.motor.Release(); err != nil {
		log.Printf("release coils failed: %v", err)
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			log.Printf("closing journal failed: %v", err)
		}
	}
	debug.Info("Stopped after %s poll cycles", humanize.Comma(int64(s.sched.Cycles())))
}

func logMoveTable(t *pit.Timer) {
	if !debug.IsEnabled(debug.LevelVerbose) {
		return
	}
	debug.Section("Move table")
	for id := moves.Move1; id <= moves.Count; id++ {
		m := moves.DefaultTable.Get(id)
		period := t.Period(m.TickPeriod)
		debug.Verbose("Move %d: %s steps %s, tick %v, %v total",
			id, humanize.Comma(int64(m.StepCount)), m.Direction, period, period*time.Duration(m.StepCount))
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// debugFlag overrides defaults.debug_level when set.
type debugFlag struct {
	val int
	set bool
}

func (d *debugFlag) String() string {
	if !d.set {
		return ""
	}
	return strconv.Itoa(d.val)
}

func (d *debugFlag) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v < debug.LevelOff || v > debug.LevelTrace {
		return fmt.Errorf("debug level must be 0-4, got %d", v)
	}
	d.val, d.set = v, true
	return nil
}

func (d *debugFlag) apply(cfg *config.Config) {
	if d.set {
		cfg.Defaults.DebugLevel = d.val
	}
}
