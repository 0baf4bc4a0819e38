// Command icemakerd runs the ice maker control core: the FSM loop, the
// sensor poller, the controller, and (in simulator mode) the physics
// loop, fronted by a minimal read-only HTTP status facade.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/theckman/yacspin"
	"periph.io/x/host/v3"

	"github.com/apophisnow/icemaker/config"
	"github.com/apophisnow/icemaker/controller"
	"github.com/apophisnow/icemaker/events"
	"github.com/apophisnow/icemaker/fsm"
	"github.com/apophisnow/icemaker/hal"
	"github.com/apophisnow/icemaker/hal/physical"
	"github.com/apophisnow/icemaker/hal/simulator"
	"github.com/apophisnow/icemaker/persistence"
	"github.com/apophisnow/icemaker/physics"
	"github.com/apophisnow/icemaker/sensor"
	"github.com/apophisnow/icemaker/server"
	"github.com/apophisnow/icemaker/util"
)

var (
	flagHost             = flag.String("host", "", "API bind host (overrides config)")
	flagPort             = flag.Int("port", 0, "API bind port (overrides config)")
	flagSimulator        = flag.Bool("simulator", false, "force the simulator HAL regardless of config/auto-detect")
	flagEnv              = flag.String("env", "", "environment name: development or production")
	flagLogLevel         = flag.String("log-level", "", "log level (overrides config)")
	flagNoAccessLog      = flag.Bool("no-access-log", false, "suppress HTTP access logging")
	flagLimitConcurrency = flag.Int("limit-concurrency", 0, "cap concurrent HTTP handlers (0 = unlimited)")
)

const (
	serialPort     = "/dev/ttyUSB0"
	serialBaud     = 9600
	taskDrainLimit = 2 * time.Second
)

func main() {
	flag.Parse()

	config.LoadDotenv(filepath.Join(".", ".env"))

	env := *flagEnv
	if env == "" {
		env = os.Getenv("ICEMAKER_ENV")
	}
	if env == "" {
		if config.IsRaspberryPi() {
			env = "production"
		} else {
			env = "development"
		}
	}
	envYAMLPath := env + ".yaml"

	cfg, err := config.Load(envYAMLPath, "runtime_config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "icemakerd: loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *flagHost != "" {
		cfg.APIHost = *flagHost
	}
	if *flagPort != 0 {
		cfg.APIPort = *flagPort
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}
	if *flagNoAccessLog {
		cfg.NoAccessLog = true
	}
	if *flagSimulator {
		cfg.UseSimulator = true
	}

	printBanner(env, cfg)

	store, err := persistence.NewStore(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "icemakerd: preparing data directory: %v\n", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	bus.Subscribe(events.ListenerFunc(logEvent))

	provider, machine, err := buildHAL(cfg, bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "icemakerd: initializing hardware: %v\n", err)
		os.Exit(1)
	}

	ctrl := controller.New(cfg, provider, bus, store)
	machine.Handler = ctrl
	ctrl.Bind(machine)
	if err := ctrl.Recover(); err != nil {
		fmt.Fprintf(os.Stderr, "icemakerd: recovering persisted state: %v\n", err)
	}

	stop := make(chan struct{})
	go runSensorPoll(provider, machine, bus, cfg.PollIntervalSeconds, stop)
	go machine.Run(stop)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	httpServer := &http.Server{Addr: addr, Handler: server.Routes(machine, bus, ctrl, cfg.NoAccessLog, *flagLimitConcurrency)}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "icemakerd: http server: %v\n", err)
		}
	}()

	waitForShutdown(httpServer, stop, provider)
}

// buildHAL wires either the physical provider or the simulator provider
// (plus its backing physics model and the FSM's lockstep clock source),
// depending on cfg.UseSimulator.
func buildHAL(cfg config.Config, bus *events.Bus) (hal.Provider, *fsm.Machine, error) {
	addrs := map[sensor.Name]string{
		sensor.Plate:  cfg.PlateSensorID,
		sensor.IceBin: cfg.BinSensorID,
	}

	if !cfg.UseSimulator {
		if _, err := host.Init(); err != nil {
			return nil, nil, err
		}
		provider, err := physical.New(serialPort, serialBaud, addrs)
		if err != nil {
			return nil, nil, err
		}
		if err := provider.Setup(); err != nil {
			return nil, nil, err
		}
		pollInterval := util.SecsToDuration(cfg.PollIntervalSeconds)
		return provider, fsm.NewWallClockMachine(nil, bus, pollInterval), nil
	}

	phys := physics.NewSimulator(physics.DefaultParameters())
	phys.SetSpeedMultiplier(cfg.SimulatorSpeed)
	provider := simulator.New(phys)
	if err := provider.Setup(); err != nil {
		return nil, nil, err
	}
	if err := provider.SetupSensors(addrs); err != nil {
		return nil, nil, err
	}

	machine := fsm.NewLockstepMachine(nil, bus, cfg.PollIntervalSeconds, phys.SimTimeSeconds)
	go runPhysicsLoop(phys)
	return provider, machine, nil
}

// runPhysicsLoop advances the physics model on a steady wallclock
// cadence; the simulator's own speed multiplier and lockstep Machine
// decouple this from the FSM's poll cadence.
func runPhysicsLoop(phys *physics.Simulator) {
	const tick = 100 * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for range ticker.C {
		phys.Update(tick.Seconds())
	}
}

// runSensorPoll reads both sensors at poll_interval_seconds, writes them
// into the FSM context (the only field the poller is allowed to touch
// per the concurrency model's field-disjoint split), and emits a
// TEMP_READING event per sensor so the bus carries every reading, not
// just the ones a state handler happens to act on.
func runSensorPoll(provider hal.Provider, machine *fsm.Machine, bus *events.Bus, intervalSeconds float64, stop <-chan struct{}) {
	interval := util.SecsToDuration(intervalSeconds)
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			readings := provider.ReadAllTemperatures()
			if r, ok := readings[sensor.Plate]; ok {
				machine.Ctx.PlateTempF = float64(r.Temperature)
			}
			if r, ok := readings[sensor.IceBin]; ok {
				machine.Ctx.BinTempF = float64(r.Temperature)
			}
			for name, r := range readings {
				bus.Emit(events.Event{Kind: events.TempReading, Sensor: name, TempF: float64(r.Temperature), Degraded: r.Degraded})
			}
		}
	}
}

func waitForShutdown(httpServer *http.Server, stop chan struct{}, provider hal.Provider) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), taskDrainLimit)
	defer cancel()
	httpServer.Shutdown(ctx)

	if err := provider.Cleanup(); err != nil {
		fmt.Fprintf(os.Stderr, "icemakerd: cleanup: %v\n", err)
	}
}

func logEvent(e events.Event) {
	if e.Err != nil {
		color.Red("[%s] %s: %v", e.Kind, e.Detail, e.Err)
		return
	}
	switch e.Kind {
	case events.RelayChanged:
		fmt.Printf("[%s] %s=%v\n", e.Kind, e.Relay, e.On)
	case events.TempReading:
		fmt.Printf("[%s] %s=%.1fF degraded=%v\n", e.Kind, e.Sensor, e.TempF, e.Degraded)
	default:
		fmt.Printf("[%s] %s%s\n", e.Kind, e.State, detailSuffix(e.Detail))
	}
}

func detailSuffix(detail string) string {
	if detail == "" {
		return ""
	}
	return " (" + detail + ")"
}

// printBanner prints the startup banner and, when priming is enabled,
// a brief spinner acknowledging that POWER_ON will run its three
// priming phases once start_icemaking is issued. It does not block on
// the priming duration itself — that timing lives entirely in the
// POWER_ON handler.
func printBanner(env string, cfg config.Config) {
	color.Cyan("icemakerd — environment=%s simulator=%v", env, cfg.UseSimulator)
	if !cfg.PrimingEnabled {
		return
	}

	spinnerCfg := yacspin.Config{
		Frequency:     100 * time.Millisecond,
		CharSet:       yacspin.CharSets[9],
		Suffix:        " priming enabled, water lines will flush on next start",
		StopCharacter: "✓",
		StopColors:    []string{"fgGreen"},
	}
	spinner, err := yacspin.New(spinnerCfg)
	if err != nil {
		return
	}
	spinner.Start()
	time.Sleep(300 * time.Millisecond)
	spinner.Stop()
}
