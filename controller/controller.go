// Package controller implements the ice-making protocol: one handler per
// FSM state, each setting the full relay matrix from scratch and then
// evaluating the guards that decide the next state (DIAGNOSTIC is the
// exception: it leaves relays alone until it exits). Controller
// implements fsm.Handler so a fsm.Machine can drive it directly.
package controller

import (
	"log"
	"sync"

	"github.com/apophisnow/icemaker/config"
	"github.com/apophisnow/icemaker/events"
	"github.com/apophisnow/icemaker/fsm"
	"github.com/apophisnow/icemaker/hal"
	"github.com/apophisnow/icemaker/persistence"
	"github.com/apophisnow/icemaker/relay"
)

// Controller owns the HAL handle, the physics simulator's lifecycle is
// out of its scope (bound externally via the clock passed to the
// Machine), the event bus, and the persistence paths, per the ownership
// split in the data model.
type Controller struct {
	mu sync.Mutex

	cfg   config.Config
	hal   hal.Provider
	bus   *events.Bus
	store *persistence.Store

	// machine is set via Bind after both are constructed, so Controller
	// can issue ForceTransition for the two lifecycle operations the
	// transition table cannot express directly (emergency_stop, and
	// start_icemaking from OFF with priming disabled).
	machine *fsm.Machine

	// requested is a pending externally-requested transition (from
	// start_icemaking, start_priming, power_off, enter/exit diagnostic)
	// consulted by the current state's handler on the next Advance call,
	// after it has written its relay matrix (SHUTDOWN never consults it;
	// POWER_ON only once priming completes), and validated through the
	// normal transition table.
	requested  fsm.State
	hasRequest bool

	// operatorPriming marks a POWER_ON run entered via StartPriming
	// (operator-initiated priming, not part of a start_icemaking cycle),
	// so handlePowerOn dispatches to STANDBY instead of CHILL once the
	// three priming phases complete.
	operatorPriming bool
}

// New builds a Controller against the given configuration, HAL
// provider, event bus, and persistence store. Call Bind once the owning
// Machine exists.
func New(cfg config.Config, h hal.Provider, bus *events.Bus, store *persistence.Store) *Controller {
	return &Controller{cfg: cfg, hal: h, bus: bus, store: store}
}

// Bind attaches the Machine this Controller drives. Must be called
// before the Machine's Run loop starts.
func (c *Controller) Bind(m *fsm.Machine) {
	c.machine = m
}

// UpdateConfig replaces the live configuration record, e.g. after a
// runtime overlay reload.
func (c *Controller) UpdateConfig(cfg config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

func (c *Controller) config() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Advance implements fsm.Handler. It sets the full relay matrix for the
// current state first (except in DIAGNOSTIC, which writes relays only on
// exit), then evaluates that state's guards (plus any pending
// externally-requested transition) to decide the next state.
func (c *Controller) Advance(ctx *fsm.Context) (fsm.State, bool) {
	cfg := c.config()

	switch ctx.CurrentState {
	case fsm.Off:
		return c.handleOff(ctx)
	case fsm.Standby:
		return c.handleStandby(ctx, cfg)
	case fsm.Idle:
		return c.handleIdle(ctx, cfg)
	case fsm.PowerOn:
		return c.handlePowerOn(ctx, cfg)
	case fsm.Chill:
		return c.handleChill(ctx, cfg)
	case fsm.Ice:
		return c.handleIce(ctx, cfg)
	case fsm.Heat:
		return c.handleHeat(ctx, cfg)
	case fsm.ErrorState:
		return c.handleError(ctx)
	case fsm.Shutdown:
		return c.handleShutdown(ctx)
	case fsm.Diagnostic:
		return c.handleDiagnostic(ctx)
	default:
		log.Printf("controller: unknown state %q, holding all relays off", ctx.CurrentState)
		c.setRelays(relay.AllOff())
		return "", false
	}
}

// setRelays writes a full relay matrix through the HAL, logging but not
// propagating individual write failures (transient hardware faults are
// operator-observable via events only, per the error taxonomy). A
// RELAY_CHANGED event fires only for lines whose logical state actually
// flips; writing a relay to the value it already holds is silent, per
// invariant I5.
func (c *Controller) setRelays(m relay.Matrix) {
	for _, name := range relay.All {
		on, ok := m[name]
		if !ok {
			on = false
		}
		before := c.hal.GetRelay(name)
		if err := c.hal.SetRelay(name, on); err != nil {
			log.Printf("controller: set_relay(%s, %v): %v", name, on, err)
			continue
		}
		if before != on {
			c.bus.Emit(events.Event{Kind: events.RelayChanged, Relay: name, On: on})
		}
	}
}

// binFull reports whether the ice bin has reached its fill line: the
// bin sensor reading strictly below the threshold.
func binFull(ctx *fsm.Context, cfg config.Config) bool {
	return ctx.BinTempF < cfg.BinFullThresholdF
}

// popRequest returns and clears a pending externally-requested
// transition, if any.
func (c *Controller) popRequest() (fsm.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasRequest {
		return "", false
	}
	c.hasRequest = false
	return c.requested, true
}

func (c *Controller) setRequest(s fsm.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requested = s
	c.hasRequest = true
}

// setOperatorPriming arms the POWER_ON → STANDBY dispatch consulted by
// handlePowerOn once priming completes.
func (c *Controller) setOperatorPriming() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operatorPriming = true
}

// popOperatorPriming returns and clears the operator-priming flag.
func (c *Controller) popOperatorPriming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.operatorPriming
	c.operatorPriming = false
	return v
}

func (c *Controller) handleOff(ctx *fsm.Context) (fsm.State, bool) {
	ctx.ShutdownRequested = false
	ctx.IceMakingActive = false
	ctx.TargetTempF = 0
	c.setRelays(relay.AllOff())

	if s, ok := c.popRequest(); ok {
		return s, true
	}
	if err := c.store.SetIceMakingActive(false); err != nil {
		log.Printf("controller: clearing ice_making_active flag: %v", err)
	}
	return "", false
}

func (c *Controller) handleStandby(ctx *fsm.Context, cfg config.Config) (fsm.State, bool) {
	ctx.TargetTempF = 0
	m := relay.AllOff()
	m[relay.IceCutter] = true
	c.setRelays(m)

	if s, ok := c.popRequest(); ok {
		return s, true
	}
	if ctx.TimeInState() >= cfg.StandbyTimeoutSeconds {
		return fsm.Off, true
	}
	return "", false
}

func (c *Controller) handleIdle(ctx *fsm.Context, cfg config.Config) (fsm.State, bool) {
	ctx.TargetTempF = 0
	c.setRelays(relay.AllOff())

	if s, ok := c.popRequest(); ok {
		return s, true
	}
	if !binFull(ctx, cfg) {
		c.bus.Emit(events.Event{Kind: events.BinNotFull})
		ctx.ChillMode = fsm.Prechill
		ctx.CycleStartWallclock = ctx.StateEnterWallclock
		ctx.CycleStartSimtime = ctx.StateEnterSimtime
		return fsm.Chill, true
	}
	return "", false
}

func (c *Controller) handlePowerOn(ctx *fsm.Context, cfg config.Config) (fsm.State, bool) {
	ctx.TargetTempF = 0
	elapsed := ctx.TimeInState()
	flush := cfg.Priming.FlushSeconds
	pump := cfg.Priming.PumpSeconds
	fill := cfg.Priming.FillSeconds

	m := relay.AllOff()
	switch {
	case elapsed < flush:
		m[relay.WaterValve] = true
	case elapsed < flush+pump:
		m[relay.RecirculatingPump] = true
	case elapsed < flush+pump+fill:
		m[relay.WaterValve] = true
	}
	c.setRelays(m)

	if elapsed >= flush+pump+fill {
		if c.popOperatorPriming() {
			return fsm.Standby, true
		}
		ctx.ChillMode = fsm.Prechill
		if s, ok := c.popRequest(); ok {
			return s, true
		}
		return fsm.Chill, true
	}
	return "", false
}

func (c *Controller) handleChill(ctx *fsm.Context, cfg config.Config) (fsm.State, bool) {
	m := relay.Matrix{
		relay.Compressor1:       true,
		relay.Compressor2:       true,
		relay.CondenserFan:      true,
		relay.IceCutter:         true,
		relay.HotGasSolenoid:    false,
		relay.WaterValve:        false,
		relay.RecirculatingPump: false,
	}
	c.setRelays(m)

	timing := cfg.Prechill
	if ctx.ChillMode == fsm.Rechill {
		timing = cfg.Rechill
	}
	ctx.TargetTempF = timing.TargetTempF

	reachedTarget := ctx.PlateTempF <= timing.TargetTempF
	timedOut := ctx.TimeInState() > timing.TimeoutSeconds

	if s, ok := c.popRequest(); ok {
		return s, true
	}
	if !reachedTarget && !timedOut {
		return "", false
	}

	switch ctx.ChillMode {
	case fsm.Prechill:
		ctx.ChillMode = fsm.NoChillMode
		ctx.CycleStartWallclock = ctx.StateEnterWallclock
		ctx.CycleStartSimtime = ctx.StateEnterSimtime
		return fsm.Ice, true
	case fsm.Rechill:
		ctx.ChillMode = fsm.NoChillMode
		ctx.SessionCycleCount++
		ctx.LifetimeCycleCount++
		if err := c.store.SaveCycleCount(ctx.LifetimeCycleCount); err != nil {
			log.Printf("controller: persisting lifetime cycle count: %v", err)
		}
		c.bus.Emit(events.Event{Kind: events.CycleComplete, Detail: "rechill complete"})

		if ctx.ShutdownRequested {
			return fsm.Standby, true
		}
		if binFull(ctx, cfg) {
			c.bus.Emit(events.Event{Kind: events.BinFull})
			return fsm.Idle, true
		}
		ctx.ChillMode = fsm.Prechill
		ctx.CycleStartWallclock = ctx.StateEnterWallclock
		ctx.CycleStartSimtime = ctx.StateEnterSimtime
		return fsm.Ice, true
	default:
		// reached here with no sub-mode attached (shouldn't happen in
		// practice); treat like prechill completion.
		ctx.CycleStartWallclock = ctx.StateEnterWallclock
		ctx.CycleStartSimtime = ctx.StateEnterSimtime
		return fsm.Ice, true
	}
}

func (c *Controller) handleIce(ctx *fsm.Context, cfg config.Config) (fsm.State, bool) {
	ctx.TargetTempF = cfg.IceMaking.TargetTempF
	m := relay.Matrix{
		relay.Compressor1:       true,
		relay.Compressor2:       true,
		relay.CondenserFan:      true,
		relay.IceCutter:         true,
		relay.RecirculatingPump: true,
		relay.HotGasSolenoid:    false,
		relay.WaterValve:        false,
	}
	c.setRelays(m)

	if s, ok := c.popRequest(); ok {
		return s, true
	}
	if ctx.PlateTempF <= cfg.IceMaking.TargetTempF || ctx.TimeInState() > cfg.IceMaking.TimeoutSeconds {
		return fsm.Heat, true
	}
	return "", false
}

func (c *Controller) handleHeat(ctx *fsm.Context, cfg config.Config) (fsm.State, bool) {
	ctx.TargetTempF = cfg.Harvest.TargetTempF
	elapsed := ctx.TimeInState()
	m := relay.Matrix{
		relay.Compressor1:       true,
		relay.Compressor2:       true,
		relay.HotGasSolenoid:    true,
		relay.IceCutter:         true,
		relay.CondenserFan:      false,
		relay.RecirculatingPump: false,
		relay.WaterValve:        elapsed < cfg.Harvest.FillTimeSeconds,
	}
	c.setRelays(m)

	if s, ok := c.popRequest(); ok {
		return s, true
	}
	if ctx.PlateTempF >= cfg.Harvest.TargetTempF || elapsed > cfg.Harvest.TimeoutSeconds {
		ctx.ChillMode = fsm.Rechill
		return fsm.Chill, true
	}
	return "", false
}

func (c *Controller) handleError(ctx *fsm.Context) (fsm.State, bool) {
	ctx.TargetTempF = 0
	c.setRelays(relay.AllOff())
	if s, ok := c.popRequest(); ok {
		return s, true
	}
	return "", false
}

func (c *Controller) handleShutdown(ctx *fsm.Context) (fsm.State, bool) {
	ctx.TargetTempF = 0
	c.setRelays(relay.AllOff())
	return fsm.Off, true
}

func (c *Controller) handleDiagnostic(ctx *fsm.Context) (fsm.State, bool) {
	ctx.TargetTempF = 0
	if s, ok := c.popRequest(); ok {
		c.setRelays(relay.AllOff())
		return s, true
	}
	return "", false
}
