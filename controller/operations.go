package controller

import (
	"log"

	"github.com/apophisnow/icemaker/events"
	"github.com/apophisnow/icemaker/fsm"
	"github.com/apophisnow/icemaker/relay"
)

// Recover restores lifetime cycle count and, if the ice-making-active
// presence file exists (power-loss recovery), invokes start_icemaking:
// with priming disabled that forces OFF → CHILL at once, with priming
// enabled it queues POWER_ON for the Machine's first tick. Call once
// after Bind, before Machine.Run starts.
func (c *Controller) Recover() error {
	n, err := c.store.LoadCycleCount()
	if err != nil {
		return err
	}
	c.machine.Ctx.LifetimeCycleCount = n

	if c.store.IceMakingActive() {
		log.Print("controller: ice_making_active flag present at start, resuming cycle")
		c.bus.Emit(events.Event{Kind: events.Recovered, Detail: "power-loss recovery"})
		c.StartIcemaking()
	}
	return nil
}

// StartIcemaking queues the start-of-cycle transition per current
// state:
//   - OFF, priming enabled: → POWER_ON (table-validated).
//   - OFF, priming disabled: → CHILL directly. The transition table does
//     not permit OFF → CHILL (only POWER_ON, STANDBY, SHUTDOWN,
//     DIAGNOSTIC); this single lifecycle shortcut is applied with
//     ForceTransition, the same bypass emergency_stop uses, rather than
//     widening the table for every caller.
//   - STANDBY, IDLE: → CHILL (table-validated).
func (c *Controller) StartIcemaking() {
	ctx := c.machine.Ctx
	cfg := c.config()

	if err := c.store.SetIceMakingActive(true); err != nil {
		log.Printf("controller: setting ice_making_active flag: %v", err)
	}
	ctx.IceMakingActive = true
	c.bus.Emit(events.Event{Kind: events.StartCycle})

	switch c.machine.State {
	case fsm.Off:
		if cfg.PrimingEnabled {
			c.setRequest(fsm.PowerOn)
			return
		}
		ctx.ChillMode = fsm.Prechill
		ctx.CycleStartWallclock = ctx.StateEnterWallclock
		ctx.CycleStartSimtime = ctx.StateEnterSimtime
		c.machine.ForceTransition(fsm.Chill)
	case fsm.Standby, fsm.Idle:
		ctx.ChillMode = fsm.Prechill
		ctx.CycleStartWallclock = ctx.StateEnterWallclock
		ctx.CycleStartSimtime = ctx.StateEnterSimtime
		c.setRequest(fsm.Chill)
	default:
		log.Printf("controller: start_icemaking ignored in state %s", c.machine.State)
	}
}

// StartPriming runs the three POWER_ON priming phases without arming a
// start_icemaking cycle: an operator flushing and filling the water
// lines ahead of time. Only valid from OFF; on completion the POWER_ON
// handler dispatches to STANDBY rather than CHILL, per spec.md §4.6's
// "→STANDBY (when operator-initiated priming)" branch.
func (c *Controller) StartPriming() {
	if c.machine.State != fsm.Off {
		log.Printf("controller: start_priming ignored in state %s", c.machine.State)
		return
	}
	c.setOperatorPriming()
	c.setRequest(fsm.PowerOn)
}

// PowerOff stops ice making. From STANDBY/IDLE/ERROR it requests an
// immediate transition to OFF. From CHILL/ICE/HEAT it only sets
// ShutdownRequested, honored by the CHILL handler at the next rechill
// completion. The ice-making-active flag is cleared either way.
func (c *Controller) PowerOff() {
	if err := c.store.SetIceMakingActive(false); err != nil {
		log.Printf("controller: clearing ice_making_active flag: %v", err)
	}
	c.machine.Ctx.IceMakingActive = false
	c.bus.Emit(events.Event{Kind: events.StopCycle})

	switch c.machine.State {
	case fsm.Standby, fsm.Idle, fsm.ErrorState:
		c.setRequest(fsm.Off)
	case fsm.Chill, fsm.Ice, fsm.Heat:
		c.machine.Ctx.ShutdownRequested = true
	default:
		log.Printf("controller: power_off ignored in state %s", c.machine.State)
	}
}

// EmergencyStop forces every relay OFF and forces the FSM to OFF from
// any state, bypassing the transition table entirely, then clears the
// ice-making-active flag and emits EMERGENCY_STOP.
func (c *Controller) EmergencyStop() {
	c.setRelays(relay.AllOff())
	c.machine.ForceTransition(fsm.Off)

	if err := c.store.SetIceMakingActive(false); err != nil {
		log.Printf("controller: clearing ice_making_active flag: %v", err)
	}
	c.machine.Ctx.IceMakingActive = false
	c.bus.Emit(events.Event{Kind: events.EmergencyStop})
}

// EnterDiagnostic requests DIAGNOSTIC; only valid from OFF per the
// transition table. Relay commands while in DIAGNOSTIC are issued only
// by direct external calls to the HAL, not by the handler.
func (c *Controller) EnterDiagnostic() {
	if c.machine.State != fsm.Off {
		log.Printf("controller: enter_diagnostic ignored in state %s", c.machine.State)
		return
	}
	c.setRequest(fsm.Diagnostic)
}

// ExitDiagnostic requests OFF from DIAGNOSTIC, driving all relays off
// on the way out.
func (c *Controller) ExitDiagnostic() {
	if c.machine.State != fsm.Diagnostic {
		log.Printf("controller: exit_diagnostic ignored in state %s", c.machine.State)
		return
	}
	c.setRequest(fsm.Off)
}
