package controller_test

import (
	"testing"
	"time"

	"github.com/apophisnow/icemaker/config"
	"github.com/apophisnow/icemaker/controller"
	"github.com/apophisnow/icemaker/events"
	"github.com/apophisnow/icemaker/fsm"
	"github.com/apophisnow/icemaker/persistence"
	"github.com/apophisnow/icemaker/relay"
	"github.com/apophisnow/icemaker/sensor"
)

type fakeHAL struct {
	relays relay.Matrix
}

func newFakeHAL() *fakeHAL { return &fakeHAL{relays: relay.AllOff()} }

func (f *fakeHAL) Setup() error                 { f.relays = relay.AllOff(); return nil }
func (f *fakeHAL) SetRelay(n relay.Name, on bool) error { f.relays[n] = on; return nil }
func (f *fakeHAL) GetRelay(n relay.Name) bool    { return f.relays[n] }
func (f *fakeHAL) GetAllRelays() relay.Matrix {
	out := make(relay.Matrix, len(f.relays))
	for k, v := range f.relays {
		out[k] = v
	}
	return out
}
func (f *fakeHAL) Cleanup() error { f.relays = relay.AllOff(); return nil }

func (f *fakeHAL) SetupSensors(map[sensor.Name]string) error { return nil }
func (f *fakeHAL) ReadTemperature(name sensor.Name) sensor.Reading {
	return sensor.Reading{Name: name, Temperature: sensor.FallbackTemp}
}
func (f *fakeHAL) ReadAllTemperatures() map[sensor.Name]sensor.Reading { return nil }

func newTestController(t *testing.T) (*controller.Controller, *fakeHAL, *fsm.Machine) {
	t.Helper()
	h := newFakeHAL()
	bus := events.NewBus()
	store, err := persistence.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := controller.New(config.Defaults(), h, bus, store)
	m := fsm.NewWallClockMachine(c, bus, time.Hour)
	c.Bind(m)
	return c, h, m
}

func newTestControllerWithBus(t *testing.T) (*controller.Controller, *fakeHAL, *fsm.Machine, *events.Bus) {
	t.Helper()
	h := newFakeHAL()
	bus := events.NewBus()
	store, err := persistence.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := controller.New(config.Defaults(), h, bus, store)
	m := fsm.NewWallClockMachine(c, bus, time.Hour)
	c.Bind(m)
	return c, h, m, bus
}

func TestOffHandlerHoldsAllRelaysOff(t *testing.T) {
	c, h, m := newTestController(t)
	m.Ctx.CurrentState = fsm.Off
	m.Ctx.Clock = fsm.NewSystemClock()

	next, transition := c.Advance(m.Ctx)
	if transition {
		t.Errorf("expected OFF to remain without a pending request, got transition to %s", next)
	}
	for _, n := range relay.All {
		if h.GetRelay(n) {
			t.Errorf("relay %s should be off in OFF state", n)
		}
	}
}

func TestStandbyHoldsIceCutterOn(t *testing.T) {
	c, h, m := newTestController(t)
	m.Ctx.CurrentState = fsm.Standby
	m.Ctx.Clock = fsm.NewSystemClock()

	c.Advance(m.Ctx)
	if !h.GetRelay(relay.IceCutter) {
		t.Error("ice_cutter should stay on in STANDBY")
	}
	if h.GetRelay(relay.Compressor1) {
		t.Error("compressor_1 should be off in STANDBY")
	}
}

func TestChillPrechillTransitionsToIceAtTarget(t *testing.T) {
	c, _, m := newTestController(t)
	m.Ctx.CurrentState = fsm.Chill
	m.Ctx.Clock = fsm.NewSystemClock()
	m.Ctx.ChillMode = fsm.Prechill
	m.Ctx.PlateTempF = 31.0 // below the 32F prechill target

	next, transition := c.Advance(m.Ctx)
	if !transition || next != fsm.Ice {
		t.Errorf("expected transition to ICE, got %v %v", next, transition)
	}
	if m.Ctx.ChillMode != fsm.NoChillMode {
		t.Error("chill mode should be cleared on prechill completion")
	}
}

func TestHarvestValveClosesAfterFillTime(t *testing.T) {
	c, h, m := newTestController(t)
	cfg := config.Defaults()
	m.Ctx.CurrentState = fsm.Heat
	m.Ctx.Clock = fsm.NewSystemClock()
	m.Ctx.StateEnterWallclock = m.Ctx.Clock.Now() - (cfg.Harvest.FillTimeSeconds + 1)
	m.Ctx.PlateTempF = 20 // well below harvest target so no transition yet

	c.Advance(m.Ctx)
	if h.GetRelay(relay.WaterValve) {
		t.Error("water_valve should be closed once fill_time has elapsed")
	}
	if !h.GetRelay(relay.HotGasSolenoid) {
		t.Error("hot_gas should remain on throughout HEAT")
	}
}

func TestEmergencyStopForcesOffFromAnyState(t *testing.T) {
	c, h, m := newTestController(t)
	m.State = fsm.Ice
	m.Ctx.CurrentState = fsm.Ice

	c.EmergencyStop()

	if m.State != fsm.Off {
		t.Errorf("expected state OFF after emergency stop, got %s", m.State)
	}
	for _, n := range relay.All {
		if h.GetRelay(n) {
			t.Errorf("relay %s should be off after emergency stop", n)
		}
	}
}

func TestStartIcemakingFromOffWithPrimingDisabledGoesDirectToChill(t *testing.T) {
	c, _, m := newTestController(t)
	m.State = fsm.Off
	m.Ctx.CurrentState = fsm.Off

	c.StartIcemaking()

	if m.State != fsm.Chill {
		t.Errorf("expected CHILL, got %s", m.State)
	}
	if m.Ctx.ChillMode != fsm.Prechill {
		t.Errorf("expected prechill mode, got %s", m.Ctx.ChillMode)
	}
}

func TestSetRelaysEmitsRelayChangedOnlyOnActualFlip(t *testing.T) {
	c, _, m, bus := newTestControllerWithBus(t)
	var changed []events.Event
	bus.Subscribe(events.ListenerFunc(func(e events.Event) {
		if e.Kind == events.RelayChanged {
			changed = append(changed, e)
		}
	}))

	m.Ctx.CurrentState = fsm.Standby
	m.Ctx.Clock = fsm.NewSystemClock()

	c.Advance(m.Ctx) // all relays start off; ice_cutter flips on
	firstCount := len(changed)
	if firstCount == 0 {
		t.Fatal("expected at least one RELAY_CHANGED event on first entry to STANDBY")
	}

	c.Advance(m.Ctx) // same matrix again; nothing should flip
	if len(changed) != firstCount {
		t.Errorf("expected no additional RELAY_CHANGED events when relay states are unchanged, got %d new", len(changed)-firstCount)
	}
}

func TestIdleEmitsBinNotFullBeforeTransitioningToChill(t *testing.T) {
	c, _, m, bus := newTestControllerWithBus(t)
	var sawBinNotFull bool
	bus.Subscribe(events.ListenerFunc(func(e events.Event) {
		if e.Kind == events.BinNotFull {
			sawBinNotFull = true
		}
	}))

	m.Ctx.CurrentState = fsm.Idle
	m.Ctx.Clock = fsm.NewSystemClock()
	m.Ctx.BinTempF = 50 // well above bin_full_threshold_f, i.e. not full

	next, transition := c.Advance(m.Ctx)
	if !transition || next != fsm.Chill {
		t.Fatalf("expected transition to CHILL, got %v %v", next, transition)
	}
	if !sawBinNotFull {
		t.Error("expected a BIN_NOT_FULL event before the IDLE -> CHILL transition")
	}
}

func TestTargetTempFPopulatedDuringThermalStates(t *testing.T) {
	c, _, m := newTestController(t)
	cfg := config.Defaults()
	m.Ctx.CurrentState = fsm.Ice
	m.Ctx.Clock = fsm.NewSystemClock()
	m.Ctx.PlateTempF = 20

	c.Advance(m.Ctx)
	if m.Ctx.TargetTempF != cfg.IceMaking.TargetTempF {
		t.Errorf("expected TargetTempF=%v in ICE, got %v", cfg.IceMaking.TargetTempF, m.Ctx.TargetTempF)
	}
}

func TestTargetTempFClearedInOff(t *testing.T) {
	c, _, m := newTestController(t)
	m.Ctx.CurrentState = fsm.Off
	m.Ctx.Clock = fsm.NewSystemClock()
	m.Ctx.TargetTempF = 32.0

	c.Advance(m.Ctx)
	if m.Ctx.TargetTempF != 0 {
		t.Errorf("expected TargetTempF cleared in OFF, got %v", m.Ctx.TargetTempF)
	}
}

func TestStartPrimingCompletesToStandbyNotChill(t *testing.T) {
	c, _, m := newTestController(t)
	cfg := config.Defaults()
	m.State = fsm.Off
	m.Ctx.CurrentState = fsm.Off
	m.Ctx.Clock = fsm.NewSystemClock()

	c.StartPriming()
	next, transition := c.Advance(m.Ctx) // OFF -> POWER_ON via the pending request
	if !transition || next != fsm.PowerOn {
		t.Fatalf("expected OFF -> POWER_ON, got %v %v", next, transition)
	}
	m.State = fsm.PowerOn
	m.Ctx.CurrentState = fsm.PowerOn
	m.Ctx.StateEnterWallclock = m.Ctx.Clock.Now() - (cfg.Priming.FlushSeconds + cfg.Priming.PumpSeconds + cfg.Priming.FillSeconds + 1)

	next, transition = c.Advance(m.Ctx)
	if !transition || next != fsm.Standby {
		t.Errorf("expected operator-initiated priming to complete to STANDBY, got %v %v", next, transition)
	}
}

func TestPowerOffFromChillSetsShutdownRequestedNotImmediateOff(t *testing.T) {
	c, _, m := newTestController(t)
	m.State = fsm.Chill

	c.PowerOff()

	if m.State != fsm.Chill {
		t.Errorf("power_off should not force an immediate transition from CHILL, got %s", m.State)
	}
	if !m.Ctx.ShutdownRequested {
		t.Error("expected ShutdownRequested to be set")
	}
}
