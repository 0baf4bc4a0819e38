package physics_test

import (
	"testing"

	"github.com/apophisnow/icemaker/physics"
	"github.com/apophisnow/icemaker/relay"
	"github.com/apophisnow/icemaker/sensor"
)

func TestPlateCoolsWhenCompressorOnNoHotGas(t *testing.T) {
	s := physics.NewSimulator(physics.DefaultParameters())
	s.SetRelayState(relay.Compressor1, true)
	s.SetRelayState(relay.CondenserFan, true)

	start := s.Plate.TempF
	for i := 0; i < 200; i++ {
		s.Update(1.0)
	}
	if s.Plate.TempF >= start {
		t.Errorf("expected plate to cool from %v, got %v", start, s.Plate.TempF)
	}
}

func TestPlateHeatsUnderHotGas(t *testing.T) {
	s := physics.NewSimulator(physics.DefaultParameters())
	s.SetRelayState(relay.Compressor1, true)
	s.SetRelayState(relay.CondenserFan, true)
	for i := 0; i < 300; i++ {
		s.Update(1.0)
	}
	cold := s.Plate.TempF

	s.SetRelayState(relay.HotGasSolenoid, true)
	for i := 0; i < 300; i++ {
		s.Update(1.0)
	}
	if s.Plate.TempF <= cold {
		t.Errorf("expected plate to warm under hot gas from %v, got %v", cold, s.Plate.TempF)
	}
}

func TestBinSensorContactModel(t *testing.T) {
	s := physics.NewSimulator(physics.DefaultParameters())
	if s.GetTemperature(sensor.IceBin) != 70.0 {
		t.Errorf("expected empty bin to read ambient, got %v", s.GetTemperature(sensor.IceBin))
	}
	s.Bin.IceMassKg = s.Params.BinCapacityKg * 0.8
	if s.GetTemperature(sensor.IceBin) != 32.0 {
		t.Errorf("expected 80%% full bin to read 32F, got %v", s.GetTemperature(sensor.IceBin))
	}
}

func TestMaxTicksPerUpdateCapsProcessing(t *testing.T) {
	s := physics.NewSimulator(physics.DefaultParameters())
	s.SetSpeedMultiplier(1000)
	s.Update(0.5) // one call should never process more than MaxTicksPerUpdate ticks
	if s.SimTimeSeconds() > float64(s.Params.MaxTicksPerUpdate)*s.Params.TickSeconds {
		t.Errorf("expected sim time to be capped at %v ticks, got %v seconds",
			s.Params.MaxTicksPerUpdate, s.SimTimeSeconds())
	}
}

func TestHarvestTransfersIceToBin(t *testing.T) {
	s := physics.NewSimulator(physics.DefaultParameters())
	s.Ice = physics.IceLayer{ThicknessM: 0.003}
	// wallclock dt is capped at 0.5s per Update, so double speed makes each
	// Update(1.0) below process exactly one 1s tick.
	s.SetSpeedMultiplier(2)
	s.SetRelayState(relay.Compressor1, true)
	s.SetRelayState(relay.HotGasSolenoid, true)
	s.Update(1.0) // hot gas turns on; the transfer edge is the next OFF transition

	s.SetRelayState(relay.HotGasSolenoid, false)
	s.Update(1.0)
	if s.Bin.IceMassKg <= 0 {
		t.Errorf("expected ice mass transferred to bin on harvest completion edge, got %v", s.Bin.IceMassKg)
	}
}
