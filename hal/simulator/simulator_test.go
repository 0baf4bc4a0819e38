package simulator_test

import (
	"testing"

	"github.com/apophisnow/icemaker/hal/simulator"
	"github.com/apophisnow/icemaker/physics"
	"github.com/apophisnow/icemaker/relay"
	"github.com/apophisnow/icemaker/sensor"
)

func TestSetRelayIsIdempotent(t *testing.T) {
	phys := physics.NewSimulator(physics.DefaultParameters())
	h := simulator.New(phys)
	h.Setup()

	if err := h.SetRelay(relay.Compressor1, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.GetRelay(relay.Compressor1) {
		t.Fatal("expected compressor_1 on")
	}
	// setting to the same value again must be a pure no-op (I5)
	if err := h.SetRelay(relay.Compressor1, true); err != nil {
		t.Fatalf("unexpected error on repeat set: %v", err)
	}
	if !h.GetRelay(relay.Compressor1) {
		t.Fatal("expected compressor_1 to remain on")
	}
}

func TestReadTemperatureReflectsPhysics(t *testing.T) {
	phys := physics.NewSimulator(physics.DefaultParameters())
	h := simulator.New(phys)
	h.Setup()

	r := h.ReadTemperature(sensor.Plate)
	if r.Degraded {
		t.Error("simulator reads should never be degraded")
	}
	if r.Temperature != phys.GetTemperature(sensor.Plate) {
		t.Errorf("expected HAL read to match physics, got %v vs %v", r.Temperature, phys.GetTemperature(sensor.Plate))
	}
}

func TestCleanupDrivesAllRelaysOff(t *testing.T) {
	phys := physics.NewSimulator(physics.DefaultParameters())
	h := simulator.New(phys)
	h.Setup()
	h.SetRelay(relay.IceCutter, true)
	h.Cleanup()
	for _, n := range relay.All {
		if h.GetRelay(n) {
			t.Errorf("expected %s off after cleanup", n)
		}
	}
}
