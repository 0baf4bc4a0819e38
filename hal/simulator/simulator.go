// Package simulator is the mock HAL provider: a relay module that tracks
// logical state and invokes a change callback only on actual change, and
// a sensor module whose readings are driven by a live physics.Simulator.
// It closes the loop in test/dev: relay writes feed the physics model,
// and sensor reads come back out of it.
package simulator

import (
	"log"
	"sync"

	"github.com/apophisnow/icemaker/physics"
	"github.com/apophisnow/icemaker/relay"
	"github.com/apophisnow/icemaker/sensor"
)

// HAL is the simulator HAL provider. It holds an owning reference to the
// physics simulator it drives and reads from.
type HAL struct {
	mu    sync.Mutex
	phys  *physics.Simulator
	relays relay.Matrix
}

// New returns a simulator HAL bound to the given physics simulator. The
// physics simulator outlives the HAL; there is no reverse reference.
func New(phys *physics.Simulator) *HAL {
	return &HAL{
		phys:   phys,
		relays: relay.AllOff(),
	}
}

// Setup initializes every relay to OFF.
func (h *HAL) Setup() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relays = relay.AllOff()
	for _, n := range relay.All {
		h.phys.SetRelayState(n, false)
	}
	return nil
}

// SetRelay updates the logical relay state and, only on an actual
// change, notifies the physics simulator.
func (h *HAL) SetRelay(name relay.Name, on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.relays[name] == on {
		return nil // idempotent: no change, no callback (I5)
	}
	h.relays[name] = on
	h.phys.SetRelayState(name, on)
	return nil
}

// GetRelay returns a single relay's last-commanded logical state.
func (h *HAL) GetRelay(name relay.Name) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.relays[name]
}

// GetAllRelays returns a snapshot of every relay's logical state.
func (h *HAL) GetAllRelays() relay.Matrix {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(relay.Matrix, len(h.relays))
	for k, v := range h.relays {
		out[k] = v
	}
	return out
}

// Cleanup drives every relay OFF.
func (h *HAL) Cleanup() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range relay.All {
		if h.relays[n] {
			h.relays[n] = false
			h.phys.SetRelayState(n, false)
		}
	}
	return nil
}

// SetupSensors is a no-op: the simulator HAL always reads straight from
// the bound physics simulator, hardware addresses are not used.
func (h *HAL) SetupSensors(addrs map[sensor.Name]string) error {
	log.Printf("simulator HAL: sensor setup is a no-op, %d addresses ignored", len(addrs))
	return nil
}

// ReadTemperature reads the live simulated value for a sensor position.
// The simulator model never fails, so Degraded is always false here;
// the field exists to satisfy the shared sensor.Reading contract with
// the physical provider.
func (h *HAL) ReadTemperature(name sensor.Name) sensor.Reading {
	t := h.phys.GetTemperature(name)
	return sensor.Reading{Name: name, Temperature: t, Degraded: false}
}

// ReadAllTemperatures reads every sensor position.
func (h *HAL) ReadAllTemperatures() map[sensor.Name]sensor.Reading {
	out := make(map[sensor.Name]sensor.Reading, len(sensor.All))
	for _, n := range sensor.All {
		out[n] = h.ReadTemperature(n)
	}
	return out
}
