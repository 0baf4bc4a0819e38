// Package hal defines the hardware abstraction contract the FSM uses to
// command relays and read temperatures, independent of whether the
// backing implementation is real GPIO/1-Wire hardware or the physics
// simulator. Every operation may block briefly (a relay write, a sensor
// poll) but must never be called concurrently with itself from more than
// one goroutine; the controller is the sole writer (see RelayHAL).
package hal

import (
	"github.com/apophisnow/icemaker/relay"
	"github.com/apophisnow/icemaker/sensor"
)

// RelayHAL is the capability set for commanding relays. set_relay is
// idempotent: writing the same logical value a relay already holds must
// produce no observable change (no RELAY_CHANGED event, no physical
// write) — see invariant I5.
type RelayHAL interface {
	// Setup initializes every relay line to OFF (HIGH on active-low
	// hardware) before any SetRelay call is accepted.
	Setup() error

	// SetRelay commands a single relay's logical state.
	SetRelay(name relay.Name, on bool) error

	// GetRelay returns a single relay's last-commanded logical state.
	GetRelay(name relay.Name) bool

	// GetAllRelays returns a snapshot of every relay's logical state.
	GetAllRelays() relay.Matrix

	// Cleanup drives every relay OFF and releases underlying resources.
	Cleanup() error
}

// SensorHAL is the capability set for reading temperatures. Reads that
// fail must degrade to sensor.FallbackTemp and a logged warning; they
// must never return an error to the caller.
type SensorHAL interface {
	// SetupSensors binds each sensor name to its hardware address.
	SetupSensors(addrs map[sensor.Name]string) error

	// ReadTemperature reads a single sensor, degrading to
	// sensor.FallbackTemp on failure.
	ReadTemperature(name sensor.Name) sensor.Reading

	// ReadAllTemperatures reads every sensor.
	ReadAllTemperatures() map[sensor.Name]sensor.Reading
}

// Provider bundles both capability sets; a physical and a simulator
// implementation each satisfy it in full.
type Provider interface {
	RelayHAL
	SensorHAL
}
