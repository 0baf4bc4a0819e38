// Package physical is the production HAL provider: active-low BCM GPIO
// relay lines via periph.io, and a 1-Wire sensor bus reached through a
// serial bus-master bridge with CRC8 scratchpad validation and
// backoff-retried reads.
package physical

import (
	"github.com/apophisnow/icemaker/sensor"
)

// Provider bundles the relay and sensor halves into a single value
// satisfying hal.Provider.
type Provider struct {
	*RelayHAL
	*SensorHAL
}

// New builds the physical HAL provider. host.Init() (periph.io/x/host/v3)
// must already have run so gpioreg has Raspberry Pi pins registered.
func New(serialPort string, baud int, addrs map[sensor.Name]string) (*Provider, error) {
	r, err := NewRelayHAL()
	if err != nil {
		return nil, err
	}
	s := NewSensorHAL(serialPort, baud)
	if err := s.SetupSensors(addrs); err != nil {
		return nil, err
	}
	return &Provider{RelayHAL: r, SensorHAL: s}, nil
}
