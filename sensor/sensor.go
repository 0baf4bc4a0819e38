// Package sensor describes the two 1-Wire temperature probes the icemaker
// reads and the degraded-reading fallback contract both HAL providers
// must honor.
package sensor

import "github.com/apophisnow/icemaker/temperature"

// Name identifies one of the two sensor positions.
type Name string

const (
	Plate  Name = "plate"
	IceBin Name = "ice_bin"
)

// All enumerates both sensor positions in a stable order.
var All = []Name{Plate, IceBin}

// FallbackTemp is returned, with a logged warning, whenever a read fails.
// Reads must never propagate an error into the FSM: a dead or noisy
// sensor degrades to "ambient" rather than stalling the controller.
const FallbackTemp temperature.Fahrenheit = 70.0

// Info is the configuration identifying one physical sensor: a hardware
// address (opaque 1-Wire ROM id string) and the position it reports.
type Info struct {
	Addr string `yaml:"addr"`
	Name Name   `yaml:"name"`
}

// DataFunc reads the current temperature of a sensor by its hardware
// address. Implementations must apply FallbackTemp themselves on error
// and return a nil error. Neither HAL provider in this module is built
// from a DataFunc.
type DataFunc func(addr string) (temperature.Fahrenheit, error)

// Reading pairs a sensor identity with its last observed value and
// whether that value is the degraded fallback.
type Reading struct {
	Name        Name
	Temperature temperature.Fahrenheit
	Degraded    bool
}
