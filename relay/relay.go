// Package relay defines the closed set of relay channels the icemaker
// drives and their physical wiring, independent of how they are actuated.
package relay

// Name identifies one of the eight relay channels. The set is closed:
// no component outside the HAL should introduce new channels at runtime.
type Name string

const (
	WaterValve        Name = "water_valve"
	HotGasSolenoid    Name = "hot_gas_solenoid"
	RecirculatingPump Name = "recirculating_pump"
	Compressor1       Name = "compressor_1"
	Compressor2       Name = "compressor_2"
	CondenserFan      Name = "condenser_fan"
	LED               Name = "led"
	IceCutter         Name = "ice_cutter"
)

// All enumerates every relay channel in a stable order, used anywhere a
// full relay matrix must be iterated deterministically (logging, the
// physical HAL's per-pin write loop, test fixtures).
var All = []Name{
	WaterValve,
	HotGasSolenoid,
	RecirculatingPump,
	Compressor1,
	Compressor2,
	CondenserFan,
	LED,
	IceCutter,
}

// Pin describes one relay channel's physical wiring.
type Pin struct {
	// BCM is the Broadcom GPIO line number driving the relay coil.
	BCM int

	// ActiveLow is true when writing the line LOW energizes the relay
	// (logical ON == physical LOW). All relays on this hardware are
	// active-low.
	ActiveLow bool
}

// PinMap is the BCM wiring used by the physical HAL provider.
var PinMap = map[Name]Pin{
	WaterValve:        {BCM: 12, ActiveLow: true},
	HotGasSolenoid:    {BCM: 5, ActiveLow: true},
	RecirculatingPump: {BCM: 6, ActiveLow: true},
	Compressor1:       {BCM: 24, ActiveLow: true},
	Compressor2:       {BCM: 25, ActiveLow: true},
	CondenserFan:      {BCM: 23, ActiveLow: true},
	LED:               {BCM: 22, ActiveLow: true},
	IceCutter:         {BCM: 27, ActiveLow: true},
}

// Matrix is a full logical-state snapshot of every relay channel.
// Handlers build one from scratch each tick; nothing is inherited from
// the previous tick.
type Matrix map[Name]bool

// AllOff returns a Matrix with every relay OFF.
func AllOff() Matrix {
	m := make(Matrix, len(All))
	for _, n := range All {
		m[n] = false
	}
	return m
}

// PhysicalLevel converts a logical ON/OFF into the line level that must
// be written to energize/de-energize the coil, given the channel's
// active-low flag. true means the line should be driven HIGH.
func PhysicalLevel(on bool, activeLow bool) bool {
	if activeLow {
		return !on
	}
	return on
}
