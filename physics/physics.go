// Package physics implements the discrete-tick thermal model that stands
// in for real refrigeration hardware: a water reservoir, an aluminum
// cooling plate, an ice layer that grows on the plate by Stefan
// conduction and melts under hot-gas heat, and an ice bin that receives
// harvested ice and slowly melts toward ambient.
//
// All temperatures in this package are in Fahrenheit; heat-transfer
// coefficients are in W/(m^2*K). Converting a Fahrenheit delta into a
// Kelvin delta for the force term, and the resulting energy back into a
// Fahrenheit delta for a temperature update, is handled by
// temperature.DeltaFtoK / temperature.DeltaKtoF.
package physics

import (
	"math"

	"github.com/apophisnow/icemaker/relay"
	"github.com/apophisnow/icemaker/sensor"
	"github.com/apophisnow/icemaker/temperature"
	"github.com/apophisnow/icemaker/util"
)

// Parameters holds every physical constant and ambient condition the
// model needs. Defaults approximate a small commercial cube maker.
type Parameters struct {
	AmbientTempF   float64
	InletTempF     float64
	FlowRateLps    float64 // reservoir inflow rate while the water valve is open, L/s
	ReservoirCapL  float64

	PlateMassKg      float64
	PlateSpecificHeat float64 // J/(kg*K), aluminum ~= 900

	IceDensityKgM3     float64
	MaxIceThicknessM   float64
	PlateAreaM2        float64 // evaporator contact area
	KIce               float64 // ice thermal conductivity, W/(m*K)
	LatentHeatFusion   float64 // J/kg, water<->ice, ~= 334000
	HWater             float64 // water-side convective coefficient, W/(m^2*K)

	HRefrig    float64 // refrigerant-to-plate coefficient during cooling
	TRefrigF   float64 // effective refrigerant temperature while compressor runs
	HHotGas    float64
	THotGasF   float64

	BinAreaM2      float64
	HBinAmbient    float64
	BinCapacityKg  float64
	BinFillFraction float64 // fill fraction at which the bin sensor reads 32F

	HAmbWater float64
	HAmbPlate float64

	TickSeconds       float64 // simulated seconds per whole tick
	MaxWallclockDt    float64 // caps a single update() call's wallclock dt
	MaxTicksPerUpdate int
}

// DefaultParameters returns the reference parameter set used unless a
// config overlay overrides values.
func DefaultParameters() Parameters {
	return Parameters{
		AmbientTempF:  70,
		InletTempF:    55,
		FlowRateLps:   0.05,
		ReservoirCapL: 4,

		PlateMassKg:       1.8,
		PlateSpecificHeat: 900,

		IceDensityKgM3:   917,
		MaxIceThicknessM: 0.006,
		PlateAreaM2:      0.09,
		KIce:             2.22,
		LatentHeatFusion: 334000,
		HWater:           250,

		HRefrig:  400,
		TRefrigF: -10,
		HHotGas:  600,
		THotGasF: 130,

		BinAreaM2:       0.2,
		HBinAmbient:     15,
		BinCapacityKg:   8,
		BinFillFraction: 0.7,

		HAmbWater: 8,
		HAmbPlate: 5,

		TickSeconds:       1.0,
		MaxWallclockDt:    0.5,
		MaxTicksPerUpdate: 100,
	}
}

// Reservoir is the water supply feeding the plate via the recirculation
// pump.
type Reservoir struct {
	VolumeL float64
	TempF   float64
}

// Plate is the aluminum evaporator surface.
type Plate struct {
	TempF float64
}

// IceLayer is the sheet of ice forming on the plate.
type IceLayer struct {
	ThicknessM float64
}

// MassKg returns the mass of ice currently on the plate.
func (l IceLayer) MassKg(p Parameters) float64 {
	return l.ThicknessM * p.PlateAreaM2 * p.IceDensityKgM3
}

// Bin is the ice storage bin below the plate.
type Bin struct {
	IceMassKg float64
	TempF     float64
}

// FillFraction returns the bin's current fill fraction relative to
// capacity, clamped to [0, 1].
func (b Bin) FillFraction(p Parameters) float64 {
	if p.BinCapacityKg <= 0 {
		return 0
	}
	f := b.IceMassKg / p.BinCapacityKg
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Simulator owns all physics entities and the relay states driving them.
// It is exclusively written by the simulator HAL's relay-change callback
// (relay states) and its own Update (thermal state); only the simulator
// HAL's sensor reader observes temperatures from it.
type Simulator struct {
	Params Parameters

	Reservoir Reservoir
	Plate     Plate
	Ice       IceLayer
	Bin       Bin

	relayState map[relay.Name]bool
	hotGasPrev bool

	simTimeS        float64
	speedMultiplier float64
	accumS          float64
}

// NewSimulator builds a Simulator at ambient equilibrium with all
// relays off.
func NewSimulator(p Parameters) *Simulator {
	s := &Simulator{
		Params:          p,
		Reservoir:       Reservoir{VolumeL: p.ReservoirCapL * 0.5, TempF: p.AmbientTempF},
		Plate:           Plate{TempF: p.AmbientTempF},
		Bin:             Bin{TempF: p.AmbientTempF},
		relayState:      make(map[relay.Name]bool, len(relay.All)),
		speedMultiplier: 1.0,
	}
	for _, n := range relay.All {
		s.relayState[n] = false
	}
	return s
}

// SetRelayState records a relay's logical state for the next tick. Called
// by the simulator HAL's relay-change callback — only on actual change.
func (s *Simulator) SetRelayState(name relay.Name, on bool) {
	s.relayState[name] = on
}

// GetTemperature returns the live simulated reading for a sensor
// position, including the bin-full sensor-contact model (step 7).
func (s *Simulator) GetTemperature(name sensor.Name) temperature.Fahrenheit {
	switch name {
	case sensor.Plate:
		return temperature.Fahrenheit(s.Plate.TempF)
	case sensor.IceBin:
		if s.Bin.FillFraction(s.Params) >= s.Params.BinFillFraction {
			return 32.0
		}
		return temperature.Fahrenheit(s.Params.AmbientTempF)
	default:
		return sensor.FallbackTemp
	}
}

// SetSpeedMultiplier sets the simulation's speed multiplier, clamped to
// the supported range.
func (s *Simulator) SetSpeedMultiplier(mult float64) {
	s.speedMultiplier = util.Clamp(mult, 0.1, 1000)
}

// SpeedMultiplier returns the current speed multiplier.
func (s *Simulator) SpeedMultiplier() float64 { return s.speedMultiplier }

// SimTimeSeconds returns total simulated seconds elapsed.
func (s *Simulator) SimTimeSeconds() float64 { return s.simTimeS }

// IceThicknessMM returns the current ice layer thickness in millimeters.
func (s *Simulator) IceThicknessMM() float64 { return s.Ice.ThicknessM * 1000 }

// BinFillPercent returns the bin fill fraction as a percentage.
func (s *Simulator) BinFillPercent() float64 { return s.Bin.FillFraction(s.Params) * 100 }

// Reset returns every entity to its initial state and clears relay
// state, as if the process had just started.
func (s *Simulator) Reset() {
	p := s.Params
	s.Reservoir = Reservoir{VolumeL: p.ReservoirCapL * 0.5, TempF: p.AmbientTempF}
	s.Plate = Plate{TempF: p.AmbientTempF}
	s.Ice = IceLayer{}
	s.Bin = Bin{TempF: p.AmbientTempF}
	s.simTimeS = 0
	s.accumS = 0
	s.hotGasPrev = false
	for _, n := range relay.All {
		s.relayState[n] = false
	}
}

// Update advances the simulation by wallclock dt seconds (real time since
// the last call). wallclock dt is capped at MaxWallclockDt to skip over
// pauses without instability, scaled by the speed multiplier, and
// accumulated into whole simulated ticks; at most MaxTicksPerUpdate ticks
// are processed per call, with any further accumulation discarded.
func (s *Simulator) Update(wallclockDt float64) {
	if wallclockDt > s.Params.MaxWallclockDt {
		wallclockDt = s.Params.MaxWallclockDt
	}
	if wallclockDt < 0 {
		wallclockDt = 0
	}
	s.accumS += wallclockDt * s.speedMultiplier

	ticks := int(math.Floor(s.accumS / s.Params.TickSeconds))
	capped := ticks > s.Params.MaxTicksPerUpdate
	if capped {
		ticks = s.Params.MaxTicksPerUpdate
	}
	for i := 0; i < ticks; i++ {
		s.tick(s.Params.TickSeconds)
	}

	if capped {
		// excess accumulation beyond the cap is dropped, not carried
		// forward, so a long stall cannot produce an unbounded burst of
		// ticks on a later call.
		s.accumS = 0
		return
	}
	s.accumS -= float64(ticks) * s.Params.TickSeconds
	if s.accumS < 0 {
		s.accumS = 0
	}
}

func (s *Simulator) compressorOn() bool {
	return s.relayState[relay.Compressor1] || s.relayState[relay.Compressor2]
}

func (s *Simulator) tick(dt float64) {
	p := s.Params
	hotGasOn := s.relayState[relay.HotGasSolenoid]
	pumpOn := s.relayState[relay.RecirculatingPump]
	valveOn := s.relayState[relay.WaterValve]
	compOn := s.compressorOn()

	// 1. Inlet.
	if valveOn {
		addL := p.FlowRateLps * dt
		totalL := s.Reservoir.VolumeL + addL
		mixedTemp := (s.Reservoir.VolumeL*s.Reservoir.TempF + addL*p.InletTempF) / math.Max(totalL, 1e-9)
		s.Reservoir.TempF = mixedTemp
		if totalL > p.ReservoirCapL {
			totalL = p.ReservoirCapL // overflow above capacity is discarded
		}
		s.Reservoir.VolumeL = totalL
	}

	// 2. Plate <-> water heat exchange.
	if pumpOn {
		iceForming := s.Plate.TempF < 32 && s.Reservoir.TempF <= 32.5 && compOn
		if iceForming {
			thicknessM := math.Max(s.Ice.ThicknessM, 0.0001) // minimum effective thickness, 0.1mm
			dTk := temperature.DeltaFtoK(32 - s.Plate.TempF)
			if dTk < 0 {
				dTk = 0
			}
			q := p.KIce * p.PlateAreaM2 * dTk / thicknessM // W
			massFormed := q * dt / p.LatentHeatFusion       // kg
			growthM := massFormed / (p.PlateAreaM2 * p.IceDensityKgM3)
			s.Ice.ThicknessM += growthM
			if s.Ice.ThicknessM > p.MaxIceThicknessM {
				s.Ice.ThicknessM = p.MaxIceThicknessM
			}
			s.Reservoir.TempF = 32 // pinned at freezing while forming ice
			latentDtF := temperature.DeltaKtoF(q * dt / (p.PlateMassKg * p.PlateSpecificHeat))
			s.Plate.TempF += latentDtF
		} else {
			hEff := 1.0 / (1.0/p.HWater + s.Ice.ThicknessM/p.KIce)
			dTk := temperature.DeltaFtoK(s.Reservoir.TempF - s.Plate.TempF)
			q := hEff * p.PlateAreaM2 * dTk * dt // J, signed by direction of dT
			waterThermalMass := s.Reservoir.VolumeL * 4186 // J/K, water specific heat per liter-kg
			if waterThermalMass > 0 {
				s.Reservoir.TempF -= temperature.DeltaKtoF(q / waterThermalMass)
			}
			s.Plate.TempF += temperature.DeltaKtoF(q / (p.PlateMassKg * p.PlateSpecificHeat))
		}
	}

	// 3. Refrigerant cooling.
	if compOn && !hotGasOn {
		dTk := temperature.DeltaFtoK(s.Plate.TempF - p.TRefrigF)
		if dTk < 0 {
			dTk = 0
		}
		q := p.HRefrig * p.PlateAreaM2 * dTk * dt
		s.Plate.TempF -= temperature.DeltaKtoF(q / (p.PlateMassKg * p.PlateSpecificHeat))
	}

	// 4. Hot-gas heating.
	if compOn && hotGasOn {
		dTk := temperature.DeltaFtoK(p.THotGasF - s.Plate.TempF)
		if dTk < 0 {
			dTk = 0
		}
		q := p.HHotGas * p.PlateAreaM2 * dTk * dt
		iceMass := s.Ice.MassKg(p)
		if iceMass > 0 && s.Plate.TempF <= 34 {
			qMelt := q * 0.7
			qWarm := q * 0.3
			massMelted := qMelt / p.LatentHeatFusion
			melted := math.Min(massMelted, iceMass)
			meltedThicknessM := melted / (p.PlateAreaM2 * p.IceDensityKgM3)
			s.Ice.ThicknessM -= meltedThicknessM
			if s.Ice.ThicknessM < 0 {
				s.Ice.ThicknessM = 0
			}
			s.Plate.TempF += temperature.DeltaKtoF(qWarm / (p.PlateMassKg * p.PlateSpecificHeat))
		} else {
			s.Plate.TempF += temperature.DeltaKtoF(q / (p.PlateMassKg * p.PlateSpecificHeat))
		}
	}

	// 5. Harvest completion edge: hot gas ON -> OFF transfers remaining
	// plate ice to the bin.
	if s.hotGasPrev && !hotGasOn {
		massKg := s.Ice.MassKg(p)
		s.Bin.IceMassKg += massKg
		if s.Bin.IceMassKg > p.BinCapacityKg {
			s.Bin.IceMassKg = p.BinCapacityKg
		}
		s.Ice.ThicknessM = 0
	}
	s.hotGasPrev = hotGasOn

	// 6. Bin melt.
	if s.Bin.IceMassKg > 0 {
		dTk := temperature.DeltaFtoK(p.AmbientTempF - 32)
		if dTk < 0 {
			dTk = 0
		}
		q := p.HBinAmbient * p.BinAreaM2 * dTk * dt
		meltedKg := q / p.LatentHeatFusion
		s.Bin.IceMassKg -= meltedKg
		if s.Bin.IceMassKg < 0 {
			s.Bin.IceMassKg = 0
		}
	}

	// 7. Bin sensor update is computed on read (GetTemperature), not
	// stored, so it always reflects the latest fill fraction.

	// 8. Ambient drift.
	s.Reservoir.TempF += p.HAmbWater * dt * 0.001 * (p.AmbientTempF - s.Reservoir.TempF)
	if !compOn {
		s.Plate.TempF += p.HAmbPlate * dt * 0.001 * (p.AmbientTempF - s.Plate.TempF)
	}

	s.simTimeS += dt
}
