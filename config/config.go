// Package config defines the icemaker's configuration record and its
// layered load: hardcoded defaults, overlaid by an environment YAML
// file, then a runtime overlay file (the only layer the HTTP API, out
// of core scope, is allowed to write to), then environment variable
// overrides. The merge is pure: each layer is read into the same koanf
// instance in order, later layers winning field by field.
package config

import (
	"fmt"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/apophisnow/icemaker/util"
)

// sanePlateTempF bounds every plate setpoint a loaded configuration may
// carry: below freezer-coil floor or above the harvest ceiling indicates
// a malformed override rather than an intentional setpoint.
var sanePlateTempF = util.Limiter{Min: -20, Max: 120}

// StateTiming is the per-state setpoint/timeout shape shared by every
// thermally-gated state.
type StateTiming struct {
	TargetTempF    float64 `koanf:"target_temp_f" yaml:"target_temp_f"`
	TimeoutSeconds float64 `koanf:"timeout_seconds" yaml:"timeout_seconds"`
}

// HarvestTiming extends StateTiming with the water-refill duration used
// during HEAT.
type HarvestTiming struct {
	StateTiming     `koanf:",squash" yaml:",inline"`
	FillTimeSeconds float64 `koanf:"fill_time_seconds" yaml:"fill_time_seconds"`
}

// PrimingTiming holds the three sequential POWER_ON phase durations.
type PrimingTiming struct {
	FlushSeconds float64 `koanf:"flush_seconds" yaml:"flush_seconds"`
	PumpSeconds  float64 `koanf:"pump_seconds" yaml:"pump_seconds"`
	FillSeconds  float64 `koanf:"fill_seconds" yaml:"fill_seconds"`
}

// Config is the frozen-at-start, runtime-mutable-via-overlay
// configuration record.
type Config struct {
	Prechill  StateTiming   `koanf:"prechill" yaml:"prechill"`
	IceMaking StateTiming   `koanf:"ice_making" yaml:"ice_making"`
	Harvest   HarvestTiming `koanf:"harvest" yaml:"harvest"`
	Rechill   StateTiming   `koanf:"rechill" yaml:"rechill"`
	Priming   PrimingTiming `koanf:"priming" yaml:"priming"`

	BinFullThresholdF     float64 `koanf:"bin_full_threshold_f" yaml:"bin_full_threshold_f"`
	PollIntervalSeconds   float64 `koanf:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	StandbyTimeoutSeconds float64 `koanf:"standby_timeout_seconds" yaml:"standby_timeout_seconds"`
	PrimingEnabled        bool    `koanf:"priming_enabled" yaml:"priming_enabled"`

	PlateSensorID string `koanf:"plate_sensor_id" yaml:"plate_sensor_id"`
	BinSensorID   string `koanf:"bin_sensor_id" yaml:"bin_sensor_id"`

	UseSimulator   bool    `koanf:"use_simulator" yaml:"use_simulator"`
	SimulatorSpeed float64 `koanf:"simulator_speed" yaml:"simulator_speed"`

	DataDir      string `koanf:"data_dir" yaml:"data_dir"`
	APIHost      string `koanf:"api_host" yaml:"api_host"`
	APIPort      int    `koanf:"api_port" yaml:"api_port"`
	LogLevel     string `koanf:"log_level" yaml:"log_level"`
	NoAccessLog  bool   `koanf:"no_access_log" yaml:"no_access_log"`
}

// Defaults returns the reference configuration record. Values mirror the
// original Python implementation's defaults (target temps, timeouts,
// sensor IDs) where those are known; everything else is this spec's own
// choice (e.g. priming opt-in, see Open Question resolutions).
func Defaults() Config {
	return Config{
		Prechill:  StateTiming{TargetTempF: 32.0, TimeoutSeconds: 120},
		IceMaking: StateTiming{TargetTempF: -2.0, TimeoutSeconds: 1500},
		Harvest: HarvestTiming{
			StateTiming:     StateTiming{TargetTempF: 38.0, TimeoutSeconds: 240},
			FillTimeSeconds: 18,
		},
		Rechill: StateTiming{TargetTempF: 35.0, TimeoutSeconds: 300},
		Priming: PrimingTiming{FlushSeconds: 60, PumpSeconds: 15, FillSeconds: 15},

		BinFullThresholdF:     35.0,
		PollIntervalSeconds:   5.0,
		StandbyTimeoutSeconds: 1200.0,
		PrimingEnabled:        false,

		PlateSensorID: "092101487373",
		BinSensorID:   "3c01f0956abd",

		UseSimulator:   true,
		SimulatorSpeed: 1.0,

		DataDir:  "data",
		APIHost:  "0.0.0.0",
		APIPort:  8000,
		LogLevel: "info",
	}
}

// Load builds the final configuration: defaults, then an environment
// YAML file (e.g. production.yaml), then a runtime overlay
// (runtime_config.yaml) if present, then ICEMAKER_* environment
// variables. Missing files are not an error; parse errors in a present
// file are logged and that layer is skipped (the configuration-parse
// error policy).
func Load(envYAMLPath, overlayPath string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("loading defaults: %w", err)
	}

	for _, path := range []string{envYAMLPath, overlayPath} {
		if path == "" {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			fmt.Printf("config: skipping %s: %v\n", path, err)
			continue
		}
	}

	ApplyEnvOverrides(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := validateSetpoints(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validateSetpoints rejects a configuration whose loaded setpoints fall
// outside a physically sane plate-temperature range, which would
// otherwise let a malformed override file or env var silently arm a
// thermal target the hardware can never reach.
func validateSetpoints(cfg Config) error {
	named := map[string]float64{
		"prechill.target_temp_f":   cfg.Prechill.TargetTempF,
		"ice_making.target_temp_f": cfg.IceMaking.TargetTempF,
		"harvest.target_temp_f":    cfg.Harvest.TargetTempF,
		"rechill.target_temp_f":    cfg.Rechill.TargetTempF,
	}
	for field, v := range named {
		if !sanePlateTempF.Check(v) {
			return fmt.Errorf("config: %s=%.1f outside sane range [%.1f, %.1f]", field, v, sanePlateTempF.Min, sanePlateTempF.Max)
		}
	}
	return nil
}
