package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf"
)

// envOverride binds an ICEMAKER_* environment variable to a dotted koanf
// path and a parser for its value.
type envOverride struct {
	path  string
	parse func(string) (interface{}, error)
}

func parseFloat(s string) (interface{}, error) { return strconv.ParseFloat(s, 64) }
func parseInt(s string) (interface{}, error)    { return strconv.Atoi(s) }
func parseString(s string) (interface{}, error) { return s, nil }
func parseBool(s string) (interface{}, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	default:
		return strconv.ParseBool(s)
	}
}

// envOverrides is the full ICEMAKER_* surface, grounded on the original
// implementation's environment-variable table.
var envOverrides = map[string]envOverride{
	"ICEMAKER_PRECHILL_TEMP":        {"prechill.target_temp_f", parseFloat},
	"ICEMAKER_PRECHILL_TIMEOUT":     {"prechill.timeout_seconds", parseFloat},
	"ICEMAKER_ICE_TEMP":             {"ice_making.target_temp_f", parseFloat},
	"ICEMAKER_ICE_TIMEOUT":          {"ice_making.timeout_seconds", parseFloat},
	"ICEMAKER_HARVEST_TEMP":         {"harvest.target_temp_f", parseFloat},
	"ICEMAKER_HARVEST_TIMEOUT":      {"harvest.timeout_seconds", parseFloat},
	"ICEMAKER_HARVEST_REFILL_TIME":  {"harvest.fill_time_seconds", parseFloat},
	"ICEMAKER_RECHILL_TEMP":         {"rechill.target_temp_f", parseFloat},
	"ICEMAKER_RECHILL_TIMEOUT":      {"rechill.timeout_seconds", parseFloat},
	"ICEMAKER_BIN_THRESHOLD":        {"bin_full_threshold_f", parseFloat},
	"ICEMAKER_USE_SIMULATOR":        {"use_simulator", parseBool},
	"ICEMAKER_API_HOST":             {"api_host", parseString},
	"ICEMAKER_API_PORT":             {"api_port", parseInt},
	"ICEMAKER_LOG_LEVEL":            {"log_level", parseString},
	"ICEMAKER_POLL_INTERVAL":        {"poll_interval_seconds", parseFloat},
	"ICEMAKER_SKIP_PRIMING":         {"priming_enabled", negatedBool},
}

// negatedBool implements ICEMAKER_SKIP_PRIMING, which sets priming_enabled
// to the logical negation of the flag.
func negatedBool(s string) (interface{}, error) {
	v, err := parseBool(s)
	if err != nil {
		return nil, err
	}
	return !v.(bool), nil
}

// ApplyEnvOverrides layers ICEMAKER_* environment variables on top of
// whatever is already loaded into k, the last and highest-priority layer.
func ApplyEnvOverrides(k *koanf.Koanf) {
	for envVar, ov := range envOverrides {
		raw, ok := os.LookupEnv(envVar)
		if !ok {
			continue
		}
		val, err := ov.parse(raw)
		if err != nil {
			log.Printf("config: ignoring %s=%q: %v", envVar, raw, err)
			continue
		}
		k.Set(ov.path, val)
	}
}

// LoadDotenv reads simple KEY=VALUE lines from path into the process
// environment, skipping blank lines and lines starting with '#'. Existing
// environment variables are never overwritten, so real env vars always
// win over the file. A missing file is not an error.
func LoadDotenv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}

// IsRaspberryPi reports whether the process is running on a Raspberry Pi,
// by inspecting /proc/cpuinfo. cmd/icemakerd uses it to default the
// environment name to production when neither --env nor ICEMAKER_ENV is
// set; it does not select the HAL.
func IsRaspberryPi() bool {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return false
	}
	cpuinfo := string(data)
	return strings.Contains(cpuinfo, "Raspberry Pi") || strings.Contains(cpuinfo, "BCM")
}
