package physical

import (
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/snksoft/crc"
	"github.com/tarm/serial"

	"github.com/apophisnow/icemaker/comm"
	icesensor "github.com/apophisnow/icemaker/sensor"
)

// crc8Maxim is the 1-Wire/Dallas-Maxim CRC8 polynomial used to validate
// a DS18B20-class device's scratchpad read.
var crc8Maxim = &crc.Parameters{Width: 8, Polynomial: 0x31, ReflectIn: true, ReflectOut: true, Init: 0x00, FinalXor: 0x00}

// SensorHAL reads the plate and ice-bin 1-Wire probes through a serial
// bus-master bridge. The bridge accepts a `READ <addr>\r` command and
// replies with `<hex-temp-tenths><crc8-hex>\r`.
type SensorHAL struct {
	mu    sync.Mutex
	dev   *comm.RemoteDevice
	addrs map[icesensor.Name]string
}

// NewSensorHAL builds a RemoteDevice for the given serial port; the
// connection is opened by SetupSensors.
func NewSensorHAL(port string, baud int) *SensorHAL {
	cfg := &serial.Config{Name: port, Baud: baud, ReadTimeout: 2 * time.Second}
	rd := comm.NewRemoteDevice(port, true, nil, cfg)
	return &SensorHAL{dev: &rd}
}

// SetupSensors binds each sensor name to its 1-Wire ROM address.
func (h *SensorHAL) SetupSensors(addrs map[icesensor.Name]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addrs = addrs
	return errors.Wrap(h.dev.Open(), "physical HAL: opening 1-Wire bus master")
}

// ReadTemperature reads one sensor, retrying transient bus errors with
// exponential backoff before degrading to the fallback temperature. Per
// the HAL contract, this never returns an error to the caller.
func (h *SensorHAL) ReadTemperature(name icesensor.Name) icesensor.Reading {
	h.mu.Lock()
	addr, ok := h.addrs[name]
	h.mu.Unlock()
	if !ok {
		log.Printf("physical HAL: no address bound for sensor %s, using fallback", name)
		return icesensor.Reading{Name: name, Temperature: icesensor.FallbackTemp, Degraded: true}
	}

	var tempF float64
	op := func() error {
		t, err := h.readOnce(addr)
		if err != nil {
			return err
		}
		tempF = t
		return nil
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         500 * time.Millisecond,
		MaxElapsedTime:      2 * time.Second,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	if err := backoff.Retry(op, b); err != nil {
		log.Printf("physical HAL: sensor %s (%s) read failed after retries: %v, using fallback", name, addr, err)
		return icesensor.Reading{Name: name, Temperature: icesensor.FallbackTemp, Degraded: true}
	}
	return icesensor.Reading{Name: name, Temperature: icesensor.Fahrenheit(tempF), Degraded: false}
}

func (h *SensorHAL) readOnce(addr string) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	resp, err := h.dev.SendRecv([]byte("READ " + addr))
	if err != nil {
		return 0, errors.Wrap(err, "1-Wire bus read")
	}
	return parseScratchpad(resp)
}

// parseScratchpad validates and decodes a "<hex-temp-tenths><crc8-hex>"
// response frame, rejecting anything that fails its checksum.
func parseScratchpad(resp []byte) (float64, error) {
	s := strings.TrimSpace(string(resp))
	if len(s) < 3 {
		return 0, errors.Errorf("scratchpad response too short: %q", s)
	}
	payload := s[:len(s)-2]
	wantCRCHex := s[len(s)-2:]

	payloadBytes := []byte(payload)
	gotCRC := crc.CalculateCRC(crc8Maxim, payloadBytes)
	wantCRC, err := strconv.ParseUint(wantCRCHex, 16, 8)
	if err != nil {
		return 0, errors.Errorf("malformed crc in response %q", s)
	}
	if uint64(gotCRC) != wantCRC {
		return 0, errors.Errorf("crc mismatch in response %q: got %x want %x", s, gotCRC, wantCRC)
	}

	tenths, err := strconv.ParseInt(payload, 16, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing temperature payload %q", payload)
	}
	return float64(tenths) / 10.0, nil
}

// ReadAllTemperatures reads every sensor position.
func (h *SensorHAL) ReadAllTemperatures() map[icesensor.Name]icesensor.Reading {
	out := make(map[icesensor.Name]icesensor.Reading, len(icesensor.All))
	for _, n := range icesensor.All {
		out[n] = h.ReadTemperature(n)
	}
	return out
}
