package physical

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/apophisnow/icemaker/relay"
	"github.com/apophisnow/icemaker/util"
)

// minActuationInterval is the sustained spacing enforced between relay
// writes, protecting the coils/contactors from chatter if a handler were
// ever to flip relays faster than the hardware tolerates. One limiter is
// shared by all lines, with a burst of one write per line, so it is not
// a per-line minimum.
const minActuationInterval = 50 * time.Millisecond

// RelayHAL drives the eight BCM-mapped relay lines. All lines are
// active-low: writing gpio.Low energizes the coil.
type RelayHAL struct {
	mu      sync.Mutex
	pins    map[relay.Name]gpio.PinIO
	states  relay.Matrix
	limiter *rate.Limiter
}

// NewRelayHAL resolves every BCM pin named in relay.PinMap via periph's
// GPIO registry. host.Init() must have been called by the caller before
// this runs (see cmd/icemakerd), registering the Raspberry Pi driver
// that backs gpioreg.
func NewRelayHAL() (*RelayHAL, error) {
	h := &RelayHAL{
		pins:    make(map[relay.Name]gpio.PinIO, len(relay.All)),
		states:  relay.AllOff(),
		limiter: rate.NewLimiter(rate.Every(minActuationInterval), len(relay.All)),
	}
	for _, n := range relay.All {
		pin := relay.PinMap[n]
		name := fmt.Sprintf("GPIO%d", pin.BCM)
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, errors.Errorf("physical HAL: no GPIO pin registered for %s (%s)", n, name)
		}
		h.pins[n] = p
	}
	return h, nil
}

// Setup drives every relay line HIGH (OFF, active-low) before any
// SetRelay call is accepted.
func (h *RelayHAL) Setup() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range relay.All {
		if err := h.writeLocked(n, false); err != nil {
			return errors.Wrapf(err, "physical HAL: setup failed driving %s OFF", n)
		}
	}
	return nil
}

// SetRelay commands a single relay's logical state. Idempotent: writing
// the already-held value performs no GPIO write.
func (h *RelayHAL) SetRelay(name relay.Name, on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.states[name] == on {
		return nil
	}
	if err := h.limiter.Wait(context.Background()); err != nil {
		return errors.Wrap(err, "physical HAL: relay actuation rate limited")
	}
	return h.writeLocked(name, on)
}

func (h *RelayHAL) writeLocked(name relay.Name, on bool) error {
	pin, ok := h.pins[name]
	if !ok {
		return errors.Errorf("physical HAL: unknown relay %s", name)
	}
	cfg := relay.PinMap[name]
	level := relay.PhysicalLevel(on, cfg.ActiveLow)
	l := gpio.Low
	if level {
		l = gpio.High
	}
	if err := pin.Out(l); err != nil {
		return errors.Wrapf(err, "physical HAL: writing relay %s", name)
	}
	h.states[name] = on
	return nil
}

// GetRelay returns a single relay's last-commanded logical state.
func (h *RelayHAL) GetRelay(name relay.Name) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.states[name]
}

// GetAllRelays returns a snapshot of every relay's logical state.
func (h *RelayHAL) GetAllRelays() relay.Matrix {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(relay.Matrix, len(h.states))
	for k, v := range h.states {
		out[k] = v
	}
	return out
}

// Cleanup drives every relay OFF before the caller releases the GPIO
// subsystem.
func (h *RelayHAL) Cleanup() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for _, n := range relay.All {
		if err := h.writeLocked(n, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Wrap(util.MergeErrors(errs), "physical HAL: cleanup")
}
