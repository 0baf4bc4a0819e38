package relay_test

import (
	"testing"

	"github.com/apophisnow/icemaker/relay"
)

func TestPhysicalLevelActiveLow(t *testing.T) {
	if relay.PhysicalLevel(true, true) != false {
		t.Error("active-low ON should write LOW (false)")
	}
	if relay.PhysicalLevel(false, true) != true {
		t.Error("active-low OFF should write HIGH (true)")
	}
}

func TestPhysicalLevelActiveHigh(t *testing.T) {
	if relay.PhysicalLevel(true, false) != true {
		t.Error("active-high ON should write HIGH (true)")
	}
}

func TestAllOff(t *testing.T) {
	m := relay.AllOff()
	for _, n := range relay.All {
		if m[n] {
			t.Errorf("expected %s to be off", n)
		}
	}
}

func TestPinMapCoversAllRelays(t *testing.T) {
	for _, n := range relay.All {
		p, ok := relay.PinMap[n]
		if !ok {
			t.Errorf("missing pin mapping for %s", n)
		}
		if !p.ActiveLow {
			t.Errorf("expected %s to be wired active-low", n)
		}
	}
}
