package persistence_test

import (
	"path/filepath"
	"testing"

	"github.com/apophisnow/icemaker/persistence"
)

func TestLoadCycleCountMissingFileReadsZero(t *testing.T) {
	s, err := persistence.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	n, err := s.LoadCycleCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}

func TestSaveThenLoadCycleCountRoundTrips(t *testing.T) {
	s, err := persistence.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCycleCount(42); err != nil {
		t.Fatal(err)
	}
	n, err := s.LoadCycleCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 42 {
		t.Errorf("expected 42, got %d", n)
	}
}

func TestIceMakingActiveFlagLifecycle(t *testing.T) {
	s, err := persistence.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if s.IceMakingActive() {
		t.Fatal("flag should not be set initially")
	}
	if err := s.SetIceMakingActive(true); err != nil {
		t.Fatal(err)
	}
	if !s.IceMakingActive() {
		t.Error("flag should be set after SetIceMakingActive(true)")
	}
	if err := s.SetIceMakingActive(false); err != nil {
		t.Fatal(err)
	}
	if s.IceMakingActive() {
		t.Error("flag should be cleared after SetIceMakingActive(false)")
	}
}

func TestStateSnapshotRoundTrip(t *testing.T) {
	s, err := persistence.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	want := persistence.StateSnapshot{
		State:     "CHILL",
		PrevState: "POWER_ON",
		Relays:    map[string]bool{"comp1": true, "water_valve": false},
		Context:   map[string]interface{}{"plate_temp_f": 31.5},
	}
	if err := s.SaveStateSnapshot(want); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.LoadStateSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected snapshot to be present")
	}
	if got.State != want.State || got.PrevState != want.PrevState {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if err := s.ClearStateSnapshot(); err != nil {
		t.Fatal(err)
	}
	_, ok, err = s.LoadStateSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected snapshot to be cleared")
	}
}

func TestNewStoreCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	if _, err := persistence.NewStore(dir); err != nil {
		t.Fatal(err)
	}
}
