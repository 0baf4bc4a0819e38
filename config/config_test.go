package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/apophisnow/icemaker/config"
)

func TestLoadWithNoFilesReturnsDefaults(t *testing.T) {
	got, err := config.Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := config.Defaults()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() with no overlays diverged from Defaults() (-want +got):\n%s", diff)
	}
}

func TestOverlayWinsOverEnvYAML(t *testing.T) {
	dir := t.TempDir()

	envPath := filepath.Join(dir, "production.yaml")
	if err := os.WriteFile(envPath, []byte("bin_full_threshold_f: 30.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	overlayPath := filepath.Join(dir, "runtime_config.yaml")
	if err := os.WriteFile(overlayPath, []byte("bin_full_threshold_f: 40.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := config.Load(envPath, overlayPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.BinFullThresholdF != 40.0 {
		t.Errorf("expected overlay value 40.0 to win, got %v", got.BinFullThresholdF)
	}
}

func TestMissingFilesAreNotErrors(t *testing.T) {
	_, err := config.Load("/no/such/production.yaml", "/no/such/runtime_config.yaml")
	if err != nil {
		t.Fatalf("missing config files should not error, got: %v", err)
	}
}

func TestEnvOverrideWinsOverFiles(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "production.yaml")
	if err := os.WriteFile(envPath, []byte("bin_full_threshold_f: 30.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ICEMAKER_BIN_THRESHOLD", "33.5")

	got, err := config.Load(envPath, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.BinFullThresholdF != 33.5 {
		t.Errorf("expected env override 33.5, got %v", got.BinFullThresholdF)
	}
}

func TestSkipPrimingEnvIsNegated(t *testing.T) {
	t.Setenv("ICEMAKER_SKIP_PRIMING", "true")

	got, err := config.Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.PrimingEnabled {
		t.Error("ICEMAKER_SKIP_PRIMING=true should force priming_enabled false")
	}
}

func TestLoadRejectsOutOfRangeSetpoint(t *testing.T) {
	dir := t.TempDir()
	overlayPath := filepath.Join(dir, "runtime_config.yaml")
	if err := os.WriteFile(overlayPath, []byte("ice_making:\n  target_temp_f: -40.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := config.Load("", overlayPath)
	if err == nil {
		t.Fatal("expected Load to reject an ice_making target outside the sane plate-temperature range")
	}
}

func TestRepeatedLoadPreservesEquality(t *testing.T) {
	dir := t.TempDir()
	overlayPath := filepath.Join(dir, "runtime_config.yaml")
	if err := os.WriteFile(overlayPath, []byte("simulator_speed: 4.0\nuse_simulator: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	first, err := config.Load("", overlayPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	second, err := config.Load("", overlayPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated Load() of the same files diverged (-first +second):\n%s", diff)
	}
}
