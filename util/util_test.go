package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/apophisnow/icemaker/util"
)

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f, got %f", input, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f, got %f", input, low, clamped)
	}
}

func TestLimiterCheck(t *testing.T) {
	l := util.Limiter{Min: 30, Max: 40}
	if !l.Check(35) {
		t.Error("expected 35 to be within [30,40]")
	}
	if l.Check(41) {
		t.Error("expected 41 to be outside [30,40]")
	}
}

func TestMergeErrorsNilOnEmpty(t *testing.T) {
	if err := util.MergeErrors(nil); err != nil {
		t.Errorf("expected nil error on empty input, got %v", err)
	}
	if err := util.MergeErrors([]error{nil, nil}); err != nil {
		t.Errorf("expected nil error when all inputs are nil, got %v", err)
	}
}

func TestMergeErrorsJoinsNonNil(t *testing.T) {
	err := util.MergeErrors([]error{fmt.Errorf("a"), nil, fmt.Errorf("b")})
	if err == nil {
		t.Fatal("expected non-nil error")
	}
	if err.Error() != "a\nb" {
		t.Errorf("expected %q, got %q", "a\nb", err.Error())
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
