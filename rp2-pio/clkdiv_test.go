package pio

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestComputeClkDivTriggerPulse(t *testing.T) {
	// 16us trigger pulse split into 31 state machine cycles at 125MHz.
	div, q, err := ComputeClkDiv(16*time.Microsecond, 125_000_000, 31, 1e-3)
	if err != nil {
		t.Fatal(err)
	}
	if want := (ClkDiv{Whole: 64, Frac: 132}); div != want {
		t.Errorf("divider = %+v, want %+v", div, want)
	}
	want := Quantization{Ideal: 516, Actual: 516, Residual: 7.8125e-6}
	if diff := cmp.Diff(want, q, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("quantization mismatch (-want +got):\n%s", diff)
	}
	if got := div.Cycles(1122, 125_000_000); got != 579092*time.Nanosecond {
		t.Errorf("1122 cycles = %v, want 579.092us", got)
	}

	_, q, _ = ComputeClkDiv(16*time.Microsecond, 125_000_000, 31, 1e-6)
	if !q.Exceeded {
		t.Error("residual above tolerance not flagged")
	}
}

func TestComputeClkDivClamp(t *testing.T) {
	tests := []struct {
		name   string
		target time.Duration
		want   ClkDiv
	}{
		{"below one", time.Nanosecond, ClkDiv{Whole: 1}},
		{"above max", time.Second, ClkDiv{}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			div, q, err := ComputeClkDiv(test.target, 125_000_000, 1, 0.01)
			if err != nil {
				t.Fatal(err)
			}
			if div != test.want {
				t.Errorf("divider = %+v, want %+v", div, test.want)
			}
			if !q.Exceeded || q.Residual < 0.5 {
				t.Errorf("clamped divider reported as %+v", q)
			}
		})
	}
	if got := (ClkDiv{}).Float(); got != 65536 {
		t.Errorf("sentinel divides by %v, want 65536", got)
	}
}

func TestComputeClkDivErrors(t *testing.T) {
	for _, args := range []struct {
		target time.Duration
		hz     uint32
		cycles uint32
	}{
		{0, 125_000_000, 1},
		{-time.Second, 125_000_000, 1},
		{time.Microsecond, 0, 1},
		{time.Microsecond, 125_000_000, 0},
	} {
		if _, _, err := ComputeClkDiv(args.target, args.hz, args.cycles, 0); err == nil {
			t.Errorf("ComputeClkDiv(%v, %d, %d) succeeded", args.target, args.hz, args.cycles)
		}
	}
}

// The chosen divider is within half a fixed point step of the ideal one
// whenever the ideal one is representable.
func TestComputeClkDivWithinStep(t *testing.T) {
	clocks := []uint32{1_000_000, 48_000_000, 125_000_000, 133_000_000, 150_000_000}
	targets := []time.Duration{
		10 * time.Nanosecond, 333 * time.Nanosecond, time.Microsecond,
		16 * time.Microsecond, 123456 * time.Nanosecond, time.Millisecond, 40 * time.Millisecond,
	}
	for _, hz := range clocks {
		for _, target := range targets {
			for _, cycles := range []uint32{1, 2, 3, 31, 1000} {
				div, q, err := ComputeClkDiv(target, hz, cycles, 0)
				if err != nil {
					t.Fatal(err)
				}
				if div.Whole == 0 && div.Frac != 0 {
					t.Errorf("%v/%d at %dHz: fractional sentinel %+v", target, cycles, hz, div)
				}
				ideal := float64(target) * float64(hz) * 256 / (1e9 * float64(cycles))
				if ideal < 256 || ideal > maxClkDivRaw {
					continue
				}
				if d := math.Abs(float64(div.raw()) - ideal); d > 0.5 {
					t.Errorf("%v/%d at %dHz: raw divider %d is %.3f steps from %.3f", target, cycles, hz, div.raw(), d, ideal)
				}
				if q.Residual > 0.5/256 {
					t.Errorf("%v/%d at %dHz: residual %g", target, cycles, hz, q.Residual)
				}
			}
		}
	}
}

func TestClkDivFromPeriod(t *testing.T) {
	whole, frac, err := ClkDivFromPeriod(1000, 125_000_000)
	if err != nil || whole != 125 || frac != 0 {
		t.Errorf("ClkDivFromPeriod(1us) = %d, %d, %v", whole, frac, err)
	}
	whole, frac, err = ClkDivFromFrequency(1_000_000, 125_000_000)
	if err != nil || whole != 125 || frac != 0 {
		t.Errorf("ClkDivFromFrequency(1MHz) = %d, %d, %v", whole, frac, err)
	}
	for _, freq := range []uint32{0, 1, 250_000_000} {
		if _, _, err := ClkDivFromFrequency(freq, 125_000_000); err == nil {
			t.Errorf("ClkDivFromFrequency(%d) succeeded", freq)
		}
	}
}
