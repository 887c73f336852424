package pio

import (
	"errors"
	"math"
	"math/bits"
	"time"
)

var (
	errBadTarget        = errors.New("pio: clock divider target must be positive")
	errBadClock         = errors.New("pio: device clock must be positive")
	errBadCyclesPerUnit = errors.New("pio: cycles per unit must be positive")
)

// maxClkDivRaw is the largest divisor, 65536, in 1/256 steps. It is encoded
// as a zero integer part.
const maxClkDivRaw = 65536 * 256

// ClkDiv is a state machine clock divisor in 16.8 fixed point. The state
// machine executes at device clock / (Whole + Frac/256). Whole == 0 is the
// slowest setting and divides by 65536.
type ClkDiv struct {
	Whole uint16
	Frac  uint8
}

// raw returns the divisor in 1/256 steps.
func (div ClkDiv) raw() uint64 {
	if div.Whole == 0 {
		return maxClkDivRaw
	}
	return uint64(div.Whole)<<8 | uint64(div.Frac)
}

func clkDivFromRaw(raw uint64) ClkDiv {
	if raw >= maxClkDivRaw {
		return ClkDiv{}
	}
	return ClkDiv{Whole: uint16(raw >> 8), Frac: uint8(raw)}
}

// Float returns the divisor as a real number.
func (div ClkDiv) Float() float64 {
	return float64(div.raw()) / 256
}

// Period returns the duration of one state machine cycle, rounded to the
// nearest nanosecond.
func (div ClkDiv) Period(deviceClockHz uint32) time.Duration {
	return div.Cycles(1, deviceClockHz)
}

// Cycles returns the duration of n state machine cycles. The product is
// computed exactly and rounded once, so long counts do not accumulate the
// rounding error of Period.
func (div ClkDiv) Cycles(n uint64, deviceClockHz uint32) time.Duration {
	if deviceClockHz == 0 {
		return 0
	}
	hi, sub := bits.Mul64(n, div.raw())
	if hi != 0 {
		return math.MaxInt64
	}
	ns := mulDivRound(sub, uint64(time.Second), uint64(deviceClockHz)*subcycles)
	if ns > math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(ns)
}

// Quantization reports how far a computed divisor is from the requested one.
type Quantization struct {
	// Ideal is the requested state machine cycle period.
	Ideal time.Duration
	// Actual is the cycle period the chosen divisor produces.
	Actual time.Duration
	// Residual is |actual - ideal| / ideal, computed on the exact divisors.
	Residual float64
	// Exceeded is set when Residual is above the caller's tolerance.
	Exceeded bool
}

// ComputeClkDiv returns the divisor that makes cyclesPerUnit state machine
// cycles last target at deviceClockHz, rounded to the nearest 1/256 step.
// Divisors below 1 clamp to 1 and divisors above 65536 clamp to 65536; the
// error of clamping and rounding is reported in the Quantization, which
// flags it as Exceeded when above tolerance. Quantization is never an error.
func ComputeClkDiv(target time.Duration, deviceClockHz uint32, cyclesPerUnit uint32, tolerance float64) (ClkDiv, Quantization, error) {
	switch {
	case target <= 0:
		return ClkDiv{}, Quantization{}, errBadTarget
	case deviceClockHz == 0:
		return ClkDiv{}, Quantization{}, errBadClock
	case cyclesPerUnit == 0:
		return ClkDiv{}, Quantization{}, errBadCyclesPerUnit
	}
	//  period = target / cyclesPerUnit = 256*div / clock
	//  256*div = target * clock * 256 / (1e9 * cyclesPerUnit)
	den := uint64(time.Second) * uint64(cyclesPerUnit)
	raw := mulDivRound(uint64(target), uint64(deviceClockHz)*subcycles, den)
	if raw < subcycles {
		raw = subcycles
	} else if raw > maxClkDivRaw {
		raw = maxClkDivRaw
	}
	div := clkDivFromRaw(raw)

	ideal := float64(target) * float64(deviceClockHz) * subcycles / float64(den)
	q := Quantization{
		Ideal:  time.Duration(math.Round(float64(target) / float64(cyclesPerUnit))),
		Actual: div.Period(deviceClockHz),
	}
	q.Residual = math.Abs(float64(raw)-ideal) / ideal
	q.Exceeded = q.Residual > tolerance
	return div, q, nil
}

// ClkDivFromPeriod calculates the CLKDIV register values
// to reach a given StateMachine cycle period given the RP2040 CPU frequency.
// period is expected to be in nanoseconds. freq is expected to be in Hz.
//
// Prefer using ClkDivFromFrequency if possible for speed and accuracy.
func ClkDivFromPeriod(period, cpuFreq uint32) (whole uint16, frac uint8, err error) {
	//  freq = 256*clockfreq / (256*whole + frac)
	// where period = 1e9/freq => freq = 1e9/period, so:
	//  1e9/period = 256*clockfreq / (256*whole + frac) =>
	//  256*whole + frac = 256*clockfreq*period/1e9
	return splitClkdiv(256 * uint64(period) * uint64(cpuFreq) / uint64(1e9))
}

// ClkDivFromFrequency calculates the CLKDIV register values
// to reach a given StateMachine cycle frequency. freq and cpuFreq are expected to be in Hz.
//
// Use powers of two for freq to avoid slow divisions and rounding errors.
func ClkDivFromFrequency(freq, cpuFreq uint32) (whole uint16, frac uint8, err error) {
	if freq == 0 {
		return 0, 0, errors.New("ClkDiv: zero frequency")
	}
	//  freq = 256*clockfreq / (256*whole + frac)
	//  256*whole + frac = 256*clockfreq / freq
	return splitClkdiv(256 * uint64(cpuFreq) / uint64(freq))
}

func splitClkdiv(clkdiv uint64) (whole uint16, frac uint8, err error) {
	if clkdiv > 256*math.MaxUint16 {
		return 0, 0, errors.New("ClkDiv: too large period or CPU frequency")
	} else if clkdiv < 256 {
		return 0, 0, errors.New("ClkDiv: too small period or CPU frequency")
	}
	whole = uint16(clkdiv / 256)
	frac = uint8(clkdiv % 256)
	return whole, frac, nil
}
