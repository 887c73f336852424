package pio

import (
	"context"
	"math"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/physic"
)

// DefaultClockFrequency is the RP2040 system clock after the default
// clock tree setup.
const DefaultClockFrequency = 125 * physic.MegaHertz

// subcycles per device clock cycle. Virtual time is counted in 1/256 steps
// so fractional clock dividers accumulate without drift.
const subcycles = 256

// Config configures a simulated chip.
type Config struct {
	// ClockFrequency is the device clock feeding both PIO blocks.
	// Zero selects DefaultClockFrequency.
	ClockFrequency physic.Frequency
}

// Chip is a simulated RP2040 with two PIO blocks sharing one GPIO bank and
// one time domain. All state machines advance in lock-step on virtual
// device time which only moves forward through Advance, AdvanceCycles or Run.
type Chip struct {
	// PIO0 and PIO1 are the two PIO blocks of the chip.
	PIO0, PIO1 *PIO

	mu   sync.Mutex
	hz   uint64
	now  uint64 // subcycles since reset
	pins PinBank
}

var taken atomic.Bool

// Take returns the process-wide chip. It panics if called more than once,
// mirroring exclusive ownership of the hardware singleton. Tests that need
// several independent chips use NewChip.
func Take(cfg Config) *Chip {
	if !taken.CompareAndSwap(false, true) {
		panic("pio: chip already taken")
	}
	return NewChip(cfg)
}

// NewChip returns a chip at time zero with all state machines disabled,
// empty program memory and all pins as inputs pulled low.
func NewChip(cfg Config) *Chip {
	freq := cfg.ClockFrequency
	if freq == 0 {
		freq = DefaultClockFrequency
	}
	if freq < physic.Hertz {
		panic("pio: clock frequency below 1Hz")
	}
	c := &Chip{hz: uint64(freq / physic.Hertz)}
	c.pins.chip = c
	c.PIO0 = newPIO(c, 0)
	c.PIO1 = newPIO(c, 1)
	return c
}

// ClockFrequency returns the device clock frequency.
func (c *Chip) ClockFrequency() physic.Frequency {
	return physic.Frequency(c.hz) * physic.Hertz
}

// Pins returns the GPIO bank of the chip.
func (c *Chip) Pins() *PinBank { return &c.pins }

// Now returns the current device time.
func (c *Chip) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toDuration(c.now)
}

// Advance runs every enabled state machine for d of device time.
func (c *Chip) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceTo(satAdd(c.now, c.toSub(d)))
}

// AdvanceCycles runs every enabled state machine for n device clock cycles.
func (c *Chip) AdvanceCycles(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hi, lo := bits.Mul64(n, subcycles)
	if hi != 0 {
		lo = math.MaxUint64
	}
	c.advanceTo(satAdd(c.now, lo))
}

// Run advances device time along with wall-clock time until ctx is done.
// scale multiplies wall-clock time: 1 runs in real time, 0.5 at half speed.
// It always returns a non-nil error, ctx.Err() on cancellation.
func (c *Chip) Run(ctx context.Context, scale float64) error {
	if scale <= 0 {
		scale = 1
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	last := time.Now()
	var carry float64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			carry += float64(t.Sub(last)) * scale
			last = t
			step := time.Duration(carry)
			carry -= float64(step)
			c.Advance(step)
		}
	}
}

// advanceTo executes state machine ticks in device time order up to and
// including target. Ties are broken by block then state machine index.
// c.mu must be held.
func (c *Chip) advanceTo(target uint64) {
	for {
		sm := c.nextDue(target)
		if sm == nil {
			break
		}
		c.pins.settle(sm.nextTick)
		c.now = sm.nextTick
		sm.tick()
		sm.nextTick = satAdd(sm.nextTick, sm.interval())
	}
	c.pins.settle(target)
	c.now = target
}

func (c *Chip) nextDue(target uint64) *smState {
	var due *smState
	for _, block := range [...]*PIO{c.PIO0, c.PIO1} {
		for i := range block.sms {
			sm := &block.sms[i]
			if !sm.enabled || sm.nextTick > target {
				continue
			}
			if due == nil || sm.nextTick < due.nextTick {
				due = sm
			}
		}
	}
	return due
}

func (c *Chip) toSub(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return mulDiv(uint64(d), c.hz*subcycles, uint64(time.Second))
}

// toSubCeil converts d to the first subcycle at or after d.
func (c *Chip) toSubCeil(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return mulDivCeil(uint64(d), c.hz*subcycles, uint64(time.Second))
}

func (c *Chip) toDuration(sub uint64) time.Duration {
	ns := mulDiv(sub, uint64(time.Second), c.hz*subcycles)
	if ns > math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(ns)
}

// mulDiv returns a*b/c rounded down, saturating at MaxUint64.
func mulDiv(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, c)
	return q
}

func mulDivCeil(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return math.MaxUint64
	}
	q, r := bits.Div64(hi, lo, c)
	if r != 0 {
		q = satAdd(q, 1)
	}
	return q
}

// mulDivRound returns a*b/c rounded to nearest, saturating at MaxUint64.
func mulDivRound(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	var carry uint64
	lo, carry = bits.Add64(lo, c/2, 0)
	hi += carry
	if hi >= c {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, c)
	return q
}

func satAdd(a, b uint64) uint64 {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return s
}
