package piolib

import (
	_ "embed"
	"fmt"
	"math"
	"time"

	"periph.io/x/conn/v3/physic"

	pio "github.com/tinygo-org/piosim/rp2-pio"
)

//go:embed blinker.pio
var blinkerSource string

var blinkerProgram = pio.MustAssemble(blinkerSource)

// blinkerOverhead is the number of cycles of each half period spent outside
// the counting loop.
const blinkerOverhead = 3

// Blinker drives a pin with a periodic pulse of configurable period and
// duty cycle.
type Blinker struct {
	sm     pio.StateMachine
	prog   pio.InstalledProgram
	pin    pio.Pin
	hz     uint32
	div    pio.ClkDiv
	high   uint32 // loop counts pushed to the program
	low    uint32
	active bool
}

// NewBlinker installs the blinker program on the state machine's block and
// configures pin as its output. The pin stays low until Set is called.
// The default resolution is one microsecond.
func NewBlinker(sm pio.StateMachine, pin pio.Pin) (_ *Blinker, err error) {
	if sm.TryClaim() {
		defer func() {
			if err != nil {
				sm.Unclaim()
			}
		}()
	}
	Pio := sm.PIO()
	prog, err := Pio.Install(blinkerProgram)
	if err != nil {
		return nil, err
	}
	b := &Blinker{
		sm:   sm,
		prog: prog,
		pin:  pin,
		hz:   uint32(Pio.ClockFrequency() / physic.Hertz),
	}
	if err := b.SetResolution(time.Microsecond); err != nil {
		prog.Remove()
		return nil, err
	}
	sm.SetPinsConsecutive(pin, 1, false)
	sm.SetPindirsConsecutive(pin, 1, true)
	return b, nil
}

// SetResolution sets the duration of one state machine cycle, the step in
// which period and duty cycle are quantized. It takes effect on the next Set.
func (b *Blinker) SetResolution(d time.Duration) error {
	div, _, err := pio.ComputeClkDiv(d, b.hz, 1, 0)
	if err != nil {
		return err
	}
	b.div = div
	return nil
}

// Resolution returns the actual duration of one state machine cycle.
func (b *Blinker) Resolution() time.Duration {
	return b.div.Period(b.hz)
}

// Set restarts the blinker with the given period and fraction of the period
// the pin is high. Both phases must last at least 3 cycles.
func (b *Blinker) Set(period time.Duration, duty float64) error {
	if period <= 0 || duty < 0 || duty > 1 || math.IsNaN(duty) {
		return fmt.Errorf("%w: period %v, duty %v", errTiming, period, duty)
	}
	cycleNs := b.div.Float() * float64(time.Second) / float64(b.hz)
	total := math.Round(float64(period) / cycleNs)
	high := math.Round(total * duty)
	low := total - high
	if high < blinkerOverhead || low < blinkerOverhead || total > math.MaxUint32 {
		return fmt.Errorf("%w: %v at %.2f duty needs %v cycles of %v", errTiming, period, duty, total, b.Resolution())
	}
	b.high = uint32(high) - blinkerOverhead
	b.low = uint32(low) - blinkerOverhead

	cfg := b.prog.DefaultConfig()
	cfg.SetSetPins(b.pin, 1)
	cfg.SetClkDiv(b.div)
	b.sm.Init(b.prog.Offset(), cfg)
	b.sm.TxPut(b.high)
	b.sm.TxPut(b.low)
	if err := b.sm.Start(); err != nil {
		return err
	}
	b.active = true
	return nil
}

// Period returns the actual period produced by the last Set.
func (b *Blinker) Period() time.Duration {
	if !b.active {
		return 0
	}
	return b.div.Cycles(uint64(b.high)+uint64(b.low)+2*blinkerOverhead, b.hz)
}

// Duty returns the actual duty cycle produced by the last Set.
func (b *Blinker) Duty() float64 {
	if !b.active {
		return 0
	}
	high := float64(b.high + blinkerOverhead)
	return high / (high + float64(b.low+blinkerOverhead))
}

// Stop halts the blinker. The pin keeps its last level.
func (b *Blinker) Stop() {
	b.sm.Stop()
	b.active = false
}
