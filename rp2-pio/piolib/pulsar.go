package piolib

import (
	_ "embed"
	"time"

	"periph.io/x/conn/v3/physic"

	pio "github.com/tinygo-org/piosim/rp2-pio"
)

//go:embed pulsar.pio
var pulsarSource string

var pulsarProgram = pio.MustAssemble(pulsarSource)

// Pulsar implements a square-wave generator that pulses a determined amount of pulses.
type Pulsar struct {
	sm            pio.StateMachine
	offsetPlusOne uint8
}

// NewPulsar returns a new Pulsar ready for use.
func NewPulsar(sm pio.StateMachine, pin pio.Pin) (_ *Pulsar, err error) {
	// SM should be claimed beforehand, we just guarantee it's claimed.
	if sm.TryClaim() {
		defer func() {
			if err != nil {
				sm.Unclaim()
			}
		}()
	}
	Pio := sm.PIO()

	prog, err := Pio.Install(pulsarProgram)
	if err != nil {
		return nil, err
	}
	offset := prog.Offset()
	sm.SetPindirsConsecutive(pin, 1, true)
	cfg := prog.DefaultConfig()
	cfg.SetSetPins(pin, 1)
	sm.Init(offset, cfg)
	if err := sm.Start(); err != nil {
		prog.Remove()
		return nil, err
	}
	return &Pulsar{sm: sm, offsetPlusOne: offset + 1}, nil
}

// IsQueueFull checks if the pulsar's queue is full.
func (p *Pulsar) IsQueueFull() bool {
	p.mustValid()
	return p.sm.IsTxFIFOFull()
}

// Queued returns amount of actions in the pulsar's queue.
func (p *Pulsar) Queued() uint8 {
	return uint8(p.sm.TxFIFOLevel())
}

// TryQueue adds an action to the pulsar's queue. If the queue is full it returns an error.
func (p *Pulsar) TryQueue(count uint32) error {
	if count == 0 {
		return nil
	} else if p.IsQueueFull() {
		return errQueueFull
	}
	p.sm.TxPut(count - 1)
	return nil
}

// SetPeriod sets the pulsar's square-wave period. Is safe to call while pulsar is running.
func (p *Pulsar) SetPeriod(period time.Duration) error {
	p.mustValid()
	period /= 4 // Full pulse cycle is 4 instructions.
	hz := uint32(p.sm.PIO().ClockFrequency() / physic.Hertz)
	whole, frac, err := pio.ClkDivFromPeriod(uint32(period), hz)
	if err != nil {
		return err
	}
	p.sm.SetClkDiv(whole, frac)
	return nil
}

// Pause pauses the pulsar if enabled is true. If false unpauses the pulsar.
func (p *Pulsar) Pause(disabled bool) {
	p.mustValid()
	p.sm.SetEnabled(!disabled)
}

// Stop stops and resets the pulsar to initial state.
// Will unpause pulsar as well if paused and clear it's queue.
func (p *Pulsar) Stop() {
	p.mustValid()
	// See StateMachine.Init for reference on this sequence of operations.
	p.sm.SetEnabled(false)
	p.sm.ClearFIFOs()
	p.sm.Restart()
	p.sm.ClkDivRestart()
	p.sm.Exec(pio.EncodeJmp(p.offsetPlusOne-1, pio.JmpAlways))
	p.sm.SetEnabled(true)
}

func (p *Pulsar) mustValid() {
	if p.offsetPlusOne == 0 {
		panic("piolib: Pulsar not initialized")
	}
}
