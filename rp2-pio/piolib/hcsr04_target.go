package piolib

import (
	"math"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	pio "github.com/tinygo-org/piosim/rp2-pio"
)

// EchoTarget simulates an HC-SR04 and the object in front of it: every
// falling edge on Trigger is answered with a pulse on Echo as long as the
// sound round trip.
type EchoTarget struct {
	Trigger pio.Pin
	Echo    pio.Pin
	// Distance to the object. Zero means nothing answers.
	Distance physic.Distance
	// Speed of sound, 343m/s when zero.
	Speed physic.Speed
	// Latency between the end of the trigger pulse and the echo rising.
	Latency time.Duration
	// Width overrides the echo pulse width computed from Distance.
	Width time.Duration
}

// Attach registers the target on the chip's pin bank. Fields are read on
// every trigger so they may be changed between measurements.
func (e *EchoTarget) Attach(chip *pio.Chip) {
	chip.Pins().OnEdge(e.Trigger, func(ev pio.PinEvent) []pio.PinEvent {
		if ev.Level != gpio.Low {
			return nil
		}
		width := e.RoundTrip()
		if width <= 0 {
			return nil
		}
		rise := ev.At + e.Latency
		return []pio.PinEvent{
			{At: rise, Pin: e.Echo, Level: gpio.High},
			{At: rise + width, Pin: e.Echo, Level: gpio.Low},
		}
	})
}

// RoundTrip returns the echo pulse width the target produces.
func (e *EchoTarget) RoundTrip() time.Duration {
	if e.Width > 0 {
		return e.Width
	}
	if e.Distance <= 0 {
		return 0
	}
	speed := e.Speed
	if speed <= 0 {
		speed = 343 * physic.MetrePerSecond
	}
	ns := 2 * float64(e.Distance) / float64(speed) * float64(time.Second)
	return time.Duration(math.Round(ns))
}
