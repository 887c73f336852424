// Package testutil holds helpers shared by the tests of the simulator and
// its drivers.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"

	pio "github.com/tinygo-org/piosim/rp2-pio"
)

// Context returns a context carrying a development logger, cancelled when
// the test ends.
func Context(t testing.TB) context.Context {
	ctx := context.Background()
	ctx, cf := context.WithCancel(ctx)
	t.Cleanup(cf)
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	ctx = logctx.NewContext(ctx, l)
	return ctx
}

// Edges records the level changes of a set of pins.
type Edges struct {
	Events []pio.PinEvent
}

// RecordEdges attaches a recorder to pins of chip.
func RecordEdges(chip *pio.Chip, pins ...pio.Pin) *Edges {
	e := &Edges{}
	for _, pin := range pins {
		chip.Pins().OnEdge(pin, func(ev pio.PinEvent) []pio.PinEvent {
			e.Events = append(e.Events, ev)
			return nil
		})
	}
	return e
}

// Rising returns the rising edges recorded on pin.
func (e *Edges) Rising(pin pio.Pin) []pio.PinEvent {
	return e.filter(pin, gpio.High)
}

// Falling returns the falling edges recorded on pin.
func (e *Edges) Falling(pin pio.Pin) []pio.PinEvent {
	return e.filter(pin, gpio.Low)
}

func (e *Edges) filter(pin pio.Pin, level gpio.Level) []pio.PinEvent {
	var out []pio.PinEvent
	for _, ev := range e.Events {
		if ev.Pin == pin && ev.Level == level {
			out = append(out, ev)
		}
	}
	return out
}
