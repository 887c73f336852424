package piolib

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"github.com/tinygo-org/piosim/internal/testutil"
	pio "github.com/tinygo-org/piosim/rp2-pio"
)

func newBlinker(t *testing.T, chip *pio.Chip, pin pio.Pin) *Blinker {
	t.Helper()
	sm, err := chip.PIO0.ClaimStateMachine()
	require.NoError(t, err)
	b, err := NewBlinker(sm, pin)
	require.NoError(t, err)
	return b
}

func TestBlinkerWaveform(t *testing.T) {
	chip := pio.NewChip(pio.Config{})
	b := newBlinker(t, chip, 6)
	require.Equal(t, time.Microsecond, b.Resolution())
	require.Equal(t, gpio.Low, chip.Pins().Level(6))
	require.NotZero(t, chip.Pins().Directions()&(1<<6))

	edges := testutil.RecordEdges(chip, 6)
	require.NoError(t, b.Set(time.Millisecond, 0.25))
	require.Equal(t, time.Millisecond, b.Period())
	require.InDelta(t, 0.25, b.Duty(), 1e-9)

	chip.Advance(2200 * time.Microsecond)
	rising, falling := edges.Rising(6), edges.Falling(6)
	require.Len(t, rising, 3)
	require.Len(t, falling, 2)
	for i := range falling {
		require.Equal(t, 250*time.Microsecond, falling[i].At-rising[i].At, "high phase %d", i)
		require.Equal(t, 750*time.Microsecond, rising[i+1].At-falling[i].At, "low phase %d", i)
	}
	// Three setup cycles before the first rising edge.
	require.Equal(t, 4*time.Microsecond, rising[0].At)

	b.Stop()
	level := chip.Pins().Level(6)
	chip.Advance(2 * time.Millisecond)
	require.Equal(t, level, chip.Pins().Level(6), "pin changed after Stop")
	require.Zero(t, b.Period())
}

func TestBlinkerResolution(t *testing.T) {
	chip := pio.NewChip(pio.Config{})
	b := newBlinker(t, chip, 2)
	require.NoError(t, b.SetResolution(100*time.Nanosecond))
	require.Equal(t, 100*time.Nanosecond, b.Resolution())

	edges := testutil.RecordEdges(chip, 2)
	require.NoError(t, b.Set(10*time.Microsecond, 0.5))
	require.Equal(t, 10*time.Microsecond, b.Period())
	chip.Advance(50 * time.Microsecond)
	rising := edges.Rising(2)
	require.GreaterOrEqual(t, len(rising), 4)
	for i := 1; i < len(rising); i++ {
		require.Equal(t, 10*time.Microsecond, rising[i].At-rising[i-1].At)
	}
}

func TestBlinkerSetErrors(t *testing.T) {
	chip := pio.NewChip(pio.Config{})
	b := newBlinker(t, chip, 2)
	for _, test := range []struct {
		name   string
		period time.Duration
		duty   float64
	}{
		{"phase too short", 4 * time.Microsecond, 0.5},
		{"always high", time.Millisecond, 1},
		{"duty above one", time.Millisecond, 1.5},
		{"negative period", -time.Millisecond, 0.5},
	} {
		t.Run(test.name, func(t *testing.T) {
			require.ErrorIs(t, b.Set(test.period, test.duty), errTiming)
		})
	}
	require.Zero(t, b.Duty())
}
