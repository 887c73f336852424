package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/tinygo-org/piosim/internal/testutil"
	pio "github.com/tinygo-org/piosim/rp2-pio"
)

func TestBlinkHalfPeriod(t *testing.T) {
	chip := pio.NewChip(pio.Config{ClockFrequency: physic.MegaHertz})
	const led pio.Pin = 17
	installed, err := chip.PIO0.Install(pio.MustAssemble(blinkSource))
	require.NoError(t, err)
	sm, err := chip.PIO0.ClaimStateMachine()
	require.NoError(t, err)
	cfg := installed.DefaultConfig()
	cfg.SetSetPins(led, 1)
	cfg.SetClkDivIntFrac(0, 0)
	sm.Init(installed.Offset(), cfg)
	sm.SetPindirsConsecutive(led, 1, true)
	edges := testutil.RecordEdges(chip, led)
	require.NoError(t, sm.Start())

	chip.Advance(5 * time.Second)
	rising, falling := edges.Rising(led), edges.Falling(led)
	require.Len(t, rising, 2)
	require.Len(t, falling, 1)
	// 32 loop iterations plus mov and set, each cycle 65536 clocks of 1us.
	const half = 34 * 65536 * time.Microsecond
	require.Equal(t, 3*65536*time.Microsecond, rising[0].At)
	require.Equal(t, half, falling[0].At-rising[0].At)
	require.Equal(t, half, rising[1].At-falling[0].At)
}
