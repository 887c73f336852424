package piolib

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"

	"github.com/tinygo-org/piosim/internal/testutil"
	pio "github.com/tinygo-org/piosim/rp2-pio"
)

const (
	testTrigger pio.Pin = 2
	testEcho    pio.Pin = 3
)

func newHCSR04(t *testing.T, chip *pio.Chip, cfg HCSR04Config) *HCSR04 {
	t.Helper()
	sm, err := chip.PIO0.ClaimStateMachine()
	require.NoError(t, err)
	h, err := NewHCSR04(sm, cfg)
	require.NoError(t, err)
	return h
}

func speedOfSoundConfig() HCSR04Config {
	cfg := DefaultHCSR04Config(testTrigger, testEcho)
	cfg.SpeedOfSound = 330 * physic.MetrePerSecond
	return cfg
}

func requireDistance(t *testing.T, h *HCSR04, want, got physic.Distance) {
	t.Helper()
	require.InDelta(t, float64(want), float64(got), float64(h.Resolution()),
		"measured %v, want %v within one step of %v", got, want, h.Resolution())
}

func TestHCSR04Timing(t *testing.T) {
	chip := pio.NewChip(pio.Config{})
	h := newHCSR04(t, chip, speedOfSoundConfig())

	require.Equal(t, pio.ClkDiv{Whole: 64, Frac: 132}, h.ClkDiv())
	q := h.Quantization()
	require.Equal(t, 516*time.Nanosecond, q.Actual)
	require.InDelta(t, 7.8125e-6, q.Residual, 1e-12)
	require.False(t, q.Exceeded)
	require.Equal(t, uint32(36812), h.Budget())
	// Two cycles of 516.125ns, rounded to 1032ns, at 330m/s.
	require.Equal(t, 170280*physic.NanoMetre, h.Resolution())

	edges := testutil.RecordEdges(chip, testTrigger)
	require.NoError(t, h.Trigger())
	chip.Advance(100 * time.Microsecond)
	rising, falling := edges.Rising(testTrigger), edges.Falling(testTrigger)
	require.Len(t, rising, 1)
	require.Len(t, falling, 1)
	require.InDelta(t, float64(16*time.Microsecond), float64(falling[0].At-rising[0].At), 2)
}

func TestHCSR04PulseSteps(t *testing.T) {
	require.Equal(t, uint16(0xfe01), hcsr04ProgramFor(31).Instructions[3])
	require.Equal(t, uint16(0xef01), hcsr04ProgramFor(16).Instructions[3])
	require.Equal(t, uint16(0xe001), hcsr04ProgramFor(1).Instructions[3])
	require.Equal(t, uint16(0xfe01), hcsr04Program.Instructions[3], "patching modified the shared program")

	chip := pio.NewChip(pio.Config{})
	cfg := DefaultHCSR04Config(testTrigger, testEcho)
	cfg.PulseSteps = 8
	h := newHCSR04(t, chip, cfg)
	// 16us over 8 cycles needs a divider of 250.
	require.Equal(t, pio.ClkDiv{Whole: 250}, h.ClkDiv())
	edges := testutil.RecordEdges(chip, testTrigger)
	require.NoError(t, h.Trigger())
	chip.Advance(100 * time.Microsecond)
	rising, falling := edges.Rising(testTrigger), edges.Falling(testTrigger)
	require.Len(t, falling, 1)
	require.Equal(t, 16*time.Microsecond, falling[0].At-rising[0].At)
}

func TestHCSR04ConfigErrors(t *testing.T) {
	chip := pio.NewChip(pio.Config{})
	sm, err := chip.PIO0.ClaimStateMachine()
	require.NoError(t, err)
	defer func() { require.True(t, sm.IsClaimed(), "failed constructor released a claim it did not take") }()

	cfg := DefaultHCSR04Config(5, 5)
	_, err = NewHCSR04(sm, cfg)
	require.ErrorIs(t, err, pio.ErrPinDirection)

	cfg = DefaultHCSR04Config(testTrigger, testEcho)
	cfg.PulseSteps = 33
	_, err = NewHCSR04(sm, cfg)
	require.ErrorIs(t, err, errTiming)

	cfg = DefaultHCSR04Config(testTrigger, testEcho)
	cfg.Pulse = -time.Microsecond
	_, err = NewHCSR04(sm, cfg)
	require.Error(t, err)

	// Failed constructors leave the program memory free.
	_, err = NewHCSR04(sm, DefaultHCSR04Config(testTrigger, testEcho))
	require.NoError(t, err)
}

func TestHCSR04Poll(t *testing.T) {
	chip := pio.NewChip(pio.Config{})
	h := newHCSR04(t, chip, speedOfSoundConfig())
	target := &EchoTarget{Trigger: testTrigger, Echo: testEcho, Width: 580 * time.Microsecond, Latency: 100 * time.Microsecond}
	target.Attach(chip)

	d, ok, err := h.Poll()
	require.NoError(t, err)
	require.False(t, ok, "reading without a measurement")

	require.NoError(t, h.Trigger())
	require.ErrorIs(t, h.Trigger(), ErrBusy)
	d, ok, err = h.Poll()
	require.NoError(t, err)
	require.False(t, ok, "reading before device time advanced")

	chip.Advance(2 * time.Millisecond)
	d, ok, err = h.Poll()
	require.NoError(t, err)
	require.True(t, ok)
	// 580us round trip at 330m/s.
	requireDistance(t, h, 95700*physic.MicroMetre, d)
	require.Equal(t, d, h.Distance())
	require.Equal(t, int32(d/physic.MilliMetre), h.ReadDistance())

	target.Width = 0
	target.Distance = 500 * physic.MilliMetre
	target.Speed = 330 * physic.MetrePerSecond
	require.NoError(t, h.Trigger())
	chip.Advance(5 * time.Millisecond)
	d, ok, err = h.Poll()
	require.NoError(t, err)
	require.True(t, ok)
	requireDistance(t, h, target.Distance, d)
}

func TestHCSR04NoEcho(t *testing.T) {
	chip := pio.NewChip(pio.Config{})
	h := newHCSR04(t, chip, speedOfSoundConfig())
	target := &EchoTarget{Trigger: testTrigger, Echo: testEcho}
	target.Attach(chip)

	require.NoError(t, h.Trigger())
	chip.Advance(70 * time.Millisecond)
	_, ok, err := h.Poll()
	require.NoError(t, err, "window is twice the timeout")
	require.False(t, ok)
	chip.Advance(7 * time.Millisecond)
	_, ok, err = h.Poll()
	require.ErrorIs(t, err, ErrNoEcho)
	require.False(t, ok)

	// The program gave up waiting and is ready for the next trigger.
	target.Width = 580 * time.Microsecond
	require.NoError(t, h.Trigger())
	chip.Advance(2 * time.Millisecond)
	d, ok, err := h.Poll()
	require.NoError(t, err)
	require.True(t, ok)
	requireDistance(t, h, 95700*physic.MicroMetre, d)
}

func TestHCSR04DiscardsStaleReading(t *testing.T) {
	chip := pio.NewChip(pio.Config{})
	cfg := speedOfSoundConfig()
	cfg.Window = time.Millisecond
	h := newHCSR04(t, chip, cfg)
	target := &EchoTarget{Trigger: testTrigger, Echo: testEcho}
	target.Attach(chip)

	require.NoError(t, h.Trigger())
	chip.Advance(2 * time.Millisecond)
	_, _, err := h.Poll()
	require.ErrorIs(t, err, ErrNoEcho)

	// A late echo while the program still waits produces a reading nobody
	// polls for.
	now := chip.Now()
	chip.Pins().Schedule(
		pio.PinEvent{At: now + 10*time.Microsecond, Pin: testEcho, Level: gpio.High},
		pio.PinEvent{At: now + 590*time.Microsecond, Pin: testEcho, Level: gpio.Low},
	)
	chip.Advance(time.Millisecond)
	require.Equal(t, uint32(1), h.sm.RxFIFOLevel())

	target.Width = 1160 * time.Microsecond
	require.NoError(t, h.Trigger())
	chip.Advance(3 * time.Millisecond)
	d, ok, err := h.Poll()
	require.NoError(t, err)
	require.True(t, ok)
	requireDistance(t, h, 191400*physic.MicroMetre, d)
}

func TestHCSR04RestartsAfterAbandonedMeasurement(t *testing.T) {
	for _, test := range []struct {
		name    string
		abandon func(t *testing.T, chip *pio.Chip, h *HCSR04)
	}{
		{"cancelled", func(t *testing.T, chip *pio.Chip, h *HCSR04) {
			ctx, cancel := context.WithCancel(testutil.Context(t))
			cancel()
			_, err := h.Measure(ctx)
			require.ErrorIs(t, err, context.Canceled)
			chip.Advance(2 * time.Millisecond)
		}},
		{"window passed", func(t *testing.T, chip *pio.Chip, h *HCSR04) {
			require.NoError(t, h.Trigger())
			chip.Advance(2 * time.Millisecond)
			_, _, err := h.Poll()
			require.ErrorIs(t, err, ErrNoEcho)
		}},
	} {
		t.Run(test.name, func(t *testing.T) {
			chip := pio.NewChip(pio.Config{})
			cfg := speedOfSoundConfig()
			cfg.Window = time.Millisecond
			h := newHCSR04(t, chip, cfg)
			// The echo outlasts the window, the program is still counting it.
			target := &EchoTarget{Trigger: testTrigger, Echo: testEcho, Width: 10 * time.Millisecond}
			target.Attach(chip)
			test.abandon(t, chip, h)

			target.Width = 580 * time.Microsecond
			require.NoError(t, h.Trigger())
			chip.Advance(20 * time.Millisecond)
			d, ok, err := h.Poll()
			require.NoError(t, err)
			require.True(t, ok)
			requireDistance(t, h, 95700*physic.MicroMetre, d)
			require.Zero(t, h.sm.RxFIFOLevel(), "reading of the abandoned measurement")
		})
	}
}

func TestConstructorsReleaseClaimOnError(t *testing.T) {
	chip := pio.NewChip(pio.Config{})
	sm := chip.PIO0.StateMachine(1)

	cfg := DefaultHCSR04Config(testTrigger, testEcho)
	cfg.Pulse = -time.Microsecond
	_, err := NewHCSR04(sm, cfg)
	require.Error(t, err)
	require.False(t, sm.IsClaimed())

	// No program fits once the memory is full.
	_, err = chip.PIO0.AddProgram(make([]uint16, 32), -1)
	require.NoError(t, err)
	_, err = NewBlinker(sm, 4)
	require.Error(t, err)
	require.False(t, sm.IsClaimed())
	_, err = NewPulsar(sm, 4)
	require.Error(t, err)
	require.False(t, sm.IsClaimed())
}

func TestHCSR04Measure(t *testing.T) {
	ctx := testutil.Context(t)
	chip := pio.NewChip(pio.Config{})
	cfg := speedOfSoundConfig()
	cfg.Window = 5 * time.Millisecond
	h := newHCSR04(t, chip, cfg)
	target := &EchoTarget{
		Trigger:  testTrigger,
		Echo:     testEcho,
		Distance: 300 * physic.MilliMetre,
		Speed:    cfg.SpeedOfSound,
		Latency:  200 * time.Microsecond,
	}
	target.Attach(chip)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return chip.Run(ctx, 1)
	})
	var measured, updated physic.Distance
	var noEcho error
	eg.Go(func() error {
		defer cancel()
		d, err := h.Measure(ctx)
		if err != nil {
			return err
		}
		measured = d
		if err := h.Update(drivers.Temperature); err != nil {
			return err
		}
		if h.Distance() != measured {
			return fmt.Errorf("Update without distance measured again")
		}
		// The target only moves while no measurement is pending.
		target.Distance = 600 * physic.MilliMetre
		if err := h.Update(drivers.Distance); err != nil {
			return err
		}
		updated = h.Distance()

		target.Distance = 0
		_, noEcho = h.Measure(ctx)
		return nil
	})
	err := eg.Wait()
	require.True(t, errors.Is(err, context.Canceled), "Wait() = %v", err)
	requireDistance(t, h, 300*physic.MilliMetre, measured)
	requireDistance(t, h, 600*physic.MilliMetre, updated)
	require.ErrorIs(t, noEcho, ErrNoEcho)
}

func TestHCSR04MeasureCancelled(t *testing.T) {
	chip := pio.NewChip(pio.Config{})
	h := newHCSR04(t, chip, speedOfSoundConfig())
	ctx, cancel := context.WithCancel(testutil.Context(t))
	cancel()
	_, err := h.Measure(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, h.Trigger(), "cancelled measurement left the sensor busy")
}

func TestHCSR04Close(t *testing.T) {
	chip := pio.NewChip(pio.Config{})
	h := newHCSR04(t, chip, speedOfSoundConfig())
	sm := h.sm
	h.Close()
	require.False(t, sm.IsEnabled())
	require.False(t, sm.IsClaimed())
	require.Panics(t, func() { h.Trigger() })

	// The program memory was freed for the next driver.
	h = newHCSR04(t, chip, speedOfSoundConfig())
	require.Equal(t, sm.StateMachineIndex(), h.sm.StateMachineIndex())
}

func TestEchoTargetRoundTrip(t *testing.T) {
	for _, test := range []struct {
		target EchoTarget
		want   time.Duration
	}{
		{EchoTarget{}, 0},
		{EchoTarget{Width: time.Millisecond, Distance: physic.Metre}, time.Millisecond},
		{EchoTarget{Distance: 343 * physic.MilliMetre}, 2 * time.Millisecond},
		{EchoTarget{Distance: 165 * physic.MilliMetre, Speed: 330 * physic.MetrePerSecond}, time.Millisecond},
	} {
		require.Equal(t, test.want, test.target.RoundTrip(), "%+v", test.target)
	}
}
