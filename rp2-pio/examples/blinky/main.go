// Command blinky toggles a pin from a PIO program running at the slowest
// clock divider and logs every edge.
package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"

	pio "github.com/tinygo-org/piosim/rp2-pio"
)

//go:embed blink.pio
var blinkSource string

var (
	pin      = flag.Uint("pin", 17, "GPIO driven by the program")
	duration = flag.Duration("d", 2*time.Second, "device time to run for")
	scale    = flag.Float64("scale", 1, "device time per wall-clock time")
	clock    = flag.Int64("clock", 125, "device clock in MHz")
)

func main() {
	flag.Parse()
	if *scale <= 0 {
		*scale = 1
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	ctx := logctx.NewContext(context.Background(), l)
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()
	if err := run(ctx); err != nil {
		logctx.Error(ctx, "blinky", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	chip := pio.Take(pio.Config{ClockFrequency: physic.Frequency(*clock) * physic.MegaHertz})
	Pio := chip.PIO0
	led := pio.Pin(*pin)

	prog, err := pio.Assemble(blinkSource)
	if err != nil {
		return err
	}
	installed, err := Pio.Install(prog)
	if err != nil {
		return err
	}
	logctx.Info(ctx, "loaded program", zap.Uint8("offset", installed.Offset()),
		zap.String("listing", strings.Join(prog.Disassemble(), "\n")))

	sm, err := Pio.ClaimStateMachine()
	if err != nil {
		return err
	}
	cfg := installed.DefaultConfig()
	cfg.SetSetPins(led, 1)
	cfg.SetClkDivIntFrac(0, 0) // as slow as possible, 0 is 65536
	sm.Init(installed.Offset(), cfg)
	sm.SetPindirsConsecutive(led, 1, true)

	chip.Pins().OnEdge(led, func(ev pio.PinEvent) []pio.PinEvent {
		logctx.Info(ctx, "edge", zap.Duration("at", ev.At), zap.Bool("high", bool(ev.Level)))
		return nil
	})
	if err := sm.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(float64(*duration) / *scale))
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return chip.Run(ctx, *scale)
	})
	err = eg.Wait()
	sm.Stop()
	logctx.Info(ctx, "stopped", zap.Duration("device time", chip.Now()))
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
