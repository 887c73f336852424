// Command pulsar queues bursts of pulses on a Pulsar and counts the pulses
// that reach the pin.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"

	pio "github.com/tinygo-org/piosim/rp2-pio"
	"github.com/tinygo-org/piosim/rp2-pio/piolib"
)

var (
	pin    = flag.Uint("pin", 2, "GPIO the pulses are emitted on")
	period = flag.Duration("period", 10*time.Microsecond, "pulse period")
	bursts = flag.Int("bursts", 8, "number of bursts to queue")
	scale  = flag.Float64("scale", 0.01, "device time per wall-clock time")
)

func main() {
	flag.Parse()
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	ctx := logctx.NewContext(context.Background(), l)
	if err := run(ctx); err != nil {
		logctx.Error(ctx, "pulsar", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	chip := pio.Take(pio.Config{})
	sm, err := chip.PIO0.ClaimStateMachine()
	if err != nil {
		return err
	}
	out := pio.Pin(*pin)
	pulsar, err := piolib.NewPulsar(sm, out)
	if err != nil {
		return err
	}
	if err := pulsar.SetPeriod(*period); err != nil {
		return err
	}

	var rising int // guarded by the chip lock, read after Run returns
	chip.Pins().OnEdge(out, func(ev pio.PinEvent) []pio.PinEvent {
		if ev.Level == gpio.High {
			rising++
		}
		return nil
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return chip.Run(ctx, *scale)
	})
	eg.Go(func() error {
		defer cancel()
		want := 0
		for i := 1; i <= *bursts; i++ {
			for pulsar.TryQueue(uint32(i)) != nil {
				if err := sleep(ctx, time.Millisecond); err != nil {
					return err
				}
			}
			want += i
		}
		for pulsar.Queued() > 0 {
			if err := sleep(ctx, time.Millisecond); err != nil {
				return err
			}
		}
		// The last burst may still be running.
		if err := sleep(ctx, 100*time.Millisecond); err != nil {
			return err
		}
		logctx.Infof(ctx, "queued %d pulses", want)
		return nil
	})
	err = eg.Wait()
	pulsar.Pause(true)
	logctx.Info(ctx, "done", zap.Int("pulses", rising), zap.Duration("device time", chip.Now()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
