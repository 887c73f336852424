// Command hcsr04 measures the distance to a simulated target with the
// HC-SR04 driver, moving the target a little further after every reading.
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
	"periph.io/x/conn/v3/physic"

	pio "github.com/tinygo-org/piosim/rp2-pio"
	"github.com/tinygo-org/piosim/rp2-pio/piolib"
)

var (
	trigger  = flag.Uint("trigger", 2, "trigger GPIO")
	echo     = flag.Uint("echo", 3, "echo GPIO")
	start    = flag.Int64("start", 50, "initial target distance in mm")
	step     = flag.Int64("step", 250, "distance added after every reading, in mm")
	readings = flag.Int("n", 20, "number of readings")
	speed    = flag.Int64("speed", 343, "speed of sound in m/s")
	interval = flag.Duration("interval", 60*time.Millisecond, "wall-clock time between readings")
)

func main() {
	flag.Parse()
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	ctx := logctx.NewContext(context.Background(), l)
	if err := run(ctx); err != nil {
		logctx.Error(ctx, "hcsr04", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	chip := pio.Take(pio.Config{})
	cfg := piolib.DefaultHCSR04Config(pio.Pin(*trigger), pio.Pin(*echo))
	cfg.SpeedOfSound = physic.Speed(*speed) * physic.MetrePerSecond

	target := &piolib.EchoTarget{
		Trigger:  cfg.Trigger,
		Echo:     cfg.Echo,
		Distance: physic.Distance(*start) * physic.MilliMetre,
		Speed:    cfg.SpeedOfSound,
		Latency:  200 * time.Microsecond,
	}
	target.Attach(chip)

	sm, err := chip.PIO0.ClaimStateMachine()
	if err != nil {
		return err
	}
	sensor, err := piolib.NewHCSR04(sm, cfg)
	if err != nil {
		return err
	}
	defer sensor.Close()
	q := sensor.Quantization()
	logctx.Info(ctx, "sensor ready",
		zap.Float64("clkdiv", sensor.ClkDiv().Float()),
		zap.Duration("cycle", q.Actual),
		zap.Float64("residual", q.Residual),
		zap.Bool("exceeded", q.Exceeded),
		zap.Stringer("resolution", sensor.Resolution()),
		zap.Uint32("budget", sensor.Budget()),
	)

	// The target is only moved while no measurement is running, so there
	// is no concurrent access with the edge watcher.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return chip.Run(ctx, 1)
	})
	eg.Go(func() error {
		defer cancel()
		for i := 0; i < *readings; i++ {
			want := target.Distance
			d, err := sensor.Measure(ctx)
			switch {
			case errors.Is(err, piolib.ErrNoEcho):
				logctx.Info(ctx, "out of range", zap.Stringer("target", want))
			case err != nil:
				return err
			default:
				logctx.Info(ctx, "reading", zap.Stringer("target", want), zap.Stringer("measured", d),
					zap.Int32("mm", sensor.ReadDistance()))
			}
			target.Distance += physic.Distance(*step) * physic.MilliMetre
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(*interval):
			}
		}
		return nil
	})
	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
