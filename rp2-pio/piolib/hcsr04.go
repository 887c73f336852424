package piolib

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"

	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"

	pio "github.com/tinygo-org/piosim/rp2-pio"
)

//go:embed hcsr04.pio
var hcsr04Source string

var hcsr04Program = pio.MustAssemble(hcsr04Source)

// HCSR04Config configures an HC-SR04 ultrasonic rangefinder.
type HCSR04Config struct {
	Trigger pio.Pin
	Echo    pio.Pin
	// Pulse is the trigger pulse width.
	Pulse time.Duration
	// PulseSteps is the number of state machine cycles the trigger pulse
	// lasts, 1..32. The clock divider is chosen so that PulseSteps cycles
	// last Pulse.
	PulseSteps uint32
	// Calibration is the number of state machine cycles per echo loop
	// iteration.
	Calibration uint32
	// Timeout is the longest echo the sensor produces.
	Timeout time.Duration
	// Window is how long Poll waits, in device time, before reporting
	// ErrNoEcho. Zero means twice Timeout.
	Window       time.Duration
	SpeedOfSound physic.Speed
	// Tolerance is the relative clock divider error above which the
	// quantization is flagged as exceeded.
	Tolerance float64
}

// DefaultHCSR04Config returns the datasheet timings for the sensor wired
// to trigger and echo.
func DefaultHCSR04Config(trigger, echo pio.Pin) HCSR04Config {
	return HCSR04Config{
		Trigger:      trigger,
		Echo:         echo,
		Pulse:        16 * time.Microsecond,
		PulseSteps:   31,
		Calibration:  2,
		Timeout:      38 * time.Millisecond,
		SpeedOfSound: 343 * physic.MetrePerSecond,
		Tolerance:    1e-3,
	}
}

func (cfg *HCSR04Config) fillDefaults() {
	def := DefaultHCSR04Config(cfg.Trigger, cfg.Echo)
	if cfg.Pulse == 0 {
		cfg.Pulse = def.Pulse
	}
	if cfg.PulseSteps == 0 {
		cfg.PulseSteps = def.PulseSteps
	}
	if cfg.Calibration == 0 {
		cfg.Calibration = def.Calibration
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Window == 0 {
		cfg.Window = 2 * cfg.Timeout
	}
	if cfg.SpeedOfSound == 0 {
		cfg.SpeedOfSound = def.SpeedOfSound
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = def.Tolerance
	}
}

// HCSR04 measures distance with an HC-SR04 by timing its echo pulse on a
// state machine. It implements drivers.Sensor.
type HCSR04 struct {
	sm     pio.StateMachine
	prog   pio.InstalledProgram
	smcfg  pio.StateMachineConfig
	cfg    HCSR04Config
	hz     uint32
	div    pio.ClkDiv
	q      pio.Quantization
	budget uint32

	pending bool
	// abandoned is set when a measurement was given up while the program
	// may still be counting it.
	abandoned bool
	window    deadline
	last    physic.Distance
}

var _ drivers.Sensor = (*HCSR04)(nil)

// NewHCSR04 installs the measurement program, configures the trigger as an
// output and the echo as an input, and starts the state machine. Zero
// fields of cfg take their DefaultHCSR04Config value.
func NewHCSR04(sm pio.StateMachine, cfg HCSR04Config) (_ *HCSR04, err error) {
	cfg.fillDefaults()
	if cfg.PulseSteps > 32 {
		return nil, fmt.Errorf("%w: trigger pulse of %d cycles", errTiming, cfg.PulseSteps)
	}
	if cfg.Trigger == cfg.Echo {
		return nil, fmt.Errorf("%w: trigger and echo on pin %d", pio.ErrPinDirection, cfg.Trigger)
	}
	if sm.TryClaim() {
		defer func() {
			if err != nil {
				sm.Unclaim()
			}
		}()
	}
	Pio := sm.PIO()
	hz := uint32(Pio.ClockFrequency() / physic.Hertz)
	div, q, err := pio.ComputeClkDiv(cfg.Pulse, hz, cfg.PulseSteps, cfg.Tolerance)
	if err != nil {
		return nil, err
	}

	prog, err := Pio.Install(hcsr04ProgramFor(cfg.PulseSteps))
	if err != nil {
		return nil, err
	}
	smcfg := prog.DefaultConfig()
	smcfg.SetClkDiv(div)
	smcfg.SetSetPins(cfg.Trigger, 1)
	smcfg.SetInPins(cfg.Echo)
	smcfg.SetJmpPin(cfg.Echo)

	sm.SetPinsConsecutive(cfg.Trigger, 1, false)
	sm.SetPindirsConsecutive(cfg.Trigger, 1, true)
	sm.SetPindirsConsecutive(cfg.Echo, 1, false)
	sm.Init(prog.Offset(), smcfg)
	if err := sm.Start(); err != nil {
		prog.Remove()
		return nil, err
	}

	h := &HCSR04{
		sm:    sm,
		prog:  prog,
		smcfg: smcfg,
		cfg:   cfg,
		hz:    hz,
		div:   div,
		q:     q,
	}
	budget := float64(cfg.Timeout) / float64(h.loopPeriodNs())
	h.budget = uint32(math.Min(math.Floor(budget), math.MaxUint32))
	return h, nil
}

// hcsr04ProgramFor returns the measurement program with a trigger pulse of
// steps cycles.
func hcsr04ProgramFor(steps uint32) pio.Program {
	prog := hcsr04Program
	at, ok := prog.Labels["trigger"]
	if !ok {
		panic("piolib: hcsr04 program has no trigger label")
	}
	prog.Instructions = append([]uint16(nil), prog.Instructions...)
	const delayMask = 0x1f << 8
	prog.Instructions[at] = prog.Instructions[at]&^delayMask | pio.EncodeDelay(uint8(steps-1))
	return prog
}

// loopPeriodNs returns the duration of one echo loop iteration in
// nanoseconds, unrounded.
func (h *HCSR04) loopPeriodNs() float64 {
	return float64(h.cfg.Calibration) * h.div.Float() * float64(time.Second) / float64(h.hz)
}

// Quantization reports how far the state machine clock is from the one
// requested by the trigger pulse timing.
func (h *HCSR04) Quantization() pio.Quantization { return h.q }

// ClkDiv returns the clock divider of the state machine.
func (h *HCSR04) ClkDiv() pio.ClkDiv { return h.div }

// Budget returns the echo wait budget pushed for each measurement, in loop
// iterations.
func (h *HCSR04) Budget() uint32 { return h.budget }

// EchoTime converts a word pushed by the program into the echo duration,
// using the actual divided clock period.
func (h *HCSR04) EchoTime(raw uint32) time.Duration {
	iterations := uint64(math.MaxUint32 - raw)
	return h.div.Cycles(iterations*uint64(h.cfg.Calibration), h.hz)
}

// Resolution returns the distance covered by one echo loop iteration.
func (h *HCSR04) Resolution() physic.Distance {
	return h.distance(h.div.Cycles(uint64(h.cfg.Calibration), h.hz))
}

// distance returns the one-way distance sound travels in half of echo.
func (h *HCSR04) distance(echo time.Duration) physic.Distance {
	if echo <= 0 {
		return 0
	}
	// nm = ns * (nm/s) / 2e9
	hi, lo := bits.Mul64(uint64(echo), uint64(h.cfg.SpeedOfSound/physic.NanoMetrePerSecond))
	if hi >= 2e9 {
		return physic.Distance(math.MaxInt64)
	}
	nm, _ := bits.Div64(hi, lo, 2e9)
	if nm > math.MaxInt64 {
		return physic.Distance(math.MaxInt64)
	}
	return physic.Distance(nm) * physic.NanoMetre
}

// Trigger starts a measurement. Words left in the RX FIFO by earlier
// measurements are discarded. After an abandoned measurement the state
// machine is restarted so a reading still being counted cannot arrive
// late.
func (h *HCSR04) Trigger() error {
	h.mustValid()
	if h.pending {
		return ErrBusy
	}
	if h.abandoned {
		if err := h.restart(); err != nil {
			return fmt.Errorf("hcsr04 restart: %w", err)
		}
	}
	for {
		if _, ok := h.sm.TryRxGet(); !ok {
			break
		}
	}
	if err := h.sm.TryTxPut(h.budget); err != nil {
		return fmt.Errorf("hcsr04 trigger: %w", err)
	}
	h.pending = true
	h.window = newDeadline(h.sm.PIO().Chip(), h.cfg.Window)
	return nil
}

// Poll checks for the result of the pending measurement without blocking.
// It returns ok when a distance was measured and ErrNoEcho once the window
// has passed without one.
func (h *HCSR04) Poll() (d physic.Distance, ok bool, err error) {
	h.mustValid()
	if !h.pending {
		return 0, false, nil
	}
	if raw, got := h.sm.TryRxGet(); got {
		h.pending = false
		h.last = h.distance(h.EchoTime(raw))
		return h.last, true, nil
	}
	if h.window.expired() {
		h.pending = false
		h.abandoned = true
		return 0, false, ErrNoEcho
	}
	return 0, false, nil
}

// Measure triggers a measurement and polls until it completes, the window
// passes or ctx is done. Device time must be advancing concurrently, for
// instance with Chip.Run.
func (h *HCSR04) Measure(ctx context.Context) (physic.Distance, error) {
	if err := h.Trigger(); err != nil {
		return 0, err
	}
	for {
		d, ok, err := h.Poll()
		switch {
		case errors.Is(err, ErrNoEcho):
			logctx.Warnf(ctx, "hcsr04: no echo within %v", h.cfg.Window)
			return 0, err
		case err != nil:
			return 0, err
		case ok:
			logctx.Debug(ctx, "hcsr04 reading", zap.Stringer("distance", d))
			return d, nil
		}
		if err := ctx.Err(); err != nil {
			h.pending = false
			h.abandoned = true
			return 0, err
		}
		gosched()
	}
}

// restart reinitializes the state machine at the program start with empty
// FIFOs and the trigger low.
func (h *HCSR04) restart() error {
	h.sm.Stop()
	h.sm.SetPinsConsecutive(h.cfg.Trigger, 1, false)
	h.sm.Init(h.prog.Offset(), h.smcfg)
	if err := h.sm.Start(); err != nil {
		return err
	}
	h.abandoned = false
	return nil
}

// Update performs a measurement when which includes drivers.Distance.
func (h *HCSR04) Update(which drivers.Measurement) error {
	if which&drivers.Distance == 0 {
		return nil
	}
	_, err := h.Measure(context.Background())
	return err
}

// Distance returns the last measured distance.
func (h *HCSR04) Distance() physic.Distance {
	return h.last
}

// ReadDistance returns the last measured distance in millimetres.
func (h *HCSR04) ReadDistance() int32 {
	return int32(h.last / physic.MilliMetre)
}

// Close stops the state machine and frees its program memory.
func (h *HCSR04) Close() {
	h.mustValid()
	h.sm.Stop()
	h.prog.Remove()
	h.sm.Unclaim()
	h.hz = 0
}

func (h *HCSR04) mustValid() {
	if h.hz == 0 {
		panic("piolib: HCSR04 not initialized")
	}
}
