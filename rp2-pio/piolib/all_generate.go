package piolib

import (
	"errors"
	"runtime"
	"time"

	pio "github.com/tinygo-org/piosim/rp2-pio"
)

var (
	// ErrBusy is returned when a measurement is started while another one
	// is still pending.
	ErrBusy = errors.New("piolib: measurement pending")
	// ErrNoEcho is returned when no echo was measured within the polling window.
	ErrNoEcho = errors.New("piolib: no echo")

	errQueueFull = errors.New("piolib: queue full")
	errTiming    = errors.New("piolib: timing out of range")
)

func gosched() {
	runtime.Gosched()
}

// deadline expires once the device time of chip passes t. The zero
// deadline never expires.
type deadline struct {
	chip *pio.Chip
	t    time.Duration
}

func newDeadline(chip *pio.Chip, timeout time.Duration) deadline {
	if timeout <= 0 {
		return deadline{}
	}
	return deadline{chip: chip, t: chip.Now() + timeout}
}

func (dl deadline) expired() bool {
	if dl.chip == nil {
		return false
	}
	return dl.chip.Now() > dl.t
}
