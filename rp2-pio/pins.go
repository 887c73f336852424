package pio

import (
	"math/bits"
	"sort"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// NumPins is the number of GPIOs in the bank.
const NumPins = 32

// Pin is a GPIO number in 0..31.
type Pin uint8

// PinEvent is a level change of a pin at a device time.
type PinEvent struct {
	At    time.Duration
	Pin   Pin
	Level gpio.Level
}

// EdgeFunc observes level changes of a pin. The returned events are
// scheduled as external input, which is how simulated peripherals
// answer the state machines.
type EdgeFunc func(PinEvent) []PinEvent

type pendingEvent struct {
	at    uint64
	seq   uint64
	pin   Pin
	level gpio.Level
}

// PinBank is the GPIO bank of a [Chip]. Each pin is driven by the PIO when
// its output enable is set and follows its external input otherwise.
// Output ownership between state machines is not arbitrated: the last
// writer wins.
type PinBank struct {
	chip     *Chip
	out      uint32 // PIO output levels
	oe       uint32 // PIO output enables
	ext      uint32 // external input levels
	visible  uint32 // last settled levels, for edge detection
	pending  []pendingEvent
	seq      uint64
	watchers map[Pin][]EdgeFunc
}

// Level returns the current level of pin.
func (pb *PinBank) Level(pin Pin) gpio.Level {
	checkPinBaseAndCount(pin, 1)
	pb.chip.mu.Lock()
	defer pb.chip.mu.Unlock()
	return pb.level(pin)
}

// Levels returns the levels of all pins, pin 0 in bit 0.
func (pb *PinBank) Levels() uint32 {
	pb.chip.mu.Lock()
	defer pb.chip.mu.Unlock()
	return pb.levels()
}

// Directions returns the output enables of all pins, pin 0 in bit 0.
func (pb *PinBank) Directions() uint32 {
	pb.chip.mu.Lock()
	defer pb.chip.mu.Unlock()
	return pb.oe
}

// Drive sets the external input level of pin at the current device time.
// It has no visible effect while the pin is an output.
func (pb *PinBank) Drive(pin Pin, level gpio.Level) {
	checkPinBaseAndCount(pin, 1)
	pb.chip.mu.Lock()
	defer pb.chip.mu.Unlock()
	pb.ext = setBit(pb.ext, pin, level)
	pb.update(pb.chip.now)
}

// Schedule queues external input changes. Events in the past take effect
// at the current device time; events at the same time apply in the order given.
func (pb *PinBank) Schedule(events ...PinEvent) {
	pb.chip.mu.Lock()
	defer pb.chip.mu.Unlock()
	pb.schedule(events)
	pb.settle(pb.chip.now)
}

// OnEdge registers fn to be called, with the chip locked, whenever the
// level of pin changes. fn must not call back into the chip; it answers by
// returning events to schedule.
func (pb *PinBank) OnEdge(pin Pin, fn EdgeFunc) {
	checkPinBaseAndCount(pin, 1)
	pb.chip.mu.Lock()
	defer pb.chip.mu.Unlock()
	if pb.watchers == nil {
		pb.watchers = make(map[Pin][]EdgeFunc)
	}
	pb.watchers[pin] = append(pb.watchers[pin], fn)
}

func (pb *PinBank) level(pin Pin) gpio.Level {
	return gpio.Level(pb.levels()&(1<<pin) != 0)
}

func (pb *PinBank) levels() uint32 {
	return pb.out&pb.oe | pb.ext&^pb.oe
}

func (pb *PinBank) schedule(events []PinEvent) {
	for _, ev := range events {
		if ev.Pin >= NumPins {
			panic("pio:bad pin")
		}
		pb.seq++
		pb.pending = append(pb.pending, pendingEvent{
			at:    pb.chip.toSubCeil(ev.At),
			seq:   pb.seq,
			pin:   ev.Pin,
			level: ev.Level,
		})
	}
	sort.Slice(pb.pending, func(i, j int) bool {
		a, b := pb.pending[i], pb.pending[j]
		if a.at != b.at {
			return a.at < b.at
		}
		return a.seq < b.seq
	})
}

// settle applies all pending external events due at or before t.
func (pb *PinBank) settle(t uint64) {
	for len(pb.pending) > 0 && pb.pending[0].at <= t {
		ev := pb.pending[0]
		pb.pending = pb.pending[1:]
		at := ev.at
		if at < pb.chip.now {
			at = pb.chip.now
		}
		pb.ext = setBit(pb.ext, ev.pin, ev.level)
		pb.update(at)
	}
}

// setOutputs replaces the PIO driven levels of the pins in mask.
func (pb *PinBank) setOutputs(values, mask uint32) {
	pb.out = pb.out&^mask | values&mask
	pb.update(pb.chip.now)
}

// setDirections replaces the output enables of the pins in mask.
func (pb *PinBank) setDirections(values, mask uint32) {
	pb.oe = pb.oe&^mask | values&mask
	pb.update(pb.chip.now)
}

// update reports edges of visible levels to the watchers.
func (pb *PinBank) update(at uint64) {
	now := pb.levels()
	changed := now ^ pb.visible
	pb.visible = now
	for changed != 0 {
		pin := Pin(bits.TrailingZeros32(changed))
		changed &= changed - 1
		fns := pb.watchers[pin]
		if len(fns) == 0 {
			continue
		}
		ev := PinEvent{At: pb.chip.toDuration(at), Pin: pin, Level: gpio.Level(now&(1<<pin) != 0)}
		for _, fn := range fns {
			if replies := fn(ev); len(replies) > 0 {
				pb.schedule(replies)
			}
		}
	}
}

func setBit(word uint32, pin Pin, level gpio.Level) uint32 {
	if level {
		return word | 1<<pin
	}
	return word &^ (1 << pin)
}
