package pio

import (
	"math/bits"

	"periph.io/x/conn/v3/gpio"
)

// smState is the simulated hardware of one state machine. All fields are
// guarded by the chip lock except the FIFO channels themselves.
type smState struct {
	pio   *PIO
	index uint8
	cfg   StateMachineConfig

	enabled  bool
	stopped  bool   // halted by Stop, resume at wrap target
	nextTick uint64 // device time of the next state machine cycle, in subcycles

	pc       uint8
	x, y     uint32
	isr, osr uint32
	isrCount uint8 // bits shifted into the ISR
	osrCount uint8 // bits shifted out of the OSR, 32 when empty
	delay    uint8 // idle cycles left after the last instruction
	stalled  bool  // the current instruction is retried on the next cycle
	latched  bool  // the stalled instruction came from Exec
	cur      uint16

	tx, rx chan uint32
}

func (hw *smState) init(pio *PIO, index uint8) {
	hw.pio = pio
	hw.index = index
	hw.cfg = DefaultStateMachineConfig()
	hw.tx = make(chan uint32, fifoDepth)
	hw.rx = make(chan uint32, fifoDepth)
	hw.osrCount = 32
}

func (hw *smState) interval() uint64 { return hw.cfg.Div().raw() }

func (hw *smState) setEnabled(enabled bool) {
	if enabled && !hw.enabled {
		hw.clkDivRestart()
		hw.stopped = false
	}
	hw.enabled = enabled
}

// clkDivRestart puts the next cycle one divided clock period from now.
func (hw *smState) clkDivRestart() {
	hw.nextTick = satAdd(hw.pio.chip.now, hw.interval())
}

func (hw *smState) restart() {
	hw.isr = 0
	hw.isrCount = 0
	hw.osrCount = 32
	hw.delay = 0
	hw.stalled = false
	hw.latched = false
}

func (hw *smState) setConfig(cfg StateMachineConfig) {
	oldTx, oldRx := hw.cfg.fifoDepths()
	hw.cfg = cfg
	txDepth, rxDepth := cfg.fifoDepths()
	if txDepth != oldTx || rxDepth != oldRx {
		hw.tx = newFIFO(txDepth)
		hw.rx = newFIFO(rxDepth)
	}
}

// newFIFO returns a FIFO of the given depth. A zero depth FIFO is nil so
// that it is both always full and always empty.
func newFIFO(depth int) chan uint32 {
	if depth == 0 {
		return nil
	}
	return make(chan uint32, depth)
}

func (hw *smState) clearFIFOs() {
	drain(hw.tx)
	drain(hw.rx)
}

func drain(ch chan uint32) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// tick runs one state machine cycle.
func (hw *smState) tick() {
	if hw.delay > 0 && !hw.stalled {
		hw.delay--
		return
	}
	if hw.latched {
		hw.execute(hw.cur, true)
		return
	}
	hw.execute(hw.pio.instrMem[hw.pc], false)
}

// exec executes an instruction written by the host.
func (hw *smState) exec(instr uint16) {
	hw.stalled = false
	hw.latched = false
	hw.execute(instr, true)
}

// execute issues instr. Side-set is applied when the instruction first
// issues; delay cycles start once it completes.
func (hw *smState) execute(instr uint16, fromExec bool) {
	count, delayMask, sideOK := hw.sideset()
	ds := delaySideset(instr)
	if !hw.stalled && count > 0 && sideOK(ds) {
		hw.applySideset(ds, count)
	}

	done, jumped := hw.run(instr)
	if !done {
		hw.stalled = true
		if fromExec {
			hw.latched = true
			hw.cur = instr
		}
		return
	}
	hw.stalled = false
	hw.latched = false
	if !jumped && !fromExec {
		hw.advancePC()
	}
	hw.delay = ds & delayMask
}

func (hw *smState) advancePC() {
	wrapTarget, wrap := hw.cfg.Wrap()
	if hw.pc == wrap {
		hw.pc = wrapTarget
		return
	}
	hw.pc = (hw.pc + 1) % programMemSize
}

// sideset returns the number of side-set bits including the enable bit,
// the mask of the remaining delay bits and a predicate telling whether an
// instruction's delay/side-set field asserts side-set.
func (hw *smState) sideset() (count uint8, delayMask uint8, ok func(uint8) bool) {
	count = uint8(field(hw.cfg.PinCtrl, pio0_SM0_PINCTRL_SIDESET_COUNT_Msk, pio0_SM0_PINCTRL_SIDESET_COUNT_Pos))
	if count > 5 {
		count = 5
	}
	delayMask = 0x1f >> count
	optional := hw.cfg.ExecCtrl&pio0_SM0_EXECCTRL_SIDE_EN_Msk != 0
	ok = func(f uint8) bool {
		return !optional || f&0x10 != 0
	}
	return count, delayMask, ok
}

func (hw *smState) sidesetPindirs() bool {
	return hw.cfg.ExecCtrl&pio0_SM0_EXECCTRL_SIDE_PINDIR_Msk != 0
}

// sidesetValueBits returns the number of pins driven by side-set.
func (hw *smState) sidesetValueBits() uint8 {
	count, _, _ := hw.sideset()
	if count > 0 && hw.cfg.ExecCtrl&pio0_SM0_EXECCTRL_SIDE_EN_Msk != 0 {
		count--
	}
	return count
}

func (hw *smState) applySideset(f, count uint8) {
	valueBits := hw.sidesetValueBits()
	value := uint32(f>>(5-count)) & (1<<valueBits - 1)
	base := uint8(field(hw.cfg.PinCtrl, pio0_SM0_PINCTRL_SIDESET_BASE_Msk, pio0_SM0_PINCTRL_SIDESET_BASE_Pos))
	hw.writePins(value, base, valueBits, hw.sidesetPindirs())
}

// writePins writes the low count bits of value to count consecutive pins
// starting at base, wrapping past pin 31.
func (hw *smState) writePins(value uint32, base, count uint8, pindirs bool) {
	mask := pinRange(base, count)
	values := bits.RotateLeft32(value, int(base)) & mask
	if pindirs {
		hw.pio.chip.pins.setDirections(values, mask)
	} else {
		hw.pio.chip.pins.setOutputs(values, mask)
	}
}

func pinRange(base, count uint8) uint32 {
	if count >= 32 {
		return 0xffffffff
	}
	return bits.RotateLeft32(1<<count-1, int(base))
}

func (hw *smState) setPins() uint32 {
	base := uint8(field(hw.cfg.PinCtrl, pio0_SM0_PINCTRL_SET_BASE_Msk, pio0_SM0_PINCTRL_SET_BASE_Pos))
	count := uint8(field(hw.cfg.PinCtrl, pio0_SM0_PINCTRL_SET_COUNT_Msk, pio0_SM0_PINCTRL_SET_COUNT_Pos))
	return pinRange(base, count)
}

func (hw *smState) outPins() uint32 {
	base := uint8(field(hw.cfg.PinCtrl, pio0_SM0_PINCTRL_OUT_BASE_Msk, pio0_SM0_PINCTRL_OUT_BASE_Pos))
	count := uint8(field(hw.cfg.PinCtrl, pio0_SM0_PINCTRL_OUT_COUNT_Msk, pio0_SM0_PINCTRL_OUT_COUNT_Pos))
	return pinRange(base, count)
}

func (hw *smState) jmpPin() uint8 {
	return uint8(field(hw.cfg.ExecCtrl, pio0_SM0_EXECCTRL_JMP_PIN_Msk, pio0_SM0_EXECCTRL_JMP_PIN_Pos))
}

func (hw *smState) inBase() uint8 {
	return uint8(field(hw.cfg.PinCtrl, pio0_SM0_PINCTRL_IN_BASE_Msk, pio0_SM0_PINCTRL_IN_BASE_Pos))
}

// threshold decodes a 5-bit shift threshold where 0 means 32.
func threshold(reg, msk uint32, pos uint8) uint8 {
	t := uint8(field(reg, msk, pos))
	if t == 0 {
		return 32
	}
	return t
}

func (hw *smState) pullThreshold() uint8 {
	return threshold(hw.cfg.ShiftCtrl, pio0_SM0_SHIFTCTRL_PULL_THRESH_Msk, pio0_SM0_SHIFTCTRL_PULL_THRESH_Pos)
}

func (hw *smState) pushThreshold() uint8 {
	return threshold(hw.cfg.ShiftCtrl, pio0_SM0_SHIFTCTRL_PUSH_THRESH_Msk, pio0_SM0_SHIFTCTRL_PUSH_THRESH_Pos)
}

func (hw *smState) pinLevel(pin uint8) gpio.Level {
	return hw.pio.chip.pins.level(Pin(pin % NumPins))
}

// run executes the operation of instr and reports whether it completed and
// whether it wrote the program counter.
func (hw *smState) run(instr uint16) (done, jumped bool) {
	a1, a2 := arg1(instr), arg2(instr)
	switch decodeKind(instr) {
	case InstrJMP:
		if hw.jmpCondition(JmpCond(a1)) {
			hw.pc = a2
			return true, true
		}
		return true, false

	case InstrWAIT:
		polarity := gpio.Level(a1&0b100 != 0)
		var pin uint8
		switch a1 & 0b11 {
		case 0:
			pin = a2
		case 1:
			pin = hw.inBase() + a2
		default:
			// IRQ waits are not modelled.
			return true, false
		}
		return hw.pinLevel(pin) == polarity, false

	case InstrPUSH:
		ifFull, block := a1&0b010 != 0, a1&0b001 != 0
		if ifFull && hw.isrCount < hw.pushThreshold() {
			return true, false
		}
		select {
		case hw.rx <- hw.isr:
		default:
			if block {
				hw.pio.setFDebug(FDebugRxStall, hw.index)
				return false, false
			}
		}
		hw.isr = 0
		hw.isrCount = 0
		return true, false

	case InstrPULL:
		ifEmpty, block := a1&0b010 != 0, a1&0b001 != 0
		if ifEmpty && hw.osrCount < hw.pullThreshold() {
			return true, false
		}
		select {
		case w := <-hw.tx:
			hw.osr = w
		default:
			if block {
				hw.pio.setFDebug(FDebugTxStall, hw.index)
				return false, false
			}
			hw.osr = hw.x
		}
		hw.osrCount = 0
		return true, false

	case InstrMOV:
		v := hw.movSource(MovSrc(a2 & 0b111))
		switch MovOp(a2>>3) & 0b11 {
		case MovOpInvert:
			v = ^v
		case MovOpReverse:
			v = bits.Reverse32(v)
		}
		return true, hw.movDest(MovDest(a1), v)

	case InstrSET:
		v := uint32(a2)
		switch SetDest(a1) {
		case SetDestPins:
			hw.writeSetPins(v, false)
		case SetDestX:
			hw.x = v
		case SetDestY:
			hw.y = v
		case SetDestPindirs:
			hw.writeSetPins(v, true)
		}
		return true, false
	}
	// IN, OUT and IRQ have no effect.
	return true, false
}

func (hw *smState) writeSetPins(v uint32, pindirs bool) {
	base := uint8(field(hw.cfg.PinCtrl, pio0_SM0_PINCTRL_SET_BASE_Msk, pio0_SM0_PINCTRL_SET_BASE_Pos))
	count := uint8(field(hw.cfg.PinCtrl, pio0_SM0_PINCTRL_SET_COUNT_Msk, pio0_SM0_PINCTRL_SET_COUNT_Pos))
	hw.writePins(v, base, count, pindirs)
}

func (hw *smState) jmpCondition(cond JmpCond) bool {
	switch cond {
	case JmpAlways:
		return true
	case JmpXZero:
		return hw.x == 0
	case JmpXNZeroDec:
		taken := hw.x != 0
		hw.x--
		return taken
	case JmpYZero:
		return hw.y == 0
	case JmpYNZeroDec:
		taken := hw.y != 0
		hw.y--
		return taken
	case JmpXNotEqualY:
		return hw.x != hw.y
	case JmpPinInput:
		return hw.pinLevel(hw.jmpPin()) == gpio.High
	case JmpOSRNotEmpty:
		return hw.osrCount < hw.pullThreshold()
	}
	return false
}

func (hw *smState) movSource(src MovSrc) uint32 {
	switch src {
	case MovSrcPins:
		return bits.RotateLeft32(hw.pio.chip.pins.levels(), -int(hw.inBase()))
	case MovSrcX:
		return hw.x
	case MovSrcY:
		return hw.y
	case MovSrcStatus:
		n := field(hw.cfg.ExecCtrl, pio0_SM0_EXECCTRL_STATUS_N_Msk, pio0_SM0_EXECCTRL_STATUS_N_Pos)
		level := len(hw.tx)
		if MovStatus(field(hw.cfg.ExecCtrl, pio0_SM0_EXECCTRL_STATUS_SEL_Msk, pio0_SM0_EXECCTRL_STATUS_SEL_Pos)) == MovStatusRxLessthan {
			level = len(hw.rx)
		}
		if uint32(level) < n {
			return 0xffffffff
		}
		return 0
	case MovSrcISR:
		return hw.isr
	case MovSrcOSR:
		return hw.osr
	}
	// null and the reserved encoding read as zero.
	return 0
}

// movDest writes v to dest and reports whether the program counter was written.
func (hw *smState) movDest(dest MovDest, v uint32) bool {
	switch dest {
	case MovDestPins:
		base := uint8(field(hw.cfg.PinCtrl, pio0_SM0_PINCTRL_OUT_BASE_Msk, pio0_SM0_PINCTRL_OUT_BASE_Pos))
		count := uint8(field(hw.cfg.PinCtrl, pio0_SM0_PINCTRL_OUT_COUNT_Msk, pio0_SM0_PINCTRL_OUT_COUNT_Pos))
		hw.writePins(v, base, count, false)
	case MovDestX:
		hw.x = v
	case MovDestY:
		hw.y = v
	case MovDestPC:
		hw.pc = uint8(v) % programMemSize
		return true
	case MovDestISR:
		hw.isr = v
		hw.isrCount = 0
	case MovDestOSR:
		hw.osr = v
		hw.osrCount = 0
	}
	return false
}
