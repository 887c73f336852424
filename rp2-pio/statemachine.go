package pio

import (
	"context"
	"fmt"
	"math/bits"
)

// fifoDepth is the depth of an unjoined TX or RX FIFO.
const fifoDepth = 4

// StateMachine represents one of the four state machines in a PIO
type StateMachine struct {
	// The pio containing this state machine
	pio *PIO

	// index of this state machine
	index uint8
}

// IsClaimed returns true if the state machine is claimed by other code and should not be used.
func (sm StateMachine) IsClaimed() bool {
	sm.pio.chip.mu.Lock()
	defer sm.pio.chip.mu.Unlock()
	return sm.pio.claimedSMMask&(1<<sm.index) != 0
}

// Unclaim releases the state machine for use by other code.
func (sm StateMachine) Unclaim() {
	sm.pio.chip.mu.Lock()
	defer sm.pio.chip.mu.Unlock()
	sm.pio.claimedSMMask &^= (1 << sm.index)
}

// TryClaim attempts to claim the state machine for use by the caller and returns
// true if successful, or false if StateMachine already claimed. Regardless of result
// the state machine is guaranteed to be claimed after the call ends.
func (sm StateMachine) TryClaim() bool {
	sm.pio.chip.mu.Lock()
	defer sm.pio.chip.mu.Unlock()
	if sm.pio.claimedSMMask&(1<<sm.index) != 0 {
		return false
	}
	sm.pio.claimedSMMask |= 1 << sm.index
	return true
}

// PIO returns the PIO that this state machine is part of.
func (sm StateMachine) PIO() *PIO {
	if sm.pio == nil {
		panic("pio:invalid state machine")
	}
	return sm.pio
}

// StateMachineIndex returns the index of the state machine within the PIO.
func (sm StateMachine) StateMachineIndex() uint8 { return sm.index }

// IsValid returns true if state machine is a valid instance.
func (sm StateMachine) IsValid() bool {
	return sm.pio != nil && sm.index <= 3
}

// hw returns the simulated state of the state machine. The chip lock must be
// held while using it.
func (sm StateMachine) hw() *smState {
	if sm.index > 3 {
		panic(badStateMachineIndex)
	}
	return &sm.PIO().sms[sm.index]
}

func (sm StateMachine) lock() *smState {
	hw := sm.hw()
	sm.pio.chip.mu.Lock()
	return hw
}

func (sm StateMachine) unlock() { sm.pio.chip.mu.Unlock() }

// Init initializes the state machine
//
// initialPC is the initial program counter
// cfg is optional.  If the zero value of StateMachineConfig is used
// then the default configuration is used.
//
// Init halts the state machine, applies the configuration, clears both
// FIFOs, the FDEBUG flags of the state machine, X, Y, ISR and OSR, and jumps
// to initialPC. The state machine is left disabled.
func (sm StateMachine) Init(initialPC uint8, cfg StateMachineConfig) {
	hw := sm.lock()
	defer sm.unlock()

	// Halt the state machine to set sensible defaults
	hw.setEnabled(false)

	if cfg == (StateMachineConfig{}) {
		cfg = DefaultStateMachineConfig()
	}
	hw.setConfig(cfg)
	hw.clearFIFOs()

	// Clear FIFO debug flags
	const fdebugMask = FDebugTxOver | FDebugRxUnder | FDebugTxStall | FDebugRxStall
	sm.pio.fdebug.And(^(fdebugMask << sm.index))

	hw.x, hw.y = 0, 0
	hw.osr = 0
	hw.restart()
	hw.clkDivRestart()
	hw.stopped = false
	hw.exec(EncodeJmp(initialPC, JmpAlways))
}

// SetEnabled controls whether the state machine is running. Enabling
// resumes execution at the current program counter.
func (sm StateMachine) SetEnabled(enabled bool) {
	hw := sm.lock()
	defer sm.unlock()
	hw.setEnabled(enabled)
}

// IsEnabled returns true if the state machine is running.
func (sm StateMachine) IsEnabled() bool {
	hw := sm.lock()
	defer sm.unlock()
	return hw.enabled
}

// Start checks that the pins referenced by the program at the current
// program counter have matching directions and enables the state machine.
// SET, MOV PINS and side-set pins must be outputs unless the program sets
// its own pin directions; WAIT and JMP PIN sources must be inputs.
// After Stop, execution resumes at the wrap target with X, Y, ISR, OSR and
// the FIFOs as they were.
func (sm StateMachine) Start() error {
	hw := sm.lock()
	defer sm.unlock()
	if hw.enabled {
		return nil
	}
	if hw.stopped {
		wrapTarget, _ := hw.cfg.Wrap()
		hw.pc = wrapTarget
		hw.stopped = false
	}
	if err := hw.checkPinDirections(); err != nil {
		return err
	}
	hw.setEnabled(true)
	return nil
}

// Stop halts the state machine at the current instruction boundary. A
// stalled instruction and remaining delay cycles are abandoned; registers
// and FIFO contents are kept.
func (sm StateMachine) Stop() {
	hw := sm.lock()
	defer sm.unlock()
	hw.setEnabled(false)
	hw.stalled = false
	hw.latched = false
	hw.delay = 0
	hw.stopped = true
}

// Restart clears internal StateMachine state which may otherwise be difficult to access, e.g. shift counters.
func (sm StateMachine) Restart() {
	hw := sm.lock()
	defer sm.unlock()
	hw.restart()
}

// ClkDivRestart forces clock dividers to restart their count and clear fractional accumulators (phase is zeroed).
func (sm StateMachine) ClkDivRestart() {
	hw := sm.lock()
	defer sm.unlock()
	hw.clkDivRestart()
}

// SetConfig applies state machine configuration to a state machine.
// Changing the FIFO join mode flushes both FIFOs.
func (sm StateMachine) SetConfig(cfg StateMachineConfig) {
	hw := sm.lock()
	defer sm.unlock()
	hw.setConfig(cfg)
}

// Config returns the current configuration registers.
func (sm StateMachine) Config() StateMachineConfig {
	hw := sm.lock()
	defer sm.unlock()
	return hw.cfg
}

// SetClkDiv sets the clock divider for the state machine from a whole and fractional part where:
//
//	Frequency = clock freq / (CLKDIV_INT + CLKDIV_FRAC / 256)
//
// The new divider takes effect after the next state machine cycle.
func (sm StateMachine) SetClkDiv(whole uint16, frac uint8) {
	hw := sm.lock()
	defer sm.unlock()
	hw.cfg.SetClkDivIntFrac(whole, frac)
}

// SetWrap sets the current wrap configuration for a state machine.
func (sm StateMachine) SetWrap(target, wrap uint8) {
	if wrap >= 32 || target >= 32 {
		panic("pio:bad wrap")
	}
	hw := sm.lock()
	defer sm.unlock()
	hw.cfg.SetWrap(target, wrap)
}

// Addr returns the current program counter.
func (sm StateMachine) Addr() uint8 {
	hw := sm.lock()
	defer sm.unlock()
	return hw.pc
}

// Exec will immediately execute an instruction on the state machine. An
// instruction that stalls is latched and completes once the state machine
// is enabled and its condition clears.
func (sm StateMachine) Exec(instr uint16) {
	hw := sm.lock()
	defer sm.unlock()
	hw.exec(instr)
}

// Jmp sets the program counter of a state machine to a PIO program address given a condition.
// The state machine should be halted beforehand.
func (sm StateMachine) Jmp(toAddr uint8, cond JmpCond) {
	sm.Exec(EncodeJmp(toAddr, cond))
}

// fifos returns the current FIFO channels. They are replaced when the join
// mode changes so they must be fetched under the lock.
func (sm StateMachine) fifos() (tx, rx chan uint32) {
	hw := sm.lock()
	defer sm.unlock()
	return hw.tx, hw.rx
}

// TxPut puts a value into the state machine's TX FIFO.
//
// This function does not check for fullness. If the FIFO is full the FIFO
// contents are not affected and the sticky TXOVER flag is set for this FIFO in FDEBUG.
func (sm StateMachine) TxPut(data uint32) {
	if err := sm.TryTxPut(data); err != nil {
		sm.pio.setFDebug(FDebugTxOver, sm.index)
	}
}

// TryTxPut puts a value into the TX FIFO or returns ErrTxFull.
func (sm StateMachine) TryTxPut(data uint32) error {
	tx, _ := sm.fifos()
	select {
	case tx <- data:
		return nil
	default:
		return ErrTxFull
	}
}

// TxPutContext puts a value into the TX FIFO, blocking until there is room
// or ctx is done. Device time must be advancing in another goroutine for
// a full FIFO to drain.
func (sm StateMachine) TxPutContext(ctx context.Context, data uint32) error {
	tx, _ := sm.fifos()
	select {
	case tx <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RxGet reads a word of data from a state machine's RX FIFO.
//
// This function does not check for emptiness. If the FIFO is empty
// the result is zero and the sticky RXUNDER flag for this FIFO is set in FDEBUG.
func (sm StateMachine) RxGet() uint32 {
	v, ok := sm.TryRxGet()
	if !ok {
		sm.pio.setFDebug(FDebugRxUnder, sm.index)
	}
	return v
}

// TryRxGet reads a word from the RX FIFO if one is available.
func (sm StateMachine) TryRxGet() (uint32, bool) {
	_, rx := sm.fifos()
	select {
	case v := <-rx:
		return v, true
	default:
		return 0, false
	}
}

// RxGetContext reads a word from the RX FIFO, blocking until one is pushed
// or ctx is done.
func (sm StateMachine) RxGetContext(ctx context.Context) (uint32, error) {
	_, rx := sm.fifos()
	select {
	case v := <-rx:
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// RxFIFOLevel returns the number of elements currently in a state machine's RX FIFO.
func (sm StateMachine) RxFIFOLevel() uint32 {
	_, rx := sm.fifos()
	return uint32(len(rx))
}

// TxFIFOLevel returns the number of elements currently in a state machine's TX FIFO.
func (sm StateMachine) TxFIFOLevel() uint32 {
	tx, _ := sm.fifos()
	return uint32(len(tx))
}

// IsTxFIFOEmpty returns true if state machine's TX FIFO is empty.
func (sm StateMachine) IsTxFIFOEmpty() bool {
	tx, _ := sm.fifos()
	return len(tx) == 0
}

// IsTxFIFOFull returns true if state machine's TX FIFO is full.
func (sm StateMachine) IsTxFIFOFull() bool {
	tx, _ := sm.fifos()
	return len(tx) == cap(tx)
}

// IsRxFIFOEmpty returns true if state machine's RX FIFO is empty.
func (sm StateMachine) IsRxFIFOEmpty() bool {
	_, rx := sm.fifos()
	return len(rx) == 0
}

// IsRxFIFOFull returns true if state machine's RX FIFO is full.
func (sm StateMachine) IsRxFIFOFull() bool {
	_, rx := sm.fifos()
	return len(rx) == cap(rx)
}

// ClearFIFOs clears the TX and RX FIFOs of a state machine.
func (sm StateMachine) ClearFIFOs() {
	hw := sm.lock()
	defer sm.unlock()
	hw.clearFIFOs()
}

// SetPindirsConsecutive sets a range of pins to either 'in' or 'out'. This must be done
// for all used pins before the state machine is started, including SET, IN, OUT and SIDESET pins.
func (sm StateMachine) SetPindirsConsecutive(pin Pin, count uint8, isOut bool) {
	checkPinBaseAndCount(pin, count)
	sm.SetPindirsMasked(makePinmask(uint8(pin), count, uint8(boolToBit(isOut))))
}

// SetPinsConsecutive sets a range of pins initial starting values.
func (sm StateMachine) SetPinsConsecutive(pin Pin, count uint8, level bool) {
	checkPinBaseAndCount(pin, count)
	sm.SetPinsMasked(makePinmask(uint8(pin), count, uint8(boolToBit(level))))
}

func makePinmask(base, count, bit uint8) (valMask, pinMask uint32) {
	start := uint8(base)
	end := start + count
	for shift := start; shift < end && shift < NumPins; shift++ {
		valMask |= uint32(bit) << shift
		pinMask |= 1 << shift
	}
	return valMask, pinMask
}

// SetPinsMasked sets a value on multiple pins for the PIO instance.
// This method repeatedly reconfigures the state machines pins.
// Use this method as convenience to set initial pin states BEFORE running state machine.
func (sm StateMachine) SetPinsMasked(valueMask, pinMask uint32) {
	sm.setPinExec(SrcDestPins, valueMask, pinMask)
}

// SetPindirsMasked sets the pin directions (input/output) on multiple pins for
// the PIO instance. This method repeatedly reconfigures the state machines pins.
// Use this method as convenience to set initial pin states BEFORE running state machine.
func (sm StateMachine) SetPindirsMasked(dirMask, pinMask uint32) {
	sm.setPinExec(SrcDestPinDirs, dirMask, pinMask)
}

func (sm StateMachine) setPinExec(dest SrcDest, valueMask, pinMask uint32) {
	hw := sm.lock()
	defer sm.unlock()
	pinctrlSaved := hw.cfg.PinCtrl
	execctrlSaved := hw.cfg.ExecCtrl
	// Side-set would otherwise be applied by the SET instructions.
	hw.cfg.PinCtrl = 0
	for pinMask != 0 {
		base := uint32(bits.TrailingZeros32(pinMask))

		hw.cfg.PinCtrl = 1<<pio0_SM0_PINCTRL_SET_COUNT_Pos |
			base<<pio0_SM0_PINCTRL_SET_BASE_Pos

		value := 0x1 & uint8(valueMask>>base)
		hw.exec(EncodeSet(dest, value))
		pinMask &= pinMask - 1
	}
	hw.cfg.PinCtrl = pinctrlSaved
	hw.cfg.ExecCtrl = execctrlSaved
}

// SetX sets the X register of a state machine through the TX FIFO.
// The state machine should be halted beforehand and its TX FIFO empty.
// The OSR is overwritten.
func (sm StateMachine) SetX(value uint32) {
	sm.setDst(SrcDestX, value)
}

// SetY sets the Y register of a state machine through the TX FIFO.
// The state machine should be halted beforehand and its TX FIFO empty.
// The OSR is overwritten.
func (sm StateMachine) SetY(value uint32) {
	sm.setDst(SrcDestY, value)
}

// GetX gets the X register of a state machine through the RX FIFO.
// The state machine should be halted beforehand and its RX FIFO empty.
// The ISR is overwritten.
func (sm StateMachine) GetX() uint32 {
	return sm.getDst(SrcDestX)
}

// GetY gets the Y register of a state machine through the RX FIFO.
// The state machine should be halted beforehand and its RX FIFO empty.
// The ISR is overwritten.
func (sm StateMachine) GetY() uint32 {
	return sm.getDst(SrcDestY)
}

func (sm StateMachine) setDst(dst SrcDest, value uint32) {
	sm.TxPut(value)
	sm.Exec(EncodePull(false, false))
	sm.Exec(EncodeMov(dst, SrcDestOSR))
}

func (sm StateMachine) getDst(src SrcDest) uint32 {
	sm.Exec(EncodeMov(SrcDestISR, src))
	sm.Exec(EncodePush(false, false))
	return sm.RxGet()
}

// checkPinDirections validates the pins used by the program the state
// machine is about to run against the current pin directions.
func (hw *smState) checkPinDirections() error {
	offset, n, ok := hw.pio.programAt(hw.pc)
	if !ok {
		return nil
	}
	instrs := hw.pio.instrMem[offset : offset+n]
	oe := hw.pio.chip.pins.oe
	cfg := hw.cfg

	selfManaged := false
	for _, instr := range instrs {
		if decodeKind(instr) == InstrSET && SrcDest(arg1(instr)) == SrcDestPinDirs {
			selfManaged = true
		}
	}
	mustOutput := func(mask uint32) error {
		if selfManaged {
			return nil
		}
		if missing := mask &^ oe; missing != 0 {
			return fmt.Errorf("%w: pin %d must be an output", ErrPinDirection, bits.TrailingZeros32(missing))
		}
		return nil
	}
	mustInput := func(pin uint8) error {
		if oe&(1<<pin) != 0 {
			return fmt.Errorf("%w: pin %d must be an input", ErrPinDirection, pin)
		}
		return nil
	}

	inBase := uint8(field(cfg.PinCtrl, pio0_SM0_PINCTRL_IN_BASE_Msk, pio0_SM0_PINCTRL_IN_BASE_Pos))
	if count := hw.sidesetValueBits(); count > 0 && !hw.sidesetPindirs() {
		base := uint8(field(cfg.PinCtrl, pio0_SM0_PINCTRL_SIDESET_BASE_Msk, pio0_SM0_PINCTRL_SIDESET_BASE_Pos))
		if err := mustOutput(pinRange(base, count)); err != nil {
			return err
		}
	}
	for _, instr := range instrs {
		var err error
		switch decodeKind(instr) {
		case InstrSET:
			if SrcDest(arg1(instr)) == SrcDestPins {
				err = mustOutput(hw.setPins())
			}
		case InstrMOV:
			if MovDest(arg1(instr)) == MovDestPins {
				err = mustOutput(hw.outPins())
			}
		case InstrWAIT:
			switch arg1(instr) & 0b11 {
			case 0:
				err = mustInput(arg2(instr))
			case 1:
				err = mustInput((inBase + arg2(instr)) % NumPins)
			}
		case InstrJMP:
			if JmpCond(arg1(instr)) == JmpPinInput {
				err = mustInput(hw.jmpPin())
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
