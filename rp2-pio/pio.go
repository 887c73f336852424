package pio

import (
	"errors"
	"sync/atomic"

	"periph.io/x/conn/v3/physic"
)

// PIO errors.
var (
	ErrOutOfProgramSpace   = errors.New("pio: out of program space")
	ErrNoSpaceAtOffset     = errors.New("pio: program space unavailable at offset")
	ErrPinDirection        = errors.New("pio: pin direction does not match program")
	ErrTxFull              = errors.New("pio: TX FIFO full")
	errStateMachineClaimed = errors.New("pio: state machine already claimed")
)

const (
	badStateMachineIndex = "invalid state machine index"
	badProgramBounds     = "invalid program bounds"
)

// programMemSize is the number of instruction slots of a PIO block.
const programMemSize = 32

// PIO represents one of the two PIO blocks of a [Chip]. A block has 32 words
// of instruction memory shared by its four state machines.
type PIO struct {
	chip  *Chip
	index uint8
	// Instruction memory as seen by the state machines, jumps relocated.
	instrMem [programMemSize]uint16
	// Bitmask of used instruction space. Each PIO has 32 slots for instructions.
	usedSpaceMask uint32
	// Length of the program loaded at each offset, 0 for none.
	programLen [programMemSize]uint8
	// Bitmask of used state machines. Each PIO has 4 state machines.
	claimedSMMask uint8
	sms           [4]smState
	fdebug        atomic.Uint32
	nc            noCopy
}

func newPIO(chip *Chip, index uint8) *PIO {
	pio := &PIO{chip: chip, index: index}
	trap := EncodeJmp(0, JmpAlways)
	for i := range pio.instrMem {
		pio.instrMem[i] = trap
	}
	for i := range pio.sms {
		pio.sms[i].init(pio, uint8(i))
	}
	return pio
}

// BlockIndex returns 0 or 1 depending on whether this is PIO0 or PIO1.
func (pio *PIO) BlockIndex() uint8 {
	return pio.index
}

// Chip returns the chip this block belongs to.
func (pio *PIO) Chip() *Chip { return pio.chip }

// ClockFrequency returns the device clock frequency feeding the block.
func (pio *PIO) ClockFrequency() physic.Frequency { return pio.chip.ClockFrequency() }

// clockHz returns the device clock in Hz.
func (pio *PIO) clockHz() uint32 { return uint32(pio.chip.hz) }

// StateMachine returns a state machine by index.
func (pio *PIO) StateMachine(index uint8) StateMachine {
	if index > 3 {
		panic(badStateMachineIndex)
	}
	return StateMachine{
		pio:   pio,
		index: index,
	}
}

// ClaimStateMachine returns an unused state machine
// or an error if all state machines on this PIO are claimed.
func (pio *PIO) ClaimStateMachine() (sm StateMachine, err error) {
	for i := uint8(0); i < 4; i++ {
		sm = pio.StateMachine(i)
		if sm.TryClaim() {
			return sm, nil
		}
	}
	return StateMachine{}, errStateMachineClaimed
}

// Install validates prog and loads it into program memory, at its origin
// or in the highest free region that fits.
func (pio *PIO) Install(prog Program) (InstalledProgram, error) {
	if err := prog.Validate(); err != nil {
		return InstalledProgram{}, err
	}
	offset, err := pio.AddProgram(prog.Instructions, prog.Origin)
	if err != nil {
		return InstalledProgram{}, err
	}
	return InstalledProgram{pio: pio, offset: offset, program: prog}, nil
}

// AddProgram loads a PIO program into PIO memory and returns the offset where it was loaded.
// This function will try to find the next available slot of memory for the program
// and will return an error if there is not enough memory to add the program.
//
// The instructions argument holds program binary code in 16-bit words.
// origin indicates where in the PIO execution memory the program must be loaded,
// or -1 if the code is position independent.
func (pio *PIO) AddProgram(instructions []uint16, origin int8) (offset uint8, _ error) {
	pio.chip.mu.Lock()
	defer pio.chip.mu.Unlock()
	maybeOffset := pio.findOffsetForProgram(instructions, origin)
	if maybeOffset < 0 {
		return 0, ErrOutOfProgramSpace
	}
	offset = uint8(maybeOffset)
	return offset, pio.addProgramAtOffset(instructions, origin, offset)
}

// AddProgramAtOffset loads a PIO program into PIO memory at a specific offset
// and returns a non-nil error if there is not enough space.
func (pio *PIO) AddProgramAtOffset(instructions []uint16, origin int8, offset uint8) error {
	pio.chip.mu.Lock()
	defer pio.chip.mu.Unlock()
	return pio.addProgramAtOffset(instructions, origin, offset)
}

func (pio *PIO) addProgramAtOffset(instructions []uint16, origin int8, offset uint8) error {
	if !pio.canAddProgramAtOffset(instructions, origin, offset) {
		return ErrNoSpaceAtOffset
	}

	programLen := uint8(len(instructions))
	for i := uint8(0); i < programLen; i++ {
		instr := instructions[i]

		// Patch jump instructions with relative offset
		if _INSTR_BITS_JMP == majorInstrBits(instr) {
			instr = instr&^0x1f | uint16((arg2(instr)+offset)&0x1f)
		}
		pio.instrMem[offset+i] = instr
	}

	// Mark the instruction space as in-use
	pio.usedSpaceMask |= programMask(programLen) << uint32(offset)
	pio.programLen[offset] = programLen
	return nil
}

// CanAddProgramAtOffset returns true if there is enough space for program at given offset.
func (pio *PIO) CanAddProgramAtOffset(instructions []uint16, origin int8, offset uint8) bool {
	pio.chip.mu.Lock()
	defer pio.chip.mu.Unlock()
	return pio.canAddProgramAtOffset(instructions, origin, offset)
}

func (pio *PIO) canAddProgramAtOffset(instructions []uint16, origin int8, offset uint8) bool {
	// Non-relocatable programs must be added at offset
	if origin >= 0 && origin != int8(offset) {
		return false
	}
	if len(instructions) == 0 || len(instructions)+int(offset) > programMemSize {
		return false
	}
	return pio.usedSpaceMask&(programMask(uint8(len(instructions)))<<offset) == 0
}

func (pio *PIO) findOffsetForProgram(instructions []uint16, origin int8) int8 {
	programLen := uint32(len(instructions))
	if programLen == 0 || programLen > programMemSize {
		return -1
	}
	mask := programMask(uint8(programLen))

	// Program has fixed offset (not relocatable)
	if origin >= 0 {
		if uint32(origin) > programMemSize-programLen {
			return -1
		}

		if (pio.usedSpaceMask & (mask << origin)) != 0 {
			return -1
		}

		return origin
	}

	// work down from the top always
	for i := int8(programMemSize - programLen); i >= 0; i-- {
		if pio.usedSpaceMask&(mask<<uint32(i)) == 0 {
			return i
		}
	}

	return -1
}

func programMask(n uint8) uint32 {
	if n >= 32 {
		return 0xffffffff
	}
	return 1<<n - 1
}

// ClearProgramSection clears a contiguous section of the PIO's program memory.
// To clear all program memory use ClearProgramSection(0, 32).
func (pio *PIO) ClearProgramSection(offset, len uint8) {
	if int(offset)+int(len) > programMemSize { // 32 instructions max
		panic(badProgramBounds)
	}
	pio.chip.mu.Lock()
	defer pio.chip.mu.Unlock()
	for i := offset; i < offset+len; i++ {
		// We encode trap instructions to prevent undefined behaviour if
		// a state machine is currently using the program memory.
		pio.instrMem[i] = EncodeJmp(offset, JmpAlways)
		pio.programLen[i] = 0
	}
	pio.usedSpaceMask &^= programMask(len) << offset
}

// programAt returns the bounds of the loaded program containing addr.
func (pio *PIO) programAt(addr uint8) (offset, length uint8, ok bool) {
	for off := int(addr); off >= 0; off-- {
		if n := pio.programLen[off]; n != 0 {
			if int(addr) < off+int(n) {
				return uint8(off), n, true
			}
			return 0, 0, false
		}
	}
	return 0, 0, false
}

// SetEnabledMasked enables or disables the state machines selected by mask
// at the same device time, with their clock dividers restarted in phase.
func (pio *PIO) SetEnabledMasked(mask uint8, enabled bool) {
	pio.chip.mu.Lock()
	defer pio.chip.mu.Unlock()
	for i := range pio.sms {
		if mask&(1<<i) == 0 {
			continue
		}
		sm := &pio.sms[i]
		sm.setEnabled(enabled)
		sm.clkDivRestart()
	}
}

// GPIOStates returns the current PIO-commanded state for output GPIOs.
// This allows for debugging of a PIO program using setting or side-setting
// GPIO pins as signals.
func (pio *PIO) GPIOStates() uint32 {
	pio.chip.mu.Lock()
	defer pio.chip.mu.Unlock()
	return pio.chip.pins.out
}

// GPIODirections returns the current PIO-commanded pin directions (Output Enable).
// Useful for debugging the state of a PIO program that swaps pin directions.
func (pio *PIO) GPIODirections() uint32 {
	pio.chip.mu.Lock()
	defer pio.chip.mu.Unlock()
	return pio.chip.pins.oe
}

// FDebug returns the sticky FIFO debug flags of all state machines of the
// block, laid out as the FDEBUG register. See [FDebugTxStall] and friends.
func (pio *PIO) FDebug() uint32 {
	return pio.fdebug.Load()
}

// ClearFDebug clears the FDEBUG flags set in mask.
func (pio *PIO) ClearFDebug(mask uint32) {
	pio.fdebug.And(^mask)
}

func (pio *PIO) setFDebug(flag uint32, index uint8) {
	pio.fdebug.Or(flag << index)
}

// Version returns the version of the PIO hardware, 0 for RP2040.
func (pio *PIO) Version() uint8 { return 0 }

// InstalledProgram is a program loaded into the instruction memory of a
// PIO block.
type InstalledProgram struct {
	pio     *PIO
	offset  uint8
	program Program
}

// Offset returns the address of the first instruction of the program.
func (p InstalledProgram) Offset() uint8 { return p.offset }

// Program returns the program as it was installed.
func (p InstalledProgram) Program() Program { return p.program }

// Label returns the absolute address of a program label.
func (p InstalledProgram) Label(name string) (addr uint8, ok bool) {
	rel, ok := p.program.Labels[name]
	return p.offset + rel, ok
}

// Instructions reads the program back from instruction memory with jump
// targets made relative to the program start again.
func (p InstalledProgram) Instructions() []uint16 {
	p.pio.chip.mu.Lock()
	defer p.pio.chip.mu.Unlock()
	n := len(p.program.Instructions)
	instrs := make([]uint16, n)
	for i := range instrs {
		instr := p.pio.instrMem[int(p.offset)+i]
		if majorInstrBits(instr) == _INSTR_BITS_JMP {
			instr = instr&^0x1f | uint16((arg2(instr)-p.offset)&0x1f)
		}
		instrs[i] = instr
	}
	return instrs
}

// DefaultConfig returns the default state machine configuration for the
// program: wrap bounds relocated to the load offset and its side-set width.
func (p InstalledProgram) DefaultConfig() StateMachineConfig {
	cfg := DefaultStateMachineConfig()
	cfg.SetWrap(p.offset+p.program.WrapTarget, p.offset+p.program.Wrap)
	if p.program.SidesetBits > 0 {
		cfg.SetSidesetParams(p.program.SidesetBits, false, false)
	}
	return cfg
}

// Remove frees the program memory. State machines still executing it run
// trap instructions.
func (p InstalledProgram) Remove() {
	p.pio.ClearProgramSection(p.offset, uint8(len(p.program.Instructions)))
}

// noCopy may be embedded into structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
