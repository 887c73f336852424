package pio

// AssemblerV0 provides a fluent API for programming PIO
// within the Go language for PIO version 0 (RP2040).
// Only the instructions the simulator executes are provided: JMP, WAIT
// on gpio or pin, PUSH, PULL, MOV and SET.
//
//	asm := pio.AssemblerV0{}
//	program := []uint16{
//		asm.Set(pio.SetDestPindirs, 1).Encode(), // 0: set pindirs, 1
//		asm.Pull(false, true).Encode(),          // 1: pull block
//		asm.Jmp(1, pio.JmpAlways).Encode(),      // 2: jmp 1
//	}
type AssemblerV0 struct {
	// SidesetBits is the number of bits of the delay field used for side-set, 0..5.
	SidesetBits uint8
}

// SetDest is the destination of a SET instruction.
type SetDest uint8

const (
	SetDestPins    SetDest = 0b000
	SetDestX       SetDest = 0b001
	SetDestY       SetDest = 0b010
	SetDestPindirs SetDest = 0b100
)

// MovDest is the destination of a MOV instruction.
type MovDest uint8

const (
	MovDestPins MovDest = 0b000
	MovDestX    MovDest = 0b001
	MovDestY    MovDest = 0b010
	MovDestPC   MovDest = 0b101
	MovDestISR  MovDest = 0b110
	MovDestOSR  MovDest = 0b111
)

// MovSrc is the source of a MOV instruction.
type MovSrc uint8

const (
	MovSrcPins   MovSrc = 0b000
	MovSrcX      MovSrc = 0b001
	MovSrcY      MovSrc = 0b010
	MovSrcNull   MovSrc = 0b011
	MovSrcStatus MovSrc = 0b101
	MovSrcISR    MovSrc = 0b110
	MovSrcOSR    MovSrc = 0b111
)

// MovOp is the operation a MOV applies to its source.
type MovOp uint8

const (
	MovOpNone    MovOp = 0b00
	MovOpInvert  MovOp = 0b01
	MovOpReverse MovOp = 0b10
)

// instructionV0 is an encoded instruction being assembled. The delay and
// side-set fields are filled in by chaining Delay and Side.
type instructionV0 struct {
	instr       uint16
	sidesetBits uint8
}

// Encode returns the encoded instruction.
func (instr instructionV0) Encode() uint16 { return instr.instr }

// Side sets the side-set value of the instruction. It panics if the
// assembler has no side-set bits.
func (instr instructionV0) Side(value uint8) instructionV0 {
	if instr.sidesetBits == 0 {
		panic("pio:side-set not configured")
	}
	instr.instr |= EncodeSideSet(instr.sidesetBits, value)
	return instr
}

// Delay sets the number of idle cycles after the instruction completes.
// It panics if cycles does not fit in the bits left over by the side-set.
func (instr instructionV0) Delay(cycles uint8) instructionV0 {
	if cycles > maxDelay(instr.sidesetBits) {
		panic("pio:delay too large")
	}
	instr.instr |= EncodeDelay(cycles)
	return instr
}

// maxDelay returns the largest delay encodable next to sidesetBits of side-set.
func maxDelay(sidesetBits uint8) uint8 {
	if sidesetBits >= 5 {
		return 0
	}
	return 0x1f >> sidesetBits
}

func (asm AssemblerV0) instr(instr uint16) instructionV0 {
	if asm.SidesetBits > 5 {
		panic("pio:side-set bits")
	}
	return instructionV0{instr: instr, sidesetBits: asm.SidesetBits}
}

func (asm AssemblerV0) instrArgs(instr uint16, arg1 uint8, arg2 uint8) instructionV0 {
	return asm.instr(encodeInstrAndArgs(instr, arg1, arg2))
}

// Jmp jumps to addr if cond is true. addr is relative to the program start
// and relocated when the program is added to a PIO block.
func (asm AssemblerV0) Jmp(addr uint8, cond JmpCond) instructionV0 {
	return asm.instr(EncodeJmp(addr, cond))
}

// WaitGPIO stalls until the absolute GPIO pin reads polarity.
func (asm AssemblerV0) WaitGPIO(polarity bool, pin uint8) instructionV0 {
	return asm.instr(EncodeWaitGPIO(polarity, pin))
}

// WaitPin stalls until input pin (relative to the IN pin base) reads polarity.
func (asm AssemblerV0) WaitPin(polarity bool, pin uint8) instructionV0 {
	return asm.instr(EncodeWaitPin(polarity, pin))
}

// Push pushes the ISR into the RX FIFO and clears it.
//   - ifFull makes the push conditional on the ISR shift count reaching the push threshold.
//   - block stalls on a full RX FIFO. Without block a full FIFO drops the word.
func (asm AssemblerV0) Push(ifFull bool, block bool) instructionV0 {
	return asm.instr(EncodePush(ifFull, block))
}

// Pull loads a word from the TX FIFO into the OSR.
//   - ifEmpty makes the pull conditional on the OSR shift count reaching the pull threshold.
//   - block stalls on an empty TX FIFO. Without block an empty FIFO copies X into the OSR.
func (asm AssemblerV0) Pull(ifEmpty bool, block bool) instructionV0 {
	return asm.instr(EncodePull(ifEmpty, block))
}

// Mov copies src into dest.
func (asm AssemblerV0) Mov(dest MovDest, src MovSrc) instructionV0 {
	return asm.mov(dest, MovOpNone, src)
}

// MovInvert copies the bitwise complement of src into dest.
func (asm AssemblerV0) MovInvert(dest MovDest, src MovSrc) instructionV0 {
	return asm.mov(dest, MovOpInvert, src)
}

// MovReverse copies src into dest with the bit order reversed.
func (asm AssemblerV0) MovReverse(dest MovDest, src MovSrc) instructionV0 {
	return asm.mov(dest, MovOpReverse, src)
}

func (asm AssemblerV0) mov(dest MovDest, op MovOp, src MovSrc) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_MOV, uint8(dest)&0b111, uint8(op&0b11)<<3|uint8(src)&0b111)
}

// Set writes the 5-bit immediate value to dest.
func (asm AssemblerV0) Set(dest SetDest, value uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_SET, uint8(dest)&0b111, value)
}

// Nop assembles to mov y, y.
func (asm AssemblerV0) Nop() instructionV0 {
	return asm.Mov(MovDestY, MovSrcY)
}
