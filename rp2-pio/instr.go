package pio

// InstrKind is a enum for the PIO instruction type. It only represents the kind of
// instruction. It cannot store the arguments.
type InstrKind uint8

const (
	InstrJMP InstrKind = iota
	InstrWAIT
	InstrIN
	InstrOUT
	InstrPUSH
	InstrPULL
	InstrMOV
	InstrIRQ
	InstrSET
)

var instrKindNames = [...]string{
	InstrJMP:  "jmp",
	InstrWAIT: "wait",
	InstrIN:   "in",
	InstrOUT:  "out",
	InstrPUSH: "push",
	InstrPULL: "pull",
	InstrMOV:  "mov",
	InstrIRQ:  "irq",
	InstrSET:  "set",
}

func (k InstrKind) String() string {
	if int(k) < len(instrKindNames) {
		return instrKindNames[k]
	}
	return "invalid"
}

// This file contains the primitives for creating instructions dynamically
const (
	_INSTR_BITS_JMP  = 0x0000
	_INSTR_BITS_WAIT = 0x2000
	_INSTR_BITS_IN   = 0x4000
	_INSTR_BITS_OUT  = 0x6000
	_INSTR_BITS_PUSH = 0x8000
	_INSTR_BITS_PULL = 0x8080
	_INSTR_BITS_MOV  = 0xa000
	_INSTR_BITS_IRQ  = 0xc000
	_INSTR_BITS_SET  = 0xe000

	// Bit mask for instruction code
	_INSTR_BITS_Msk = 0xe000
)

type SrcDest uint8

const (
	SrcDestPins    SrcDest = 0
	SrcDestX       SrcDest = 1
	SrcDestY       SrcDest = 2
	SrcDestNull    SrcDest = 3
	SrcDestPinDirs SrcDest = 4
	SrcDestExecMov SrcDest = 4
	SrcDestStatus  SrcDest = 5
	SrcDestPC      SrcDest = 5
	SrcDestISR     SrcDest = 6
	SrcDestOSR     SrcDest = 7
)

type JmpCond uint8

const (
	// No condition, always jumps.
	JmpAlways JmpCond = iota
	// Jump if X is zero.
	JmpXZero
	// Jump if X is not zero, prior to decrement of X.
	JmpXNZeroDec
	// Jump if Y is zero.
	JmpYZero
	// Jump if Y is not zero, prior to decrement of Y.
	JmpYNZeroDec
	// Jump if X is not equal to Y.
	JmpXNotEqualY
	// Jump if EXECCTRL_JMP_PIN (state machine configured) is high.
	JmpPinInput
	// Compares the bits shifted out since last pull with the shift count theshold
	// (configured by SHIFTCTRL_PULL_THRESH) and jumps if there are remaining bits to shift.
	JmpOSRNotEmpty
)

var instrKindBits = [...]uint16{
	InstrJMP:  _INSTR_BITS_JMP,
	InstrWAIT: _INSTR_BITS_WAIT,
	InstrIN:   _INSTR_BITS_IN,
	InstrOUT:  _INSTR_BITS_OUT,
	InstrPUSH: _INSTR_BITS_PUSH,
	InstrPULL: _INSTR_BITS_PULL,
	InstrMOV:  _INSTR_BITS_MOV,
	InstrIRQ:  _INSTR_BITS_IRQ,
	InstrSET:  _INSTR_BITS_SET,
}

// EncodeInstr encodes an arbitrary PIO instruction with the given arguments.
func EncodeInstr(instr InstrKind, delaySideset, arg1_3b, arg2_5b uint8) uint16 {
	if int(instr) >= len(instrKindBits) {
		panic("pio:bad instruction kind")
	}
	return instrKindBits[instr] | uint16(delaySideset&0x1f)<<8 | uint16(arg1_3b&0b111)<<5 | uint16(arg2_5b&0x1f)
}

func majorInstrBits(instr uint16) uint16 {
	return instr & _INSTR_BITS_Msk
}

// decodeKind returns the kind of an encoded instruction. PUSH and PULL share
// major opcode bits and differ in bit 7.
func decodeKind(instr uint16) InstrKind {
	kind := InstrKind(instr >> 13)
	if kind >= InstrPUSH {
		kind++
		if kind == InstrPULL && instr&0x80 == 0 {
			kind = InstrPUSH
		}
	}
	return kind
}

// arg1 returns the 3-bit field at bits 7:5 of an instruction.
func arg1(instr uint16) uint8 { return uint8(instr>>5) & 0b111 }

// arg2 returns the 5-bit field at bits 4:0 of an instruction.
func arg2(instr uint16) uint8 { return uint8(instr) & 0x1f }

// delaySideset returns the 5-bit delay/side-set field of an instruction.
func delaySideset(instr uint16) uint8 { return uint8(instr>>8) & 0x1f }

func encodeInstrAndArgs(instr uint16, arg1 uint8, arg2 uint8) uint16 {
	return instr | (uint16(arg1) << 5) | uint16(arg2&0x1f)
}

func encodeInstrAndSrcDest(instr uint16, dest SrcDest, value uint8) uint16 {
	return encodeInstrAndArgs(instr, uint8(dest)&7, value)
}

// EncodeDelay encodes the delay field. When side-set is in use the caller must
// keep cycles within the bits left over by the side-set.
func EncodeDelay(cycles uint8) uint16 {
	return (uint16(cycles) & 0b11111) << 8
}

// EncodeSideSet encodes a side-set value occupying the top bitCount bits of
// the delay/side-set field.
func EncodeSideSet(bitCount, value uint8) uint16 {
	if bitCount == 0 {
		return 0
	}
	return uint16(value&(1<<bitCount-1)) << (13 - bitCount)
}

func EncodeJmp(addr uint8, condition JmpCond) uint16 {
	return encodeInstrAndArgs(_INSTR_BITS_JMP, uint8(condition&0b111), addr)
}

func EncodeWaitGPIO(polarity bool, pin uint8) uint16 {
	flag := boolAsU8(polarity) << 2
	return encodeInstrAndArgs(_INSTR_BITS_WAIT, 0|flag, pin)
}

func EncodeWaitPin(polarity bool, pin uint8) uint16 {
	flag := boolAsU8(polarity) << 2

	return encodeInstrAndArgs(_INSTR_BITS_WAIT, 1|flag, pin)
}

func EncodePush(ifFull bool, block bool) uint16 {
	arg := boolAsU8(ifFull)<<1 | boolAsU8(block)
	return encodeInstrAndArgs(_INSTR_BITS_PUSH, arg, 0)
}

func EncodePull(ifEmpty bool, block bool) uint16 {
	arg := boolAsU8(ifEmpty)<<1 | boolAsU8(block)
	return encodeInstrAndArgs(_INSTR_BITS_PULL, arg, 0)
}

func EncodeMov(dest SrcDest, src SrcDest) uint16 {
	return encodeInstrAndSrcDest(_INSTR_BITS_MOV, dest, uint8(src)&7)
}

func EncodeMovNot(dest SrcDest, src SrcDest) uint16 {
	return encodeInstrAndSrcDest(_INSTR_BITS_MOV, dest, (1<<3)|(uint8(src)&7))
}

func EncodeMovReverse(dest SrcDest, src SrcDest) uint16 {
	return encodeInstrAndSrcDest(_INSTR_BITS_MOV, dest, (2<<3)|(uint8(src)&7))
}

func EncodeSet(dest SrcDest, value uint8) uint16 {
	return encodeInstrAndSrcDest(_INSTR_BITS_SET, dest, value)
}

func EncodeNOP() uint16 {
	return EncodeMov(SrcDestY, SrcDestY)
}

func boolAsU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
