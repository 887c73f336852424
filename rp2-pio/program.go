package pio

import (
	"errors"
	"fmt"
)

// Assembler errors. They are returned wrapped in an [AssemblyError].
var (
	ErrUndefinedLabel        = errors.New("undefined label")
	ErrDuplicateLabel        = errors.New("duplicate label")
	ErrProgramTooLarge       = errors.New("program larger than instruction memory")
	ErrUnreachableWrapTarget = errors.New("wrap target unreachable from program entry")
	ErrBadWrap               = errors.New("bad wrap bounds")
	ErrSyntax                = errors.New("syntax error")
	ErrUnsupported           = errors.New("unsupported instruction")
	ErrFieldRange            = errors.New("field out of range")
)

// AssemblyError describes why a program could not be assembled.
type AssemblyError struct {
	Program string
	// Line is the 1-based source line, 0 when unknown.
	Line int
	// Label is the label involved, if any.
	Label  string
	Detail string
	Err    error
}

func (e *AssemblyError) Error() string {
	msg := "pio: "
	if e.Program != "" {
		msg += "program " + e.Program + ": "
	}
	if e.Line > 0 {
		msg += fmt.Sprintf("line %d: ", e.Line)
	}
	msg += e.Err.Error()
	if e.Label != "" {
		msg += fmt.Sprintf(" %q", e.Label)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// Program is an assembled PIO program. Jump targets are relative to the
// first instruction; they are relocated when the program is installed.
type Program struct {
	Name         string
	Instructions []uint16
	// Origin is the required load offset, -1 for relocatable programs.
	Origin int8
	// WrapTarget and Wrap are the instruction indices execution wraps from
	// (after Wrap) and to (WrapTarget).
	WrapTarget, Wrap uint8
	// SidesetBits is the side-set width in the delay/side-set field, 0..5.
	SidesetBits uint8
	Labels      map[string]uint8
}

// Validate checks that p can be installed: it fits in instruction memory,
// only uses supported instructions with in-range operands, has sane wrap
// bounds and its wrap target is reachable from the entry point.
func (p Program) Validate() error {
	return p.validate(nil)
}

// validate checks p, attributing errors to source lines when lines is set.
func (p Program) validate(lines []int) error {
	fail := func(idx int, err error, format string, args ...any) error {
		ae := &AssemblyError{Program: p.Name, Err: err, Detail: fmt.Sprintf(format, args...)}
		if idx >= 0 && idx < len(lines) {
			ae.Line = lines[idx]
		}
		return ae
	}
	n := len(p.Instructions)
	switch {
	case n == 0:
		return fail(-1, ErrSyntax, "empty program")
	case n > programMemSize:
		return fail(-1, ErrProgramTooLarge, "%d instructions", n)
	case p.SidesetBits > 5:
		return fail(-1, ErrFieldRange, "side-set width %d", p.SidesetBits)
	case p.Origin < -1 || int(p.Origin)+n > programMemSize:
		return fail(-1, ErrFieldRange, "origin %d", p.Origin)
	case int(p.Wrap) >= n || int(p.WrapTarget) >= n || p.Wrap < p.WrapTarget:
		return fail(-1, ErrBadWrap, "wrap_target %d, wrap %d", p.WrapTarget, p.Wrap)
	}
	for i, instr := range p.Instructions {
		if detail, err := checkInstr(instr, n); err != nil {
			return fail(i, err, "instruction %d: %s", i, detail)
		}
	}
	if !p.reachable(p.WrapTarget) {
		return fail(-1, ErrUnreachableWrapTarget, "wrap_target %d", p.WrapTarget)
	}
	return nil
}

// checkInstr reports why instr cannot be executed by the simulator.
func checkInstr(instr uint16, n int) (string, error) {
	a1, a2 := arg1(instr), arg2(instr)
	switch kind := decodeKind(instr); kind {
	case InstrIN, InstrOUT, InstrIRQ:
		return kind.String(), ErrUnsupported
	case InstrJMP:
		if int(a2) >= n {
			return fmt.Sprintf("jump target %d", a2), ErrFieldRange
		}
	case InstrWAIT:
		if a1&0b11 > 1 {
			return "wait source", ErrUnsupported
		}
	case InstrMOV:
		switch MovDest(a1) {
		case MovDestPins, MovDestX, MovDestY, MovDestPC, MovDestISR, MovDestOSR:
		default:
			return fmt.Sprintf("mov destination %d", a1), ErrUnsupported
		}
		if a2&0b111 == 0b100 || a2>>3 == 0b11 {
			return fmt.Sprintf("mov source %d", a2), ErrUnsupported
		}
	case InstrSET:
		switch SetDest(a1) {
		case SetDestPins, SetDestX, SetDestY, SetDestPindirs:
		default:
			return fmt.Sprintf("set destination %d", a1), ErrFieldRange
		}
	case InstrPUSH, InstrPULL:
		if instr&0x1f != 0 {
			return "reserved bits set", ErrFieldRange
		}
	}
	return "", nil
}

// reachable reports whether instruction target can be executed starting
// from index 0. Unconditional jumps only lead to their target, conditional
// jumps also fall through and the wrap instruction falls through to the wrap
// target. MOV PC is treated as able to reach any instruction.
func (p Program) reachable(target uint8) bool {
	n := len(p.Instructions)
	seen := make([]bool, n)
	stack := []int{0}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		if i == int(target) {
			return true
		}
		next := i + 1
		if i == int(p.Wrap) {
			next = int(p.WrapTarget)
		}
		instr := p.Instructions[i]
		switch decodeKind(instr) {
		case InstrJMP:
			stack = append(stack, int(arg2(instr)))
			if JmpCond(arg1(instr)) != JmpAlways {
				stack = append(stack, next)
			}
		case InstrMOV:
			if MovDest(arg1(instr)) == MovDestPC {
				for j := 0; j < n; j++ {
					stack = append(stack, j)
				}
			}
			stack = append(stack, next)
		default:
			stack = append(stack, next)
		}
	}
	return false
}

// ProgramBuilder assembles a program from encoded instructions and
// symbolic labels. Jumps to labels may be added before the label is
// defined. The first error is kept and reported by Assemble.
//
//	asm := pio.AssemblerV0{}
//	b := pio.NewProgramBuilder("squarewave", 0)
//	b.Add(asm.Set(pio.SetDestPindirs, 1))
//	b.WrapTarget()
//	b.Add(asm.Set(pio.SetDestPins, 1).Delay(1))
//	b.Add(asm.Set(pio.SetDestPins, 0))
//	b.Wrap()
//	prog, err := b.Assemble()
type ProgramBuilder struct {
	name        string
	sidesetBits uint8
	origin      int8
	instrs      []uint16
	lines       []int
	refs        []labelRef
	labels      map[string]int
	labelLines  map[string]int
	wrapTarget  int
	wrap        int
	line        int
	err         error
}

type labelRef struct {
	index int
	label string
}

// NewProgramBuilder returns a builder for a relocatable program.
func NewProgramBuilder(name string, sidesetBits uint8) *ProgramBuilder {
	return &ProgramBuilder{
		name:        name,
		sidesetBits: sidesetBits,
		origin:      -1,
		labels:      make(map[string]int),
		labelLines:  make(map[string]int),
		wrapTarget:  -1,
		wrap:        -1,
	}
}

// Assembler returns an AssemblerV0 with the builder's side-set width.
func (b *ProgramBuilder) Assembler() AssemblerV0 {
	return AssemblerV0{SidesetBits: b.sidesetBits}
}

func (b *ProgramBuilder) fail(err error, label, format string, args ...any) {
	if b.err != nil {
		return
	}
	b.err = &AssemblyError{Program: b.name, Line: b.line, Label: label, Err: err, Detail: fmt.Sprintf(format, args...)}
}

// Origin fixes the load offset of the program.
func (b *ProgramBuilder) Origin(offset uint8) *ProgramBuilder {
	if offset >= programMemSize {
		b.fail(ErrFieldRange, "", "origin %d", offset)
		return b
	}
	b.origin = int8(offset)
	return b
}

// Label defines name at the next instruction.
func (b *ProgramBuilder) Label(name string) *ProgramBuilder {
	if _, ok := b.labels[name]; ok {
		b.fail(ErrDuplicateLabel, name, "first defined on line %d", b.labelLines[name])
		return b
	}
	b.labels[name] = len(b.instrs)
	b.labelLines[name] = b.line
	return b
}

// WrapTarget marks the next instruction as the wrap target.
func (b *ProgramBuilder) WrapTarget() *ProgramBuilder {
	b.wrapTarget = len(b.instrs)
	return b
}

// Wrap marks the last added instruction as the wrap source.
func (b *ProgramBuilder) Wrap() *ProgramBuilder {
	if len(b.instrs) == 0 {
		b.fail(ErrBadWrap, "", ".wrap before any instruction")
		return b
	}
	b.wrap = len(b.instrs) - 1
	return b
}

// Add appends an instruction.
func (b *ProgramBuilder) Add(instr instructionV0) *ProgramBuilder {
	return b.AddWord(instr.Encode())
}

// AddWord appends an already encoded instruction.
func (b *ProgramBuilder) AddWord(instr uint16) *ProgramBuilder {
	b.instrs = append(b.instrs, instr)
	b.lines = append(b.lines, b.line)
	return b
}

// JmpTo appends a jump instruction whose target is resolved to label. The
// address field of instr is replaced.
func (b *ProgramBuilder) JmpTo(label string, instr instructionV0) *ProgramBuilder {
	if decodeKind(instr.Encode()) != InstrJMP {
		b.fail(ErrSyntax, label, "JmpTo needs a jmp instruction")
		return b
	}
	b.refs = append(b.refs, labelRef{index: len(b.instrs), label: label})
	return b.AddWord(instr.Encode() &^ 0x1f)
}

// Assemble resolves labels and returns the validated program.
func (b *ProgramBuilder) Assemble() (Program, error) {
	if b.err != nil {
		return Program{}, b.err
	}
	n := len(b.instrs)
	if n == 0 {
		return Program{}, &AssemblyError{Program: b.name, Err: ErrSyntax, Detail: "empty program"}
	}
	if n > programMemSize {
		return Program{}, &AssemblyError{Program: b.name, Line: b.lines[programMemSize], Err: ErrProgramTooLarge, Detail: fmt.Sprintf("%d instructions", n)}
	}
	instrs := append([]uint16(nil), b.instrs...)
	for _, ref := range b.refs {
		addr, ok := b.labels[ref.label]
		if !ok {
			return Program{}, &AssemblyError{Program: b.name, Line: b.lines[ref.index], Label: ref.label, Err: ErrUndefinedLabel}
		}
		if addr >= n {
			return Program{}, &AssemblyError{Program: b.name, Line: b.lines[ref.index], Label: ref.label, Err: ErrFieldRange, Detail: "label past the last instruction"}
		}
		instrs[ref.index] |= uint16(addr)
	}
	labels := make(map[string]uint8, len(b.labels))
	for name, addr := range b.labels {
		labels[name] = uint8(addr)
	}
	wrapTarget, wrap := b.wrapTarget, b.wrap
	if wrapTarget < 0 {
		wrapTarget = 0
	}
	if wrap < 0 {
		wrap = n - 1
	}
	if wrapTarget >= n {
		return Program{}, &AssemblyError{Program: b.name, Err: ErrBadWrap, Detail: ".wrap_target after the last instruction"}
	}
	prog := Program{
		Name:         b.name,
		Instructions: instrs,
		Origin:       b.origin,
		WrapTarget:   uint8(wrapTarget),
		Wrap:         uint8(wrap),
		SidesetBits:  b.sidesetBits,
		Labels:       labels,
	}
	if err := prog.validate(b.lines); err != nil {
		return Program{}, err
	}
	return prog, nil
}
