package pio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// Assemble assembles a program written in pioasm syntax. Supported
// directives are .program, .origin, .side_set, .wrap_target, .wrap and
// .define; instructions are jmp, wait (gpio and pin), push, pull, mov, set
// and nop, each optionally followed by "side <v>" and "[<delay>]".
//
//	.program blink
//	    set pindirs, 1
//	.wrap_target
//	loop:
//	    set pins, 1 [31]
//	    set pins, 0 [31]
//	.wrap
func Assemble(source string) (Program, error) {
	p := &parser{
		b:       NewProgramBuilder("", 0),
		defines: make(map[string]int64),
	}
	for i, line := range strings.Split(source, "\n") {
		p.b.line = i + 1
		if err := p.parseLine(line); err != nil {
			return Program{}, err
		}
	}
	return p.b.Assemble()
}

// MustAssemble is like Assemble but panics on error. It simplifies
// package level program variables.
func MustAssemble(source string) Program {
	prog, err := Assemble(source)
	if err != nil {
		panic(err)
	}
	return prog
}

type parser struct {
	b       *ProgramBuilder
	defines map[string]int64
}

func (p *parser) errorf(err error, format string, args ...any) error {
	return &AssemblyError{Program: p.b.name, Line: p.b.line, Err: err, Detail: fmt.Sprintf(format, args...)}
}

func stripComment(line string) string {
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	return line
}

func (p *parser) parseLine(line string) error {
	line = strings.ReplaceAll(stripComment(line), ",", " ")
	tokens, err := shlex.Split(line)
	if err != nil {
		return p.errorf(ErrSyntax, "%v", err)
	}
	for len(tokens) > 0 && strings.HasSuffix(tokens[0], ":") && !strings.HasPrefix(tokens[0], ".") {
		label := strings.TrimSuffix(tokens[0], ":")
		if !isIdent(label) {
			return p.errorf(ErrSyntax, "bad label %q", tokens[0])
		}
		p.b.Label(label)
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return p.b.err
	}
	if strings.HasPrefix(tokens[0], ".") {
		return p.directive(tokens)
	}
	return p.instruction(tokens)
}

func (p *parser) directive(tokens []string) error {
	args := tokens[1:]
	switch tokens[0] {
	case ".program":
		if len(args) != 1 {
			return p.errorf(ErrSyntax, ".program needs a name")
		}
		if len(p.b.instrs) > 0 {
			return p.errorf(ErrUnsupported, "one program per source")
		}
		p.b.name = args[0]
	case ".origin":
		if len(args) != 1 {
			return p.errorf(ErrSyntax, ".origin needs an offset")
		}
		v, err := p.value(args[0], 0, programMemSize-1)
		if err != nil {
			return err
		}
		p.b.Origin(uint8(v))
	case ".side_set":
		if len(args) == 0 {
			return p.errorf(ErrSyntax, ".side_set needs a bit count")
		}
		if len(p.b.instrs) > 0 {
			return p.errorf(ErrSyntax, ".side_set after the first instruction")
		}
		if len(args) > 1 {
			return p.errorf(ErrUnsupported, ".side_set %s", strings.Join(args[1:], " "))
		}
		v, err := p.value(args[0], 0, 5)
		if err != nil {
			return err
		}
		p.b.sidesetBits = uint8(v)
	case ".wrap_target":
		p.b.WrapTarget()
	case ".wrap":
		p.b.Wrap()
	case ".define":
		if len(args) > 0 && args[0] == "public" {
			args = args[1:]
		}
		if len(args) != 2 || !isIdent(args[0]) {
			return p.errorf(ErrSyntax, ".define needs a name and a value")
		}
		v, err := p.value(args[1], -1<<31, 1<<32-1)
		if err != nil {
			return err
		}
		p.defines[args[0]] = v
	default:
		return p.errorf(ErrSyntax, "unknown directive %s", tokens[0])
	}
	return p.b.err
}

// value parses a number or a .define symbol and checks it against [min, max].
func (p *parser) value(tok string, min, max int64) (int64, error) {
	v, ok := p.defines[tok]
	if !ok {
		var err error
		v, err = strconv.ParseInt(tok, 0, 64)
		if err != nil {
			return 0, p.errorf(ErrSyntax, "bad value %q", tok)
		}
	}
	if v < min || v > max {
		return 0, p.errorf(ErrFieldRange, "%d not in %d..%d", v, min, max)
	}
	return v, nil
}

var jmpConds = map[string]JmpCond{
	"!x":    JmpXZero,
	"x--":   JmpXNZeroDec,
	"!y":    JmpYZero,
	"y--":   JmpYNZeroDec,
	"x!=y":  JmpXNotEqualY,
	"pin":   JmpPinInput,
	"!osre": JmpOSRNotEmpty,
}

var setDests = map[string]SetDest{
	"pins":    SetDestPins,
	"x":       SetDestX,
	"y":       SetDestY,
	"pindirs": SetDestPindirs,
}

var movDests = map[string]MovDest{
	"pins": MovDestPins,
	"x":    MovDestX,
	"y":    MovDestY,
	"pc":   MovDestPC,
	"isr":  MovDestISR,
	"osr":  MovDestOSR,
}

var movSrcs = map[string]MovSrc{
	"pins":   MovSrcPins,
	"x":      MovSrcX,
	"y":      MovSrcY,
	"null":   MovSrcNull,
	"status": MovSrcStatus,
	"isr":    MovSrcISR,
	"osr":    MovSrcOSR,
}

func (p *parser) instruction(tokens []string) error {
	op := strings.ToLower(tokens[0])
	args, side, delay, err := p.modifiers(tokens[1:])
	if err != nil {
		return err
	}
	asm := p.b.Assembler()
	var instr instructionV0
	jmpLabel := ""

	switch op {
	case "nop":
		if len(args) != 0 {
			return p.errorf(ErrSyntax, "nop takes no operands")
		}
		instr = asm.Nop()

	case "jmp":
		cond := JmpAlways
		if len(args) == 2 {
			c, ok := jmpConds[strings.ToLower(args[0])]
			if !ok {
				return p.errorf(ErrSyntax, "bad jmp condition %q", args[0])
			}
			cond = c
			args = args[1:]
		}
		if len(args) != 1 {
			return p.errorf(ErrSyntax, "jmp needs a target")
		}
		if isIdent(args[0]) {
			if _, isDefine := p.defines[args[0]]; !isDefine {
				jmpLabel = args[0]
				instr = asm.Jmp(0, cond)
				break
			}
		}
		addr, err := p.value(args[0], 0, programMemSize-1)
		if err != nil {
			return err
		}
		instr = asm.Jmp(uint8(addr), cond)

	case "wait":
		if len(args) != 3 {
			return p.errorf(ErrSyntax, "wait needs polarity, source and index")
		}
		pol, err := p.value(args[0], 0, 1)
		if err != nil {
			return err
		}
		idx, err := p.value(args[2], 0, NumPins-1)
		if err != nil {
			return err
		}
		switch strings.ToLower(args[1]) {
		case "gpio":
			instr = asm.WaitGPIO(pol == 1, uint8(idx))
		case "pin":
			instr = asm.WaitPin(pol == 1, uint8(idx))
		case "irq", "jmppin":
			return p.errorf(ErrUnsupported, "wait %s", args[1])
		default:
			return p.errorf(ErrSyntax, "bad wait source %q", args[1])
		}

	case "push", "pull":
		cond, block := false, true
		condWord := "iffull"
		if op == "pull" {
			condWord = "ifempty"
		}
		for _, a := range args {
			switch strings.ToLower(a) {
			case condWord:
				cond = true
			case "block":
				block = true
			case "noblock":
				block = false
			default:
				return p.errorf(ErrSyntax, "bad %s option %q", op, a)
			}
		}
		if op == "push" {
			instr = asm.Push(cond, block)
		} else {
			instr = asm.Pull(cond, block)
		}

	case "mov":
		instr, err = p.mov(asm, args)
		if err != nil {
			return err
		}

	case "set":
		if len(args) != 2 {
			return p.errorf(ErrSyntax, "set needs a destination and a value")
		}
		dest, ok := setDests[strings.ToLower(args[0])]
		if !ok {
			return p.errorf(ErrSyntax, "bad set destination %q", args[0])
		}
		v, err := p.value(args[1], 0, 31)
		if err != nil {
			return err
		}
		instr = asm.Set(dest, uint8(v))

	case "in", "out", "irq":
		return p.errorf(ErrUnsupported, "%s", op)

	default:
		return p.errorf(ErrSyntax, "unknown instruction %q", tokens[0])
	}

	if side >= 0 {
		if p.b.sidesetBits == 0 {
			return p.errorf(ErrSyntax, "side without .side_set")
		}
		if side >= 1<<p.b.sidesetBits {
			return p.errorf(ErrFieldRange, "side %d does not fit in %d bits", side, p.b.sidesetBits)
		}
		instr = instr.Side(uint8(side))
	} else if p.b.sidesetBits > 0 {
		return p.errorf(ErrSyntax, "missing side")
	}
	if delay > 0 {
		if delay > int64(maxDelay(p.b.sidesetBits)) {
			return p.errorf(ErrFieldRange, "delay %d exceeds %d", delay, maxDelay(p.b.sidesetBits))
		}
		instr = instr.Delay(uint8(delay))
	}
	if jmpLabel != "" {
		p.b.JmpTo(jmpLabel, instr)
	} else {
		p.b.Add(instr)
	}
	return p.b.err
}

// modifiers splits the trailing "side <v>" and "[<d>]" off an operand list.
// side is -1 when absent.
func (p *parser) modifiers(tokens []string) (args []string, side, delay int64, err error) {
	side = -1
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case strings.EqualFold(tok, "side") || strings.EqualFold(tok, "sideset"):
			if i+1 >= len(tokens) {
				return nil, 0, 0, p.errorf(ErrSyntax, "side needs a value")
			}
			i++
			side, err = p.value(tokens[i], 0, 31)
			if err != nil {
				return nil, 0, 0, err
			}
		case strings.HasPrefix(tok, "["):
			if !strings.HasSuffix(tok, "]") {
				return nil, 0, 0, p.errorf(ErrSyntax, "bad delay %q", tok)
			}
			delay, err = p.value(strings.TrimSpace(tok[1:len(tok)-1]), 0, 31)
			if err != nil {
				return nil, 0, 0, err
			}
		default:
			args = append(args, tok)
		}
	}
	return args, side, delay, nil
}

func (p *parser) mov(asm AssemblerV0, args []string) (instructionV0, error) {
	if len(args) == 3 {
		// Operator given as its own token: mov x, ! y
		args = []string{args[0], args[1] + args[2]}
	}
	if len(args) != 2 {
		return instructionV0{}, p.errorf(ErrSyntax, "mov needs a destination and a source")
	}
	destTok := strings.ToLower(args[0])
	dest, ok := movDests[destTok]
	if !ok {
		if destTok == "exec" || destTok == "pindirs" {
			return instructionV0{}, p.errorf(ErrUnsupported, "mov %s", destTok)
		}
		return instructionV0{}, p.errorf(ErrSyntax, "bad mov destination %q", args[0])
	}
	srcTok := strings.ToLower(args[1])
	op := MovOpNone
	switch {
	case strings.HasPrefix(srcTok, "::"):
		op, srcTok = MovOpReverse, srcTok[2:]
	case strings.HasPrefix(srcTok, "!"), strings.HasPrefix(srcTok, "~"):
		op, srcTok = MovOpInvert, srcTok[1:]
	}
	src, ok := movSrcs[srcTok]
	if !ok {
		return instructionV0{}, p.errorf(ErrSyntax, "bad mov source %q", args[1])
	}
	switch op {
	case MovOpInvert:
		return asm.MovInvert(dest, src), nil
	case MovOpReverse:
		return asm.MovReverse(dest, src), nil
	}
	return asm.Mov(dest, src), nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
