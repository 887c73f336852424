package pio

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var jmpCondNames = [...]string{
	JmpAlways:      "",
	JmpXZero:       "!x",
	JmpXNZeroDec:   "x--",
	JmpYZero:       "!y",
	JmpYNZeroDec:   "y--",
	JmpXNotEqualY:  "x!=y",
	JmpPinInput:    "pin",
	JmpOSRNotEmpty: "!osre",
}

var srcDestNames = map[InstrKind][8]string{
	InstrMOV: {"pins", "x", "y", "", "", "pc", "isr", "osr"},
	InstrSET: {"pins", "x", "y", "", "pindirs", "", "", ""},
}

var movSrcNames = [8]string{"pins", "x", "y", "null", "", "status", "isr", "osr"}

// Disassemble returns the pioasm text of an encoded instruction. Jump targets
// are printed as numbers. Words the simulator does not execute are printed
// as a .word directive.
func Disassemble(instr uint16, sidesetBits uint8) string {
	return disassemble(instr, sidesetBits, nil)
}

func disassemble(instr uint16, sidesetBits uint8, target func(uint8) string) string {
	if target == nil {
		target = func(addr uint8) string { return strconv.Itoa(int(addr)) }
	}
	a1, a2 := arg1(instr), arg2(instr)
	var b strings.Builder
	switch kind := decodeKind(instr); kind {
	case InstrJMP:
		b.WriteString("jmp ")
		if cond := jmpCondNames[a1]; cond != "" {
			b.WriteString(cond + ", ")
		}
		b.WriteString(target(a2))
	case InstrWAIT:
		src := ""
		switch a1 & 0b11 {
		case 0:
			src = "gpio"
		case 1:
			src = "pin"
		default:
			return word(instr)
		}
		fmt.Fprintf(&b, "wait %d %s %d", a1>>2, src, a2)
	case InstrPUSH, InstrPULL:
		if instr&0x1f != 0 {
			return word(instr)
		}
		b.WriteString(kind.String())
		if a1&0b10 != 0 {
			if kind == InstrPUSH {
				b.WriteString(" iffull")
			} else {
				b.WriteString(" ifempty")
			}
		}
		if a1&1 != 0 {
			b.WriteString(" block")
		} else {
			b.WriteString(" noblock")
		}
	case InstrMOV:
		if a1 == uint8(MovDestY) && a2 == uint8(MovSrcY) {
			b.WriteString("nop")
			break
		}
		dest := srcDestNames[InstrMOV][a1]
		src := movSrcNames[a2&0b111]
		if dest == "" || src == "" {
			return word(instr)
		}
		op := ""
		switch MovOp(a2 >> 3) {
		case MovOpInvert:
			op = "!"
		case MovOpReverse:
			op = "::"
		case MovOpNone:
		default:
			return word(instr)
		}
		fmt.Fprintf(&b, "mov %s, %s%s", dest, op, src)
	case InstrSET:
		dest := srcDestNames[InstrSET][a1]
		if dest == "" {
			return word(instr)
		}
		fmt.Fprintf(&b, "set %s, %d", dest, a2)
	default:
		return word(instr)
	}

	field := delaySideset(instr)
	if sidesetBits > 0 && sidesetBits <= 5 {
		fmt.Fprintf(&b, " side %d", field>>(5-sidesetBits))
	}
	if delay := field & maxDelay(sidesetBits); delay > 0 {
		fmt.Fprintf(&b, " [%d]", delay)
	}
	return b.String()
}

func word(instr uint16) string {
	return fmt.Sprintf(".word 0x%04x", instr)
}

// Disassemble returns a pioasm listing of the program that Assemble accepts
// and that assembles to the same instructions.
func (p Program) Disassemble() []string {
	byAddr := make(map[uint8][]string)
	for name, addr := range p.Labels {
		byAddr[addr] = append(byAddr[addr], name)
	}
	for _, names := range byAddr {
		sort.Strings(names)
	}
	target := func(addr uint8) string {
		if names := byAddr[addr]; len(names) > 0 {
			return names[0]
		}
		return strconv.Itoa(int(addr))
	}

	var lines []string
	if p.Name != "" {
		lines = append(lines, ".program "+p.Name)
	}
	if p.Origin >= 0 {
		lines = append(lines, fmt.Sprintf(".origin %d", p.Origin))
	}
	if p.SidesetBits > 0 {
		lines = append(lines, fmt.Sprintf(".side_set %d", p.SidesetBits))
	}
	for i, instr := range p.Instructions {
		addr := uint8(i)
		if addr == p.WrapTarget {
			lines = append(lines, ".wrap_target")
		}
		for _, name := range byAddr[addr] {
			lines = append(lines, name+":")
		}
		lines = append(lines, "\t"+disassemble(instr, p.SidesetBits, target))
		if addr == p.Wrap {
			lines = append(lines, ".wrap")
		}
	}
	return lines
}
