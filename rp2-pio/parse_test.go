package pio

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const pulsarSource = `
; Emits count+1 pulses.
.program pulsar
    set pindirs, 1
.wrap_target
    pull block
    mov x, osr
loop:
    set pins, 1 [1]   // high for 2 cycles
    set pins, 0
    jmp x-- loop
.wrap
`

func TestAssemble(t *testing.T) {
	prog, err := Assemble(pulsarSource)
	if err != nil {
		t.Fatal(err)
	}
	want := Program{
		Name:         "pulsar",
		Instructions: []uint16{0xe081, 0x80a0, 0xa027, 0xe101, 0xe000, 0x0043},
		Origin:       -1,
		WrapTarget:   1,
		Wrap:         5,
		Labels:       map[string]uint8{"loop": 3},
	}
	if diff := cmp.Diff(want, prog); diff != "" {
		t.Errorf("Assemble mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleSyntax(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []uint16
	}{
		{
			name: "side-set and forward label",
			source: `.side_set 1
top: jmp x--, top side 1
     jmp !y, end side 0
     set pindirs, 0 side 0
     nop side 0
end: wait 1 pin 0 side 0`,
			want: []uint16{0x1040, 0x0064, 0xe080, 0xa042, 0x20a0},
		},
		{
			name: "two side-set bits",
			source: `.side_set 2
    jmp x-- 0 side 3
    set x, 14 side 1`,
			want: []uint16{0x1840, 0xe82e},
		},
		{
			name:   "mov operators",
			source: "mov y, !null\nmov isr, ::osr\nmov x, ~ y\nmov pc, y\nmov osr, status",
			want:   []uint16{0xa04b, 0xa0d7, 0xa02a, 0xa0a2, 0xa0e5},
		},
		{
			name:   "push and pull options",
			source: "push noblock\npush iffull block\npull\npull ifempty noblock",
			want:   []uint16{0x8000, 0x8060, 0x80a0, 0x80c0},
		},
		{
			name:   "defines and hex",
			source: ".define public N 0x1f\n.define D 7\nset x, N [D]\nwait 0 gpio 0x11",
			want:   []uint16{0xe73f, 0x2011},
		},
		{
			name:   "jmp conditions",
			source: "a: jmp pin a\njmp x!=y a\njmp !osre a\njmp !x a\njmp y-- a\njmp a",
			want:   []uint16{0x00c0, 0x00a0, 0x00e0, 0x0020, 0x0080, 0x0000},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			prog, err := Assemble(test.source)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.want, prog.Instructions); diff != "" {
				t.Errorf("instructions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		err    error
		line   int
		label  string
	}{
		{"empty", "; nothing\n", ErrSyntax, 0, ""},
		{"undefined label", "nop\njmp nowhere", ErrUndefinedLabel, 2, "nowhere"},
		{"duplicate label", "a: nop\na: nop", ErrDuplicateLabel, 2, "a"},
		{"unknown instruction", "nop\nfrob x", ErrSyntax, 2, ""},
		{"out", "out pins, 1", ErrUnsupported, 1, ""},
		{"in", "nop\n\nin pins, 1", ErrUnsupported, 3, ""},
		{"irq", "irq wait 0", ErrUnsupported, 1, ""},
		{"wait irq", "wait 1 irq 0", ErrUnsupported, 1, ""},
		{"mov exec", "mov exec, x", ErrUnsupported, 1, ""},
		{"side_set opt", ".side_set 1 opt\nnop side 0", ErrUnsupported, 1, ""},
		{"set value", "set x, 32", ErrFieldRange, 1, ""},
		{"delay", "nop [32]", ErrFieldRange, 1, ""},
		{"delay with side-set", ".side_set 2\nnop side 0 [8]", ErrFieldRange, 2, ""},
		{"side value", ".side_set 1\nnop side 2", ErrFieldRange, 2, ""},
		{"missing side", ".side_set 1\nnop", ErrSyntax, 2, ""},
		{"side without side_set", "nop side 1", ErrSyntax, 1, ""},
		{"jmp target", "jmp 5", ErrFieldRange, 1, ""},
		{"bad wrap", "nop\n.wrap\n.wrap_target\nnop\nnop", ErrBadWrap, 0, ""},
		{"unreachable wrap target", "start: jmp start\n.wrap_target\nnop", ErrUnreachableWrapTarget, 0, ""},
		{"too large", repeat("nop\n", 33), ErrProgramTooLarge, 33, ""},
		{"bad directive", ".frobnicate", ErrSyntax, 1, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Assemble(test.source)
			if !errors.Is(err, test.err) {
				t.Fatalf("Assemble error = %v, want %v", err, test.err)
			}
			var ae *AssemblyError
			if !errors.As(err, &ae) {
				t.Fatalf("error %T is not an *AssemblyError", err)
			}
			if ae.Line != test.line {
				t.Errorf("line = %d, want %d (%v)", ae.Line, test.line, err)
			}
			if ae.Label != test.label {
				t.Errorf("label = %q, want %q", ae.Label, test.label)
			}
		})
	}
}

func repeat(s string, n int) string {
	var out string
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func TestMustAssemblePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustAssemble did not panic")
		}
	}()
	MustAssemble("jmp nowhere")
}

func TestDisassemble(t *testing.T) {
	tests := []struct {
		instr       uint16
		sidesetBits uint8
		want        string
	}{
		{0xe081, 0, "set pindirs, 1"},
		{0xe101, 0, "set pins, 1 [1]"},
		{0x0043, 0, "jmp x--, 3"},
		{0x0206, 0, "jmp 6 [2]"},
		{0x80e0, 0, "pull ifempty block"},
		{0x8000, 0, "push noblock"},
		{0xa04b, 0, "mov y, !null"},
		{0xa0d7, 0, "mov isr, ::osr"},
		{0xa042, 1, "nop side 0"},
		{0x1040, 1, "jmp x--, 0 side 1"},
		{0xf82e, 2, "set x, 14 side 3"},
		{0x20a0, 0, "wait 1 pin 0"},
		{0x2011, 0, "wait 0 gpio 17"},
		{0x6001, 0, ".word 0x6001"},
		{0xc000, 0, ".word 0xc000"},
	}
	for _, test := range tests {
		if got := Disassemble(test.instr, test.sidesetBits); got != test.want {
			t.Errorf("Disassemble(%#04x, %d) = %q, want %q", test.instr, test.sidesetBits, got, test.want)
		}
	}
}

func TestProgramDisassembleRoundTrip(t *testing.T) {
	sources := []string{
		pulsarSource,
		".program sided\n.side_set 2\n.origin 4\ntop: set x, 14 side 1\n.wrap_target\nloop: jmp x--, loop side 3 [7]\njmp top side 0\n.wrap",
	}
	for _, src := range sources {
		prog, err := Assemble(src)
		if err != nil {
			t.Fatal(err)
		}
		listing := prog.Disassemble()
		again, err := Assemble(join(listing))
		if err != nil {
			t.Fatalf("reassembling listing: %v\n%s", err, join(listing))
		}
		if diff := cmp.Diff(prog, again); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}

	prog := MustAssemble(pulsarSource)
	want := []string{
		".program pulsar",
		"\tset pindirs, 1",
		".wrap_target",
		"\tpull block",
		"\tmov x, osr",
		"loop:",
		"\tset pins, 1 [1]",
		"\tset pins, 0",
		"\tjmp x--, loop",
		".wrap",
	}
	if diff := cmp.Diff(want, prog.Disassemble()); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
}

func join(lines []string) string {
	var s string
	for _, l := range lines {
		s += l + "\n"
	}
	return s
}
