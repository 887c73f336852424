package pio

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestProgramBuilder(t *testing.T) {
	b := NewProgramBuilder("squarewave", 1)
	asm := b.Assembler()
	b.Add(asm.Set(SetDestPindirs, 1).Side(0))
	b.WrapTarget()
	b.Label("loop")
	b.JmpTo("skip", asm.Jmp(0, JmpXNZeroDec).Side(1))
	b.Add(asm.Set(SetDestPins, 1).Side(1).Delay(3))
	b.Label("skip")
	b.Add(asm.Set(SetDestPins, 0).Side(0))
	b.JmpTo("loop", asm.Jmp(0, JmpAlways).Side(0))
	b.Wrap()
	prog, err := b.Assemble()
	if err != nil {
		t.Fatal(err)
	}
	want := Program{
		Name:         "squarewave",
		Instructions: []uint16{0xe081, 0x1043, 0xf301, 0xe000, 0x0001},
		Origin:       -1,
		WrapTarget:   1,
		Wrap:         4,
		SidesetBits:  1,
		Labels:       map[string]uint8{"loop": 1, "skip": 3},
	}
	if diff := cmp.Diff(want, prog); diff != "" {
		t.Errorf("Assemble mismatch (-want +got):\n%s", diff)
	}
}

func TestProgramBuilderErrors(t *testing.T) {
	asm := AssemblerV0{}
	tests := []struct {
		name  string
		build func(b *ProgramBuilder)
		err   error
	}{
		{"JmpTo non-jump", func(b *ProgramBuilder) { b.JmpTo("x", asm.Nop()) }, ErrSyntax},
		{"wrap first", func(b *ProgramBuilder) { b.Wrap().Add(asm.Nop()) }, ErrBadWrap},
		{"wrap target past end", func(b *ProgramBuilder) { b.Add(asm.Nop()).WrapTarget() }, ErrBadWrap},
		{"origin", func(b *ProgramBuilder) { b.Origin(32).Add(asm.Nop()) }, ErrFieldRange},
		{"first error kept", func(b *ProgramBuilder) {
			b.Label("a").Label("a")
			b.JmpTo("missing", asm.Jmp(0, JmpAlways))
		}, ErrDuplicateLabel},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b := NewProgramBuilder(test.name, 0)
			test.build(b)
			_, err := b.Assemble()
			if !errors.Is(err, test.err) {
				t.Errorf("Assemble error = %v, want %v", err, test.err)
			}
		})
	}
}

func TestProgramValidate(t *testing.T) {
	nop := EncodeNOP()
	tests := []struct {
		name string
		prog Program
		err  error
	}{
		{"ok", Program{Instructions: []uint16{nop}, Origin: -1}, nil},
		{"empty", Program{Origin: -1}, ErrSyntax},
		{"side-set width", Program{Instructions: []uint16{nop}, Origin: -1, SidesetBits: 6}, ErrFieldRange},
		{"origin overflow", Program{Instructions: []uint16{nop, nop, nop}, Origin: 30}, ErrFieldRange},
		{"wrap past end", Program{Instructions: []uint16{nop}, Origin: -1, Wrap: 1}, ErrBadWrap},
		{"in", Program{Instructions: []uint16{EncodeInstr(InstrIN, 0, 0, 1)}, Origin: -1}, ErrUnsupported},
		{"irq", Program{Instructions: []uint16{EncodeInstr(InstrIRQ, 0, 0, 0)}, Origin: -1}, ErrUnsupported},
		{"wait irq", Program{Instructions: []uint16{EncodeInstr(InstrWAIT, 0, 0b010, 0)}, Origin: -1}, ErrUnsupported},
		{"set destination", Program{Instructions: []uint16{EncodeInstr(InstrSET, 0, 3, 0)}, Origin: -1}, ErrFieldRange},
		{"mov source", Program{Instructions: []uint16{EncodeInstr(InstrMOV, 0, 1, 4)}, Origin: -1}, ErrUnsupported},
		{"push reserved bits", Program{Instructions: []uint16{EncodePush(false, true) | 1}, Origin: -1}, ErrFieldRange},
		{"jump target", Program{Instructions: []uint16{EncodeJmp(1, JmpAlways)}, Origin: -1}, ErrFieldRange},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.prog.Validate()
			if !errors.Is(err, test.err) || (err == nil) != (test.err == nil) {
				t.Errorf("Validate() = %v, want %v", err, test.err)
			}
		})
	}
}

func TestProgramReachable(t *testing.T) {
	asm := AssemblerV0{}
	tests := []struct {
		name   string
		instrs []uint16
		target uint8
		want   bool
	}{
		{
			name:   "fall through",
			instrs: []uint16{asm.Nop().Encode(), asm.Nop().Encode()},
			target: 1,
			want:   true,
		},
		{
			name:   "jumped over",
			instrs: []uint16{asm.Jmp(2, JmpAlways).Encode(), asm.Nop().Encode(), asm.Nop().Encode()},
			target: 1,
			want:   false,
		},
		{
			name:   "conditional falls through",
			instrs: []uint16{asm.Jmp(2, JmpXZero).Encode(), asm.Nop().Encode(), asm.Nop().Encode()},
			target: 1,
			want:   true,
		},
		{
			name:   "mov pc",
			instrs: []uint16{asm.Mov(MovDestPC, MovSrcX).Encode(), asm.Jmp(0, JmpAlways).Encode(), asm.Nop().Encode()},
			target: 2,
			want:   true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := Program{Instructions: test.instrs, Origin: -1, Wrap: uint8(len(test.instrs) - 1)}
			if got := p.reachable(test.target); got != test.want {
				t.Errorf("reachable(%d) = %v, want %v", test.target, got, test.want)
			}
		})
	}
}
