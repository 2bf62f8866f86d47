package bytecode

import (
	"errors"
	"math"
	"testing"
)

func TestBufferEmitAndRead(t *testing.T) {
	b := NewBuffer()
	b.EmitInt(-42)
	b.EmitDouble(2.5)
	b.EmitU16(OpSLoad, 7)
	b.EmitU16Pair(OpLoadCtxIVar, 1, 300)
	b.Emit(OpStop)

	if b.Len() != 9+9+3+5+1 {
		t.Fatalf("Len() = %d", b.Len())
	}

	ins, err := b.Instructions()
	if err != nil {
		t.Fatalf("Instructions failed: %v", err)
	}
	if len(ins) != 5 {
		t.Fatalf("decoded %d instructions, want 5", len(ins))
	}
	if ins[0].Op != OpILoad || ins[0].Int != -42 {
		t.Errorf("ins[0] = %+v", ins[0])
	}
	if ins[1].Op != OpDLoad || ins[1].Double != 2.5 {
		t.Errorf("ins[1] = %+v", ins[1])
	}
	if ins[2].Op != OpSLoad || ins[2].U16 != 7 {
		t.Errorf("ins[2] = %+v", ins[2])
	}
	if ins[3].Op != OpLoadCtxIVar || ins[3].U16 != 1 || ins[3].Slot != 300 {
		t.Errorf("ins[3] = %+v", ins[3])
	}
	if ins[4].Op != OpStop {
		t.Errorf("ins[4] = %+v", ins[4])
	}
}

func TestBufferReadsAreBounded(t *testing.T) {
	b := NewBuffer()
	b.Emit(OpILoad1)

	if _, err := b.ReadU16(0); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("ReadU16 past end: err = %v", err)
	}
	if _, err := b.ReadI64(0); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("ReadI64 past end: err = %v", err)
	}
	if _, err := b.Opcode(1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Opcode past end: err = %v", err)
	}
	if _, err := b.Opcode(-1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Opcode(-1): err = %v", err)
	}
	if err := b.PutI16(0, 1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("PutI16 past end: err = %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	b := BufferFrom([]byte{byte(OpILoad), 0, 0, 0})
	if _, err := b.Decode(0); err == nil {
		t.Error("Decode of truncated ILOAD should fail")
	}
	b = BufferFrom([]byte{0xFE})
	if _, err := b.Decode(0); err == nil {
		t.Error("Decode of unknown opcode should fail")
	}
}

func TestDoubleRoundTrip(t *testing.T) {
	for _, f := range []float64{0, -0.0, 1.5, math.Inf(1), math.MaxFloat64, math.SmallestNonzeroFloat64} {
		b := NewBuffer()
		b.EmitDouble(f)
		got, err := b.ReadF64(1)
		if err != nil || got != f {
			t.Errorf("ReadF64 = %v, %v; want %v", got, err, f)
		}
	}
}

func TestForwardLabel(t *testing.T) {
	b := NewBuffer()
	l := NewLabel()
	jump := b.EmitJump(OpJa, l)
	b.Emit(OpILoad0)
	b.Emit(OpPop)
	if l.Bound() {
		t.Fatal("label should not be bound yet")
	}
	b.Bind(l)
	b.Emit(OpStop)

	if err := b.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	target, err := b.JumpTarget(jump)
	if err != nil {
		t.Fatalf("JumpTarget failed: %v", err)
	}
	if target != l.Pos() || target != 5 {
		t.Errorf("jump target = %d, label at %d, want 5", target, l.Pos())
	}
	// offset is relative to the end of the offset field
	rel, _ := b.ReadI16(jump + 1)
	if rel != 2 {
		t.Errorf("relative offset = %d, want 2", rel)
	}
}

func TestBackwardLabel(t *testing.T) {
	b := NewBuffer()
	b.Emit(OpILoad0)
	l := NewLabel()
	b.Bind(l)
	b.Emit(OpILoad1)
	b.Emit(OpPop)
	jump := b.EmitJump(OpJa, l)

	target, err := b.JumpTarget(jump)
	if err != nil {
		t.Fatalf("JumpTarget failed: %v", err)
	}
	if target != 1 {
		t.Errorf("backward jump target = %d, want 1", target)
	}
	rel, _ := b.ReadI16(jump + 1)
	if rel != -5 {
		t.Errorf("relative offset = %d, want -5", rel)
	}
}

func TestLabelWithSeveralPendingJumps(t *testing.T) {
	b := NewBuffer()
	l := NewLabel()
	j1 := b.EmitJump(OpJa, l)
	b.Emit(OpILoad0)
	b.Emit(OpILoad0)
	j2 := b.EmitJump(OpIfICmpE, l)
	b.Bind(l)
	b.Emit(OpStop)

	for _, j := range []int{j1, j2} {
		target, _ := b.JumpTarget(j)
		if target != l.Pos() {
			t.Errorf("jump at %d targets %d, want %d", j, target, l.Pos())
		}
	}
}

func TestLabelBoundTwice(t *testing.T) {
	b := NewBuffer()
	l := NewLabel()
	b.Bind(l)
	b.Emit(OpStop)
	b.Bind(l)
	if b.Err() == nil {
		t.Error("binding a label twice should record an error")
	}
}

func TestJumpOutOfRange(t *testing.T) {
	b := NewBuffer()
	l := NewLabel()
	b.EmitJump(OpJa, l)
	for i := 0; i < math.MaxInt16+10; i++ {
		b.Emit(OpILoad0)
	}
	b.Bind(l)
	if b.Err() == nil {
		t.Error("jump beyond i16 range should record an error")
	}
}
