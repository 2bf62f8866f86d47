package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOutOfBounds is returned when a read would pass the end of a buffer.
var ErrOutOfBounds = errors.New("bytecode: read past end of buffer")

// Buffer is an owned, growable instruction stream. Operands are written
// big-endian at fixed widths. All reads are bounds checked.
type Buffer struct {
	code []byte
	err  error // first emission error (jump offset overflow)
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{code: make([]byte, 0, 64)}
}

// BufferFrom wraps existing bytes, e.g. when loading an image.
func BufferFrom(code []byte) *Buffer {
	return &Buffer{code: code}
}

// Len returns the current length, which is also the offset of the next
// emitted byte.
func (b *Buffer) Len() int { return len(b.code) }

// Bytes returns the raw instruction stream. Callers must not modify it.
func (b *Buffer) Bytes() []byte { return b.code }

// Err returns the first error recorded while emitting or patching.
func (b *Buffer) Err() error { return b.err }

// ---------------------------------------------------------------------------
// Append
// ---------------------------------------------------------------------------

// Emit appends a single opcode and returns its offset.
func (b *Buffer) Emit(op Opcode) int {
	offset := len(b.code)
	b.code = append(b.code, byte(op))
	return offset
}

// EmitU16 appends an opcode followed by one u16 operand.
func (b *Buffer) EmitU16(op Opcode, v uint16) int {
	offset := b.Emit(op)
	b.AppendU16(v)
	return offset
}

// EmitU16Pair appends an opcode followed by two u16 operands.
func (b *Buffer) EmitU16Pair(op Opcode, x, y uint16) int {
	offset := b.Emit(op)
	b.AppendU16(x)
	b.AppendU16(y)
	return offset
}

// EmitInt appends ILOAD with an inline 64-bit int.
func (b *Buffer) EmitInt(v int64) int {
	offset := b.Emit(OpILoad)
	b.AppendI64(v)
	return offset
}

// EmitDouble appends DLOAD with an inline 64-bit double.
func (b *Buffer) EmitDouble(v float64) int {
	offset := b.Emit(OpDLoad)
	b.AppendF64(v)
	return offset
}

// AppendU16 appends a raw u16.
func (b *Buffer) AppendU16(v uint16) {
	b.code = binary.BigEndian.AppendUint16(b.code, v)
}

// AppendI16 appends a raw i16.
func (b *Buffer) AppendI16(v int16) {
	b.AppendU16(uint16(v))
}

// AppendI64 appends a raw i64.
func (b *Buffer) AppendI64(v int64) {
	b.code = binary.BigEndian.AppendUint64(b.code, uint64(v))
}

// AppendF64 appends a raw IEEE-754 double.
func (b *Buffer) AppendF64(v float64) {
	b.code = binary.BigEndian.AppendUint64(b.code, math.Float64bits(v))
}

// PutI16 overwrites two bytes at offset with v.
func (b *Buffer) PutI16(at int, v int16) error {
	if at < 0 || at+2 > len(b.code) {
		return ErrOutOfBounds
	}
	binary.BigEndian.PutUint16(b.code[at:], uint16(v))
	return nil
}

// ---------------------------------------------------------------------------
// Read
// ---------------------------------------------------------------------------

// Opcode returns the opcode at offset.
func (b *Buffer) Opcode(at int) (Opcode, error) {
	if at < 0 || at >= len(b.code) {
		return OpInvalid, ErrOutOfBounds
	}
	return Opcode(b.code[at]), nil
}

// ReadU16 reads a u16 at offset.
func (b *Buffer) ReadU16(at int) (uint16, error) {
	if at < 0 || at+2 > len(b.code) {
		return 0, ErrOutOfBounds
	}
	return binary.BigEndian.Uint16(b.code[at:]), nil
}

// ReadI16 reads an i16 at offset.
func (b *Buffer) ReadI16(at int) (int16, error) {
	v, err := b.ReadU16(at)
	return int16(v), err
}

// ReadI64 reads an i64 at offset.
func (b *Buffer) ReadI64(at int) (int64, error) {
	if at < 0 || at+8 > len(b.code) {
		return 0, ErrOutOfBounds
	}
	return int64(binary.BigEndian.Uint64(b.code[at:])), nil
}

// ReadF64 reads a double at offset.
func (b *Buffer) ReadF64(at int) (float64, error) {
	v, err := b.ReadI64(at)
	return math.Float64frombits(uint64(v)), err
}

// JumpTarget decodes the destination of the jump whose opcode is at offset.
func (b *Buffer) JumpTarget(at int) (int, error) {
	rel, err := b.ReadI16(at + 1)
	if err != nil {
		return 0, err
	}
	return at + 3 + int(rel), nil
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// Label is a branch target. Jumps emitted before the label is bound get a
// placeholder offset which Bind overwrites.
type Label struct {
	pos   int
	bound bool
	refs  []int // offsets of placeholder fields awaiting Bind
}

// NewLabel creates an unbound label.
func NewLabel() *Label {
	return &Label{pos: -1}
}

// Bound reports whether the label has a position.
func (l *Label) Bound() bool { return l.bound }

// Pos returns the bound position, or -1.
func (l *Label) Pos() int { return l.pos }

// EmitJump emits op with a signed offset to l. If l is already bound the
// offset is written directly, otherwise a placeholder is recorded.
func (b *Buffer) EmitJump(op Opcode, l *Label) int {
	offset := b.Emit(op)
	field := b.Len()
	if l.bound {
		b.AppendI16(b.relative(field, l.pos))
		return offset
	}
	b.code = append(b.code, 0xFF, 0xFF) // placeholder
	l.refs = append(l.refs, field)
	return offset
}

// Bind fixes l at the current position and patches all pending jumps.
func (b *Buffer) Bind(l *Label) {
	if l.bound {
		b.fail(fmt.Errorf("bytecode: label bound twice (at %d and %d)", l.pos, b.Len()))
		return
	}
	l.pos = b.Len()
	l.bound = true
	for _, field := range l.refs {
		if err := b.PutI16(field, b.relative(field, l.pos)); err != nil {
			b.fail(err)
		}
	}
	l.refs = nil
}

// relative computes the i16 offset stored at field so that the jump lands
// on target.
func (b *Buffer) relative(field, target int) int16 {
	delta := target - (field + 2)
	if delta < math.MinInt16 || delta > math.MaxInt16 {
		b.fail(fmt.Errorf("bytecode: jump offset %d out of range at %d", delta, field))
		return 0
	}
	return int16(delta)
}

func (b *Buffer) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
