package bytecode

import "fmt"

// Instruction is one decoded instruction.
type Instruction struct {
	Offset int
	Op     Opcode

	// Operands; which fields are set depends on Op.
	U16    uint16  // SLOAD id, slot, CALL/CALLNATIVE id, context id
	Slot   uint16  // slot of context-qualified access
	Int    int64   // ILOAD
	Double float64 // DLOAD
	Target int     // absolute jump destination
}

// Len returns the encoded length of the instruction.
func (in Instruction) Len() int { return in.Op.InstructionLen() }

// Next returns the offset of the following instruction.
func (in Instruction) Next() int { return in.Offset + in.Len() }

// Decode reads the instruction at offset at.
func (b *Buffer) Decode(at int) (Instruction, error) {
	op, err := b.Opcode(at)
	if err != nil {
		return Instruction{}, err
	}
	if !op.Valid() {
		return Instruction{}, fmt.Errorf("bytecode: unknown opcode 0x%02X at %04X", byte(op), at)
	}
	in := Instruction{Offset: at, Op: op}
	if at+in.Len() > b.Len() {
		return Instruction{}, fmt.Errorf("bytecode: truncated %s at %04X", op, at)
	}

	switch {
	case op == OpILoad:
		in.Int, err = b.ReadI64(at + 1)
	case op == OpDLoad:
		in.Double, err = b.ReadF64(at + 1)
	case op.IsJump():
		in.Target, err = b.JumpTarget(at)
	case op.OperandLen() == 4:
		in.U16, err = b.ReadU16(at + 1)
		if err == nil {
			in.Slot, err = b.ReadU16(at + 3)
		}
	case op.OperandLen() == 2:
		in.U16, err = b.ReadU16(at + 1)
	}
	return in, err
}

// Instructions decodes the whole buffer.
func (b *Buffer) Instructions() ([]Instruction, error) {
	var out []Instruction
	for at := 0; at < b.Len(); {
		in, err := b.Decode(at)
		if err != nil {
			return out, err
		}
		out = append(out, in)
		at = in.Next()
	}
	return out, nil
}

// InstructionCount returns the number of instructions in the buffer, or
// -1 if it does not decode.
func (b *Buffer) InstructionCount() int {
	ins, err := b.Instructions()
	if err != nil {
		return -1
	}
	return len(ins)
}
