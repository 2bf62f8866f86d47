package bytecode

import (
	"fmt"

	"github.com/chazu/mathvm/pkg/value"
)

// Opcode represents a bytecode instruction.
// Opcodes are ordered by category; operand widths are fixed per opcode.
type Opcode byte

const (
	// ========================================================================
	// Invalid
	// ========================================================================

	OpInvalid Opcode = iota // Aborts execution

	// ========================================================================
	// Load immediate / constant
	// ========================================================================

	OpDLoad   // Push double: DLOAD <f64>
	OpILoad   // Push int: ILOAD <i64>
	OpSLoad   // Push string constant: SLOAD <id:u16>
	OpDLoad0  // Push 0.0
	OpILoad0  // Push 0
	OpSLoad0  // Push ""
	OpDLoad1  // Push 1.0
	OpILoad1  // Push 1
	OpDLoadM1 // Push -1.0
	OpILoadM1 // Push -1

	// ========================================================================
	// Arithmetic (upper OP lower)
	// ========================================================================

	OpDAdd
	OpIAdd
	OpDSub
	OpISub
	OpDMul
	OpIMul
	OpDDiv
	OpIDiv
	OpIMod
	OpDNeg
	OpINeg

	// ========================================================================
	// Bitwise
	// ========================================================================

	OpIAOr
	OpIAAnd
	OpIAXor

	// ========================================================================
	// Print
	// ========================================================================

	OpIPrint
	OpDPrint
	OpSPrint

	// ========================================================================
	// Conversion and stack
	// ========================================================================

	OpI2D
	OpD2I
	OpS2I // Replace string on TOS with its pool id
	OpSwap
	OpPop

	// ========================================================================
	// Local variables, implicit slot
	// ========================================================================

	OpLoadDVar0
	OpLoadDVar1
	OpLoadDVar2
	OpLoadDVar3
	OpLoadIVar0
	OpLoadIVar1
	OpLoadIVar2
	OpLoadIVar3
	OpLoadSVar0
	OpLoadSVar1
	OpLoadSVar2
	OpLoadSVar3
	OpStoreDVar0
	OpStoreDVar1
	OpStoreDVar2
	OpStoreDVar3
	OpStoreIVar0
	OpStoreIVar1
	OpStoreIVar2
	OpStoreIVar3
	OpStoreSVar0
	OpStoreSVar1
	OpStoreSVar2
	OpStoreSVar3

	// ========================================================================
	// Local variables, explicit slot: OP <slot:u16>
	// ========================================================================

	OpLoadDVar
	OpLoadIVar
	OpLoadSVar
	OpStoreDVar
	OpStoreIVar
	OpStoreSVar

	// ========================================================================
	// Context variables: OP <ctx:u16> <slot:u16>
	// ========================================================================

	OpLoadCtxDVar
	OpLoadCtxIVar
	OpLoadCtxSVar
	OpStoreCtxDVar
	OpStoreCtxIVar
	OpStoreCtxSVar

	// ========================================================================
	// Compare: push cmp(upper, lower) as -1/0/1
	// ========================================================================

	OpDCmp
	OpICmp

	// ========================================================================
	// Control flow: OP <offset:i16>, target = offset field + 2 + offset
	// ========================================================================

	OpJa
	OpIfICmpNE
	OpIfICmpE
	OpIfICmpG
	OpIfICmpGE
	OpIfICmpL
	OpIfICmpLE

	// ========================================================================
	// Misc, calls, termination
	// ========================================================================

	OpDump       // Print TOS without popping
	OpStop       // Stop execution
	OpCall       // CALL <function:u16>
	OpCallNative // CALLNATIVE <native:u16>
	OpReturn
	OpBreak // Debugger breakpoint

	opcodeCount
)

// VarStack marks stack effects that depend on the call target.
const VarStack = -1

// OpcodeInfo contains metadata about an opcode.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // Number of values popped (VarStack = call dependent)
	StackPush  int    // Number of values pushed (VarStack = call dependent)
	OperandLen int    // Number of operand bytes
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = [opcodeCount]OpcodeInfo{
	OpInvalid: {"INVALID", 0, 0, 0},

	// Loads
	OpDLoad:   {"DLOAD", 0, 1, 8},
	OpILoad:   {"ILOAD", 0, 1, 8},
	OpSLoad:   {"SLOAD", 0, 1, 2},
	OpDLoad0:  {"DLOAD0", 0, 1, 0},
	OpILoad0:  {"ILOAD0", 0, 1, 0},
	OpSLoad0:  {"SLOAD0", 0, 1, 0},
	OpDLoad1:  {"DLOAD1", 0, 1, 0},
	OpILoad1:  {"ILOAD1", 0, 1, 0},
	OpDLoadM1: {"DLOADM1", 0, 1, 0},
	OpILoadM1: {"ILOADM1", 0, 1, 0},

	// Arithmetic
	OpDAdd: {"DADD", 2, 1, 0},
	OpIAdd: {"IADD", 2, 1, 0},
	OpDSub: {"DSUB", 2, 1, 0},
	OpISub: {"ISUB", 2, 1, 0},
	OpDMul: {"DMUL", 2, 1, 0},
	OpIMul: {"IMUL", 2, 1, 0},
	OpDDiv: {"DDIV", 2, 1, 0},
	OpIDiv: {"IDIV", 2, 1, 0},
	OpIMod: {"IMOD", 2, 1, 0},
	OpDNeg: {"DNEG", 1, 1, 0},
	OpINeg: {"INEG", 1, 1, 0},

	// Bitwise
	OpIAOr:  {"IAOR", 2, 1, 0},
	OpIAAnd: {"IAAND", 2, 1, 0},
	OpIAXor: {"IAXOR", 2, 1, 0},

	// Print
	OpIPrint: {"IPRINT", 1, 0, 0},
	OpDPrint: {"DPRINT", 1, 0, 0},
	OpSPrint: {"SPRINT", 1, 0, 0},

	// Conversion and stack
	OpI2D:  {"I2D", 1, 1, 0},
	OpD2I:  {"D2I", 1, 1, 0},
	OpS2I:  {"S2I", 1, 1, 0},
	OpSwap: {"SWAP", 2, 2, 0},
	OpPop:  {"POP", 1, 0, 0},

	// Implicit-slot locals
	OpLoadDVar0:  {"LOADDVAR0", 0, 1, 0},
	OpLoadDVar1:  {"LOADDVAR1", 0, 1, 0},
	OpLoadDVar2:  {"LOADDVAR2", 0, 1, 0},
	OpLoadDVar3:  {"LOADDVAR3", 0, 1, 0},
	OpLoadIVar0:  {"LOADIVAR0", 0, 1, 0},
	OpLoadIVar1:  {"LOADIVAR1", 0, 1, 0},
	OpLoadIVar2:  {"LOADIVAR2", 0, 1, 0},
	OpLoadIVar3:  {"LOADIVAR3", 0, 1, 0},
	OpLoadSVar0:  {"LOADSVAR0", 0, 1, 0},
	OpLoadSVar1:  {"LOADSVAR1", 0, 1, 0},
	OpLoadSVar2:  {"LOADSVAR2", 0, 1, 0},
	OpLoadSVar3:  {"LOADSVAR3", 0, 1, 0},
	OpStoreDVar0: {"STOREDVAR0", 1, 0, 0},
	OpStoreDVar1: {"STOREDVAR1", 1, 0, 0},
	OpStoreDVar2: {"STOREDVAR2", 1, 0, 0},
	OpStoreDVar3: {"STOREDVAR3", 1, 0, 0},
	OpStoreIVar0: {"STOREIVAR0", 1, 0, 0},
	OpStoreIVar1: {"STOREIVAR1", 1, 0, 0},
	OpStoreIVar2: {"STOREIVAR2", 1, 0, 0},
	OpStoreIVar3: {"STOREIVAR3", 1, 0, 0},
	OpStoreSVar0: {"STORESVAR0", 1, 0, 0},
	OpStoreSVar1: {"STORESVAR1", 1, 0, 0},
	OpStoreSVar2: {"STORESVAR2", 1, 0, 0},
	OpStoreSVar3: {"STORESVAR3", 1, 0, 0},

	// Explicit-slot locals
	OpLoadDVar:  {"LOADDVAR", 0, 1, 2},
	OpLoadIVar:  {"LOADIVAR", 0, 1, 2},
	OpLoadSVar:  {"LOADSVAR", 0, 1, 2},
	OpStoreDVar: {"STOREDVAR", 1, 0, 2},
	OpStoreIVar: {"STOREIVAR", 1, 0, 2},
	OpStoreSVar: {"STORESVAR", 1, 0, 2},

	// Context variables
	OpLoadCtxDVar:  {"LOADCTXDVAR", 0, 1, 4},
	OpLoadCtxIVar:  {"LOADCTXIVAR", 0, 1, 4},
	OpLoadCtxSVar:  {"LOADCTXSVAR", 0, 1, 4},
	OpStoreCtxDVar: {"STORECTXDVAR", 1, 0, 4},
	OpStoreCtxIVar: {"STORECTXIVAR", 1, 0, 4},
	OpStoreCtxSVar: {"STORECTXSVAR", 1, 0, 4},

	// Compare
	OpDCmp: {"DCMP", 2, 1, 0},
	OpICmp: {"ICMP", 2, 1, 0},

	// Control flow
	OpJa:       {"JA", 0, 0, 2},
	OpIfICmpNE: {"IFICMPNE", 2, 0, 2},
	OpIfICmpE:  {"IFICMPE", 2, 0, 2},
	OpIfICmpG:  {"IFICMPG", 2, 0, 2},
	OpIfICmpGE: {"IFICMPGE", 2, 0, 2},
	OpIfICmpL:  {"IFICMPL", 2, 0, 2},
	OpIfICmpLE: {"IFICMPLE", 2, 0, 2},

	// Misc
	OpDump:       {"DUMP", 1, 1, 0},
	OpStop:       {"STOP", 0, 0, 0},
	OpCall:       {"CALL", VarStack, VarStack, 2},
	OpCallNative: {"CALLNATIVE", VarStack, VarStack, 2},
	OpReturn:     {"RETURN", 0, 0, 0},
	OpBreak:      {"BREAK", 0, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN(0xNN)" if the opcode is not defined.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if op.Valid() {
		return opcodeInfoTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return op < opcodeCount
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true for JA and the IFICMP family.
func (op Opcode) IsJump() bool {
	return op >= OpJa && op <= OpIfICmpLE
}

// IsConditionalJump returns true for the IFICMP family.
func (op Opcode) IsConditionalJump() bool {
	return op >= OpIfICmpNE && op <= OpIfICmpLE
}

// IsTerminator returns true if control never falls through op.
func (op Opcode) IsTerminator() bool {
	return op == OpJa || op == OpReturn || op == OpStop || op == OpInvalid
}

// AllOpcodes returns every defined opcode in numeric order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, opcodeCount)
	for op := Opcode(0); op < opcodeCount; op++ {
		ops = append(ops, op)
	}
	return ops
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return int(opcodeCount)
}

// ---------------------------------------------------------------------------
// Variable access opcodes
// ---------------------------------------------------------------------------

// VarAccess describes a LOAD/STORE opcode.
type VarAccess struct {
	Type  value.Type
	Store bool
	Ctx   bool // context-qualified: <ctx:u16> <slot:u16>
	Slot  int  // implicit slot, or -1 when the slot is an operand
}

var varAccessTable = func() map[Opcode]VarAccess {
	m := make(map[Opcode]VarAccess)
	types := []value.Type{value.Double, value.Int, value.String}
	for ti, t := range types {
		for slot := 0; slot < 4; slot++ {
			m[OpLoadDVar0+Opcode(ti*4+slot)] = VarAccess{Type: t, Slot: slot}
			m[OpStoreDVar0+Opcode(ti*4+slot)] = VarAccess{Type: t, Store: true, Slot: slot}
		}
		m[OpLoadDVar+Opcode(ti)] = VarAccess{Type: t, Slot: -1}
		m[OpStoreDVar+Opcode(ti)] = VarAccess{Type: t, Store: true, Slot: -1}
		m[OpLoadCtxDVar+Opcode(ti)] = VarAccess{Type: t, Ctx: true, Slot: -1}
		m[OpStoreCtxDVar+Opcode(ti)] = VarAccess{Type: t, Store: true, Ctx: true, Slot: -1}
	}
	return m
}()

// GetVarAccess returns the variable access described by op, if any.
func GetVarAccess(op Opcode) (VarAccess, bool) {
	va, ok := varAccessTable[op]
	return va, ok
}

func typeIndex(t value.Type) (Opcode, bool) {
	switch t {
	case value.Double:
		return 0, true
	case value.Int:
		return 1, true
	case value.String:
		return 2, true
	}
	return 0, false
}

// LocalVarOp selects the local LOAD or STORE opcode for a variable of
// type t in the given slot. short is true when the slot is implicit and
// no operand follows.
func LocalVarOp(t value.Type, store bool, slot int) (op Opcode, short bool, err error) {
	ti, ok := typeIndex(t)
	if !ok {
		return OpInvalid, false, fmt.Errorf("no variable opcode for type %s", t)
	}
	if slot >= 0 && slot < 4 {
		base := OpLoadDVar0
		if store {
			base = OpStoreDVar0
		}
		return base + ti*4 + Opcode(slot), true, nil
	}
	base := OpLoadDVar
	if store {
		base = OpStoreDVar
	}
	return base + ti, false, nil
}

// CtxVarOp selects the context-qualified LOAD or STORE opcode for type t.
func CtxVarOp(t value.Type, store bool) (Opcode, error) {
	ti, ok := typeIndex(t)
	if !ok {
		return OpInvalid, fmt.Errorf("no variable opcode for type %s", t)
	}
	if store {
		return OpStoreCtxDVar + ti, nil
	}
	return OpLoadCtxDVar + ti, nil
}
