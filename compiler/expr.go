package compiler

import (
	"math"

	"github.com/chazu/mathvm/pkg/ast"
	"github.com/chazu/mathvm/pkg/bytecode"
	"github.com/chazu/mathvm/pkg/value"
)

// expr emits code leaving the value of e on the stack (nothing for a void
// call) and returns its type.
func (t *translator) expr(e ast.Expr, sc *scope) (value.Type, error) {
	switch e := e.(type) {
	case *ast.IntLiteral:
		t.intConst(e.Value)
		return value.Int, nil

	case *ast.DoubleLiteral:
		switch {
		case math.Float64bits(e.Value) == 0:
			t.emit(bytecode.OpDLoad0)
		case e.Value == 1:
			t.emit(bytecode.OpDLoad1)
		case e.Value == -1:
			t.emit(bytecode.OpDLoadM1)
		default:
			t.fs.code.EmitDouble(e.Value)
			t.effect(bytecode.OpDLoad)
		}
		return value.Double, nil

	case *ast.StringLiteral:
		id, err := t.prog.Intern(e.Value)
		if err != nil {
			return value.Invalid, errorAt(e, Internal, "%v", err)
		}
		if id == 0 {
			t.emit(bytecode.OpSLoad0)
		} else {
			t.fs.code.EmitU16(bytecode.OpSLoad, id)
			t.effect(bytecode.OpSLoad)
		}
		return value.String, nil

	case *ast.Load:
		ref, ok := sc.lookupVar(e.Name)
		if !ok {
			return value.Invalid, errorAt(e, UnknownIdentifier, "unknown variable %s", e.Name)
		}
		t.loadVar(ref)
		return ref.typ, nil

	case *ast.Unary:
		return t.unary(e, sc)

	case *ast.Binary:
		return t.binary(e, sc)

	case *ast.Call:
		return t.call(e, sc)
	}
	return value.Invalid, errorAt(e, Malformed, "unknown expression %T", e)
}

func (t *translator) intConst(v int64) {
	switch v {
	case 0:
		t.emit(bytecode.OpILoad0)
	case 1:
		t.emit(bytecode.OpILoad1)
	case -1:
		t.emit(bytecode.OpILoadM1)
	default:
		t.fs.code.EmitInt(v)
		t.effect(bytecode.OpILoad)
	}
}

func (t *translator) unary(e *ast.Unary, sc *scope) (value.Type, error) {
	switch e.Op {
	case ast.OpNeg:
		typ, err := t.expr(e.Operand, sc)
		if err != nil {
			return value.Invalid, err
		}
		switch typ {
		case value.Int:
			t.emit(bytecode.OpINeg)
		case value.Double:
			t.emit(bytecode.OpDNeg)
		default:
			return value.Invalid, errorAt(e, TypeMismatch, "cannot negate a %s value", typ)
		}
		return typ, nil

	case ast.OpNot:
		if err := t.boolean(e.Operand, sc); err != nil {
			return value.Invalid, err
		}
		// 1 - x
		t.emit(bytecode.OpILoad1)
		t.emit(bytecode.OpISub)
		return value.Int, nil
	}
	return value.Invalid, errorAt(e, Malformed, "unknown unary operator %q", e.Op)
}

func (t *translator) binary(e *ast.Binary, sc *scope) (value.Type, error) {
	if e.Op.IsLogical() {
		return t.logical(e, sc)
	}
	if e.Op == ast.OpRange {
		return value.Invalid, errorAt(e, BadRange, "range is only allowed in a for loop")
	}

	// Right first: the left operand ends up on top.
	rt, err := t.expr(e.Right, sc)
	if err != nil {
		return value.Invalid, err
	}
	lt, err := t.expr(e.Left, sc)
	if err != nil {
		return value.Invalid, err
	}

	switch {
	case e.Op.IsComparison():
		return t.compare(e, lt, rt)

	case e.Op.IsBitwise(), e.Op == ast.OpMod:
		if lt != value.Int || rt != value.Int {
			return value.Invalid, errorAt(e, TypeMismatch, "operator %s needs int operands, got %s and %s", e.Op, lt, rt)
		}
		t.emit(arith(e.Op, value.Int))
		return value.Int, nil

	case e.Op.IsArithmetic():
		if !lt.IsNumeric() || !rt.IsNumeric() {
			return value.Invalid, errorAt(e, TypeMismatch, "operator %s cannot be applied to %s and %s", e.Op, lt, rt)
		}
		typ := t.unify(lt, rt)
		t.emit(arith(e.Op, typ))
		return typ, nil
	}
	return value.Invalid, errorAt(e, Malformed, "unknown binary operator %q", e.Op)
}

// unify converts the Int operand of a mixed pair to Double. The left
// operand is on top of the stack.
func (t *translator) unify(lt, rt value.Type) value.Type {
	if lt == rt {
		return lt
	}
	if lt == value.Int {
		t.emit(bytecode.OpI2D)
	} else {
		t.emit(bytecode.OpSwap)
		t.emit(bytecode.OpI2D)
		t.emit(bytecode.OpSwap)
	}
	return value.Double
}

var compareJumps = map[ast.Operator]bytecode.Opcode{
	ast.OpLt: bytecode.OpIfICmpG,
	ast.OpLe: bytecode.OpIfICmpGE,
	ast.OpGt: bytecode.OpIfICmpL,
	ast.OpGe: bytecode.OpIfICmpLE,
	ast.OpEq: bytecode.OpIfICmpE,
	ast.OpNe: bytecode.OpIfICmpNE,
}

var mirroredDouble = map[ast.Operator]ast.Operator{
	ast.OpGt: ast.OpLt,
	ast.OpGe: ast.OpLe,
}

// compare emits CMP, leaving cmp(left, right) in {-1, 0, 1}, then branches
// on it against 0 to materialize 0 or 1.
//
// DCMP yields 1 for unordered operands, so double > and >= are emitted as
// the mirrored < and <= over swapped operands and NaN compares false.
func (t *translator) compare(e *ast.Binary, lt, rt value.Type) (value.Type, error) {
	op := e.Op
	switch {
	case lt.IsNumeric() && rt.IsNumeric():
		if t.unify(lt, rt) == value.Double {
			if mirrored, ok := mirroredDouble[op]; ok {
				t.emit(bytecode.OpSwap)
				op = mirrored
			}
			t.emit(bytecode.OpDCmp)
		} else {
			t.emit(bytecode.OpICmp)
		}

	case lt == value.String && rt == value.String && (e.Op == ast.OpEq || e.Op == ast.OpNe):
		// Interned ids are content-unique.
		t.emit(bytecode.OpS2I)
		t.emit(bytecode.OpSwap)
		t.emit(bytecode.OpS2I)
		t.emit(bytecode.OpICmp)

	default:
		return value.Invalid, errorAt(e, TypeMismatch, "cannot compare %s and %s with %s", lt, rt, e.Op)
	}

	yes, end := bytecode.NewLabel(), bytecode.NewLabel()
	t.emit(bytecode.OpILoad0)
	t.jump(compareJumps[op], yes)
	t.emit(bytecode.OpILoad0)
	t.jump(bytecode.OpJa, end)
	t.bind(yes)
	t.emit(bytecode.OpILoad1)
	t.bind(end)
	return value.Int, nil
}

// logical lowers && and || with short-circuit evaluation.
func (t *translator) logical(e *ast.Binary, sc *scope) (value.Type, error) {
	short, end := bytecode.NewLabel(), bytecode.NewLabel()
	if err := t.boolean(e.Left, sc); err != nil {
		return value.Invalid, err
	}
	t.emit(bytecode.OpILoad0)
	decided := int64(0)
	if e.Op == ast.OpAnd {
		t.jump(bytecode.OpIfICmpE, short)
	} else {
		t.jump(bytecode.OpIfICmpNE, short)
		decided = 1
	}
	if err := t.boolean(e.Right, sc); err != nil {
		return value.Invalid, err
	}
	t.jump(bytecode.OpJa, end)
	t.bind(short)
	t.intConst(decided)
	t.bind(end)
	return value.Int, nil
}

// isBoolean reports whether e already yields exactly 0 or 1.
func isBoolean(e ast.Expr) bool {
	switch e := e.(type) {
	case *ast.Binary:
		return e.Op.IsComparison() || e.Op.IsLogical()
	case *ast.Unary:
		return e.Op == ast.OpNot
	}
	return false
}

// condition leaves an Int that is non-zero exactly when e is true.
func (t *translator) condition(e ast.Expr, sc *scope) error {
	typ, err := t.expr(e, sc)
	if err != nil {
		return err
	}
	switch typ {
	case value.Int:
	case value.Double:
		t.emit(bytecode.OpDLoad0)
		t.emit(bytecode.OpDCmp)
	case value.String:
		t.emit(bytecode.OpS2I)
	default:
		return errorAt(e, TypeMismatch, "%s value used as a condition", typ)
	}
	return nil
}

// boolean leaves exactly 0 or 1.
func (t *translator) boolean(e ast.Expr, sc *scope) error {
	if isBoolean(e) {
		return t.condition(e, sc)
	}
	if err := t.condition(e, sc); err != nil {
		return err
	}
	no, end := bytecode.NewLabel(), bytecode.NewLabel()
	t.emit(bytecode.OpILoad0)
	t.jump(bytecode.OpIfICmpE, no)
	t.emit(bytecode.OpILoad1)
	t.jump(bytecode.OpJa, end)
	t.bind(no)
	t.emit(bytecode.OpILoad0)
	t.bind(end)
	return nil
}

func (t *translator) call(e *ast.Call, sc *scope) (value.Type, error) {
	ref, ok := sc.lookupFunc(e.Name)
	if !ok {
		return value.Invalid, errorAt(e, UnknownIdentifier, "unknown function %s", e.Name)
	}
	// The callee may not be translated yet, so read its declaration.
	sig := ref.decl.Signature()
	if len(e.Args) != len(sig.Params) {
		return value.Invalid, errorAt(e, BadArity, "function %s takes %d arguments, got %d", e.Name, len(sig.Params), len(e.Args))
	}
	for i, a := range e.Args {
		typ, err := t.expr(a, sc)
		if err != nil {
			return value.Invalid, err
		}
		if err := t.coerce(a, typ, sig.Params[i]); err != nil {
			return value.Invalid, err
		}
	}
	t.emitCall(bytecode.OpCall, ref.desc.ID, sig)
	return sig.Return, nil
}

// coerce converts the value on top of the stack from one type to another.
// Only Int to Double is implicit.
func (t *translator) coerce(n ast.Node, from, to value.Type) error {
	switch {
	case from == to && from != value.Void:
		return nil
	case from == value.Int && to == value.Double:
		t.emit(bytecode.OpI2D)
		return nil
	}
	return errorAt(n, TypeMismatch, "cannot use %s value as %s", from, to)
}

// arith maps an arithmetic or bitwise operator to its typed opcode.
func arith(op ast.Operator, typ value.Type) bytecode.Opcode {
	if typ == value.Double {
		switch op {
		case ast.OpAdd:
			return bytecode.OpDAdd
		case ast.OpSub:
			return bytecode.OpDSub
		case ast.OpMul:
			return bytecode.OpDMul
		case ast.OpDiv:
			return bytecode.OpDDiv
		}
		return bytecode.OpInvalid
	}
	switch op {
	case ast.OpAdd:
		return bytecode.OpIAdd
	case ast.OpSub:
		return bytecode.OpISub
	case ast.OpMul:
		return bytecode.OpIMul
	case ast.OpDiv:
		return bytecode.OpIDiv
	case ast.OpMod:
		return bytecode.OpIMod
	case ast.OpAAnd:
		return bytecode.OpIAAnd
	case ast.OpAOr:
		return bytecode.OpIAOr
	case ast.OpAXor:
		return bytecode.OpIAXor
	}
	return bytecode.OpInvalid
}
