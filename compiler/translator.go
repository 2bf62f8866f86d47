// Package compiler lowers a mathvm syntax tree into a bytecode Program.
//
// Translation is a single pass over the tree. Each block first registers
// the functions it declares, then translates their bodies, then its own
// statements, so forward and mutually recursive calls resolve. Function ids
// follow that registration order with the top level as 0.
package compiler

import (
	"errors"

	"github.com/tliron/commonlog"

	"github.com/chazu/mathvm/pkg/ast"
	"github.com/chazu/mathvm/pkg/bytecode"
	"github.com/chazu/mathvm/pkg/native"
	"github.com/chazu/mathvm/pkg/value"
)

var log = commonlog.GetLogger("mvm.compiler")

// Option configures a translation.
type Option func(*translator)

// WithNatives sets the table native-call markers resolve against. The
// default is native.Builtins().
func WithNatives(tab *native.Table) Option {
	return func(t *translator) {
		t.natives = tab
	}
}

// translator holds the state of one translation. It is not reused.
type translator struct {
	prog    *bytecode.Program
	natives *native.Table
	fs      *funcState
}

// funcState tracks emission into one function's buffer.
type funcState struct {
	decl   *ast.Function
	desc   *bytecode.Function
	code   *bytecode.Buffer
	depth  int
	dead   bool
	labels map[*bytecode.Label]int
	err    error
}

// Translate lowers top, the implicit top-level function, into a new Program.
// No partial Program is returned on error; the error is an *Error.
func Translate(top *ast.Function, opts ...Option) (*bytecode.Program, error) {
	t := &translator{prog: bytecode.NewProgram()}
	for _, opt := range opts {
		opt(t)
	}
	if t.natives == nil {
		t.natives = native.Builtins()
	}
	if top == nil || top.Body == nil {
		return nil, errorAt(nil, Malformed, "program has no body")
	}
	if top.ReturnType != value.Void || len(top.Params) != 0 {
		return nil, errorAt(top, TypeMismatch, "top-level function must be void with no parameters")
	}

	desc := &bytecode.Function{Name: top.Name, Parent: bytecode.NoParent, ReturnType: value.Void}
	if _, err := t.prog.AddFunction(desc); err != nil {
		return nil, errorAt(top, Internal, "%v", err)
	}
	if err := t.function(top, desc, nil); err != nil {
		return nil, err
	}

	if err := bytecode.Verify(t.prog); err != nil {
		return nil, errorAt(top, Internal, "generated code failed verification: %v", err)
	}
	log.Debugf("translated %d functions, %d constants, %d natives",
		len(t.prog.Functions), len(t.prog.Constants), len(t.prog.Natives))
	return t.prog, nil
}

// ---------------------------------------------------------------------------
// Functions and blocks
// ---------------------------------------------------------------------------

// function translates decl into desc. outer is the scope decl was declared
// in, nil for the top level.
func (t *translator) function(decl *ast.Function, desc *bytecode.Function, outer *scope) error {
	saved := t.fs
	t.fs = &funcState{
		decl:   decl,
		desc:   desc,
		code:   desc.Code,
		labels: make(map[*bytecode.Label]int),
	}
	defer func() { t.fs = saved }()

	if decl.Body == nil {
		return errorAt(decl, Malformed, "function %s has no body", decl.Name)
	}

	params := newScope(outer, desc)
	for _, p := range decl.Params {
		if _, err := params.declareVar(p); err != nil {
			return err
		}
		desc.Params = append(desc.Params, bytecode.Param{Name: p.Name, Type: p.Type})
	}
	// Arguments arrive on the operand stack.
	t.fs.depth = len(decl.Params)

	if nc, ok := decl.IsNative(); ok {
		return t.nativeThunk(decl, desc, nc)
	}

	for i := len(decl.Params) - 1; i >= 0; i-- {
		p := decl.Params[i]
		if err := t.storeRef(p, params.vars[p.Name]); err != nil {
			return err
		}
	}

	if err := t.block(decl.Body, params); err != nil {
		return err
	}
	if desc.ReturnType != value.Void && !blockReturns(decl.Body) {
		return errorAt(decl, MissingReturn, "function %s does not return a value on every path", decl.Name)
	}

	if desc.Parent == bytecode.NoParent {
		t.emit(bytecode.OpStop)
	} else {
		t.emit(bytecode.OpReturn)
	}
	if err := t.check(decl); err != nil {
		return err
	}
	log.Debugf("function %d %s: %d bytes, %d locals", desc.ID, desc.Name, desc.Code.Len(), desc.LocalsCount)
	return nil
}

// nativeThunk emits CALLNATIVE; RETURN. The arguments stay on the stack for
// CALLNATIVE to pop.
func (t *translator) nativeThunk(decl *ast.Function, desc *bytecode.Function, nc *ast.NativeCall) error {
	sym, ok := t.natives.Resolve(nc.Symbol)
	if !ok {
		return errorAt(nc, NativeSymbolNotFound, "native symbol %s not found", nc.Symbol)
	}
	sig := decl.Signature()
	if !sym.Signature.Equal(sig) {
		return errorAt(nc, TypeMismatch, "native %s has signature %s, declared %s", nc.Symbol, sym.Signature, sig)
	}
	id, err := t.prog.AddNative(nc.Symbol, sig)
	if err != nil {
		return errorAt(nc, TypeMismatch, "%v", err)
	}
	desc.Native = true
	t.emitCall(bytecode.OpCallNative, id, sig)
	t.emit(bytecode.OpReturn)
	t.fs.depth = 0
	return t.check(decl)
}

// block translates b in a new scope nested in outer.
func (t *translator) block(b *ast.Block, outer *scope) error {
	sc := newScope(outer, t.fs.desc)
	if b.Scope != nil {
		for _, v := range b.Scope.Vars {
			if _, err := sc.declareVar(v); err != nil {
				return err
			}
		}

		// Register first so calls between siblings resolve.
		var nested []funcRef
		for _, decl := range b.Scope.Funcs {
			desc := &bytecode.Function{
				Name:       decl.Name,
				Parent:     int(t.fs.desc.ID),
				ReturnType: decl.ReturnType,
			}
			if err := sc.declareFunc(decl, desc); err != nil {
				return err
			}
			if _, err := t.prog.AddFunction(desc); err != nil {
				return errorAt(decl, Internal, "%v", err)
			}
			nested = append(nested, funcRef{decl: decl, desc: desc})
		}
		for _, f := range nested {
			if err := t.function(f.decl, f.desc, sc); err != nil {
				return err
			}
		}
	}

	for _, s := range b.Stmts {
		if err := t.stmt(s, sc); err != nil {
			return err
		}
		if err := t.check(s); err != nil {
			return err
		}
		if t.fs.depth != 0 {
			return errorAt(s, Internal, "statement leaves %d values on the stack", t.fs.depth)
		}
	}
	return nil
}

// blockReturns reports whether no path through b falls off its end: every
// path returns or stays in a loop that cannot exit.
func blockReturns(b *ast.Block) bool {
	for _, s := range b.Stmts {
		if stmtReturns(s) {
			return true
		}
	}
	return false
}

func stmtReturns(s ast.Stmt) bool {
	switch s := s.(type) {
	case *ast.Return:
		return true
	case *ast.Block:
		return blockReturns(s)
	case *ast.If:
		return s.Else != nil && blockReturns(s.Then) && blockReturns(s.Else)
	case *ast.While:
		return alwaysTrue(s.Cond)
	}
	return false
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (t *translator) stmt(s ast.Stmt, sc *scope) error {
	switch s := s.(type) {
	case *ast.Store:
		return t.store(s, sc)

	case *ast.ExprStmt:
		typ, err := t.expr(s.X, sc)
		if err != nil {
			return err
		}
		if typ != value.Void {
			t.emit(bytecode.OpPop)
		}
		return nil

	case *ast.Print:
		for _, x := range s.Operands {
			typ, err := t.expr(x, sc)
			if err != nil {
				return err
			}
			switch typ {
			case value.Int:
				t.emit(bytecode.OpIPrint)
			case value.Double:
				t.emit(bytecode.OpDPrint)
			case value.String:
				t.emit(bytecode.OpSPrint)
			default:
				return errorAt(x, TypeMismatch, "cannot print a %s value", typ)
			}
		}
		return nil

	case *ast.If:
		return t.ifStmt(s, sc)

	case *ast.While:
		return t.whileStmt(s, sc)

	case *ast.For:
		return t.forStmt(s, sc)

	case *ast.Block:
		return t.block(s, sc)

	case *ast.Return:
		return t.returnStmt(s, sc)

	case *ast.NativeCall:
		return errorAt(s, Malformed, "native %s must be the only statement of a function body", s.Symbol)
	}
	return errorAt(s, Malformed, "unknown statement %T", s)
}

func (t *translator) store(s *ast.Store, sc *scope) error {
	ref, ok := sc.lookupVar(s.Name)
	if !ok {
		return errorAt(s, UnknownIdentifier, "unknown variable %s", s.Name)
	}

	switch s.Op {
	case ast.OpAssign:
		typ, err := t.expr(s.Value, sc)
		if err != nil {
			return err
		}
		if err := t.coerce(s.Value, typ, ref.typ); err != nil {
			return err
		}

	case ast.OpIncrSet, ast.OpDecrSet:
		if !ref.typ.IsNumeric() {
			return errorAt(s, TypeMismatch, "%s requires a numeric variable, %s is %s", s.Op, s.Name, ref.typ)
		}
		t.loadVar(ref)
		typ, err := t.expr(s.Value, sc)
		if err != nil {
			return err
		}
		if err := t.coerce(s.Value, typ, ref.typ); err != nil {
			return err
		}
		// Stack is old, rhs with rhs on top.
		if s.Op == ast.OpIncrSet {
			t.emit(arith(ast.OpAdd, ref.typ))
		} else {
			t.emit(bytecode.OpSwap)
			t.emit(arith(ast.OpSub, ref.typ))
		}

	default:
		return errorAt(s, Malformed, "unknown assignment operator %q", s.Op)
	}
	return t.storeRef(s, ref)
}

func (t *translator) ifStmt(s *ast.If, sc *scope) error {
	els, end := bytecode.NewLabel(), bytecode.NewLabel()
	if err := t.condition(s.Cond, sc); err != nil {
		return err
	}
	t.emit(bytecode.OpILoad0)
	if s.Else == nil {
		t.jump(bytecode.OpIfICmpE, end)
	} else {
		t.jump(bytecode.OpIfICmpE, els)
	}
	if err := t.block(s.Then, sc); err != nil {
		return err
	}
	if s.Else != nil {
		t.jump(bytecode.OpJa, end)
		t.bind(els)
		if err := t.block(s.Else, sc); err != nil {
			return err
		}
	}
	t.bind(end)
	return nil
}

// whileStmt lowers while (cond) body. A literal true condition gets no exit
// test, which leaves the code after the loop unreachable.
func (t *translator) whileStmt(s *ast.While, sc *scope) error {
	start := bytecode.NewLabel()
	t.bind(start)
	if alwaysTrue(s.Cond) {
		if err := t.block(s.Body, sc); err != nil {
			return err
		}
		t.jump(bytecode.OpJa, start)
		return nil
	}

	end := bytecode.NewLabel()
	if err := t.condition(s.Cond, sc); err != nil {
		return err
	}
	t.emit(bytecode.OpILoad0)
	t.jump(bytecode.OpIfICmpE, end)
	if err := t.block(s.Body, sc); err != nil {
		return err
	}
	t.jump(bytecode.OpJa, start)
	t.bind(end)
	return nil
}

// alwaysTrue reports whether cond is a nonzero numeric literal.
func alwaysTrue(cond ast.Expr) bool {
	switch c := cond.(type) {
	case *ast.IntLiteral:
		return c.Value != 0
	case *ast.DoubleLiteral:
		return c.Value != 0
	}
	return false
}

// forStmt lowers for (v in lo..hi) body. The upper bound is re-evaluated
// before every iteration.
func (t *translator) forStmt(s *ast.For, sc *scope) error {
	rng, ok := s.In.(*ast.Binary)
	if !ok || rng.Op != ast.OpRange {
		return errorAt(s.In, BadRange, "for loop needs a range expression lo..hi")
	}
	ref, ok := sc.lookupVar(s.Var)
	if !ok {
		return errorAt(s, UnknownIdentifier, "unknown variable %s", s.Var)
	}
	if ref.typ != value.Int {
		return errorAt(s, BadRange, "loop variable %s must be int, is %s", s.Var, ref.typ)
	}

	typ, err := t.expr(rng.Left, sc)
	if err != nil {
		return err
	}
	if typ != value.Int {
		return errorAt(rng.Left, BadRange, "range start must be int, is %s", typ)
	}
	if err := t.storeRef(s, ref); err != nil {
		return err
	}

	start, end := bytecode.NewLabel(), bytecode.NewLabel()
	t.bind(start)
	if typ, err = t.expr(rng.Right, sc); err != nil {
		return err
	}
	if typ != value.Int {
		return errorAt(rng.Right, BadRange, "range end must be int, is %s", typ)
	}
	t.loadVar(ref)
	t.jump(bytecode.OpIfICmpG, end)

	if err := t.block(s.Body, sc); err != nil {
		return err
	}

	t.loadVar(ref)
	t.emit(bytecode.OpILoad1)
	t.emit(bytecode.OpIAdd)
	if err := t.storeRef(s, ref); err != nil {
		return err
	}
	t.jump(bytecode.OpJa, start)
	t.bind(end)
	return nil
}

func (t *translator) returnStmt(s *ast.Return, sc *scope) error {
	want := t.fs.desc.ReturnType
	if want == value.Void {
		if s.Value != nil {
			return errorAt(s, TypeMismatch, "void function %s cannot return a value", t.fs.desc.Name)
		}
		t.emit(bytecode.OpReturn)
		return nil
	}
	if s.Value == nil {
		return errorAt(s, TypeMismatch, "function %s must return %s", t.fs.desc.Name, want)
	}
	typ, err := t.expr(s.Value, sc)
	if err != nil {
		return err
	}
	if err := t.coerce(s.Value, typ, want); err != nil {
		return err
	}
	t.emit(bytecode.OpReturn)
	// The value leaves with the frame.
	t.fs.depth = 0
	return nil
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func (t *translator) storeRef(n ast.Node, ref varRef) error {
	if err := t.varOp(ref, true); err != nil {
		return errorAt(n, Internal, "%v", err)
	}
	return nil
}

func (t *translator) loadVar(ref varRef) {
	if err := t.varOp(ref, false); err != nil {
		t.fail(err)
	}
}

// varOp emits the LOAD or STORE for ref, context-qualified when the
// variable belongs to an enclosing function.
func (t *translator) varOp(ref varRef, store bool) error {
	if ref.owner != t.fs.desc.ID {
		op, err := bytecode.CtxVarOp(ref.typ, store)
		if err != nil {
			return err
		}
		t.fs.code.EmitU16Pair(op, ref.owner, ref.slot)
		t.effect(op)
		return nil
	}
	op, short, err := bytecode.LocalVarOp(ref.typ, store, int(ref.slot))
	if err != nil {
		return err
	}
	if short {
		t.emit(op)
	} else {
		t.fs.code.EmitU16(op, ref.slot)
		t.effect(op)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Emission and stack bookkeeping
// ---------------------------------------------------------------------------

func (t *translator) emit(op bytecode.Opcode) {
	t.fs.code.Emit(op)
	t.effect(op)
}

// effect applies op's stack effect from the opcode table.
func (t *translator) effect(op bytecode.Opcode) {
	info := bytecode.GetOpcodeInfo(op)
	if info.StackPop == bytecode.VarStack {
		t.fail(errors.New("call effect must be applied with adjust"))
		return
	}
	t.adjust(info.StackPop, info.StackPush)
	if op.IsTerminator() {
		t.fs.dead = true
	}
}

func (t *translator) adjust(pop, push int) {
	if t.fs.depth < pop && !t.fs.dead {
		t.fail(errors.New("operand stack underflow during translation"))
	}
	t.fs.depth += push - pop
	if t.fs.depth < 0 {
		t.fs.depth = 0
	}
}

func (t *translator) emitCall(op bytecode.Opcode, id uint16, sig value.Signature) {
	t.fs.code.EmitU16(op, id)
	t.adjust(len(sig.Params), pushCount(sig.Return))
}

// jump emits a branch to l and records the depth expected there.
func (t *translator) jump(op bytecode.Opcode, l *bytecode.Label) {
	t.fs.code.EmitJump(op, l)
	wasDead := t.fs.dead
	t.effect(op)
	if !wasDead {
		t.mark(l)
	}
}

// bind places l here. Code after a terminator is reachable only through
// jumps, so the depth is taken from them.
func (t *translator) bind(l *bytecode.Label) {
	t.fs.code.Bind(l)
	if d, ok := t.fs.labels[l]; ok {
		if !t.fs.dead && d != t.fs.depth {
			t.fail(errors.New("stack depth mismatch at label"))
		}
		t.fs.depth = d
	} else {
		t.fs.labels[l] = t.fs.depth
	}
	t.fs.dead = false
}

func (t *translator) mark(l *bytecode.Label) {
	if d, ok := t.fs.labels[l]; ok && d != t.fs.depth {
		t.fail(errors.New("stack depth mismatch at jump"))
		return
	}
	t.fs.labels[l] = t.fs.depth
}

func (t *translator) fail(err error) {
	if t.fs.err == nil {
		t.fs.err = err
	}
}

// check surfaces bookkeeping and buffer errors as Internal errors at n.
func (t *translator) check(n ast.Node) error {
	if t.fs.err != nil {
		return errorAt(n, Internal, "%v", t.fs.err)
	}
	if err := t.fs.code.Err(); err != nil {
		return errorAt(n, Internal, "%v", err)
	}
	return nil
}

func pushCount(t value.Type) int {
	if t == value.Void {
		return 0
	}
	return 1
}
