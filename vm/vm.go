// Package vm executes mathvm bytecode.
//
// A VM owns one operand stack shared by all frames and an explicit frame
// stack, so recursion depth is bounded by memory (or WithMaxFrames) rather
// than the Go stack. Each frame links to the live frame of its lexically
// enclosing function; context-qualified variable access walks that static
// chain, never the call chain.
//
// A Program is never modified by execution and may be run by several VMs
// at once. A single VM runs one program at a time.
package vm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/mathvm/pkg/bytecode"
	"github.com/chazu/mathvm/pkg/native"
	"github.com/chazu/mathvm/pkg/value"
)

var log = commonlog.GetLogger("mvm.vm")

// checkInterval is the number of instructions between context checks.
const checkInterval = 1024

// Option configures a VM.
type Option func(*VM)

// WithOutput sets the writer the PRINT family and natives write to.
// The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) {
		vm.out = w
	}
}

// WithNatives sets the table CALLNATIVE entries are bound against. The
// default is native.Builtins().
func WithNatives(tab *native.Table) Option {
	return func(vm *VM) {
		vm.natives = tab
	}
}

// WithTrace logs every executed instruction at debug level.
func WithTrace(on bool) Option {
	return func(vm *VM) {
		vm.trace = on
	}
}

// WithMaxFrames bounds the frame stack. 0 means unbounded.
func WithMaxFrames(n int) Option {
	return func(vm *VM) {
		vm.maxFrames = n
	}
}

// frame is one activation.
type frame struct {
	fn     *bytecode.Function
	code   *bytecode.Buffer
	ip     int
	locals []value.Value
	static *frame // live frame of the lexically enclosing function
}

// VM is a bytecode interpreter for one Program.
type VM struct {
	prog      *bytecode.Program
	out       io.Writer
	natives   *native.Table
	trace     bool
	maxFrames int

	// Per-run state.
	w      *bufio.Writer
	stack  []value.Value
	frames []*frame
	strs   *stringTable
	bound  []native.Symbol
	op     bytecode.Opcode
	opAt   int
}

// New creates a VM for prog.
func New(prog *bytecode.Program, opts ...Option) *VM {
	vm := &VM{
		prog: prog,
		out:  os.Stdout,
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.natives == nil {
		vm.natives = native.Builtins()
	}
	return vm
}

// Output implements native.Env.
func (vm *VM) Output() io.Writer {
	return vm.w
}

// Run executes the top-level function to completion.
func (vm *VM) Run(ctx context.Context) error {
	return vm.Execute(ctx, nil)
}

// Execute runs the program with top-level variables seeded from bindings.
// Each binding names a variable declared in the top-level function. After
// a successful run the final values are written back into bindings.
func (vm *VM) Execute(ctx context.Context, bindings map[string]value.Scalar) (err error) {
	top, ok := vm.prog.Top()
	if !ok {
		return &RuntimeError{Kind: BadOperand, Msg: "program has no functions"}
	}
	if err := vm.bindNatives(); err != nil {
		return err
	}

	vm.w = bufio.NewWriter(vm.out)
	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]
	vm.strs = newStringTable(vm.prog)

	root := vm.newFrame(top, nil)
	slots, err := vm.seed(root, bindings)
	if err != nil {
		return err
	}
	vm.frames = append(vm.frames, root)

	defer func() {
		if flushErr := vm.w.Flush(); flushErr != nil && err == nil {
			err = &RuntimeError{Kind: OutputFailed, Msg: flushErr.Error(), Err: flushErr}
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			re, ok := r.(*RuntimeError)
			if !ok {
				panic(r)
			}
			log.Debugf("%s", re)
			err = re
		}
	}()

	vm.run(ctx)

	for name, slot := range slots {
		bindings[name] = vm.scalar(root.locals[slot])
	}
	return nil
}

// bindNatives resolves every native the program references.
func (vm *VM) bindNatives() error {
	vm.bound = make([]native.Symbol, len(vm.prog.Natives))
	for i, n := range vm.prog.Natives {
		sym, ok := vm.natives.Resolve(n.Name)
		if !ok {
			return &RuntimeError{Kind: NativeFailed, Msg: fmt.Sprintf("native %s is not available", n.Name)}
		}
		if !sym.Signature.Equal(n.Signature) {
			return &RuntimeError{Kind: NativeFailed,
				Msg: fmt.Sprintf("native %s has signature %s, program expects %s", n.Name, sym.Signature, n.Signature)}
		}
		vm.bound[i] = sym
	}
	return nil
}

// seed stores bindings into the root frame and returns the slot chosen
// for each name. The first slot with a name belongs to the outermost
// declaration.
func (vm *VM) seed(root *frame, bindings map[string]value.Scalar) (map[string]int, error) {
	if len(bindings) == 0 {
		return nil, nil
	}
	slots := make(map[string]int, len(bindings))
	for name, s := range bindings {
		slot := -1
		for i, n := range root.fn.VarNames {
			if n == name {
				slot = i
				break
			}
		}
		if slot < 0 {
			return nil, &RuntimeError{Func: root.fn.Name, Kind: BadOperand,
				Msg: fmt.Sprintf("no top-level variable %s", name)}
		}
		want := root.fn.VarTypes[slot]
		if s.Type == value.Int && want == value.Double {
			s = value.DoubleScalar(float64(s.Int))
		}
		if s.Type != want {
			return nil, &RuntimeError{Func: root.fn.Name, Kind: TypeMismatch,
				Msg: fmt.Sprintf("variable %s is %s, binding is %s", name, want, s.Type)}
		}
		root.locals[slot] = vm.fromScalar(s)
		slots[name] = slot
	}
	return slots, nil
}

func (vm *VM) newFrame(fn *bytecode.Function, static *frame) *frame {
	locals := make([]value.Value, fn.LocalsCount)
	for i := range locals {
		var t value.Type
		if i < len(fn.VarTypes) {
			t = fn.VarTypes[i]
		}
		locals[i] = zero(t)
	}
	return &frame{fn: fn, code: fn.Code, locals: locals, static: static}
}

func zero(t value.Type) value.Value {
	switch t {
	case value.Double:
		return value.MakeDouble(0)
	case value.String:
		return value.MakeRef(0)
	}
	return value.MakeInt(0)
}

// ---------------------------------------------------------------------------
// Faults and the operand stack
// ---------------------------------------------------------------------------

// fault aborts the run. Execute recovers the panic and returns it.
func (vm *VM) fault(kind Kind, format string, args ...any) {
	re := &RuntimeError{Op: vm.op, Offset: vm.opAt, Kind: kind, Msg: fmt.Sprintf(format, args...)}
	if n := len(vm.frames); n > 0 {
		re.Func = vm.frames[n-1].fn.Name
	}
	panic(re)
}

func (vm *VM) push(v value.Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() value.Value {
	n := len(vm.stack)
	if n == 0 {
		vm.fault(StackUnderflow, "pop from empty stack")
	}
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v
}

// popType pops a value and checks its tag.
func (vm *VM) popType(t value.Type) value.Value {
	v := vm.pop()
	if v.Type() != t {
		vm.fault(TypeMismatch, "expected %s on stack, found %s", t, v.Type())
	}
	return v
}

func (vm *VM) popInt() int64      { return vm.popType(value.Int).AsInt() }
func (vm *VM) popDouble() float64 { return vm.popType(value.Double).AsDouble() }

func (vm *VM) popString() string {
	id := vm.popType(value.String).AsRef()
	s, ok := vm.strs.get(id)
	if !ok {
		vm.fault(BadOperand, "unknown string id %d", id)
	}
	return s
}

func (vm *VM) fromScalar(s value.Scalar) value.Value {
	switch s.Type {
	case value.Int:
		return value.MakeInt(s.Int)
	case value.Double:
		return value.MakeDouble(s.Double)
	case value.String:
		return value.MakeRef(vm.strs.intern(s.Str))
	}
	return value.Value{}
}

func (vm *VM) scalar(v value.Value) value.Scalar {
	switch v.Type() {
	case value.Int:
		return value.IntScalar(v.AsInt())
	case value.Double:
		return value.DoubleScalar(v.AsDouble())
	case value.String:
		s, _ := vm.strs.get(v.AsRef())
		return value.StringScalar(s)
	}
	return value.VoidScalar
}

func (vm *VM) write(s string) {
	if _, err := vm.w.WriteString(s); err != nil {
		vm.fault(OutputFailed, "%v", err)
	}
}
