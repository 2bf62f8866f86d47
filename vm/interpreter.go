package vm

import (
	"context"
	"strconv"

	"github.com/chazu/mathvm/pkg/bytecode"
	"github.com/chazu/mathvm/pkg/value"
)

// varOps holds the decoded variable access of every LOAD/STORE opcode.
var varOps = func() (t [256]*bytecode.VarAccess) {
	for _, op := range bytecode.AllOpcodes() {
		if va, ok := bytecode.GetVarAccess(op); ok {
			t[op] = &va
		}
	}
	return t
}()

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func (vm *VM) readU16(f *frame) uint16 {
	v, err := f.code.ReadU16(f.ip)
	if err != nil {
		vm.fault(BadOperand, "%v", err)
	}
	f.ip += 2
	return v
}

func (vm *VM) readI64(f *frame) int64 {
	v, err := f.code.ReadI64(f.ip)
	if err != nil {
		vm.fault(BadOperand, "%v", err)
	}
	f.ip += 8
	return v
}

func (vm *VM) readF64(f *frame) float64 {
	v, err := f.code.ReadF64(f.ip)
	if err != nil {
		vm.fault(BadOperand, "%v", err)
	}
	f.ip += 8
	return v
}

// jump moves f to the target of the branch at vm.opAt.
func (vm *VM) jump(f *frame) {
	target, err := f.code.JumpTarget(vm.opAt)
	if err != nil || target < 0 || target >= f.code.Len() {
		vm.fault(BadOperand, "jump target out of range")
	}
	f.ip = target
}

// ---------------------------------------------------------------------------
// Main interpreter loop
// ---------------------------------------------------------------------------

// run executes until the outermost frame returns or STOP.
func (vm *VM) run(ctx context.Context) {
	var steps uint64
	for {
		f := vm.frames[len(vm.frames)-1]

		steps++
		if steps%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				re := &RuntimeError{Func: f.fn.Name, Offset: f.ip, Op: vm.op, Kind: Canceled, Msg: err.Error(), Err: err}
				panic(re)
			}
		}

		vm.opAt = f.ip
		op, err := f.code.Opcode(f.ip)
		if err != nil {
			vm.op = bytecode.OpInvalid
			vm.fault(BadOperand, "instruction pointer past end of code")
		}
		vm.op = op
		f.ip++

		if vm.trace {
			log.Debugf("%s %04X %-14s depth=%d", f.fn.Name, vm.opAt, op, len(vm.stack))
		}

		switch op {
		// --- Loads ---
		case bytecode.OpDLoad:
			vm.push(value.MakeDouble(vm.readF64(f)))
		case bytecode.OpILoad:
			vm.push(value.MakeInt(vm.readI64(f)))
		case bytecode.OpSLoad:
			id := vm.readU16(f)
			if int(id) >= len(vm.prog.Constants) {
				vm.fault(BadOperand, "unknown constant %d", id)
			}
			vm.push(value.MakeRef(uint32(id)))
		case bytecode.OpDLoad0:
			vm.push(value.MakeDouble(0))
		case bytecode.OpILoad0:
			vm.push(value.MakeInt(0))
		case bytecode.OpSLoad0:
			vm.push(value.MakeRef(0))
		case bytecode.OpDLoad1:
			vm.push(value.MakeDouble(1))
		case bytecode.OpILoad1:
			vm.push(value.MakeInt(1))
		case bytecode.OpDLoadM1:
			vm.push(value.MakeDouble(-1))
		case bytecode.OpILoadM1:
			vm.push(value.MakeInt(-1))

		// --- Arithmetic: upper OP lower ---
		case bytecode.OpDAdd:
			a, b := vm.popDouble(), vm.popDouble()
			vm.push(value.MakeDouble(a + b))
		case bytecode.OpIAdd:
			a, b := vm.popInt(), vm.popInt()
			vm.push(value.MakeInt(a + b))
		case bytecode.OpDSub:
			a, b := vm.popDouble(), vm.popDouble()
			vm.push(value.MakeDouble(a - b))
		case bytecode.OpISub:
			a, b := vm.popInt(), vm.popInt()
			vm.push(value.MakeInt(a - b))
		case bytecode.OpDMul:
			a, b := vm.popDouble(), vm.popDouble()
			vm.push(value.MakeDouble(a * b))
		case bytecode.OpIMul:
			a, b := vm.popInt(), vm.popInt()
			vm.push(value.MakeInt(a * b))
		case bytecode.OpDDiv:
			a, b := vm.popDouble(), vm.popDouble()
			vm.push(value.MakeDouble(a / b))
		case bytecode.OpIDiv:
			a, b := vm.popInt(), vm.popInt()
			if b == 0 {
				vm.fault(DivisionByZero, "integer division by zero")
			}
			vm.push(value.MakeInt(a / b))
		case bytecode.OpIMod:
			a, b := vm.popInt(), vm.popInt()
			if b == 0 {
				vm.fault(DivisionByZero, "integer modulo by zero")
			}
			vm.push(value.MakeInt(a % b))
		case bytecode.OpDNeg:
			vm.push(value.MakeDouble(-vm.popDouble()))
		case bytecode.OpINeg:
			vm.push(value.MakeInt(-vm.popInt()))

		// --- Bitwise ---
		case bytecode.OpIAOr:
			a, b := vm.popInt(), vm.popInt()
			vm.push(value.MakeInt(a | b))
		case bytecode.OpIAAnd:
			a, b := vm.popInt(), vm.popInt()
			vm.push(value.MakeInt(a & b))
		case bytecode.OpIAXor:
			a, b := vm.popInt(), vm.popInt()
			vm.push(value.MakeInt(a ^ b))

		// --- Print ---
		case bytecode.OpIPrint:
			vm.write(strconv.FormatInt(vm.popInt(), 10))
		case bytecode.OpDPrint:
			vm.write(value.FormatDouble(vm.popDouble()))
		case bytecode.OpSPrint:
			vm.write(vm.popString())

		// --- Conversion and stack ---
		case bytecode.OpI2D:
			vm.push(value.MakeDouble(float64(vm.popInt())))
		case bytecode.OpD2I:
			vm.push(value.MakeInt(int64(vm.popDouble())))
		case bytecode.OpS2I:
			vm.push(value.MakeInt(int64(vm.popType(value.String).AsRef())))
		case bytecode.OpSwap:
			a, b := vm.pop(), vm.pop()
			vm.push(a)
			vm.push(b)
		case bytecode.OpPop:
			vm.pop()

		// --- Compare ---
		case bytecode.OpDCmp:
			a, b := vm.popDouble(), vm.popDouble()
			vm.push(value.MakeInt(cmpDouble(a, b)))
		case bytecode.OpICmp:
			a, b := vm.popInt(), vm.popInt()
			vm.push(value.MakeInt(cmpInt(a, b)))

		// --- Control flow ---
		case bytecode.OpJa:
			vm.jump(f)
		case bytecode.OpIfICmpNE, bytecode.OpIfICmpE, bytecode.OpIfICmpG,
			bytecode.OpIfICmpGE, bytecode.OpIfICmpL, bytecode.OpIfICmpLE:
			a, b := vm.popInt(), vm.popInt()
			if branch(op, a, b) {
				vm.jump(f)
			} else {
				f.ip += 2
			}

		// --- Misc ---
		case bytecode.OpDump:
			if len(vm.stack) == 0 {
				vm.fault(StackUnderflow, "DUMP on empty stack")
			}
			vm.write(vm.scalar(vm.stack[len(vm.stack)-1]).String() + "\n")
		case bytecode.OpBreak:
			if vm.trace {
				log.Infof("break in %s at %04X, stack %v", f.fn.Name, vm.opAt, vm.stack)
			}
		case bytecode.OpStop:
			return

		// --- Calls ---
		case bytecode.OpCall:
			vm.call(f, vm.readU16(f))
		case bytecode.OpCallNative:
			vm.callNative(vm.readU16(f))
		case bytecode.OpReturn:
			vm.frames[len(vm.frames)-1] = nil
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == 0 {
				return
			}

		case bytecode.OpInvalid:
			vm.fault(InvalidOpcode, "reached INVALID")

		default:
			va := varOps[op]
			if va == nil {
				vm.fault(InvalidOpcode, "unknown opcode 0x%02X", byte(op))
			}
			vm.access(f, va)
		}
	}
}

// access performs a LOAD or STORE.
func (vm *VM) access(f *frame, va *bytecode.VarAccess) {
	target := f
	slot := va.Slot
	if va.Ctx {
		ctx := vm.readU16(f)
		slot = int(vm.readU16(f))
		target = vm.enclosing(f, ctx)
	} else if slot < 0 {
		slot = int(vm.readU16(f))
	}
	if slot >= len(target.locals) {
		vm.fault(BadOperand, "slot %d out of range in %s (%d locals)", slot, target.fn.Name, len(target.locals))
	}

	if va.Store {
		target.locals[slot] = vm.popType(va.Type)
		return
	}
	v := target.locals[slot]
	if v.Type() != va.Type {
		vm.fault(TypeMismatch, "slot %d of %s holds %s, not %s", slot, target.fn.Name, v.Type(), va.Type)
	}
	vm.push(v)
}

// enclosing walks the static chain from f to the frame of function id.
func (vm *VM) enclosing(f *frame, id uint16) *frame {
	for cur := f; cur != nil; cur = cur.static {
		if cur.fn.ID == id {
			return cur
		}
	}
	vm.fault(BadContext, "function %d does not enclose %s", id, f.fn.Name)
	return nil
}

// call pushes a frame for function id. Arguments stay on the operand stack
// for the callee's prologue. The static link is the live frame of the
// callee's lexical parent, found on the caller's static chain.
func (vm *VM) call(caller *frame, id uint16) {
	fn, ok := vm.prog.Function(id)
	if !ok {
		vm.fault(BadOperand, "unknown function %d", id)
	}
	if vm.maxFrames > 0 && len(vm.frames) >= vm.maxFrames {
		vm.fault(FrameLimit, "more than %d frames", vm.maxFrames)
	}
	var static *frame
	if fn.Parent != bytecode.NoParent {
		static = vm.enclosing(caller, uint16(fn.Parent))
	}
	vm.frames = append(vm.frames, vm.newFrame(fn, static))
}

func (vm *VM) callNative(id uint16) {
	if int(id) >= len(vm.bound) {
		vm.fault(BadOperand, "unknown native %d", id)
	}
	sym := vm.bound[id]
	params := sym.Signature.Params
	args := make([]value.Scalar, len(params))
	for i := len(params) - 1; i >= 0; i-- {
		v := vm.popType(params[i])
		args[i] = vm.scalar(v)
	}
	ret, err := sym.Call(vm, args)
	if err != nil {
		re := &RuntimeError{Func: vm.frames[len(vm.frames)-1].fn.Name, Offset: vm.opAt, Op: vm.op,
			Kind: NativeFailed, Msg: err.Error(), Err: err}
		panic(re)
	}
	if sym.Signature.Return != value.Void {
		vm.push(vm.fromScalar(ret))
	}
}

func cmpInt(a, b int64) int64 {
	switch {
	case a < b:
		return -1
	case a == b:
		return 0
	}
	return 1
}

// cmpDouble yields 1 when either operand is NaN. The translator only tests
// that result for ==, != and the < and <= forms, which keeps NaN unordered.
func cmpDouble(a, b float64) int64 {
	switch {
	case a < b:
		return -1
	case a == b:
		return 0
	}
	return 1
}

// branch evaluates a conditional jump: upper OP lower.
func branch(op bytecode.Opcode, a, b int64) bool {
	switch op {
	case bytecode.OpIfICmpNE:
		return a != b
	case bytecode.OpIfICmpE:
		return a == b
	case bytecode.OpIfICmpG:
		return a > b
	case bytecode.OpIfICmpGE:
		return a >= b
	case bytecode.OpIfICmpL:
		return a < b
	}
	return a <= b
}
