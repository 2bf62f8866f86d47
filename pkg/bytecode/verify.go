package bytecode

import (
	"fmt"

	"github.com/chazu/mathvm/pkg/value"
)

// VerifyError reports the first structural problem found in a function.
type VerifyError struct {
	Func   string
	Offset int
	Msg    string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify %s@%04X: %s", e.Func, e.Offset, e.Msg)
}

// Verify checks every function of p: instructions decode, operands refer
// to existing constants, slots, functions and natives, context ids name a
// lexical ancestor, jumps land on instruction boundaries, and the operand
// stack depth agrees at every merge point.
func Verify(p *Program) error {
	if len(p.Functions) == 0 {
		return &VerifyError{Func: "<program>", Msg: "no top-level function"}
	}
	for i, f := range p.Functions {
		if int(f.ID) != i {
			return &VerifyError{Func: f.Name, Msg: fmt.Sprintf("function id %d stored at index %d", f.ID, i)}
		}
		if i == TopFunctionID && f.Parent != NoParent {
			return &VerifyError{Func: f.Name, Msg: "top-level function has a parent"}
		}
		if i != TopFunctionID && (f.Parent < 0 || f.Parent >= i) {
			return &VerifyError{Func: f.Name, Msg: fmt.Sprintf("bad parent id %d", f.Parent)}
		}
		if len(f.VarTypes) != int(f.LocalsCount) || len(f.VarNames) != int(f.LocalsCount) {
			return &VerifyError{Func: f.Name, Msg: "local slot tables do not match locals count"}
		}
		if len(f.Params) > int(f.LocalsCount) {
			return &VerifyError{Func: f.Name, Msg: "fewer local slots than parameters"}
		}
		if err := verifyFunction(p, f); err != nil {
			return err
		}
	}
	return nil
}

// isAncestor reports whether ctx is f itself or one of its lexical parents.
// Parent ids are always smaller than child ids, so the walk terminates.
func isAncestor(p *Program, f *Function, ctx uint16) bool {
	for cur := f; cur != nil; {
		if cur.ID == ctx {
			return true
		}
		if cur.Parent == NoParent {
			return false
		}
		cur, _ = p.Function(uint16(cur.Parent))
	}
	return false
}

func verifyFunction(p *Program, f *Function) error {
	fail := func(at int, format string, args ...any) error {
		return &VerifyError{Func: f.Name, Offset: at, Msg: fmt.Sprintf(format, args...)}
	}

	code := f.Code
	if code == nil || code.Len() == 0 {
		return fail(0, "empty code")
	}
	ins, err := code.Instructions()
	if err != nil {
		return fail(0, "%v", err)
	}
	byOffset := make(map[int]Instruction, len(ins))
	for _, in := range ins {
		byOffset[in.Offset] = in
	}

	wantReturn := 0
	if f.ReturnType != value.Void {
		wantReturn = 1
	}

	depthAt := make(map[int]int)
	work := []int{0}
	depthAt[0] = len(f.Params)

	for len(work) > 0 {
		at := work[len(work)-1]
		work = work[:len(work)-1]
		in := byOffset[at]
		depth := depthAt[at]

		if err := checkOperands(p, f, in); err != nil {
			return fail(at, "%v", err)
		}

		info := GetOpcodeInfo(in.Op)
		pop, push := info.StackPop, info.StackPush
		if pop == VarStack {
			var ok bool
			pop, push, ok = p.CallEffect(in.Op, in.U16)
			if !ok {
				return fail(at, "%s to unknown id %d", in.Op, in.U16)
			}
		}
		if depth < pop {
			return fail(at, "%s needs %d operands, stack has %d", in.Op, pop, depth)
		}
		next := depth - pop + push

		switch in.Op {
		case OpInvalid:
			return fail(at, "reachable INVALID")
		case OpReturn:
			if depth != wantReturn {
				return fail(at, "RETURN with stack depth %d, want %d", depth, wantReturn)
			}
			continue
		case OpStop:
			continue
		}

		var succ []int
		if in.Op.IsJump() {
			if _, ok := byOffset[in.Target]; !ok {
				return fail(at, "jump target %04X is not an instruction boundary", in.Target)
			}
			succ = append(succ, in.Target)
		}
		if in.Op != OpJa {
			if in.Next() >= code.Len() {
				return fail(at, "control falls off the end of the function")
			}
			succ = append(succ, in.Next())
		}
		for _, s := range succ {
			if d, seen := depthAt[s]; seen {
				if d != next {
					return fail(s, "stack depth mismatch at merge: %d vs %d", d, next)
				}
				continue
			}
			depthAt[s] = next
			work = append(work, s)
		}
	}
	return nil
}

func checkOperands(p *Program, f *Function, in Instruction) error {
	switch in.Op {
	case OpSLoad:
		if _, ok := p.Constant(in.U16); !ok {
			return fmt.Errorf("unknown constant %d", in.U16)
		}
		return nil
	case OpCall:
		if _, ok := p.Function(in.U16); !ok {
			return fmt.Errorf("unknown function %d", in.U16)
		}
		return nil
	case OpCallNative:
		if _, ok := p.Native(in.U16); !ok {
			return fmt.Errorf("unknown native %d", in.U16)
		}
		return nil
	}

	va, ok := GetVarAccess(in.Op)
	if !ok {
		return nil
	}
	switch {
	case va.Ctx:
		if !isAncestor(p, f, in.U16) {
			return fmt.Errorf("context %d is not a lexical ancestor", in.U16)
		}
		owner, _ := p.Function(in.U16)
		if in.Slot >= owner.LocalsCount {
			return fmt.Errorf("slot %d out of range for %s (%d locals)", in.Slot, owner.Name, owner.LocalsCount)
		}
		if owner.VarTypes[in.Slot] != va.Type {
			return fmt.Errorf("%s on %s slot %d", in.Op, owner.VarTypes[in.Slot], in.Slot)
		}
	default:
		slot := uint16(va.Slot)
		if va.Slot < 0 {
			slot = in.U16
		}
		if slot >= f.LocalsCount {
			return fmt.Errorf("slot %d out of range (%d locals)", slot, f.LocalsCount)
		}
		if f.VarTypes[slot] != va.Type {
			return fmt.Errorf("%s on %s slot %d", in.Op, f.VarTypes[slot], slot)
		}
	}
	return nil
}
