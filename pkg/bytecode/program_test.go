package bytecode

import (
	"testing"

	"github.com/chazu/mathvm/pkg/value"
)

// programWith builds a program whose top-level function has the given
// locals and code.
func programWith(locals []value.Type, emit func(b *Buffer)) *Program {
	p := NewProgram()
	top := &Function{Name: "<top>", Parent: NoParent, ReturnType: value.Void}
	for i, t := range locals {
		top.AddLocal(string(rune('a'+i)), t)
	}
	p.AddFunction(top)
	emit(top.Code)
	return p
}

func TestNewProgramEmptyStringConstant(t *testing.T) {
	p := NewProgram()
	if len(p.Constants) != 1 || p.Constants[0] != "" {
		t.Fatalf("Constants = %q, want [\"\"]", p.Constants)
	}
	id, err := p.Intern("")
	if err != nil || id != 0 {
		t.Errorf("Intern(\"\") = %d, %v; want 0", id, err)
	}
}

func TestIntern(t *testing.T) {
	p := NewProgram()
	a, _ := p.Intern("hello")
	b, _ := p.Intern("world")
	c, _ := p.Intern("hello")

	if a != 1 || b != 2 {
		t.Errorf("ids = %d, %d; want 1, 2", a, b)
	}
	if a != c {
		t.Errorf("Intern not deduplicating: %d vs %d", a, c)
	}
	if s, ok := p.Constant(b); !ok || s != "world" {
		t.Errorf("Constant(%d) = %q, %v", b, s, ok)
	}
	if _, ok := p.Constant(99); ok {
		t.Error("Constant(99) should not exist")
	}
	if id, ok := p.ConstantID("world"); !ok || id != b {
		t.Errorf("ConstantID(world) = %d, %v", id, ok)
	}
}

func TestAddFunctionAssignsIDs(t *testing.T) {
	p := NewProgram()
	top := &Function{Name: "<top>", Parent: NoParent}
	f := &Function{Name: "f", Parent: 0, ReturnType: value.Int,
		Params: []Param{{Name: "n", Type: value.Int}}}

	if id, _ := p.AddFunction(top); id != 0 {
		t.Errorf("top id = %d", id)
	}
	if id, _ := p.AddFunction(f); id != 1 {
		t.Errorf("f id = %d", id)
	}
	if f.Code == nil {
		t.Error("AddFunction should allocate a code buffer")
	}
	if got, ok := p.FunctionByName("f"); !ok || got != f {
		t.Error("FunctionByName(f) failed")
	}
	if got, ok := p.Top(); !ok || got != top {
		t.Error("Top() failed")
	}
	if sig := f.Signature(); sig.String() != "int(int)" {
		t.Errorf("Signature() = %s", sig)
	}
}

func TestAddLocal(t *testing.T) {
	f := &Function{Name: "f"}
	s0, _ := f.AddLocal("x", value.Int)
	s1, _ := f.AddLocal("y", value.String)
	if s0 != 0 || s1 != 1 || f.LocalsCount != 2 {
		t.Errorf("slots = %d, %d; count = %d", s0, s1, f.LocalsCount)
	}
	if f.VarNames[1] != "y" || f.VarTypes[1] != value.String {
		t.Errorf("slot 1 = %s %s", f.VarTypes[1], f.VarNames[1])
	}
}

func TestAddNative(t *testing.T) {
	p := NewProgram()
	sig := value.Signature{Return: value.Double, Params: []value.Type{value.Double}}

	a, err := p.AddNative("sqrt", sig)
	if err != nil || a != 0 {
		t.Fatalf("AddNative = %d, %v", a, err)
	}
	b, err := p.AddNative("sqrt", sig)
	if err != nil || b != a {
		t.Errorf("re-adding the same native = %d, %v", b, err)
	}
	if _, err := p.AddNative("sqrt", value.Signature{Return: value.Int}); err == nil {
		t.Error("conflicting signature should fail")
	}
	if n, ok := p.Native(a); !ok || n.Name != "sqrt" {
		t.Errorf("Native(%d) = %+v", a, n)
	}
}

func TestCallEffect(t *testing.T) {
	p := NewProgram()
	p.AddFunction(&Function{Name: "<top>", Parent: NoParent})
	p.AddFunction(&Function{Name: "g", Parent: 0, ReturnType: value.Void,
		Params: []Param{{"a", value.Int}, {"b", value.Double}}})
	p.AddNative("strlen", value.Signature{Return: value.Int, Params: []value.Type{value.String}})

	pop, push, ok := p.CallEffect(OpCall, 1)
	if !ok || pop != 2 || push != 0 {
		t.Errorf("CALL g effect = %d, %d, %v", pop, push, ok)
	}
	pop, push, ok = p.CallEffect(OpCallNative, 0)
	if !ok || pop != 1 || push != 1 {
		t.Errorf("CALLNATIVE strlen effect = %d, %d, %v", pop, push, ok)
	}
	if _, _, ok := p.CallEffect(OpCall, 5); ok {
		t.Error("CALL to unknown id should fail")
	}
}
