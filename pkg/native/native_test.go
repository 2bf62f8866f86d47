package native

import (
	"bytes"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/chazu/mathvm/pkg/value"
)

type testEnv struct{ out bytes.Buffer }

func (e *testEnv) Output() io.Writer { return &e.out }

func TestRegisterAndResolve(t *testing.T) {
	tab := NewTable()
	sym := Symbol{
		Name:      "twice",
		Signature: value.Signature{Return: value.Int, Params: []value.Type{value.Int}},
		Func: func(_ Env, args []value.Scalar) (value.Scalar, error) {
			return value.IntScalar(args[0].Int * 2), nil
		},
	}
	if err := tab.Register(sym); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := tab.Register(sym); err == nil {
		t.Error("duplicate Register should fail")
	}
	if err := tab.Register(Symbol{Name: "nofunc"}); err == nil {
		t.Error("Register without Func should fail")
	}

	got, ok := tab.Resolve("twice")
	if !ok {
		t.Fatal("Resolve(twice) failed")
	}
	ret, err := got.Call(&testEnv{}, []value.Scalar{value.IntScalar(21)})
	if err != nil || ret.Int != 42 {
		t.Errorf("Call = %+v, %v", ret, err)
	}
	if _, ok := tab.Resolve("missing"); ok {
		t.Error("Resolve(missing) should fail")
	}
}

func TestCallChecksSignature(t *testing.T) {
	sqrt, _ := Builtins().Resolve("sqrt")
	if _, err := sqrt.Call(&testEnv{}, nil); err == nil {
		t.Error("wrong arity should fail")
	}
	if _, err := sqrt.Call(&testEnv{}, []value.Scalar{value.IntScalar(4)}); err == nil {
		t.Error("wrong argument type should fail")
	}
	bad := Symbol{Name: "bad", Signature: dd, Func: func(Env, []value.Scalar) (value.Scalar, error) {
		return value.IntScalar(1), nil
	}}
	if _, err := bad.Call(&testEnv{}, []value.Scalar{value.DoubleScalar(1)}); err == nil {
		t.Error("wrong return type should fail")
	}
}

func TestBuiltins(t *testing.T) {
	tab := Builtins()
	env := &testEnv{}

	tests := []struct {
		name string
		args []value.Scalar
		want value.Scalar
	}{
		{"sqrt", []value.Scalar{value.DoubleScalar(16)}, value.DoubleScalar(4)},
		{"pow", []value.Scalar{value.DoubleScalar(2), value.DoubleScalar(10)}, value.DoubleScalar(1024)},
		{"fabs", []value.Scalar{value.DoubleScalar(-2.5)}, value.DoubleScalar(2.5)},
		{"abs", []value.Scalar{value.IntScalar(-7)}, value.IntScalar(7)},
		{"strlen", []value.Scalar{value.StringScalar("hello")}, value.IntScalar(5)},
		{"strcat", []value.Scalar{value.StringScalar("ab"), value.StringScalar("cd")}, value.StringScalar("abcd")},
		{"substr", []value.Scalar{value.StringScalar("hello"), value.IntScalar(1), value.IntScalar(3)}, value.StringScalar("ell")},
		{"substr", []value.Scalar{value.StringScalar("hello"), value.IntScalar(3), value.IntScalar(10)}, value.StringScalar("lo")},
		{"itos", []value.Scalar{value.IntScalar(-12)}, value.StringScalar("-12")},
	}
	for _, tt := range tests {
		sym, ok := tab.Resolve(tt.name)
		if !ok {
			t.Fatalf("builtin %s missing", tt.name)
		}
		got, err := sym.Call(env, tt.args)
		if err != nil {
			t.Errorf("%s%v failed: %v", tt.name, tt.args, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s%v = %+v, want %+v", tt.name, tt.args, got, tt.want)
		}
	}

	cos, _ := tab.Resolve("cos")
	if got, _ := cos.Call(env, []value.Scalar{value.DoubleScalar(0)}); math.Abs(got.Double-1) > 1e-12 {
		t.Errorf("cos(0) = %v", got.Double)
	}

	substr, _ := tab.Resolve("substr")
	if _, err := substr.Call(env, []value.Scalar{value.StringScalar("abc"), value.IntScalar(5), value.IntScalar(1)}); err == nil {
		t.Error("substr out of range should fail")
	}
}

func TestPutsWritesToEnv(t *testing.T) {
	env := &testEnv{}
	puts, _ := Builtins().Resolve("puts")
	ret, err := puts.Call(env, []value.Scalar{value.StringScalar("hi")})
	if err != nil {
		t.Fatalf("puts failed: %v", err)
	}
	if ret.Type != value.Void {
		t.Errorf("puts returned %s", ret.Type)
	}
	if env.out.String() != "hi\n" {
		t.Errorf("output = %q", env.out.String())
	}
}

func TestWithoutAndNames(t *testing.T) {
	tab := Builtins().Without("puts", "sqrt")
	if _, ok := tab.Resolve("puts"); ok {
		t.Error("puts should be removed")
	}
	names := strings.Join(tab.Names(), ",")
	if !strings.HasPrefix(names, "abs,cos,exp") {
		t.Errorf("Names() = %s", names)
	}
	if strings.Contains(names, "sqrt") {
		t.Errorf("Names() still lists sqrt: %s", names)
	}
}
