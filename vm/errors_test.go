package vm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/mathvm/compiler"
	"github.com/chazu/mathvm/pkg/ast"
	"github.com/chazu/mathvm/pkg/bytecode"
	"github.com/chazu/mathvm/pkg/native"
	"github.com/chazu/mathvm/pkg/value"
)

// handBuilt returns a program whose top-level function is the code
// written by emit. The program is not verified.
func handBuilt(locals []value.Type, emit func(b *bytecode.Buffer)) *bytecode.Program {
	p := bytecode.NewProgram()
	top := &bytecode.Function{Name: ast.TopName, Parent: bytecode.NoParent}
	for i, t := range locals {
		top.AddLocal(fmt.Sprintf("v%d", i), t)
	}
	p.AddFunction(top)
	emit(top.Code)
	return p
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name   string
		emit   func(b *bytecode.Buffer)
		locals []value.Type
		want   error
	}{
		{"underflow", func(b *bytecode.Buffer) {
			b.Emit(bytecode.OpIAdd)
			b.Emit(bytecode.OpStop)
		}, nil, ErrStackUnderflow},
		{"operand tags", func(b *bytecode.Buffer) {
			b.Emit(bytecode.OpDLoad1)
			b.Emit(bytecode.OpILoad1)
			b.Emit(bytecode.OpIAdd)
			b.Emit(bytecode.OpStop)
		}, nil, ErrTypeMismatch},
		{"store tag", func(b *bytecode.Buffer) {
			b.Emit(bytecode.OpDLoad1)
			b.Emit(bytecode.OpStoreIVar0)
			b.Emit(bytecode.OpStop)
		}, []value.Type{value.Int}, ErrTypeMismatch},
		{"load tag", func(b *bytecode.Buffer) {
			b.Emit(bytecode.OpLoadIVar0)
			b.Emit(bytecode.OpStop)
		}, []value.Type{value.Double}, ErrTypeMismatch},
		{"invalid", func(b *bytecode.Buffer) {
			b.Emit(bytecode.OpInvalid)
		}, nil, ErrInvalidOpcode},
		{"unassigned opcode", func(b *bytecode.Buffer) {
			b.Emit(bytecode.Opcode(0xFF))
		}, nil, ErrInvalidOpcode},
		{"bad context", func(b *bytecode.Buffer) {
			b.EmitU16Pair(bytecode.OpLoadCtxIVar, 3, 0)
			b.Emit(bytecode.OpStop)
		}, nil, ErrBadContext},
		{"slot out of range", func(b *bytecode.Buffer) {
			b.EmitU16(bytecode.OpLoadIVar, 9)
			b.Emit(bytecode.OpStop)
		}, []value.Type{value.Int}, ErrBadOperand},
		{"runs off the end", func(b *bytecode.Buffer) {
			b.Emit(bytecode.OpILoad1)
		}, nil, ErrBadOperand},
		{"unknown function", func(b *bytecode.Buffer) {
			b.EmitU16(bytecode.OpCall, 7)
			b.Emit(bytecode.OpStop)
		}, nil, ErrBadOperand},
		{"unknown constant", func(b *bytecode.Buffer) {
			b.EmitU16(bytecode.OpSLoad, 40)
			b.Emit(bytecode.OpStop)
		}, nil, ErrBadOperand},
		{"modulo by zero", func(b *bytecode.Buffer) {
			b.Emit(bytecode.OpILoad0)
			b.EmitInt(5)
			b.Emit(bytecode.OpIMod)
			b.Emit(bytecode.OpStop)
		}, nil, ErrDivisionByZero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runProgram(t, handBuilt(tt.locals, tt.emit))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var re *RuntimeError
			if !errors.As(err, &re) || re.Func != ast.TopName {
				t.Errorf("error not located: %#v", err)
			}
		})
	}
}

func TestDoubleDivisionByZeroIsNotAnError(t *testing.T) {
	top := ast.Program(program(
		ast.PrintOf(ast.Bin(ast.OpDiv, ast.Double(1), ast.Double(0))),
	))
	if got := mustRun(t, top); got != "+Inf" {
		t.Errorf("output = %q, want +Inf", got)
	}
}

func TestFrameLimit(t *testing.T) {
	loop := ast.Func("loop", value.Void, nil, ast.NewBlock(ast.Eval(ast.CallFn("loop"))))
	prog := translate(t, ast.Program(program(ast.Eval(ast.CallFn("loop"))).Define(loop)))

	_, err := runProgram(t, prog, WithMaxFrames(50))
	if !errors.Is(err, ErrFrameLimit) {
		t.Fatalf("err = %v, want frame limit", err)
	}
	var re *RuntimeError
	if errors.As(err, &re) && re.Func != "loop" {
		t.Errorf("failed in %s, want loop", re.Func)
	}
}

func TestCanceledContextStopsLoop(t *testing.T) {
	prog := translate(t, ast.Program(program(ast.WhileLoop(ast.Int(1), ast.NewBlock()))))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(prog, WithOutput(&bytes.Buffer{})).Run(ctx)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err does not wrap context.Canceled: %v", err)
	}
}

func TestNativeErrors(t *testing.T) {
	substr := ast.Func("substr", value.String,
		[]*ast.Var{ast.V("s", value.String), ast.V("from", value.Int), ast.V("n", value.Int)},
		ast.NewBlock(ast.Native("substr")))
	sqrt := ast.Func("sqrt", value.Double, []*ast.Var{ast.V("x", value.Double)}, ast.NewBlock(ast.Native("sqrt")))

	t.Run("native reports failure", func(t *testing.T) {
		prog := translate(t, ast.Program(program(
			ast.PrintOf(ast.CallFn("substr", ast.Str("abc"), ast.Int(1), ast.Int(5))),
			ast.Eval(ast.CallFn("substr", ast.Str("abc"), ast.Int(9), ast.Int(1))),
		).Define(substr)))
		out, err := runProgram(t, prog)
		if !errors.Is(err, ErrNativeFailed) {
			t.Fatalf("err = %v, want native failure", err)
		}
		if out != "bc" {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("missing at bind time", func(t *testing.T) {
		prog := translate(t, ast.Program(program(ast.PrintOf(ast.CallFn("sqrt", ast.Int(4)))).Define(sqrt)))
		out, err := runProgram(t, prog, WithNatives(native.Builtins().Without("sqrt")))
		if !errors.Is(err, ErrNativeFailed) || !strings.Contains(err.Error(), "not available") {
			t.Fatalf("err = %v", err)
		}
		if out != "" {
			t.Errorf("program ran: %q", out)
		}
	})

	t.Run("signature changed", func(t *testing.T) {
		custom := native.NewTable()
		if err := custom.Register(native.Symbol{
			Name:      "sqrt",
			Signature: value.Signature{Return: value.Double, Params: []value.Type{value.Double}},
			Func: func(_ native.Env, args []value.Scalar) (value.Scalar, error) {
				return value.DoubleScalar(args[0].Double), nil
			},
		}); err != nil {
			t.Fatal(err)
		}
		isqrt := ast.Func("sqrt", value.Int, intParam("x"), ast.NewBlock(ast.Native("sqrt")))
		bad := native.NewTable()
		bad.Register(native.Symbol{
			Name:      "sqrt",
			Signature: value.Signature{Return: value.Int, Params: []value.Type{value.Int}},
			Func: func(_ native.Env, args []value.Scalar) (value.Scalar, error) {
				return args[0], nil
			},
		})
		prog, err := compiler.Translate(ast.Program(program(ast.PrintOf(ast.CallFn("sqrt", ast.Int(4)))).Define(isqrt)),
			compiler.WithNatives(bad))
		if err != nil {
			t.Fatal(err)
		}
		_, err = runProgram(t, prog, WithNatives(custom))
		if !errors.Is(err, ErrNativeFailed) || !strings.Contains(err.Error(), "program expects int(int)") {
			t.Fatalf("err = %v", err)
		}
	})
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestOutputFailure(t *testing.T) {
	prog := translate(t, ast.Program(program(ast.PrintOf(ast.Str("hello")))))
	err := New(prog, WithOutput(brokenWriter{})).Run(context.Background())
	if !errors.Is(err, ErrOutputFailed) {
		t.Fatalf("err = %v, want output failure", err)
	}
}

func TestDump(t *testing.T) {
	prog := handBuilt(nil, func(b *bytecode.Buffer) {
		b.EmitInt(7)
		b.Emit(bytecode.OpDump)
		b.Emit(bytecode.OpIPrint)
		b.Emit(bytecode.OpDLoad1)
		b.Emit(bytecode.OpDump)
		b.Emit(bytecode.OpPop)
		b.Emit(bytecode.OpBreak)
		b.Emit(bytecode.OpStop)
	})
	out, err := runProgram(t, prog)
	if err != nil {
		t.Fatal(err)
	}
	if out != "7\n71\n" {
		t.Errorf("output = %q", out)
	}
}

func TestDumpEmptyStack(t *testing.T) {
	prog := handBuilt(nil, func(b *bytecode.Buffer) {
		b.Emit(bytecode.OpDump)
	})
	if _, err := runProgram(t, prog); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("err = %v", err)
	}
}

func TestRuntimeErrorMessage(t *testing.T) {
	err := &RuntimeError{Func: "f", Offset: 0x12, Op: bytecode.OpIDiv, Kind: DivisionByZero, Msg: "integer division by zero"}
	want := "runtime error in f at 0012 (IDIV): integer division by zero"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if errors.Is(err, ErrTypeMismatch) {
		t.Error("kinds should not match across")
	}
	if DivisionByZero.String() != "division by zero" || Kind(99).String() != "Kind(99)" {
		t.Error("kind names")
	}
}

func TestConcurrentVMsShareProgram(t *testing.T) {
	fib := ast.Func("fib", value.Int, intParam("n"), ast.NewBlock(
		ast.IfElse(ast.Bin(ast.OpLt, ast.Ref("n"), ast.Int(2)), ast.NewBlock(ast.Ret(ast.Ref("n"))), nil),
		ast.Ret(ast.Bin(ast.OpAdd,
			ast.CallFn("fib", ast.Bin(ast.OpSub, ast.Ref("n"), ast.Int(1))),
			ast.CallFn("fib", ast.Bin(ast.OpSub, ast.Ref("n"), ast.Int(2))))),
	))
	itos := ast.Func("itos", value.String, intParam("n"), ast.NewBlock(ast.Native("itos")))
	prog := translate(t, ast.Program(program(
		ast.Assign("s", ast.CallFn("itos", ast.CallFn("fib", ast.Ref("n")))),
		ast.PrintOf(ast.Ref("s")),
	).Declare(ast.V("n", value.Int), ast.V("s", value.String)).Define(fib, itos)))

	const workers = 8
	outs := make([]bytes.Buffer, workers)
	results := make([]map[string]value.Scalar, workers)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		results[i] = map[string]value.Scalar{"n": value.IntScalar(int64(10 + i)), "s": value.StringScalar("")}
		g.Go(func() error {
			return New(prog, WithOutput(&outs[i])).Execute(ctx, results[i])
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	fibs := []int64{55, 89, 144, 233, 377, 610, 987, 1597}
	for i := range outs {
		want := fmt.Sprint(fibs[i])
		if outs[i].String() != want || results[i]["s"].Str != want {
			t.Errorf("worker %d: output %q binding %q, want %s", i, outs[i].String(), results[i]["s"].Str, want)
		}
	}
	if len(prog.Constants) != 1 {
		t.Errorf("execution grew the constant pool: %q", prog.Constants)
	}
}

func TestTraceDoesNotChangeOutput(t *testing.T) {
	prog := translate(t, ast.Program(program(
		ast.ForRange("i", ast.Int(1), ast.Int(3), ast.NewBlock(ast.PrintOf(ast.Ref("i")))),
	).Declare(ast.V("i", value.Int))))
	out, err := runProgram(t, prog, WithTrace(true))
	if err != nil || out != "123" {
		t.Errorf("traced run = %q, %v", out, err)
	}
}
