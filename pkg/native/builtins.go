package native

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/chazu/mathvm/pkg/value"
)

var (
	dd  = value.Signature{Return: value.Double, Params: []value.Type{value.Double}}
	ddd = value.Signature{Return: value.Double, Params: []value.Type{value.Double, value.Double}}
)

func mathFunc(name string, fn func(float64) float64) Symbol {
	return Symbol{Name: name, Signature: dd, Func: func(_ Env, args []value.Scalar) (value.Scalar, error) {
		return value.DoubleScalar(fn(args[0].Double)), nil
	}}
}

// Builtins returns a fresh table holding the standard natives.
func Builtins() *Table {
	t := NewTable()
	for _, s := range builtinSymbols() {
		if err := t.Register(s); err != nil {
			panic(err)
		}
	}
	return t
}

func builtinSymbols() []Symbol {
	return []Symbol{
		mathFunc("sqrt", math.Sqrt),
		mathFunc("sin", math.Sin),
		mathFunc("cos", math.Cos),
		mathFunc("exp", math.Exp),
		mathFunc("log", math.Log),
		mathFunc("fabs", math.Abs),
		{Name: "pow", Signature: ddd, Func: func(_ Env, args []value.Scalar) (value.Scalar, error) {
			return value.DoubleScalar(math.Pow(args[0].Double, args[1].Double)), nil
		}},
		{
			Name:      "abs",
			Signature: value.Signature{Return: value.Int, Params: []value.Type{value.Int}},
			Func: func(_ Env, args []value.Scalar) (value.Scalar, error) {
				n := args[0].Int
				if n < 0 {
					n = -n
				}
				return value.IntScalar(n), nil
			},
		},
		{
			Name:      "strlen",
			Signature: value.Signature{Return: value.Int, Params: []value.Type{value.String}},
			Func: func(_ Env, args []value.Scalar) (value.Scalar, error) {
				return value.IntScalar(int64(len(args[0].Str))), nil
			},
		},
		{
			Name:      "strcat",
			Signature: value.Signature{Return: value.String, Params: []value.Type{value.String, value.String}},
			Func: func(_ Env, args []value.Scalar) (value.Scalar, error) {
				return value.StringScalar(args[0].Str + args[1].Str), nil
			},
		},
		{
			Name:      "substr",
			Signature: value.Signature{Return: value.String, Params: []value.Type{value.String, value.Int, value.Int}},
			Func: func(_ Env, args []value.Scalar) (value.Scalar, error) {
				s, from, n := args[0].Str, args[1].Int, args[2].Int
				if from < 0 || n < 0 || from > int64(len(s)) {
					return value.Scalar{}, fmt.Errorf("range [%d, +%d) outside string of length %d", from, n, len(s))
				}
				end := from + n
				if end > int64(len(s)) {
					end = int64(len(s))
				}
				return value.StringScalar(s[from:end]), nil
			},
		},
		{
			Name:      "itos",
			Signature: value.Signature{Return: value.String, Params: []value.Type{value.Int}},
			Func: func(_ Env, args []value.Scalar) (value.Scalar, error) {
				return value.StringScalar(strconv.FormatInt(args[0].Int, 10)), nil
			},
		},
		{
			Name:      "puts",
			Signature: value.Signature{Return: value.Void, Params: []value.Type{value.String}},
			Func: func(env Env, args []value.Scalar) (value.Scalar, error) {
				if _, err := io.WriteString(env.Output(), args[0].Str+"\n"); err != nil {
					return value.Scalar{}, err
				}
				return value.VoidScalar, nil
			},
		},
	}
}
