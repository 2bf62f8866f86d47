package value

import "testing"

func TestTypeString(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{Invalid, "invalid"},
		{Void, "void"},
		{Int, "int"},
		{Double, "double"},
		{String, "string"},
		{Type(42), "Type(42)"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("Type(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestParseType(t *testing.T) {
	for _, typ := range []Type{Void, Int, Double, String} {
		got, ok := ParseType(typ.String())
		if !ok || got != typ {
			t.Errorf("ParseType(%q) = %v, %v", typ.String(), got, ok)
		}
	}
	if _, ok := ParseType("invalid"); ok {
		t.Error("ParseType(invalid) should fail")
	}
	if _, ok := ParseType("bool"); ok {
		t.Error("ParseType(bool) should fail")
	}
}

func TestValueAccessors(t *testing.T) {
	if v := MakeInt(-7); v.Type() != Int || v.AsInt() != -7 {
		t.Errorf("MakeInt(-7) = %v", v)
	}
	if v := MakeDouble(2.5); v.Type() != Double || v.AsDouble() != 2.5 {
		t.Errorf("MakeDouble(2.5) = %v", v)
	}
	if v := MakeRef(70000); v.Type() != String || v.AsRef() != 70000 {
		t.Errorf("MakeRef(70000) = %v", v)
	}
	var zero Value
	if zero.Type() != Invalid {
		t.Errorf("zero Value type = %v, want invalid", zero.Type())
	}
}

func TestFormatDouble(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{3, "3"},
		{0.5, "0.5"},
		{-1.25, "-1.25"},
		{1e6, "1e+06"},
		{123456, "123456"},
		{1.0 / 3.0, "0.333333"},
	}
	for _, tt := range tests {
		if got := FormatDouble(tt.in); got != tt.want {
			t.Errorf("FormatDouble(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScalarString(t *testing.T) {
	tests := []struct {
		s    Scalar
		want string
	}{
		{IntScalar(120), "120"},
		{DoubleScalar(3), "3"},
		{StringScalar("hi"), "hi"},
		{VoidScalar, ""},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("%#v.String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestSignature(t *testing.T) {
	a := Signature{Return: Double, Params: []Type{Double, Int}}
	b := Signature{Return: Double, Params: []Type{Double, Int}}
	c := Signature{Return: Double, Params: []Type{Double}}
	if !a.Equal(b) {
		t.Error("identical signatures should be equal")
	}
	if a.Equal(c) {
		t.Error("signatures with different arity should differ")
	}
	if got := a.String(); got != "double(double, int)" {
		t.Errorf("String() = %q", got)
	}
}
