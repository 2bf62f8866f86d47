// Package value defines the scalar values manipulated by the mathvm
// translator and virtual machine.
package value

import (
	"fmt"
	"strconv"
)

// Type is the static and dynamic type tag of a value.
type Type uint8

const (
	Invalid Type = iota // no known type yet; never a runtime value
	Void
	Int
	Double
	String
)

var typeNames = [...]string{
	Invalid: "invalid",
	Void:    "void",
	Int:     "int",
	Double:  "double",
	String:  "string",
}

// String returns the source-level name of the type.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// ParseType maps a source-level type name back to its Type.
func ParseType(name string) (Type, bool) {
	for i, n := range typeNames {
		if n == name && Type(i) != Invalid {
			return Type(i), true
		}
	}
	return Invalid, false
}

// IsNumeric reports whether t is Int or Double.
func (t Type) IsNumeric() bool {
	return t == Int || t == Double
}

// ---------------------------------------------------------------------------
// Value: tagged runtime scalar
// ---------------------------------------------------------------------------

// Value is a closed variant over Int, Double and a string reference.
// Strings are referenced by id into a string pool, never by pointer.
type Value struct {
	typ Type
	i   int64 // int payload, or string id
	d   float64
}

// MakeInt returns an Int value.
func MakeInt(n int64) Value { return Value{typ: Int, i: n} }

// MakeDouble returns a Double value.
func MakeDouble(f float64) Value { return Value{typ: Double, d: f} }

// MakeRef returns a String value referencing pool entry id.
func MakeRef(id uint32) Value { return Value{typ: String, i: int64(id)} }

// Type returns the value's tag. The zero Value is Invalid.
func (v Value) Type() Type { return v.typ }

// AsInt returns the int payload. Only meaningful for Int values.
func (v Value) AsInt() int64 { return v.i }

// AsDouble returns the double payload. Only meaningful for Double values.
func (v Value) AsDouble() float64 { return v.d }

// AsRef returns the string id. Only meaningful for String values.
func (v Value) AsRef() uint32 { return uint32(v.i) }

// String renders the value for traces. String values show their id.
func (v Value) String() string {
	switch v.typ {
	case Int:
		return strconv.FormatInt(v.i, 10)
	case Double:
		return FormatDouble(v.d)
	case String:
		return fmt.Sprintf("str#%d", v.i)
	default:
		return v.typ.String()
	}
}

// FormatDouble renders a double the way DPRINT does: %g with six
// significant digits.
func FormatDouble(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

// ---------------------------------------------------------------------------
// Scalar: pool-independent value
// ---------------------------------------------------------------------------

// Scalar is a value detached from any string pool. It is used at the
// native call boundary and for top-level variable bindings.
type Scalar struct {
	Type   Type
	Int    int64
	Double float64
	Str    string
}

// IntScalar returns an Int scalar.
func IntScalar(n int64) Scalar { return Scalar{Type: Int, Int: n} }

// DoubleScalar returns a Double scalar.
func DoubleScalar(f float64) Scalar { return Scalar{Type: Double, Double: f} }

// StringScalar returns a String scalar.
func StringScalar(s string) Scalar { return Scalar{Type: String, Str: s} }

// VoidScalar is the result of a native that returns nothing.
var VoidScalar = Scalar{Type: Void}

// String renders the scalar the way the PRINT family does.
func (s Scalar) String() string {
	switch s.Type {
	case Int:
		return strconv.FormatInt(s.Int, 10)
	case Double:
		return FormatDouble(s.Double)
	case String:
		return s.Str
	default:
		return ""
	}
}

// ---------------------------------------------------------------------------
// Signature
// ---------------------------------------------------------------------------

// Signature is a function's return type and ordered parameter types.
type Signature struct {
	Return Type
	Params []Type
}

// Equal reports whether two signatures are identical.
func (s Signature) Equal(o Signature) bool {
	if s.Return != o.Return || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

// String renders the signature as "ret(p1, p2)".
func (s Signature) String() string {
	out := s.Return.String() + "("
	for i, p := range s.Params {
		if i > 0 {
			out += ", "
		}
		out += p.String()
	}
	return out + ")"
}
