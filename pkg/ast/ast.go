// Package ast defines the syntax tree consumed by the mathvm translator.
// Trees are produced by an external parser, decoded from YAML documents
// (see Decode), or assembled directly with the constructors in build.go.
package ast

import (
	"fmt"

	"github.com/chazu/mathvm/pkg/value"
)

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// Operator is a binary, unary or assignment operator, spelled as in source.
type Operator string

const (
	OpAdd Operator = "+"
	OpSub Operator = "-"
	OpMul Operator = "*"
	OpDiv Operator = "/"
	OpMod Operator = "%"

	OpAAnd Operator = "&"
	OpAOr  Operator = "|"
	OpAXor Operator = "^"

	OpAnd Operator = "&&"
	OpOr  Operator = "||"

	OpEq Operator = "=="
	OpNe Operator = "!="
	OpLt Operator = "<"
	OpLe Operator = "<="
	OpGt Operator = ">"
	OpGe Operator = ">="

	OpRange Operator = ".."

	OpNot Operator = "!"
	OpNeg Operator = "-"

	OpAssign  Operator = "="
	OpIncrSet Operator = "+="
	OpDecrSet Operator = "-="
)

// IsComparison reports whether op is one of == != < <= > >=.
func (op Operator) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// IsLogical reports whether op is && or ||.
func (op Operator) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

// IsBitwise reports whether op is & | ^.
func (op Operator) IsBitwise() bool {
	return op == OpAAnd || op == OpAOr || op == OpAXor
}

// IsArithmetic reports whether op is + - * / %.
func (op Operator) IsArithmetic() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// Var is a declared variable or parameter.
type Var struct {
	SpanVal Span
	Name    string
	Type    value.Type
}

func (n *Var) Span() Span { return n.SpanVal }
func (n *Var) node()      {}

// Scope holds the declarations of one block.
type Scope struct {
	Vars  []*Var
	Funcs []*Function
}

// Var returns the variable declared directly in s with the given name.
func (s *Scope) Var(name string) *Var {
	for _, v := range s.Vars {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Func returns the function declared directly in s with the given name.
func (s *Scope) Func(name string) *Function {
	for _, f := range s.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Function is a function declaration. The top-level program is a Function
// named TopName with void return type and no parameters.
type Function struct {
	SpanVal    Span
	Name       string
	ReturnType value.Type
	Params     []*Var
	Body       *Block
}

// TopName is the name of the implicit top-level function.
const TopName = "<top>"

func (n *Function) Span() Span { return n.SpanVal }
func (n *Function) node()      {}

// Signature returns the declared signature.
func (n *Function) Signature() value.Signature {
	sig := value.Signature{Return: n.ReturnType, Params: make([]value.Type, len(n.Params))}
	for i, p := range n.Params {
		sig.Params[i] = p.Type
	}
	return sig
}

// IsNative reports whether the body is a native-call marker.
func (n *Function) IsNative() (*NativeCall, bool) {
	if n.Body == nil || len(n.Body.Stmts) == 0 {
		return nil, false
	}
	nc, ok := n.Body.Stmts[0].(*NativeCall)
	return nc, ok
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// IntLiteral represents an integer literal.
type IntLiteral struct {
	SpanVal Span
	Value   int64
}

func (n *IntLiteral) Span() Span { return n.SpanVal }
func (n *IntLiteral) node()      {}
func (n *IntLiteral) expr()      {}

// DoubleLiteral represents a floating-point literal.
type DoubleLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *DoubleLiteral) Span() Span { return n.SpanVal }
func (n *DoubleLiteral) node()      {}
func (n *DoubleLiteral) expr()      {}

// StringLiteral represents a string literal.
type StringLiteral struct {
	SpanVal Span
	Value   string
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// Load reads a variable.
type Load struct {
	SpanVal Span
	Name    string
}

func (n *Load) Span() Span { return n.SpanVal }
func (n *Load) node()      {}
func (n *Load) expr()      {}

// Binary is a binary operation.
type Binary struct {
	SpanVal Span
	Op      Operator
	Left    Expr
	Right   Expr
}

func (n *Binary) Span() Span { return n.SpanVal }
func (n *Binary) node()      {}
func (n *Binary) expr()      {}

// Unary is a unary operation (- or !).
type Unary struct {
	SpanVal Span
	Op      Operator
	Operand Expr
}

func (n *Unary) Span() Span { return n.SpanVal }
func (n *Unary) node()      {}
func (n *Unary) expr()      {}

// Call invokes a declared function.
type Call struct {
	SpanVal Span
	Name    string
	Args    []Expr
}

func (n *Call) Span() Span { return n.SpanVal }
func (n *Call) node()      {}
func (n *Call) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Store assigns to a variable with =, += or -=.
type Store struct {
	SpanVal Span
	Name    string
	Op      Operator
	Value   Expr
}

func (n *Store) Span() Span { return n.SpanVal }
func (n *Store) node()      {}
func (n *Store) stmt()      {}

// ExprStmt evaluates an expression for its side effects.
type ExprStmt struct {
	SpanVal Span
	X       Expr
}

func (n *ExprStmt) Span() Span { return n.SpanVal }
func (n *ExprStmt) node()      {}
func (n *ExprStmt) stmt()      {}

// Print writes each operand in order, without separators.
type Print struct {
	SpanVal  Span
	Operands []Expr
}

func (n *Print) Span() Span { return n.SpanVal }
func (n *Print) node()      {}
func (n *Print) stmt()      {}

// If is a conditional. Else may be nil.
type If struct {
	SpanVal Span
	Cond    Expr
	Then    *Block
	Else    *Block
}

func (n *If) Span() Span { return n.SpanVal }
func (n *If) node()      {}
func (n *If) stmt()      {}

// While is a pre-tested loop.
type While struct {
	SpanVal Span
	Cond    Expr
	Body    *Block
}

func (n *While) Span() Span { return n.SpanVal }
func (n *While) node()      {}
func (n *While) stmt()      {}

// For iterates Var over an inclusive integer range. In must be a Binary
// with Op == OpRange.
type For struct {
	SpanVal Span
	Var     string
	In      Expr
	Body    *Block
}

func (n *For) Span() Span { return n.SpanVal }
func (n *For) node()      {}
func (n *For) stmt()      {}

// Block is a lexical scope with its statements.
type Block struct {
	SpanVal Span
	Scope   *Scope
	Stmts   []Stmt
}

func (n *Block) Span() Span { return n.SpanVal }
func (n *Block) node()      {}
func (n *Block) stmt()      {}

// Return leaves the enclosing function. Value is nil in void functions.
type Return struct {
	SpanVal Span
	Value   Expr
}

func (n *Return) Span() Span { return n.SpanVal }
func (n *Return) node()      {}
func (n *Return) stmt()      {}

// NativeCall marks a function body as a binding to a host function.
type NativeCall struct {
	SpanVal Span
	Symbol  string
}

func (n *NativeCall) Span() Span { return n.SpanVal }
func (n *NativeCall) node()      {}
func (n *NativeCall) stmt()      {}
