package ast

import "github.com/chazu/mathvm/pkg/value"

// Constructors for assembling trees in code. Nodes built this way carry a
// zero Span.

// Int returns an int literal.
func Int(v int64) *IntLiteral { return &IntLiteral{Value: v} }

// Double returns a double literal.
func Double(v float64) *DoubleLiteral { return &DoubleLiteral{Value: v} }

// Str returns a string literal.
func Str(v string) *StringLiteral { return &StringLiteral{Value: v} }

// Ref returns a variable load.
func Ref(name string) *Load { return &Load{Name: name} }

// Bin returns a binary operation.
func Bin(op Operator, l, r Expr) *Binary { return &Binary{Op: op, Left: l, Right: r} }

// Not returns !x.
func Not(x Expr) *Unary { return &Unary{Op: OpNot, Operand: x} }

// Neg returns -x.
func Neg(x Expr) *Unary { return &Unary{Op: OpNeg, Operand: x} }

// CallFn returns a call expression.
func CallFn(name string, args ...Expr) *Call { return &Call{Name: name, Args: args} }

// Assign returns name = x.
func Assign(name string, x Expr) *Store { return &Store{Name: name, Op: OpAssign, Value: x} }

// IncrSet returns name += x.
func IncrSet(name string, x Expr) *Store { return &Store{Name: name, Op: OpIncrSet, Value: x} }

// DecrSet returns name -= x.
func DecrSet(name string, x Expr) *Store { return &Store{Name: name, Op: OpDecrSet, Value: x} }

// Eval returns an expression statement.
func Eval(x Expr) *ExprStmt { return &ExprStmt{X: x} }

// PrintOf returns a print statement.
func PrintOf(xs ...Expr) *Print { return &Print{Operands: xs} }

// IfElse returns an if statement; els may be nil.
func IfElse(cond Expr, then, els *Block) *If { return &If{Cond: cond, Then: then, Else: els} }

// WhileLoop returns a while statement.
func WhileLoop(cond Expr, body *Block) *While { return &While{Cond: cond, Body: body} }

// ForRange returns for (v in lo..hi) body.
func ForRange(v string, lo, hi Expr, body *Block) *For {
	return &For{Var: v, In: Bin(OpRange, lo, hi), Body: body}
}

// Ret returns a return statement; x may be nil.
func Ret(x Expr) *Return { return &Return{Value: x} }

// Native returns a native-call marker.
func Native(symbol string) *NativeCall { return &NativeCall{Symbol: symbol} }

// V declares a variable.
func V(name string, t value.Type) *Var { return &Var{Name: name, Type: t} }

// NewBlock returns a block with an empty scope.
func NewBlock(stmts ...Stmt) *Block {
	return &Block{Scope: &Scope{}, Stmts: stmts}
}

// Declare adds variables to the block's scope and returns the block.
func (n *Block) Declare(vars ...*Var) *Block {
	n.Scope.Vars = append(n.Scope.Vars, vars...)
	return n
}

// Define adds functions to the block's scope and returns the block.
func (n *Block) Define(funcs ...*Function) *Block {
	n.Scope.Funcs = append(n.Scope.Funcs, funcs...)
	return n
}

// Func returns a function declaration.
func Func(name string, ret value.Type, params []*Var, body *Block) *Function {
	return &Function{Name: name, ReturnType: ret, Params: params, Body: body}
}

// Program wraps a block as the top-level function.
func Program(body *Block) *Function {
	return &Function{Name: TopName, ReturnType: value.Void, Body: body}
}
