package ast

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/chazu/mathvm/pkg/value"
	"gopkg.in/yaml.v3"
)

// DecodeError reports a malformed AST document.
type DecodeError struct {
	Pos Position
	Msg string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// Decode reads an AST document. The document is a YAML mapping for the
// top-level block:
//
//	kind: block
//	vars:  [{name: i, type: int}]
//	funcs: [{name: f, return: int, params: [{name: n, type: int}], body: {kind: block, ...}}]
//	stmts: [{kind: print, operands: [{kind: load, name: i}]}]
//
// Every node is a mapping whose "kind" names the node type. Positions come
// from the YAML source.
func Decode(r io.Reader) (*Function, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &DecodeError{Pos: Position{Line: 1, Column: 1}, Msg: "empty document"}
		}
		return nil, fmt.Errorf("ast: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	body, err := decodeBlock(root)
	if err != nil {
		return nil, err
	}
	top := Program(body)
	top.SpanVal = body.SpanVal
	return top, nil
}

// ---------------------------------------------------------------------------
// Mapping helpers
// ---------------------------------------------------------------------------

type mapping struct {
	node   *yaml.Node
	fields map[string]*yaml.Node
}

func pos(n *yaml.Node) Position {
	return Position{Line: n.Line, Column: n.Column}
}

func span(n *yaml.Node) Span {
	p := pos(n)
	return Span{Start: p, End: p}
}

func fail(n *yaml.Node, format string, args ...any) error {
	return &DecodeError{Pos: pos(n), Msg: fmt.Sprintf(format, args...)}
}

func asMapping(n *yaml.Node) (*mapping, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fail(n, "expected a mapping")
	}
	m := &mapping{node: n, fields: make(map[string]*yaml.Node, len(n.Content)/2)}
	for i := 0; i+1 < len(n.Content); i += 2 {
		m.fields[n.Content[i].Value] = n.Content[i+1]
	}
	return m, nil
}

func (m *mapping) required(key string) (*yaml.Node, error) {
	n, ok := m.fields[key]
	if !ok {
		return nil, fail(m.node, "missing field %q", key)
	}
	return n, nil
}

func (m *mapping) str(key string) (string, error) {
	n, err := m.required(key)
	if err != nil {
		return "", err
	}
	if n.Kind != yaml.ScalarNode {
		return "", fail(n, "field %q must be a scalar", key)
	}
	return n.Value, nil
}

func (m *mapping) typ(key string) (value.Type, error) {
	name, err := m.str(key)
	if err != nil {
		return value.Invalid, err
	}
	t, ok := value.ParseType(name)
	if !ok {
		return value.Invalid, fail(m.fields[key], "unknown type %q", name)
	}
	return t, nil
}

func (m *mapping) list(key string) ([]*yaml.Node, error) {
	n, ok := m.fields[key]
	if !ok {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, fail(n, "field %q must be a list", key)
	}
	return n.Content, nil
}

func (m *mapping) kind() (string, error) {
	return m.str("kind")
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func decodeVar(n *yaml.Node) (*Var, error) {
	m, err := asMapping(n)
	if err != nil {
		return nil, err
	}
	name, err := m.str("name")
	if err != nil {
		return nil, err
	}
	t, err := m.typ("type")
	if err != nil {
		return nil, err
	}
	return &Var{SpanVal: span(n), Name: name, Type: t}, nil
}

func decodeFunction(n *yaml.Node) (*Function, error) {
	m, err := asMapping(n)
	if err != nil {
		return nil, err
	}
	name, err := m.str("name")
	if err != nil {
		return nil, err
	}
	ret, err := m.typ("return")
	if err != nil {
		return nil, err
	}
	f := &Function{SpanVal: span(n), Name: name, ReturnType: ret}

	params, err := m.list("params")
	if err != nil {
		return nil, err
	}
	for _, pn := range params {
		p, err := decodeVar(pn)
		if err != nil {
			return nil, err
		}
		f.Params = append(f.Params, p)
	}

	bn, err := m.required("body")
	if err != nil {
		return nil, err
	}
	if f.Body, err = decodeBlock(bn); err != nil {
		return nil, err
	}
	return f, nil
}

func decodeBlock(n *yaml.Node) (*Block, error) {
	m, err := asMapping(n)
	if err != nil {
		return nil, err
	}
	if k, ok := m.fields["kind"]; ok && k.Value != "block" {
		return nil, fail(k, "expected a block, got %q", k.Value)
	}
	b := &Block{SpanVal: span(n), Scope: &Scope{}}

	vars, err := m.list("vars")
	if err != nil {
		return nil, err
	}
	for _, vn := range vars {
		v, err := decodeVar(vn)
		if err != nil {
			return nil, err
		}
		b.Scope.Vars = append(b.Scope.Vars, v)
	}

	funcs, err := m.list("funcs")
	if err != nil {
		return nil, err
	}
	for _, fn := range funcs {
		f, err := decodeFunction(fn)
		if err != nil {
			return nil, err
		}
		b.Scope.Funcs = append(b.Scope.Funcs, f)
	}

	stmts, err := m.list("stmts")
	if err != nil {
		return nil, err
	}
	for _, sn := range stmts {
		s, err := decodeStmt(sn)
		if err != nil {
			return nil, err
		}
		b.Stmts = append(b.Stmts, s)
	}
	return b, nil
}

func decodeOptionalBlock(m *mapping, key string) (*Block, error) {
	n, ok := m.fields[key]
	if !ok {
		return nil, nil
	}
	return decodeBlock(n)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func decodeStmt(n *yaml.Node) (Stmt, error) {
	m, err := asMapping(n)
	if err != nil {
		return nil, err
	}
	kind, err := m.kind()
	if err != nil {
		return nil, err
	}
	sp := span(n)

	switch kind {
	case "block":
		return decodeBlock(n)

	case "store":
		name, err := m.str("name")
		if err != nil {
			return nil, err
		}
		op := OpAssign
		if on, ok := m.fields["op"]; ok {
			op = Operator(on.Value)
			if op != OpAssign && op != OpIncrSet && op != OpDecrSet {
				return nil, fail(on, "unknown assignment operator %q", on.Value)
			}
		}
		x, err := m.expr("value")
		if err != nil {
			return nil, err
		}
		return &Store{SpanVal: sp, Name: name, Op: op, Value: x}, nil

	case "expr":
		x, err := m.expr("x")
		if err != nil {
			return nil, err
		}
		return &ExprStmt{SpanVal: sp, X: x}, nil

	case "print":
		xs, err := m.exprs("operands")
		if err != nil {
			return nil, err
		}
		return &Print{SpanVal: sp, Operands: xs}, nil

	case "if":
		cond, err := m.expr("cond")
		if err != nil {
			return nil, err
		}
		tn, err := m.required("then")
		if err != nil {
			return nil, err
		}
		then, err := decodeBlock(tn)
		if err != nil {
			return nil, err
		}
		els, err := decodeOptionalBlock(m, "else")
		if err != nil {
			return nil, err
		}
		return &If{SpanVal: sp, Cond: cond, Then: then, Else: els}, nil

	case "while":
		cond, err := m.expr("cond")
		if err != nil {
			return nil, err
		}
		bn, err := m.required("body")
		if err != nil {
			return nil, err
		}
		body, err := decodeBlock(bn)
		if err != nil {
			return nil, err
		}
		return &While{SpanVal: sp, Cond: cond, Body: body}, nil

	case "for":
		v, err := m.str("var")
		if err != nil {
			return nil, err
		}
		in, err := m.expr("in")
		if err != nil {
			return nil, err
		}
		bn, err := m.required("body")
		if err != nil {
			return nil, err
		}
		body, err := decodeBlock(bn)
		if err != nil {
			return nil, err
		}
		return &For{SpanVal: sp, Var: v, In: in, Body: body}, nil

	case "return":
		ret := &Return{SpanVal: sp}
		if _, ok := m.fields["value"]; ok {
			if ret.Value, err = m.expr("value"); err != nil {
				return nil, err
			}
		}
		return ret, nil

	case "native":
		sym, err := m.str("symbol")
		if err != nil {
			return nil, err
		}
		return &NativeCall{SpanVal: sp, Symbol: sym}, nil
	}
	return nil, fail(n, "unknown statement kind %q", kind)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (m *mapping) expr(key string) (Expr, error) {
	n, err := m.required(key)
	if err != nil {
		return nil, err
	}
	return decodeExpr(n)
}

func (m *mapping) exprs(key string) ([]Expr, error) {
	ns, err := m.list(key)
	if err != nil {
		return nil, err
	}
	out := make([]Expr, 0, len(ns))
	for _, n := range ns {
		x, err := decodeExpr(n)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}

func decodeExpr(n *yaml.Node) (Expr, error) {
	m, err := asMapping(n)
	if err != nil {
		return nil, err
	}
	kind, err := m.kind()
	if err != nil {
		return nil, err
	}
	sp := span(n)

	switch kind {
	case "int":
		s, err := m.str("value")
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return nil, fail(m.fields["value"], "bad int literal %q", s)
		}
		return &IntLiteral{SpanVal: sp, Value: v}, nil

	case "double":
		s, err := m.str("value")
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fail(m.fields["value"], "bad double literal %q", s)
		}
		return &DoubleLiteral{SpanVal: sp, Value: v}, nil

	case "string":
		s, err := m.str("value")
		if err != nil {
			return nil, err
		}
		return &StringLiteral{SpanVal: sp, Value: s}, nil

	case "load":
		name, err := m.str("name")
		if err != nil {
			return nil, err
		}
		return &Load{SpanVal: sp, Name: name}, nil

	case "binary":
		op, err := m.str("op")
		if err != nil {
			return nil, err
		}
		switch o := Operator(op); {
		case o.IsArithmetic(), o.IsBitwise(), o.IsLogical(), o.IsComparison(), o == OpRange:
		default:
			return nil, fail(m.fields["op"], "unknown binary operator %q", op)
		}
		l, err := m.expr("left")
		if err != nil {
			return nil, err
		}
		r, err := m.expr("right")
		if err != nil {
			return nil, err
		}
		return &Binary{SpanVal: sp, Op: Operator(op), Left: l, Right: r}, nil

	case "unary":
		op, err := m.str("op")
		if err != nil {
			return nil, err
		}
		if Operator(op) != OpNot && Operator(op) != OpNeg {
			return nil, fail(m.fields["op"], "unknown unary operator %q", op)
		}
		x, err := m.expr("operand")
		if err != nil {
			return nil, err
		}
		return &Unary{SpanVal: sp, Op: Operator(op), Operand: x}, nil

	case "call":
		name, err := m.str("name")
		if err != nil {
			return nil, err
		}
		args, err := m.exprs("args")
		if err != nil {
			return nil, err
		}
		return &Call{SpanVal: sp, Name: name, Args: args}, nil
	}
	return nil, fail(n, "unknown expression kind %q", kind)
}
