package compiler

import (
	"github.com/chazu/mathvm/pkg/ast"
	"github.com/chazu/mathvm/pkg/bytecode"
	"github.com/chazu/mathvm/pkg/value"
)

// varRef identifies a variable by its owning function and slot.
type varRef struct {
	owner uint16
	slot  uint16
	typ   value.Type
}

// funcRef is a registered function declaration.
type funcRef struct {
	decl *ast.Function
	desc *bytecode.Function
}

// scope is one level of the resolver's scope stack: either the parameter
// scope of a function or a block. Scopes belong to the function whose slot
// counter they allocate from.
type scope struct {
	parent *scope
	fn     *bytecode.Function
	vars   map[string]varRef
	funcs  map[string]funcRef
}

func newScope(parent *scope, fn *bytecode.Function) *scope {
	return &scope{
		parent: parent,
		fn:     fn,
		vars:   make(map[string]varRef),
		funcs:  make(map[string]funcRef),
	}
}

// declareVar allocates the next slot in the owning function.
func (s *scope) declareVar(v *ast.Var) (varRef, error) {
	if _, dup := s.vars[v.Name]; dup {
		return varRef{}, errorAt(v, DuplicateVariable, "variable %s already declared in this scope", v.Name)
	}
	switch v.Type {
	case value.Int, value.Double, value.String:
	default:
		return varRef{}, errorAt(v, TypeMismatch, "variable %s cannot have type %s", v.Name, v.Type)
	}
	slot, err := s.fn.AddLocal(v.Name, v.Type)
	if err != nil {
		return varRef{}, errorAt(v, Internal, "%v", err)
	}
	ref := varRef{owner: s.fn.ID, slot: slot, typ: v.Type}
	s.vars[v.Name] = ref
	return ref, nil
}

func (s *scope) declareFunc(decl *ast.Function, desc *bytecode.Function) error {
	if _, dup := s.funcs[decl.Name]; dup {
		return errorAt(decl, DuplicateFunction, "function %s already declared in this scope", decl.Name)
	}
	s.funcs[decl.Name] = funcRef{decl: decl, desc: desc}
	return nil
}

// lookupVar walks from the innermost scope outwards. The first scope that
// declares the name wins.
func (s *scope) lookupVar(name string) (varRef, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if ref, ok := sc.vars[name]; ok {
			return ref, true
		}
	}
	return varRef{}, false
}

func (s *scope) lookupFunc(name string) (funcRef, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if ref, ok := sc.funcs[name]; ok {
			return ref, true
		}
	}
	return funcRef{}, false
}
