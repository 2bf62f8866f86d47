// Package native is the symbol table through which mathvm programs reach
// host functions. The translator resolves native names and signatures
// here; the VM resolves the same names to the callable Func.
package native

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/chazu/mathvm/pkg/value"
)

// Env is what a native sees of the running VM.
type Env interface {
	Output() io.Writer
}

// Func is a host function. Arguments arrive in declaration order, already
// converted from the VM's tagged values.
type Func func(env Env, args []value.Scalar) (value.Scalar, error)

// Symbol binds a name to a host function and its signature.
type Symbol struct {
	Name      string
	Signature value.Signature
	Func      Func
}

// Table maps native names to symbols. It is safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	symbols map[string]Symbol
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{symbols: make(map[string]Symbol)}
}

// Register adds a symbol. Registering a name twice is an error.
func (t *Table) Register(s Symbol) error {
	if s.Name == "" || s.Func == nil {
		return fmt.Errorf("native: symbol needs a name and a function")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.symbols[s.Name]; dup {
		return fmt.Errorf("native: %s already registered", s.Name)
	}
	t.symbols[s.Name] = s
	return nil
}

// Resolve looks a symbol up by name.
func (t *Table) Resolve(name string) (Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.symbols[name]
	return s, ok
}

// Names returns the registered names in sorted order.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.symbols))
	for n := range t.symbols {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Without returns a copy of the table minus the given names.
func (t *Table) Without(names ...string) *Table {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := NewTable()
	t.mu.RLock()
	defer t.mu.RUnlock()
	for n, s := range t.symbols {
		if !drop[n] {
			out.symbols[n] = s
		}
	}
	return out
}

// Call invokes s after checking the argument count and types against its
// signature.
func (s Symbol) Call(env Env, args []value.Scalar) (value.Scalar, error) {
	if len(args) != len(s.Signature.Params) {
		return value.Scalar{}, fmt.Errorf("native %s: got %d arguments, want %d", s.Name, len(args), len(s.Signature.Params))
	}
	for i, a := range args {
		if a.Type != s.Signature.Params[i] {
			return value.Scalar{}, fmt.Errorf("native %s: argument %d is %s, want %s", s.Name, i, a.Type, s.Signature.Params[i])
		}
	}
	ret, err := s.Func(env, args)
	if err != nil {
		return value.Scalar{}, fmt.Errorf("native %s: %w", s.Name, err)
	}
	if s.Signature.Return == value.Void {
		return value.VoidScalar, nil
	}
	if ret.Type != s.Signature.Return {
		return value.Scalar{}, fmt.Errorf("native %s: returned %s, want %s", s.Name, ret.Type, s.Signature.Return)
	}
	return ret, nil
}
