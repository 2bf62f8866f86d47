package bytecode

import (
	"fmt"
	"math"

	"github.com/chazu/mathvm/pkg/value"
)

// FormatVersion is the current program image format version.
// Increment when making incompatible changes to the opcode set or layout.
const FormatVersion uint16 = 1

// NoParent is the parent id of the top-level function.
const NoParent = -1

// TopFunctionID is the id of the top-level function.
const TopFunctionID = 0

// Param is a named, typed function parameter.
type Param struct {
	Name string
	Type value.Type
}

// Function is a compiled function descriptor.
type Function struct {
	ID         uint16
	Name       string
	Parent     int // lexically enclosing function id, NoParent for the top level
	ReturnType value.Type
	Params     []Param

	// Local variable slots. Parameters occupy the first len(Params) slots.
	LocalsCount uint16
	VarNames    []string     // slot -> name (debugging, bindings)
	VarTypes    []value.Type // slot -> type

	// Native is set when the body is a CALLNATIVE/RETURN thunk.
	Native bool

	Code *Buffer
}

// Signature returns the function's signature.
func (f *Function) Signature() value.Signature {
	sig := value.Signature{Return: f.ReturnType, Params: make([]value.Type, len(f.Params))}
	for i, p := range f.Params {
		sig.Params[i] = p.Type
	}
	return sig
}

// AddLocal appends a local slot and returns its index.
func (f *Function) AddLocal(name string, t value.Type) (uint16, error) {
	if f.LocalsCount == math.MaxUint16 {
		return 0, fmt.Errorf("function %s: too many locals", f.Name)
	}
	slot := f.LocalsCount
	f.LocalsCount++
	f.VarNames = append(f.VarNames, name)
	f.VarTypes = append(f.VarTypes, t)
	return slot, nil
}

// NativeEntry describes a native function bound by name.
type NativeEntry struct {
	ID        uint16
	Name      string
	Signature value.Signature
}

// Program is the compiled artifact: an interned string table, functions in
// id order and bound natives. It is read-only once translation completes.
type Program struct {
	Constants []string
	Functions []*Function
	Natives   []*NativeEntry

	constIndex  map[string]uint16
	nativeIndex map[string]uint16
}

// NewProgram creates an empty program. Constant 0 is always "".
func NewProgram() *Program {
	p := &Program{
		constIndex:  make(map[string]uint16),
		nativeIndex: make(map[string]uint16),
	}
	p.Constants = append(p.Constants, "")
	p.constIndex[""] = 0
	return p
}

// Intern adds a string constant to the pool and returns its id.
// If the constant already exists, returns the existing id.
func (p *Program) Intern(s string) (uint16, error) {
	if id, ok := p.constIndex[s]; ok {
		return id, nil
	}
	if len(p.Constants) > math.MaxUint16 {
		return 0, fmt.Errorf("constant pool overflow")
	}
	id := uint16(len(p.Constants))
	p.Constants = append(p.Constants, s)
	p.constIndex[s] = id
	return id, nil
}

// Constant returns the string with the given id.
func (p *Program) Constant(id uint16) (string, bool) {
	if int(id) >= len(p.Constants) {
		return "", false
	}
	return p.Constants[id], true
}

// ConstantID returns the id of an interned string without adding it.
func (p *Program) ConstantID(s string) (uint16, bool) {
	id, ok := p.constIndex[s]
	return id, ok
}

// AddFunction registers f, assigns it the next id and returns that id.
func (p *Program) AddFunction(f *Function) (uint16, error) {
	if len(p.Functions) > math.MaxUint16 {
		return 0, fmt.Errorf("too many functions")
	}
	f.ID = uint16(len(p.Functions))
	if f.Code == nil {
		f.Code = NewBuffer()
	}
	p.Functions = append(p.Functions, f)
	return f.ID, nil
}

// Function returns the function with the given id.
func (p *Program) Function(id uint16) (*Function, bool) {
	if int(id) >= len(p.Functions) {
		return nil, false
	}
	return p.Functions[id], true
}

// FunctionByName returns the first function with the given name.
func (p *Program) FunctionByName(name string) (*Function, bool) {
	for _, f := range p.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Top returns the top-level function.
func (p *Program) Top() (*Function, bool) {
	return p.Function(TopFunctionID)
}

// AddNative registers a native by name and returns its id. A name that is
// already registered returns the existing id; its signature must match.
func (p *Program) AddNative(name string, sig value.Signature) (uint16, error) {
	if id, ok := p.nativeIndex[name]; ok {
		if !p.Natives[id].Signature.Equal(sig) {
			return 0, fmt.Errorf("native %s registered as %s, now %s", name, p.Natives[id].Signature, sig)
		}
		return id, nil
	}
	if len(p.Natives) > math.MaxUint16 {
		return 0, fmt.Errorf("too many natives")
	}
	id := uint16(len(p.Natives))
	p.Natives = append(p.Natives, &NativeEntry{ID: id, Name: name, Signature: sig})
	p.nativeIndex[name] = id
	return id, nil
}

// Native returns the native entry with the given id.
func (p *Program) Native(id uint16) (*NativeEntry, bool) {
	if int(id) >= len(p.Natives) {
		return nil, false
	}
	return p.Natives[id], true
}

// CallEffect returns the operand stack effect (pops, pushes) of a CALL or
// CALLNATIVE instruction with the given operand.
func (p *Program) CallEffect(op Opcode, id uint16) (pop, push int, ok bool) {
	var sig value.Signature
	switch op {
	case OpCall:
		f, found := p.Function(id)
		if !found {
			return 0, 0, false
		}
		sig = f.Signature()
	case OpCallNative:
		n, found := p.Native(id)
		if !found {
			return 0, 0, false
		}
		sig = n.Signature
	default:
		return 0, 0, false
	}
	if sig.Return != value.Void {
		push = 1
	}
	return len(sig.Params), push, true
}

// reindex rebuilds lookup maps after decoding.
func (p *Program) reindex() {
	p.constIndex = make(map[string]uint16, len(p.Constants))
	for i, s := range p.Constants {
		if _, dup := p.constIndex[s]; !dup {
			p.constIndex[s] = uint16(i)
		}
	}
	p.nativeIndex = make(map[string]uint16, len(p.Natives))
	for i, n := range p.Natives {
		p.nativeIndex[n.Name] = uint16(i)
	}
}
