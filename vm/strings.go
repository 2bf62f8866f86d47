package vm

import "github.com/chazu/mathvm/pkg/bytecode"

// stringTable resolves string ids. Ids below len(prog.Constants) name
// program constants; strings made at run time get ids above them. An id
// is never reused for different content, so S2I ids compare like the
// strings themselves.
type stringTable struct {
	prog  *bytecode.Program
	base  uint32
	extra []string
	index map[string]uint32
}

func newStringTable(prog *bytecode.Program) *stringTable {
	return &stringTable{
		prog:  prog,
		base:  uint32(len(prog.Constants)),
		index: make(map[string]uint32),
	}
}

func (s *stringTable) get(id uint32) (string, bool) {
	if id < s.base {
		return s.prog.Constants[id], true
	}
	i := id - s.base
	if int(i) >= len(s.extra) {
		return "", false
	}
	return s.extra[i], true
}

func (s *stringTable) intern(str string) uint32 {
	if id, ok := s.prog.ConstantID(str); ok {
		return uint32(id)
	}
	if id, ok := s.index[str]; ok {
		return id
	}
	id := s.base + uint32(len(s.extra))
	s.extra = append(s.extra, str)
	s.index[str] = id
	return id
}
