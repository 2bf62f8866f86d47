package compiler

import (
	"fmt"

	"github.com/chazu/mathvm/pkg/ast"
)

// Kind classifies translation errors.
type Kind int

const (
	Internal Kind = iota
	UnknownIdentifier
	TypeMismatch
	BadRange
	NativeSymbolNotFound
	DuplicateFunction
	DuplicateVariable
	MissingReturn
	BadArity
	Malformed
)

var kindNames = [...]string{
	Internal:             "internal error",
	UnknownIdentifier:    "unknown identifier",
	TypeMismatch:         "type mismatch",
	BadRange:             "bad range",
	NativeSymbolNotFound: "native symbol not found",
	DuplicateFunction:    "duplicate function",
	DuplicateVariable:    "duplicate variable",
	MissingReturn:        "missing return",
	BadArity:             "bad arity",
	Malformed:            "malformed tree",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a translation error. Translation stops at the first one.
type Error struct {
	Kind Kind
	Pos  ast.Position
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// Is matches errors of the same Kind, so errors.Is(err, ErrTypeMismatch)
// works regardless of position and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInternal             = &Error{Kind: Internal}
	ErrUnknownIdentifier    = &Error{Kind: UnknownIdentifier}
	ErrTypeMismatch         = &Error{Kind: TypeMismatch}
	ErrBadRange             = &Error{Kind: BadRange}
	ErrNativeSymbolNotFound = &Error{Kind: NativeSymbolNotFound}
	ErrDuplicateFunction    = &Error{Kind: DuplicateFunction}
	ErrDuplicateVariable    = &Error{Kind: DuplicateVariable}
	ErrMissingReturn        = &Error{Kind: MissingReturn}
	ErrBadArity             = &Error{Kind: BadArity}
	ErrMalformed            = &Error{Kind: Malformed}
)

func errorAt(n ast.Node, kind Kind, format string, args ...any) *Error {
	var pos ast.Position
	if n != nil {
		pos = n.Span().Start
	}
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
