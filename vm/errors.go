package vm

import (
	"fmt"

	"github.com/chazu/mathvm/pkg/bytecode"
)

// Kind classifies runtime errors.
type Kind int

const (
	StackUnderflow Kind = iota + 1
	TypeMismatch
	BadContext
	DivisionByZero
	InvalidOpcode
	BadOperand
	NativeFailed
	FrameLimit
	OutputFailed
	Canceled
)

var kindNames = map[Kind]string{
	StackUnderflow: "stack underflow",
	TypeMismatch:   "type mismatch",
	BadContext:     "bad context",
	DivisionByZero: "division by zero",
	InvalidOpcode:  "invalid opcode",
	BadOperand:     "bad operand",
	NativeFailed:   "native call failed",
	FrameLimit:     "frame limit exceeded",
	OutputFailed:   "output failed",
	Canceled:       "canceled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// RuntimeError aborts execution. Func and Offset locate the failing
// instruction.
type RuntimeError struct {
	Func   string
	Offset int
	Op     bytecode.Opcode
	Kind   Kind
	Msg    string
	Err    error
}

func (e *RuntimeError) Error() string {
	if e.Func == "" {
		return fmt.Sprintf("runtime error: %s", e.Msg)
	}
	return fmt.Sprintf("runtime error in %s at %04X (%s): %s", e.Func, e.Offset, e.Op, e.Msg)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Is matches on Kind, so errors.Is(err, ErrDivisionByZero) works.
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	return ok && t.Msg == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrStackUnderflow = &RuntimeError{Kind: StackUnderflow}
	ErrTypeMismatch   = &RuntimeError{Kind: TypeMismatch}
	ErrBadContext     = &RuntimeError{Kind: BadContext}
	ErrDivisionByZero = &RuntimeError{Kind: DivisionByZero}
	ErrInvalidOpcode  = &RuntimeError{Kind: InvalidOpcode}
	ErrBadOperand     = &RuntimeError{Kind: BadOperand}
	ErrNativeFailed   = &RuntimeError{Kind: NativeFailed}
	ErrFrameLimit     = &RuntimeError{Kind: FrameLimit}
	ErrOutputFailed   = &RuntimeError{Kind: OutputFailed}
	ErrCanceled       = &RuntimeError{Kind: Canceled}
)
