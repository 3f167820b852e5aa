package expr

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by errors.Is against an *EvalError.
var (
	ErrUndefinedField = errors.New("undefined field")
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrDivideByZero   = errors.New("divide by zero")
	ErrInvalidRegex   = errors.New("invalid regex")
	ErrOutOfRange     = errors.New("out of range")
)

// SyntaxError reports text the grammar does not accept.
type SyntaxError struct {
	Msg  string
	Text string
	Pos  int
}

func (e *SyntaxError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("syntax error at position %d near %q: %s", e.Pos, e.Text, e.Msg)
}

// EvalKind classifies evaluation failures.
type EvalKind int

// Evaluation failure kinds.
const (
	UndefinedField EvalKind = iota
	TypeMismatch
	DivideByZero
	InvalidRegex
	OutOfRange
)

func (k EvalKind) String() string {
	switch k {
	case UndefinedField:
		return "UndefinedField"
	case TypeMismatch:
		return "TypeMismatch"
	case DivideByZero:
		return "DivideByZero"
	case InvalidRegex:
		return "InvalidRegex"
	case OutOfRange:
		return "OutOfRange"
	default:
		return "Unknown"
	}
}

func (k EvalKind) sentinel() error {
	switch k {
	case UndefinedField:
		return ErrUndefinedField
	case TypeMismatch:
		return ErrTypeMismatch
	case DivideByZero:
		return ErrDivideByZero
	case InvalidRegex:
		return ErrInvalidRegex
	default:
		return ErrOutOfRange
	}
}

// EvalError is returned when an expression fails against a particular
// context. Expr holds the rendered sub-expression that failed.
type EvalError struct {
	Err  error
	Msg  string
	Expr string
	Kind EvalKind
	Pos  int
}

func (e *EvalError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.Expr != "" {
		msg = fmt.Sprintf("%s (in %s)", msg, e.Expr)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is lets errors.Is match the kind's sentinel.
func (e *EvalError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

func evalErr(kind EvalKind, n Node, format string, args ...any) *EvalError {
	e := &EvalError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	if n != nil {
		e.Expr = n.String()
		e.Pos = n.Pos()
	}
	return e
}

// IsUndefined reports whether err is an undefined field or name error.
func IsUndefined(err error) bool {
	return errors.Is(err, ErrUndefinedField)
}
