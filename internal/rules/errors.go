package rules

import (
	"errors"
	"fmt"
)

// Structural errors wrapped by FileError.
var (
	ErrUnknownDirective   = errors.New("unknown directive")
	ErrDuplicateDirective = errors.New("duplicate directive")
	ErrMissingMatch       = errors.New("rule has no match: directive")
	ErrOutsideBlock       = errors.New("directive outside of a rule block")
	ErrMisplacedGlobal    = errors.New("variables and transforms must come before the first rule")
	ErrBadHeader          = errors.New("invalid rule header")
	ErrBadPriority        = errors.New("priority must be an integer")
	ErrBadBinding         = errors.New("expected name = expression")
	ErrBadLine            = errors.New("expected key: value")
)

// FileError pinpoints a problem in a rule file.
type FileError struct {
	Err  error
	Path string
	Rule string
	Line int
}

func (e *FileError) Error() string {
	loc := fmt.Sprintf("line %d", e.Line)
	if e.Path != "" {
		loc = fmt.Sprintf("%s:%d", e.Path, e.Line)
	}
	if e.Rule != "" {
		return fmt.Sprintf("%s: [%s]: %v", loc, e.Rule, e.Err)
	}
	return fmt.Sprintf("%s: %v", loc, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}
