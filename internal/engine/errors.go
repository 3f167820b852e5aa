package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidMode is returned by ParseMode for unknown mode names.
var ErrInvalidMode = errors.New("invalid rule mode")

// RuleError wraps an evaluation failure with the rule and directive that
// raised it. The underlying *expr.EvalError is reachable with errors.As.
type RuleError struct {
	Err       error
	Rule      string
	Directive string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule [%s] %s: %v", e.Rule, e.Directive, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}
