// Package legacy reads the older rule formats: CSV merchant rules whose
// patterns carry [bracket] modifiers, and the merchant classification
// mini-language.
package legacy

import (
	"errors"
	"fmt"
)

// Errors wrapped by ParseError.
var (
	ErrBadModifier      = errors.New("invalid modifier")
	ErrUnknownVariable  = errors.New("unknown modifier variable")
	ErrMerchantVariable = errors.New("merchant-level variable cannot filter a single transaction")
	ErrBadRule          = errors.New("invalid rule syntax")
	ErrBadBucket        = errors.New("invalid bucket")
	ErrBadCalcType      = errors.New("invalid calc type")
	ErrBadField         = errors.New("invalid field")
	ErrEmptyPattern     = errors.New("empty pattern")
)

// ParseError reports the line a legacy rule failed on. Line is zero when
// the input had no line context.
type ParseError struct {
	Err  error
	Text string
	Line int
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %v: %s", e.Line, e.Err, e.Text)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
