package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/tally/internal/model"
)

// Validation errors.
var (
	ErrNilContext            = errors.New("context cannot be nil")
	ErrEmptyString           = errors.New("string parameter cannot be empty")
	ErrInvalidStatus         = errors.New("invalid classification status")
	ErrInvalidClassification = errors.New("invalid classification")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateClassifications(records []model.Classification) error {
	for i := range records {
		if err := validateClassification(&records[i]); err != nil {
			return fmt.Errorf("record at index %d: %w", i, err)
		}
	}
	return nil
}

func validateClassification(c *model.Classification) error {
	if c.Transaction.ID == "" {
		return fmt.Errorf("%w: missing transaction ID", ErrInvalidClassification)
	}
	if c.Transaction.Date.IsZero() {
		return fmt.Errorf("%w: transaction %s has no date", ErrInvalidClassification, c.Transaction.ID)
	}
	switch c.Status {
	case model.StatusCategorized, model.StatusTagged:
		if c.Result == nil || c.Result.MatchInfo == nil {
			return fmt.Errorf("%w: %s without match info", ErrInvalidClassification, c.Status)
		}
	case model.StatusUnmatched:
	case model.StatusFailed:
		if c.Error == "" {
			return fmt.Errorf("%w: failed without an error", ErrInvalidClassification)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, c.Status)
	}
	return nil
}
