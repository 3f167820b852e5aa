package manager

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/pattern"
	"github.com/Veraticus/tally/internal/rules"
)

// Number of matching transactions kept as samples.
const sampleSize = 3

// Warning kinds reported by Validate.
const (
	WarnNoMatches = "no_matches"
	WarnShadowed  = "shadowed"
	WarnErrors    = "errors"
)

// ValidationWarning is an advisory finding about a rule.
type ValidationWarning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ValidationResult reports how a rule fares against a set of transactions.
type ValidationResult struct {
	Total    decimal.Decimal      `json:"total"`
	Samples  []model.Transaction  `json:"samples"`
	Shadows  []*rules.Rule        `json:"-"`
	Similar  []pattern.Suggestion `json:"similar_unmatched,omitempty"`
	Warnings []ValidationWarning  `json:"warnings,omitempty"`
	Matches  int                  `json:"matches"`
	Errors   int                  `json:"errors"`
}

// Validate runs the current rules, with r added or replacing the rule of
// the same name, over txns and reports the transactions r wins. When r wins
// nothing it suggests unmatched descriptions resembling its pattern.
func (m *Manager) Validate(r *rules.Rule, txns []model.Transaction) (*ValidationResult, error) {
	if err := m.ensureLoaded(); err != nil {
		return nil, err
	}

	candidate := *r
	set := make([]*rules.Rule, 0, len(m.rules)+1)
	for _, existing := range m.rules {
		if strings.EqualFold(existing.Name, r.Name) {
			continue
		}
		c := *existing
		set = append(set, &c)
	}
	set = append(set, &candidate)
	eng := engine.New(rules.NewRuleSet(m.variables, m.transforms, set), m.opts)

	result := &ValidationResult{Total: decimal.Zero}
	var unmatched []model.Transaction
	for i := range txns {
		txn := &txns[i]
		res, err := eng.Match(txn)
		if err != nil {
			result.Errors++
			common.LogDebug("Rule validation error", common.Fields{"description": txn.Description, "error": err.Error()})
			continue
		}
		switch {
		case res.MatchInfo != nil && strings.EqualFold(res.MatchInfo.RuleName, r.Name):
			result.Matches++
			result.Total = result.Total.Add(txn.Amount.Abs())
			if len(result.Samples) < sampleSize {
				result.Samples = append(result.Samples, *txn)
			}
		case !res.Categorized():
			unmatched = append(unmatched, *txn)
		}
	}
	result.Total = result.Total.Round(2)

	result.Shadows = m.FindShadows(r)
	if result.Matches == 0 {
		if text, ok := pattern.ExtractTextFromNode(r.Match); ok {
			result.Similar = pattern.SimilarUnmatched(text, unmatched, pattern.DefaultSimilarThreshold, pattern.DefaultSimilarLimit)
		}
		result.warn(WarnNoMatches, fmt.Sprintf("[%s] matches none of %d transactions", r.Name, len(txns)))
	}
	for _, s := range result.Shadows {
		result.warn(WarnShadowed, fmt.Sprintf("[%s] has priority %d and may match first", s.Name, s.Priority))
	}
	if result.Errors > 0 {
		result.warn(WarnErrors, fmt.Sprintf("%d transactions failed to evaluate", result.Errors))
	}
	return result, nil
}

func (r *ValidationResult) warn(kind, msg string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Kind: kind, Message: msg})
}

// FindShadows returns the rules with higher priority than r whose patterns
// might overlap it.
func (m *Manager) FindShadows(r *rules.Rule) []*rules.Rule {
	if err := m.ensureLoaded(); err != nil {
		return nil
	}
	return pattern.Shadows(r, m.rules)
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("rulename", validateRuleName)
	_ = v.RegisterValidation("singleline", validateSingleLine)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.ToLower(fld.Name)
	})
	return v
}

// validateRuleName rejects names that would break a [Name] header.
func validateRuleName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	return strings.TrimSpace(name) != "" && !strings.ContainsAny(name, "[]\r\n")
}

func validateSingleLine(fl validator.FieldLevel) bool {
	return !strings.ContainsAny(fl.Field().String(), "\r\n")
}

// validationError turns validator errors into a UserError naming the first
// bad field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return common.NewUserError("invalid rule", err)
	}
	first := verrs[0]
	msg := fmt.Sprintf("invalid %s", first.Field())
	switch first.Tag() {
	case "required":
		msg = first.Field() + " is required"
	case "rulename":
		msg = first.Field() + " must not contain brackets or newlines"
	case "singleline":
		msg = first.Field() + " must be a single line"
	case "min", "max":
		msg = fmt.Sprintf("%s must be between 0 and 1000", first.Field())
	}
	return common.NewUserError(msg, common.ErrInvalidRule)
}
