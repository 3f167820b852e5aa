package legacy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Veraticus/tally/internal/expr"
)

var (
	trailingGroup    = regexp.MustCompile(`\[([^\[\]]*)\]\s*$`)
	modifierLead     = regexp.MustCompile(`^\s*\w+\s*(?:>=|<=|==|>|<|=|:)`)
	conditionPattern = regexp.MustCompile(`^(\w+)\s*(>=|<=|==|>|<|=)\s*(\d{4}-\d{2}-\d{2}|-?\d+(?:\.\d+)?)(%?)$`)
	amountRange      = regexp.MustCompile(`^amount\s*:\s*(-?\d+(?:\.\d+)?)\s*-\s*(-?\d+(?:\.\d+)?)$`)
	dateRange        = regexp.MustCompile(`^date\s*:\s*(\d{4}-\d{2}-\d{2})\s*\.\.\s*(\d{4}-\d{2}-\d{2})$`)
	callName         = regexp.MustCompile(`(?:^|[^\w\\])([a-z_][a-z0-9_]*)\s*\(`)
	exprHint         = regexp.MustCompile(`\b(?:field|txn)\.\w|\s(?:and|or|has|in)\s|^not\s|[=!<>]=|\s[<>]\s`)
)

// Transaction-level variables can be turned into match conditions.
var transactionVars = map[string]bool{
	"amount":  true,
	"date":    true,
	"month":   true,
	"year":    true,
	"day":     true,
	"weekday": true,
}

// Merchant-level variables only make sense against aggregated statistics.
var merchantVars = map[string]bool{
	"months":        true,
	"count":         true,
	"total":         true,
	"cv":            true,
	"max":           true,
	"avg":           true,
	"max_avg_ratio": true,
}

// Condition is one [var OP value] modifier.
type Condition struct {
	Var     string
	Op      string // >, >=, <, <=, =
	Text    string // Value as written
	Value   float64
	Percent bool // Value is a percentage of the number of months
}

// Threshold returns the value to compare against. A percentage scales by
// numMonths, truncates, and never drops below 2.
func (c Condition) Threshold(numMonths int) float64 {
	if !c.Percent {
		return c.Value
	}
	return float64(max(2, int(float64(numMonths)*c.Value/100)))
}

// Compare applies the condition's operator to value.
func (c Condition) Compare(value float64, numMonths int) bool {
	threshold := c.Threshold(numMonths)
	switch c.Op {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "=":
		d := value - threshold
		return d < 0.001 && d > -0.001
	}
	return false
}

// Range is an inclusive [amount:lo-hi] or [date:from..to] bound.
type Range struct {
	Low  string
	High string
}

// ParsedPattern is a legacy pattern split into its regex and modifiers.
type ParsedPattern struct {
	AmountRange *Range
	DateRange   *Range
	Regex       string
	Conditions  []Condition
}

// ParsePattern splits trailing modifiers off a legacy pattern, as in
// COSTCO[amount>200] or UNITED[date:2024-06-01..2024-06-30]. A trailing
// bracket that does not start like a modifier is left in the regex so
// character classes keep working.
func ParsePattern(pattern string) (*ParsedPattern, error) {
	p := &ParsedPattern{}
	rest := strings.TrimSpace(pattern)

	var bodies []string
	for {
		loc := trailingGroup.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		body := rest[loc[2]:loc[3]]
		if !modifierLead.MatchString(body) {
			break
		}
		bodies = append(bodies, body)
		rest = strings.TrimSpace(rest[:loc[0]])
	}

	// Modifiers were collected right to left.
	for i := len(bodies) - 1; i >= 0; i-- {
		if err := p.addModifier(strings.TrimSpace(bodies[i])); err != nil {
			return nil, err
		}
	}
	p.Regex = rest
	return p, nil
}

func (p *ParsedPattern) addModifier(body string) error {
	if m := amountRange.FindStringSubmatch(body); m != nil {
		p.AmountRange = &Range{Low: m[1], High: m[2]}
		return nil
	}
	if m := dateRange.FindStringSubmatch(body); m != nil {
		p.DateRange = &Range{Low: m[1], High: m[2]}
		return nil
	}
	c, err := parseCondition(body)
	if err != nil {
		return err
	}
	p.Conditions = append(p.Conditions, c)
	return nil
}

func parseCondition(body string) (Condition, error) {
	m := conditionPattern.FindStringSubmatch(body)
	if m == nil {
		return Condition{}, &ParseError{Err: ErrBadModifier, Text: "[" + body + "]"}
	}
	name := strings.ToLower(m[1])
	if !transactionVars[name] && !merchantVars[name] {
		return Condition{}, &ParseError{Err: ErrUnknownVariable, Text: m[1]}
	}
	op := m[2]
	if op == "==" {
		op = "="
	}
	c := Condition{Var: name, Op: op, Text: m[3], Percent: m[4] == "%"}
	if name == "date" {
		if c.Percent {
			return Condition{}, &ParseError{Err: ErrBadModifier, Text: "[" + body + "]"}
		}
		return c, nil
	}
	v, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Condition{}, &ParseError{Err: ErrBadModifier, Text: "[" + body + "]"}
	}
	c.Value = v
	return c, nil
}

// Expression renders the pattern as match: expression text, e.g.
// regex("COSTCO") and amount > 200.
func (p *ParsedPattern) Expression() (string, error) {
	var parts []string
	if p.Regex != "" {
		parts = append(parts, "regex("+Quote(p.Regex)+")")
	}
	for _, c := range p.Conditions {
		if merchantVars[c.Var] {
			return "", &ParseError{Err: ErrMerchantVariable, Text: c.Var}
		}
		if c.Percent {
			return "", &ParseError{Err: ErrBadModifier, Text: c.Var + c.Op + c.Text + "%"}
		}
		op := c.Op
		if op == "=" {
			op = "=="
		}
		value := c.Text
		if c.Var == "date" {
			value = Quote(value)
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", c.Var, op, value))
	}
	if r := p.AmountRange; r != nil {
		parts = append(parts, fmt.Sprintf("amount >= %s", r.Low), fmt.Sprintf("amount <= %s", r.High))
	}
	if r := p.DateRange; r != nil {
		parts = append(parts, fmt.Sprintf("date >= %s", Quote(r.Low)), fmt.Sprintf("date <= %s", Quote(r.High)))
	}
	if len(parts) == 0 {
		return "", &ParseError{Err: ErrEmptyPattern}
	}
	return strings.Join(parts, " and "), nil
}

// Quote renders s as a double-quoted rule string literal.
func Quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// IsExpression reports whether a pattern is already a match expression
// rather than a bare regex. A call to a built-in function is enough; weaker
// hints such as field references or comparisons only count when the pattern
// also parses and compiles, so regex groups like (AMZN|AMAZON) or
// UBER\s(?!EATS) stay regexes.
func IsExpression(pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "*" {
		return true
	}
	for _, m := range callName.FindAllStringSubmatch(pattern, -1) {
		if expr.IsBuiltin(m[1]) {
			return true
		}
	}
	if !exprHint.MatchString(pattern) {
		return false
	}
	node, err := expr.Parse(pattern)
	if err != nil {
		return false
	}
	return expr.Compile(node) == nil
}

// PatternExpr converts a legacy pattern to match expression text. Patterns
// that are already expressions pass through unchanged.
func PatternExpr(pattern string) (string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return "", &ParseError{Err: ErrEmptyPattern}
	}
	if IsExpression(pattern) {
		return pattern, nil
	}
	p, err := ParsePattern(pattern)
	if err != nil {
		return "", err
	}
	return p.Expression()
}
