package legacy

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Bucket groups merchants for budgeting.
type Bucket string

// Buckets.
const (
	BucketTravel   Bucket = "travel"
	BucketAnnual   Bucket = "annual"
	BucketPeriodic Bucket = "periodic"
	BucketMonthly  Bucket = "monthly"
	BucketOneOff   Bucket = "one_off"
	BucketVariable Bucket = "variable"
)

// CalcType selects how a merchant's monthly figure is computed.
type CalcType string

// Calc types. CalcAuto resolves to CalcAvg or CalcYearly from the
// coefficient of variation.
const (
	CalcAvg    CalcType = "avg"
	CalcYearly CalcType = "/12"
	CalcAuto   CalcType = "auto"
)

// FallbackRules classifies everything as variable spending.
const FallbackRules = "* -> variable,/12\n"

var (
	classificationPattern = regexp.MustCompile(`^(.+?)\s*->\s*(\w+)\s*,\s*(\w+|/12)\s*$`)
	fieldMatchPattern     = regexp.MustCompile(`(\w+)=([^,\[\]]+)`)
	bracketPattern        = regexp.MustCompile(`\[([^\[\]]*)\]`)
)

var validBuckets = map[Bucket]bool{
	BucketTravel: true, BucketAnnual: true, BucketPeriodic: true,
	BucketMonthly: true, BucketOneOff: true, BucketVariable: true,
}

// FieldMatch is a category= or subcategory= requirement.
type FieldMatch struct {
	Field string
	Value string
}

// ClassificationRule is one line of the classification mini-language:
//
//	category=Bills[months>=50%] -> monthly,avg
type ClassificationRule struct {
	Text       string
	Bucket     Bucket
	CalcType   CalcType
	Fields     []FieldMatch
	Conditions []Condition
	Line       int
	Default    bool
}

// MerchantStats are the aggregates a classification rule tests.
type MerchantStats struct {
	Category     string
	Subcategory  string
	MonthsActive int
	Count        int
	Total        float64
	CV           float64
	MaxPayment   float64
}

func (s MerchantStats) value(name string) float64 {
	avg := 0.0
	if s.Count > 0 {
		avg = s.Total / float64(s.Count)
	}
	switch name {
	case "months":
		return float64(s.MonthsActive)
	case "count":
		return float64(s.Count)
	case "total":
		return s.Total
	case "cv":
		return s.CV
	case "max":
		return s.MaxPayment
	case "avg":
		return avg
	case "max_avg_ratio":
		if avg > 0 {
			return s.MaxPayment / avg
		}
	}
	return 0
}

// ParseClassificationRule parses one line. Blank lines and comments return
// nil without error.
func ParseClassificationRule(line string, lineNo int) (*ClassificationRule, error) {
	text := strings.TrimSpace(line)
	if text == "" || strings.HasPrefix(text, "#") {
		return nil, nil
	}
	fail := func(err error, what string) error {
		return &ParseError{Err: err, Text: what, Line: lineNo}
	}

	m := classificationPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, fail(ErrBadRule, text)
	}
	cond, bucket, calc := m[1], Bucket(m[2]), CalcType(m[3])
	if !validBuckets[bucket] {
		return nil, fail(ErrBadBucket, string(bucket))
	}
	if calc != CalcAvg && calc != CalcYearly && calc != CalcAuto {
		return nil, fail(ErrBadCalcType, string(calc))
	}

	rule := &ClassificationRule{Text: text, Bucket: bucket, CalcType: calc, Line: lineNo}
	if strings.TrimSpace(cond) == "*" {
		rule.Default = true
		return rule, nil
	}

	for _, b := range bracketPattern.FindAllStringSubmatch(cond, -1) {
		c, err := parseCondition(strings.TrimSpace(b[1]))
		if err != nil {
			return nil, withLine(err, lineNo)
		}
		if !merchantVars[c.Var] {
			return nil, fail(ErrUnknownVariable, c.Var)
		}
		rule.Conditions = append(rule.Conditions, c)
	}

	for _, f := range fieldMatchPattern.FindAllStringSubmatch(bracketPattern.ReplaceAllString(cond, ""), -1) {
		name := f[1]
		if name != "category" && name != "subcategory" {
			return nil, fail(ErrBadField, name)
		}
		rule.Fields = append(rule.Fields, FieldMatch{Field: name, Value: strings.TrimSpace(f[2])})
	}
	return rule, nil
}

// ParseClassificationRules parses a whole rules text.
func ParseClassificationRules(text string) ([]*ClassificationRule, error) {
	var out []*ClassificationRule
	scanner := bufio.NewScanner(strings.NewReader(strings.TrimSpace(text)))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		rule, err := ParseClassificationRule(scanner.Text(), lineNo)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			out = append(out, rule)
		}
	}
	return out, scanner.Err()
}

// LoadClassificationRules reads classification rules from path.
func LoadClassificationRules(path string) ([]*ClassificationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classification rules: %w", err)
	}
	return ParseClassificationRules(string(data))
}

// FallbackClassificationRules returns FallbackRules parsed.
func FallbackClassificationRules() []*ClassificationRule {
	out, err := ParseClassificationRules(FallbackRules)
	if err != nil {
		panic(err)
	}
	return out
}

// Matches reports whether every field match and condition holds.
func (r *ClassificationRule) Matches(s MerchantStats, numMonths int) bool {
	if r.Default {
		return true
	}
	for _, f := range r.Fields {
		got := s.Category
		if f.Field == "subcategory" {
			got = s.Subcategory
		}
		if got != f.Value {
			return false
		}
	}
	for _, c := range r.Conditions {
		if !c.Compare(s.value(c.Var), numMonths) {
			return false
		}
	}
	return true
}

// ResolveCalcType turns CalcAuto into CalcAvg for steady spending
// (cv < 0.3) and CalcYearly otherwise.
func ResolveCalcType(ct CalcType, cv float64) CalcType {
	if ct != CalcAuto {
		return ct
	}
	if cv < 0.3 {
		return CalcAvg
	}
	return CalcYearly
}

// Classify returns the bucket and resolved calc type of the first matching
// rule, or variable,/12 when none match.
func Classify(s MerchantStats, rules []*ClassificationRule, numMonths int) (Bucket, CalcType) {
	for _, r := range rules {
		if r.Matches(s, numMonths) {
			return r.Bucket, ResolveCalcType(r.CalcType, s.CV)
		}
	}
	return BucketVariable, CalcYearly
}
