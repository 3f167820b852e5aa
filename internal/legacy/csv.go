package legacy

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Veraticus/tally/internal/expr"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/rules"
)

var (
	tagSeparator   = regexp.MustCompile(`[|,]`)
	quotedArgument = regexp.MustCompile(`(?:contains|regex)\(["']([^"']+)["']\)`)
)

// Row is one line of a legacy CSV rule file:
// Pattern,Merchant,Category,Subcategory,Tags,Priority. Everything after
// Category is optional.
type Row struct {
	Pattern     string
	Merchant    string
	Category    string
	Subcategory string
	Tags        []string
	Priority    int
	Line        int
}

// ReadCSV reads legacy CSV rows. Comment rows, blank rows, a header row
// whose first cell is "pattern" and rows with an empty pattern are skipped.
// An unparseable priority falls back to the default.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	var rows []Row
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read rule CSV: %w", err)
		}
		line, _ := cr.FieldPos(0)

		if len(record) == 0 {
			continue
		}
		first := strings.TrimSpace(record[0])
		if strings.HasPrefix(first, "#") || strings.EqualFold(first, "pattern") || first == "" {
			continue
		}

		row := Row{Pattern: first, Priority: rules.DefaultPriority, Line: line}
		cell := func(i int) string {
			if i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		row.Merchant = cell(1)
		row.Category = cell(2)
		row.Subcategory = cell(3)
		row.Tags = SplitTags(cell(4))
		if p := cell(5); p != "" {
			if prio, err := strconv.Atoi(p); err == nil {
				row.Priority = prio
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// SplitTags splits a tag list on pipes or commas, dropping blanks and
// duplicates.
func SplitTags(s string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, t := range tagSeparator.Split(s, -1) {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		tags = append(tags, t)
	}
	return tags
}

// DeriveName picks a rule name for a pattern that came without a merchant.
func DeriveName(pattern string) string {
	title := cases.Title(language.English)
	if m := quotedArgument.FindStringSubmatch(pattern); m != nil {
		return title.String(strings.ToLower(m[1]))
	}
	if IsExpression(pattern) {
		return "Rule"
	}
	if p, err := ParsePattern(pattern); err == nil && p.Regex != "" {
		pattern = p.Regex
	}
	return title.String(strings.ToLower(strings.ReplaceAll(pattern, "_", " ")))
}

// Rule converts the row to a user rule. The row's modifiers become extra
// conditions of the match expression.
func (row Row) Rule() (*rules.Rule, error) {
	text, err := PatternExpr(row.Pattern)
	if err != nil {
		return nil, withLine(err, row.Line)
	}
	node, err := expr.Parse(text)
	if err != nil {
		return nil, &ParseError{Err: err, Text: row.Pattern, Line: row.Line}
	}
	if err := expr.Compile(node); err != nil {
		return nil, &ParseError{Err: err, Text: row.Pattern, Line: row.Line}
	}

	name := row.Merchant
	if name == "" {
		name = DeriveName(row.Pattern)
	}
	r := &rules.Rule{
		Name:        name,
		Match:       node,
		MatchText:   text,
		Merchant:    name,
		Category:    row.Category,
		Subcategory: row.Subcategory,
		Priority:    row.Priority,
		Line:        row.Line,
		Source:      model.SourceUser,
		Specificity: expr.Specificity(node),
	}
	for _, t := range row.Tags {
		r.Tags = append(r.Tags, rules.TagSpec{Text: t, Parts: []rules.TagPart{{Literal: t}}})
	}
	return r, nil
}

func withLine(err error, line int) error {
	var pe *ParseError
	if errors.As(err, &pe) && pe.Line == 0 {
		c := *pe
		c.Line = line
		return &c
	}
	return err
}

// LoadCSV reads legacy CSV rules into a RuleSet.
func LoadCSV(r io.Reader) (*rules.RuleSet, error) {
	rows, err := ReadCSV(r)
	if err != nil {
		return nil, err
	}
	out := make([]*rules.Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.Rule()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return rules.NewRuleSet(nil, nil, out), nil
}

// LoadCSVFile loads legacy CSV rules from path. A missing file yields an
// empty RuleSet.
func LoadCSVFile(path string) (*rules.RuleSet, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return rules.NewRuleSet(nil, nil, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open rule CSV: %w", err)
	}
	defer func() { _ = f.Close() }()

	return LoadCSV(f)
}
