// Package views groups merchants into report sections. A views.rules file
// holds [Name] blocks with a filter: expression evaluated once per merchant
// summary; a merchant may appear in any number of views.
package views

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/Veraticus/tally/internal/expr"
	"github.com/Veraticus/tally/internal/rules"
)

// ErrMissingFilter is returned for a view without a filter: directive.
var ErrMissingFilter = errors.New("view has no filter: directive")

var (
	viewHeader    = regexp.MustCompile(`^\[([^\[\]]+)\]$`)
	viewDirective = regexp.MustCompile(`^([A-Za-z_]+)\s*:\s*(.*)$`)
)

// View is one [Name] block of a views file.
type View struct {
	Filter      expr.Node
	Name        string
	Description string
	FilterText  string
	Line        int
}

// Parse parses views.rules text.
func Parse(text string) ([]*View, error) {
	return parse(strings.NewReader(text), "")
}

// ParseFile reads and parses a views file.
func ParseFile(path string) ([]*View, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open views file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return parse(f, path)
}

func parse(r io.Reader, path string) ([]*View, error) {
	var (
		views   []*View
		current *View
		seen    map[string]bool
	)
	fail := func(line int, err error) error {
		fe := &rules.FileError{Path: path, Line: line, Err: err}
		if current != nil {
			fe.Rule = current.Name
		}
		return fe
	}
	finish := func() error {
		if current == nil {
			return nil
		}
		if current.Filter == nil {
			return fail(current.Line, ErrMissingFilter)
		}
		views = append(views, current)
		current = nil
		return nil
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		if strings.HasPrefix(text, "[") {
			if err := finish(); err != nil {
				return nil, err
			}
			m := viewHeader.FindStringSubmatch(text)
			if m == nil || strings.TrimSpace(m[1]) == "" {
				return nil, fail(lineNo, fmt.Errorf("%w: %q", rules.ErrBadHeader, text))
			}
			current = &View{Name: strings.TrimSpace(m[1]), Line: lineNo}
			seen = make(map[string]bool)
			continue
		}

		if current == nil {
			return nil, fail(lineNo, rules.ErrOutsideBlock)
		}
		m := viewDirective.FindStringSubmatch(text)
		if m == nil {
			return nil, fail(lineNo, fmt.Errorf("%w: %q", rules.ErrBadLine, text))
		}
		key, value := strings.ToLower(m[1]), strings.TrimSpace(m[2])
		if seen[key] {
			return nil, fail(lineNo, fmt.Errorf("%w: %s", rules.ErrDuplicateDirective, key))
		}
		seen[key] = true

		switch key {
		case "description":
			current.Description = value
		case "filter":
			node, err := expr.Parse(value)
			if err != nil {
				return nil, fail(lineNo, err)
			}
			if err := expr.Compile(node, "by"); err != nil {
				return nil, fail(lineNo, err)
			}
			current.Filter, current.FilterText = node, value
		default:
			return nil, fail(lineNo, fmt.Errorf("%w: %s", rules.ErrUnknownDirective, key))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read views file: %w", err)
	}
	if err := finish(); err != nil {
		return nil, err
	}
	return views, nil
}

// Evaluate reports whether s belongs in v.
func Evaluate(v *View, s *MerchantSummary) (bool, error) {
	ok, err := expr.EvalBool(v.Filter, expr.NewScope(s.env()))
	if err != nil {
		return false, fmt.Errorf("view [%s] on %s: %w", v.Name, s.Name, err)
	}
	return ok, nil
}

// Classify returns, for each view name, the merchants it contains in
// summary order. Views that match nothing map to an empty slice.
func Classify(views []*View, summaries []*MerchantSummary) (map[string][]string, error) {
	out := make(map[string][]string, len(views))
	for _, v := range views {
		out[v.Name] = []string{}
		for _, s := range summaries {
			ok, err := Evaluate(v, s)
			if err != nil {
				return nil, err
			}
			if ok {
				out[v.Name] = append(out[v.Name], s.Name)
			}
		}
	}
	return out, nil
}
