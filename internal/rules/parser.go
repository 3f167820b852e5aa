package rules

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/Veraticus/tally/internal/expr"
	"github.com/Veraticus/tally/internal/model"
)

var (
	headerPattern  = regexp.MustCompile(`^\[(.*)\]$`)
	bindingPattern = regexp.MustCompile(`^([A-Za-z_]\w*(?:\.[A-Za-z_]\w*)?)\s*=([^=].*)$`)
	keyPattern     = regexp.MustCompile(`^([A-Za-z_]+)\s*:(.*)$`)
)

var singularDirectives = map[string]bool{
	"match":       true,
	"category":    true,
	"subcategory": true,
	"merchant":    true,
	"tags":        true,
	"priority":    true,
}

type parser struct {
	path      string
	rules     []*Rule
	vars      []Binding
	transform []Transform
	current   *Rule
	seen      map[string]int
	sawRule   bool
}

// Parse parses .rules text. Any structural problem or malformed expression
// aborts the whole parse.
func Parse(text string) (*RuleSet, error) {
	return parse(strings.NewReader(text), "")
}

// ParseReader parses .rules content from r.
func ParseReader(r io.Reader) (*RuleSet, error) {
	return parse(r, "")
}

// ParseFile reads and parses a .rules file.
func ParseFile(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return parse(f, path)
}

// Load parses the user rule file and, when baselinePath is non-empty, the
// baseline file, and merges them.
func Load(userPath, baselinePath string) (*RuleSet, error) {
	user, err := ParseFile(userPath)
	if err != nil {
		return nil, err
	}
	if baselinePath == "" {
		return user, nil
	}
	baseline, err := ParseFile(baselinePath)
	if err != nil {
		return nil, err
	}
	return Merge(user, baseline), nil
}

func parse(r io.Reader, path string) (*RuleSet, error) {
	p := &parser{path: path}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := p.line(lineNo, scanner.Text()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	if err := p.finish(lineNo); err != nil {
		return nil, err
	}

	return NewRuleSet(p.vars, p.transform, p.rules), nil
}

func (p *parser) fail(line int, err error) error {
	fe := &FileError{Path: p.path, Line: line, Err: err}
	if p.current != nil {
		fe.Rule = p.current.Name
	}
	return fe
}

func (p *parser) line(n int, raw string) error {
	text := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(text, "#"):
		return nil

	case text == "":
		return p.finish(n)

	case strings.HasPrefix(text, "["):
		return p.header(n, text)

	case p.current != nil:
		return p.directive(n, text)
	}

	if m := bindingPattern.FindStringSubmatch(text); m != nil {
		return p.global(n, m[1], strings.TrimSpace(m[2]))
	}
	if keyPattern.MatchString(text) {
		return p.fail(n, ErrOutsideBlock)
	}
	return p.fail(n, fmt.Errorf("%w: %q", ErrBadLine, text))
}

func (p *parser) header(n int, text string) error {
	if err := p.finish(n); err != nil {
		return err
	}
	m := headerPattern.FindStringSubmatch(text)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return p.fail(n, fmt.Errorf("%w: %q", ErrBadHeader, text))
	}
	p.current = &Rule{
		Name:     strings.TrimSpace(m[1]),
		Priority: DefaultPriority,
		Line:     n,
		Source:   model.SourceUser,
	}
	p.seen = make(map[string]int)
	p.sawRule = true
	return nil
}

// finish closes the open rule block, if any.
func (p *parser) finish(n int) error {
	r := p.current
	if r == nil {
		return nil
	}
	if r.Match == nil {
		return p.fail(r.Line, ErrMissingMatch)
	}
	r.Specificity = expr.Specificity(r.Match)
	p.rules = append(p.rules, r)
	p.current = nil
	return nil
}

func (p *parser) global(n int, name, text string) error {
	if p.sawRule {
		return p.fail(n, ErrMisplacedGlobal)
	}
	node, err := compile(text)
	if err != nil {
		return p.fail(n, fmt.Errorf("invalid expression for %s: %w", name, err))
	}

	if field, ok := strings.CutPrefix(name, "field."); ok {
		p.transform = append(p.transform, Transform{Field: field, Expr: node, Text: text, Line: n})
		return nil
	}
	if strings.Contains(name, ".") {
		return p.fail(n, fmt.Errorf("%w: only field.<name> may be assigned", ErrBadBinding))
	}
	p.vars = append(p.vars, Binding{Name: name, Expr: node, Text: text, Line: n})
	return nil
}

func (p *parser) directive(n int, text string) error {
	m := keyPattern.FindStringSubmatch(text)
	if m == nil {
		return p.fail(n, fmt.Errorf("%w: %q", ErrBadLine, text))
	}
	key := strings.ToLower(m[1])
	value := strings.TrimSpace(m[2])
	r := p.current

	if singularDirectives[key] {
		if first, dup := p.seen[key]; dup {
			return p.fail(n, fmt.Errorf("%w: %s: already set on line %d", ErrDuplicateDirective, key, first))
		}
		p.seen[key] = n
	}

	switch key {
	case "match":
		node, err := compile(value)
		if err != nil {
			return p.fail(n, fmt.Errorf("invalid match expression: %w", err))
		}
		r.Match = node
		r.MatchText = value

	case "category":
		r.Category = value

	case "subcategory":
		r.Subcategory = value

	case "merchant":
		r.Merchant = value

	case "priority":
		prio, err := strconv.Atoi(value)
		if err != nil {
			return p.fail(n, fmt.Errorf("%w: %q", ErrBadPriority, value))
		}
		r.Priority = prio

	case "tags":
		r.Tags = ParseTags(value)

	case "let", "field":
		b, err := parseBinding(n, value)
		if err != nil {
			return p.fail(n, fmt.Errorf("%s: %w", key, err))
		}
		if key == "let" {
			r.Lets = append(r.Lets, b)
		} else {
			r.Fields = append(r.Fields, b)
		}

	default:
		return p.fail(n, fmt.Errorf("%w: %q", ErrUnknownDirective, m[1]))
	}
	return nil
}

func parseBinding(n int, value string) (Binding, error) {
	m := bindingPattern.FindStringSubmatch(value)
	if m == nil || strings.Contains(m[1], ".") {
		return Binding{}, fmt.Errorf("%w: %q", ErrBadBinding, value)
	}
	text := strings.TrimSpace(m[2])
	node, err := compile(text)
	if err != nil {
		return Binding{}, fmt.Errorf("invalid expression for %s: %w", m[1], err)
	}
	return Binding{Name: m[1], Expr: node, Text: text, Line: n}, nil
}

func compile(text string) (expr.Node, error) {
	node, err := expr.Parse(text)
	if err != nil {
		return nil, err
	}
	if err := expr.Compile(node); err != nil {
		return nil, err
	}
	return node, nil
}

// ParseTags splits a tags: value on commas outside braces and quotes. An
// entry containing {expression} segments becomes a dynamic tag. A segment
// that fails to parse is recorded on the TagSpec rather than returned.
func ParseTags(value string) []TagSpec {
	var specs []TagSpec
	for _, item := range splitTopLevel(value) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		specs = append(specs, parseTag(item))
	}
	return specs
}

func parseTag(item string) TagSpec {
	spec := TagSpec{Text: item}
	rest := item
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			spec.Parts = append(spec.Parts, TagPart{Literal: rest})
			break
		}
		if open > 0 {
			spec.Parts = append(spec.Parts, TagPart{Literal: rest[:open]})
		}
		end := matchingBrace(rest, open)
		if end < 0 {
			spec.Err = errors.New("unbalanced '{' in tag")
			return spec
		}
		node, err := compile(rest[open+1 : end])
		if err != nil {
			spec.Err = err
			return spec
		}
		spec.Parts = append(spec.Parts, TagPart{Expr: node})
		rest = rest[end+1:]
	}
	return spec
}

// matchingBrace returns the index of the '}' closing the '{' at open,
// skipping quoted strings, or -1.
func matchingBrace(s string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case depth > 0 && (c == '"' || c == '\''):
			quote = c
		case c == '{':
			depth++
		case c == '}':
			if depth > 0 {
				depth--
			}
		case c == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
