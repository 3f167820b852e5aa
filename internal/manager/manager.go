// Package manager edits a .rules file: it adds, updates, deletes and lists
// rules, imports legacy CSV rules, and checks a rule against real
// transactions before it is saved.
package manager

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/expr"
	"github.com/Veraticus/tally/internal/legacy"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/rules"
)

// ErrRuleNotFound is returned when no rule has the requested name.
var ErrRuleNotFound = errors.New("rule not found")

// AddRequest describes a rule to create. Pattern is either a bare regex,
// optionally with legacy [modifiers], or a full match expression.
type AddRequest struct {
	Priority    *int     `validate:"omitempty,min=0,max=1000"`
	Pattern     string   `validate:"required,singleline"`
	Merchant    string   `validate:"omitempty,rulename"`
	Category    string   `validate:"omitempty,singleline"`
	Subcategory string   `validate:"omitempty,singleline"`
	Tags        []string `validate:"dive,required,singleline,excludesall={}"`
}

// UpdateRequest changes an existing rule. Nil fields are left alone. Tags
// replaces the tag list; AddTags and RemoveTags apply afterwards.
type UpdateRequest struct {
	Match       *string  `validate:"omitempty"`
	Category    *string  `validate:"omitempty,singleline"`
	Subcategory *string  `validate:"omitempty,singleline"`
	Priority    *int     `validate:"omitempty,min=0,max=1000"`
	Tags        []string `validate:"omitempty,dive,required,singleline,excludesall={}"`
	AddTags     []string `validate:"omitempty,dive,required,singleline,excludesall={}"`
	RemoveTags  []string `validate:"omitempty,dive,required"`
}

// Manager holds the rules of one .rules file in memory. It is not safe for
// concurrent use.
type Manager struct {
	validate   *validator.Validate
	variables  []rules.Binding
	transforms []rules.Transform
	rules      []*rules.Rule
	path       string
	opts       engine.Options
	loaded     bool
}

// New creates a Manager for the rule file at path. opts configures the
// engine used by Validate.
func New(path string, opts engine.Options) *Manager {
	return &Manager{path: path, opts: opts, validate: newValidator()}
}

// Path returns the managed file.
func (m *Manager) Path() string {
	return m.path
}

// Load reads the rule file. A missing file loads as empty.
func (m *Manager) Load() error {
	rs, err := rules.ParseFile(m.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		m.variables, m.transforms, m.rules = nil, nil, nil
	case err != nil:
		return err
	default:
		m.variables, m.transforms, m.rules = rs.Variables, rs.Transforms, rs.Rules
	}
	m.loaded = true
	common.LogDebug("Loaded rule file", common.Fields{"path": m.path, "rules": len(m.rules)})
	return nil
}

func (m *Manager) ensureLoaded() error {
	if m.loaded {
		return nil
	}
	return m.Load()
}

// Save writes the rules back, creating parent directories as needed.
// Comments in the original file are not preserved.
func (m *Manager) Save() error {
	if err := m.ensureLoaded(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return fmt.Errorf("failed to create rule directory: %w", err)
	}
	content := rules.FormatSet(m.RuleSet())
	if err := os.WriteFile(m.path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write rule file: %w", err)
	}
	common.LogInfo("Saved rule file", common.Fields{"path": m.path, "rules": len(m.rules)})
	return nil
}

// Content returns the file text Save would write.
func (m *Manager) Content() (string, error) {
	if err := m.ensureLoaded(); err != nil {
		return "", err
	}
	return rules.FormatSet(m.RuleSet()), nil
}

// RuleSet builds a RuleSet over the current rules.
func (m *Manager) RuleSet() *rules.RuleSet {
	copies := make([]*rules.Rule, len(m.rules))
	for i, r := range m.rules {
		c := *r
		copies[i] = &c
	}
	return rules.NewRuleSet(m.variables, m.transforms, copies)
}

// Rules returns the rules in evaluation order.
func (m *Manager) Rules() ([]*rules.Rule, error) {
	if err := m.ensureLoaded(); err != nil {
		return nil, err
	}
	return m.RuleSet().Ordered(), nil
}

// Get finds a rule by name, ignoring case.
func (m *Manager) Get(name string) (*rules.Rule, bool) {
	if err := m.ensureLoaded(); err != nil {
		return nil, false
	}
	i := m.indexOf(name)
	if i < 0 {
		return nil, false
	}
	return m.rules[i], true
}

func (m *Manager) indexOf(name string) int {
	return slices.IndexFunc(m.rules, func(r *rules.Rule) bool {
		return strings.EqualFold(r.Name, name)
	})
}

// FindByPattern finds the rule whose match expression is what pattern
// converts to.
func (m *Manager) FindByPattern(pattern string) (*rules.Rule, bool) {
	if err := m.ensureLoaded(); err != nil {
		return nil, false
	}
	text, err := legacy.PatternExpr(pattern)
	if err != nil {
		return nil, false
	}
	for _, r := range m.rules {
		if r.MatchText == text {
			return r, true
		}
	}
	return nil, false
}

// Add creates a rule, or updates the rule that already has the same name
// or the same pattern.
func (m *Manager) Add(req AddRequest) (*rules.Rule, error) {
	if err := m.ensureLoaded(); err != nil {
		return nil, err
	}
	if err := m.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	text, err := legacy.PatternExpr(req.Pattern)
	if err != nil {
		return nil, err
	}
	node, err := compileMatch(text)
	if err != nil {
		return nil, err
	}

	name := req.Merchant
	if name == "" {
		name = legacy.DeriveName(req.Pattern)
	}

	existing, ok := m.Get(name)
	if !ok {
		existing, ok = m.FindByPattern(req.Pattern)
	}
	if ok {
		existing.Match, existing.MatchText = node, text
		existing.Specificity = expr.Specificity(node)
		if req.Category != "" {
			existing.Category = req.Category
		}
		if req.Subcategory != "" {
			existing.Subcategory = req.Subcategory
		}
		if req.Tags != nil {
			existing.Tags = literalTags(req.Tags)
		}
		if req.Priority != nil {
			existing.Priority = *req.Priority
		}
		common.LogInfo("Updated rule", common.Fields{"rule": existing.Name})
		return existing, nil
	}

	r := &rules.Rule{
		Name:        name,
		Match:       node,
		MatchText:   text,
		Merchant:    name,
		Category:    req.Category,
		Subcategory: req.Subcategory,
		Tags:        literalTags(req.Tags),
		Priority:    rules.DefaultPriority,
		Source:      model.SourceUser,
		Specificity: expr.Specificity(node),
	}
	if req.Priority != nil {
		r.Priority = *req.Priority
	}
	m.rules = append(m.rules, r)
	common.LogInfo("Added rule", common.Fields{"rule": r.Name, "match": text})
	return r, nil
}

// Update applies req to the named rule.
func (m *Manager) Update(name string, req UpdateRequest) (*rules.Rule, error) {
	if err := m.ensureLoaded(); err != nil {
		return nil, err
	}
	if err := m.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	r, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}

	if req.Match != nil {
		node, err := compileMatch(*req.Match)
		if err != nil {
			return nil, err
		}
		r.Match, r.MatchText = node, strings.TrimSpace(*req.Match)
		r.Specificity = expr.Specificity(node)
	}
	if req.Category != nil {
		r.Category = *req.Category
	}
	if req.Subcategory != nil {
		r.Subcategory = *req.Subcategory
	}
	if req.Priority != nil {
		r.Priority = *req.Priority
	}

	if req.Tags != nil {
		r.Tags = literalTags(req.Tags)
	}
	for _, t := range req.AddTags {
		if !hasTag(r.Tags, t) {
			r.Tags = append(r.Tags, literalTag(t))
		}
	}
	if len(req.RemoveTags) > 0 {
		r.Tags = slices.DeleteFunc(r.Tags, func(spec rules.TagSpec) bool {
			return slices.ContainsFunc(req.RemoveTags, func(t string) bool {
				return strings.EqualFold(strings.TrimSpace(t), spec.Text)
			})
		})
	}

	common.LogInfo("Updated rule", common.Fields{"rule": r.Name})
	return r, nil
}

// Delete removes the named rule. It reports whether a rule was removed.
func (m *Manager) Delete(name string) bool {
	if err := m.ensureLoaded(); err != nil {
		return false
	}
	i := m.indexOf(name)
	if i < 0 {
		return false
	}
	m.rules = slices.Delete(m.rules, i, i+1)
	return true
}

// DeleteByPattern removes the rule FindByPattern would return.
func (m *Manager) DeleteByPattern(pattern string) bool {
	r, ok := m.FindByPattern(pattern)
	if !ok {
		return false
	}
	return m.Delete(r.Name)
}

// List returns rules in evaluation order, keeping those in category (when
// non-empty, ignoring case) that carry every tag in tags.
func (m *Manager) List(category string, tags []string) ([]*rules.Rule, error) {
	all, err := m.Rules()
	if err != nil {
		return nil, err
	}
	var out []*rules.Rule
	for _, r := range all {
		if category != "" && !strings.EqualFold(r.Category, category) {
			continue
		}
		if !slices.ContainsFunc(tags, func(t string) bool { return !hasTag(r.Tags, t) }) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ImportCSV adds every row of a legacy CSV rule file. Rows that match an
// existing rule update it.
func (m *Manager) ImportCSV(r io.Reader) ([]*rules.Rule, error) {
	rows, err := legacy.ReadCSV(r)
	if err != nil {
		return nil, err
	}
	imported := make([]*rules.Rule, 0, len(rows))
	for _, row := range rows {
		prio := row.Priority
		added, err := m.Add(AddRequest{
			Pattern:     row.Pattern,
			Merchant:    row.Merchant,
			Category:    row.Category,
			Subcategory: row.Subcategory,
			Tags:        row.Tags,
			Priority:    &prio,
		})
		if err != nil {
			return imported, fmt.Errorf("line %d: %w", row.Line, err)
		}
		imported = append(imported, added)
	}
	return imported, nil
}

func compileMatch(text string) (expr.Node, error) {
	node, err := expr.Parse(text)
	if err != nil {
		return nil, common.NewUserError("invalid match expression", err)
	}
	if err := expr.Compile(node); err != nil {
		return nil, common.NewUserError("invalid match expression", err)
	}
	return node, nil
}

func literalTag(t string) rules.TagSpec {
	t = strings.TrimSpace(t)
	return rules.TagSpec{Text: t, Parts: []rules.TagPart{{Literal: t}}}
}

func literalTags(tags []string) []rules.TagSpec {
	if tags == nil {
		return nil
	}
	out := make([]rules.TagSpec, 0, len(tags))
	for _, t := range tags {
		if !hasTag(out, t) {
			out = append(out, literalTag(t))
		}
	}
	return out
}

func hasTag(specs []rules.TagSpec, tag string) bool {
	tag = strings.TrimSpace(tag)
	return slices.ContainsFunc(specs, func(s rules.TagSpec) bool {
		return strings.EqualFold(s.Text, tag)
	})
}
