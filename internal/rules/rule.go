// Package rules parses .rules files into an immutable RuleSet.
package rules

import (
	"sort"
	"strings"

	"github.com/Veraticus/tally/internal/expr"
	"github.com/Veraticus/tally/internal/model"
)

// DefaultPriority is the priority of a rule without a priority: directive.
const DefaultPriority = 50

// Binding is a named expression: a global variable, a let: or a field:
// directive.
type Binding struct {
	Expr expr.Node
	Name string
	Text string
	Line int
}

// Transform rewrites a transaction field before any rule is evaluated.
type Transform struct {
	Expr  expr.Node
	Field string
	Text  string
	Line  int
}

// TagPart is one piece of a tag: literal text or an embedded expression.
type TagPart struct {
	Expr    expr.Node
	Literal string
}

// TagSpec is one entry of a tags: directive. Text is the entry as written.
// Err is set when an embedded expression failed to parse; such tags are
// dropped at match time.
type TagSpec struct {
	Err   error
	Text  string
	Parts []TagPart
}

// IsDynamic reports whether the tag contains an {expression}.
func (t TagSpec) IsDynamic() bool {
	if t.Err != nil {
		return true
	}
	for _, p := range t.Parts {
		if p.Expr != nil {
			return true
		}
	}
	return false
}

// Rule is a parsed [Name] block.
type Rule struct {
	Match       expr.Node
	Name        string
	MatchText   string
	Category    string
	Subcategory string
	Merchant    string
	Source      model.RuleSource
	Tags        []TagSpec
	Lets        []Binding
	Fields      []Binding
	Priority    int
	Order       int // Position across all loaded files; breaks priority ties
	Line        int
	Specificity int
}

// IsTagOnly reports whether the rule only contributes tags.
func (r *Rule) IsTagOnly() bool {
	return r.Category == ""
}

// MerchantName is the merchant reported when the rule wins.
func (r *Rule) MerchantName() string {
	if r.Merchant != "" {
		return r.Merchant
	}
	return r.Name
}

// LiteralTags returns the static tags of the rule.
func (r *Rule) LiteralTags() []string {
	var tags []string
	for _, t := range r.Tags {
		if !t.IsDynamic() {
			tags = append(tags, t.Text)
		}
	}
	return tags
}

// RuleSet is the parsed content of one or more rule files. It is read-only
// after construction and safe to share between goroutines.
type RuleSet struct {
	Variables  []Binding
	Transforms []Transform
	Rules      []*Rule // File order
	ordered    []*Rule
}

// NewRuleSet builds a RuleSet from already parsed parts, assigning order
// indexes in slice order.
func NewRuleSet(vars []Binding, transforms []Transform, rules []*Rule) *RuleSet {
	rs := &RuleSet{Variables: vars, Transforms: transforms, Rules: rules}
	for i, r := range rules {
		r.Order = i
	}
	rs.sort()
	return rs
}

func (rs *RuleSet) sort() {
	rs.ordered = make([]*Rule, len(rs.Rules))
	copy(rs.ordered, rs.Rules)
	sort.SliceStable(rs.ordered, func(i, j int) bool {
		a, b := rs.ordered[i], rs.ordered[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Order < b.Order
	})
}

// Ordered returns rules in evaluation order: priority descending, then file
// order. The returned slice must not be modified.
func (rs *RuleSet) Ordered() []*Rule {
	return rs.ordered
}

// Lookup finds a rule by name, ignoring case.
func (rs *RuleSet) Lookup(name string) (*Rule, bool) {
	for _, r := range rs.Rules {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return nil, false
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.Rules)
}

// Merge combines user and baseline rule sets. Baseline rules sort after user
// rules of equal priority. A user variable shadows a baseline variable of
// the same name. Baseline transforms run before user transforms.
func Merge(user, baseline *RuleSet) *RuleSet {
	if baseline == nil {
		return user
	}
	if user == nil {
		return baseline
	}

	vars := make([]Binding, 0, len(user.Variables)+len(baseline.Variables))
	seen := make(map[string]bool, len(user.Variables))
	for _, v := range user.Variables {
		seen[v.Name] = true
	}
	for _, v := range baseline.Variables {
		if !seen[v.Name] {
			vars = append(vars, v)
		}
	}
	vars = append(vars, user.Variables...)

	transforms := make([]Transform, 0, len(user.Transforms)+len(baseline.Transforms))
	transforms = append(transforms, baseline.Transforms...)
	transforms = append(transforms, user.Transforms...)

	all := make([]*Rule, 0, user.Len()+baseline.Len())
	for _, r := range user.Rules {
		c := *r
		all = append(all, &c)
	}
	for _, r := range baseline.Rules {
		c := *r
		c.Source = model.SourceBaseline
		all = append(all, &c)
	}
	return NewRuleSet(vars, transforms, all)
}
