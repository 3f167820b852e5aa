// Package engine matches transactions against a parsed RuleSet.
package engine

import (
	"fmt"
	"strings"

	"github.com/Veraticus/tally/internal/expr"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/rules"
)

// Mode selects how the categorizing rule is chosen.
type Mode int

// Rule modes.
const (
	// FirstMatch picks the first matching categorizing rule in priority order.
	FirstMatch Mode = iota
	// MostSpecific picks the matching categorizing rule with the most
	// AND-joined conditions. Ties go to the rule defined first.
	MostSpecific
)

func (m Mode) String() string {
	if m == MostSpecific {
		return "most_specific"
	}
	return "first_match"
}

// ParseMode converts a configuration value to a Mode. Empty means FirstMatch.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first_match":
		return FirstMatch, nil
	case "most_specific":
		return MostSpecific, nil
	}
	return FirstMatch, fmt.Errorf("%w: %q (want first_match or most_specific)", ErrInvalidMode, s)
}

// Options configures an Engine.
type Options struct {
	// HomeLocations lists locations considered home; a transaction located
	// anywhere else is flagged as travel. Empty disables travel detection.
	HomeLocations []string
	Mode          Mode
}

// Engine evaluates transactions against a RuleSet. It holds no per-call
// state and is safe for concurrent use.
type Engine struct {
	rules *rules.RuleSet
	home  map[string]bool
	opts  Options
}

// New creates an Engine over rs.
func New(rs *rules.RuleSet, opts Options) *Engine {
	home := make(map[string]bool, len(opts.HomeLocations))
	for _, loc := range opts.HomeLocations {
		if loc = strings.TrimSpace(loc); loc != "" {
			home[strings.ToUpper(loc)] = true
		}
	}
	return &Engine{rules: rs, opts: opts, home: home}
}

// RuleSet returns the rules the engine evaluates.
func (e *Engine) RuleSet() *rules.RuleSet {
	return e.rules
}

// Mode returns the configured rule mode.
func (e *Engine) Mode() Mode {
	return e.opts.Mode
}

type hit struct {
	rule  *rules.Rule
	scope *expr.Scope
	step  int
}

// Match evaluates txn against every rule. A transaction no rule matches is
// not an error: it yields category Unknown and a nil MatchInfo. Evaluation
// errors in transforms, let:, match: or field: are returned as *RuleError.
func (e *Engine) Match(txn *model.Transaction) (*model.MatchResult, error) {
	env := newTxnEnv(txn)
	if err := env.applyTransforms(e.rules.Transforms); err != nil {
		return nil, err
	}

	globals := expr.NewScope(env)
	for _, v := range e.rules.Variables {
		globals.Bind(v.Name, v.Expr)
	}

	var (
		hits   []hit
		winner *hit
		trace  = make([]model.TraceStep, 0, e.rules.Len())
	)

	for _, r := range e.rules.Ordered() {
		step := model.TraceStep{Rule: r.Name, TagOnly: r.IsTagOnly(), Specificity: r.Specificity}

		scope := globals.Child()
		for _, l := range r.Lets {
			v, err := expr.Eval(l.Expr, scope)
			if err != nil {
				return nil, &RuleError{Rule: r.Name, Directive: "let " + l.Name, Err: err}
			}
			scope.Set(l.Name, v)
		}

		ok, err := expr.EvalBool(r.Match, scope)
		if err != nil {
			return nil, &RuleError{Rule: r.Name, Directive: "match", Err: err}
		}
		if !ok {
			step.Reason = "no match"
			trace = append(trace, step)
			continue
		}

		// Every matching rule contributes tags; only the winner categorizes.
		step.Matched = true
		step.Reason = "matched"
		trace = append(trace, step)
		hits = append(hits, hit{rule: r, scope: scope, step: len(trace) - 1})

		if r.IsTagOnly() {
			continue
		}
		if winner == nil || (e.opts.Mode == MostSpecific && moreSpecific(r, winner.rule)) {
			h := hits[len(hits)-1]
			winner = &h
		}
	}

	result := &model.MatchResult{
		Merchant:    MerchantName(env.description),
		Category:    model.UnknownCategory,
		Subcategory: model.UnknownCategory,
		RawValues:   env.rawValues(),
	}

	var tags tagSet
	for _, h := range hits {
		resolved := resolveTags(h.rule, h.scope)
		for _, t := range resolved {
			tags.add(t)
		}
		trace[h.step].Tags = resolved
	}
	result.Tags = tags.list()

	if winner != nil {
		r := winner.rule
		result.Merchant = r.MerchantName()
		result.Category = r.Category
		result.Subcategory = r.Subcategory
		if result.Subcategory == "" {
			result.Subcategory = model.UnknownCategory
		}

		fields, err := evalFields(r, winner.scope)
		if err != nil {
			return nil, err
		}
		result.ExtraFields = fields

		trace[winner.step].Winner = true
		trace[winner.step].Reason = "matched; sets category"
		for _, h := range hits {
			if h.rule == r || h.rule.IsTagOnly() {
				continue
			}
			if e.opts.Mode == MostSpecific {
				trace[h.step].Reason = fmt.Sprintf("matched; less specific than [%s]", r.Name)
			} else {
				trace[h.step].Reason = fmt.Sprintf("matched; shadowed by [%s]", r.Name)
			}
		}
	}

	if len(hits) > 0 {
		info := &model.MatchInfo{
			Source:    hits[0].rule.Source,
			MatchedOn: env.description,
			Tags:      result.Tags,
		}
		if winner != nil {
			info.RuleName = winner.rule.Name
			info.Pattern = winner.rule.MatchText
			info.Source = winner.rule.Source
		}
		result.MatchInfo = info
	}

	if len(e.home) > 0 && env.location != "" && !e.home[strings.ToUpper(strings.TrimSpace(env.location))] {
		result.Travel = true
	}

	result.Trace = trace
	return result, nil
}

// moreSpecific reports whether a should beat b in MostSpecific mode. Equal
// specificity goes to the rule defined first.
func moreSpecific(a, b *rules.Rule) bool {
	if a.Specificity != b.Specificity {
		return a.Specificity > b.Specificity
	}
	return a.Order < b.Order
}

// Explain is Match for callers that want to show the trace. Every result
// carries one step per rule in evaluation order.
func (e *Engine) Explain(txn *model.Transaction) (*model.MatchResult, error) {
	return e.Match(txn)
}

// evalFields evaluates the winning rule's field: directives in order. Lists
// render comma-joined.
func evalFields(r *rules.Rule, scope *expr.Scope) (map[string]string, error) {
	if len(r.Fields) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		v, err := expr.Eval(f.Expr, scope)
		if err != nil {
			return nil, &RuleError{Rule: r.Name, Directive: "field " + f.Name, Err: err}
		}
		out[f.Name] = v.String()
	}
	return out, nil
}
