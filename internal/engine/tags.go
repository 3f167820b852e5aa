package engine

import (
	"log/slog"
	"strings"

	"github.com/Veraticus/tally/internal/expr"
	"github.com/Veraticus/tally/internal/rules"
)

// tagSet accumulates lowercased tags in first-seen order.
type tagSet struct {
	seen map[string]bool
	tags []string
}

func (s *tagSet) add(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || s.seen[tag] {
		return false
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	s.seen[tag] = true
	s.tags = append(s.tags, tag)
	return true
}

func (s *tagSet) list() []string {
	if s.tags == nil {
		return []string{}
	}
	return s.tags
}

// resolveTags renders a rule's tags in scope. A dynamic tag that fails to
// parse or evaluate, or that renders empty, is dropped.
func resolveTags(r *rules.Rule, scope *expr.Scope) []string {
	out := make([]string, 0, len(r.Tags))
	for _, spec := range r.Tags {
		if spec.Err != nil {
			slog.Debug("Dropping unparseable dynamic tag", "rule", r.Name, "tag", spec.Text, "error", spec.Err)
			continue
		}
		var b strings.Builder
		ok := true
		for _, part := range spec.Parts {
			if part.Expr == nil {
				b.WriteString(part.Literal)
				continue
			}
			v, err := expr.Eval(part.Expr, scope)
			if err != nil {
				slog.Debug("Dropping dynamic tag", "rule", r.Name, "tag", spec.Text, "error", err)
				ok = false
				break
			}
			b.WriteString(v.String())
		}
		if !ok {
			continue
		}
		if tag := strings.ToLower(strings.TrimSpace(b.String())); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
