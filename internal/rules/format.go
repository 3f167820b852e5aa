package rules

import (
	"fmt"
	"sort"
	"strings"
)

// Format renders a rule as a .rules block. Directives are written in a fixed
// order and tags are sorted, so formatting is stable across round trips.
func Format(r *Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n", r.Name)
	if r.Priority != DefaultPriority {
		fmt.Fprintf(&b, "priority: %d\n", r.Priority)
	}
	for _, l := range r.Lets {
		fmt.Fprintf(&b, "let: %s = %s\n", l.Name, l.Text)
	}
	fmt.Fprintf(&b, "match: %s\n", r.MatchText)
	if r.Merchant != "" && r.Merchant != r.Name {
		fmt.Fprintf(&b, "merchant: %s\n", r.Merchant)
	}
	if r.Category != "" {
		fmt.Fprintf(&b, "category: %s\n", r.Category)
	}
	if r.Subcategory != "" {
		fmt.Fprintf(&b, "subcategory: %s\n", r.Subcategory)
	}
	for _, f := range r.Fields {
		fmt.Fprintf(&b, "field: %s = %s\n", f.Name, f.Text)
	}
	if len(r.Tags) > 0 {
		tags := make([]string, len(r.Tags))
		for i, t := range r.Tags {
			tags[i] = t.Text
		}
		sort.Strings(tags)
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(tags, ", "))
	}
	return b.String()
}

// FormatSet renders variables, then transforms, then rules in file order,
// separated by blank lines. Comments are not preserved.
func FormatSet(rs *RuleSet) string {
	var sections []string

	if len(rs.Variables) > 0 {
		var b strings.Builder
		for _, v := range rs.Variables {
			fmt.Fprintf(&b, "%s = %s\n", v.Name, v.Text)
		}
		sections = append(sections, b.String())
	}
	if len(rs.Transforms) > 0 {
		var b strings.Builder
		for _, t := range rs.Transforms {
			fmt.Fprintf(&b, "field.%s = %s\n", t.Field, t.Text)
		}
		sections = append(sections, b.String())
	}
	for _, r := range rs.Rules {
		sections = append(sections, Format(r))
	}
	return strings.Join(sections, "\n")
}
