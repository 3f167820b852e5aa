package cli

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/manager"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/pattern"
	"github.com/Veraticus/tally/internal/rules"
	"github.com/Veraticus/tally/internal/views"
)

// RenderExplain shows how a transaction was matched: the result, then every
// rule in evaluation order with the reason it did or did not match.
func RenderExplain(txn *model.Transaction, result *model.MatchResult) string {
	lines := []string{
		field("description", txn.Description),
		field("amount", txn.Amount.StringFixed(2)),
	}
	if !txn.Date.IsZero() {
		lines = append(lines, field("date", txn.Date.Format("2006-01-02")))
	}
	if txn.Location != "" {
		lines = append(lines, field("location", txn.Location))
	}

	lines = append(lines, "",
		field("merchant", BoldStyle.Render(result.Merchant)),
		field("category", categoryText(result.Category, result.Subcategory)),
	)
	if len(result.Tags) > 0 {
		lines = append(lines, field("tags", strings.Join(result.Tags, ", ")))
	}
	if result.Travel {
		lines = append(lines, field("travel", "yes"))
	}
	for _, k := range slices.Sorted(maps.Keys(result.ExtraFields)) {
		lines = append(lines, field(k, result.ExtraFields[k]))
	}
	if info := result.MatchInfo; info != nil && info.RuleName != "" {
		lines = append(lines, field("rule", fmt.Sprintf("%s (%s, %s)", info.RuleName, info.Source, info.MatchedOn)))
	}

	var trace []string
	for _, step := range result.Trace {
		trace = append(trace, traceLine(step))
	}
	if len(trace) == 0 {
		trace = append(trace, SubtleStyle.Render("no rules loaded"))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		RenderBox("Result", strings.Join(lines, "\n")),
		"",
		TitleStyle.Render("Rules"),
		strings.Join(trace, "\n"),
	)
}

func traceLine(step model.TraceStep) string {
	var icon, name string
	switch {
	case step.Winner:
		icon, name = SuccessStyle.Render(SuccessIcon), SuccessStyle.Bold(true).Render(step.Rule)
	case step.Matched && step.TagOnly:
		icon, name = SuccessStyle.Render(TagIcon), step.Rule
	case step.Matched:
		icon, name = WarningStyle.Render(WarningIcon), WarningStyle.Render(step.Rule)
	default:
		icon, name = SubtleStyle.Render(ErrorIcon), SubtleStyle.Render(step.Rule)
	}
	line := fmt.Sprintf("%s %s %s", icon, name, SubtleStyle.Render(step.Reason))
	if len(step.Tags) > 0 {
		line += " " + SubtleStyle.Render(ArrowIcon+" "+strings.Join(step.Tags, ", "))
	}
	return line
}

// RenderSummary shows a batch run's counts and its most frequent tags.
func RenderSummary(s engine.BatchSummary, tagCounts map[string]int) string {
	lines := []string{
		field("total", strconv.Itoa(s.Total)),
		field("categorized", SuccessStyle.Render(strconv.Itoa(s.Categorized))),
		field("tagged only", strconv.Itoa(s.TaggedOnly)),
		field("unmatched", WarningStyle.Render(strconv.Itoa(s.Unmatched))),
	}
	if s.Failed > 0 {
		lines = append(lines, field("failed", ErrorStyle.Render(strconv.Itoa(s.Failed))))
	}
	if s.Travel > 0 {
		lines = append(lines, field("travel", strconv.Itoa(s.Travel)))
	}
	lines = append(lines, field("time", s.ProcessingTime.Round(time.Millisecond).String()))

	if len(tagCounts) > 0 {
		tags := slices.SortedFunc(maps.Keys(tagCounts), func(a, b string) int {
			if tagCounts[a] != tagCounts[b] {
				return tagCounts[b] - tagCounts[a]
			}
			return strings.Compare(a, b)
		})
		var parts []string
		for _, t := range tags {
			parts = append(parts, fmt.Sprintf("%s (%d)", t, tagCounts[t]))
		}
		lines = append(lines, field("tags", strings.Join(parts, ", ")))
	}
	return RenderBox("Run Summary", strings.Join(lines, "\n"))
}

// RenderRule shows a single rule in full.
func RenderRule(r *rules.Rule) string {
	lines := []string{
		field("match", r.MatchText),
		field("priority", strconv.Itoa(r.Priority)),
	}
	if !r.IsTagOnly() {
		lines = append(lines, field("category", categoryText(r.Category, r.Subcategory)))
	}
	if r.Merchant != "" {
		lines = append(lines, field("merchant", r.Merchant))
	}
	if len(r.Tags) > 0 {
		tags := make([]string, len(r.Tags))
		for i, t := range r.Tags {
			tags[i] = t.Text
		}
		lines = append(lines, field("tags", strings.Join(tags, ", ")))
	}
	for _, b := range r.Lets {
		lines = append(lines, field("let", b.Name+" = "+b.Text))
	}
	for _, b := range r.Fields {
		lines = append(lines, field("field", b.Name+" = "+b.Text))
	}
	lines = append(lines, field("source", string(r.Source)), "", SubtleStyle.Render(pattern.DescribeRule(r)))
	return RenderBox(r.Name, strings.Join(lines, "\n"))
}

// RenderRuleList shows one line per rule in evaluation order.
func RenderRuleList(rs []*rules.Rule) string {
	if len(rs) == 0 {
		return SubtleStyle.Render("No rules.")
	}
	nameWidth := 0
	for _, r := range rs {
		nameWidth = max(nameWidth, lipgloss.Width(r.Name))
	}
	nameStyle := BoldStyle.Width(nameWidth + 2)

	lines := make([]string, 0, len(rs))
	for _, r := range rs {
		target := categoryText(r.Category, r.Subcategory)
		if r.IsTagOnly() {
			target = TagIcon + strings.Join(r.LiteralTags(), " "+TagIcon)
		}
		lines = append(lines, fmt.Sprintf("%3d  %s%s  %s",
			r.Priority, nameStyle.Render(r.Name), target, SubtleStyle.Render(r.MatchText)))
	}
	return strings.Join(lines, "\n")
}

// RenderValidation shows what a rule would match.
func RenderValidation(r *rules.Rule, v *manager.ValidationResult) string {
	lines := []string{
		field("matches", strconv.Itoa(v.Matches)),
		field("total", v.Total.StringFixed(2)),
	}
	if v.Errors > 0 {
		lines = append(lines, field("errors", ErrorStyle.Render(strconv.Itoa(v.Errors))))
	}
	for _, txn := range v.Samples {
		lines = append(lines, field("sample", fmt.Sprintf("%s  %s  %s",
			txn.Date.Format("2006-01-02"), txn.Amount.StringFixed(2), txn.Description)))
	}
	for _, s := range v.Similar {
		lines = append(lines, field("similar", fmt.Sprintf("%s (%d, %s)", s.Description, s.Count, s.Total.StringFixed(2))))
	}
	for _, w := range v.Warnings {
		lines = append(lines, FormatWarning(w.Message))
	}
	return RenderBox("Validate "+r.Name, strings.Join(lines, "\n"))
}

// RenderViews shows the merchants each view selects.
func RenderViews(vs []*views.View, selected map[string][]string) string {
	sections := make([]string, 0, len(vs))
	for _, v := range vs {
		names := selected[v.Name]
		body := SubtleStyle.Render("(none)")
		if len(names) > 0 {
			body = strings.Join(names, "\n")
		}
		if v.Description != "" {
			body = SubtleStyle.Render(v.Description) + "\n" + body
		}
		sections = append(sections, RenderBox(fmt.Sprintf("%s (%d)", v.Name, len(names)), body))
	}
	return strings.Join(sections, "\n")
}

// RenderBuckets lists the budget bucket of each merchant, in summary order.
func RenderBuckets(summaries []*views.MerchantSummary, buckets map[string]string) string {
	lines := make([]string, 0, len(summaries))
	for _, s := range summaries {
		lines = append(lines, field(s.Total().StringFixed(2), s.Name+" "+SubtleStyle.Render(ArrowIcon+" "+buckets[s.Name])))
	}
	return RenderBox("Budget Buckets", strings.Join(lines, "\n"))
}

// RenderMatches lists stored match records one per line.
func RenderMatches(records []model.Classification) string {
	if len(records) == 0 {
		return SubtleStyle.Render("No matching transactions.")
	}
	lines := make([]string, 0, len(records))
	for _, c := range records {
		txn := c.Transaction
		target := ErrorStyle.Render(c.Error)
		if c.Result != nil {
			target = categoryText(c.Result.Category, c.Result.Subcategory)
			if len(c.Result.Tags) > 0 {
				target += " " + SubtleStyle.Render(TagIcon+strings.Join(c.Result.Tags, " "+TagIcon))
			}
		}
		lines = append(lines, fmt.Sprintf("%s  %10s  %-32s  %s",
			txn.Date.Format("2006-01-02"), txn.Amount.StringFixed(2), txn.Description, target))
	}
	return strings.Join(lines, "\n")
}

func categoryText(category, subcategory string) string {
	if subcategory == "" {
		return category
	}
	return category + " " + ArrowIcon + " " + subcategory
}
