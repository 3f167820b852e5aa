package pattern

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/Veraticus/tally/internal/expr"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/rules"
)

// Default limits for SimilarUnmatched.
const (
	DefaultSimilarThreshold = 0.3
	DefaultSimilarLimit     = 3
)

// substringScore is the minimum score of a description that contains the
// pattern outright.
const substringScore = 0.8

// Suggestion is an unmatched description that resembles a pattern.
type Suggestion struct {
	Description string          `json:"description"`
	Total       decimal.Decimal `json:"total"`
	Count       int             `json:"count"`
	Score       float64         `json:"score"`
}

// SimilarUnmatched groups unmatched transactions by description and returns
// the ones closest to pattern, best first. Totals use absolute amounts.
func SimilarUnmatched(pattern string, unmatched []model.Transaction, threshold float64, limit int) []Suggestion {
	type group struct {
		total decimal.Decimal
		count int
	}
	groups := make(map[string]*group)
	var order []string
	for _, txn := range unmatched {
		desc := txn.RawDescription
		if desc == "" {
			desc = txn.Description
		}
		g, ok := groups[desc]
		if !ok {
			g = &group{}
			groups[desc] = g
			order = append(order, desc)
		}
		g.count++
		g.total = g.total.Add(txn.Amount.Abs())
	}

	want := []rune(strings.ToUpper(pattern))
	var out []Suggestion
	for _, desc := range order {
		upper := strings.ToUpper(desc)
		score := levenshtein.RatioForStrings(want, []rune(upper), levenshtein.DefaultOptions)
		if strings.Contains(upper, string(want)) && score < substringScore {
			score = substringScore
		}
		if score < threshold {
			continue
		}
		g := groups[desc]
		out = append(out, Suggestion{Description: desc, Count: g.count, Total: g.total.Round(2), Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Description < out[j].Description
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// DescribeRule explains a rule in a sentence, e.g. "Transactions matching
// COSTCO over $200 are categorized as Shopping > Bulk".
func DescribeRule(r *rules.Rule) string {
	subject := r.MatchText
	if text, ok := ExtractTextFromNode(r.Match); ok {
		subject = text
	}
	if _, all := r.Match.(*expr.MatchAll); all {
		subject = "anything"
	}

	reason := fmt.Sprintf("Transactions matching %s", subject)
	for _, c := range expr.Conjuncts(r.Match) {
		reason += amountClause(c)
	}

	if r.IsTagOnly() {
		tags := r.LiteralTags()
		if len(tags) == 0 {
			return reason + " are tagged dynamically"
		}
		return reason + " are tagged " + strings.Join(tags, ", ")
	}

	category := r.Category
	if r.Subcategory != "" {
		category += " > " + r.Subcategory
	}
	return reason + " are categorized as " + category
}

// amountClause renders a comparison of amount against a number literal.
func amountClause(n expr.Node) string {
	b, ok := n.(*expr.Binary)
	if !ok {
		return ""
	}
	id, ok := b.Left.(*expr.Ident)
	if !ok || !strings.EqualFold(id.Name, "amount") {
		return ""
	}
	lit, ok := b.Right.(*expr.Literal)
	if !ok {
		return ""
	}
	d, ok := lit.Value.AsNumber()
	if !ok || lit.Value.Kind() != expr.KindNumber {
		return ""
	}
	amount := "$" + d.StringFixed(2)
	switch b.Op {
	case expr.TokenGt, expr.TokenGe:
		return " over " + amount
	case expr.TokenLt, expr.TokenLe:
		return " under " + amount
	case expr.TokenEq:
		return " of exactly " + amount
	}
	return ""
}
