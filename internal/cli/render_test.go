package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/manager"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/pattern"
	"github.com/Veraticus/tally/internal/rules"
	"github.com/Veraticus/tally/internal/views"
)

const renderRules = `[Uber]
match: contains("UBER")
category: Transport
subcategory: Rideshare

[Uber Eats]
priority: 90
match: contains("UBER EATS")
merchant: Uber Eats
category: Food
tags: delivery

[Netflix]
match: contains("NETFLIX")
category: Subscriptions

[Large]
match: amount > 25
tags: large
`

func explain(t *testing.T, desc, amount string) (*model.Transaction, *model.MatchResult) {
	t.Helper()
	rs, err := rules.Parse(renderRules)
	require.NoError(t, err)
	txn := &model.Transaction{
		Date:        time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Location:    "CA",
	}
	result, err := engine.New(rs, engine.Options{HomeLocations: []string{"NY"}}).Explain(txn)
	require.NoError(t, err)
	return txn, result
}

func TestRenderExplain(t *testing.T) {
	txn, result := explain(t, "UBER EATS PENDING", "31.50")
	out := RenderExplain(txn, result)

	for _, want := range []string{
		"UBER EATS PENDING",
		"31.50",
		"2024-05-02",
		"Uber Eats",
		"Food",
		"delivery, large",
		"travel",
		"matched; sets category",
		"matched; shadowed by [Uber Eats]",
		"no match",
	} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, strings.Index(out, "[Uber Eats]"), strings.Index(out, "Netflix"), "rules are listed in evaluation order")
}

func TestRenderExplain_Unmatched(t *testing.T) {
	txn, result := explain(t, "CORNER STORE", "3.00")
	out := RenderExplain(txn, result)
	assert.Contains(t, out, model.UnknownCategory)
	assert.NotContains(t, out, "sets category")

	empty := RenderExplain(txn, &model.MatchResult{Merchant: "CORNER STORE"})
	assert.Contains(t, empty, "no rules loaded")
}

func TestRenderSummary(t *testing.T) {
	out := RenderSummary(engine.BatchSummary{
		Total: 10, Categorized: 6, TaggedOnly: 1, Unmatched: 2, Failed: 1,
		ProcessingTime: 1500 * time.Millisecond,
	}, map[string]int{"large": 2, "delivery": 5, "business": 2})

	assert.Contains(t, out, "Run Summary")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "delivery (5), business (2), large (2)")

	clean := RenderSummary(engine.BatchSummary{Total: 1, Categorized: 1}, nil)
	assert.NotContains(t, clean, "failed")
	assert.NotContains(t, clean, "tags")
}

func TestRenderRule(t *testing.T) {
	rs, err := rules.Parse(renderRules)
	require.NoError(t, err)
	eats, ok := rs.Lookup("Uber Eats")
	require.True(t, ok)

	out := RenderRule(eats)
	assert.Contains(t, out, `contains("UBER EATS")`)
	assert.Contains(t, out, "90")
	assert.Contains(t, out, "delivery")
	assert.Contains(t, out, pattern.DescribeRule(eats))

	list := RenderRuleList(rs.Ordered())
	lines := strings.Split(list, "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "Uber Eats")
	assert.Contains(t, lines[3], "#large")

	assert.Contains(t, RenderRuleList(nil), "No rules")
}

func TestRenderValidation(t *testing.T) {
	rs, err := rules.Parse(renderRules)
	require.NoError(t, err)
	uber, _ := rs.Lookup("Uber")

	out := RenderValidation(uber, &manager.ValidationResult{
		Matches: 1,
		Total:   decimal.RequireFromString("18.2"),
		Samples: []model.Transaction{{Description: "UBER TRIP", Amount: decimal.RequireFromString("18.2")}},
		Warnings: []manager.ValidationWarning{
			{Kind: manager.WarnShadowed, Message: "shadowed by [Uber Eats]"},
		},
	})
	assert.Contains(t, out, "Validate Uber")
	assert.Contains(t, out, "18.20")
	assert.Contains(t, out, "UBER TRIP")
	assert.Contains(t, out, "shadowed by [Uber Eats]")
}

func TestRenderViews(t *testing.T) {
	vs, err := views.Parse("[Monthly]\ndescription: Bills\nfilter: months >= 3\n\n[Big]\nfilter: total > 1000\n")
	require.NoError(t, err)

	out := RenderViews(vs, map[string][]string{"Monthly": {"Netflix", "Spotify"}})
	assert.Contains(t, out, "Monthly (2)")
	assert.Contains(t, out, "Spotify")
	assert.Contains(t, out, "Big (0)")
	assert.Contains(t, out, "(none)")
}

func TestRenderBuckets(t *testing.T) {
	summaries := []*views.MerchantSummary{
		{Name: "Delta", Transactions: []views.Point{{Amount: decimal.RequireFromString("1450")}}},
	}
	out := RenderBuckets(summaries, map[string]string{"Delta": "travel (/12)"})
	assert.Contains(t, out, "1450.00")
	assert.Contains(t, out, "Delta")
	assert.Contains(t, out, "travel (/12)")
}

func TestRenderMatches(t *testing.T) {
	records := []model.Classification{
		{
			Transaction: model.Transaction{Description: "UBER TRIP", Amount: decimal.RequireFromString("18.2")},
			Result:      &model.MatchResult{Category: "Transport", Subcategory: "Rideshare", Tags: []string{"business"}},
		},
		{
			Transaction: model.Transaction{Description: "BROKEN", Amount: decimal.NewFromInt(1)},
			Error:       "type mismatch",
		},
	}
	lines := strings.Split(RenderMatches(records), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "18.20")
	assert.Contains(t, lines[0], "Transport → Rideshare")
	assert.Contains(t, lines[0], "#business")
	assert.Contains(t, lines[1], "type mismatch")

	assert.Contains(t, RenderMatches(nil), "No matching")
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(3, &buf)
	p.Observe(engine.Outcome{Result: &model.MatchResult{}})
	p.Observe(engine.Outcome{Err: errors.New("boom")})
	p.Observe(engine.Outcome{Result: &model.MatchResult{}})
	p.Finish()

	assert.Equal(t, 1, p.Failed())
	assert.Contains(t, buf.String(), "3/3")
}
