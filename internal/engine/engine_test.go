package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/expr"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/rules"
)

const testRules = `is_large = amount > 500
is_holiday = month >= 11 and month <= 12

field.description = regex_replace(field.description, "^APLPAY\s+", "")
field.memo = trim(field.memo)

[Uber]
match: contains("UBER")
category: Transport
subcategory: Rideshare

[Uber Eats]
priority: 100
match: contains("UBER") and contains("EATS")
category: Food
subcategory: Delivery
tags: delivery

[Entertainment]
match: anyof("NETFLIX", "AMC")
category: Entertainment
tags: entertainment

[Starbucks]
match: startswith("STARBUCKS")
merchant: Starbucks
category: Food
subcategory: Coffee

[Apple Pay]
match: exists(field._raw_description) and startswith(field._raw_description, "APLPAY")
tags: applepay

[Large]
match: is_large
tags: large

[Holiday]
match: is_holiday
tags: holiday

[Amazon - Verified]
let: orders = [r for r in amazon_orders if r.amount == txn.amount]
match: contains("AMAZON") and len(orders) > 0
merchant: Amazon
category: Shopping
field: items = [r.item for r in orders]
field: order_count = len(orders)
tags: verified, project-{extract(field.memo, "PROJ:(\w+)")}
`

func mustRules(t *testing.T, text string) *rules.RuleSet {
	t.Helper()
	rs, err := rules.Parse(text)
	require.NoError(t, err)
	return rs
}

func txn(desc string, amount string, date string) *model.Transaction {
	d, err := time.Parse(time.DateOnly, date)
	if err != nil {
		panic(err)
	}
	return &model.Transaction{
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Date:        d,
		DataSources: model.DataSources{"amazon_orders": nil},
	}
}

func TestEngine_Match(t *testing.T) {
	eng := New(mustRules(t, testRules), Options{})

	tests := []struct {
		txn             *model.Transaction
		name            string
		wantCategory    string
		wantSubcategory string
		wantMerchant    string
		wantRule        string
		wantTags        []string
		wantInfo        bool
	}{
		{
			name:            "higher priority rule wins",
			txn:             txn("UBER EATS ORDER 1234", "23.10", "2024-06-03"),
			wantCategory:    "Food",
			wantSubcategory: "Delivery",
			wantMerchant:    "Uber Eats",
			wantRule:        "Uber Eats",
			wantTags:        []string{"delivery"},
			wantInfo:        true,
		},
		{
			name:            "plain uber",
			txn:             txn("UBER TRIP HELP.UBER.COM", "14.00", "2024-06-03"),
			wantCategory:    "Transport",
			wantSubcategory: "Rideshare",
			wantMerchant:    "Uber",
			wantRule:        "Uber",
			wantTags:        []string{},
			wantInfo:        true,
		},
		{
			name:            "tags accumulate from every matching rule",
			txn:             txn("AMC THEATRES 0412", "612.00", "2024-12-10"),
			wantCategory:    "Entertainment",
			wantSubcategory: model.UnknownCategory,
			wantMerchant:    "Entertainment",
			wantRule:        "Entertainment",
			wantTags:        []string{"entertainment", "large", "holiday"},
			wantInfo:        true,
		},
		{
			name:            "tag-only match leaves category unknown",
			txn:             txn("BEST BUY", "899.99", "2024-06-01"),
			wantCategory:    model.UnknownCategory,
			wantSubcategory: model.UnknownCategory,
			wantMerchant:    "Best Buy",
			wantRule:        "",
			wantTags:        []string{"large"},
			wantInfo:        true,
		},
		{
			name:            "no match",
			txn:             txn("CORNER BODEGA", "4.50", "2024-06-01"),
			wantCategory:    model.UnknownCategory,
			wantSubcategory: model.UnknownCategory,
			wantMerchant:    "Corner Bodega",
			wantTags:        []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Match(tt.txn)
			require.NoError(t, err)

			assert.Equal(t, tt.wantCategory, result.Category)
			assert.Equal(t, tt.wantSubcategory, result.Subcategory)
			assert.Equal(t, tt.wantMerchant, result.Merchant)
			assert.Equal(t, tt.wantTags, result.Tags)

			if !tt.wantInfo {
				assert.Nil(t, result.MatchInfo)
				return
			}
			require.NotNil(t, result.MatchInfo)
			assert.Equal(t, tt.wantRule, result.MatchInfo.RuleName)
			assert.Equal(t, tt.wantTags, result.MatchInfo.Tags)
		})
	}
}

func TestEngine_Match_FirstMatchTrace(t *testing.T) {
	eng := New(mustRules(t, testRules), Options{})

	result, err := eng.Match(txn("UBER EATS ORDER", "23.10", "2024-06-03"))
	require.NoError(t, err)

	require.NotEmpty(t, result.Trace)
	first := result.Trace[0]
	assert.Equal(t, "Uber Eats", first.Rule)
	assert.True(t, first.Matched)
	assert.True(t, first.Winner)
	assert.Equal(t, 2, first.Specificity)

	second := result.Trace[1]
	assert.Equal(t, "Uber", second.Rule)
	assert.True(t, second.Matched)
	assert.False(t, second.Winner)
	assert.Equal(t, "matched; shadowed by [Uber Eats]", second.Reason)
}

func TestEngine_Match_FirstMatchKeepsLoserTags(t *testing.T) {
	rs := mustRules(t, `
[Uber Eats]
match: contains("UBER") and contains("EATS")
category: Food
tags: delivery

[Uber Rides]
match: contains("UBER")
category: Transport
tags: rideshare
`)
	result, err := New(rs, Options{Mode: FirstMatch}).Match(txn("UBER EATS ORDER", "18.00", "2024-06-03"))
	require.NoError(t, err)

	assert.Equal(t, "Food", result.Category)
	assert.Equal(t, "Uber Eats", result.MatchInfo.RuleName)
	assert.Equal(t, []string{"delivery", "rideshare"}, result.Tags)

	require.Len(t, result.Trace, 2)
	assert.True(t, result.Trace[1].Matched)
	assert.Equal(t, []string{"rideshare"}, result.Trace[1].Tags)
}

func TestEngine_Match_MostSpecific(t *testing.T) {
	rs := mustRules(t, `
[Generic Amazon]
match: contains("AMAZON")
category: Shopping

[Amazon Prime]
match: contains("AMAZON") and contains("PRIME")
category: Subscriptions
`)
	prime := txn("AMAZON PRIME*2K4", "14.99", "2024-06-01")

	first, err := New(rs, Options{Mode: FirstMatch}).Match(prime)
	require.NoError(t, err)
	assert.Equal(t, "Shopping", first.Category)

	specific, err := New(rs, Options{Mode: MostSpecific}).Match(prime)
	require.NoError(t, err)
	assert.Equal(t, "Subscriptions", specific.Category)
	assert.Equal(t, "Amazon Prime", specific.MatchInfo.RuleName)

	require.Len(t, specific.Trace, 2)
	assert.True(t, specific.Trace[0].Matched)
	assert.False(t, specific.Trace[0].Winner)
	assert.Contains(t, specific.Trace[0].Reason, "less specific than [Amazon Prime]")
	assert.True(t, specific.Trace[1].Winner)

	plain, err := New(rs, Options{Mode: MostSpecific}).Match(txn("AMAZON MKTPL", "30", "2024-06-01"))
	require.NoError(t, err)
	assert.Equal(t, "Shopping", plain.Category)
}

func TestEngine_Match_EqualSpecificityKeepsFileOrder(t *testing.T) {
	rs := mustRules(t, `
[Coffee A]
match: contains("COFFEE")
category: A

[Coffee B]
match: contains("BEAN")
category: B
`)
	result, err := New(rs, Options{Mode: MostSpecific}).Match(txn("COFFEE BEAN", "5", "2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, "A", result.Category)

	// File order decides a tie even against a higher priority.
	rs = mustRules(t, `
[Coffee A]
match: contains("COFFEE")
category: A

[Coffee B]
priority: 90
match: contains("BEAN")
category: B
`)
	result, err = New(rs, Options{Mode: MostSpecific}).Match(txn("COFFEE BEAN", "5", "2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, "A", result.Category)
	assert.Equal(t, "matched; less specific than [Coffee A]", result.Trace[0].Reason)
}

func TestEngine_Match_Transforms(t *testing.T) {
	eng := New(mustRules(t, testRules), Options{})

	result, err := eng.Match(txn("APLPAY STARBUCKS 0142", "6.45", "2024-03-02"))
	require.NoError(t, err)

	assert.Equal(t, "Food", result.Category)
	assert.Equal(t, "Coffee", result.Subcategory)
	assert.Equal(t, "Starbucks", result.Merchant)
	assert.Equal(t, []string{"applepay"}, result.Tags)
	assert.Equal(t, "APLPAY STARBUCKS 0142", result.RawValues["_raw_description"])
	require.NotNil(t, result.MatchInfo)
	assert.Equal(t, "STARBUCKS 0142", result.MatchInfo.MatchedOn)

	// The memo transform is skipped when the column is absent, so nothing
	// is recorded for it.
	assert.NotContains(t, result.RawValues, "_raw_memo")
}

func TestEngine_Match_TransformOnCapturedField(t *testing.T) {
	eng := New(mustRules(t, testRules), Options{})

	tx := txn("CORNER BODEGA", "4.50", "2024-06-01")
	tx.Fields = map[string]string{"memo": "  cash back  "}

	result, err := eng.Match(tx)
	require.NoError(t, err)
	assert.Equal(t, "  cash back  ", result.RawValues["_raw_memo"])
	assert.Equal(t, "  cash back  ", tx.Fields["memo"], "input transaction must not be modified")
}

func TestEngine_Match_DataSources(t *testing.T) {
	eng := New(mustRules(t, testRules), Options{})

	tx := txn("AMAZON.COM*RT4", "42.50", "2024-05-14")
	tx.Fields = map[string]string{"memo": "PROJ:garden"}
	tx.DataSources = model.DataSources{
		"amazon_orders": {
			{"amount": "42.50", "item": "Hose"},
			{"amount": "10.00", "item": "Pen"},
			{"amount": "42.5", "item": "Trowel"},
		},
	}

	result, err := eng.Match(tx)
	require.NoError(t, err)

	assert.Equal(t, "Shopping", result.Category)
	assert.Equal(t, "Amazon", result.Merchant)
	assert.Equal(t, map[string]string{
		"items":       "Hose, Trowel",
		"order_count": "2",
	}, result.ExtraFields)
	assert.Equal(t, []string{"verified", "project-garden"}, result.Tags)
}

func TestEngine_Match_DynamicTagDropped(t *testing.T) {
	eng := New(mustRules(t, testRules), Options{})

	tx := txn("AMAZON.COM*RT4", "42.50", "2024-05-14")
	tx.DataSources = model.DataSources{
		"amazon_orders": {{"amount": "42.50", "item": "Hose"}},
	}

	result, err := eng.Match(tx)
	require.NoError(t, err)
	assert.Equal(t, []string{"verified"}, result.Tags)
}

func TestEngine_Match_Errors(t *testing.T) {
	t.Run("undefined data source in let", func(t *testing.T) {
		eng := New(mustRules(t, testRules), Options{})

		tx := txn("AMAZON.COM*RT4", "42.50", "2024-05-14")
		tx.DataSources = nil
		_, err := eng.Match(tx)
		require.Error(t, err)

		var ruleErr *RuleError
		require.ErrorAs(t, err, &ruleErr)
		assert.Equal(t, "Amazon - Verified", ruleErr.Rule)
		assert.Equal(t, "let orders", ruleErr.Directive)
		require.ErrorIs(t, err, expr.ErrUndefinedField)
	})

	t.Run("let evaluated even when match ignores it", func(t *testing.T) {
		eng := New(mustRules(t, `
[Food]
let: x = nonexistent_source
match: contains("A")
category: Food
`), Options{})

		_, err := eng.Match(txn("PASTA", "12", "2024-01-01"))
		var ruleErr *RuleError
		require.ErrorAs(t, err, &ruleErr)
		assert.Equal(t, "Food", ruleErr.Rule)
		assert.Equal(t, "let x", ruleErr.Directive)
		require.ErrorIs(t, err, expr.ErrUndefinedField)
	})

	t.Run("later let sees earlier let", func(t *testing.T) {
		eng := New(mustRules(t, `
[Split]
let: half = amount / 2
let: big_half = half > 10
match: big_half
category: Split
`), Options{})

		result, err := eng.Match(txn("DINNER", "30", "2024-01-01"))
		require.NoError(t, err)
		assert.Equal(t, "Split", result.Category)
	})

	t.Run("field directive", func(t *testing.T) {
		eng := New(mustRules(t, `
[Ratio]
match: *
category: Misc
field: ratio = amount / 0
`), Options{})

		_, err := eng.Match(txn("ANYTHING", "10", "2024-01-01"))
		var ruleErr *RuleError
		require.ErrorAs(t, err, &ruleErr)
		assert.Equal(t, "field ratio", ruleErr.Directive)
		require.ErrorIs(t, err, expr.ErrDivideByZero)
	})

	t.Run("transform type error", func(t *testing.T) {
		eng := New(mustRules(t, `
field.amount = "lots"

[Any]
match: *
category: Misc
`), Options{})

		_, err := eng.Match(txn("ANYTHING", "10", "2024-01-01"))
		var ruleErr *RuleError
		require.ErrorAs(t, err, &ruleErr)
		assert.Equal(t, "transform", ruleErr.Directive)
		require.ErrorIs(t, err, expr.ErrTypeMismatch)
	})

	t.Run("lazy and skips erroring operand", func(t *testing.T) {
		eng := New(mustRules(t, `
[Guarded]
match: contains("AMAZON") and len(nonexistent_source) > 0
category: Shopping
`), Options{})

		result, err := eng.Match(txn("NETFLIX.COM", "15.49", "2024-05-14"))
		require.NoError(t, err)
		assert.Equal(t, model.UnknownCategory, result.Category)
	})
}

func TestEngine_Match_Travel(t *testing.T) {
	rs := mustRules(t, `
[Hotel]
match: contains("HOTEL")
category: Travel
`)
	eng := New(rs, Options{HomeLocations: []string{"CA", " wa "}})

	tests := []struct {
		name     string
		location string
		want     bool
	}{
		{name: "away", location: "NY", want: true},
		{name: "home", location: "CA", want: false},
		{name: "home case-insensitive", location: "Wa", want: false},
		{name: "no location", location: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := txn("MARRIOTT HOTEL", "220", "2024-01-01")
			tx.Location = tt.location
			result, err := eng.Match(tx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Travel)
		})
	}

	result, err := New(rs, Options{}).Match(&model.Transaction{Description: "HOTEL", Location: "NY"})
	require.NoError(t, err)
	assert.False(t, result.Travel, "travel detection is off without home locations")
}

func TestEngine_Match_Deterministic(t *testing.T) {
	eng := New(mustRules(t, testRules), Options{Mode: MostSpecific})
	faker := gofakeit.New(42)

	for range 200 {
		tx := &model.Transaction{
			Description: faker.Company() + " " + faker.RandomString([]string{"UBER", "EATS", "AMC", "STARBUCKS", ""}),
			Amount:      decimal.NewFromFloat(faker.Price(1, 1200)).Round(2),
			Date:        faker.DateRange(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)),
			Location:    faker.StateAbr(),
			DataSources: model.DataSources{"amazon_orders": nil},
		}
		first, err := eng.Match(tx)
		require.NoError(t, err)
		second, err := eng.Match(tx)
		require.NoError(t, err)
		assert.Equal(t, first, second, tx.Description)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: FirstMatch},
		{in: "first_match", want: FirstMatch},
		{in: "Most_Specific", want: MostSpecific},
		{in: "best", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, must(ParseMode(got.String())))
		})
	}
}

func must(m Mode, err error) Mode {
	if err != nil {
		panic(err)
	}
	return m
}

func TestEngine_MatchAll(t *testing.T) {
	eng := New(mustRules(t, testRules), Options{})

	txns := []model.Transaction{
		*txn("UBER TRIP", "12", "2024-06-01"),
		*txn("BEST BUY", "900", "2024-06-01"),
		*txn("CORNER BODEGA", "4", "2024-06-01"),
		*txn("AMAZON.COM", "42.50", "2024-06-01"),
		*txn("NETFLIX.COM", "15.49", "2024-06-01"),
	}
	txns[3].DataSources = nil

	var seen atomic.Int32
	outcomes, err := eng.MatchAll(context.Background(), txns, BatchOptions{
		Workers:  3,
		Observer: ObserverFunc(func(Outcome) { seen.Add(1) }),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, len(txns))
	assert.Equal(t, int32(len(txns)), seen.Load())

	for i, o := range outcomes {
		assert.Equal(t, i, o.Index)
		assert.Same(t, &txns[i], o.Transaction)
	}
	assert.Equal(t, model.StatusCategorized, outcomes[0].Status())
	assert.Equal(t, model.StatusTagged, outcomes[1].Status())
	assert.Equal(t, model.StatusUnmatched, outcomes[2].Status())
	assert.Equal(t, model.StatusFailed, outcomes[3].Status())
	assert.Equal(t, model.StatusCategorized, outcomes[4].Status())

	summary := Summarize(outcomes, time.Second)
	assert.Equal(t, BatchSummary{
		Total:          5,
		Categorized:    2,
		TaggedOnly:     1,
		Unmatched:      1,
		Failed:         1,
		ProcessingTime: time.Second,
	}, summary)
}

func TestEngine_MatchAll_FailFast(t *testing.T) {
	eng := New(mustRules(t, testRules), Options{})
	txns := []model.Transaction{*txn("AMAZON.COM", "42.50", "2024-06-01")}
	txns[0].DataSources = nil

	_, err := eng.MatchAll(context.Background(), txns, BatchOptions{Workers: 1, FailFast: true})
	var ruleErr *RuleError
	require.ErrorAs(t, err, &ruleErr)
}

func TestEngine_MatchAll_Cancelled(t *testing.T) {
	eng := New(mustRules(t, testRules), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.MatchAll(ctx, []model.Transaction{*txn("UBER", "1", "2024-01-01")}, DefaultBatchOptions())
	require.ErrorIs(t, err, context.Canceled)
}
