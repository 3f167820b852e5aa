package legacy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/model"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		wantExpr string
		wantErr  error
	}{
		{
			name:     "plain",
			pattern:  "NETFLIX",
			wantExpr: `regex("NETFLIX")`,
		},
		{
			name:     "amount threshold",
			pattern:  "COSTCO[amount>200]",
			wantExpr: `regex("COSTCO") and amount > 200`,
		},
		{
			name:     "equality becomes ==",
			pattern:  "GYM[amount=49.99]",
			wantExpr: `regex("GYM") and amount == 49.99`,
		},
		{
			name:     "amount range",
			pattern:  "SHELL[amount:20-80]",
			wantExpr: `regex("SHELL") and amount >= 20 and amount <= 80`,
		},
		{
			name:     "date range",
			pattern:  "UNITED[date:2024-06-01..2024-06-30]",
			wantExpr: `regex("UNITED") and date >= "2024-06-01" and date <= "2024-06-30"`,
		},
		{
			name:     "stacked modifiers keep order",
			pattern:  "AMAZON[month=12][amount>=100]",
			wantExpr: `regex("AMAZON") and month == 12 and amount >= 100`,
		},
		{
			name:     "exact date",
			pattern:  "IRS[date=2024-04-15]",
			wantExpr: `regex("IRS") and date == "2024-04-15"`,
		},
		{
			name:     "character class stays in the regex",
			pattern:  `STORE[0-9]+`,
			wantExpr: `regex("STORE[0-9]+")`,
		},
		{
			name:     "backslashes survive quoting",
			pattern:  `CHECK\s+\d+`,
			wantExpr: `regex("CHECK\\s+\\d+")`,
		},
		{
			name:     "negative lookahead group",
			pattern:  `UBER\s(?!EATS)`,
			wantExpr: `regex("UBER\\s(?!EATS)")`,
		},
		{
			name:     "lookahead right after a word",
			pattern:  `COSTCO(?!.*GAS)`,
			wantExpr: `regex("COSTCO(?!.*GAS)")`,
		},
		{
			name:     "alternation group",
			pattern:  `(AMZN|AMAZON)`,
			wantExpr: `regex("(AMZN|AMAZON)")`,
		},
		{
			name:     "lookbehind is not a comparison",
			pattern:  `(?<=SQ \*)BLUE`,
			wantExpr: `regex("(?<=SQ \\*)BLUE")`,
		},
		{
			name:     "group with modifier",
			pattern:  `(AMZN|AMAZON)[amount>100]`,
			wantExpr: `regex("(AMZN|AMAZON)") and amount > 100`,
		},
		{
			name:     "field comparison passes through",
			pattern:  `field.card_member == "PAT"`,
			wantExpr: `field.card_member == "PAT"`,
		},
		{
			name:     "existing expression passes through",
			pattern:  `contains("UBER") and amount > 10`,
			wantExpr: `contains("UBER") and amount > 10`,
		},
		{
			name:    "unknown variable",
			pattern: "FOO[color=3]",
			wantErr: ErrUnknownVariable,
		},
		{
			name:    "merchant-level variable",
			pattern: "FOO[months>=6]",
			wantErr: ErrMerchantVariable,
		},
		{
			name:    "percent on transaction variable",
			pattern: "FOO[amount>50%]",
			wantErr: ErrBadModifier,
		},
		{
			name:    "empty",
			pattern: "  ",
			wantErr: ErrEmptyPattern,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PatternExpr(tt.pattern)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantExpr, got)
		})
	}
}

func TestCondition_Threshold(t *testing.T) {
	tests := []struct {
		cond      Condition
		numMonths int
		want      float64
	}{
		{cond: Condition{Value: 6}, numMonths: 12, want: 6},
		{cond: Condition{Value: 50, Percent: true}, numMonths: 12, want: 6},
		{cond: Condition{Value: 50, Percent: true}, numMonths: 3, want: 2},
		{cond: Condition{Value: 25, Percent: true}, numMonths: 10, want: 2},
		{cond: Condition{Value: 75, Percent: true}, numMonths: 7, want: 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cond.Threshold(tt.numMonths))
	}
}

const csvRules = `Pattern,Merchant,Category,Subcategory,Tags,Priority
# Bulk trips are their own thing
COSTCO[amount>200],Costco Bulk,Shopping,Bulk,warehouse|big
COSTCO,Costco,Food,Grocery
NETFLIX,Netflix,Subscriptions,Streaming,"streaming,tv",90

,Nobody,Nothing
SPOTIFY,,Subscriptions
STARBUCKS,Starbucks,Food,Coffee,,notanumber
`

func TestReadCSV(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader(csvRules))
	require.NoError(t, err)
	require.Len(t, rows, 5)

	assert.Equal(t, Row{
		Pattern:     "COSTCO[amount>200]",
		Merchant:    "Costco Bulk",
		Category:    "Shopping",
		Subcategory: "Bulk",
		Tags:        []string{"warehouse", "big"},
		Priority:    50,
		Line:        3,
	}, rows[0])

	assert.Equal(t, "Grocery", rows[1].Subcategory)
	assert.Empty(t, rows[1].Tags)

	assert.Equal(t, []string{"streaming", "tv"}, rows[2].Tags)
	assert.Equal(t, 90, rows[2].Priority)

	assert.Equal(t, "SPOTIFY", rows[3].Pattern)
	assert.Empty(t, rows[3].Merchant)
	assert.Empty(t, rows[3].Subcategory)

	assert.Equal(t, 50, rows[4].Priority, "bad priority falls back to the default")
}

func TestLoadCSV_Routing(t *testing.T) {
	rs, err := LoadCSV(strings.NewReader(csvRules))
	require.NoError(t, err)
	require.Equal(t, 5, rs.Len())

	ordered := rs.Ordered()
	assert.Equal(t, "Netflix", ordered[0].Name, "priority 90 sorts first")

	spotify, ok := rs.Lookup("spotify")
	require.True(t, ok)
	assert.Equal(t, "Spotify", spotify.MerchantName())
	assert.True(t, spotify.Subcategory == "")

	eng := engine.New(rs, engine.Options{})
	match := func(desc, amount string) *model.MatchResult {
		t.Helper()
		res, err := eng.Match(&model.Transaction{
			Description: desc,
			Amount:      decimal.RequireFromString(amount),
			Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		return res
	}

	bulk := match("COSTCO WHSE #0455", "312.18")
	assert.Equal(t, "Costco Bulk", bulk.Merchant)
	assert.Equal(t, "Shopping", bulk.Category)
	assert.Equal(t, []string{"warehouse", "big"}, bulk.Tags)

	small := match("COSTCO WHSE #0455", "45.00")
	assert.Equal(t, "Costco", small.Merchant)
	assert.Equal(t, "Food", small.Category)
	assert.Equal(t, "Grocery", small.Subcategory)
}

func TestLoadCSVFile(t *testing.T) {
	t.Run("missing file is empty", func(t *testing.T) {
		rs, err := LoadCSVFile(filepath.Join(t.TempDir(), "nope.csv"))
		require.NoError(t, err)
		assert.Equal(t, 0, rs.Len())
	})

	t.Run("bad modifier reports its line", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.csv")
		require.NoError(t, os.WriteFile(path, []byte("NETFLIX,Netflix,Subs\nFOO[amount>],Foo,Bar\n"), 0o600))

		_, err := LoadCSVFile(path)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 2, pe.Line)
	})
}

func TestLoadCSV_RegexGroups(t *testing.T) {
	const groupRules = `Pattern,Merchant,Category,Subcategory
UBER\s(?!EATS),Uber,Transport,Rideshare
UBER\sEATS,Uber Eats,Food,Delivery
COSTCO(?!.*GAS),Costco,Food,Grocery
COSTCO.*GAS,Costco Gas,Transport,Fuel
(AMZN|AMAZON),Amazon,Shopping
`
	rs, err := LoadCSV(strings.NewReader(groupRules))
	require.NoError(t, err)
	require.Equal(t, 5, rs.Len())

	eng := engine.New(rs, engine.Options{})
	tests := []struct {
		desc     string
		merchant string
		category string
	}{
		{desc: "UBER TRIP HELP.UBER.COM", merchant: "Uber", category: "Transport"},
		{desc: "UBER EATS ORDER", merchant: "Uber Eats", category: "Food"},
		{desc: "COSTCO WHSE #0455", merchant: "Costco", category: "Food"},
		{desc: "COSTCO GAS #0455", merchant: "Costco Gas", category: "Transport"},
		{desc: "AMZN MKTP US*2K4", merchant: "Amazon", category: "Shopping"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			res, err := eng.Match(&model.Transaction{
				Description: tt.desc,
				Amount:      decimal.RequireFromString("20"),
				Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.merchant, res.Merchant)
			assert.Equal(t, tt.category, res.Category)
		})
	}
}

func TestIsExpression(t *testing.T) {
	tests := []struct {
		pattern string
		want    bool
	}{
		{pattern: `contains("UBER")`, want: true},
		{pattern: `anyof("AMZN", "AMAZON")`, want: true},
		{pattern: `amount > 10 and day == 1`, want: true},
		{pattern: `txn.amount >= 100`, want: true},
		{pattern: "*", want: true},
		{pattern: `UBER\s(?!EATS)`, want: false},
		{pattern: `COSTCO(?!.*GAS)`, want: false},
		{pattern: `(AMZN|AMAZON)`, want: false},
		{pattern: `STORE[0-9]+`, want: false},
		{pattern: "NETFLIX", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsExpression(tt.pattern), tt.pattern)
	}
}

func TestDeriveName(t *testing.T) {
	tests := map[string]string{
		"NETFLIX":                  "Netflix",
		"WHOLE_FOODS":              "Whole Foods",
		"COSTCO[amount>200]":       "Costco",
		`contains("UBER EATS")`:    "Uber Eats",
		`amount > 10 and day == 1`: "Rule",
	}
	for in, want := range tests {
		assert.Equal(t, want, DeriveName(in), in)
	}
}

func TestParseClassificationRules(t *testing.T) {
	text := `
# Buckets
category=Travel -> travel,avg
category=Bills,subcategory=Rent[months>=50%] -> monthly,avg
[months>=3][cv<0.5] -> periodic,auto
[count=1] -> one_off,/12
* -> variable,/12
`
	rs, err := ParseClassificationRules(text)
	require.NoError(t, err)
	require.Len(t, rs, 5)

	assert.Equal(t, []FieldMatch{{Field: "category", Value: "Travel"}}, rs[0].Fields)
	assert.Equal(t, []FieldMatch{
		{Field: "category", Value: "Bills"},
		{Field: "subcategory", Value: "Rent"},
	}, rs[1].Fields)
	require.Len(t, rs[1].Conditions, 1)
	assert.True(t, rs[1].Conditions[0].Percent)
	assert.Len(t, rs[2].Conditions, 2)
	assert.True(t, rs[4].Default)

	tests := []struct {
		name       string
		stats      MerchantStats
		wantBucket Bucket
		wantCalc   CalcType
	}{
		{
			name:       "travel category",
			stats:      MerchantStats{Category: "Travel", MonthsActive: 1, Count: 2},
			wantBucket: BucketTravel,
			wantCalc:   CalcAvg,
		},
		{
			name:       "rent every month",
			stats:      MerchantStats{Category: "Bills", Subcategory: "Rent", MonthsActive: 12, Count: 12},
			wantBucket: BucketMonthly,
			wantCalc:   CalcAvg,
		},
		{
			name:       "rent too rarely",
			stats:      MerchantStats{Category: "Bills", Subcategory: "Rent", MonthsActive: 4, Count: 4, CV: 0.1},
			wantBucket: BucketPeriodic,
			wantCalc:   CalcAvg,
		},
		{
			name:       "periodic but erratic",
			stats:      MerchantStats{MonthsActive: 5, Count: 5, CV: 0.4},
			wantBucket: BucketPeriodic,
			wantCalc:   CalcYearly,
		},
		{
			name:       "single purchase",
			stats:      MerchantStats{MonthsActive: 1, Count: 1, Total: 900},
			wantBucket: BucketOneOff,
			wantCalc:   CalcYearly,
		},
		{
			name:       "fallback",
			stats:      MerchantStats{MonthsActive: 2, Count: 3, CV: 0.9},
			wantBucket: BucketVariable,
			wantCalc:   CalcYearly,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, calc := Classify(tt.stats, rs, 12)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantCalc, calc)
		})
	}
}

func TestParseClassificationRule_Errors(t *testing.T) {
	tests := []struct {
		line    string
		wantErr error
	}{
		{line: "category=Bills", wantErr: ErrBadRule},
		{line: "* -> sometimes,avg", wantErr: ErrBadBucket},
		{line: "* -> monthly,median", wantErr: ErrBadCalcType},
		{line: "merchant=Foo -> monthly,avg", wantErr: ErrBadField},
		{line: "[amount>5] -> monthly,avg", wantErr: ErrUnknownVariable},
		{line: "[months>>5] -> monthly,avg", wantErr: ErrBadModifier},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := ParseClassificationRule(tt.line, 7)
			require.ErrorIs(t, err, tt.wantErr)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, 7, pe.Line)
		})
	}
}

func TestFallbackClassificationRules(t *testing.T) {
	rs := FallbackClassificationRules()
	bucket, calc := Classify(MerchantStats{Count: 40, CV: 0.01}, rs, 12)
	assert.Equal(t, BucketVariable, bucket)
	assert.Equal(t, CalcYearly, calc)
}

func TestResolveCalcType(t *testing.T) {
	assert.Equal(t, CalcAvg, ResolveCalcType(CalcAuto, 0.29))
	assert.Equal(t, CalcYearly, ResolveCalcType(CalcAuto, 0.3))
	assert.Equal(t, CalcAvg, ResolveCalcType(CalcAvg, 2))
}
