package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/expr"
	"github.com/Veraticus/tally/internal/model"
)

const sampleRules = `# Merchant rules
is_large = amount > 500
is_holiday = month >= 11 and month <= 12

field.description = regex_replace(field.description, "^APLPAY\\s+", "")
field.memo = trim(field.memo)

[Uber]
match: contains("UBER")
category: Transport
subcategory: Rideshare

[Uber Eats]
# More specific, so it goes first.
priority: 100
match: contains("UBER") and contains("EATS")
category: Food
subcategory: Delivery
tags: delivery, {field.card}

[Large Purchase]
match: is_large
tags: large

[Amazon - Verified]
let: orders = [r for r in amazon_orders if r.amount == txn.amount]
let: total = sum(r.amount for r in orders)
match: contains("AMAZON") and len(orders) > 0
merchant: Amazon
category: Shopping
field: items = [r.item for r in orders]
field: order_count = len(orders)
tags: verified, project-{extract(field.memo, "PROJ:(\w+)")}
`

func TestParse(t *testing.T) {
	rs, err := Parse(sampleRules)
	require.NoError(t, err)

	require.Len(t, rs.Variables, 2)
	assert.Equal(t, "is_large", rs.Variables[0].Name)
	assert.Equal(t, "amount > 500", rs.Variables[0].Text)
	assert.Equal(t, 2, rs.Variables[0].Line)

	require.Len(t, rs.Transforms, 2)
	assert.Equal(t, "description", rs.Transforms[0].Field)
	assert.Equal(t, "memo", rs.Transforms[1].Field)

	require.Len(t, rs.Rules, 4)
	uber := rs.Rules[0]
	assert.Equal(t, "Uber", uber.Name)
	assert.Equal(t, `contains("UBER")`, uber.MatchText)
	assert.Equal(t, "Transport", uber.Category)
	assert.Equal(t, "Rideshare", uber.Subcategory)
	assert.Equal(t, DefaultPriority, uber.Priority)
	assert.Equal(t, "Uber", uber.MerchantName())
	assert.Equal(t, model.SourceUser, uber.Source)
	assert.Equal(t, 1, uber.Specificity)
	assert.Equal(t, 8, uber.Line)

	eats := rs.Rules[1]
	assert.Equal(t, 100, eats.Priority)
	assert.Equal(t, 2, eats.Specificity)
	require.Len(t, eats.Tags, 2)
	assert.False(t, eats.Tags[0].IsDynamic())
	assert.True(t, eats.Tags[1].IsDynamic())
	assert.Equal(t, []string{"delivery"}, eats.LiteralTags())

	large := rs.Rules[2]
	assert.True(t, large.IsTagOnly())

	amazon := rs.Rules[3]
	assert.Equal(t, "Amazon", amazon.MerchantName())
	require.Len(t, amazon.Lets, 2)
	assert.Equal(t, "orders", amazon.Lets[0].Name)
	require.Len(t, amazon.Fields, 2)
	assert.Equal(t, "order_count", amazon.Fields[1].Name)
	require.Len(t, amazon.Tags, 2)
	assert.Equal(t, `project-{extract(field.memo, "PROJ:(\w+)")}`, amazon.Tags[1].Text)
	require.Len(t, amazon.Tags[1].Parts, 2)
	assert.Equal(t, "project-", amazon.Tags[1].Parts[0].Literal)
	assert.NoError(t, amazon.Tags[1].Err)
}

func TestOrdered(t *testing.T) {
	rs, err := Parse(sampleRules)
	require.NoError(t, err)

	var names []string
	for _, r := range rs.Ordered() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"Uber Eats", "Uber", "Large Purchase", "Amazon - Verified"}, names)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		err   error
		name  string
		input string
		rule  string
		line  int
	}{
		{
			name:  "missing match",
			input: "[Coffee]\ncategory: Food\n",
			err:   ErrMissingMatch,
			rule:  "Coffee",
			line:  1,
		},
		{
			name:  "unknown directive",
			input: "[Coffee]\nmatch: contains(\"X\")\ncolour: blue\n",
			err:   ErrUnknownDirective,
			rule:  "Coffee",
			line:  3,
		},
		{
			name:  "duplicate singular directive",
			input: "[Coffee]\nmatch: contains(\"X\")\ncategory: Food\ncategory: Drink\n",
			err:   ErrDuplicateDirective,
			rule:  "Coffee",
			line:  4,
		},
		{
			name:  "directive at file scope",
			input: "match: contains(\"X\")\n",
			err:   ErrOutsideBlock,
			line:  1,
		},
		{
			name:  "global after first rule",
			input: "[A]\nmatch: *\n\nis_big = amount > 5\n",
			err:   ErrMisplacedGlobal,
			line:  4,
		},
		{
			name:  "bad priority",
			input: "[A]\nmatch: *\npriority: high\n",
			err:   ErrBadPriority,
			rule:  "A",
			line:  3,
		},
		{
			name:  "empty header",
			input: "[ ]\nmatch: *\n",
			err:   ErrBadHeader,
			line:  1,
		},
		{
			name:  "bad let",
			input: "[A]\nlet: orders\nmatch: *\n",
			err:   ErrBadBinding,
			rule:  "A",
			line:  2,
		},
		{
			name:  "garbage line",
			input: "[A]\nmatch: *\ncategory Food\n",
			err:   ErrBadLine,
			rule:  "A",
			line:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)

			var fe *FileError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.line, fe.Line)
			assert.Equal(t, tt.rule, fe.Rule)
		})
	}
}

func TestParseExpressionErrorsAreFatal(t *testing.T) {
	_, err := Parse("[A]\nmatch: contains(\"X\") and\ncategory: Food\n")
	var fe *FileError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 2, fe.Line)
	assert.Equal(t, "A", fe.Rule)
	var syn *expr.SyntaxError
	assert.ErrorAs(t, err, &syn)

	_, err = Parse("[A]\nmatch: regex(\"(unclosed\")\n")
	assert.ErrorIs(t, err, expr.ErrInvalidRegex)

	_, err = Parse("broken = amount >\n")
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Line)
}

func TestDynamicTagParseFailureIsKept(t *testing.T) {
	rs, err := Parse("[A]\nmatch: *\ntags: ok, {field.}, {unclosed\n")
	require.NoError(t, err)

	tags := rs.Rules[0].Tags
	require.Len(t, tags, 3)
	assert.NoError(t, tags[0].Err)
	assert.Error(t, tags[1].Err)
	assert.Error(t, tags[2].Err)
}

func TestParseTagsSplitsOnTopLevelCommas(t *testing.T) {
	tags := ParseTags(`a, {extract(field.memo, "X,(\d+)")}, , b`)
	require.Len(t, tags, 3)
	assert.Equal(t, "a", tags[0].Text)
	assert.Equal(t, `{extract(field.memo, "X,(\d+)")}`, tags[1].Text)
	assert.Equal(t, "b", tags[2].Text)
}

func TestMatchStarAndCommentsInsideBlocks(t *testing.T) {
	rs, err := Parse("[All]\n# tag everything\nmatch: *\ntags: {source}\n")
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, 0, rs.Rules[0].Specificity)
	_, isAll := rs.Rules[0].Match.(*expr.MatchAll)
	assert.True(t, isAll)
}

func TestLoadMergesBaseline(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "merchants.rules")
	basePath := filepath.Join(dir, "baseline.rules")

	require.NoError(t, os.WriteFile(userPath, []byte("limit = 10\n\n[Coffee]\nmatch: contains(\"COFFEE\")\ncategory: Food\n"), 0o600))
	require.NoError(t, os.WriteFile(basePath, []byte("limit = 99\nother = 1\n\n[Netflix]\nmatch: contains(\"NETFLIX\")\ncategory: Subscriptions\n\n[Cafe]\nmatch: contains(\"CAFE\")\ncategory: Food\n"), 0o600))

	rs, err := Load(userPath, basePath)
	require.NoError(t, err)

	require.Len(t, rs.Rules, 3)
	assert.Equal(t, model.SourceUser, rs.Rules[0].Source)
	assert.Equal(t, model.SourceBaseline, rs.Rules[1].Source)
	assert.Equal(t, 2, rs.Rules[2].Order)

	names := map[string]string{}
	for _, v := range rs.Variables {
		names[v.Name] = v.Text
	}
	assert.Equal(t, map[string]string{"limit": "10", "other": "1"}, names)

	r, ok := rs.Lookup("netflix")
	require.True(t, ok)
	assert.Equal(t, "Netflix", r.Name)

	_, err = Load(filepath.Join(dir, "missing.rules"), "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileErrorIncludesPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.rules")
	require.NoError(t, os.WriteFile(path, []byte("[A]\nmatch: *\nbogus: 1\n"), 0o600))

	_, err := ParseFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path+":3: [A]:")
}
