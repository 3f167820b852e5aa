package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	rs, err := Parse(`[Uber Eats]
tags: food, delivery
category: Food
match: contains("UBER") and contains("EATS")
priority: 100
merchant: Uber Eats
subcategory: Delivery
let: big = amount > 50
field: kind = "meal"
`)
	require.NoError(t, err)

	want := `[Uber Eats]
priority: 100
let: big = amount > 50
match: contains("UBER") and contains("EATS")
category: Food
subcategory: Delivery
field: kind = "meal"
tags: delivery, food
`
	assert.Equal(t, want, Format(rs.Rules[0]))
}

func TestFormatSetRoundTrip(t *testing.T) {
	rs, err := Parse(sampleRules)
	require.NoError(t, err)

	text := FormatSet(rs)
	again, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, text, FormatSet(again))

	require.Len(t, again.Rules, len(rs.Rules))
	for i := range rs.Rules {
		assert.Equal(t, rs.Rules[i].Name, again.Rules[i].Name)
		assert.Equal(t, rs.Rules[i].MatchText, again.Rules[i].MatchText)
		assert.Equal(t, rs.Rules[i].Priority, again.Rules[i].Priority)
		assert.Equal(t, rs.Rules[i].MerchantName(), again.Rules[i].MerchantName())
	}
	assert.Len(t, again.Variables, 2)
	assert.Len(t, again.Transforms, 2)
}
