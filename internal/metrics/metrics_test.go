package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/model"
)

func testOutcomes() []engine.Outcome {
	return []engine.Outcome{
		{
			Duration: time.Millisecond,
			Result: &model.MatchResult{
				MatchInfo: &model.MatchInfo{RuleName: "Uber Eats"},
				Trace: []model.TraceStep{
					{Rule: "Uber Eats", Matched: true, Winner: true},
					{Rule: "Uber", Matched: true},
					{Rule: "Large", Matched: true, TagOnly: true},
					{Rule: "Netflix"},
				},
			},
		},
		{
			Result: &model.MatchResult{
				MatchInfo: &model.MatchInfo{},
				Trace:     []model.TraceStep{{Rule: "Large", Matched: true, TagOnly: true}},
			},
		},
		{Result: &model.MatchResult{}},
		{Err: errors.New("boom")},
	}
}

func TestObserve(t *testing.T) {
	c := New()
	for _, o := range testOutcomes() {
		c.Observe(o)
	}

	tests := []struct {
		labels []string
		want   float64
	}{
		{labels: []string{"categorized"}, want: 1},
		{labels: []string{"tagged_only"}, want: 1},
		{labels: []string{"unmatched"}, want: 1},
		{labels: []string{"failed"}, want: 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, testutil.ToFloat64(c.transactions.WithLabelValues(tt.labels...)), 0, tt.labels[0])
	}

	assert.InDelta(t, 1, testutil.ToFloat64(c.ruleMatches.WithLabelValues("Uber Eats", RoleWinner)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.ruleMatches.WithLabelValues("Uber", RoleShadowed)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.ruleMatches.WithLabelValues("Large", RoleTag)), 0)
	assert.Equal(t, 3, testutil.CollectAndCount(c.ruleMatches))
	assert.Equal(t, 1, testutil.CollectAndCount(c.duration))
}

func TestWriteTextfile(t *testing.T) {
	c := New()
	for _, o := range testOutcomes() {
		c.Observe(o)
	}

	path := filepath.Join(t.TempDir(), "tally.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `tally_transactions_total{outcome="categorized"} 1`)
	assert.Contains(t, text, `tally_rule_matches_total{role="tag",rule="Large"} 2`)
	assert.True(t, strings.Contains(text, "tally_match_duration_seconds_count 4"))

	require.Error(t, c.WriteTextfile(filepath.Join(t.TempDir(), "missing", "tally.prom")))
}
