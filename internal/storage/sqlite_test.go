package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/model"
)

func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func record(id, desc, amount string, status model.ClassificationStatus, result *model.MatchResult) model.Classification {
	txn := model.Transaction{
		ID:             id,
		Date:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Description:    desc,
		RawDescription: desc,
		Amount:         decimal.RequireFromString(amount),
		Source:         "Amex",
		Fields:         map[string]string{"card_member": "PAT"},
	}
	return model.Classification{Transaction: txn, Status: status, Result: result}
}

func testRecords() []model.Classification {
	return []model.Classification{
		record("t1", "UBER TRIP", "18.20", model.StatusCategorized, &model.MatchResult{
			MatchInfo: &model.MatchInfo{RuleName: "Uber", Source: model.SourceUser},
			Merchant:  "Uber", Category: "Transportation", Subcategory: "Rideshare",
			Tags: []string{"rideshare", "business"},
		}),
		record("t2", "UBER EATS", "32.10", model.StatusCategorized, &model.MatchResult{
			MatchInfo: &model.MatchInfo{RuleName: "Uber Eats", Source: model.SourceBaseline},
			Merchant:  "Uber Eats", Category: "Food",
			Tags: []string{"business"},
		}),
		record("t3", "LARGE WIRE", "5000.00", model.StatusTagged, &model.MatchResult{
			MatchInfo: &model.MatchInfo{Source: model.SourceUser},
			Merchant:  "LARGE WIRE", Category: model.UnknownCategory,
			Tags: []string{"large"},
		}),
		record("t4", "MYSTERY", "3.00", model.StatusUnmatched, &model.MatchResult{
			Merchant: "MYSTERY", Category: model.UnknownCategory,
		}),
		{
			Transaction: record("t5", "BROKEN", "1.00", "", nil).Transaction,
			Status:      model.StatusFailed,
			Error:       "type mismatch",
		},
	}
}

func TestMigrate(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	var version int
	require.NoError(t, store.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	assert.Equal(t, ExpectedSchemaVersion, version)

	// Running again is a no-op.
	require.NoError(t, store.Migrate(ctx))
}

func TestNewSQLiteStorage_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tally.db")
	store, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	require.NoError(t, store.Migrate(context.Background()))
	assert.Equal(t, path, store.Path())

	_, err = NewSQLiteStorage(" ")
	require.ErrorIs(t, err, ErrEmptyString)
}

func TestRuns(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.LatestRun(ctx)
	require.ErrorIs(t, err, common.ErrNotFound)

	first, err := store.StartRun(ctx, RunInfo{RulesFile: "tally.rules", Files: []string{"jan.csv"}})
	require.NoError(t, err)
	second, err := store.StartRun(ctx, RunInfo{RulesFile: "tally.rules", RulesHash: "abc"})
	require.NoError(t, err)
	assert.Greater(t, second, first)

	require.NoError(t, store.FinishRun(ctx, first, engine.BatchSummary{Total: 5, Categorized: 2, TaggedOnly: 1, Unmatched: 1, Failed: 1}))
	require.ErrorIs(t, store.FinishRun(ctx, 999, engine.BatchSummary{}), common.ErrNotFound)

	run, err := store.GetRun(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, []string{"jan.csv"}, run.Files)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, 5, run.Summary.Total)
	assert.Equal(t, 1, run.Summary.Failed)

	latest, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, latest.ID)
	assert.Nil(t, latest.FinishedAt)
	assert.Empty(t, latest.Files)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)

	_, err = store.GetRun(ctx, 42)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSaveAndListMatches(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	runID, err := store.StartRun(ctx, RunInfo{})
	require.NoError(t, err)
	require.NoError(t, store.SaveMatches(ctx, runID, testRecords()))

	all, err := store.ListMatches(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)

	uber := all[0]
	assert.Equal(t, "t1", uber.Transaction.ID)
	assert.True(t, decimal.RequireFromString("18.20").Equal(uber.Transaction.Amount))
	assert.Equal(t, map[string]string{"card_member": "PAT"}, uber.Transaction.Fields)
	assert.Equal(t, 1, uber.Transaction.Date.Day())
	require.NotNil(t, uber.Result)
	assert.True(t, uber.Result.Categorized())
	assert.Equal(t, "Rideshare", uber.Result.Subcategory)
	assert.Equal(t, []string{"rideshare", "business"}, uber.Result.Tags)

	tagged := all[2]
	assert.Equal(t, model.StatusTagged, model.StatusOf(tagged.Result, nil))

	unmatched := all[3]
	assert.Equal(t, model.StatusUnmatched, model.StatusOf(unmatched.Result, nil))

	failed := all[4]
	assert.Nil(t, failed.Result)
	assert.Equal(t, "type mismatch", failed.Error)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "category ignores case", filter: Filter{Category: "food"}, want: []string{"t2"}},
		{name: "tag", filter: Filter{Tag: "business"}, want: []string{"t1", "t2"}},
		{name: "status", filter: Filter{Status: model.StatusUnmatched}, want: []string{"t4"}},
		{name: "limit", filter: Filter{Limit: 2}, want: []string{"t1", "t2"}},
		{name: "explicit run", filter: Filter{RunID: runID, Tag: "large"}, want: []string{"t3"}},
		{name: "no match", filter: Filter{Category: "Travel"}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListMatches(ctx, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, c := range got {
				ids = append(ids, c.Transaction.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSaveMatches_Replaces(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	runID, err := store.StartRun(ctx, RunInfo{})
	require.NoError(t, err)
	records := testRecords()
	require.NoError(t, store.SaveMatches(ctx, runID, records[:1]))

	records[0].Result.Tags = []string{"personal"}
	require.NoError(t, store.SaveMatches(ctx, runID, records[:1]))

	counts, err := store.TagCounts(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"personal": 1}, counts)
}

func TestSaveMatches_Invalid(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	runID, err := store.StartRun(ctx, RunInfo{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		rec     model.Classification
		wantErr error
	}{
		{name: "missing id", rec: record("", "X", "1", model.StatusUnmatched, nil), wantErr: ErrInvalidClassification},
		{name: "categorized without info", rec: record("a", "X", "1", model.StatusCategorized, &model.MatchResult{}), wantErr: ErrInvalidClassification},
		{name: "failed without error", rec: record("a", "X", "1", model.StatusFailed, nil), wantErr: ErrInvalidClassification},
		{name: "unknown status", rec: record("a", "X", "1", "DONE", nil), wantErr: ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.SaveMatches(ctx, runID, []model.Classification{tt.rec})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTagCounts(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.TagCounts(ctx, 0)
	require.ErrorIs(t, err, common.ErrNotFound)

	runID, err := store.StartRun(ctx, RunInfo{})
	require.NoError(t, err)
	require.NoError(t, store.SaveMatches(ctx, runID, testRecords()))

	counts, err := store.TagCounts(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"business": 2, "rideshare": 1, "large": 1}, counts)
}

func TestSaveOutcomes(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	txn := record("o1", "NETFLIX.COM", "15.49", "", nil).Transaction
	outcomes := []engine.Outcome{
		{Transaction: &txn, Result: &model.MatchResult{
			MatchInfo: &model.MatchInfo{RuleName: "Netflix", Source: model.SourceUser},
			Merchant:  "Netflix", Category: "Subscriptions",
		}},
	}
	records := make([]model.Classification, len(outcomes))
	for i, o := range outcomes {
		records[i] = o.Classification()
	}

	runID, err := store.StartRun(ctx, RunInfo{})
	require.NoError(t, err)
	require.NoError(t, store.SaveMatches(ctx, runID, records))

	got, err := store.ListMatches(ctx, Filter{Status: model.StatusCategorized})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Netflix", got[0].Result.MatchInfo.RuleName)
	assert.False(t, got[0].ClassifiedAt.IsZero())
}

func TestClassifyError(t *testing.T) {
	busy := classifyError(sqlite3.Error{Code: sqlite3.ErrBusy})
	require.ErrorIs(t, busy, common.ErrDatabaseBusy)
	assert.True(t, common.IsRetryable(busy))

	corrupt := classifyError(sqlite3.Error{Code: sqlite3.ErrCorrupt})
	require.ErrorIs(t, corrupt, common.ErrDatabaseCorrupted)
	assert.False(t, common.IsRetryable(corrupt))

	plain := errors.New("plain")
	assert.Equal(t, plain, classifyError(plain))
	assert.NoError(t, classifyError(nil))
}
