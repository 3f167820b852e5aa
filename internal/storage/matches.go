package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/model"
)

const dateLayout = "2006-01-02"

// Filter selects stored matches. Zero fields match everything; a zero RunID
// means the latest run.
type Filter struct {
	Category string
	Tag      string
	Status   model.ClassificationStatus
	RunID    int64
	Limit    int
}

// SaveMatches stores the classifications of a run. Saving a transaction
// twice for the same run replaces the earlier record.
func (s *SQLiteStorage) SaveMatches(ctx context.Context, runID int64, records []model.Classification) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateClassifications(records); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		matchStmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO matches (
				run_id, transaction_id, date, description, raw_description,
				amount, source, location, fields, merchant, category,
				subcategory, tags, rule_name, rule_source, status, error,
				classified_at, travel
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare match insert: %w", err)
		}
		defer func() { _ = matchStmt.Close() }()

		clearStmt, err := tx.PrepareContext(ctx, `
			DELETE FROM match_tags WHERE run_id = ? AND transaction_id = ?
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare tag delete: %w", err)
		}
		defer func() { _ = clearStmt.Close() }()

		tagStmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO match_tags (run_id, transaction_id, tag) VALUES (?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare tag insert: %w", err)
		}
		defer func() { _ = tagStmt.Close() }()

		for i := range records {
			rec := &records[i]
			if _, err := clearStmt.ExecContext(ctx, runID, rec.Transaction.ID); err != nil {
				return fmt.Errorf("transaction %s: failed to clear tags: %w", rec.Transaction.ID, err)
			}
			if err := insertMatch(ctx, matchStmt, tagStmt, runID, rec); err != nil {
				return fmt.Errorf("transaction %s: %w", rec.Transaction.ID, err)
			}
		}
		return nil
	})
}

func insertMatch(ctx context.Context, matchStmt, tagStmt *sql.Stmt, runID int64, rec *model.Classification) error {
	txn := &rec.Transaction
	fields, err := json.Marshal(txn.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	var merchant, category, subcategory, ruleName, ruleSource string
	var travel bool
	tags := []string{}
	if r := rec.Result; r != nil {
		merchant, category, subcategory, travel = r.Merchant, r.Category, r.Subcategory, r.Travel
		if r.Tags != nil {
			tags = r.Tags
		}
		if r.MatchInfo != nil {
			ruleName, ruleSource = r.MatchInfo.RuleName, string(r.MatchInfo.Source)
		}
	}
	tagJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	classifiedAt := rec.ClassifiedAt
	if classifiedAt.IsZero() {
		classifiedAt = time.Now()
	}

	_, err = matchStmt.ExecContext(ctx,
		runID, txn.ID, txn.Date.Format(dateLayout), txn.Description, txn.RawDescription,
		txn.Amount, txn.Source, txn.Location, string(fields), merchant, category,
		subcategory, string(tagJSON), ruleName, ruleSource, string(rec.Status), rec.Error,
		classifiedAt.UTC(), travel,
	)
	if err != nil {
		return fmt.Errorf("failed to save match: %w", err)
	}

	for _, tag := range tags {
		if _, err := tagStmt.ExecContext(ctx, runID, txn.ID, tag); err != nil {
			return fmt.Errorf("failed to save tag %q: %w", tag, err)
		}
	}
	return nil
}

// ListMatches returns the matches f selects, ordered by date.
func (s *SQLiteStorage) ListMatches(ctx context.Context, f Filter) ([]model.Classification, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	runID, err := s.resolveRun(ctx, f.RunID)
	if err != nil {
		return nil, err
	}

	var (
		where = []string{"m.run_id = ?"}
		args  = []any{runID}
	)
	if f.Category != "" {
		where = append(where, "m.category = ? COLLATE NOCASE")
		args = append(args, f.Category)
	}
	if f.Status != "" {
		where = append(where, "m.status = ?")
		args = append(args, string(f.Status))
	}
	if f.Tag != "" {
		where = append(where, `EXISTS (SELECT 1 FROM match_tags t
			WHERE t.run_id = m.run_id AND t.transaction_id = m.transaction_id AND t.tag = ?)`)
		args = append(args, f.Tag)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	query := `
		SELECT m.transaction_id, m.date, m.description, m.raw_description, m.amount,
			m.source, m.location, m.fields, m.merchant, m.category, m.subcategory,
			m.tags, m.rule_name, m.rule_source, m.status, m.error, m.classified_at, m.travel
		FROM matches m
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY m.date, m.transaction_id
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Classification
	for rows.Next() {
		c, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanMatch(row scanner) (model.Classification, error) {
	var (
		c                    model.Classification
		r                    model.MatchResult
		date, fields, tags   string
		ruleName, ruleSource string
		status               string
		amount               decimal.Decimal
	)
	txn := &c.Transaction
	err := row.Scan(&txn.ID, &date, &txn.Description, &txn.RawDescription, &amount,
		&txn.Source, &txn.Location, &fields, &r.Merchant, &r.Category, &r.Subcategory,
		&tags, &ruleName, &ruleSource, &status, &c.Error, &c.ClassifiedAt, &r.Travel)
	if err != nil {
		return c, fmt.Errorf("failed to scan match: %w", err)
	}

	txn.Amount = amount
	if txn.Date, err = time.Parse(dateLayout, date); err != nil {
		return c, fmt.Errorf("transaction %s: bad stored date: %w", txn.ID, err)
	}
	if err := json.Unmarshal([]byte(fields), &txn.Fields); err != nil {
		return c, fmt.Errorf("transaction %s: bad stored fields: %w", txn.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return c, fmt.Errorf("transaction %s: bad stored tags: %w", txn.ID, err)
	}

	c.Status = model.ClassificationStatus(status)
	switch c.Status {
	case model.StatusFailed:
		return c, nil
	case model.StatusCategorized, model.StatusTagged:
		r.MatchInfo = &model.MatchInfo{
			RuleName: ruleName,
			Source:   model.RuleSource(ruleSource),
			Tags:     r.Tags,
		}
	}
	c.Result = &r
	return c, nil
}

// TagCounts returns how many transactions of a run carry each tag. A zero
// runID means the latest run.
func (s *SQLiteStorage) TagCounts(ctx context.Context, runID int64) (map[string]int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	runID, err := s.resolveRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tag, COUNT(*) FROM match_tags WHERE run_id = ? GROUP BY tag
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			tag string
			n   int
		)
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, fmt.Errorf("failed to scan tag count: %w", err)
		}
		counts[tag] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStorage) resolveRun(ctx context.Context, runID int64) (int64, error) {
	if runID != 0 {
		return runID, nil
	}
	run, err := s.LatestRun(ctx)
	if err != nil {
		return 0, err
	}
	return run.ID, nil
}
