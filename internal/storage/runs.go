package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/engine"
)

// RunInfo describes a batch run as it starts.
type RunInfo struct {
	StartedAt time.Time
	RulesFile string
	RulesHash string // Digest of the rules file content
	Files     []string
}

// Run is a stored batch run.
type Run struct {
	FinishedAt *time.Time
	RunInfo
	Summary engine.BatchSummary
	ID      int64
}

// StartRun records a new run and returns its ID.
func (s *SQLiteStorage) StartRun(ctx context.Context, info RunInfo) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	files, err := json.Marshal(nonNil(info.Files))
	if err != nil {
		return 0, fmt.Errorf("failed to encode run files: %w", err)
	}

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO runs (rules_file, rules_hash, files, started_at)
			VALUES (?, ?, ?, ?)
		`, info.RulesFile, info.RulesHash, string(files), info.StartedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// FinishRun stores the run's final counts.
func (s *SQLiteStorage) FinishRun(ctx context.Context, runID int64, summary engine.BatchSummary) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs SET
				finished_at = ?,
				total = ?,
				categorized = ?,
				tagged_only = ?,
				unmatched = ?,
				failed = ?
			WHERE id = ?
		`, time.Now().UTC(), summary.Total, summary.Categorized, summary.TaggedOnly,
			summary.Unmatched, summary.Failed, runID)
		if err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: run %d", common.ErrNotFound, runID)
		}
		return nil
	})
}

// GetRun returns a run by ID.
func (s *SQLiteStorage) GetRun(ctx context.Context, runID int64) (*Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, runColumns+` WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %d", common.ErrNotFound, runID)
	}
	return run, err
}

// LatestRun returns the most recently started run.
func (s *SQLiteStorage) LatestRun(ctx context.Context) (*Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, runColumns+` ORDER BY id DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no runs recorded", common.ErrNotFound)
	}
	return run, err
}

// ListRuns returns runs newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, runColumns+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

const runColumns = `
	SELECT id, rules_file, rules_hash, files, started_at, finished_at,
		total, categorized, tagged_only, unmatched, failed
	FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run      Run
		files    string
		finished sql.NullTime
	)
	err := row.Scan(&run.ID, &run.RulesFile, &run.RulesHash, &files, &run.StartedAt, &finished,
		&run.Summary.Total, &run.Summary.Categorized, &run.Summary.TaggedOnly,
		&run.Summary.Unmatched, &run.Summary.Failed)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(files), &run.Files); err != nil {
		return nil, fmt.Errorf("run %d: failed to decode files: %w", run.ID, err)
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
