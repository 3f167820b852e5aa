package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					rules_file TEXT NOT NULL DEFAULT '',
					rules_hash TEXT NOT NULL DEFAULT '',
					files TEXT NOT NULL DEFAULT '[]',
					started_at DATETIME NOT NULL,
					finished_at DATETIME,
					total INTEGER NOT NULL DEFAULT 0,
					categorized INTEGER NOT NULL DEFAULT 0,
					tagged_only INTEGER NOT NULL DEFAULT 0,
					unmatched INTEGER NOT NULL DEFAULT 0,
					failed INTEGER NOT NULL DEFAULT 0
				)`,

				`CREATE TABLE IF NOT EXISTS matches (
					run_id INTEGER NOT NULL,
					transaction_id TEXT NOT NULL,
					date TEXT NOT NULL,
					description TEXT NOT NULL,
					raw_description TEXT NOT NULL DEFAULT '',
					amount TEXT NOT NULL,
					source TEXT NOT NULL DEFAULT '',
					location TEXT NOT NULL DEFAULT '',
					fields TEXT NOT NULL DEFAULT '{}',
					merchant TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT '',
					subcategory TEXT NOT NULL DEFAULT '',
					tags TEXT NOT NULL DEFAULT '[]',
					rule_name TEXT NOT NULL DEFAULT '',
					rule_source TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					error TEXT NOT NULL DEFAULT '',
					classified_at DATETIME NOT NULL,
					PRIMARY KEY (run_id, transaction_id),
					FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
				)`,
				`CREATE INDEX idx_matches_category ON matches(run_id, category)`,
				`CREATE INDEX idx_matches_status ON matches(run_id, status)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Add match tags table for tag queries",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS match_tags (
					run_id INTEGER NOT NULL,
					transaction_id TEXT NOT NULL,
					tag TEXT NOT NULL,
					PRIMARY KEY (run_id, transaction_id, tag),
					FOREIGN KEY (run_id, transaction_id) REFERENCES matches(run_id, transaction_id) ON DELETE CASCADE
				)`,
				`CREATE INDEX idx_match_tags_tag ON match_tags(run_id, tag)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Add travel flag to matches",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`ALTER TABLE matches ADD COLUMN travel BOOLEAN NOT NULL DEFAULT 0`,
			)
		},
	},
}

// Migrate runs all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if currentVersion > ExpectedSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, ExpectedSchemaVersion)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
