package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/config"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/ingest"
	"github.com/Veraticus/tally/internal/manager"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/ofx"
	"github.com/Veraticus/tally/internal/rules"
	"github.com/Veraticus/tally/internal/storage"
)

func loadSettings() (*config.Settings, error) {
	s, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, common.NewUserError("invalid configuration", err)
	}
	return s, nil
}

// loadEngine parses the configured rule files and builds an engine. It also
// returns a digest of the user rule file for run records.
func loadEngine(s *config.Settings) (*engine.Engine, string, error) {
	rs, err := rules.Load(s.Rules.File, s.Rules.BaselineFile)
	if err != nil {
		return nil, "", common.NewUserError("failed to load rules", err)
	}
	opts, err := s.EngineOptions()
	if err != nil {
		return nil, "", common.NewUserError("invalid configuration", err)
	}

	digest := ""
	if content, err := os.ReadFile(s.Rules.File); err == nil {
		digest = fmt.Sprintf("%x", sha256.Sum256(content))
	}

	slog.Debug("Loaded rules",
		"file", s.Rules.File,
		"baseline", s.Rules.BaselineFile,
		"rules", rs.Len())
	return engine.New(rs, opts), digest, nil
}

func newManager(s *config.Settings) (*manager.Manager, error) {
	opts, err := s.EngineOptions()
	if err != nil {
		return nil, common.NewUserError("invalid configuration", err)
	}
	m := manager.New(s.Rules.File, opts)
	if err := m.Load(); err != nil {
		return nil, common.NewUserError("failed to load rules", err)
	}
	return m, nil
}

// expandArgs expands glob patterns, keeping arguments that name files
// directly.
func expandArgs(args []string) ([]string, error) {
	var files []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err != nil {
				slog.Warn("No files found matching pattern", "pattern", pattern)
				continue
			}
			matches = []string{pattern}
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, common.NewUserError("no statement files", common.ErrNoTransactions)
	}
	return files, nil
}

// loadStatements reads every statement file, choosing the OFX or CSV reader
// by extension, and attaches the configured data sources. Transactions
// already seen under the same ID are dropped.
func loadStatements(ctx context.Context, files []string, s *config.Settings) ([]model.Transaction, error) {
	sources, err := ingest.LoadDataSources(s.DataSources)
	if err != nil {
		return nil, common.NewUserError("failed to load data sources", err)
	}

	var (
		all  []model.Transaction
		seen = make(map[string]bool)
	)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		txns, err := readStatement(ctx, file, s.CSV.ColumnSpec())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}

		kept := 0
		for _, txn := range txns {
			if seen[txn.ID] {
				continue
			}
			seen[txn.ID] = true
			txn.DataSources = sources
			all = append(all, txn)
			kept++
		}
		slog.Info("Read statement",
			"file", file,
			"transactions", len(txns),
			"duplicates", len(txns)-kept)
	}
	return all, nil
}

func readStatement(ctx context.Context, path string, spec ingest.ColumnSpec) ([]model.Transaction, error) {
	source := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ofx", ".qfx":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open statement: %w", err)
		}
		defer func() { _ = f.Close() }()
		return ofx.NewParser().ParseFile(ctx, f, source)
	default:
		txns, rowErrs, err := ingest.ReadFile(path, spec)
		if err != nil {
			return nil, err
		}
		for _, rowErr := range rowErrs {
			slog.Warn("Skipped row", "file", path, "line", rowErr.Line, "error", rowErr.Err)
		}
		return txns, nil
	}
}

func initStorage(ctx context.Context, dbPath string) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(config.ExpandPath(dbPath))
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
