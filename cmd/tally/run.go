package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/metrics"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/storage"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run FILE...",
		Short: "Categorize transactions from CSV or OFX statements",
		Long: `Match every transaction in the given statements against the rules and
report the results. Files ending in .ofx or .qfx are read as OFX; anything else
as CSV with a header row.

Results are stored in the results database unless --no-db is given.

Examples:
  tally run ~/Downloads/amex_2024.csv
  tally run --json statements/*.qfx > results.json
  tally run --metrics-file /var/lib/node_exporter/tally.prom jan.csv feb.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRun,
	}

	cmd.Flags().String("db", "", "results database (overrides database.path)")
	cmd.Flags().Bool("no-db", false, "do not store results")
	cmd.Flags().String("metrics-file", "", "write Prometheus metrics to this file")
	cmd.Flags().Bool("json", false, "print every result as JSON")
	cmd.Flags().Int("workers", 0, "parallel workers (overrides run.workers)")
	cmd.Flags().Bool("fail-fast", false, "stop at the first rule error")
	cmd.Flags().Bool("no-progress", false, "hide the progress bar")
	return cmd
}

type runResult struct {
	Date        string             `json:"date"`
	ID          string             `json:"id"`
	Description string             `json:"description"`
	Source      string             `json:"source,omitempty"`
	Status      string             `json:"status"`
	Error       string             `json:"error,omitempty"`
	Result      *model.MatchResult `json:"result,omitempty"`
	Amount      decimal.Decimal    `json:"amount"`
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	dbPath, _ := flags.GetString("db")
	noDB, _ := flags.GetBool("no-db")
	metricsFile, _ := flags.GetString("metrics-file")
	asJSON, _ := flags.GetBool("json")
	workers, _ := flags.GetInt("workers")
	failFast, _ := flags.GetBool("fail-fast")
	noProgress, _ := flags.GetBool("no-progress")

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if workers <= 0 {
		workers = settings.Run.Workers
	}
	if dbPath == "" {
		dbPath = settings.Database.Path
	}

	files, err := expandArgs(args)
	if err != nil {
		return err
	}
	eng, digest, err := loadEngine(settings)
	if err != nil {
		return err
	}
	txns, err := loadStatements(ctx, files, settings)
	if err != nil {
		return err
	}

	var (
		observers engine.Observers
		collector *metrics.Collector
		progress  *cli.Progress
	)
	if metricsFile != "" {
		collector = metrics.New()
		observers = append(observers, collector)
	}
	if !asJSON && !noProgress && len(txns) > 0 {
		progress = cli.NewProgress(len(txns), cmd.ErrOrStderr())
		observers = append(observers, progress)
	}

	started := time.Now()
	outcomes, err := eng.MatchAll(ctx, txns, engine.BatchOptions{
		Observer: observers,
		Workers:  workers,
		FailFast: failFast || settings.Run.FailFast,
	})
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		return fmt.Errorf("run stopped: %w", err)
	}
	summary := engine.Summarize(outcomes, time.Since(started))

	tagCounts := countTags(outcomes)
	if !noDB {
		tagCounts, err = storeRun(cmd, dbPath, files, digest, settings.Rules.File, outcomes, summary)
		if err != nil {
			return err
		}
	}

	if collector != nil {
		if err := collector.WriteTextfile(metricsFile); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		results := make([]runResult, len(outcomes))
		for i, o := range outcomes {
			results[i] = toRunResult(o)
		}
		return writeJSON(out, results)
	}
	_, err = fmt.Fprintln(out, cli.RenderSummary(summary, tagCounts))
	return err
}

// storeRun saves the run and returns its tag counts as stored.
func storeRun(cmd *cobra.Command, dbPath string, files []string, digest, rulesFile string,
	outcomes []engine.Outcome, summary engine.BatchSummary,
) (map[string]int, error) {
	ctx := cmd.Context()
	store, err := initStorage(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			common.LogError(closeErr, "Failed to close storage", nil)
		}
	}()

	runID, err := store.StartRun(ctx, storage.RunInfo{
		RulesFile: rulesFile,
		RulesHash: digest,
		Files:     files,
	})
	if err != nil {
		return nil, err
	}
	records := make([]model.Classification, len(outcomes))
	for i, o := range outcomes {
		records[i] = o.Classification()
	}
	if err := store.SaveMatches(ctx, runID, records); err != nil {
		return nil, err
	}
	if err := store.FinishRun(ctx, runID, summary); err != nil {
		return nil, err
	}
	slog.Info("Stored run", "run", runID, "database", store.Path())
	return store.TagCounts(ctx, runID)
}

func countTags(outcomes []engine.Outcome) map[string]int {
	counts := make(map[string]int)
	for _, o := range outcomes {
		if o.Result == nil {
			continue
		}
		for _, t := range o.Result.Tags {
			counts[t]++
		}
	}
	return counts
}

func toRunResult(o engine.Outcome) runResult {
	r := runResult{Status: string(o.Status())}
	if txn := o.Transaction; txn != nil {
		r.ID = txn.ID
		r.Date = txn.Date.Format("2006-01-02")
		r.Description = txn.Description
		r.Source = txn.Source
		r.Amount = txn.Amount
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	if o.Result != nil {
		result := *o.Result
		result.Trace = nil
		r.Result = &result
	}
	return r
}
