package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/storage"
)

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Query stored run results",
		Long: `List the transactions of a stored run, by default the latest.

Examples:
  tally results --category Food
  tally results --tag business --json
  tally results --status UNMATCHED --limit 20
  tally results runs`,
		Args: cobra.NoArgs,
		RunE: runResults,
	}
	cmd.PersistentFlags().String("db", "", "results database (overrides database.path)")
	cmd.Flags().Int64("run", 0, "run ID (default: latest)")
	cmd.Flags().String("category", "", "only this category")
	cmd.Flags().String("tag", "", "only transactions with this tag")
	cmd.Flags().String("status", "", "only this status (CATEGORIZED, TAGGED_ONLY, UNMATCHED, FAILED)")
	cmd.Flags().Int("limit", 0, "maximum number of results")
	cmd.Flags().Bool("json", false, "print as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		Args:  cobra.NoArgs,
		RunE:  runResultsRuns,
	})
	return cmd
}

func openResults(cmd *cobra.Command) (*storage.SQLiteStorage, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		settings, err := loadSettings()
		if err != nil {
			return nil, err
		}
		dbPath = settings.Database.Path
	}
	store, err := initStorage(cmd.Context(), dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func runResults(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	var f storage.Filter
	f.RunID, _ = flags.GetInt64("run")
	f.Category, _ = flags.GetString("category")
	f.Tag, _ = flags.GetString("tag")
	status, _ := flags.GetString("status")
	f.Status = model.ClassificationStatus(strings.ToUpper(status))
	f.Limit, _ = flags.GetInt("limit")
	asJSON, _ := flags.GetBool("json")

	store, err := openResults(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			common.LogError(closeErr, "Failed to close storage", nil)
		}
	}()

	matches, err := store.ListMatches(cmd.Context(), f)
	if err != nil {
		return err
	}
	if asJSON {
		results := make([]runResult, len(matches))
		for i, c := range matches {
			results[i] = runResult{
				ID:          c.Transaction.ID,
				Date:        c.Transaction.Date.Format("2006-01-02"),
				Description: c.Transaction.Description,
				Source:      c.Transaction.Source,
				Amount:      c.Transaction.Amount,
				Status:      string(c.Status),
				Error:       c.Error,
				Result:      c.Result,
			}
		}
		return writeJSON(cmd.OutOrStdout(), results)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderMatches(matches))
	return err
}

func runResultsRuns(cmd *cobra.Command, _ []string) error {
	store, err := openResults(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			common.LogError(closeErr, "Failed to close storage", nil)
		}
	}()

	runs, err := store.ListRuns(cmd.Context(), 0)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for _, r := range runs {
		finished := "running"
		if r.FinishedAt != nil {
			finished = fmt.Sprintf("%d/%d categorized", r.Summary.Categorized, r.Summary.Total)
		}
		if _, err := fmt.Fprintf(w, "%4d  %s  %s  %s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), finished, strings.Join(r.Files, ", ")); err != nil {
			return err
		}
	}
	return nil
}
