package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/legacy"
	"github.com/Veraticus/tally/internal/views"
)

func viewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "views FILE...",
		Short: "Group merchants into report sections",
		Long: `Categorize the statements, summarize spending per merchant, and list the
merchants each view selects. Views come from a views file of [Name] blocks
with a filter: expression over merchant summaries, e.g.

  [Every Month]
  filter: months >= 3 and cv < 0.3

With --buckets, merchants are also placed in budget buckets by a
classification rules file (lines like "category=Travel -> travel,/12").`,
		Args: cobra.MinimumNArgs(1),
		RunE: runViews,
	}
	cmd.Flags().String("views", "", "views file (overrides rules.views_file)")
	cmd.Flags().String("buckets", "", "classification rules file for budget buckets")
	cmd.Flags().Bool("json", false, "print as JSON")
	return cmd
}

type viewsOutput struct {
	Views   map[string][]string `json:"views"`
	Buckets map[string]string   `json:"buckets,omitempty"`
}

func runViews(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	viewsFile, _ := flags.GetString("views")
	bucketsFile, _ := flags.GetString("buckets")
	asJSON, _ := flags.GetBool("json")

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if viewsFile == "" {
		viewsFile = settings.Rules.ViewsFile
	}
	if viewsFile == "" {
		return common.NewUserError("no views file", common.ErrMissingConfig)
	}
	vs, err := views.ParseFile(viewsFile)
	if err != nil {
		return common.NewUserError("failed to load views", err)
	}

	eng, _, err := loadEngine(settings)
	if err != nil {
		return err
	}
	files, err := expandArgs(args)
	if err != nil {
		return err
	}
	txns, err := loadStatements(cmd.Context(), files, settings)
	if err != nil {
		return err
	}
	outcomes, err := eng.MatchAll(cmd.Context(), txns, engine.BatchOptions{Workers: settings.Run.Workers})
	if err != nil {
		return fmt.Errorf("run stopped: %w", err)
	}

	summaries := views.Summarize(outcomes)
	selected, err := views.Classify(vs, summaries)
	if err != nil {
		return err
	}
	out := viewsOutput{Views: selected}

	if bucketsFile != "" {
		classRules, err := legacy.LoadClassificationRules(bucketsFile)
		if err != nil {
			return common.NewUserError("invalid buckets file", err)
		}
		months := views.SpanMonths(summaries)
		out.Buckets = make(map[string]string, len(summaries))
		for _, s := range summaries {
			bucket, calc := s.Bucket(classRules, months)
			out.Buckets[s.Name] = fmt.Sprintf("%s (%s)", bucket, calc)
		}
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	w := cmd.OutOrStdout()
	if _, err := fmt.Fprintln(w, cli.RenderViews(vs, selected)); err != nil {
		return err
	}
	if out.Buckets != nil {
		_, err = fmt.Fprintln(w, cli.RenderBuckets(summaries, out.Buckets))
	}
	return err
}
