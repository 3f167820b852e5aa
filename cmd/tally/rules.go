package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/manager"
	"github.com/Veraticus/tally/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and edit the rules file",
		Long: `Rule management

Edits go through the same parser tally run uses, so a rule that saves is a
rule that loads. Saving rewrites the file in canonical form; comments are not
kept.`,
	}

	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesShowCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesUpdateCmd())
	cmd.AddCommand(rulesDeleteCmd())
	cmd.AddCommand(rulesImportCmd())
	cmd.AddCommand(rulesValidateCmd())
	cmd.AddCommand(rulesFmtCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			category, _ := cmd.Flags().GetString("category")
			tags, _ := cmd.Flags().GetStringSlice("tag")
			asJSON, _ := cmd.Flags().GetBool("json")

			m, err := rulesManager()
			if err != nil {
				return err
			}
			list, err := m.List(category, tags)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), ruleSummaries(list))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderRuleList(list))
			return err
		},
	}
	cmd.Flags().String("category", "", "only rules with this category")
	cmd.Flags().StringSlice("tag", nil, "only rules with all these tags")
	cmd.Flags().Bool("json", false, "print as JSON")
	return cmd
}

func rulesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show one rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := rulesManager()
			if err != nil {
				return err
			}
			r, ok := m.Get(args[0])
			if !ok {
				return notFound(args[0])
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderRule(r))
			return err
		},
	}
}

func rulesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add PATTERN",
		Short: "Add a rule",
		Long: `Add a rule for PATTERN. PATTERN is a match expression such as
contains("NETFLIX"), or a regex with optional [modifiers] as in the CSV rule
format, e.g. 'COSTCO[amount>200]'. A rule with the same name or pattern is
updated instead.

Examples:
  tally rules add 'contains("NETFLIX")' --category Subscriptions --tags recurring
  tally rules add 'UBER\s(?!EATS)' --merchant Uber --category Transport`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			req := manager.AddRequest{Pattern: args[0]}
			req.Merchant, _ = flags.GetString("merchant")
			req.Category, _ = flags.GetString("category")
			req.Subcategory, _ = flags.GetString("subcategory")
			req.Tags, _ = flags.GetStringSlice("tags")
			if flags.Changed("priority") {
				p, _ := flags.GetInt("priority")
				req.Priority = &p
			}

			m, err := rulesManager()
			if err != nil {
				return err
			}
			r, err := m.Add(req)
			if err != nil {
				return err
			}
			if err := m.Save(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Saved rule "+r.Name))
			return err
		},
	}
	cmd.Flags().String("merchant", "", "merchant and rule name (default: derived from the pattern)")
	cmd.Flags().String("category", "", "category")
	cmd.Flags().String("subcategory", "", "subcategory")
	cmd.Flags().StringSlice("tags", nil, "tags")
	cmd.Flags().Int("priority", rules.DefaultPriority, "priority (higher is evaluated first)")
	return cmd
}

func rulesUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update NAME",
		Short: "Change an existing rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var req manager.UpdateRequest
			if flags.Changed("match") {
				v, _ := flags.GetString("match")
				req.Match = &v
			}
			if flags.Changed("category") {
				v, _ := flags.GetString("category")
				req.Category = &v
			}
			if flags.Changed("subcategory") {
				v, _ := flags.GetString("subcategory")
				req.Subcategory = &v
			}
			if flags.Changed("priority") {
				v, _ := flags.GetInt("priority")
				req.Priority = &v
			}
			if flags.Changed("tags") {
				req.Tags, _ = flags.GetStringSlice("tags")
			}
			req.AddTags, _ = flags.GetStringSlice("add-tag")
			req.RemoveTags, _ = flags.GetStringSlice("remove-tag")

			m, err := rulesManager()
			if err != nil {
				return err
			}
			r, err := m.Update(args[0], req)
			if errors.Is(err, manager.ErrRuleNotFound) {
				return notFound(args[0])
			}
			if err != nil {
				return err
			}
			if err := m.Save(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Updated rule "+r.Name))
			return err
		},
	}
	cmd.Flags().String("match", "", "new match expression")
	cmd.Flags().String("category", "", "new category")
	cmd.Flags().String("subcategory", "", "new subcategory")
	cmd.Flags().Int("priority", rules.DefaultPriority, "new priority")
	cmd.Flags().StringSlice("tags", nil, "replace all tags")
	cmd.Flags().StringSlice("add-tag", nil, "add tags")
	cmd.Flags().StringSlice("remove-tag", nil, "remove tags")
	return cmd
}

func rulesDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [NAME]",
		Short: "Delete a rule by name or pattern",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, _ := cmd.Flags().GetString("pattern")
			if (len(args) == 1) == (pattern != "") {
				return common.NewUserError("invalid arguments", errors.New("give a rule NAME or --pattern"))
			}

			m, err := rulesManager()
			if err != nil {
				return err
			}
			var deleted bool
			target := pattern
			if len(args) == 1 {
				target = args[0]
				deleted = m.Delete(target)
			} else {
				deleted = m.DeleteByPattern(pattern)
			}
			if !deleted {
				return notFound(target)
			}
			if err := m.Save(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted "+target))
			return err
		},
	}
	cmd.Flags().String("pattern", "", "delete the rule with this pattern")
	return cmd
}

func rulesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import rules from a legacy CSV rule file",
		Long: `Import rules from a CSV file with the columns
Pattern,Merchant,Category,Subcategory[,Tags]. Patterns may carry
[modifiers] such as [amount>100] or [weekday=0]. Existing rules with the same
name or pattern are updated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open import file: %w", err)
			}
			defer func() { _ = f.Close() }()

			m, err := rulesManager()
			if err != nil {
				return err
			}
			imported, err := m.ImportCSV(f)
			if err != nil {
				return err
			}
			if err := m.Save(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Imported %d rules into %s", len(imported), m.Path())))
			return err
		},
	}
}

func rulesValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate NAME FILE...",
		Short: "Show what a rule matches in the given statements",
		Long: `Run all rules over the statements and report the transactions NAME wins,
the rules that shadow it, and, when it wins nothing, unmatched descriptions
that resemble its pattern.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			m, err := newManager(settings)
			if err != nil {
				return err
			}
			r, ok := m.Get(args[0])
			if !ok {
				return notFound(args[0])
			}
			files, err := expandArgs(args[1:])
			if err != nil {
				return err
			}
			txns, err := loadStatements(cmd.Context(), files, settings)
			if err != nil {
				return err
			}

			result, err := m.Validate(r, txns)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderValidation(r, result))
			return err
		},
	}
	cmd.Flags().Bool("json", false, "print as JSON")
	return cmd
}

func rulesFmtCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fmt",
		Short: "Rewrite the rules file in canonical form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			check, _ := cmd.Flags().GetBool("check")

			m, err := rulesManager()
			if err != nil {
				return err
			}
			formatted, err := m.Content()
			if err != nil {
				return err
			}
			current, err := os.ReadFile(m.Path())
			if err != nil {
				return fmt.Errorf("failed to read rule file: %w", err)
			}
			if string(current) == formatted {
				return nil
			}
			if check {
				return common.NewUserError("rules file is not formatted", errors.New(m.Path()))
			}
			if err := m.Save(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Formatted "+m.Path()))
			return err
		},
	}
	cmd.Flags().Bool("check", false, "fail instead of rewriting when the file is not formatted")
	return cmd
}

func rulesManager() (*manager.Manager, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	return newManager(settings)
}

func notFound(name string) error {
	return common.NewUserError("no such rule", fmt.Errorf("%w: %s", manager.ErrRuleNotFound, name))
}

type ruleSummary struct {
	Name        string   `json:"name"`
	Match       string   `json:"match"`
	Category    string   `json:"category,omitempty"`
	Subcategory string   `json:"subcategory,omitempty"`
	Source      string   `json:"source"`
	Tags        []string `json:"tags,omitempty"`
	Priority    int      `json:"priority"`
}

func ruleSummaries(list []*rules.Rule) []ruleSummary {
	out := make([]ruleSummary, len(list))
	for i, r := range list {
		tags := make([]string, len(r.Tags))
		for j, t := range r.Tags {
			tags[j] = t.Text
		}
		out[i] = ruleSummary{
			Name:        r.Name,
			Match:       r.MatchText,
			Category:    r.Category,
			Subcategory: r.Subcategory,
			Source:      string(r.Source),
			Tags:        tags,
			Priority:    r.Priority,
		}
	}
	return out
}
