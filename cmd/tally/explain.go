package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/ingest"
	"github.com/Veraticus/tally/internal/model"
)

func explainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain DESCRIPTION",
		Short: "Show how a transaction would be categorized",
		Long: `Match a single transaction and show every rule in evaluation order with
the reason it did or did not match.

Examples:
  tally explain "UBER *EATS PENDING" --amount 31.50
  tally explain "AMAZON MKTP US" --amount 25 --field order_id=112-99`,
		Args: cobra.ExactArgs(1),
		RunE: runExplain,
	}

	cmd.Flags().String("amount", "0", "transaction amount")
	cmd.Flags().String("date", "", "transaction date (YYYY-MM-DD, default today)")
	cmd.Flags().String("source", "", "data source name")
	cmd.Flags().String("location", "", "location code (default: taken from the description)")
	cmd.Flags().StringArray("field", nil, "extra field as name=value (repeatable)")
	cmd.Flags().Bool("json", false, "print the result as JSON")
	return cmd
}

func runExplain(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	amountText, _ := flags.GetString("amount")
	dateText, _ := flags.GetString("date")
	source, _ := flags.GetString("source")
	location, _ := flags.GetString("location")
	fieldArgs, _ := flags.GetStringArray("field")
	asJSON, _ := flags.GetBool("json")

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	eng, _, err := loadEngine(settings)
	if err != nil {
		return err
	}

	txn, err := buildTransaction(args[0], amountText, dateText, source, location, fieldArgs)
	if err != nil {
		return err
	}
	if txn.DataSources, err = ingest.LoadDataSources(settings.DataSources); err != nil {
		return common.NewUserError("failed to load data sources", err)
	}

	result, err := eng.Explain(txn)
	if err != nil {
		return fmt.Errorf("failed to match: %w", err)
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderExplain(txn, result))
	return err
}

func buildTransaction(description, amountText, dateText, source, location string, fieldArgs []string) (*model.Transaction, error) {
	amount, err := ingest.ParseAmount(amountText, false)
	if err != nil {
		return nil, common.NewUserError("invalid --amount", err)
	}

	date := time.Now().Truncate(24 * time.Hour)
	if dateText != "" {
		if date, err = time.Parse("2006-01-02", dateText); err != nil {
			return nil, common.NewUserError("invalid --date", err)
		}
	}

	fields, err := parseFields(fieldArgs)
	if err != nil {
		return nil, err
	}

	if location == "" {
		location = ingest.ExtractLocation(description)
	}

	txn := &model.Transaction{
		Date:           date,
		Description:    description,
		RawDescription: description,
		Amount:         amount,
		Source:         source,
		Location:       location,
		Fields:         fields,
	}
	txn.ID = txn.GenerateHash()
	return txn, nil
}

func parseFields(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		key := ingest.FieldName(name)
		if !ok || key == "" {
			return nil, common.NewUserError("invalid --field", fmt.Errorf("%q: want name=value", arg))
		}
		fields[key] = value
	}
	return fields, nil
}
