package cmd

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ionex/idverify/internal/utils"
	"github.com/ionex/idverify/pkg/penalty"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the driver license penalty service",
	Long: `Fill the penalty query form with an ID number and birth date, solve the
CAPTCHA with a vision model and report whether a penalty record exists.

Failed attempts (unreadable CAPTCHA, missing result banner, browser errors)
are retried with a fresh browser until --max-retries is reached.`,
	Example: `  idverify query --id A123456789 --birth 75年3月15日
  idverify query --id A123456789 --birth 0750315 --provider ollama --headless=false`,
	RunE: runQuery,
}

var (
	queryID         string
	queryBirth      string
	queryMaxRetries int
	queryProvider   string
	queryModel      string
	queryHeadless   bool
	queryFormat     string
)

func init() {
	RootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringVar(&queryID, "id", "", "National ID number (required)")
	queryCmd.Flags().StringVar(&queryBirth, "birth", "", "Birth date in ROC form, e.g. 75年3月15日 or 0750315 (required)")
	queryCmd.Flags().IntVar(&queryMaxRetries, "max-retries", 0, "Attempt budget (default from QUERY_MAX_RETRIES)")
	queryCmd.Flags().StringVar(&queryProvider, "provider", "", "CAPTCHA provider: openai, azure, claude, gemini, ollama")
	queryCmd.Flags().StringVar(&queryModel, "model", "", "Model for the CAPTCHA provider")
	queryCmd.Flags().BoolVar(&queryHeadless, "headless", true, "Run the browser without a window")
	queryCmd.Flags().StringVarP(&queryFormat, "format", "f", "json", "Output format: json, yaml")

	for _, name := range []string{"id", "birth"} {
		if err := queryCmd.MarkFlagRequired(name); err != nil {
			utils.ExitOnError("Unable to mark flag as required", err)
		}
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if queryProvider != "" {
		cfg.Captcha.Provider = queryProvider
		cfg.Captcha.Model = ""
	}
	if queryModel != "" {
		cfg.Captcha.Model = queryModel
	}
	if queryMaxRetries > 0 {
		cfg.Query.MaxRetries = queryMaxRetries
	}
	headless := cfg.Query.Headless
	if cmd.Flags().Changed("headless") {
		headless = queryHeadless
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a := newApp(cfg)
	defer a.Close()

	q, err := a.querier(cmd.Context(), headless)
	if err != nil {
		return err
	}

	slog.Info("Querying penalty records",
		"id", utils.MaskIDNumber(queryID),
		"provider", cfg.Captcha.Provider,
		"max_retries", cfg.Query.MaxRetries,
	)
	outcome, queryErr := q.QueryViolation(cmd.Context(), queryID, queryBirth)

	if err := writeOutput(cmd.OutOrStdout(), queryFormat, outcome); err != nil {
		return err
	}
	if queryErr != nil {
		if errors.Is(queryErr, penalty.ErrRetriesExhausted) {
			slog.Error("Query gave up", "attempts", outcome.Attempts)
		}
		return queryErr
	}
	return nil
}
