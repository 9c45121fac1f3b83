package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ionex/idverify/internal/utils"
	"github.com/ionex/idverify/pkg/penalty"
)

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Fill the penalty query form and leave the CAPTCHA to you",
	Long: `Open a browser window on the penalty query form and fill in the ID number
and birth date. Type the CAPTCHA and submit the form yourself.

Without --keep-alive the browser closes after --grace. With --keep-alive it
stays open until you press Ctrl+C.`,
	RunE: runFill,
}

var (
	fillID        string
	fillBirth     string
	fillKeepAlive bool
	fillGrace     = penalty.DefaultFillGrace
)

func init() {
	RootCmd.AddCommand(fillCmd)

	fillCmd.Flags().StringVar(&fillID, "id", "", "National ID number (required)")
	fillCmd.Flags().StringVar(&fillBirth, "birth", "", "Birth date in ROC form (required)")
	fillCmd.Flags().BoolVar(&fillKeepAlive, "keep-alive", false, "Keep the browser open until interrupted")
	fillCmd.Flags().DurationVar(&fillGrace, "grace", penalty.DefaultFillGrace, "How long the browser stays open without --keep-alive")

	for _, name := range []string{"id", "birth"} {
		if err := fillCmd.MarkFlagRequired(name); err != nil {
			utils.ExitOnError("Unable to mark flag as required", err)
		}
	}
}

func runFill(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a := newApp(cfg)
	defer a.Close()

	// Manual CAPTCHA entry needs a visible window.
	q, err := a.querier(cmd.Context(), false)
	if err != nil {
		return err
	}

	result, err := q.FillOnly(cmd.Context(), fillID, fillBirth, penalty.FillOptions{
		KeepAlive: fillKeepAlive,
		Grace:     fillGrace,
	})
	if result != nil {
		if werr := writeOutput(cmd.OutOrStdout(), "json", result); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	if fillKeepAlive {
		slog.Info("Browser stays open, press Ctrl+C to close it")
		<-sig
	} else {
		slog.Info("Browser closes automatically", "after", fillGrace)
		select {
		case <-sig:
		case <-time.After(fillGrace):
		}
	}
	return result.Session.Close()
}
