package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ionex/idverify/internal/server"
	"github.com/ionex/idverify/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verification HTTP API",
	Long: `Start an HTTP server exposing card verification:

  GET  /api/health          liveness
  GET  /api/status          OCR engine status
  POST /api/verify/url      {"imageUrl": "...", "autoQuery": false}
  POST /api/verify/upload   multipart form with an "image" file
  GET  /metrics             Prometheus metrics`,
	RunE: runServe,
}

var (
	serveHost   string
	servePort   int
	serveEngine string
)

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind the web server to (default from HOST)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to run the web server on (default from PORT)")
	serveCmd.Flags().StringVar(&serveEngine, "engine", "", "OCR engine: tesseract, google, paddle (default from OCR_ENGINE)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Host = serveHost
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a := newApp(cfg)
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// autoQuery needs a working CAPTCHA provider; without one the server
	// still reads cards.
	q, err := a.querier(ctx, cfg.Query.Headless)
	if err != nil {
		slog.Warn("Violation query disabled", "err", utils.MaskSensitiveError(err))
		q = nil
	}

	svc, err := a.service(serveEngine, q)
	if err != nil {
		return err
	}

	srv := server.New(svc, svc.Engine, server.Options{
		TempDir:        cfg.TempDir,
		AllowedOrigins: cfg.CORSOrigins,
		Metrics:        a.metrics.Handler(),
	})

	slog.Info("Starting ID verification server",
		"url", fmt.Sprintf("http://%s", cfg.Addr()),
		"engine", svc.Engine.Name(),
		"auto_query", q != nil,
	)
	return srv.ListenAndServe(ctx, cfg.Addr())
}
