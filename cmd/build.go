package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	yaml "go.yaml.in/yaml/v3"

	"github.com/ionex/idverify/internal/cache"
	"github.com/ionex/idverify/internal/config"
	"github.com/ionex/idverify/internal/metrics"
	"github.com/ionex/idverify/internal/utils"
	"github.com/ionex/idverify/internal/verify"
	"github.com/ionex/idverify/pkg/azure"
	"github.com/ionex/idverify/pkg/browser"
	"github.com/ionex/idverify/pkg/captcha"
	"github.com/ionex/idverify/pkg/claude"
	"github.com/ionex/idverify/pkg/gemini"
	"github.com/ionex/idverify/pkg/imaging"
	"github.com/ionex/idverify/pkg/ocr"
	"github.com/ionex/idverify/pkg/ocr/googlevision"
	"github.com/ionex/idverify/pkg/ocr/paddle"
	"github.com/ionex/idverify/pkg/ocr/tesseract"
	"github.com/ionex/idverify/pkg/ollama"
	"github.com/ionex/idverify/pkg/openai"
	"github.com/ionex/idverify/pkg/penalty"
	"github.com/ionex/idverify/pkg/providers"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func newEngineRegistry(cfg *config.Config) *ocr.Registry {
	registry := ocr.NewRegistry()
	registry.Register(tesseract.New(cfg.OCR.TesseractLang))
	registry.Register(googlevision.New(cfg.OCR.GoogleCredentials))
	registry.Register(paddle.New(cfg.OCR.PaddleURL))
	return registry
}

func newProviderRegistry() *providers.Registry {
	registry := providers.NewRegistry()
	registry.Register(openai.New())
	registry.Register(azure.New())
	registry.Register(claude.New())
	registry.Register(gemini.New())
	registry.Register(ollama.New())
	return registry
}

func newRecognizer(cfg *config.Config) (*captcha.VisionRecognizer, error) {
	registry := newProviderRegistry()
	if !registry.HasProvider(cfg.Captcha.Provider) {
		return nil, fmt.Errorf("unsupported captcha provider %q (available: %s)",
			cfg.Captcha.Provider, strings.Join(registry.List(), ", "))
	}
	provider, err := registry.Get(cfg.Captcha.Provider)
	if err != nil {
		return nil, err
	}
	recognizer := captcha.NewVisionRecognizer(provider, cfg.Captcha.Model)
	if err := provider.ValidateConfig(recognizer.Config); err != nil {
		return nil, fmt.Errorf("captcha provider configuration validation failed: %w", err)
	}
	return recognizer, nil
}

// app holds the process-wide collaborators a command needs. Close releases
// them.
type app struct {
	cfg     *config.Config
	engines *ocr.Registry
	metrics *metrics.Metrics
	redis   *redis.Client
}

func newApp(cfg *config.Config) *app {
	return &app{
		cfg:     cfg,
		engines: newEngineRegistry(cfg),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
}

func (a *app) Close() {
	if err := a.engines.Close(); err != nil {
		slog.Warn("Failed to close OCR engine", "err", err)
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

func (a *app) engine(name string) (ocr.Engine, error) {
	if name == "" {
		name = a.cfg.OCR.Engine
	}
	return a.engines.Get(name)
}

// querier builds a violation querier from configuration. headless
// overrides the configured browser mode.
func (a *app) querier(ctx context.Context, headless bool) (*penalty.Querier, error) {
	recognizer, err := newRecognizer(a.cfg)
	if err != nil {
		return nil, err
	}

	launcher := browser.NewChromeLauncher(browser.Options{
		Headless: headless,
		ExecPath: a.cfg.Query.ChromePath,
	})

	q := penalty.New(launcher, recognizer)
	q.URL = a.cfg.Query.URL
	q.NoRecordPhrase = a.cfg.Query.NoRecordPhrase
	q.MaxRetries = a.cfg.Query.MaxRetries
	q.Backoff = a.cfg.Query.Backoff
	q.TempDir = a.cfg.TempDir
	q.Observer = a.metrics

	if a.redis == nil && a.cfg.RedisURL != "" {
		client, err := cache.NewClient(ctx, a.cfg.RedisURL)
		if err != nil {
			slog.Warn("Query cache disabled", "err", utils.MaskSensitiveError(err))
		}
		a.redis = client
	}
	if a.redis != nil {
		q.Cache = cache.NewQueryCache(a.redis, a.cfg.Query.CacheTTL)
	}
	return q, nil
}

// service builds the verification pipeline around the named engine. A nil
// querier leaves auto-query unavailable.
func (a *app) service(engineName string, q *penalty.Querier) (*verify.Service, error) {
	engine, err := a.engine(engineName)
	if err != nil {
		return nil, err
	}

	images := imaging.NewProcessor(a.cfg.TempDir)
	svc := &verify.Service{
		Engine:         engine,
		Images:         images,
		Metrics:        a.metrics,
		SkipPreprocess: a.cfg.OCR.Magick == "",
	}
	if a.cfg.OCR.Magick != "" {
		images.Magick = a.cfg.OCR.Magick
	}
	if q != nil {
		svc.Querier = q
	}
	return svc, nil
}

func writeOutput(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q (json, yaml)", format)
	}
}
