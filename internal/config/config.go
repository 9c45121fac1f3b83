// Package config assembles process configuration from built-in defaults,
// an optional YAML file and the environment, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Engines lists the accepted OCR_ENGINE values.
var Engines = []string{"tesseract", "google", "paddle"}

type OCRConfig struct {
	Engine            string `yaml:"engine"`
	TesseractLang     string `yaml:"tesseract_lang"`
	GoogleCredentials string `yaml:"google_credentials"`
	PaddleURL         string `yaml:"paddle_url"`
	// Magick is the ImageMagick binary used for preprocessing; empty skips it.
	Magick string `yaml:"magick"`
}

type CaptchaConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type QueryConfig struct {
	URL            string        `yaml:"url"`
	MaxRetries     int           `yaml:"max_retries"`
	Backoff        time.Duration `yaml:"backoff"`
	Headless       bool          `yaml:"headless"`
	NoRecordPhrase string        `yaml:"no_record_phrase"`
	ChromePath     string        `yaml:"chrome_path"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

type Config struct {
	OCR     OCRConfig     `yaml:"ocr"`
	Captcha CaptchaConfig `yaml:"captcha"`
	Query   QueryConfig   `yaml:"query"`

	RedisURL string `yaml:"redis_url"`
	TempDir  string `yaml:"temp_dir"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`

	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins []string `yaml:"cors_origins"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		OCR: OCRConfig{
			Engine:        "paddle",
			TesseractLang: "chi_tra+eng",
			PaddleURL:     "http://localhost:8080/ocr",
			Magick:        "magick",
		},
		// An empty model selects the provider's default.
		Captcha: CaptchaConfig{
			Provider: "gemini",
		},
		Query: QueryConfig{
			URL:            "https://www.mvdis.gov.tw/m3-emv-vil/vil/driverLicensePenalty#gsc.tab=0",
			MaxRetries:     10,
			Backoff:        2 * time.Second,
			Headless:       true,
			NoRecordPhrase: "查無資料",
			CacheTTL:       time.Hour,
		},
		TempDir:     os.TempDir(),
		Host:        "0.0.0.0",
		Port:        3000,
		CORSOrigins: []string{"*"},
	}
}

// Load builds the configuration. path names an optional YAML file; a
// missing file is an error only when path is non-empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.OCR.Engine = strings.ToLower(getEnvOrDefault("OCR_ENGINE", c.OCR.Engine))
	c.OCR.TesseractLang = getEnvOrDefault("TESSERACT_LANG", c.OCR.TesseractLang)
	c.OCR.GoogleCredentials = getEnvOrDefault("GOOGLE_APPLICATION_CREDENTIALS", c.OCR.GoogleCredentials)
	c.OCR.PaddleURL = getEnvOrDefault("PADDLE_OCR_URL", c.OCR.PaddleURL)
	c.OCR.Magick = getEnvOrDefault("MAGICK_PATH", c.OCR.Magick)

	c.Captcha.Provider = strings.ToLower(getEnvOrDefault("CAPTCHA_PROVIDER", c.Captcha.Provider))
	c.Captcha.Model = getEnvOrDefault("CAPTCHA_MODEL", c.Captcha.Model)

	c.Query.URL = getEnvOrDefault("QUERY_URL", c.Query.URL)
	c.Query.MaxRetries = getEnvAsIntOrDefault("QUERY_MAX_RETRIES", c.Query.MaxRetries)
	c.Query.Backoff = getEnvAsDurationOrDefault("QUERY_BACKOFF", c.Query.Backoff)
	c.Query.Headless = getEnvAsBoolOrDefault("QUERY_HEADLESS", c.Query.Headless)
	c.Query.NoRecordPhrase = getEnvOrDefault("NO_RECORD_PHRASE", c.Query.NoRecordPhrase)
	c.Query.ChromePath = getEnvOrDefault("CHROME_PATH", c.Query.ChromePath)
	c.Query.CacheTTL = getEnvAsDurationOrDefault("QUERY_CACHE_TTL", c.Query.CacheTTL)

	c.RedisURL = getEnvOrDefault("REDIS_URL", c.RedisURL)
	c.TempDir = getEnvOrDefault("TEMP_DIR", c.TempDir)
	c.Host = getEnvOrDefault("HOST", c.Host)
	c.Port = getEnvAsIntOrDefault("PORT", c.Port)
	c.CORSOrigins = getEnvAsListOrDefault("CORS_ORIGINS", c.CORSOrigins)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if !slices.Contains(Engines, c.OCR.Engine) {
		return fmt.Errorf("OCR_ENGINE must be one of %s, got %q", strings.Join(Engines, ", "), c.OCR.Engine)
	}
	if c.Query.MaxRetries < 1 || c.Query.MaxRetries > 50 {
		return fmt.Errorf("QUERY_MAX_RETRIES must be between 1 and 50, got %d", c.Query.MaxRetries)
	}
	if c.Query.Backoff < 0 {
		return fmt.Errorf("QUERY_BACKOFF must not be negative, got %s", c.Query.Backoff)
	}
	if c.Query.NoRecordPhrase == "" {
		return fmt.Errorf("NO_RECORD_PHRASE must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsListOrDefault splits a comma-separated value, dropping empty items.
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

// getEnvAsDurationOrDefault accepts Go durations ("2s") or bare milliseconds.
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
