// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/mfreitas/tlc_ingest/internal/corpus"
	"github.com/mfreitas/tlc_ingest/internal/tiers"
)

// Config struct for environment variables.
type Config struct {
	Dataset string `envconfig:"DATASET" default:"nyc_taxi"`
	BaseURL string `envconfig:"BASE_URL" default:"https://d37ci6vzurychx.cloudfront.net/trip-data"`

	// StagingRoot overrides the hot-tier landing directory. Empty means
	// the conventional layout for this platform.
	StagingRoot string `envconfig:"STAGING_ROOT"`

	Services  []string `envconfig:"SERVICES" default:"yellow,green,fhv,fhvhv"`
	FromYear  int      `envconfig:"FROM_YEAR" default:"2009"`
	ToYear    int      `envconfig:"TO_YEAR"`
	FromMonth int      `envconfig:"FROM_MONTH" default:"1"`
	ToMonth   int      `envconfig:"TO_MONTH" default:"12"`

	FetchTimeout    time.Duration `envconfig:"FETCH_TIMEOUT" default:"10m"`
	MaxAttempts     int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	RetryBackoff    time.Duration `envconfig:"RETRY_BACKOFF" default:"2s"`
	RetryMaxBackoff time.Duration `envconfig:"RETRY_MAX_BACKOFF" default:"1m"`
	Workers         int           `envconfig:"WORKERS" default:"4"`
	PartialMaxAge   time.Duration `envconfig:"PARTIAL_MAX_AGE" default:"1h"`

	LedgerPath string `envconfig:"LEDGER_PATH"`
	WebhookURL string `envconfig:"WEBHOOK_URL"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile  string `envconfig:"LOG_FILE"`

	TelemetryEnabled bool   `envconfig:"TELEMETRY_ENABLED" default:"true"`
	OTLPEndpoint     string `envconfig:"OTLP_ENDPOINT"`

	Web struct {
		Enabled         bool          `split_words:"true" default:"false"`
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8980"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// Load reads environment variables and populates the Config struct. Paths
// left empty resolve against the platform storage layout.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.ToYear == 0 {
		cfg.ToYear = time.Now().UTC().Year()
	}

	layout := tiers.DefaultLayout(cfg.Dataset)

	if cfg.StagingRoot == "" {
		cfg.StagingRoot = layout.StagingRoot()
	}

	if cfg.LedgerPath == "" {
		cfg.LedgerPath = filepath.Join(layout.Root(tiers.Hot), "ingest_runs.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate cross-checks bounds the struct tags cannot express.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("BASE_URL must not be empty")
	}

	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}

	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}

	return nil
}

// Grid assembles and validates the snapshot grid this run will cover.
func (c *Config) Grid() (corpus.Grid, error) {
	services := make([]corpus.Service, 0, len(c.Services))

	for _, raw := range c.Services {
		svc, err := corpus.ParseService(raw)
		if err != nil {
			return corpus.Grid{}, err
		}

		services = append(services, svc)
	}

	g := corpus.Grid{
		Services:  services,
		FromYear:  c.FromYear,
		ToYear:    c.ToYear,
		FromMonth: c.FromMonth,
		ToMonth:   c.ToMonth,
	}

	if err := g.Validate(); err != nil {
		return corpus.Grid{}, err
	}

	return g, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
