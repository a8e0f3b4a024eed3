// Package config provides configuration management for FeedForge.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/feedforge/internal/cache"
	"github.com/lvonguyen/feedforge/internal/enrichment"
	"github.com/lvonguyen/feedforge/internal/observability"
)

// ErrInvalidConfig marks values that fail validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all FeedForge configuration.
type Config struct {
	Evaluation EvaluationConfig           `yaml:"evaluation"`
	AbuseIPDB  enrichment.AbuseIPDBConfig `yaml:"abuseipdb"`
	Redis      cache.RedisConfig          `yaml:"redis"`
	Server     ServerConfig               `yaml:"server"`
	Logging    LoggingConfig              `yaml:"logging"`
	Telemetry  TelemetryConfig            `yaml:"telemetry"`
}

// EvaluationConfig holds feed construction and sweep settings.
type EvaluationConfig struct {
	FeedSize              int    `yaml:"feed_size"`
	TestSizesUpTo         string `yaml:"test_sizes_up_to"` // absolute count or NN% of the scoring snapshot
	Samples               int    `yaml:"samples"`
	ExcludeMassScanners   bool   `yaml:"exclude_mass_scanners"`
	MassScannerReputation string `yaml:"mass_scanner_reputation"`
	OnlyScanners          bool   `yaml:"only_scanners"`
	RecentWindowDays      int    `yaml:"recent_window_days"`
	PersistentWindowDays  int    `yaml:"persistent_window_days"`
	PersistentMinDays     int    `yaml:"persistent_min_days"`
	Seed                  uint64 `yaml:"seed"` // 0 = random order differs per run
	Concurrency           int    `yaml:"concurrency"`
	OutputDir             string `yaml:"output_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int             `yaml:"port"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits requests per client and minute. Blocklist
// downloads cost BlocklistCost requests each.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BlocklistCost     int  `yaml:"blocklist_cost"`
	IncludeHeaders    bool `yaml:"include_headers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// TelemetryConfig holds tracing and metrics settings.
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name"`
	Environment    string  `yaml:"environment"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
}

var percentSize = regexp.MustCompile(`^(\d{1,2})%$`)

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Evaluation: EvaluationConfig{
			FeedSize:              5000,
			Samples:               100,
			MassScannerReputation: "mass scanner",
			OnlyScanners:          true,
			RecentWindowDays:      3,
			PersistentWindowDays:  14,
			PersistentMinDays:     10,
			Concurrency:           4,
			OutputDir:             ".",
		},
		AbuseIPDB: enrichment.DefaultAbuseIPDBConfig(),
		Redis: cache.RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 24 * time.Hour,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
				BlocklistCost:     5,
				IncludeHeaders:    true,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "feedforge",
			Environment:    "development",
			TracingEnabled: false,
			OTLPEndpoint:   "localhost:4317",
			SamplingRate:   1.0,
			MetricsEnabled: true,
		},
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	e := c.Evaluation
	if e.FeedSize < 0 {
		return fmt.Errorf("%w: evaluation.feed_size must not be negative", ErrInvalidConfig)
	}
	if e.Samples <= 0 {
		return fmt.Errorf("%w: evaluation.samples must be positive", ErrInvalidConfig)
	}
	if e.TestSizesUpTo != "" {
		if _, _, err := ParseSweepStop(e.TestSizesUpTo, 1); err != nil {
			return err
		}
	}
	if rl := c.Server.RateLimit; rl.Enabled && rl.RequestsPerMinute <= 0 {
		return fmt.Errorf("%w: server.rate_limit.requests_per_minute must be positive", ErrInvalidConfig)
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("%w: telemetry.sampling_rate must be within [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// ParseSweepStop resolves a sweep limit given as an absolute count or as a
// one- or two-digit percentage of records. The second result reports
// whether the limit was relative.
func ParseSweepStop(s string, records int) (int, bool, error) {
	if m := percentSize.FindStringSubmatch(s); m != nil {
		pct, _ := strconv.Atoi(m[1])
		return records * pct / 100, true, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("%w: sweep limit %q is neither a count nor NN%%", ErrInvalidConfig, s)
	}
	return n, false, nil
}

// Observability maps the logging and telemetry sections onto the
// observability package.
func (c *Config) Observability(version string) observability.Config {
	return observability.Config{
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    c.Telemetry.Environment,
		LogLevel:       c.Logging.Level,
		LogFormat:      c.Logging.Format,
		TracingEnabled: c.Telemetry.TracingEnabled,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
		SamplingRate:   c.Telemetry.SamplingRate,
		MetricsEnabled: c.Telemetry.MetricsEnabled,
	}
}
