package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Hard limits of the scrape request surface.
const (
	MinMaxChars = 100
	MaxMaxChars = 50000
	MaxMaxLinks = 500
)

// Config holds every tunable of the service. Values are layered as
// defaults, then an optional YAML file, then environment variables.
type Config struct {
	SearxngURL     string   `yaml:"searxng_url" env:"SEARXNG_URL"`
	SearxngEngines []string `yaml:"searxng_engines" env:"SEARXNG_ENGINES" envSeparator:","`

	MaxConcurrency int `yaml:"max_concurrency" env:"WEBEXTRACT_MAX_CONCURRENCY"`

	SearchCacheTTL      time.Duration `yaml:"search_cache_ttl" env:"WEBEXTRACT_SEARCH_CACHE_TTL"`
	ScrapeCacheTTL      time.Duration `yaml:"scrape_cache_ttl" env:"WEBEXTRACT_SCRAPE_CACHE_TTL"`
	SearchCacheCapacity int           `yaml:"search_cache_capacity" env:"WEBEXTRACT_SEARCH_CACHE_CAPACITY"`
	ScrapeCacheCapacity int           `yaml:"scrape_cache_capacity" env:"WEBEXTRACT_SCRAPE_CACHE_CAPACITY"`
	RedisURL            string        `yaml:"redis_url" env:"WEBEXTRACT_REDIS_URL"`
	RedisKeyPrefix      string        `yaml:"redis_key_prefix" env:"WEBEXTRACT_REDIS_KEY_PREFIX"`

	DefaultMaxChars int `yaml:"max_content_chars" env:"MAX_CONTENT_CHARS"`
	DefaultMaxLinks int `yaml:"max_links" env:"MAX_LINKS"`

	FetchTimeout     time.Duration `yaml:"fetch_timeout" env:"WEBEXTRACT_FETCH_TIMEOUT"`
	FetchAttempts    int           `yaml:"fetch_attempts" env:"WEBEXTRACT_FETCH_ATTEMPTS"`
	BackoffBase      time.Duration `yaml:"backoff_base" env:"WEBEXTRACT_BACKOFF_BASE"`
	BackoffMax       time.Duration `yaml:"backoff_max" env:"WEBEXTRACT_BACKOFF_MAX"`
	RetryBudget      time.Duration `yaml:"retry_budget" env:"WEBEXTRACT_RETRY_BUDGET"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes" env:"WEBEXTRACT_MAX_BODY_BYTES"`
	RespectRobots    bool          `yaml:"respect_robots" env:"WEBEXTRACT_RESPECT_ROBOTS"`
	UserAgent        string        `yaml:"user_agent" env:"WEBEXTRACT_USER_AGENT"`
	SingleFlight     bool          `yaml:"single_flight" env:"WEBEXTRACT_SINGLE_FLIGHT"`
	RewriteQueries   bool          `yaml:"rewrite_queries" env:"WEBEXTRACT_REWRITE_QUERIES"`
	ResearchTopN     int           `yaml:"research_top_n" env:"CHAT_SCRAPE_TOP_N"`
	TokenEncoding    string        `yaml:"token_encoding" env:"WEBEXTRACT_TOKEN_ENCODING"`
	BatchWorkers     int           `yaml:"batch_workers" env:"WEBEXTRACT_BATCH_WORKERS"`
	BatchProgressDir string        `yaml:"batch_progress_dir" env:"WEBEXTRACT_BATCH_PROGRESS_DIR"`

	History HistoryConfig `yaml:"history" envPrefix:"WEBEXTRACT_HISTORY_"`

	LogLevel    string `yaml:"log_level" env:"WEBEXTRACT_LOG_LEVEL"`
	LogFormat   string `yaml:"log_format" env:"WEBEXTRACT_LOG_FORMAT"`
	MetricsAddr string `yaml:"metrics_addr" env:"WEBEXTRACT_METRICS_ADDR"`
}

// HistoryConfig selects where fire-and-forget history events go.
type HistoryConfig struct {
	Enabled    bool          `yaml:"enabled" env:"ENABLED"`
	Endpoint   string        `yaml:"endpoint" env:"ENDPOINT"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	SeenPath   string        `yaml:"seen_path" env:"SEEN_PATH"`
	S3Bucket   string        `yaml:"s3_bucket" env:"S3_BUCKET"`
	S3Endpoint string        `yaml:"s3_endpoint" env:"S3_ENDPOINT"`
	S3Region   string        `yaml:"s3_region" env:"S3_REGION"`
	S3User     string        `yaml:"s3_user" env:"S3_USER"`
	S3Password string        `yaml:"s3_password" env:"S3_PASSWORD"`
}

// WithDefaults fills every zero field with its default value.
func (c Config) WithDefaults() Config {
	if c.SearxngURL == "" {
		c.SearxngURL = "http://localhost:8888"
	}
	if len(c.SearxngEngines) == 0 {
		c.SearxngEngines = []string{"duckduckgo", "google", "bing"}
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 32
	}
	if c.SearchCacheTTL <= 0 {
		c.SearchCacheTTL = 10 * time.Minute
	}
	if c.ScrapeCacheTTL <= 0 {
		c.ScrapeCacheTTL = 30 * time.Minute
	}
	if c.SearchCacheCapacity <= 0 {
		c.SearchCacheCapacity = 10000
	}
	if c.ScrapeCacheCapacity <= 0 {
		c.ScrapeCacheCapacity = 10000
	}
	if c.RedisKeyPrefix == "" {
		c.RedisKeyPrefix = "webextract:"
	}
	if c.DefaultMaxChars <= 0 {
		c.DefaultMaxChars = 10000
	}
	if c.DefaultMaxLinks <= 0 {
		c.DefaultMaxLinks = 100
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.FetchAttempts <= 0 {
		c.FetchAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 45 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 4 * 1024 * 1024
	}
	if c.ResearchTopN <= 0 {
		c.ResearchTopN = 3
	}
	if c.TokenEncoding == "" {
		c.TokenEncoding = "cl100k_base"
	}
	if c.BatchWorkers <= 0 {
		c.BatchWorkers = 8
	}
	if c.BatchProgressDir == "" {
		c.BatchProgressDir = "."
	}
	if c.History.Timeout <= 0 {
		c.History.Timeout = 5 * time.Second
	}
	if c.History.S3Region == "" {
		c.History.S3Region = "us-east-1"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	return c
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{SingleFlight: true, RewriteQueries: true}.WithDefaults()
}

// Load reads the optional YAML file at path, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv overlays environment variables onto target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects values outside the supported request surface.
func (c Config) Validate() error {
	var errs []error
	if c.DefaultMaxChars < MinMaxChars || c.DefaultMaxChars > MaxMaxChars {
		errs = append(errs, fmt.Errorf("max_content_chars must be within %d..%d, got %d", MinMaxChars, MaxMaxChars, c.DefaultMaxChars))
	}
	if c.DefaultMaxLinks > MaxMaxLinks {
		errs = append(errs, fmt.Errorf("max_links must be at most %d, got %d", MaxMaxLinks, c.DefaultMaxLinks))
	}
	if !strings.HasPrefix(c.SearxngURL, "http://") && !strings.HasPrefix(c.SearxngURL, "https://") {
		errs = append(errs, fmt.Errorf("searxng_url must be an http(s) URL, got %q", c.SearxngURL))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
