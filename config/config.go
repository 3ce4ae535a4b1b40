package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config is the complete meshflow configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Runner    RunnerConfig    `yaml:"runner" env:"RUNNER"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Model     ModelConfig     `yaml:"model" env:"MODEL"`
	Retry     RetryConfig     `yaml:"retry" env:"RETRY"`
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// json or console
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// RunnerConfig configures run execution.
type RunnerConfig struct {
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" env:"MAX_CONCURRENT_RUNS"`
	MaxModelCalls     int `yaml:"max_model_calls" env:"MAX_MODEL_CALLS"`
	EventBufferSize   int `yaml:"event_buffer_size" env:"EVENT_BUFFER_SIZE"`
	// Timeout bounds a whole run (0 = none).
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// StoreConfig selects and configures the session store.
type StoreConfig struct {
	// memory, redis, sqlite, postgres or mysql
	Driver   string         `yaml:"driver" env:"DRIVER"`
	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
}

// RedisConfig configures the redis store.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	Prefix   string        `yaml:"prefix" env:"PREFIX"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// DatabaseConfig configures the SQL store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DSN"`
}

// ModelConfig selects the reasoning service.
type ModelConfig struct {
	// mock, openai or anthropic
	Provider    string  `yaml:"provider" env:"PROVIDER"`
	Name        string  `yaml:"name" env:"NAME"`
	APIKey      string  `yaml:"api_key" env:"API_KEY"`
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int64   `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// RetryConfig configures the opt-in model retry wrapper.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
}

// RateLimitConfig throttles model calls (RPS 0 = unlimited).
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" env:"RPS"`
	Burst int     `yaml:"burst" env:"BURST"`
}

// MetricsConfig configures the prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	Addr      string `yaml:"addr" env:"ADDR"`
}

// Known option values.
var (
	StoreDrivers   = []string{"memory", "redis", "sqlite", "postgres", "mysql"}
	ModelProviders = []string{"mock", "openai", "anthropic"}
	LogLevels      = []string{"debug", "info", "warn", "error"}
	LogFormats     = []string{"json", "console"}
)

// DefaultConfig returns the baseline configuration: in-memory store, mock
// model, no retries.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stderr"},
		},
		Runner: RunnerConfig{
			MaxConcurrentRuns: 0,
			MaxModelCalls:     100,
			EventBufferSize:   100,
		},
		Store: StoreConfig{
			Driver: "memory",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "meshflow:",
			},
			Database: DatabaseConfig{
				DSN: "file:meshflow.db",
			},
		},
		Model: ModelConfig{
			Provider:    "mock",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Retry: RetryConfig{
			MaxRetries:   0,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
		Metrics: MetricsConfig{
			Namespace: "meshflow",
			Addr:      ":9090",
		},
	}
}

// Validate reports every invalid value.
func (c *Config) Validate() error {
	var errs []error

	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(slices.Contains(LogLevels, strings.ToLower(c.Log.Level)), "log.level: unknown level %q", c.Log.Level)
	check(slices.Contains(LogFormats, c.Log.Format), "log.format: unknown format %q", c.Log.Format)

	check(c.Runner.MaxConcurrentRuns >= 0, "runner.max_concurrent_runs must not be negative")
	check(c.Runner.MaxModelCalls >= 0, "runner.max_model_calls must not be negative")
	check(c.Runner.EventBufferSize >= 0, "runner.event_buffer_size must not be negative")
	check(c.Runner.Timeout >= 0, "runner.timeout must not be negative")

	check(slices.Contains(StoreDrivers, c.Store.Driver), "store.driver: unknown driver %q", c.Store.Driver)

	switch c.Store.Driver {
	case "redis":
		check(c.Store.Redis.Addr != "", "store.redis.addr is required")
		check(c.Store.Redis.TTL >= 0, "store.redis.ttl must not be negative")
	case "sqlite", "postgres", "mysql":
		check(c.Store.Database.DSN != "", "store.database.dsn is required")
	}

	check(slices.Contains(ModelProviders, c.Model.Provider), "model.provider: unknown provider %q", c.Model.Provider)
	check(c.Model.Temperature >= 0 && c.Model.Temperature <= 2, "model.temperature must be within [0, 2]")
	check(c.Model.MaxTokens >= 0, "model.max_tokens must not be negative")

	check(c.Retry.MaxRetries >= 0, "retry.max_retries must not be negative")
	check(c.Retry.Multiplier == 0 || c.Retry.Multiplier >= 1, "retry.multiplier must be at least 1")

	check(c.RateLimit.RPS >= 0, "rate_limit.rps must not be negative")
	check(c.RateLimit.Burst >= 0, "rate_limit.burst must not be negative")

	return errors.Join(errs...)
}
