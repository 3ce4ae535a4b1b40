package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().WithEnvLookup(env(nil)).Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "mock", cfg.Model.Provider)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
store:
  driver: redis
  redis:
    addr: redis:6379
    ttl: 1h
model:
  provider: openai
  name: gpt-4o-mini
runner:
  max_model_calls: 20
`), 0o600))

	cfg, err := NewLoader().
		WithConfigPath(path).
		WithEnvLookup(env(map[string]string{
			"MESHFLOW_MODEL_NAME":                 "gpt-4o",
			"MESHFLOW_STORE_REDIS_DB":             "3",
			"MESHFLOW_RETRY_MAX_RETRIES":          "2",
			"MESHFLOW_RETRY_INITIAL_DELAY":        "250ms",
			"MESHFLOW_METRICS_ENABLED":            "true",
			"MESHFLOW_LOG_OUTPUT_PATHS":           "stdout, /tmp/meshflow.log",
			"MESHFLOW_RUNNER_MAX_CONCURRENT_RUNS": "",
		})).
		Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"stdout", "/tmp/meshflow.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Store.Redis.TTL)
	assert.Equal(t, 3, cfg.Store.Redis.DB)
	assert.Equal(t, "meshflow:", cfg.Store.Redis.Prefix, "defaults survive partial sections")
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "gpt-4o", cfg.Model.Name)
	assert.Equal(t, 20, cfg.Runner.MaxModelCalls)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).
		WithEnvLookup(env(nil)).
		Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("store: [unclosed"), 0o600))

		_, err := NewLoader().WithConfigPath(path).WithEnvLookup(env(nil)).Load()
		require.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("bad env value", func(t *testing.T) {
		_, err := NewLoader().WithEnvLookup(env(map[string]string{"MESHFLOW_RUNNER_TIMEOUT": "soon"})).Load()
		require.ErrorContains(t, err, "MESHFLOW_RUNNER_TIMEOUT")
	})

	t.Run("unknown yaml key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "typo.yaml")
		require.NoError(t, os.WriteFile(path, []byte("store:\n  drvier: redis\n"), 0o600))

		_, err := NewLoader().WithConfigPath(path).WithEnvLookup(env(nil)).Load()
		require.ErrorContains(t, err, "drvier")
	})

	t.Run("every bad env value is reported", func(t *testing.T) {
		_, err := NewLoader().WithEnvLookup(env(map[string]string{
			"MESHFLOW_RUNNER_MAX_MODEL_CALLS": "many",
			"MESHFLOW_METRICS_ENABLED":        "sometimes",
		})).Load()
		require.ErrorContains(t, err, "MESHFLOW_RUNNER_MAX_MODEL_CALLS")
		require.ErrorContains(t, err, "MESHFLOW_METRICS_ENABLED")
	})

	t.Run("custom prefix", func(t *testing.T) {
		cfg, err := NewLoader().
			WithEnvPrefix("APP").
			WithEnvLookup(env(map[string]string{"APP_STORE_DRIVER": "sqlite", "MESHFLOW_STORE_DRIVER": "redis"})).
			Load()
		require.NoError(t, err)
		assert.Equal(t, "sqlite", cfg.Store.Driver)
	})

	t.Run("extra validator", func(t *testing.T) {
		_, err := NewLoader().
			WithEnvLookup(env(nil)).
			WithValidator(func(c *Config) error {
				if c.Model.Provider == "mock" {
					return assert.AnError
				}
				return nil
			}).
			Load()
		require.ErrorIs(t, err, assert.AnError)
	})
}

func TestLoader_EnvKeys(t *testing.T) {
	keys := NewLoader().WithEnvPrefix("APP").EnvKeys()

	assert.Contains(t, keys, "APP_STORE_REDIS_ADDR")
	assert.Contains(t, keys, "APP_RETRY_INITIAL_DELAY")
	assert.Contains(t, keys, "APP_LOG_OUTPUT_PATHS")
	assert.NotContains(t, keys, "APP_STORE")
	assert.IsNonDecreasing(t, keys)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "mongo" }, wantErr: "store.driver"},
		{name: "redis without addr", mutate: func(c *Config) { c.Store.Driver = "redis"; c.Store.Redis.Addr = "" }, wantErr: "store.redis.addr"},
		{name: "sql without dsn", mutate: func(c *Config) { c.Store.Driver = "postgres"; c.Store.Database.DSN = "" }, wantErr: "store.database.dsn"},
		{name: "unknown provider", mutate: func(c *Config) { c.Model.Provider = "llama" }, wantErr: "model.provider"},
		{name: "temperature", mutate: func(c *Config) { c.Model.Temperature = 3 }, wantErr: "model.temperature"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "verbose" }, wantErr: "log.level"},
		{name: "negative calls", mutate: func(c *Config) { c.Runner.MaxModelCalls = -1 }, wantErr: "runner.max_model_calls"},
		{name: "multiplier", mutate: func(c *Config) { c.Retry.Multiplier = 0.5 }, wantErr: "retry.multiplier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Driver = "mongo"
	cfg.Model.Provider = "llama"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "store.driver")
	assert.ErrorContains(t, err, "model.provider")
}
