package meshflow

import (
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hupe1980/meshflow/config"
	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/internal/metrics"
	"github.com/hupe1980/meshflow/logging"
	"github.com/hupe1980/meshflow/model"
	anthropicmodel "github.com/hupe1980/meshflow/model/anthropic"
	openaimodel "github.com/hupe1980/meshflow/model/openai"
	"github.com/hupe1980/meshflow/session"
	redisstore "github.com/hupe1980/meshflow/session/redis"
	"github.com/hupe1980/meshflow/session/sqlstore"
)

// Stack bundles the services built from a configuration. Close releases
// them.
type Stack struct {
	*Meshflow
	Logger  *logging.ZapAdapter
	Model   model.Model
	Metrics *metrics.Collector

	closers []func() error
}

// Close releases the store connection and flushes the logger.
func (s *Stack) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the logger, session store, model and (when enabled)
// metrics collector described by cfg. reg receives the metrics; nil uses
// the default registerer.
func FromConfig(cfg *config.Config, reg prometheus.Registerer) (*Stack, error) {
	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	stack := &Stack{Logger: logger}

	store, closeStore, err := NewStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	stack.closers = append(stack.closers, closeStore, func() error {
		_ = logger.Sync()
		return nil
	})

	var observer core.Observer = core.NoOpObserver{}
	if cfg.Metrics.Enabled {
		stack.Metrics = metrics.NewCollector(cfg.Metrics.Namespace, reg, logger.Zap())
		observer = stack.Metrics
	}

	m, err := NewModel(cfg, logger.Zap())
	if err != nil {
		_ = stack.Close()
		return nil, err
	}

	if stack.Metrics != nil {
		m = stack.Metrics.InstrumentModel(m)
	}
	stack.Model = m

	stack.Meshflow = New(func(o *Options) {
		o.MaxConcurrentRuns = cfg.Runner.MaxConcurrentRuns
		o.MaxModelCalls = cfg.Runner.MaxModelCalls
		o.EventBufferSize = cfg.Runner.EventBufferSize
		o.SessionStore = store
		o.Observer = observer
		o.Logger = logger
	})

	return stack, nil
}

// NewLogger builds the zap backed logger described by cfg.
func NewLogger(cfg config.LogConfig) (*logging.ZapAdapter, error) {
	return logging.New(logging.Config{
		Level:       logging.ParseLevel(cfg.Level),
		Format:      cfg.Format,
		OutputPaths: cfg.OutputPaths,
	})
}

// NewStore opens the session store selected by cfg.Driver. The returned
// function closes it.
func NewStore(cfg config.StoreConfig) (core.SessionStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case "", "memory":
		return session.NewInMemoryStore(), noop, nil
	case "redis":
		var opts []redisstore.Option
		if cfg.Redis.Prefix != "" {
			opts = append(opts, redisstore.WithPrefix(cfg.Redis.Prefix))
		}
		if cfg.Redis.TTL > 0 {
			opts = append(opts, redisstore.WithTTL(cfg.Redis.TTL))
		}
		store := redisstore.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...)
		return store, store.Close, nil
	case "sqlite", "postgres", "mysql":
		store, err := sqlstore.Open(cfg.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
		}
		return store, store.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// NewModel builds the reasoning service selected by cfg.Model and applies
// the configured retry policy and rate limit.
func NewModel(cfg *config.Config, logger *zap.Logger) (model.Model, error) {
	var m model.Model

	switch cfg.Model.Provider {
	case "", "mock":
		name := cfg.Model.Name
		if name == "" {
			name = "mock"
		}
		m = model.NewMockModel(name)
	case "openai":
		m = openaimodel.NewModel(func(o *openaimodel.Options) {
			if cfg.Model.Name != "" {
				o.Model = cfg.Model.Name
			}
			o.Temperature = cfg.Model.Temperature
			o.MaxCompletionTokens = cfg.Model.MaxTokens
			o.APIKey = cfg.Model.APIKey
		})
	case "anthropic":
		m = anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if cfg.Model.Name != "" {
				o.Model = anthropic.Model(cfg.Model.Name)
			}
			o.Temperature = cfg.Model.Temperature
			if cfg.Model.MaxTokens > 0 {
				o.MaxTokens = cfg.Model.MaxTokens
			}
			o.APIKey = cfg.Model.APIKey
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}

	if cfg.RateLimit.RPS > 0 {
		m = model.WithRateLimit(m, cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	if cfg.Retry.MaxRetries > 0 {
		m = model.WithRetry(m, model.RetryPolicy{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			Jitter:       true,
		}, logger)
	}

	return m, nil
}
