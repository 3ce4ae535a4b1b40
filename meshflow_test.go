package meshflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshflow/agent"
	"github.com/hupe1980/meshflow/config"
	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/model"
)

func TestMeshflow_RunSync(t *testing.T) {
	mf := New()
	ctx := context.Background()

	state := core.NewStateDelta()
	state.Set(core.UserKey("name"), "Ada")

	sess, err := mf.CreateSession(ctx, "u1", state)
	require.NoError(t, err)

	m := model.NewMockModel("m")
	root := agent.NewGeneratorAgent("greeter", m,
		agent.WithPromptTemplate("Greet {{.User.name}}: {{.Input}}"),
		agent.WithOutputKey(core.SessionKey("greeting")),
	)

	events, err := mf.RunSync(ctx, root, sess.ID, "hello")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[2].Final)

	stored, err := mf.SessionStore().Get(ctx, sess.ID)
	require.NoError(t, err)

	greeting, ok := core.LookupString(stored, core.SessionKey("greeting"))
	require.True(t, ok)
	assert.Equal(t, "Mock response to: Greet Ada: hello", greeting)
}

func TestMeshflow_Events(t *testing.T) {
	mf := New()
	ctx := context.Background()

	sess, err := mf.CreateSession(ctx, "u1", nil)
	require.NoError(t, err)

	var authors []string
	for ev, err := range mf.Events(ctx, agent.NewGeneratorAgent("echo", model.NewMockModel("m")), sess.ID, "hi") {
		require.NoError(t, err)
		authors = append(authors, ev.Author)
	}

	assert.Equal(t, []string{"user", "echo", "runner"}, authors)
}

func TestFromConfig(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{name: "memory", mutate: func(*config.Config) {}},
		{name: "sqlite", mutate: func(c *config.Config) {
			c.Store.Driver = "sqlite"
			c.Store.Database.DSN = filepath.Join(t.TempDir(), "meshflow.db")
		}},
		{name: "redis", mutate: func(c *config.Config) {
			c.Store.Driver = "redis"
			c.Store.Redis.Addr = mr.Addr()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Log.OutputPaths = []string{filepath.Join(t.TempDir(), "meshflow.log")}
			cfg.Metrics.Enabled = true
			cfg.Retry.MaxRetries = 2
			cfg.RateLimit.RPS = 100
			cfg.RateLimit.Burst = 10
			tt.mutate(cfg)
			require.NoError(t, cfg.Validate())

			stack, err := FromConfig(cfg, prometheus.NewRegistry())
			require.NoError(t, err)
			t.Cleanup(func() { _ = stack.Close() })

			require.NotNil(t, stack.Metrics)
			assert.Equal(t, "mock", stack.Model.Info().Provider)

			ctx := context.Background()
			sess, err := stack.CreateSession(ctx, "u1", nil)
			require.NoError(t, err)

			root := agent.NewGeneratorAgent("gen", stack.Model, agent.WithOutputKey(core.SessionKey("out")))

			events, err := stack.RunSync(ctx, root, sess.ID, "ping")
			require.NoError(t, err)
			assert.Equal(t, core.StatusCompleted, events[len(events)-1].Status)

			stored, err := stack.SessionStore().Get(ctx, sess.ID)
			require.NoError(t, err)
			_, ok := stored.Lookup(core.SessionKey("out"))
			assert.True(t, ok)
		})
	}
}

func TestNewModel_Providers(t *testing.T) {
	for _, provider := range []string{"openai", "anthropic"} {
		cfg := config.DefaultConfig()
		cfg.Model.Provider = provider
		cfg.Model.APIKey = "test-key"

		m, err := NewModel(cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, provider, m.Info().Provider)
	}

	cfg := config.DefaultConfig()
	cfg.Model.Provider = "llama"
	_, err := NewModel(cfg, nil)
	require.Error(t, err)
}

func TestNewStore_UnknownDriver(t *testing.T) {
	_, _, err := NewStore(config.StoreConfig{Driver: "mongo"})
	require.ErrorContains(t, err, "unknown store driver")
}
