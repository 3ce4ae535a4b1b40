package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshflow/core"
)

func promptRequest(text string) Request {
	return Request{Contents: []core.Content{*core.NewTextContent("user", text)}}
}

func TestMockModel_ReplyResolution(t *testing.T) {
	m := NewMockModel("mock-1").
		AddResponse("hello", "hi there").
		Enqueue("first")

	ctx := context.Background()

	resp, err := m.Generate(ctx, promptRequest("hello"))
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Text(), "queued replies win")

	resp, err = m.Generate(ctx, promptRequest("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text())

	resp, err = m.Generate(ctx, promptRequest("other"))
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", resp.Text())

	assert.Equal(t, 3, m.CallCount())
	assert.Equal(t, "other", m.Calls()[2].Prompt())
}

func TestMockModel_ErrorsAreServiceErrors(t *testing.T) {
	m := NewMockModel("mock-1").EnqueueError(errors.New("503 unavailable"))

	_, err := m.Generate(context.Background(), promptRequest("x"))

	var se *core.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "mock", se.Provider)
}

func TestWithRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

	t.Run("retries retryable service errors", func(t *testing.T) {
		m := NewMockModel("flaky")
		calls := 0
		m.SetHandler(func(context.Context, Request) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("overloaded")
			}
			return "ok", nil
		})

		p := policy
		p.RetryAll = true

		resp, err := WithRetry(m, p, nil).Generate(context.Background(), promptRequest("x"))
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Text())
		assert.Equal(t, 3, m.CallCount())
	})

	t.Run("does not retry non retryable errors by default", func(t *testing.T) {
		m := NewMockModel("broken").EnqueueError(errors.New("bad request"))

		_, err := WithRetry(m, policy, nil).Generate(context.Background(), promptRequest("x"))
		require.Error(t, err)
		assert.Equal(t, 1, m.CallCount())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		m := NewMockModel("down")
		m.SetHandler(func(context.Context, Request) (string, error) { return "", errors.New("down") })

		var retries []int
		p := policy
		p.RetryAll = true
		p.OnRetry = func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) }

		_, err := WithRetry(m, p, nil).Generate(context.Background(), promptRequest("x"))

		var se *core.ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, []int{1, 2}, retries)
		assert.Equal(t, 3, m.CallCount())
	})

	t.Run("never retries cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		m := NewMockModel("any")
		_, err := WithRetry(m, policy, nil).Generate(ctx, promptRequest("x"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWithRateLimit(t *testing.T) {
	m := WithRateLimit(NewMockModel("limited"), 1000, 1)

	for i := 0; i < 3; i++ {
		_, err := m.Generate(context.Background(), promptRequest("x"))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithRateLimit(NewMockModel("limited"), 0.001, 1).Generate(ctx, promptRequest("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "limited", m.Info().Name)
}
