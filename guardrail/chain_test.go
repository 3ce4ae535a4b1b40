package guardrail

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshflow/core"
)

func TestChain_FirstRejectionWins(t *testing.T) {
	var calls []string

	record := func(name string, reject bool) PreInvoke {
		return PreFunc(name, func(context.Context, Invocation) error {
			calls = append(calls, name)
			if reject {
				return Reject("", name+" says no")
			}
			return nil
		})
	}

	chain := NewChain(record("a", false), record("b", true), record("c", true))

	err := chain.Before(context.Background(), Invocation{Node: "n"})
	require.Error(t, err)

	r, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, "b", r.Guardrail)
	assert.Equal(t, "b says no", r.Message)
	assert.Equal(t, core.CodeValidationRejected, r.Code)
	assert.Equal(t, []string{"a", "b"}, calls)

	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, core.CodeValidationRejected, core.ErrorCode(err))
}

func TestChain_NilProceeds(t *testing.T) {
	var c *Chain

	require.NoError(t, c.Before(context.Background(), Invocation{}))

	out, err := c.After(context.Background(), Invocation{}, Output{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", out.Text)
	assert.Equal(t, 0, c.Len())
}

func TestChain_PostRewritesOutput(t *testing.T) {
	upper := PostFunc("redact", func(_ context.Context, _ Invocation, out Output) (Output, error) {
		out.Text = "[redacted]"
		return out, nil
	})
	seen := ""
	check := PostFunc("check", func(_ context.Context, _ Invocation, out Output) (Output, error) {
		seen = out.Text
		return out, nil
	})

	out, err := NewChain(upper, check).After(context.Background(), Invocation{}, Output{Text: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "[redacted]", out.Text)
	assert.Equal(t, "[redacted]", seen)
}

func TestChain_NonRejectionErrorsPassThrough(t *testing.T) {
	boom := errors.New("boom")
	chain := NewChain(PreFunc("broken", func(context.Context, Invocation) error { return boom }))

	err := chain.Before(context.Background(), Invocation{})
	require.ErrorIs(t, err, boom)

	_, ok := AsRejection(err)
	assert.False(t, ok)
}

func TestChain_SplitsPhases(t *testing.T) {
	c := NewChain(MaxLength(5), RequireArgs("q"), JSONObject())
	assert.Equal(t, 4, c.Len())

	c2 := c.Append(BlockedKeywords("x"))
	assert.Equal(t, 6, c2.Len())
	assert.Equal(t, 4, c.Len())
}

func TestChain_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewChain(MaxLength(1)).Before(ctx, Invocation{})
	assert.ErrorIs(t, err, context.Canceled)
}
