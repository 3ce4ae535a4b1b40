package guardrail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshflow/core"
)

func TestMaxLength(t *testing.T) {
	g := MaxLength(5)
	ctx := context.Background()

	assert.NoError(t, g.BeforeInvoke(ctx, Invocation{Input: "hello"}))
	assert.Error(t, g.BeforeInvoke(ctx, Invocation{Input: "hello!"}))

	_, err := g.AfterInvoke(ctx, Invocation{}, Output{Text: "way too long"})
	assert.Error(t, err)
}

func TestBlockedKeywords(t *testing.T) {
	g := BlockedKeywords("violence", "hate", "illegal")
	ctx := context.Background()

	tests := []struct {
		name    string
		inv     Invocation
		blocked bool
	}{
		{"clean input", Invocation{Input: "summarize renewable energy"}, false},
		{"keyword", Invocation{Input: "Something ILLEGAL here"}, true},
		{"substring only", Invocation{Input: "hateful? no, whatever"}, false},
		{"string arg", Invocation{Args: map[string]any{"q": "hate speech"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.BeforeInvoke(ctx, tt.inv)
			if tt.blocked {
				r, ok := AsRejection(err)
				require.True(t, ok)
				assert.Equal(t, "Input rejected: contains forbidden terms.", r.Message)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequireArgs(t *testing.T) {
	chain := NewChain(RequireArgs("user_id", "query"))

	err := chain.Before(context.Background(), Invocation{Args: map[string]any{"query": "x"}})

	r, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, "require_args", r.Guardrail)
	assert.Contains(t, r.Message, "user_id")
}

func TestArgMatchesState(t *testing.T) {
	sess := core.NewSession("s1", "u1")
	sess.SetState(core.SessionKey("session_user_id"), "alice")

	chain := NewChain(ArgMatchesState("user_id", core.SessionKey("session_user_id")))
	ctx := context.Background()

	assert.NoError(t, chain.Before(ctx, Invocation{State: sess, Args: map[string]any{"user_id": "alice"}}))
	assert.NoError(t, chain.Before(ctx, Invocation{State: sess, Args: map[string]any{}}))

	err := chain.Before(ctx, Invocation{State: sess, Args: map[string]any{"user_id": "mallory"}})

	r, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, "Unauthorized tool call: user_id does not match current session.", r.Message)
}

func TestRegexp(t *testing.T) {
	g := Must(Regexp("no_ssn", `\d{3}-\d{2}-\d{4}`, "Input rejected: contains an SSN."))

	assert.NoError(t, g.BeforeInvoke(context.Background(), Invocation{Input: "call me"}))
	assert.Error(t, g.BeforeInvoke(context.Background(), Invocation{Input: "ssn 123-45-6789"}))

	_, err := Regexp("bad", "(", "x")
	assert.Error(t, err)
}

func TestJSONObject(t *testing.T) {
	g := JSONObject("title", "key_findings")
	ctx := context.Background()

	out, err := g.AfterInvoke(ctx, Invocation{}, Output{Text: "```json\n{\"title\":\"t\",\"key_findings\":[]}\n```"})
	require.NoError(t, err)
	assert.Equal(t, "t", out.Value.(map[string]any)["title"])

	_, err = g.AfterInvoke(ctx, Invocation{}, Output{Text: `{"title":"t"}`})
	assert.Error(t, err)

	_, err = g.AfterInvoke(ctx, Invocation{}, Output{Text: "not json"})
	assert.Error(t, err)
}
