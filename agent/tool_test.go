package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/guardrail"
	"github.com/hupe1980/meshflow/tool"
)

func locationTool(name string, fn func(query string) (any, error)) *tool.FunctionTool {
	return tool.NewFunctionTool(name, "Looks up a location", map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []string{"query"},
	}, func(tc *core.ToolContext, args map[string]any) (any, error) {
		return fn(args["query"].(string))
	})
}

func TestToolAgent_Success(t *testing.T) {
	lookupTool := locationTool("get_precise_location_info", func(q string) (any, error) {
		return map[string]any{"city": q, "lat": 52.52}, nil
	})

	node := NewToolAgent("primary", lookupTool,
		WithArgs(map[string]any{"query": "{{.State.city}}"}),
		WithOutputKey(core.SessionKey("location")),
	)
	assert.Equal(t, "Looks up a location", node.Description())

	rc, rec, sess := newRunContext("where?")
	sess.SetState(core.SessionKey("city"), "Berlin")

	ev, err := node.Run(rc)
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, ev.Status)
	assert.Equal(t, false, lookup(t, sess, core.SessionKey("primary_failed")))

	loc := lookup(t, sess, core.SessionKey("location")).(map[string]any)
	assert.Equal(t, "Berlin", loc["city"])

	resp := ev.GetFunctionResponses()
	require.Len(t, resp, 1)
	assert.Equal(t, "get_precise_location_info", resp[0].Name)
	assert.JSONEq(t, `{"city":"Berlin","lat":52.52}`, ev.Text())
	assert.Len(t, rec.Events(), 1)
}

func TestToolAgent_ToolErrorIsAbsorbed(t *testing.T) {
	broken := locationTool("lookup", func(string) (any, error) {
		return nil, tool.NewToolError("lookup", "service unavailable", "UNAVAILABLE")
	})

	node := NewToolAgent("primary", broken,
		WithArgs(map[string]any{"query": "x"}),
		WithFailureKey(core.SessionKey("primary_location_failed")),
		WithOutputKey(core.SessionKey("location")),
	)

	rc, _, sess := newRunContext("where?")

	ev, err := node.Run(rc)
	require.NoError(t, err)

	assert.Equal(t, true, lookup(t, sess, core.SessionKey("primary_location_failed")))
	_, ok := sess.Lookup(core.SessionKey("location"))
	assert.False(t, ok)

	require.NotNil(t, ev.ErrorCode)
	assert.Equal(t, core.CodeToolError, *ev.ErrorCode)
	assert.Equal(t, "service unavailable", ev.Text())
	assert.Equal(t, "UNAVAILABLE", ev.CustomMetadata["tool_error_code"])
}

func TestToolAgent_ValidationFailureIsAbsorbed(t *testing.T) {
	called := false
	tl := locationTool("lookup", func(string) (any, error) { called = true; return nil, nil })

	node := NewToolAgent("primary", tl)
	rc, _, sess := newRunContext("where?")

	_, err := node.Run(rc)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, true, lookup(t, sess, core.SessionKey("primary_failed")))
}

func TestToolAgent_OtherErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	tl := &rawTool{err: boom}

	node := NewToolAgent("raw", tl)
	rc, rec, _ := newRunContext("x")

	_, err := node.Run(rc)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, rec.Events())
}

func TestToolAgent_StagedWritesCommitWithResult(t *testing.T) {
	st := tool.NewStateTool()
	node := NewToolAgent("remember", st, WithArgs(map[string]any{
		"operation": "set_state",
		"key":       "user:tier",
		"value":     "gold",
	}))

	rc, rec, sess := newRunContext("x")

	_, err := node.Run(rc)
	require.NoError(t, err)
	assert.Equal(t, "gold", lookup(t, sess, core.UserKey("tier")))
	assert.Len(t, rec.Events(), 1)
}

func TestToolAgent_ArgGuardrail(t *testing.T) {
	called := false
	tl := tool.NewFunctionTool("account", "Reads an account", nil, func(*core.ToolContext, map[string]any) (any, error) {
		called = true
		return "ok", nil
	})

	node := NewToolAgent("account", tl,
		WithArgsFunc(func(rc *core.RunContext) (map[string]any, error) {
			return map[string]any{"user_id": "mallory"}, nil
		}),
		WithGuardrails(guardrail.ArgMatchesState("user_id", core.SessionKey("session_user_id"))),
	)

	rc, _, sess := newRunContext("x")
	sess.SetState(core.SessionKey("session_user_id"), "alice")

	ev, err := node.Run(rc)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, core.StatusRejected, ev.Status)
	assert.Equal(t, "Unauthorized tool call: user_id does not match current session.", ev.Text())
}

func TestFallbackAgent(t *testing.T) {
	primary := locationTool("get_precise_location_info", func(string) (any, error) {
		return nil, tool.NewToolError("get_precise_location_info", "no precise match", "")
	})
	fallback := locationTool("get_general_area_info", func(q string) (any, error) {
		return "general area of " + q, nil
	})

	fb := NewFallbackAgent("locate", primary, fallback,
		WithArgs(map[string]any{"query": "{{.Input}}"}),
		WithOutputKey(core.SessionKey("location_result")),
	)

	rc, rec, sess := newRunContext("Alexanderplatz")

	_, err := fb.Run(rc)
	require.NoError(t, err)

	assert.Equal(t, "general area of Alexanderplatz", lookup(t, sess, core.SessionKey("location_result")))
	assert.Equal(t, true, lookup(t, sess, core.SessionKey("locate_primary_failed")))
	assert.Equal(t, []string{"locate_primary", "locate_check", "locate_fallback"}, rec.Authors())
}

func TestFallbackAgent_PrimarySucceeds(t *testing.T) {
	calls := 0
	primary := locationTool("precise", func(q string) (any, error) { return "precise " + q, nil })
	fallback := locationTool("general", func(string) (any, error) { calls++; return "general", nil })

	fb := NewFallbackAgent("locate", primary, fallback,
		WithArgs(map[string]any{"query": "{{.Input}}"}),
		WithOutputKey(core.SessionKey("location_result")),
	)

	rc, rec, sess := newRunContext("Mitte")

	_, err := fb.Run(rc)
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, "precise Mitte", lookup(t, sess, core.SessionKey("location_result")))
	assert.Equal(t, []string{"locate_primary", "locate_check", "locate_skip"}, rec.Authors())
}

type rawTool struct{ err error }

func (r *rawTool) Name() string               { return "raw" }
func (r *rawTool) Description() string        { return "raw" }
func (r *rawTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (r *rawTool) Call(*core.ToolContext, map[string]any) (any, error) {
	return nil, r.err
}
