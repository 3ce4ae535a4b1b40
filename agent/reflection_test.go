package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/model"
)

func TestReflectionLoop_SentinelOnFirstIteration(t *testing.T) {
	gen := model.NewMockModel("writer").Enqueue("def factorial(n): ...")
	critic := model.NewMockModel("critic").Enqueue("Looks great. " + DefaultSentinel)

	loop := NewReflectionLoop("reflect", gen, critic)
	rc, _, sess := newRunContext("Write a factorial function.")

	ev, err := loop.Run(rc)
	require.NoError(t, err)

	assert.Equal(t, core.StatusEscalated, ev.Status)
	assert.Equal(t, "1", ev.CustomMetadata["iterations"])

	require.Equal(t, 1, gen.CallCount(), "one generate, zero refine")
	assert.Equal(t, "Write a factorial function.", gen.Calls()[0].Prompt())
	assert.Equal(t, 1, critic.CallCount())

	assert.Equal(t, "def factorial(n): ...", lookup(t, sess, core.SessionKey("reflect_artifact")))
}

func TestReflectionLoop_RefinesWithCritique(t *testing.T) {
	gen := model.NewMockModel("writer").Enqueue("v1", "v2")
	critic := model.NewMockModel("critic").Enqueue("- handle negative input", "CODE_IS_PERFECT")

	loop := NewReflectionLoop("reflect", gen, critic,
		WithTask("Task: {{.Input}}"),
		WithArtifactKey(core.TempKey("code")),
		WithCritiqueKey(core.TempKey("review")),
	)
	rc, _, sess := newRunContext("factorial")

	ev, err := loop.Run(rc)
	require.NoError(t, err)
	assert.Equal(t, "2", ev.CustomMetadata["iterations"])

	calls := gen.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Task: factorial", calls[0].Prompt())

	refine := calls[1].Prompt()
	assert.True(t, strings.HasPrefix(refine, "Task: factorial"))
	assert.Contains(t, refine, "v1")
	assert.Contains(t, refine, "- handle negative input")
	assert.Contains(t, refine, "Please refine")

	review := critic.Calls()[1]
	assert.Contains(t, review.Prompt(), "v2")
	assert.Contains(t, review.Instructions, DefaultSentinel)

	assert.Equal(t, "v2", lookup(t, sess, core.TempKey("code")))
}

func TestReflectionLoop_ExhaustsWithoutSentinel(t *testing.T) {
	gen := model.NewMockModel("writer")
	critic := model.NewMockModel("critic").SetHandler(func(context.Context, model.Request) (string, error) {
		return "- still wrong", nil
	})

	loop := NewReflectionLoop("reflect", gen, critic, WithMaxIterations(2), WithSentinel("LGTM"))
	rc, _, _ := newRunContext("task")

	ev, err := loop.Run(rc)
	require.NoError(t, err)
	assert.Equal(t, core.StatusExhausted, ev.Status)
	assert.Equal(t, 2, gen.CallCount())
	assert.Contains(t, critic.Calls()[0].Instructions, "LGTM")
}
