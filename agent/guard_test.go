package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/guardrail"
	"github.com/hupe1980/meshflow/model"
)

func TestGuard_PreRejectionSkipsSubtree(t *testing.T) {
	m := model.NewMockModel("m")
	inner := NewSequentialAgent("pipeline",
		NewGeneratorAgent("draft", m, WithOutputKey(core.SessionKey("draft"))),
		writer("after", core.SessionKey("after"), "x"),
	)

	guarded := Guard(inner, guardrail.NewChain(guardrail.BlockedKeywords("illegal")))
	assert.Equal(t, "pipeline_guard", guarded.Name())

	rc, rec, sess := newRunContext("something Illegal please")

	ev, err := guarded.Run(rc)
	require.NoError(t, err)

	assert.Equal(t, 0, m.CallCount())
	assert.Equal(t, core.StatusRejected, ev.Status)
	assert.Equal(t, "Input rejected: contains forbidden terms.", ev.Text())
	assert.Equal(t, "blocked_keywords", ev.CustomMetadata["guardrail"])

	assert.Equal(t, []string{"pipeline"}, rec.Authors())
	_, ok := sess.Lookup(core.SessionKey("after"))
	assert.False(t, ok)
}

func TestGuard_PostRejectionDropsDelta(t *testing.T) {
	m := model.NewMockModel("m").Enqueue(strings.Repeat("x", 50))
	gen := NewGeneratorAgent("draft", m, WithOutputKey(core.SessionKey("draft")))

	var rejectedBy string
	obs := &observerFunc{}
	obs.guardrailRejected = func(node, guard string) { rejectedBy = node + "/" + guard }

	guarded := Guard(gen, guardrail.NewChain(guardrail.MaxLength(10)))

	rc, rec, sess := newRunContext("write")
	rc.Observer = obs

	ev, err := guarded.Run(rc)
	require.NoError(t, err)

	assert.Equal(t, core.StatusRejected, ev.Status)
	require.NotNil(t, ev.ErrorCode)
	assert.Equal(t, core.CodeValidationRejected, *ev.ErrorCode)
	assert.Equal(t, "draft/max_length", rejectedBy)

	_, ok := sess.Lookup(core.SessionKey("draft"))
	assert.False(t, ok)
	assert.Equal(t, 0, rec.Deltas())
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, ev.ID, rec.Events()[0].ID)
}

func TestGuard_PostRewrite(t *testing.T) {
	m := model.NewMockModel("m").Enqueue("call me at 555-1234")
	gen := NewGeneratorAgent("answer", m)

	redact := guardrail.PostFunc("redact", func(_ context.Context, _ guardrail.Invocation, out guardrail.Output) (guardrail.Output, error) {
		out.Text = strings.ReplaceAll(out.Text, "555-1234", "[redacted]")
		return out, nil
	})

	guarded := Guard(gen, guardrail.NewChain(redact))

	rc, rec, _ := newRunContext("number?")

	ev, err := guarded.Run(rc)
	require.NoError(t, err)

	assert.Equal(t, "call me at [redacted]", ev.Text())
	assert.Equal(t, "call me at [redacted]", rec.Events()[0].Text())
}

func TestConditionAgent(t *testing.T) {
	check := NewConditionAgent("check", StateEquals(core.SessionKey("status"), "completed"))

	rc, _, sess := newRunContext("x")

	ev, err := check.Run(rc)
	require.NoError(t, err)
	assert.False(t, ev.IsEscalation())
	assert.Equal(t, "continue", ev.CustomMetadata["decision"])

	sess.SetState(core.SessionKey("status"), "completed")

	ev, err = check.Run(rc)
	require.NoError(t, err)
	assert.True(t, ev.IsEscalation())
	assert.Equal(t, "escalate", ev.CustomMetadata["decision"])
}

func TestCustomAgent(t *testing.T) {
	node := NewCustomAgent("stamp", func(rc *core.RunContext) (core.Event, error) {
		ev := core.NewMessageEvent(rc.RunID, "", "stamped")
		ev.SetState(core.TempKey("stamp"), rc.Input())
		return ev, nil
	}, WithDescription("Stamps the input"))

	rc, rec, sess := newRunContext("hello")

	ev, err := node.Run(rc)
	require.NoError(t, err)

	assert.Equal(t, "stamp", ev.Author)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, "hello", lookup(t, sess, core.TempKey("stamp")))
	assert.Len(t, rec.Events(), 1)
}
