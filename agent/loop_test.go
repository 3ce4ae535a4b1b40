package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshflow/core"
)

func counterBody(escalateAt int) *SequentialAgent {
	step := NewCustomAgent("step", func(rc *core.RunContext) (core.Event, error) {
		ev := core.NewEvent(rc.RunID, "step")
		ev.SetState(core.SessionKey("count"), rc.Iteration)
		return ev, nil
	})

	check := NewConditionAgent("check", ConditionFunc(func(_ context.Context, state core.StateReader) (Decision, error) {
		v, _ := state.Lookup(core.SessionKey("count"))
		if n, ok := v.(int); ok && escalateAt > 0 && n >= escalateAt {
			return Escalate, nil
		}
		return Continue, nil
	}))

	return NewSequentialAgent("body", step, check)
}

func TestLoopAgent_EscalatesAtThirdIteration(t *testing.T) {
	loop := NewLoopAgent("loop", counterBody(3), WithMaxIterations(10))
	rc, rec, sess := newRunContext("go")

	ev, err := loop.Run(rc)
	require.NoError(t, err)

	assert.Equal(t, core.StatusEscalated, ev.Status)
	assert.False(t, ev.IsEscalation(), "the loop consumes the escalation")
	assert.Equal(t, "3", ev.CustomMetadata["iterations"])
	assert.Equal(t, 3, lookup(t, sess, core.SessionKey("count")))

	// step + check per iteration, plus the loop's status event
	assert.Len(t, rec.Events(), 7)
}

func TestLoopAgent_ExhaustsAfterMaxIterations(t *testing.T) {
	loop := NewLoopAgent("loop", counterBody(0), WithMaxIterations(10))
	rc, rec, sess := newRunContext("go")

	ev, err := loop.Run(rc)
	require.NoError(t, err)

	assert.Equal(t, core.StatusExhausted, ev.Status)
	assert.Equal(t, "10", ev.CustomMetadata["iterations"])
	assert.Equal(t, 10, lookup(t, sess, core.SessionKey("count")))
	assert.Len(t, rec.Events(), 21)
}

func TestLoopAgent_DefaultMaxIterations(t *testing.T) {
	loop := NewLoopAgent("loop", counterBody(0))
	assert.Equal(t, DefaultMaxIterations, loop.MaxIterations())
}

func TestLoopAgent_IterationMetadata(t *testing.T) {
	loop := NewLoopAgent("loop", counterBody(2))
	rc, rec, _ := newRunContext("go")

	_, err := loop.Run(rc)
	require.NoError(t, err)

	events := rec.Events()
	assert.Equal(t, "1", events[0].CustomMetadata["iteration"])
	assert.Equal(t, "2", events[2].CustomMetadata["iteration"])
	assert.Empty(t, events[len(events)-1].CustomMetadata["iteration"])
}

func TestLoopAgent_BodyErrorFails(t *testing.T) {
	boom := errors.New("boom")
	loop := NewLoopAgent("loop", failing("body", boom))
	rc, _, _ := newRunContext("go")

	_, err := loop.Run(rc)
	require.ErrorIs(t, err, boom)
}

func TestLoopAgent_DoesNotStopEnclosingSequence(t *testing.T) {
	seq := NewSequentialAgent("seq",
		NewLoopAgent("loop", counterBody(1)),
		writer("after", core.SessionKey("after"), true),
	)
	rc, _, sess := newRunContext("go")

	_, err := seq.Run(rc)
	require.NoError(t, err)
	assert.Equal(t, true, lookup(t, sess, core.SessionKey("after")))
}

func TestLoopAgent_IntervalRespectsCancellation(t *testing.T) {
	loop := NewLoopAgent("poller", counterBody(0), WithInterval(time.Hour), WithMaxIterations(3))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rc, _, _ := newRunContext("go")

	_, err := loop.Run(rc.WithContext(ctx))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStateEquals(t *testing.T) {
	sess := core.NewSession("s", "u")
	sess.SetState(core.SessionKey("status"), "done")

	d, err := StateEquals(core.SessionKey("status"), "done").Evaluate(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, Escalate, d)

	d, err = StateEquals(core.SessionKey("status"), "pending").Evaluate(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, Continue, d)
}
