package agent

import (
	"context"
	"time"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/internal/testutil"
)

// writer returns a custom node committing key=value.
func writer(name string, key core.StateKey, value any) *CustomAgent {
	return NewCustomAgent(name, func(rc *core.RunContext) (core.Event, error) {
		ev := core.NewMessageEvent(rc.RunID, name, name+" done")
		ev.SetState(key, value)
		return ev, nil
	})
}

// escalator returns a custom node that escalates when esc reports true.
func escalator(name string, esc func(rc *core.RunContext) bool) *CustomAgent {
	return NewCustomAgent(name, func(rc *core.RunContext) (core.Event, error) {
		ev := core.NewEvent(rc.RunID, name)
		ev.SetEscalate(esc(rc))
		return ev, nil
	})
}

// failing returns a node that fails with err.
func failing(name string, err error) *CustomAgent {
	return NewCustomAgent(name, func(rc *core.RunContext) (core.Event, error) {
		return core.Event{}, err
	})
}

// blocking returns a node that waits for cancellation.
func blocking(name string) *CustomAgent {
	return NewCustomAgent(name, func(rc *core.RunContext) (core.Event, error) {
		<-rc.Done()
		return core.Event{}, rc.Err()
	})
}

func newRunContext(input string) (*core.RunContext, *testutil.Recorder, *core.Session) {
	sess := testutil.NewSessionBuilder("s1").Build()
	rc, rec := testutil.NewRunContext(context.Background(), sess, input)

	return rc, rec, sess
}

type observerFunc struct {
	core.NoOpObserver
	nodeFinished      func(node string, status core.Status)
	guardrailRejected func(node, guard string)
}

func (o observerFunc) NodeFinished(node, _ string, _ time.Duration, status core.Status, _ error) {
	if o.nodeFinished != nil {
		o.nodeFinished(node, status)
	}
}

func (o observerFunc) GuardrailRejected(node, guard string) {
	if o.guardrailRejected != nil {
		o.guardrailRejected(node, guard)
	}
}

func lookup(t interface{ Helper() }, sess *core.Session, key core.StateKey) any {
	t.Helper()
	v, _ := sess.Lookup(key)
	return v
}
