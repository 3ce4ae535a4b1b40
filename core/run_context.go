package core

import (
	"context"
	"fmt"
	"maps"
	"strconv"

	"github.com/hupe1980/meshflow/logging"
)

// RunContext carries execution state & helpers for a node run.
// It encapsulates the per-invocation execution scope passed to an
// Agent's Run method. It aggregates:
//   - The ambient cancellation Context
//   - Identifiers (SessionID, UserID, RunID, Agent info)
//   - Input user Content
//   - A working Session copy reflecting every commit of this run so far
//   - The EventSink commits travel through
//   - Branch label and loop iteration for hierarchical flows
//
// Nodes read state through the working session and write it exclusively by
// attaching a StateDelta to an emitted event. Derived contexts share the
// limiter, observer and logger of their parent.
type RunContext struct {
	Context     context.Context
	SessionID   string
	UserID      string
	RunID       string
	Agent       AgentInfo
	UserContent Content
	Session     *Session
	Limiter     *ModelLimiter
	Observer    Observer
	Branch      string
	Iteration   int

	sink         EventSink
	logger       logging.Logger
	helperLogger logging.Logger
}

// NewRunContext constructs a root RunContext over a working session copy.
func NewRunContext(
	ctx context.Context,
	runID string,
	sess *Session,
	userContent Content,
	sink EventSink,
	logger logging.Logger,
) *RunContext {
	return &RunContext{
		Context:      ctx,
		SessionID:    sess.ID,
		UserID:       sess.UserID,
		RunID:        runID,
		UserContent:  userContent,
		Session:      sess,
		Limiter:      NewModelLimiter(0),
		Observer:     NoOpObserver{},
		sink:         sink,
		logger:       orNoOp(logger),
		helperLogger: logging.SkipCallers(orNoOp(logger), helperFrames),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// State returns read access to the working session.
func (rc *RunContext) State() StateReader { return rc.Session }

// GetState returns the committed value for key.
func (rc *RunContext) GetState(key StateKey) (any, bool) {
	if rc.Session == nil {
		return nil, false
	}
	return rc.Session.Lookup(key)
}

// Input returns the text of the user content that started the run.
func (rc *RunContext) Input() string { return rc.UserContent.Text() }

// History returns all events committed to the working session.
func (rc *RunContext) History() []Event {
	if rc.Session == nil {
		return []Event{}
	}
	return rc.Session.History()
}

// EmitEvent commits ev through the sink. Nothing is committed once the
// context is cancelled.
func (rc *RunContext) EmitEvent(ev Event) error {
	if err := rc.Context.Err(); err != nil {
		return err
	}

	return rc.commit(rc.Context, ev)
}

// ForwardEvent commits an event that was produced and buffered under a
// derived context. Unlike EmitEvent it does not consult the cancellation
// state of rc, so results that completed before a cancellation can still be
// committed. ctx bounds the commit itself.
func (rc *RunContext) ForwardEvent(ctx context.Context, ev Event) error {
	return rc.commit(ctx, ev)
}

func (rc *RunContext) commit(ctx context.Context, ev Event) error {
	if rc.sink == nil {
		return fmt.Errorf("event sink not configured")
	}

	if ev.ID == "" {
		ev.ID = NewID()
	}

	if ev.RunID == "" {
		ev.RunID = rc.RunID
	}

	if ev.Branch == "" {
		ev.Branch = rc.Branch
	}

	if _, ok := ev.CustomMetadata["iteration"]; !ok && rc.Iteration > 0 {
		md := make(map[string]string, len(ev.CustomMetadata)+1)
		maps.Copy(md, ev.CustomMetadata)
		md["iteration"] = strconv.Itoa(rc.Iteration)
		ev.CustomMetadata = md
	}

	return rc.sink.Commit(ctx, ev)
}

// Sink returns the sink of this context.
func (rc *RunContext) Sink() EventSink { return rc.sink }

// Clone returns a shallow copy of the context.
func (rc *RunContext) Clone() *RunContext {
	c := *rc
	return &c
}

// WithAgent returns a copy describing the given node.
func (rc *RunContext) WithAgent(name, kind string) *RunContext {
	c := rc.Clone()
	c.Agent = AgentInfo{Name: name, Type: kind}
	return c
}

// WithContext returns a copy bound to ctx.
func (rc *RunContext) WithContext(ctx context.Context) *RunContext {
	c := rc.Clone()
	c.Context = ctx
	return c
}

// WithSink returns a copy whose commits go through sink.
func (rc *RunContext) WithSink(sink EventSink) *RunContext {
	c := rc.Clone()
	c.sink = sink
	return c
}

// WithIteration returns a copy carrying the loop iteration index (1-based).
func (rc *RunContext) WithIteration(i int) *RunContext {
	c := rc.Clone()
	c.Iteration = i
	return c
}

// NewBranchContext derives an isolated context for a concurrent branch: the
// working session is cloned and commits are buffered in the returned sink.
func (rc *RunContext) NewBranchContext(ctx context.Context, branch string) (*RunContext, *BufferSink) {
	sess := rc.Session.Clone()
	sink := NewBufferSink(sess)

	c := rc.Clone()
	c.Context = ctx
	c.Session = sess
	c.Branch = branch
	c.sink = sink

	return c, sink
}
