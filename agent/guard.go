package agent

import (
	"context"
	"sync"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/guardrail"
)

// GuardAgent wraps any node, including composites, with a guardrail chain.
// Pre-invocation checks run on the run input before the node starts;
// post-invocation checks run on every text event the subtree emits before it
// is committed. A rejected event is replaced by a rejection event without a
// state delta.
type GuardAgent struct {
	BaseAgent
	inner core.Agent
	chain *guardrail.Chain
}

// Guard wraps node with chain.
func Guard(node core.Agent, chain *guardrail.Chain) *GuardAgent {
	g := &GuardAgent{
		BaseAgent: NewBaseAgent(node.Name()+"_guard", node),
		inner:     node,
		chain:     chain,
	}
	g.SetDescription(node.Description())

	return g
}

// Run implements core.Agent.
func (g *GuardAgent) Run(rc *core.RunContext) (core.Event, error) {
	return execute(rc, g, KindGuard, g.run)
}

func (g *GuardAgent) run(rc *core.RunContext) (core.Event, error) {
	inv := guardrail.Invocation{
		Node:  g.inner.Name(),
		Kind:  KindGuard,
		Input: rc.Input(),
		State: rc.State(),
	}

	if err := g.chain.Before(rc.Context, inv); err != nil {
		return rejected(rc, g.inner.Name(), err)
	}

	sink := &guardSink{
		next:     rc.Sink(),
		chain:    g.chain,
		inv:      inv,
		rc:       rc,
		replaced: map[string]core.Event{},
	}

	ev, err := g.inner.Run(rc.WithSink(sink))
	if err != nil {
		return core.Event{}, wrapChild(KindGuard, g.Name(), g.inner, err)
	}

	if r, ok := sink.replacement(ev.ID); ok {
		return r, nil
	}

	return ev, nil
}

type guardSink struct {
	next  core.EventSink
	chain *guardrail.Chain
	inv   guardrail.Invocation
	rc    *core.RunContext

	mu       sync.Mutex
	replaced map[string]core.Event
}

func (s *guardSink) Commit(ctx context.Context, ev core.Event) error {
	text := ev.Text()
	if text == "" || ev.Status == core.StatusRejected {
		return s.next.Commit(ctx, ev)
	}

	out, err := s.chain.After(ctx, s.inv, guardrail.Output{Text: text})
	if err != nil {
		r, ok := guardrail.AsRejection(err)
		if !ok {
			return err
		}

		s.rc.Observer.GuardrailRejected(ev.Author, r.Guardrail)
		s.rc.LogWarn("guardrail.rejected", "node", ev.Author, "guardrail", r.Guardrail, "message", r.Message)

		rej := core.NewMessageEvent(ev.RunID, ev.Author, r.Message)
		rej.ID = ev.ID
		rej.Branch = ev.Branch
		rej.Status = core.StatusRejected
		rej.SetError(r.Code, r.Message)
		rej.SetMetadata("guardrail", r.Guardrail)

		s.remember(rej)

		return s.next.Commit(ctx, rej)
	}

	if out.Text != text {
		role := "assistant"
		if ev.Content != nil {
			role = ev.Content.Role
		}

		ev.Content = core.NewTextContent(role, out.Text)
		s.remember(ev)
	}

	return s.next.Commit(ctx, ev)
}

func (s *guardSink) remember(ev core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.replaced[ev.ID] = ev
}

func (s *guardSink) replacement(id string) (core.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.replaced[id]

	return ev, ok
}
