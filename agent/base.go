package agent

import (
	"fmt"
	"time"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/guardrail"
)

// Node kinds reported to observers and in AgentInfo.
const (
	KindGenerator   = "generator"
	KindTool        = "tool"
	KindRouter      = "router"
	KindCustom      = "custom"
	KindCondition   = "condition"
	KindSequential  = "sequential"
	KindParallel    = "parallel"
	KindConditional = "conditional"
	KindLoop        = "loop"
	KindGuard       = "guard"
)

// BaseAgent bundles the identity and hierarchy helpers shared by all nodes.
// Embed it in concrete agent implementations and supply a Run method to
// satisfy the core.Agent interface. BaseAgent is immutable after
// construction; nodes keep no per-run state.
type BaseAgent struct {
	name        string
	description string
	subAgents   []core.Agent
}

// NewBaseAgent constructs a BaseAgent with a generated description
// (customizable via SetDescription).
func NewBaseAgent(name string, subAgents ...core.Agent) BaseAgent {
	return BaseAgent{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
		subAgents:   subAgents,
	}
}

// Name returns the human-readable name for this agent.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a detailed description of this agent's purpose.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the agent's description. Call it during
// construction only.
func (b *BaseAgent) SetDescription(desc string) {
	if desc != "" {
		b.description = desc
	}
}

// SubAgents returns a copy of the child nodes.
func (b *BaseAgent) SubAgents() []core.Agent {
	result := make([]core.Agent, len(b.subAgents))
	copy(result, b.subAgents)
	return result
}

type parent interface {
	SubAgents() []core.Agent
}

// FindAgent performs a depth-first search over the tree rooted at root
// (including root itself) returning the first node whose Name matches.
func FindAgent(root core.Agent, name string) core.Agent {
	if root == nil {
		return nil
	}

	if root.Name() == name {
		return root
	}

	if p, ok := root.(parent); ok {
		for _, child := range p.SubAgents() {
			if found := FindAgent(child, name); found != nil {
				return found
			}
		}
	}

	return nil
}

// Walk visits every node of the tree in depth-first pre-order.
func Walk(root core.Agent, fn func(a core.Agent, depth int)) {
	var visit func(a core.Agent, depth int)

	visit = func(a core.Agent, depth int) {
		fn(a, depth)

		if p, ok := a.(parent); ok {
			for _, child := range p.SubAgents() {
				visit(child, depth+1)
			}
		}
	}

	if root != nil {
		visit(root, 0)
	}
}

// execute runs fn as node a: it derives the node's context, logs the
// lifecycle and reports the outcome to the observer.
func execute(rc *core.RunContext, a core.Agent, kind string, fn func(rc *core.RunContext) (core.Event, error)) (core.Event, error) {
	rc = rc.WithAgent(a.Name(), kind)

	if err := rc.Err(); err != nil {
		return core.Event{}, err
	}

	start := time.Now()

	rc.LogDebug("node.start", "node", a.Name(), "kind", kind, "session_id", rc.SessionID)

	ev, err := fn(rc)

	elapsed := time.Since(start)
	status := ev.Status

	switch {
	case err != nil:
		status = core.StatusFailed
		rc.LogDebug("node.error", "node", a.Name(), "kind", kind, "error", err.Error())
	case status == "":
		status = core.StatusCompleted
	}

	rc.Observer.NodeFinished(a.Name(), kind, elapsed, status, err)

	rc.LogDebug("node.finish",
		"node", a.Name(),
		"kind", kind,
		"status", string(status),
		"duration_ms", elapsed.Milliseconds(),
	)

	return ev, err
}

// emit commits ev and returns it as the node's terminal event.
func emit(rc *core.RunContext, ev core.Event) (core.Event, error) {
	if ev.Status == "" {
		ev.Status = core.StatusCompleted
	}

	if ev.ID == "" {
		ev.ID = core.NewID()
	}

	if ev.RunID == "" {
		ev.RunID = rc.RunID
	}

	if ev.Branch == "" {
		ev.Branch = rc.Branch
	}

	if err := rc.EmitEvent(ev); err != nil {
		return core.Event{}, err
	}

	return ev, nil
}

// rejected converts a guardrail rejection into the node's terminal event.
// Errors that are not rejections are returned unchanged.
func rejected(rc *core.RunContext, author string, err error) (core.Event, error) {
	r, ok := guardrail.AsRejection(err)
	if !ok {
		return core.Event{}, err
	}

	rc.Observer.GuardrailRejected(author, r.Guardrail)
	rc.LogWarn("guardrail.rejected", "node", author, "guardrail", r.Guardrail, "message", r.Message)

	ev := core.NewMessageEvent(rc.RunID, author, r.Message)
	ev.Status = core.StatusRejected
	ev.SetError(r.Code, r.Message)
	ev.SetMetadata("guardrail", r.Guardrail)

	return emit(rc, ev)
}

// wrapChild annotates a child error with the composite path.
func wrapChild(kind, name string, child core.Agent, err error) error {
	return fmt.Errorf("%s %s: %s: %w", kind, name, child.Name(), err)
}
