package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/meshflow/core"
)

// CustomFunc computes the event a CustomAgent commits. The node fills in
// author, run and status when left empty.
type CustomFunc func(rc *core.RunContext) (core.Event, error)

// CustomAgent runs user code as a leaf node.
type CustomAgent struct {
	BaseAgent
	fn CustomFunc
}

// NewCustomAgent creates a custom node.
func NewCustomAgent(name string, fn CustomFunc, optFns ...func(o *Options)) *CustomAgent {
	opts := applyOptions(optFns)

	a := &CustomAgent{BaseAgent: NewBaseAgent(name), fn: fn}
	a.SetDescription(opts.Description)

	return a
}

// Run implements core.Agent.
func (a *CustomAgent) Run(rc *core.RunContext) (core.Event, error) {
	return execute(rc, a, KindCustom, func(rc *core.RunContext) (core.Event, error) {
		ev, err := a.fn(rc)
		if err != nil {
			return core.Event{}, err
		}

		if ev.Author == "" {
			ev.Author = a.Name()
		}

		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}

		return emit(rc, ev)
	})
}

// Decision is the outcome of a ConditionChecker.
type Decision int

const (
	// Continue lets the enclosing loop run another iteration.
	Continue Decision = iota
	// Escalate ends the enclosing loop.
	Escalate
)

func (d Decision) String() string {
	if d == Escalate {
		return "escalate"
	}
	return "continue"
}

// ConditionChecker decides whether an enclosing loop should stop.
type ConditionChecker interface {
	Evaluate(ctx context.Context, state core.StateReader) (Decision, error)
}

// ConditionFunc adapts a function to ConditionChecker.
type ConditionFunc func(ctx context.Context, state core.StateReader) (Decision, error)

// Evaluate implements ConditionChecker.
func (f ConditionFunc) Evaluate(ctx context.Context, state core.StateReader) (Decision, error) {
	return f(ctx, state)
}

// StateEquals escalates once the value at key equals value. Values are
// compared by their textual form so numbers decoded from JSON match.
func StateEquals(key core.StateKey, value any) ConditionChecker {
	want := fmt.Sprint(value)

	return ConditionFunc(func(_ context.Context, state core.StateReader) (Decision, error) {
		v, ok := state.Lookup(key)
		if ok && fmt.Sprint(v) == want {
			return Escalate, nil
		}
		return Continue, nil
	})
}

// ConditionAgent evaluates a ConditionChecker against the committed state
// and emits an event whose Escalate flag carries the decision.
type ConditionAgent struct {
	BaseAgent
	checker ConditionChecker
}

// NewConditionAgent creates a condition checker node.
func NewConditionAgent(name string, checker ConditionChecker, optFns ...func(o *Options)) *ConditionAgent {
	opts := applyOptions(optFns)

	a := &ConditionAgent{BaseAgent: NewBaseAgent(name), checker: checker}
	a.SetDescription(opts.Description)

	return a
}

// Run implements core.Agent.
func (a *ConditionAgent) Run(rc *core.RunContext) (core.Event, error) {
	return execute(rc, a, KindCondition, a.run)
}

func (a *ConditionAgent) run(rc *core.RunContext) (core.Event, error) {
	decision, err := a.checker.Evaluate(rc.Context, rc.State())
	if err != nil {
		return core.Event{}, err
	}

	rc.LogDebug("condition.evaluated", "node", a.Name(), "decision", decision.String())

	ev := core.NewEvent(rc.RunID, a.Name())
	ev.SetEscalate(decision == Escalate)
	ev.SetMetadata("decision", decision.String())

	return emit(rc, ev)
}
