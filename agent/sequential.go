package agent

import (
	"github.com/hupe1980/meshflow/core"
)

// SequentialAgent executes child agents one after another. Every child
// observes all commits of its predecessors.
//
// Execution stops early when a child's terminal event escalates; that event
// becomes the result of the sequence. A child error fails the sequence
// immediately. Otherwise the result is the last child's terminal event.
type SequentialAgent struct {
	BaseAgent
	children []core.Agent
}

// NewSequentialAgent creates a new sequential execution coordinator.
func NewSequentialAgent(name string, children ...core.Agent) *SequentialAgent {
	return &SequentialAgent{
		BaseAgent: NewBaseAgent(name, children...),
		children:  children,
	}
}

// Run implements core.Agent.
func (s *SequentialAgent) Run(rc *core.RunContext) (core.Event, error) {
	return execute(rc, s, KindSequential, s.run)
}

func (s *SequentialAgent) run(rc *core.RunContext) (core.Event, error) {
	var last core.Event

	for i, child := range s.children {
		if err := rc.Err(); err != nil {
			return core.Event{}, err
		}

		ev, err := child.Run(rc)
		if err != nil {
			return core.Event{}, wrapChild(KindSequential, s.Name(), child, err)
		}

		last = ev

		if ev.IsEscalation() {
			rc.LogDebug("sequential.escalated", "node", s.Name(), "child", child.Name(), "step", i+1)
			break
		}
	}

	return last, nil
}
