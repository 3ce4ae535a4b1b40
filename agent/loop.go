package agent

import (
	"strconv"
	"time"

	"github.com/hupe1980/meshflow/core"
)

// DefaultMaxIterations bounds loops configured without WithMaxIterations.
const DefaultMaxIterations = 10

// LoopAgent executes a body repeatedly until the body's terminal event
// escalates or the iteration bound is reached.
//
// States: running(i) continues to running(i+1) when the body completes
// without escalation; it ends escalated when the body escalates, exhausted
// after the last iteration and failed on a body error.
//
// The loop consumes the escalation: its terminal event carries the status
// (escalated or exhausted) and metadata "iterations", with Escalate false, so
// an enclosing sequence continues. The current iteration (1-based) is exposed
// to descendants through RunContext.Iteration.
type LoopAgent struct {
	BaseAgent
	body          core.Agent
	maxIterations int
	interval      time.Duration
}

// NewLoopAgent constructs a looping coordinator around body.
func NewLoopAgent(name string, body core.Agent, optFns ...func(o *Options)) *LoopAgent {
	opts := applyOptions(optFns)

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	l := &LoopAgent{
		BaseAgent:     NewBaseAgent(name, body),
		body:          body,
		maxIterations: opts.MaxIterations,
		interval:      opts.Interval,
	}
	l.SetDescription(opts.Description)

	return l
}

// MaxIterations returns the iteration bound.
func (l *LoopAgent) MaxIterations() int { return l.maxIterations }

// Run implements core.Agent.
func (l *LoopAgent) Run(rc *core.RunContext) (core.Event, error) {
	return execute(rc, l, KindLoop, l.run)
}

func (l *LoopAgent) run(rc *core.RunContext) (core.Event, error) {
	status := core.StatusExhausted
	iterations := 0

	for i := 1; i <= l.maxIterations; i++ {
		if err := rc.Err(); err != nil {
			return core.Event{}, err
		}

		iterations = i

		rc.LogDebug("loop.iteration", "node", l.Name(), "loop_iteration", i)

		ev, err := l.body.Run(rc.WithIteration(i))
		if err != nil {
			rc.Observer.LoopFinished(l.Name(), i, core.StatusFailed)
			return core.Event{}, wrapChild(KindLoop, l.Name(), l.body, err)
		}

		if ev.IsEscalation() {
			status = core.StatusEscalated
			break
		}

		if l.interval > 0 && i < l.maxIterations {
			select {
			case <-rc.Done():
				return core.Event{}, rc.Err()
			case <-time.After(l.interval):
			}
		}
	}

	rc.Observer.LoopFinished(l.Name(), iterations, status)
	rc.LogDebug("loop.finished", "node", l.Name(), "iterations", iterations, "status", string(status))

	ev := core.NewEvent(rc.RunID, l.Name())
	ev.Status = status
	ev.SetEscalate(false)
	ev.SetMetadata("iterations", strconv.Itoa(iterations))

	return emit(rc, ev)
}
