package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/meshflow/core"
)

// ConditionalAgent routes the input with a RouterAgent and runs exactly one
// branch: the branch registered for the label, else the default branch, else
// it emits an unclear event. It never runs zero branches silently and never
// more than one.
type ConditionalAgent struct {
	BaseAgent
	router   *RouterAgent
	branches map[string]core.Agent
	fallback core.Agent
}

// NewConditionalAgent creates a conditional composite. Branch labels are
// matched case-insensitively against the router's decision.
func NewConditionalAgent(name string, router *RouterAgent, branches map[string]core.Agent, optFns ...func(o *Options)) *ConditionalAgent {
	opts := applyOptions(optFns)

	table := make(map[string]core.Agent, len(branches))
	for label, a := range branches {
		table[strings.ToLower(label)] = a
	}

	labels := make([]string, 0, len(table))
	for label := range table {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	children := []core.Agent{router}
	for _, label := range labels {
		children = append(children, table[label])
	}

	if opts.Default != nil {
		children = append(children, opts.Default)
	}

	c := &ConditionalAgent{
		BaseAgent: NewBaseAgent(name, children...),
		router:    router,
		branches:  table,
		fallback:  opts.Default,
	}
	c.SetDescription(opts.Description)

	return c
}

// Branch returns the node that handles label, or nil.
func (c *ConditionalAgent) Branch(label string) core.Agent {
	if a, ok := c.branches[strings.ToLower(label)]; ok {
		return a
	}
	return c.fallback
}

// Run implements core.Agent.
func (c *ConditionalAgent) Run(rc *core.RunContext) (core.Event, error) {
	return execute(rc, c, KindConditional, c.run)
}

func (c *ConditionalAgent) run(rc *core.RunContext) (core.Event, error) {
	decision, err := c.router.Run(rc)
	if err != nil {
		return core.Event{}, wrapChild(KindConditional, c.Name(), c.router, err)
	}

	if decision.Status == core.StatusRejected {
		return decision, nil
	}

	label := decision.CustomMetadata[metaRoute]

	branch := c.Branch(label)
	if branch == nil {
		rc.LogWarn("conditional.unclear", "node", c.Name(), "route", label)

		ev := core.NewMessageEvent(rc.RunID, c.Name(),
			fmt.Sprintf("Coordinator could not delegate request: '%s'. Please clarify.", rc.Input()))
		ev.Status = core.StatusUnclear
		ev.SetMetadata(metaRoute, label)

		return emit(rc, ev)
	}

	rc.LogDebug("conditional.dispatch", "node", c.Name(), "route", label, "target", branch.Name())

	ev, err := branch.Run(rc)
	if err != nil {
		return core.Event{}, wrapChild(KindConditional, c.Name(), branch, err)
	}

	return ev, nil
}
