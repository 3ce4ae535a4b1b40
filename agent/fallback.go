package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/tool"
)

// NewFallbackAgent builds the primary/fallback pattern: the primary tool runs
// first; when it fails (its failure flag is set) the fallback tool runs,
// otherwise a no-op step records that no fallback was needed. Options such as
// WithArgs and WithOutputKey apply to both tool steps.
//
// The primary step is named <name>_primary, so its failure flag defaults to
// <name>_primary_failed.
func NewFallbackAgent(name string, primary, fallback tool.Tool, optFns ...func(o *Options)) *SequentialAgent {
	opts := applyOptions(optFns)

	stepOpts := func(o *Options) {
		*o = opts
		o.Description = ""
		o.FailureKey = core.StateKey{}
	}

	primaryStep := NewToolAgent(name+"_primary", primary, stepOpts)
	fallbackStep := NewToolAgent(name+"_fallback", fallback, stepOpts)

	flag := primaryStep.FailureKey()

	router := NewRouterAgent(name+"_check", ClassifierFunc(func(_ context.Context, req ClassifyRequest) (string, error) {
		if failed, ok := req.State.Lookup(flag); ok && failed == true {
			return "failed", nil
		}
		return "ok", nil
	}), []string{"failed", "ok"})

	skip := NewCustomAgent(name+"_skip", func(rc *core.RunContext) (core.Event, error) {
		return core.NewMessageEvent(rc.RunID, name+"_skip", fmt.Sprintf("%s succeeded, no fallback needed", primary.Name())), nil
	})

	branch := NewConditionalAgent(name+"_branch", router, map[string]core.Agent{
		"failed": fallbackStep,
	}, WithDefault(skip))

	seq := NewSequentialAgent(name, primaryStep, branch)
	seq.SetDescription(opts.Description)

	return seq
}
