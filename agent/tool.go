package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/guardrail"
	"github.com/hupe1980/meshflow/tool"
)

// ToolAgent invokes a tool.Tool with arguments taken from its options or
// derived from state.
//
// A *core.ToolError is absorbed: the node completes, the event carries the
// failure reason and the delta sets the failure flag to true. On success the
// flag is set to false and the result is written to the output key together
// with any writes the tool staged on its ToolContext. Other errors propagate.
type ToolAgent struct {
	BaseAgent
	tool       tool.Tool
	args       map[string]any
	argsFunc   func(rc *core.RunContext) (map[string]any, error)
	outputKey  core.StateKey
	failureKey core.StateKey
	guardrails *guardrail.Chain
}

// NewToolAgent creates a tool node.
func NewToolAgent(name string, t tool.Tool, optFns ...func(o *Options)) *ToolAgent {
	opts := applyOptions(optFns)

	if opts.FailureKey.IsZero() {
		opts.FailureKey = core.SessionKey(name + "_failed")
	}

	a := &ToolAgent{
		BaseAgent:  NewBaseAgent(name),
		tool:       t,
		args:       opts.Args,
		argsFunc:   opts.ArgsFunc,
		outputKey:  opts.OutputKey,
		failureKey: opts.FailureKey,
		guardrails: opts.Guardrails,
	}

	if opts.Description != "" {
		a.SetDescription(opts.Description)
	} else {
		a.SetDescription(t.Description())
	}

	return a
}

// Tool returns the wrapped tool.
func (a *ToolAgent) Tool() tool.Tool { return a.tool }

// FailureKey returns the key of the failure flag.
func (a *ToolAgent) FailureKey() core.StateKey { return a.failureKey }

// Run implements core.Agent.
func (a *ToolAgent) Run(rc *core.RunContext) (core.Event, error) {
	return execute(rc, a, KindTool, a.run)
}

func (a *ToolAgent) run(rc *core.RunContext) (core.Event, error) {
	args, err := a.resolveArgs(rc)
	if err != nil {
		return core.Event{}, err
	}

	inv := guardrail.Invocation{
		Node:  a.Name(),
		Kind:  KindTool,
		Input: rc.Input(),
		Args:  args,
		State: rc.State(),
	}

	if err = a.guardrails.Before(rc.Context, inv); err != nil {
		return rejected(rc, a.Name(), err)
	}

	toolCtx := core.NewToolContext(rc, core.NewID())

	var result any

	if err = tool.Validate(a.tool, args); err != nil {
		err = tool.NewToolError(a.tool.Name(), fmt.Sprintf("parameter validation failed: %v", err), tool.CodeValidation)
	} else {
		result, err = a.tool.Call(toolCtx, args)
	}

	if err != nil {
		var toolErr *core.ToolError
		if !errors.As(err, &toolErr) {
			return core.Event{}, err
		}

		return a.failed(rc, toolErr)
	}

	text := formatResult(result)

	out, err := a.guardrails.After(rc.Context, inv, guardrail.Output{Text: text, Value: result})
	if err != nil {
		return rejected(rc, a.Name(), err)
	}

	ev := core.NewEvent(rc.RunID, a.Name())
	ev.Content = &core.Content{
		Role: "tool",
		Parts: []core.Part{
			core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
				ID:       toolCtx.FunctionCallID(),
				Name:     a.tool.Name(),
				Response: out.Value,
			}},
			core.TextPart{Text: out.Text},
		},
	}

	ev.Actions.StateDelta = toolCtx.Delta().Clone()
	ev.SetState(a.failureKey, false)

	if !a.outputKey.IsZero() {
		ev.SetState(a.outputKey, out.Value)
	}

	return emit(rc, ev)
}

func (a *ToolAgent) failed(rc *core.RunContext, toolErr *core.ToolError) (core.Event, error) {
	rc.LogWarn("tool.failed", "node", a.Name(), "tool", toolErr.Tool, "code", toolErr.Code, "reason", toolErr.Reason)

	ev := core.NewEvent(rc.RunID, a.Name())
	ev.Content = &core.Content{
		Role: "tool",
		Parts: []core.Part{
			core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
				Name:  a.tool.Name(),
				Error: toolErr.Reason,
			}},
			core.TextPart{Text: toolErr.Reason},
		},
	}

	ev.SetState(a.failureKey, true)
	ev.SetError(core.CodeToolError, toolErr.Reason)

	if toolErr.Code != "" {
		ev.SetMetadata("tool_error_code", toolErr.Code)
	}

	return emit(rc, ev)
}

func (a *ToolAgent) resolveArgs(rc *core.RunContext) (map[string]any, error) {
	args := make(map[string]any, len(a.args))

	for k, v := range a.args {
		if s, ok := v.(string); ok {
			rendered, err := Render(s, rc)
			if err != nil {
				return nil, fmt.Errorf("render argument %s: %w", k, err)
			}
			v = rendered
		}
		args[k] = v
	}

	if a.argsFunc != nil {
		derived, err := a.argsFunc(rc)
		if err != nil {
			return nil, err
		}
		maps.Copy(args, derived)
	}

	return args, nil
}

func formatResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}

	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result)
	}

	return string(b)
}
