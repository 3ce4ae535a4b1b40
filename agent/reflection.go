package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/model"
)

// Reflection defaults.
const (
	DefaultSentinel                = "CODE_IS_PERFECT"
	DefaultReflectionMaxIterations = 3
)

const defaultCriticInstruction = `You are a meticulous senior reviewer.
Critically evaluate the provided work against the original task requirements.
Look for bugs, factual errors, style issues, missing edge cases and areas for improvement.
If the work is perfect and meets all requirements, respond with the single phrase '%s'.
Otherwise, provide a bulleted list of your critiques.`

// NewReflectionLoop builds a generate-critique-refine loop. Each iteration
// runs three steps:
//
//   - draft: generates the artifact from the task on the first iteration and
//     refines the previous artifact with the latest critique afterwards
//   - critique: reviews the latest artifact against the original task
//   - check: escalates (ends the loop) when the critique contains the sentinel
//
// The latest artifact and critique are kept under the artifact and critique
// keys (defaults <name>_artifact and <name>_critique in session scope).
func NewReflectionLoop(name string, generator, critic model.Model, optFns ...func(o *Options)) *LoopAgent {
	opts := applyOptions(optFns)

	if opts.Sentinel == "" {
		opts.Sentinel = DefaultSentinel
	}

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultReflectionMaxIterations
	}

	if opts.Task == "" {
		opts.Task = DefaultPromptTemplate
	}

	if opts.ArtifactKey.IsZero() {
		opts.ArtifactKey = core.SessionKey(name + "_artifact")
	}

	if opts.CritiqueKey.IsZero() {
		opts.CritiqueKey = core.SessionKey(name + "_critique")
	}

	if opts.CriticInstruction == "" {
		opts.CriticInstruction = fmt.Sprintf(defaultCriticInstruction, opts.Sentinel)
	}

	artifact := templateRef(opts.ArtifactKey)
	critique := templateRef(opts.CritiqueKey)

	draftPrompt := "{{if le .Iteration 1}}" + opts.Task + "{{else}}" + opts.Task +
		"\n\nCurrent version:\n" + artifact +
		"\n\nCritique of the current version:\n" + critique +
		"\n\nPlease refine the work using the critiques provided. Respond with the complete revised version only.{{end}}"

	draft := NewGeneratorAgent(name+"_draft", generator,
		WithDescription("Generates the artifact and refines it based on critique."),
		WithPromptTemplate(draftPrompt),
		WithOutputKey(opts.ArtifactKey),
		WithModelConfig(opts.ModelConfig),
		WithGuardrailChain(opts.Guardrails),
	)

	review := NewGeneratorAgent(name+"_critique", critic,
		WithDescription("Reviews the latest artifact against the original task."),
		WithInstruction(opts.CriticInstruction),
		WithPromptTemplate("Original Task:\n"+opts.Task+"\n\nWork to Review:\n"+artifact),
		WithOutputKey(opts.CritiqueKey),
	)

	sentinel := opts.Sentinel
	critiqueKey := opts.CritiqueKey

	check := NewConditionAgent(name+"_check", ConditionFunc(func(_ context.Context, state core.StateReader) (Decision, error) {
		if text, ok := core.LookupString(state, critiqueKey); ok && strings.Contains(text, sentinel) {
			return Escalate, nil
		}
		return Continue, nil
	}), WithDescription("Stops the loop once the critique contains the sentinel."))

	body := NewSequentialAgent(name+"_body", draft, review, check)

	return NewLoopAgent(name, body,
		WithMaxIterations(opts.MaxIterations),
		WithInterval(opts.Interval),
		WithDescription(opts.Description),
	)
}

// templateRef returns the template expression reading key.
func templateRef(key core.StateKey) string {
	field := "State"

	switch key.Scope {
	case core.ScopeUser:
		field = "User"
	case core.ScopeTemp:
		field = "Temp"
	}

	return fmt.Sprintf("{{index .%s %q}}", field, key.Name)
}
