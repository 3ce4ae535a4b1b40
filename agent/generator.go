package agent

import (
	"strconv"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/guardrail"
	"github.com/hupe1980/meshflow/model"
)

// DefaultPromptTemplate passes the run input to the model unchanged.
const DefaultPromptTemplate = "{{.Input}}"

// GeneratorAgent renders a prompt from the current state, calls a
// model.Model and commits the response text, optionally under an output key.
//
// Model failures propagate as *core.ServiceError; there are no implicit
// retries (wrap the model with model.WithRetry to opt in). Each call counts
// against the run's core.ModelLimiter.
type GeneratorAgent struct {
	BaseAgent
	llm            model.Model
	instruction    Instruction
	promptTemplate string
	outputKey      core.StateKey
	config         model.GenerateConfig
	includeHistory bool
	guardrails     *guardrail.Chain
}

// NewGeneratorAgent creates a generator node.
func NewGeneratorAgent(name string, llm model.Model, optFns ...func(o *Options)) *GeneratorAgent {
	opts := applyOptions(optFns)

	if opts.PromptTemplate == "" {
		opts.PromptTemplate = DefaultPromptTemplate
	}

	g := &GeneratorAgent{
		BaseAgent:      NewBaseAgent(name),
		llm:            llm,
		instruction:    opts.Instruction,
		promptTemplate: opts.PromptTemplate,
		outputKey:      opts.OutputKey,
		config:         opts.ModelConfig,
		includeHistory: opts.IncludeHistory,
		guardrails:     opts.Guardrails,
	}
	g.SetDescription(opts.Description)

	return g
}

// Model returns the backing model.
func (g *GeneratorAgent) Model() model.Model { return g.llm }

// OutputKey returns the key the generator writes to (zero if none).
func (g *GeneratorAgent) OutputKey() core.StateKey { return g.outputKey }

// Run implements core.Agent.
func (g *GeneratorAgent) Run(rc *core.RunContext) (core.Event, error) {
	return execute(rc, g, KindGenerator, g.run)
}

func (g *GeneratorAgent) run(rc *core.RunContext) (core.Event, error) {
	instruction, err := g.instruction.Resolve(rc)
	if err != nil {
		return core.Event{}, err
	}

	prompt, err := Render(g.promptTemplate, rc)
	if err != nil {
		return core.Event{}, err
	}

	inv := guardrail.Invocation{
		Node:  g.Name(),
		Kind:  KindGenerator,
		Input: prompt,
		State: rc.State(),
	}

	if err = g.guardrails.Before(rc.Context, inv); err != nil {
		return rejected(rc, g.Name(), err)
	}

	if err = rc.Limiter.Increment(); err != nil {
		return core.Event{}, err
	}

	req := model.Request{
		Instructions: instruction,
		Contents:     g.contents(rc, prompt),
		Config:       g.config,
	}

	info := g.llm.Info()

	rc.LogDebug("generator.call", "node", g.Name(), "model", info.Name, "provider", info.Provider, "calls_left", rc.Limiter.Remaining())

	resp, err := g.llm.Generate(rc.Context, req)
	if err != nil {
		return core.Event{}, core.NewServiceError(info.Provider, info.Name, false, err)
	}

	out, err := g.guardrails.After(rc.Context, inv, guardrail.Output{Text: resp.Text()})
	if err != nil {
		return rejected(rc, g.Name(), err)
	}

	ev := core.NewMessageEvent(rc.RunID, g.Name(), out.Text)

	if !g.outputKey.IsZero() {
		if out.Value != nil {
			ev.SetState(g.outputKey, out.Value)
		} else {
			ev.SetState(g.outputKey, out.Text)
		}
	}

	ev.SetMetadata("model", info.Name)

	if resp.Usage != nil {
		ev.SetMetadata("total_tokens", strconv.Itoa(resp.Usage.TotalTokens))
	}

	return emit(rc, ev)
}

func (g *GeneratorAgent) contents(rc *core.RunContext, prompt string) []core.Content {
	var contents []core.Content

	if g.includeHistory {
		for _, ev := range rc.Session.ConversationHistory() {
			contents = append(contents, *ev.Content)
		}
	}

	return append(contents, *core.NewTextContent("user", prompt))
}
