package agent

import (
	"time"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/guardrail"
	"github.com/hupe1980/meshflow/model"
)

// Options configures node constructors. Each constructor reads the fields
// relevant to its node kind and ignores the rest, so the With* helpers can
// be shared across kinds:
//
//	gen := agent.NewGeneratorAgent("writer", m,
//	    agent.WithInstruction("You are a technical writer."),
//	    agent.WithOutputKey(core.SessionKey("draft")),
//	)
//
// Plain closures work too:
//
//	agent.NewLoopAgent("poll", body, func(o *agent.Options) { o.MaxIterations = 5 })
type Options struct {
	// Description overrides the generated node description.
	Description string
	// OutputKey is where leaves write their result; zero means no write.
	OutputKey core.StateKey
	// Guardrails are evaluated around the capability call of leaves.
	Guardrails *guardrail.Chain

	// Instruction is the system instruction of generators (a template).
	Instruction Instruction
	// PromptTemplate renders the generator prompt; defaults to "{{.Input}}".
	PromptTemplate string
	// ModelConfig carries sampling overrides for generators.
	ModelConfig model.GenerateConfig
	// IncludeHistory sends the conversation history before the prompt.
	IncludeHistory bool

	// Args are the static tool arguments (values may be templates).
	Args map[string]any
	// ArgsFunc derives tool arguments from the run context.
	ArgsFunc func(rc *core.RunContext) (map[string]any, error)
	// FailureKey is the flag set when a tool fails; defaults to <name>_failed.
	FailureKey core.StateKey

	// Default is the branch of a conditional taken for unmatched labels.
	Default core.Agent

	// FailurePolicy selects how parallel composites react to branch failures.
	FailurePolicy FailurePolicy
	// Timeout bounds parallel composites; zero disables it.
	Timeout time.Duration

	// MaxIterations bounds loops; zero selects the kind's default.
	MaxIterations int
	// Interval is the delay between loop iterations.
	Interval time.Duration

	// Sentinel ends a reflection loop when present in the critique.
	Sentinel string
	// Task is the template describing the reflection task.
	Task string
	// ArtifactKey holds the latest reflection draft.
	ArtifactKey core.StateKey
	// CritiqueKey holds the latest reflection critique.
	CritiqueKey core.StateKey
	// CriticInstruction overrides the reviewer instruction of reflection loops.
	CriticInstruction string
}

// Option mutates Options.
type Option = func(o *Options)

func applyOptions(optFns []func(o *Options)) Options {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// WithDescription sets the node description.
func WithDescription(desc string) Option { return func(o *Options) { o.Description = desc } }

// WithOutputKey sets the state key a leaf writes its result to.
func WithOutputKey(key core.StateKey) Option { return func(o *Options) { o.OutputKey = key } }

// WithGuardrails attaches a guardrail chain to a leaf.
func WithGuardrails(guards ...guardrail.Guardrail) Option {
	return func(o *Options) { o.Guardrails = o.Guardrails.Append(guards...) }
}

// WithGuardrailChain attaches an existing chain to a leaf.
func WithGuardrailChain(chain *guardrail.Chain) Option {
	return func(o *Options) { o.Guardrails = chain }
}

// WithInstruction sets a static (template) system instruction.
func WithInstruction(text string) Option {
	return func(o *Options) { o.Instruction = NewInstructionFromText(text) }
}

// WithInstructionFunc sets a dynamic system instruction.
func WithInstructionFunc(fn func(rc *core.RunContext) (string, error)) Option {
	return func(o *Options) { o.Instruction = NewInstructionFromFunc(fn) }
}

// WithPromptTemplate sets the generator prompt template.
func WithPromptTemplate(tmpl string) Option { return func(o *Options) { o.PromptTemplate = tmpl } }

// WithModelConfig sets generator sampling overrides.
func WithModelConfig(cfg model.GenerateConfig) Option {
	return func(o *Options) { o.ModelConfig = cfg }
}

// WithIncludeHistory sends the session conversation before the prompt.
func WithIncludeHistory(include bool) Option { return func(o *Options) { o.IncludeHistory = include } }

// WithArgs sets static tool arguments. String values are rendered as
// templates against the current state.
func WithArgs(args map[string]any) Option { return func(o *Options) { o.Args = args } }

// WithArgsFunc derives tool arguments at run time.
func WithArgsFunc(fn func(rc *core.RunContext) (map[string]any, error)) Option {
	return func(o *Options) { o.ArgsFunc = fn }
}

// WithFailureKey sets the tool failure flag key.
func WithFailureKey(key core.StateKey) Option { return func(o *Options) { o.FailureKey = key } }

// WithDefault sets the default branch of a conditional.
func WithDefault(a core.Agent) Option { return func(o *Options) { o.Default = a } }

// WithFailurePolicy sets the parallel failure policy.
func WithFailurePolicy(p FailurePolicy) Option { return func(o *Options) { o.FailurePolicy = p } }

// WithTimeout bounds a parallel composite.
func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }

// WithMaxIterations bounds a loop.
func WithMaxIterations(n int) Option { return func(o *Options) { o.MaxIterations = n } }

// WithInterval sets the delay between loop iterations.
func WithInterval(d time.Duration) Option { return func(o *Options) { o.Interval = d } }

// WithSentinel sets the phrase that ends a reflection loop.
func WithSentinel(s string) Option { return func(o *Options) { o.Sentinel = s } }

// WithTask sets the reflection task template.
func WithTask(tmpl string) Option { return func(o *Options) { o.Task = tmpl } }

// WithArtifactKey sets where reflection drafts are stored.
func WithArtifactKey(key core.StateKey) Option { return func(o *Options) { o.ArtifactKey = key } }

// WithCritiqueKey sets where reflection critiques are stored.
func WithCritiqueKey(key core.StateKey) Option { return func(o *Options) { o.CritiqueKey = key } }

// WithCriticInstruction overrides the reviewer instruction of a reflection loop.
func WithCriticInstruction(text string) Option {
	return func(o *Options) { o.CriticInstruction = text }
}
