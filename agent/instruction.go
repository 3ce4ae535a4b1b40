package agent

import (
	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from session state, environment, etc.
type Provider interface {
	Instruction(*core.RunContext) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(*core.RunContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(rc *core.RunContext) (string, error) { return f(rc) }

// Instruction represents either a static template or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a template string
// rendered against PromptData.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*core.RunContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a template string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether no instruction was configured.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text, invoking the provider or rendering
// the template as needed.
func (i Instruction) Resolve(rc *core.RunContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(rc)
	}
	return Render(i.text, rc)
}

// PromptData is the data templates are rendered against:
//
//	{{.Input}}         the user input of the run
//	{{.State.topic}}   session scope
//	{{.User.tier}}     user scope
//	{{.Temp.draft}}    run scope
//	{{.Iteration}}     current loop iteration (0 outside loops)
type PromptData struct {
	Input     string
	State     map[string]any
	User      map[string]any
	Temp      map[string]any
	Iteration int
}

// NewPromptData snapshots the working state of rc.
func NewPromptData(rc *core.RunContext) PromptData {
	st := rc.State()

	return PromptData{
		Input:     rc.Input(),
		State:     st.StateOf(core.ScopeSession),
		User:      st.StateOf(core.ScopeUser),
		Temp:      st.StateOf(core.ScopeTemp),
		Iteration: rc.Iteration,
	}
}

// Render renders a template against the current state of rc.
func Render(text string, rc *core.RunContext) (string, error) {
	return util.RenderTemplate(text, NewPromptData(rc))
}
