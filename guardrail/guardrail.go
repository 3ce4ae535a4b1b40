package guardrail

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/meshflow/core"
)

// Invocation describes the capability call a guardrail inspects.
type Invocation struct {
	// Node is the name of the invoking node.
	Node string
	// Kind categorizes the node ("generator", "tool", ...).
	Kind string
	// Input is the effective text input (rendered prompt or user input).
	Input string
	// Args holds the tool arguments; nil for generators.
	Args map[string]any
	// State gives read access to the committed state.
	State core.StateReader
}

// Output is the result of a capability call seen by post-invocation guardrails.
type Output struct {
	Text  string
	Value any
}

// Rejection is returned by a guardrail that blocks an invocation.
type Rejection struct {
	Guardrail string
	Message   string
	Code      string
}

// Reject constructs a Rejection with the default validation code.
func Reject(guardrail, message string) *Rejection {
	return &Rejection{Guardrail: guardrail, Message: message, Code: core.CodeValidationRejected}
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("guardrail %s rejected invocation: %s", r.Guardrail, r.Message)
}

// Is reports whether target is core.ErrValidation.
func (r *Rejection) Is(target error) bool { return target == core.ErrValidation }

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Guardrail is the common identity of pre- and post-invocation checks.
type Guardrail interface {
	Name() string
}

// PreInvoke runs before the capability is called.
type PreInvoke interface {
	Guardrail
	BeforeInvoke(ctx context.Context, inv Invocation) error
}

// PostInvoke runs after the capability returned and before the delta is built.
// It may return a rewritten output.
type PostInvoke interface {
	Guardrail
	AfterInvoke(ctx context.Context, inv Invocation, out Output) (Output, error)
}

type preFunc struct {
	name string
	fn   func(ctx context.Context, inv Invocation) error
}

// PreFunc adapts a function to PreInvoke.
func PreFunc(name string, fn func(ctx context.Context, inv Invocation) error) PreInvoke {
	return &preFunc{name: name, fn: fn}
}

func (p *preFunc) Name() string { return p.name }

func (p *preFunc) BeforeInvoke(ctx context.Context, inv Invocation) error { return p.fn(ctx, inv) }

type postFunc struct {
	name string
	fn   func(ctx context.Context, inv Invocation, out Output) (Output, error)
}

// PostFunc adapts a function to PostInvoke.
func PostFunc(name string, fn func(ctx context.Context, inv Invocation, out Output) (Output, error)) PostInvoke {
	return &postFunc{name: name, fn: fn}
}

func (p *postFunc) Name() string { return p.name }

func (p *postFunc) AfterInvoke(ctx context.Context, inv Invocation, out Output) (Output, error) {
	return p.fn(ctx, inv, out)
}
