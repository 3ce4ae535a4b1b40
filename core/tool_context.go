package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/meshflow/logging"
)

// ToolContext provides a constrained surface for tool implementations
// invoked by a node. Tools may read committed state and stage writes; staged
// writes are attached to the tool node's result event and committed with it.
type ToolContext struct {
	runCtx         *RunContext
	functionCallID string
	delta          StateDelta
}

// NewToolContext constructs a tool context bound to a parent RunContext
// and unique functionCallID.
func NewToolContext(runCtx *RunContext, functionCallID string) *ToolContext {
	return &ToolContext{
		runCtx:         runCtx,
		functionCallID: functionCallID,
		delta:          NewStateDelta(),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.runCtx.Context }

// SessionID returns the session ID associated with the tool invocation.
func (tc *ToolContext) SessionID() string { return tc.runCtx.SessionID }

// UserID returns the owning user of the session.
func (tc *ToolContext) UserID() string { return tc.runCtx.UserID }

// RunID returns the run ID associated with the tool invocation.
func (tc *ToolContext) RunID() string { return tc.runCtx.RunID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.runCtx.Logger() }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// AgentName returns the name of the invoking node.
func (tc *ToolContext) AgentName() string { return tc.runCtx.Agent.Name }

// GetState returns a staged value if present, else the committed value.
func (tc *ToolContext) GetState(k StateKey) (any, bool) {
	if v, ok := tc.delta.Get(k); ok {
		return v, true
	}
	return tc.runCtx.GetState(k)
}

// SetState stages a write committed together with the tool result.
func (tc *ToolContext) SetState(k StateKey, v any) {
	tc.delta.Set(k, v)
}

// Delta returns the staged writes.
func (tc *ToolContext) Delta() StateDelta { return tc.delta }

// Validate performs a structural sanity check of the context.
func (tc *ToolContext) Validate() error {
	if tc.runCtx == nil || tc.runCtx.SessionID == "" || tc.functionCallID == "" {
		return fmt.Errorf("invalid ToolContext")
	}
	return nil
}
