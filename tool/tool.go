// Package tool implements the capability-calling subsystem that lets tool
// nodes invoke structured operations (APIs, computations, side-effects) with
// schema validated arguments and consistent error handling.
package tool

import (
	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/internal/util"
)

// Tool defines the interface for external capabilities invoked by tool nodes.
//
// Tools receive a ToolContext giving read access to committed state and a
// staging area for writes that are committed together with the node's result
// event.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Report expected failures as *core.ToolError
//   - Be safe for concurrent use (parallel branches share tool instances)
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with structured, already validated arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError is the expected, recoverable failure of a tool.
type ToolError = core.ToolError

// Error codes attached to ToolErrors produced by this package.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, reason, code string) *ToolError {
	return &ToolError{
		Tool:   tool,
		Reason: reason,
		Code:   code,
	}
}

// Validate checks args against the tool's parameter schema.
func Validate(t Tool, args map[string]any) error {
	return util.ValidateParameters(args, t.Parameters())
}
