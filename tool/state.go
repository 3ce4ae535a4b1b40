package tool

import (
	"fmt"

	"github.com/hupe1980/meshflow/core"
)

// StateTool reads and stages writes to scoped session state. Keys use the
// "scope:name" form ("user:tier", "temp:draft"); unprefixed keys address the
// session scope.
//
// Writes are staged on the ToolContext and committed atomically with the tool
// node's result event.
type StateTool struct {
	name        string
	description string
}

// NewStateTool creates a new state tool.
func NewStateTool() *StateTool {
	return &StateTool{
		name:        "state_manager",
		description: "Reads and writes scoped session state. Supports operations: get_state, set_state.",
	}
}

// Name returns the tool identifier.
func (t *StateTool) Name() string { return t.name }

// Description returns the tool description.
func (t *StateTool) Description() string { return t.description }

// Parameters returns the JSON schema for tool parameters.
func (t *StateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"enum":        []string{"get_state", "set_state"},
				"description": "The state operation to perform",
			},
			"key": map[string]any{
				"type":        "string",
				"description": "Scoped state key, e.g. user:tier",
			},
			"value": map[string]any{
				"description": "Value for set_state operations (any type)",
			},
		},
		"required": []string{"operation", "key"},
	}
}

// Call implements the Tool interface.
func (t *StateTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	operation, _ := args["operation"].(string)

	raw, _ := args["key"].(string)

	key, err := core.ParseStateKey(raw)
	if err != nil {
		return nil, NewToolError(t.name, err.Error(), CodeValidation)
	}

	switch operation {
	case "get_state":
		value, exists := toolCtx.GetState(key)
		return map[string]any{
			"key":    key.String(),
			"exists": exists,
			"value":  value,
		}, nil
	case "set_state":
		value := args["value"]
		toolCtx.SetState(key, value)

		return map[string]any{
			"key":     key.String(),
			"value":   value,
			"success": true,
		}, nil
	default:
		return nil, NewToolError(t.name, fmt.Sprintf("unknown operation: %s", operation), CodeValidation)
	}
}
