package testutil

import (
	"github.com/hupe1980/meshflow/core"
)

// EventBuilder provides a fluent helper for constructing events in tests.
// Example:
//
//	ev := NewEventBuilder().Author("agent").Run("run-1").AssistantText("hello").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EventBuilder struct {
	author    string
	runID     string
	id        string
	branch    string
	role      string
	textParts []string
	partial   *bool
	status    core.Status
	actions   core.EventActions
}

// NewEventBuilder creates a builder with default author "agent".
func NewEventBuilder() *EventBuilder { return &EventBuilder{author: "agent"} }

// Author sets the author name for the event (chainable).
func (b *EventBuilder) Author(a string) *EventBuilder { b.author = a; return b }

// Run sets the run ID associated with the event (chainable).
func (b *EventBuilder) Run(id string) *EventBuilder { b.runID = id; return b }

// ID overrides the auto-generated event ID (chainable).
func (b *EventBuilder) ID(id string) *EventBuilder { b.id = id; return b }

// Branch sets the branch label (chainable).
func (b *EventBuilder) Branch(br string) *EventBuilder { b.branch = br; return b }

// Partial marks the event as a partial chunk (chainable).
func (b *EventBuilder) Partial(p bool) *EventBuilder { b.partial = &p; return b }

// Status sets the terminal status (chainable).
func (b *EventBuilder) Status(s core.Status) *EventBuilder { b.status = s; return b }

// UserText appends a user role text part (chainable).
func (b *EventBuilder) UserText(t string) *EventBuilder {
	b.role = "user"
	b.textParts = append(b.textParts, t)
	return b
}

// AssistantText appends an assistant role text part (chainable).
func (b *EventBuilder) AssistantText(t string) *EventBuilder {
	b.role = "assistant"
	b.textParts = append(b.textParts, t)
	return b
}

// Escalate sets the Escalate action flag (chainable).
func (b *EventBuilder) Escalate() *EventBuilder { t := true; b.actions.Escalate = &t; return b }

// Set stages a state write on the event (chainable).
func (b *EventBuilder) Set(k core.StateKey, v any) *EventBuilder {
	if b.actions.StateDelta == nil {
		b.actions.StateDelta = core.NewStateDelta()
	}
	b.actions.StateDelta.Set(k, v)
	return b
}

// Build constructs the core.Event value.
func (b *EventBuilder) Build() core.Event {
	ev := core.NewEvent(b.runID, b.author)
	if b.id != "" {
		ev.ID = b.id
	}

	ev.Branch = b.branch
	ev.Partial = b.partial
	ev.Status = b.status
	ev.Actions = b.actions

	if len(b.textParts) > 0 {
		parts := make([]core.Part, 0, len(b.textParts))
		for _, t := range b.textParts {
			parts = append(parts, core.TextPart{Text: t})
		}
		ev.Content = &core.Content{Role: b.role, Parts: parts}
	}

	return ev
}
