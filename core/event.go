package core

import (
	"time"

	"github.com/google/uuid"
)

// Status describes how a node or run terminated.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusEscalated Status = "escalated"
	StatusExhausted Status = "exhausted"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
	StatusUnclear   Status = "unclear"
)

// EventActions encodes side‑effects or orchestration signals attached to an Event.
// Escalate is a pointer so absence can be distinguished from an explicit false.
type EventActions struct {
	StateDelta StateDelta `json:"state_delta,omitempty"`
	Escalate   *bool      `json:"escalate,omitempty"`
}

// Event is the unit of communication between nodes, the runner and
// external clients. After emission it should be treated as immutable. It
// captures:
//   - Correlation (RunID, ID, Author, Branch)
//   - Conversational content (optional role-based Parts)
//   - The state delta committed together with the event
//   - Termination metadata (Status, Final, ErrorCode)
//
// Content may be nil for control-only events.
type Event struct {
	ID             string            `json:"id"`
	RunID          string            `json:"run_id"`
	Author         string            `json:"author"`
	Actions        EventActions      `json:"actions"`
	Branch         string            `json:"branch,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Content        *Content          `json:"content,omitempty"`
	Status         Status            `json:"status,omitempty"`
	Final          bool              `json:"final,omitempty"`
	Partial        *bool             `json:"partial,omitempty"`
	ErrorCode      *string           `json:"error_code,omitempty"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	CustomMetadata map[string]string `json:"custom_metadata,omitempty"`
}

// NewEvent creates a bare event authored by 'author' bound to a run.
func NewEvent(runID, author string) Event {
	return Event{
		ID:        NewID(),
		RunID:     runID,
		Author:    author,
		Timestamp: time.Now().UTC(),
		Actions:   EventActions{},
	}
}

// NewMessageEvent creates an assistant message event with a single text part.
func NewMessageEvent(runID, author, message string) Event {
	e := NewEvent(runID, author)
	e.Content = NewTextContent("assistant", message)
	return e
}

// NewUserContentEvent creates a user-authored event with arbitrary Content.
func NewUserContentEvent(runID string, content *Content) Event {
	e := NewEvent(runID, "user")
	e.Content = content
	return e
}

// NewFunctionCallEvent represents a node requesting execution of a named tool.
func NewFunctionCallEvent(runID, author, id, functionName, args string) Event {
	e := NewEvent(runID, author)
	e.Content = &Content{
		Role: "assistant",
		Parts: []Part{
			FunctionCallPart{FunctionCall: FunctionCall{ID: id, Name: functionName, Arguments: args}},
		},
	}
	return e
}

// NewFunctionResponseEvent records the result (or error) of a tool invocation.
func NewFunctionResponseEvent(runID, author, id, functionName string, result any, err error) Event {
	e := NewEvent(runID, author)
	fr := FunctionResponse{ID: id, Name: functionName, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	e.Content = &Content{Role: "tool", Parts: []Part{FunctionResponsePart{FunctionResponse: fr}}}
	return e
}

// NewID generates a new unique identifier for events, runs and sessions.
func NewID() string { return uuid.NewString() }

// IsPartial reports whether this event is a streaming fragment.
func (e Event) IsPartial() bool { return e.Partial != nil && *e.Partial }

// IsEscalation reports whether the event requests its enclosing loop or
// sequence to stop.
func (e Event) IsEscalation() bool { return e.Actions.Escalate != nil && *e.Actions.Escalate }

// SetEscalate sets the escalation flag.
func (e *Event) SetEscalate(v bool) { e.Actions.Escalate = &v }

// SetError records an error code and message on the event.
func (e *Event) SetError(code, msg string) {
	e.ErrorCode = &code
	e.ErrorMessage = &msg
}

// SetState stages a write that is committed together with the event.
func (e *Event) SetState(k StateKey, v any) {
	if e.Actions.StateDelta == nil {
		e.Actions.StateDelta = NewStateDelta()
	}
	e.Actions.StateDelta.Set(k, v)
}

// SetMetadata attaches a custom metadata entry.
func (e *Event) SetMetadata(k, v string) {
	if e.CustomMetadata == nil {
		e.CustomMetadata = map[string]string{}
	}
	e.CustomMetadata[k] = v
}

// Text returns the concatenated text parts of the event content.
func (e Event) Text() string {
	if e.Content == nil {
		return ""
	}
	return e.Content.Text()
}

// GetFunctionCalls returns any FunctionCall parts contained within the event
// content preserving their original order.
func (e Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []FunctionCall
	for _, p := range e.Content.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// GetFunctionResponses returns any FunctionResponse parts contained within the
// event content preserving their original order.
func (e Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []FunctionResponse
	for _, p := range e.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch.
func (e Event) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }
