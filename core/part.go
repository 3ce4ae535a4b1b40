package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map).
type DataPart struct {
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (DataPart) isPart() {}

// FunctionCall describes a tool/function invocation request.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // Serialized JSON arguments
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall   `json:"function_call"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse `json:"function_response"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
}

func (FunctionResponsePart) isPart() {}

// Content holds role + ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"` // Conversation role (user, assistant, tool, system,...)
	Parts []Part `json:"parts"`
}

// NewTextContent builds content with a single text part.
func NewTextContent(role, text string) *Content {
	return &Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all text parts.
func (c Content) Text() string {
	var sb strings.Builder
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

const (
	partTypeText             = "text"
	partTypeData             = "data"
	partTypeFunctionCall     = "function_call"
	partTypeFunctionResponse = "function_response"
)

type wirePart struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

// MarshalJSON encodes parts with a type discriminator so durable stores can
// restore the concrete part types.
func (c Content) MarshalJSON() ([]byte, error) {
	w := wireContent{Role: c.Role, Parts: make([]wirePart, 0, len(c.Parts))}

	for _, p := range c.Parts {
		var typ string

		switch p.(type) {
		case TextPart:
			typ = partTypeText
		case DataPart:
			typ = partTypeData
		case FunctionCallPart:
			typ = partTypeFunctionCall
		case FunctionResponsePart:
			typ = partTypeFunctionResponse
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}

		body, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}

		w.Parts = append(w.Parts, wirePart{Type: typ, Body: body})
	}

	return json.Marshal(w)
}

// UnmarshalJSON restores typed parts written by MarshalJSON.
func (c *Content) UnmarshalJSON(data []byte) error {
	var w wireContent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	c.Role = w.Role
	c.Parts = make([]Part, 0, len(w.Parts))

	for _, wp := range w.Parts {
		var (
			p   Part
			err error
		)

		switch wp.Type {
		case partTypeText:
			var tp TextPart
			err = json.Unmarshal(wp.Body, &tp)
			p = tp
		case partTypeData:
			var dp DataPart
			err = json.Unmarshal(wp.Body, &dp)
			p = dp
		case partTypeFunctionCall:
			var fc FunctionCallPart
			err = json.Unmarshal(wp.Body, &fc)
			p = fc
		case partTypeFunctionResponse:
			var fr FunctionResponsePart
			err = json.Unmarshal(wp.Body, &fr)
			p = fr
		default:
			return fmt.Errorf("unknown part type %q", wp.Type)
		}

		if err != nil {
			return fmt.Errorf("decode %s part: %w", wp.Type, err)
		}

		c.Parts = append(c.Parts, p)
	}

	return nil
}
