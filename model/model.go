package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/meshflow/core"
)

// GenerateConfig carries per-request sampling overrides. Zero values leave
// the adapter defaults in place.
type GenerateConfig struct {
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int64    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// Request captures the normalized model input produced by nodes.
type Request struct {
	Instructions string         `json:"instructions"` // System instructions for the model
	Contents     []core.Content `json:"contents"`     // Conversation turns, last one is the prompt
	Config       GenerateConfig `json:"config"`
}

// Prompt returns the text of the last content in the request.
func (r Request) Prompt() string {
	if len(r.Contents) == 0 {
		return ""
	}
	return r.Contents[len(r.Contents)-1].Text()
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the completed output of a model call.
type Response struct {
	ID           string       `json:"id"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", ...
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Text returns the concatenated text of the response.
func (r Response) Text() string { return r.Content.Text() }

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the reasoning service contract. Generate blocks until the
// completion is available; failures are reported as *core.ServiceError.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

type mockReply struct {
	text string
	err  error
}

// MockModel is a lightweight in‑memory Model useful for tests & examples.
// Replies are resolved in this order: queued replies, the handler, canned
// responses keyed by prompt, and finally an echo of the prompt.
type MockModel struct {
	info      Info
	mu        sync.Mutex
	responses map[string]string
	queue     []mockReply
	handler   func(ctx context.Context, req Request) (string, error)
	calls     []Request
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[prompt] = response

	return m
}

// Enqueue appends replies consumed one per call, in order.
func (m *MockModel) Enqueue(texts ...string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range texts {
		m.queue = append(m.queue, mockReply{text: t})
	}

	return m
}

// EnqueueError makes the next unanswered call fail with err.
func (m *MockModel) EnqueueError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = append(m.queue, mockReply{err: err})

	return m
}

// SetHandler installs a function computing replies from the request.
func (m *MockModel) SetHandler(fn func(ctx context.Context, req Request) (string, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler = fn

	return m
}

// Calls returns the requests received so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, len(m.calls))
	copy(out, m.calls)

	return out
}

// CallCount returns the number of Generate calls.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.calls)
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)

	var (
		reply   mockReply
		queued  bool
		handler = m.handler
	)

	if len(m.queue) > 0 {
		reply, m.queue, queued = m.queue[0], m.queue[1:], true
	}

	canned, hasCanned := m.responses[req.Prompt()]
	m.mu.Unlock()

	var (
		text string
		err  error
	)

	switch {
	case queued:
		text, err = reply.text, reply.err
	case handler != nil:
		text, err = handler(ctx, req)
	case hasCanned:
		text = canned
	default:
		text = fmt.Sprintf("Mock response to: %s", req.Prompt())
	}

	if err != nil {
		return Response{}, core.NewServiceError(m.info.Provider, m.info.Name, false, err)
	}

	return Response{
		ID:           core.NewID(),
		Content:      *core.NewTextContent("assistant", text),
		FinishReason: "stop",
	}, nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
