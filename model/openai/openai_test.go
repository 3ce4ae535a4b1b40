package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/model"
)

func TestBuildMessages(t *testing.T) {
	req := model.Request{
		Instructions: "be brief",
		Contents: []core.Content{
			*core.NewTextContent("user", "hi"),
			*core.NewTextContent("assistant", "hello"),
			*core.NewTextContent("tool", "result"),
			{Role: "user"},
		},
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 4, "empty contents are skipped")
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	assert.NotNil(t, msgs[2].OfAssistant)
	assert.NotNil(t, msgs[3].OfUser, "tool output is forwarded as user text")
}

func TestModel_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "booker"}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}
		}`))
	}))
	defer srv.Close()

	client := openai.NewClient(option.WithBaseURL(srv.URL), option.WithAPIKey("test"))
	m := NewModelFromClient(&client)

	resp, err := m.Generate(context.Background(), model.Request{Contents: []core.Content{*core.NewTextContent("user", "route me")}})
	require.NoError(t, err)
	assert.Equal(t, "booker", resp.Text())
	assert.Equal(t, 4, resp.Usage.TotalTokens)
	assert.Equal(t, "openai", m.Info().Provider)
}

func TestModel_GenerateServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "bad", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	client := openai.NewClient(option.WithBaseURL(srv.URL), option.WithAPIKey("test"), option.WithMaxRetries(0))
	m := NewModelFromClient(&client)

	_, err := m.Generate(context.Background(), model.Request{Contents: []core.Content{*core.NewTextContent("user", "x")}})

	var se *core.ServiceError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Retryable)
}
