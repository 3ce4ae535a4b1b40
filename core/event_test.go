package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_Helpers(t *testing.T) {
	ev := NewMessageEvent("run-1", "critic", "looks good")

	assert.False(t, ev.IsEscalation())
	ev.SetEscalate(true)
	assert.True(t, ev.IsEscalation())

	ev.SetState(TempKey("x"), 1)
	v, ok := ev.Actions.StateDelta.Get(TempKey("x"))
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.Equal(t, "looks good", ev.Text())
}

func TestEvent_JSONKeepsPartTypes(t *testing.T) {
	ev := NewFunctionCallEvent("run-1", "booker", "call-1", "book_flight", `{"to":"BER"}`)
	ev.Content.Parts = append(ev.Content.Parts,
		TextPart{Text: "booking"},
		DataPart{Data: map[string]any{"seats": float64(2)}},
		FunctionResponsePart{FunctionResponse: FunctionResponse{ID: "call-1", Name: "book_flight", Response: "ok"}},
	)
	ev.SetState(SessionKey("booked"), true)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.NotNil(t, decoded.Content)
	require.Len(t, decoded.Content.Parts, 4)
	assert.IsType(t, FunctionCallPart{}, decoded.Content.Parts[0])
	assert.IsType(t, TextPart{}, decoded.Content.Parts[1])
	assert.IsType(t, DataPart{}, decoded.Content.Parts[2])
	assert.IsType(t, FunctionResponsePart{}, decoded.Content.Parts[3])
	assert.Equal(t, "book_flight", decoded.GetFunctionCalls()[0].Name)

	v, ok := decoded.Actions.StateDelta.Get(SessionKey("booked"))
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.Canceled, CodeCancelled},
		{fmt.Errorf("wrapped: %w", &ServiceError{Provider: "mock", Err: errors.New("503")}), CodeServiceError},
		{NewToolError("search", "timeout"), CodeToolError},
		{fmt.Errorf("%w: too long", ErrValidation), CodeValidationRejected},
		{fmt.Errorf("%w: 3", ErrModelCallLimit), CodeLimitExceeded},
		{errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), "%v", tt.err)
	}
}

func TestNewServiceError_KeepsContextErrors(t *testing.T) {
	assert.ErrorIs(t, NewServiceError("mock", "m", false, context.Canceled), context.Canceled)

	var se *ServiceError
	err := NewServiceError("mock", "m", true, errors.New("rate limited"))
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Retryable)
	assert.Same(t, se, NewServiceError("other", "", false, err))
}
