package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned by stores for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when creating a session whose id is taken.
	ErrSessionExists = errors.New("session already exists")
	// ErrModelCallLimit is returned once a run exceeds its model call budget.
	ErrModelCallLimit = errors.New("model call limit exceeded")
	// ErrValidation marks guardrail rejections.
	ErrValidation = errors.New("validation rejected")
)

// Error codes carried by failure events.
const (
	CodeServiceError       = "service_error"
	CodeToolError          = "tool_error"
	CodeValidationRejected = "validation_rejected"
	CodeCancelled          = "cancelled"
	CodeLimitExceeded      = "limit_exceeded"
	CodeInternal           = "internal_error"
)

// ServiceError reports a failure of the external reasoning service.
type ServiceError struct {
	Provider  string
	Model     string
	Retryable bool
	Err       error
}

func (e *ServiceError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("reasoning service %s/%s: %v", e.Provider, e.Model, e.Err)
	}
	return fmt.Sprintf("reasoning service %s: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// NewServiceError wraps err as a ServiceError unless it already is one or is
// a context error.
func NewServiceError(provider, model string, retryable bool, err error) error {
	if err == nil {
		return nil
	}

	var se *ServiceError
	if errors.As(err, &se) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &ServiceError{Provider: provider, Model: model, Retryable: retryable, Err: err}
}

// ToolError reports an expected, recoverable failure of an external tool.
type ToolError struct {
	Tool   string
	Reason string
	Code   string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool %s failed (%s): %s", e.Tool, e.Code, e.Reason)
	}
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Reason)
}

func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError constructs a ToolError.
func NewToolError(tool, reason string) *ToolError {
	return &ToolError{Tool: tool, Reason: reason}
}

// ErrorCode classifies err into one of the failure codes.
func ErrorCode(err error) string {
	var (
		se *ServiceError
		te *ToolError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	case errors.As(err, &se):
		return CodeServiceError
	case errors.As(err, &te):
		return CodeToolError
	case errors.Is(err, ErrValidation):
		return CodeValidationRejected
	case errors.Is(err, ErrModelCallLimit):
		return CodeLimitExceeded
	default:
		return CodeInternal
	}
}
