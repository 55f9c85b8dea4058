package errors

import (
	"fmt"
)

// WorkflowError is the classified form of a generation failure. The session
// layer reports its Type and Retryable fields to the annotator so the UI can
// tell "try again" apart from "fix the configuration".
type WorkflowError struct {
	Type      ErrorType      `json:"type"`
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *WorkflowError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// ShouldRetry returns the explicit retry recommendation.
func (e *WorkflowError) ShouldRetry() bool {
	return e.Retryable
}
