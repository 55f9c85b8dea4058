package errors

import (
	"context"
	"errors"
	"strings"
)

// ClassifyLLMError turns any error returned by the LLM client into a
// WorkflowError. Typed errors are examined first, then sentinels, then
// message patterns as a last resort.
func ClassifyLLMError(err error) *WorkflowError {
	if err == nil {
		return nil
	}

	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr
	}
	if classified := classifyTypedErrors(err); classified != nil {
		return classified
	}
	if classified := classifySentinelErrors(err); classified != nil {
		return classified
	}
	return classifyStringPatternErrors(err)
}

func classifyTypedErrors(err error) *WorkflowError {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return &WorkflowError{
			Type:      providerErr.Type,
			Message:   providerErr.Message,
			Code:      providerErr.Code,
			Retryable: providerErr.IsRetryable(),
			Details: map[string]any{
				"provider":    providerErr.Provider,
				"status_code": providerErr.StatusCode,
			},
			Cause: err,
		}
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   rateLimitErr.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Details: map[string]any{
				"provider":    rateLimitErr.Provider,
				"retry_after": rateLimitErr.RetryAfter,
				"local":       rateLimitErr.LocalLimit,
			},
			Cause: err,
		}
	}

	return nil
}

func classifySentinelErrors(err error) *WorkflowError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &WorkflowError{Type: ErrorTypeTimeout, Message: err.Error(), Code: "TIMEOUT", Retryable: true, Cause: err}
	case errors.Is(err, context.Canceled):
		return &WorkflowError{Type: ErrorTypeUnknown, Message: err.Error(), Code: "CANCELED", Retryable: true, Cause: err}
	case errors.Is(err, ErrRateLimitExceeded):
		return &WorkflowError{Type: ErrorTypeRateLimit, Message: err.Error(), Code: "RATE_LIMIT", Retryable: true, Cause: err}
	case errors.Is(err, ErrProviderUnavailable):
		return &WorkflowError{Type: ErrorTypeProvider, Message: err.Error(), Code: "PROVIDER_UNAVAILABLE", Retryable: true, Cause: err}
	case errors.Is(err, ErrUnknownProvider):
		return &WorkflowError{Type: ErrorTypeValidation, Message: err.Error(), Code: "UNKNOWN_PROVIDER", Retryable: false, Cause: err}
	case errors.Is(err, ErrInvalidResponse):
		return &WorkflowError{Type: ErrorTypeContent, Message: err.Error(), Code: "INVALID_RESPONSE", Retryable: true, Cause: err}
	case errors.Is(err, ErrMaxRetriesExceeded):
		return &WorkflowError{Type: ErrorTypeProvider, Message: err.Error(), Code: "MAX_RETRIES", Retryable: true, Cause: err}
	}
	return nil
}

func classifyStringPatternErrors(err error) *WorkflowError {
	errMsg := strings.ToLower(err.Error())
	details := map[string]any{"original_error": err.Error()}

	switch {
	case strings.Contains(errMsg, "rate limit"):
		return &WorkflowError{Type: ErrorTypeRateLimit, Message: "Rate limit exceeded", Code: "RATE_LIMIT", Retryable: true, Details: details, Cause: err}
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		return &WorkflowError{Type: ErrorTypeTimeout, Message: "Request timeout", Code: "TIMEOUT", Retryable: true, Details: details, Cause: err}
	case strings.Contains(errMsg, "unauthorized") || strings.Contains(errMsg, "authentication"):
		return &WorkflowError{Type: ErrorTypeAuth, Message: "Authentication failed", Code: "AUTH_FAILED", Retryable: false, Details: details, Cause: err}
	case strings.Contains(errMsg, "forbidden") || strings.Contains(errMsg, "permission"):
		return &WorkflowError{Type: ErrorTypePermission, Message: "Permission denied", Code: "PERMISSION_DENIED", Retryable: false, Details: details, Cause: err}
	case strings.Contains(errMsg, "quota"):
		return &WorkflowError{Type: ErrorTypeQuota, Message: "Quota exceeded", Code: "QUOTA_EXCEEDED", Retryable: false, Details: details, Cause: err}
	case strings.Contains(errMsg, "empty content"):
		return &WorkflowError{Type: ErrorTypeContent, Message: "Empty response", Code: "EMPTY_CONTENT", Retryable: true, Details: details, Cause: err}
	case strings.Contains(errMsg, "network") || strings.Contains(errMsg, "connection"):
		return &WorkflowError{Type: ErrorTypeNetwork, Message: "Network error", Code: "NETWORK_ERROR", Retryable: true, Details: details, Cause: err}
	default:
		return &WorkflowError{Type: ErrorTypeUnknown, Message: "Unknown error", Code: "UNKNOWN", Retryable: false, Details: details, Cause: err}
	}
}
