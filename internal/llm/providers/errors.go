package providers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	llmerrors "github.com/ahrav/go-arena/internal/llm/errors"
)

// ErrUnsupportedOperation is returned for operations an adapter cannot build.
var ErrUnsupportedOperation = errors.New("unsupported operation")

// ServerErrorStatusThreshold defines the HTTP status code threshold for server errors.
const ServerErrorStatusThreshold = 500

// classifyErrorType determines ErrorType from HTTP status and the provider's
// error code. Codes win over status because providers reuse 400 and 429 for
// several distinct conditions.
func classifyErrorType(statusCode int, errorCode string) llmerrors.ErrorType {
	lowerCode := strings.ToLower(errorCode)
	switch {
	case strings.Contains(lowerCode, "quota"):
		return llmerrors.ErrorTypeQuota
	case strings.Contains(lowerCode, "rate") || strings.Contains(lowerCode, "limit"):
		return llmerrors.ErrorTypeRateLimit
	case strings.Contains(lowerCode, "overloaded"):
		return llmerrors.ErrorTypeProvider
	case strings.Contains(lowerCode, "timeout"):
		return llmerrors.ErrorTypeTimeout
	case strings.Contains(lowerCode, "auth") || strings.Contains(lowerCode, "unauthorized"):
		return llmerrors.ErrorTypeAuth
	case strings.Contains(lowerCode, "permission") || strings.Contains(lowerCode, "forbidden"):
		return llmerrors.ErrorTypePermission
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return llmerrors.ErrorTypeRateLimit
	case http.StatusUnauthorized:
		return llmerrors.ErrorTypeAuth
	case http.StatusForbidden:
		return llmerrors.ErrorTypePermission
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return llmerrors.ErrorTypeTimeout
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return llmerrors.ErrorTypeValidation
	default:
		if statusCode >= ServerErrorStatusThreshold {
			return llmerrors.ErrorTypeProvider
		}
		return llmerrors.ErrorTypeUnknown
	}
}

// parseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date. It returns 0 when absent or unparseable.
func parseRetryAfter(h http.Header, now time.Time) int {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(secs, 0)
	}
	if at, err := http.ParseTime(v); err == nil {
		secs := int(at.Sub(now).Round(time.Second) / time.Second)
		return max(secs, 0)
	}
	return 0
}

func newProviderError(provider string, resp *http.Response, message, code, typeHint string) *llmerrors.ProviderError {
	return &llmerrors.ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Type:       classifyErrorType(resp.StatusCode, typeHint),
		RetryAfter: parseRetryAfter(resp.Header, time.Now()),
	}
}
