package retry

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/ahrav/go-arena/internal/llm/configuration"
)

// calculateBackoff prefers provider Retry-After guidance over the
// exponential schedule.
func (r *retryMiddleware) calculateBackoff(attempt int, err error) time.Duration {
	if retryAfter := extractRetryAfter(err); retryAfter > 0 {
		return retryAfter
	}
	return ExponentialBackoff(attempt, r.config)
}

// extractRetryAfter returns the server-requested wait carried by err.
func extractRetryAfter(err error) time.Duration {
	var provider RetryAfterProvider
	if errors.As(err, &provider) {
		return provider.GetRetryAfter()
	}
	return 0
}

// ExponentialBackoff returns the delay before retry number attempt (1-based):
// InitialInterval * Multiplier^(attempt-1), capped at MaxInterval, with full
// jitter when enabled. Non-positive attempts yield zero.
func ExponentialBackoff(attempt int, config configuration.RetryConfig) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := config.InitialInterval
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	multiplier := max(config.Multiplier, 1.0)
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * multiplier)
		if config.MaxInterval > 0 && backoff >= config.MaxInterval {
			backoff = config.MaxInterval
			break
		}
	}

	if config.UseJitter {
		jitterMs := rand.Int64N(backoff.Milliseconds() + 1) // #nosec G404 -- non-cryptographic jitter is appropriate here
		return time.Duration(jitterMs) * time.Millisecond
	}

	return backoff
}
