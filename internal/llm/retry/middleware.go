// Package retry re-issues provider calls that fail transiently, waiting with
// exponential backoff and honoring provider Retry-After guidance.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ahrav/go-arena/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-arena/internal/llm/errors"
	"github.com/ahrav/go-arena/internal/llm/transport"
)

var (
	// Configuration validation errors.
	errMaxAttemptsInvalid     = errors.New("maxAttempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initialInterval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("maxInterval must be >= initialInterval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")
	errMaxElapsedTimeInvalid  = errors.New("maxElapsedTime must be >= 0")

	errContextCancelledBeforeRetry = errors.New("context cancelled before retry")
	errContextCancelledDuringRetry = errors.New("context cancelled during retry")
)

// RetryAfterProvider is implemented by errors that carry a server-provided
// wait duration.
type RetryAfterProvider interface {
	// GetRetryAfter returns the recommended wait, or zero when unknown.
	GetRetryAfter() time.Duration
}

// RetryHook observes each scheduled retry.
type RetryHook func(req *transport.Request, attempt int, backoff time.Duration, err error)

// Option configures the retry middleware.
type Option func(*retryMiddleware)

// WithRetryHook registers a hook invoked before each backoff sleep.
func WithRetryHook(h RetryHook) Option {
	return func(r *retryMiddleware) { r.onRetry = h }
}

// WithLogger overrides the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *retryMiddleware) { r.logger = l }
}

type retryMiddleware struct {
	config  configuration.RetryConfig
	logger  *slog.Logger
	onRetry RetryHook
}

// NewRetryMiddlewareWithConfig creates retry middleware with the given policy.
func NewRetryMiddlewareWithConfig(cfg configuration.RetryConfig, opts ...Option) (transport.Middleware, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, cfg.MaxAttempts)
	}
	if cfg.InitialInterval <= 0 {
		return nil, fmt.Errorf("%w, got %v", errInitialIntervalInvalid, cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("%w, MaxInterval: %v, InitialInterval: %v", errMaxIntervalInvalid, cfg.MaxInterval, cfg.InitialInterval)
	}
	if cfg.Multiplier < 1.0 {
		return nil, fmt.Errorf("%w, got %f", errMultiplierInvalid, cfg.Multiplier)
	}
	if cfg.MaxElapsedTime < 0 {
		return nil, fmt.Errorf("%w, got %v", errMaxElapsedTimeInvalid, cfg.MaxElapsedTime)
	}

	rm := &retryMiddleware{
		config: cfg,
		logger: slog.Default().With("component", "retry"),
	}
	for _, opt := range opts {
		opt(rm)
	}
	return rm.middleware(), nil
}

func (r *retryMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", errContextCancelledBeforeRetry, ctx.Err())
			default:
			}

			var lastErr error
			startTime := time.Now()
			attempt := 1

			for ; ; attempt++ {
				resp, err := next.Handle(ctx, req)
				if err == nil {
					if attempt > 1 {
						r.logger.Info("request succeeded after retry",
							"attempt", attempt,
							"provider", req.Provider,
							"model", req.Model,
							"track", req.Track)
					}
					return resp, nil
				}

				if !isRetryable(err) {
					r.logger.Debug("non-retryable error",
						"error", err,
						"attempt", attempt,
						"provider", req.Provider)
					return nil, err
				}
				lastErr = err

				if attempt >= r.config.MaxAttempts {
					break
				}

				backoff, ok := r.nextBackoff(attempt, err, time.Since(startTime))
				if !ok {
					r.logger.Warn("max elapsed time exceeded",
						"elapsed", time.Since(startTime),
						"attempts", attempt,
						"last_error", err)
					break
				}

				if r.onRetry != nil {
					r.onRetry(req, attempt, backoff, err)
				}
				r.logger.Debug("retrying after backoff",
					"attempt", attempt,
					"backoff", backoff,
					"error", err,
					"provider", req.Provider)

				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, fmt.Errorf("%w: %w", errContextCancelledDuringRetry, ctx.Err())
				}
			}

			return nil, fmt.Errorf("%w after %d attempts: %w", llmerrors.ErrMaxRetriesExceeded, attempt, lastErr)
		})
	}
}

// nextBackoff returns the wait before the next attempt, or false when waiting
// would exceed MaxElapsedTime. A Retry-After hint that does not fit falls
// back to the exponential schedule.
func (r *retryMiddleware) nextBackoff(attempt int, err error, elapsed time.Duration) (time.Duration, bool) {
	backoff := r.calculateBackoff(attempt, err)
	if r.config.MaxElapsedTime <= 0 || elapsed+backoff <= r.config.MaxElapsedTime {
		return backoff, true
	}
	if extractRetryAfter(err) > 0 {
		fallback := ExponentialBackoff(attempt, r.config)
		if elapsed+fallback <= r.config.MaxElapsedTime {
			return fallback, true
		}
	}
	return 0, false
}

// isRetryable decides retry eligibility. Typed errors take precedence over
// the RetryAfterProvider interface.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *llmerrors.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var providerErr *llmerrors.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.IsRetryable()
	}

	var workflowErr *llmerrors.WorkflowError
	if errors.As(err, &workflowErr) {
		return workflowErr.Retryable
	}

	if errors.Is(err, transport.ErrEmptyContent) || errors.Is(err, llmerrors.ErrInvalidResponse) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if isNetworkError(err) {
		return true
	}

	var provider RetryAfterProvider
	return errors.As(err, &provider)
}

// isNetworkError detects network failures by type, falling back to message
// patterns for wrapped errors that lost their type.
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) {
			return netErr.Timeout()
		}
		return isNetworkErrorByString(urlErr.Err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return isNetworkErrorByString(err.Error())
}

var networkErrorIndicators = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"eof",
}

func isNetworkErrorByString(errStr string) bool {
	lowered := strings.ToLower(errStr)
	for _, indicator := range networkErrorIndicators {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}
