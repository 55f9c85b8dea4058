package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	llmerrors "github.com/ahrav/go-arena/internal/llm/errors"
	"github.com/ahrav/go-arena/internal/llm/transport"
)

// TransitionHook observes breaker state changes for one provider model.
type TransitionHook func(provider, model string, from, to CircuitState)

// Breakers holds one breaker per provider model.
type Breakers struct {
	cfg          Config
	logger       *slog.Logger
	onTransition TransitionHook

	mu       sync.Mutex
	breakers map[string]*circuitBreaker
}

// Option configures Breakers.
type Option func(*Breakers)

// WithLogger overrides the default component logger.
func WithLogger(l *slog.Logger) Option { return func(b *Breakers) { b.logger = l } }

// WithTransitionHook registers a hook called after every state change.
func WithTransitionHook(h TransitionHook) Option { return func(b *Breakers) { b.onTransition = h } }

// New returns an empty breaker set. Zero thresholds fall back to one.
func New(cfg Config, opts ...Option) *Breakers {
	cfg.FailureThreshold = max(cfg.FailureThreshold, 1)
	cfg.SuccessThreshold = max(cfg.SuccessThreshold, 1)
	cfg.HalfOpenProbes = max(cfg.HalfOpenProbes, 1)

	b := &Breakers{
		cfg:      cfg,
		logger:   slog.Default().With("component", "circuit_breaker"),
		breakers: make(map[string]*circuitBreaker),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func breakerKey(provider, model string) string { return provider + ":" + model }

func (b *Breakers) get(provider, model string) *circuitBreaker {
	key := breakerKey(provider, model)

	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[key]
	if !ok {
		var hook transitionFunc
		if b.onTransition != nil {
			hook = func(from, to CircuitState) { b.onTransition(provider, model, from, to) }
		}
		cb = newCircuitBreaker(b.cfg, b.logger.With("provider", provider, "model", model), hook)
		b.breakers[key] = cb
	}
	return cb
}

// State reports the state of the breaker for provider/model. Models that have
// never been called are closed.
func (b *Breakers) State(provider, model string) CircuitState {
	b.mu.Lock()
	cb, ok := b.breakers[breakerKey(provider, model)]
	b.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return cb.currentState()
}

// Middleware fails calls fast while the request's model is open. Only
// provider-side failures count against a model: timeouts, network errors and
// unavailable responses. Rejected requests, auth problems and caller
// cancellation leave the breaker untouched.
func (b *Breakers) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			cb := b.get(req.Provider, req.Model)
			release, wait, ok := cb.allow()
			if !ok {
				return nil, openError(req, wait)
			}
			defer release()

			resp, err := next.Handle(ctx, req)
			switch {
			case err == nil:
				cb.recordSuccess()
			case countsAsFailure(err):
				cb.recordFailure()
			}
			return resp, err
		})
	}
}

func openError(req *transport.Request, wait time.Duration) error {
	return &llmerrors.ProviderError{
		Provider:   req.Provider,
		StatusCode: http.StatusServiceUnavailable,
		Message:    fmt.Sprintf("circuit open for model %s", req.Model),
		Code:       "CIRCUIT_OPEN",
		Type:       llmerrors.ErrorTypeCircuitOpen,
		RetryAfter: int(math.Ceil(wait.Seconds())),
	}
}

func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch llmerrors.ClassifyLLMError(err).Type {
	case llmerrors.ErrorTypeProvider, llmerrors.ErrorTypeTimeout, llmerrors.ErrorTypeNetwork:
		return true
	default:
		return false
	}
}
