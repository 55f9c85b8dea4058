// Package llm is the model-calling collaborator of the annotation workflow.
// Client turns committed conversation histories into chat transcripts, sends
// them to the provider model bound to each track, and returns the responses.
//
// Every provider call flows through one middleware chain:
//
//	logging -> circuit breaker -> retry -> rate limit -> provider HTTP
//
// Rate limiting sits inside retry so a refused attempt is retried after the
// limiter's Retry-After hint. The breaker sees one outcome per logical call,
// after retries are exhausted.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-arena/internal/annotation"
	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/llm/circuitbreaker"
	"github.com/ahrav/go-arena/internal/llm/configuration"
	"github.com/ahrav/go-arena/internal/llm/providers"
	"github.com/ahrav/go-arena/internal/llm/ratelimit"
	"github.com/ahrav/go-arena/internal/llm/retry"
	"github.com/ahrav/go-arena/internal/llm/transport"
)

var _ annotation.Generator = (*Client)(nil)

// Client implements annotation.Generator over configured LLM providers.
type Client struct {
	tracks   configuration.TracksConfig
	timeout  time.Duration
	handler  transport.Handler
	limiter  *ratelimit.Limiter
	breakers *circuitbreaker.Breakers // nil when disabled
}

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger        *slog.Logger
	metrics       Metrics
	redis         *redis.Client
	redactPrompts bool
}

// WithLogger sets the logger used by the client's middleware.
func WithLogger(l *slog.Logger) Option { return func(o *clientOptions) { o.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option { return func(o *clientOptions) { o.metrics = m } }

// WithRedis supplies the client used for global rate limiting.
func WithRedis(c *redis.Client) Option { return func(o *clientOptions) { o.redis = c } }

// WithRedactedPrompts logs prompt and response lengths instead of text.
func WithRedactedPrompts() Option { return func(o *clientOptions) { o.redactPrompts = true } }

// NewClient validates cfg and assembles the middleware chain.
func NewClient(cfg *configuration.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid llm configuration: %w", err)
	}

	o := clientOptions{metrics: NoOpMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "llm")
	}

	router, err := providers.NewRouter(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	core := transport.NewHTTPHandler(httpClient, router)

	limiter, err := ratelimit.NewLimiter(cfg.RateLimit, o.redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	metrics := o.metrics
	retryMiddleware, err := retry.NewRetryMiddlewareWithConfig(cfg.Retry,
		retry.WithRetryHook(func(req *transport.Request, _ int, _ time.Duration, _ error) {
			metrics.IncrementCounter(MetricRetries, requestTags(req), 1)
		}))
	if err != nil {
		limiter.Stop()
		return nil, fmt.Errorf("failed to initialize retry middleware: %w", err)
	}

	chain := []transport.Middleware{NewLoggingMiddleware(o.logger, o.metrics, o.redactPrompts)}
	var breakers *circuitbreaker.Breakers
	if cb := cfg.CircuitBreaker; cb.Enabled {
		breakers = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold:   cb.FailureThreshold,
			SuccessThreshold:   cb.SuccessThreshold,
			OpenTimeout:        cb.OpenTimeout,
			HalfOpenProbes:     cb.HalfOpenProbes,
			AdaptiveThresholds: cb.AdaptiveThresholds,
		},
			circuitbreaker.WithLogger(o.logger),
			circuitbreaker.WithTransitionHook(func(provider, model string, _, to circuitbreaker.CircuitState) {
				metrics.IncrementCounter(MetricCircuitTransitions,
					map[string]string{"provider": provider, "model": model, "state": to.String()}, 1)
			}))
		chain = append(chain, breakers.Middleware())
	}
	chain = append(chain, retryMiddleware, limiter.Middleware())

	return &Client{
		tracks:   cfg.Tracks,
		timeout:  cfg.HTTPTimeout,
		handler:  transport.Chain(core, chain...),
		limiter:  limiter,
		breakers: breakers,
	}, nil
}

// Close releases background resources.
func (c *Client) Close() {
	c.limiter.Stop()
}

// Generate asks model A and model B for the next response concurrently. Each
// track sees only its own history. Either failure fails the whole call so the
// turn never holds a single response.
func (c *Client) Generate(ctx context.Context, req annotation.GenerateRequest) (domain.TrackTexts, error) {
	var out domain.TrackTexts
	g, gctx := errgroup.WithContext(ctx)

	for _, track := range domain.Tracks() {
		history := req.HistoryA
		dst := &out.A
		if track == domain.TrackB {
			history = req.HistoryB
			dst = &out.B
		}
		messages := transcript(history, req.UserPrompt)

		g.Go(func() error {
			content, err := c.call(gctx, transport.OpGeneration, track, req.SystemPrompt, messages)
			if err != nil {
				return fmt.Errorf("model %s: %w", track, err)
			}
			*dst = content
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return domain.TrackTexts{}, err
	}
	return out, nil
}

// Nudge asks model B for an improved response. The history already ends
// with the pending exchange; the nudge text becomes the final user message.
func (c *Client) Nudge(ctx context.Context, req annotation.NudgeRequest) (string, error) {
	messages := transcript(req.HistoryB, req.NudgePrompt)
	content, err := c.call(ctx, transport.OpNudge, domain.TrackB, req.SystemPrompt, messages)
	if err != nil {
		return "", fmt.Errorf("model %s nudge: %w", domain.TrackB, err)
	}
	return content, nil
}

func (c *Client) call(
	ctx context.Context,
	op transport.OperationType,
	track domain.Track,
	systemPrompt string,
	messages []transport.Message,
) (string, error) {
	binding, ok := c.tracks.Binding(string(track))
	if !ok {
		return "", fmt.Errorf("no model bound to track %q", track)
	}

	resp, err := c.handler.Handle(ctx, &transport.Request{
		Operation:    op,
		Provider:     binding.Provider,
		Model:        binding.Model,
		Track:        string(track),
		SystemPrompt: systemPrompt,
		Messages:     messages,
		MaxTokens:    binding.MaxTokens,
		Temperature:  binding.Temperature,
		Timeout:      c.timeout,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// transcript renders history as alternating user/assistant messages followed
// by prompt as the final user message.
func transcript(history []domain.Exchange, prompt string) []transport.Message {
	msgs := make([]transport.Message, 0, 2*len(history)+1)
	for _, ex := range history {
		msgs = append(msgs,
			transport.Message{Role: transport.RoleUser, Content: ex.UserPrompt},
			transport.Message{Role: transport.RoleAssistant, Content: ex.ModelResponse},
		)
	}
	return append(msgs, transport.Message{Role: transport.RoleUser, Content: prompt})
}
