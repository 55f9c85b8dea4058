package llm

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	llmerrors "github.com/ahrav/go-arena/internal/llm/errors"
	"github.com/ahrav/go-arena/internal/llm/transport"
)

// Metric names emitted by the client.
const (
	MetricRequestsTotal   = "llm.requests.total"
	MetricRequestsSuccess = "llm.requests.success"
	MetricRequestsErrors  = "llm.requests.errors"
	MetricRequestDuration = "llm.request.duration_ms"
	MetricTokensTotal     = "llm.tokens.total"
	MetricRetries         = "llm.retries"

	// MetricCircuitTransitions is tagged with provider, model and the new state.
	MetricCircuitTransitions = "llm.circuit.transitions"
)

// Metrics receives client observations. Tags always include provider, model,
// operation and track.
type Metrics interface {
	IncrementCounter(name string, tags map[string]string, value float64)
	RecordHistogram(name string, tags map[string]string, value float64)
}

// NoOpMetrics discards all observations.
type NoOpMetrics struct{}

func (NoOpMetrics) IncrementCounter(string, map[string]string, float64) {}

func (NoOpMetrics) RecordHistogram(string, map[string]string, float64) {}

// LoggingMiddleware logs and measures each logical provider call.
type LoggingMiddleware struct {
	logger        *slog.Logger
	metrics       Metrics
	redactPrompts bool
}

// NewLoggingMiddleware returns the outermost middleware of the client chain.
// With redactPrompts set, prompt and response text are logged as lengths.
func NewLoggingMiddleware(logger *slog.Logger, metrics Metrics, redactPrompts bool) transport.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NoOpMetrics{}
	}

	lm := &LoggingMiddleware{
		logger:        logger,
		metrics:       metrics,
		redactPrompts: redactPrompts,
	}
	return lm.Middleware
}

// Middleware wraps next with request and outcome logging.
func (m *LoggingMiddleware) Middleware(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if req.TraceID == "" {
			req.TraceID = uuid.NewString()
		}
		tags := requestTags(req)

		m.logRequest(ctx, req)
		m.metrics.IncrementCounter(MetricRequestsTotal, tags, 1)

		start := time.Now()
		resp, err := next.Handle(ctx, req)
		duration := time.Since(start)

		m.metrics.RecordHistogram(MetricRequestDuration, tags, float64(duration.Milliseconds()))

		if err != nil {
			m.handleError(ctx, req, err, duration, tags)
		} else if resp != nil {
			m.handleSuccess(ctx, req, resp, duration, tags)
		}
		return resp, err
	})
}

func requestTags(req *transport.Request) map[string]string {
	return map[string]string{
		"provider":  req.Provider,
		"model":     req.Model,
		"operation": string(req.Operation),
		"track":     req.Track,
	}
}

func (m *LoggingMiddleware) logRequest(ctx context.Context, req *transport.Request) {
	fields := []any{
		"request_id", req.TraceID,
		"provider", req.Provider,
		"model", req.Model,
		"operation", req.Operation,
		"track", req.Track,
		"messages", len(req.Messages),
		"max_tokens", req.MaxTokens,
	}

	if n := len(req.Messages); n > 0 {
		last := req.Messages[n-1].Content
		if m.redactPrompts {
			fields = append(fields, "prompt_length", len(last))
		} else {
			fields = append(fields, "prompt", last)
		}
	}

	m.logger.InfoContext(ctx, "LLM request started", fields...)
}

func (m *LoggingMiddleware) handleError(
	ctx context.Context,
	req *transport.Request,
	err error,
	duration time.Duration,
	tags map[string]string,
) {
	errorType := string(llmerrors.ErrorTypeUnknown)
	if wfErr := llmerrors.ClassifyLLMError(err); wfErr != nil {
		errorType = string(wfErr.Type)
	}

	errorTags := maps.Clone(tags)
	errorTags["error_type"] = errorType
	m.metrics.IncrementCounter(MetricRequestsErrors, errorTags, 1)

	m.logger.ErrorContext(ctx, "LLM request failed",
		"request_id", req.TraceID,
		"provider", req.Provider,
		"model", req.Model,
		"track", req.Track,
		"duration_ms", duration.Milliseconds(),
		"error_type", errorType,
		"error", err.Error())
}

func (m *LoggingMiddleware) handleSuccess(
	ctx context.Context,
	req *transport.Request,
	resp *transport.Response,
	duration time.Duration,
	tags map[string]string,
) {
	m.metrics.IncrementCounter(MetricRequestsSuccess, tags, 1)
	m.metrics.RecordHistogram(MetricTokensTotal, tags, float64(resp.Usage.TotalTokens))

	fields := []any{
		"request_id", req.TraceID,
		"provider", req.Provider,
		"model", req.Model,
		"track", req.Track,
		"duration_ms", duration.Milliseconds(),
		"finish_reason", resp.FinishReason,
		"total_tokens", resp.Usage.TotalTokens,
		"provider_request_ids", strings.Join(resp.ProviderRequestIDs, ","),
	}

	if m.redactPrompts {
		fields = append(fields, "response_length", len(resp.Content))
	} else {
		content := resp.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		fields = append(fields, "response_preview", content)
	}

	m.logger.InfoContext(ctx, "LLM request completed", fields...)
}
