// Package metrics exposes Prometheus collectors for the annotation service
// and adapts them to the llm.Metrics interface used by the model client.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-arena/internal/llm"
)

const namespace = "arena"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeStale   = "stale"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	conversationsStarted prometheus.Counter
	conversationsActive  prometheus.Gauge
	turnsCommitted       prometheus.Counter
	rewinds              prometheus.Counter
	amendments           prometheus.Counter
	collaboratorCalls    *prometheus.CounterVec
	collaboratorLatency  *prometheus.HistogramVec
	submissions          *prometheus.CounterVec

	llmRequests *prometheus.CounterVec
	llmErrors   *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec
	llmTokens   *prometheus.HistogramVec
	llmRetries  *prometheus.CounterVec
	llmCircuit  *prometheus.CounterVec
}

var llmLabels = []string{"provider", "model", "operation", "track"}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		conversationsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_started_total",
			Help:      "Conversations that left configuring for their first turn",
		}),
		conversationsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations_active",
			Help:      "Conversations held in the session registry",
		}),
		turnsCommitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_committed_total",
			Help:      "Turns appended to a conversation history",
		}),
		rewinds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewinds_total",
			Help:      "Rewinds to an earlier turn",
		}),
		amendments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_amendments_total",
			Help:      "Evaluations amended after commit",
		}),
		collaboratorCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Generation and nudge calls by outcome",
		}, []string{"operation", "outcome"}),
		collaboratorLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_latency_seconds",
			Help:      "Latency of generation and nudge calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"operation"}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Conversation submissions by outcome",
		}, []string{"outcome"}),

		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Provider calls by outcome",
		}, append(append([]string(nil), llmLabels...), "outcome")),
		llmErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_errors_total",
			Help:      "Failed provider calls by classified error type",
		}, append(append([]string(nil), llmLabels...), "error_type")),
		llmDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Provider call latency including retries",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, llmLabels),
		llmTokens: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_tokens",
			Help:      "Total tokens per successful provider call",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
		}, llmLabels),
		llmRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_retries_total",
			Help:      "Provider call retries",
		}, llmLabels),
		llmCircuit: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_circuit_transitions_total",
			Help:      "Circuit breaker state changes per provider model",
		}, []string{"provider", "model", "state"}),
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ConversationStarted records a conversation's first turn opening.
func (m *Metrics) ConversationStarted() { m.conversationsStarted.Inc() }

// SetActiveConversations records the registry size.
func (m *Metrics) SetActiveConversations(n int) { m.conversationsActive.Set(float64(n)) }

// TurnCommitted records a committed turn.
func (m *Metrics) TurnCommitted() { m.turnsCommitted.Inc() }

// Rewound records a rewind.
func (m *Metrics) Rewound() { m.rewinds.Inc() }

// EvaluationAmended records an amendment.
func (m *Metrics) EvaluationAmended() { m.amendments.Inc() }

// CollaboratorCall records one generate or nudge call.
func (m *Metrics) CollaboratorCall(operation, outcome string, elapsed time.Duration) {
	m.collaboratorCalls.WithLabelValues(operation, outcome).Inc()
	m.collaboratorLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Submission records a submit attempt.
func (m *Metrics) Submission(outcome string) { m.submissions.WithLabelValues(outcome).Inc() }

// LLM adapts m to the model client's metrics interface.
func (m *Metrics) LLM() llm.Metrics { return llmMetrics{m} }

type llmMetrics struct{ m *Metrics }

func llmValues(tags map[string]string) []string {
	return []string{tags["provider"], tags["model"], tags["operation"], tags["track"]}
}

// IncrementCounter maps llm counter names onto collectors. Unknown names
// are ignored.
func (a llmMetrics) IncrementCounter(name string, tags map[string]string, value float64) {
	labels := llmValues(tags)
	switch name {
	case llm.MetricRequestsSuccess:
		a.m.llmRequests.WithLabelValues(append(labels, OutcomeSuccess)...).Add(value)
	case llm.MetricRequestsErrors:
		a.m.llmRequests.WithLabelValues(append(labels, OutcomeError)...).Add(value)
		a.m.llmErrors.WithLabelValues(append(labels, tags["error_type"])...).Add(value)
	case llm.MetricRetries:
		a.m.llmRetries.WithLabelValues(labels...).Add(value)
	case llm.MetricCircuitTransitions:
		a.m.llmCircuit.WithLabelValues(tags["provider"], tags["model"], tags["state"]).Add(value)
	}
}

// RecordHistogram maps llm histogram names onto collectors. Durations arrive
// in milliseconds.
func (a llmMetrics) RecordHistogram(name string, tags map[string]string, value float64) {
	labels := llmValues(tags)
	switch name {
	case llm.MetricRequestDuration:
		a.m.llmDuration.WithLabelValues(labels...).Observe(value / 1000)
	case llm.MetricTokensTotal:
		a.m.llmTokens.WithLabelValues(labels...).Observe(value)
	}
}
