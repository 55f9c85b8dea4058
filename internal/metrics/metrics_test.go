package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arena/internal/llm"
)

func TestSessionCounters(t *testing.T) {
	m := New()
	m.ConversationStarted()
	m.TurnCommitted()
	m.TurnCommitted()
	m.Rewound()
	m.EvaluationAmended()
	m.SetActiveConversations(3)
	m.Submission(OutcomeSuccess)
	m.CollaboratorCall("generate", OutcomeError, 2*time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.conversationsStarted))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.turnsCommitted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rewinds))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.amendments))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.conversationsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.submissions.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.collaboratorCalls.WithLabelValues("generate", OutcomeError)))
}

func TestLLMAdapter(t *testing.T) {
	m := New()
	a := m.LLM()
	tags := map[string]string{"provider": "openai", "model": "gpt-4", "operation": "generation", "track": "B"}

	a.IncrementCounter(llm.MetricRequestsTotal, tags, 1)
	a.IncrementCounter(llm.MetricRequestsSuccess, tags, 1)
	a.IncrementCounter(llm.MetricRetries, tags, 2)
	a.IncrementCounter(llm.MetricCircuitTransitions, map[string]string{"provider": "openai", "model": "gpt-4", "state": "open"}, 1)

	errTags := map[string]string{"provider": "openai", "model": "gpt-4", "operation": "generation", "track": "B", "error_type": "rate_limit"}
	a.IncrementCounter(llm.MetricRequestsErrors, errTags, 1)

	a.RecordHistogram(llm.MetricRequestDuration, tags, 1500)
	a.RecordHistogram(llm.MetricTokensTotal, tags, 120)
	a.RecordHistogram("unknown", tags, 1)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.llmRequests.WithLabelValues("openai", "gpt-4", "generation", "B", OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.llmRequests.WithLabelValues("openai", "gpt-4", "generation", "B", OutcomeError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.llmErrors.WithLabelValues("openai", "gpt-4", "generation", "B", "rate_limit")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.llmRetries.WithLabelValues("openai", "gpt-4", "generation", "B")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.llmCircuit.WithLabelValues("openai", "gpt-4", "open")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.llmDuration))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.TurnCommitted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "arena_turns_committed_total 1"), body)
	assert.Contains(t, body, "go_goroutines")
}
