package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arena/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-arena/internal/llm/errors"
	"github.com/ahrav/go-arena/internal/llm/transport"
)

func transcriptRequest(op transport.OperationType) *transport.Request {
	return &transport.Request{
		Operation:    op,
		Provider:     ProviderOpenAI,
		Model:        "gpt-4",
		Track:        "B",
		SystemPrompt: "Be terse.",
		Messages: []transport.Message{
			{Role: transport.RoleUser, Content: "hi"},
			{Role: transport.RoleAssistant, Content: "hello"},
			{Role: transport.RoleUser, Content: "what now?"},
		},
		MaxTokens:   64,
		Temperature: 0.2,
	}
}

func jsonResponse(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestNewRouter(t *testing.T) {
	r, err := NewRouter(map[string]configuration.ProviderConfig{
		ProviderOpenAI:    {APIKey: "k"},
		ProviderAnthropic: {APIKey: "k"},
	})
	require.NoError(t, err)

	a, err := r.Pick(ProviderAnthropic, "claude")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, a.Name())

	_, err = r.Pick("google", "gemini")
	assert.ErrorIs(t, err, llmerrors.ErrUnknownProvider)

	_, err = NewRouter(map[string]configuration.ProviderConfig{"google": {}})
	assert.ErrorIs(t, err, llmerrors.ErrUnknownProvider)
}

func TestOpenAIAdapter_Build(t *testing.T) {
	adapter := NewOpenAIAdapter(configuration.ProviderConfig{
		APIKey:  "sk-test",
		Headers: map[string]string{"X-Team": "arena"},
	})

	for _, op := range []transport.OperationType{transport.OpGeneration, transport.OpNudge} {
		t.Run(string(op), func(t *testing.T) {
			httpReq, err := adapter.Build(context.Background(), transcriptRequest(op))
			require.NoError(t, err)

			assert.Equal(t, http.MethodPost, httpReq.Method)
			assert.Equal(t, "https://api.openai.com/v1/chat/completions", httpReq.URL.String())
			assert.Equal(t, "Bearer sk-test", httpReq.Header.Get("Authorization"))
			assert.Equal(t, "arena", httpReq.Header.Get("X-Team"))

			var body openAIRequest
			require.NoError(t, json.NewDecoder(httpReq.Body).Decode(&body))
			assert.Equal(t, "gpt-4", body.Model)
			require.Len(t, body.Messages, 4)
			assert.Equal(t, openAIMessage{Role: "system", Content: "Be terse."}, body.Messages[0])
			assert.Equal(t, openAIMessage{Role: "assistant", Content: "hello"}, body.Messages[2])
			assert.Equal(t, "what now?", body.Messages[3].Content)
		})
	}

	t.Run("unsupported operation", func(t *testing.T) {
		req := transcriptRequest("scoring")
		_, err := adapter.Build(context.Background(), req)
		assert.ErrorIs(t, err, ErrUnsupportedOperation)
	})
}

func TestOpenAIAdapter_Parse(t *testing.T) {
	adapter := NewOpenAIAdapter(configuration.ProviderConfig{})

	t.Run("success", func(t *testing.T) {
		resp, err := adapter.Parse(jsonResponse(http.StatusOK, `{
			"choices": [{"message": {"role": "assistant", "content": "answer"}, "finish_reason": "length"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`, http.Header{"X-Request-Id": []string{"req-1"}}))
		require.NoError(t, err)
		assert.Equal(t, "answer", resp.Content)
		assert.Equal(t, transport.FinishLength, resp.FinishReason)
		assert.Equal(t, int64(15), resp.Usage.TotalTokens)
		assert.Equal(t, []string{"req-1"}, resp.ProviderRequestIDs)
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := adapter.Parse(jsonResponse(http.StatusOK, `{not json`, nil))
		assert.ErrorIs(t, err, llmerrors.ErrInvalidResponse)
	})

	t.Run("rate limited with retry-after", func(t *testing.T) {
		_, err := adapter.Parse(jsonResponse(http.StatusTooManyRequests,
			`{"error": {"message": "slow down", "type": "requests", "code": "rate_limit_exceeded"}}`,
			http.Header{"Retry-After": []string{"12"}}))

		var provErr *llmerrors.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, llmerrors.ErrorTypeRateLimit, provErr.Type)
		assert.Equal(t, 12, provErr.RetryAfter)
		assert.True(t, provErr.IsRetryable())
	})

	t.Run("quota is terminal", func(t *testing.T) {
		_, err := adapter.Parse(jsonResponse(http.StatusTooManyRequests,
			`{"error": {"message": "no credit", "type": "insufficient_quota", "code": "insufficient_quota"}}`, nil))

		var provErr *llmerrors.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, llmerrors.ErrorTypeQuota, provErr.Type)
		assert.False(t, provErr.IsRetryable())
	})

	t.Run("plain text error", func(t *testing.T) {
		_, err := adapter.Parse(jsonResponse(http.StatusBadGateway, "bad gateway", nil))

		var provErr *llmerrors.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, "bad gateway", provErr.Message)
		assert.Equal(t, llmerrors.ErrorTypeProvider, provErr.Type)
	})
}

func TestAnthropicAdapter_Build(t *testing.T) {
	adapter := NewAnthropicAdapter(configuration.ProviderConfig{APIKey: "ak"})

	req := transcriptRequest(transport.OpGeneration)
	req.MaxTokens = 0
	httpReq, err := adapter.Build(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "https://api.anthropic.com/v1/messages", httpReq.URL.String())
	assert.Equal(t, "ak", httpReq.Header.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, httpReq.Header.Get("anthropic-version"))

	var body anthropicRequest
	require.NoError(t, json.NewDecoder(httpReq.Body).Decode(&body))
	assert.Equal(t, "Be terse.", body.System)
	assert.Equal(t, int64(defaultAnthropicMaxTokens), body.MaxTokens)
	require.Len(t, body.Messages, 3)
	assert.Equal(t, "user", body.Messages[0].Role)
	assert.Equal(t, "assistant", body.Messages[1].Role)
}

func TestAnthropicAdapter_Parse(t *testing.T) {
	adapter := NewAnthropicAdapter(configuration.ProviderConfig{})

	resp, err := adapter.Parse(jsonResponse(http.StatusOK, `{
		"content": [{"type": "text", "text": "part one, "}, {"type": "text", "text": "part two"}],
		"stop_reason": "max_tokens",
		"usage": {"input_tokens": 7, "output_tokens": 3}
	}`, nil))
	require.NoError(t, err)
	assert.Equal(t, "part one, part two", resp.Content)
	assert.Equal(t, transport.FinishLength, resp.FinishReason)
	assert.Equal(t, int64(10), resp.Usage.TotalTokens)

	_, err = adapter.Parse(jsonResponse(529,
		`{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`, nil))
	var provErr *llmerrors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, llmerrors.ErrorTypeProvider, provErr.Type)
	assert.Equal(t, "overloaded_error", provErr.Code)
}

func TestAdapters_ThroughHTTPHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		_, _ = io.WriteString(w, `{"choices": [{"message": {"content": "from server"}, "finish_reason": "stop"}]}`)
	}))
	t.Cleanup(srv.Close)

	router, err := NewRouter(map[string]configuration.ProviderConfig{
		ProviderOpenAI: {APIKey: "k", Endpoint: srv.URL + "/v1"},
	})
	require.NoError(t, err)

	h := transport.NewHTTPHandler(srv.Client(), router)
	resp, err := h.Handle(context.Background(), transcriptRequest(transport.OpGeneration))
	require.NoError(t, err)
	assert.Equal(t, "from server", resp.Content)
}

func TestClassifyErrorType(t *testing.T) {
	tests := []struct {
		status int
		code   string
		want   llmerrors.ErrorType
	}{
		{http.StatusOK, "rate_limit_exceeded", llmerrors.ErrorTypeRateLimit},
		{http.StatusTooManyRequests, "insufficient_quota", llmerrors.ErrorTypeQuota},
		{http.StatusOK, "authentication_error", llmerrors.ErrorTypeAuth},
		{http.StatusOK, "permission_error", llmerrors.ErrorTypePermission},
		{529, "overloaded_error", llmerrors.ErrorTypeProvider},
		{http.StatusTooManyRequests, "", llmerrors.ErrorTypeRateLimit},
		{http.StatusUnauthorized, "", llmerrors.ErrorTypeAuth},
		{http.StatusGatewayTimeout, "", llmerrors.ErrorTypeTimeout},
		{http.StatusBadRequest, "invalid_request_error", llmerrors.ErrorTypeValidation},
		{http.StatusServiceUnavailable, "", llmerrors.ErrorTypeProvider},
		{http.StatusTeapot, "", llmerrors.ErrorTypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyErrorType(tt.status, tt.code), "status=%d code=%q", tt.status, tt.code)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, parseRetryAfter(http.Header{}, now))
	assert.Equal(t, 30, parseRetryAfter(http.Header{"Retry-After": []string{"30"}}, now))
	assert.Equal(t, 0, parseRetryAfter(http.Header{"Retry-After": []string{"-4"}}, now))
	assert.Equal(t, 0, parseRetryAfter(http.Header{"Retry-After": []string{"soon"}}, now))

	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	assert.Equal(t, 90, parseRetryAfter(http.Header{"Retry-After": []string{date}}, now))
}
