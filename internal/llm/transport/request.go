package transport

import (
	"net/http"
	"time"
)

// OperationType differentiates the two kinds of generation calls. It affects
// rate limit keys, metrics labels and log fields.
type OperationType string

const (
	// OpGeneration produces the next response for a committed-history turn.
	OpGeneration OperationType = "generation"

	// OpNudge produces a hypothetical improved response after a nudge prompt.
	OpNudge OperationType = "nudge"
)

// Role is the speaker of a chat message.
type Role string

// Chat roles understood by every provider adapter.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral chat completion request.
type Request struct {
	// Operation affects rate limiting and metrics labels.
	Operation OperationType `json:"operation"`

	// Provider identifies which LLM service to use.
	Provider string `json:"provider"` // "openai"|"anthropic"

	// Model specifies the exact model version to use.
	Model string `json:"model"`

	// Track is the annotation stream ("A" or "B") the request serves.
	Track string `json:"track"`

	// SystemPrompt is sent separately from Messages; adapters place it where
	// their API expects it.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages holds the conversation, alternating user and assistant, and
	// ending with the user turn to answer.
	Messages []Message `json:"messages"`

	MaxTokens   int64   `json:"max_tokens"`
	Temperature float64 `json:"temperature"`

	// Timeout bounds a single HTTP attempt; zero uses the client default.
	Timeout time.Duration `json:"timeout"`
	TraceID string        `json:"trace_id"`
}

// FinishReason is the normalized reason a provider stopped generating.
type FinishReason string

// Normalized finish reasons.
const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolUse       FinishReason = "tool_use"
)

// Response is normalized output from any provider.
type Response struct {
	Content            string          `json:"content"`
	FinishReason       FinishReason    `json:"finish_reason"`
	ProviderRequestIDs []string        `json:"provider_request_ids"`
	Usage              NormalizedUsage `json:"usage"`

	// Headers preserves raw response headers for debugging.
	Headers http.Header `json:"-"`
}

// NormalizedUsage provides consistent usage metrics across providers.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}
