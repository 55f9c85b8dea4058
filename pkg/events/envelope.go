// Package events provides the event infrastructure for annotation lifecycle
// notifications. It defines the Envelope wrapping each event with routing and
// idempotency metadata, and the EventSink interface with file, NATS, fan-out
// and no-op implementations.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types emitted over a conversation's lifetime.
const (
	TypeConversationStarted   = "conversation.started"
	TypeTurnCommitted         = "conversation.turn_committed"
	TypeConversationRewound   = "conversation.rewound"
	TypeEvaluationAmended     = "conversation.evaluation_amended"
	TypeConversationCompleted = "conversation.completed"
	TypeConversationSubmitted = "conversation.submitted"
)

// SchemaVersion is stamped on every envelope.
const SchemaVersion = "1.0.0"

// Envelope wraps a domain event with consistent metadata.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type identifies the event for routing, e.g. "conversation.turn_committed".
	Type string `json:"type"`

	// Source names the emitting component, e.g. "session" or "persist-activity".
	Source string `json:"source"`

	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey lets consumers drop duplicates of the same logical
	// event, such as a submission event re-emitted by an activity retry.
	IdempotencyKey string `json:"idempotency_key"`

	ConversationID string `json:"conversation_id"`

	// Turn is the 1-based turn the event concerns, or 0 for
	// conversation-wide events.
	Turn int `json:"turn,omitempty"`

	// WorkflowID and RunID are set for events emitted from Temporal
	// activities.
	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`

	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into a new envelope. The idempotency key
// defaults to the envelope ID.
func NewEnvelope(eventType, source, conversationID string, turn int, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	id := uuid.NewString()
	return Envelope{
		ID:             id,
		Type:           eventType,
		Source:         source,
		Version:        SchemaVersion,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: id,
		ConversationID: conversationID,
		Turn:           turn,
		Payload:        data,
	}, nil
}

// EventSink delivers events to downstream consumers.
//
// Delivery is best effort: callers log Append failures and never fail the
// operation that produced the event.
type EventSink interface {
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards every event.
type NoOpEventSink struct{}

// Append implements EventSink.
func (NoOpEventSink) Append(context.Context, Envelope) error { return nil }

// NewNoOpEventSink returns a sink for tests or when events are disabled.
func NewNoOpEventSink() EventSink { return NoOpEventSink{} }
