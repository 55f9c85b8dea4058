// Package submission implements the persist_conversation collaborator. It
// offers two annotation.Persister implementations: TemporalPersister runs
// the durable SubmissionWorkflow, and DirectPersister calls the stores in
// process. Both end in PersistActivities.PersistConversation.
package submission

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/store"
	"github.com/ahrav/go-arena/internal/workflow"
	"github.com/ahrav/go-arena/pkg/activity"
	"github.com/ahrav/go-arena/pkg/events"
)

// EventSource names this package in emitted envelopes.
const EventSource = "persist-activity"

// Error types for application errors returned by the activity.
const (
	ErrTypeStore = "Store"
)

// submittedEvent is the payload of events.TypeConversationSubmitted.
type submittedEvent struct {
	ConversationID string                `json:"conversation_id"`
	Configuration  domain.Configuration  `json:"configuration"`
	Turns          int                   `json:"turns"`
	FailedTurns    []int                 `json:"failed_turns"`
	OverallFailure domain.OverallFailure `json:"overall_failure"`
	Stores         []string              `json:"stores"`
	SubmittedAt    time.Time             `json:"submitted_at"`
}

// PersistActivities writes submissions to every configured store.
type PersistActivities struct {
	activity.BaseActivities
	stores []store.Store
	now    func() time.Time
}

// NewPersistActivities returns activities writing through stores in order.
func NewPersistActivities(base activity.BaseActivities, stores ...store.Store) *PersistActivities {
	return &PersistActivities{
		BaseActivities: base,
		stores:         slices.Clone(stores),
		now:            time.Now,
	}
}

// StoreNames lists the configured backends.
func (a *PersistActivities) StoreNames() []string {
	names := make([]string, len(a.stores))
	for i, s := range a.stores {
		names[i] = s.Name()
	}
	return names
}

// PersistConversation validates sub, saves it to every store and emits a
// submitted event. Invalid input is non-retryable; store failures are
// retryable, and stores treat a repeated id as already saved, so a retry
// after a partial failure completes the remaining stores.
func (a *PersistActivities) PersistConversation(ctx context.Context, sub domain.Submission) (domain.Receipt, error) {
	if err := sub.Validate(); err != nil {
		return domain.Receipt{}, temporal.NewNonRetryableApplicationError(
			"invalid submission", workflow.ErrTypeValidation, err)
	}
	if len(a.stores) == 0 {
		return domain.Receipt{}, temporal.NewNonRetryableApplicationError(
			"no stores configured", ErrTypeStore, nil)
	}

	wfCtx := a.GetWorkflowContext(ctx)
	activity.SafeLog(ctx, "Persisting conversation",
		"conversation_id", sub.ConversationID,
		"workflow_id", wfCtx.WorkflowID,
		"attempt", wfCtx.Attempt,
		"turns", len(sub.Turns))

	for i, s := range a.stores {
		activity.RecordHeartbeat(ctx, i)
		if err := s.Save(ctx, sub); err != nil {
			activity.SafeLogError(ctx, "Store save failed",
				"conversation_id", sub.ConversationID,
				"store", s.Name(),
				"error", err)
			return domain.Receipt{}, temporal.NewApplicationError(
				fmt.Sprintf("save to %s", s.Name()), ErrTypeStore, err)
		}
	}

	receipt := domain.Receipt{
		ConversationID: sub.ConversationID,
		PersistedAt:    a.now().UTC(),
		Stores:         a.StoreNames(),
	}
	a.emitSubmitted(ctx, sub, receipt)
	return receipt, nil
}

func (a *PersistActivities) emitSubmitted(ctx context.Context, sub domain.Submission, receipt domain.Receipt) {
	env, err := events.NewEnvelope(events.TypeConversationSubmitted, EventSource, sub.ConversationID, 0,
		submittedEvent{
			ConversationID: sub.ConversationID,
			Configuration:  sub.Configuration,
			Turns:          len(sub.Turns),
			FailedTurns:    sub.FailedTurns(),
			OverallFailure: sub.OverallFailure,
			Stores:         receipt.Stores,
			SubmittedAt:    sub.SubmittedAt,
		})
	if err != nil {
		activity.SafeLogError(ctx, "Failed to build submitted event", "error", err)
		return
	}
	env.IdempotencyKey = SubmittedIdempotencyKey(sub.ConversationID)
	a.EmitEventSafe(ctx, env, "ConversationSubmitted["+sub.ConversationID+"]")
}

// SubmittedIdempotencyKey is stable across activity retries so consumers
// see one submission per conversation.
func SubmittedIdempotencyKey(conversationID string) string {
	return events.TypeConversationSubmitted + ":" + conversationID
}
