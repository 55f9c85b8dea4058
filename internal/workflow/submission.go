package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-arena/internal/domain"
)

// Registered names.
const (
	SubmissionWorkflowName      = "SubmissionWorkflow"
	PersistConversationActivity = "PersistConversation"
)

// DefaultTaskQueue is the queue submission workflows run on.
const DefaultTaskQueue = "arena-submissions"

// IDPrefix prefixes the conversation id to form the workflow id.
const IDPrefix = "arena-submit-"

// WorkflowID returns the workflow id for a conversation.
func WorkflowID(conversationID string) string { return IDPrefix + conversationID }

// Error types carried by application errors from this package.
const (
	ErrTypeValidation = "Validation"
)

// Activity settings for persistence. Stores are local or nearby, so a short
// start-to-close is enough; retries cover transient database locks.
const (
	persistStartToClose   = 30 * time.Second
	persistMaxAttempts    = 5
	persistInitialBackoff = time.Second
	persistMaxBackoff     = 30 * time.Second
)

// SubmissionWorkflow validates sub and runs the PersistConversation activity,
// returning its receipt.
func SubmissionWorkflow(ctx workflow.Context, sub domain.Submission) (domain.Receipt, error) {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "submission.v", workflow.DefaultVersion, currentVersion)

	logger := workflow.GetLogger(ctx)

	if err := sub.Validate(); err != nil {
		return domain.Receipt{}, temporal.NewNonRetryableApplicationError(
			"invalid submission",
			ErrTypeValidation,
			err,
		)
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: persistStartToClose,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        persistInitialBackoff,
			BackoffCoefficient:     2.0,
			MaximumInterval:        persistMaxBackoff,
			MaximumAttempts:        persistMaxAttempts,
			NonRetryableErrorTypes: []string{ErrTypeValidation},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	logger.Info("Persisting conversation",
		"conversation_id", sub.ConversationID,
		"turns", len(sub.Turns))

	var receipt domain.Receipt
	if err := workflow.ExecuteActivity(ctx, PersistConversationActivity, sub).Get(ctx, &receipt); err != nil {
		logger.Error("Persist failed", "conversation_id", sub.ConversationID, "error", err)
		return domain.Receipt{}, err
	}
	return receipt, nil
}
