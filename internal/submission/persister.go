package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/ahrav/go-arena/internal/annotation"
	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/workflow"
)

var (
	_ annotation.Persister = (*TemporalPersister)(nil)
	_ annotation.Persister = (*DirectPersister)(nil)
)

// DirectPersister runs PersistConversation in process. It is used when
// Temporal is disabled.
type DirectPersister struct {
	activities *PersistActivities
}

// NewDirectPersister returns a persister calling activities directly.
func NewDirectPersister(activities *PersistActivities) *DirectPersister {
	return &DirectPersister{activities: activities}
}

// PersistConversation implements annotation.Persister.
func (p *DirectPersister) PersistConversation(ctx context.Context, sub domain.Submission) (domain.Receipt, error) {
	return p.activities.PersistConversation(ctx, sub)
}

// TemporalPersister starts SubmissionWorkflow and waits for its receipt.
//
// The workflow id is derived from the conversation id and started with the
// allow-duplicate-failed-only reuse policy: a conversation whose submission
// completed can never be persisted again, while one whose run failed can be
// retried.
type TemporalPersister struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewTemporalPersister returns a persister using c and taskQueue.
func NewTemporalPersister(c client.Client, taskQueue string, logger *slog.Logger) *TemporalPersister {
	if taskQueue == "" {
		taskQueue = workflow.DefaultTaskQueue
	}
	if logger == nil {
		logger = slog.Default().With("component", "submission")
	}
	return &TemporalPersister{client: c, taskQueue: taskQueue, logger: logger}
}

// PersistConversation implements annotation.Persister. When a workflow for
// the conversation is already running or completed, its result is returned
// instead of starting another.
func (p *TemporalPersister) PersistConversation(ctx context.Context, sub domain.Submission) (domain.Receipt, error) {
	id := workflow.WorkflowID(sub.ConversationID)
	opts := client.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                p.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}

	run, err := p.client.ExecuteWorkflow(ctx, opts, workflow.SubmissionWorkflowName, sub)
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	switch {
	case errors.As(err, &started):
		p.logger.InfoContext(ctx, "submission workflow already exists, awaiting its result",
			"workflow_id", id)
		run = p.client.GetWorkflow(ctx, id, "")
	case err != nil:
		return domain.Receipt{}, fmt.Errorf("start submission workflow: %w", err)
	}

	var receipt domain.Receipt
	if err := run.Get(ctx, &receipt); err != nil {
		return domain.Receipt{}, fmt.Errorf("submission workflow %s: %w", id, err)
	}
	p.logger.InfoContext(ctx, "conversation persisted",
		"workflow_id", id,
		"run_id", run.GetRunID(),
		"stores", receipt.Stores)
	return receipt, nil
}
