package worker

import (
	sdkactivity "go.temporal.io/sdk/activity"
	sdkworkflow "go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-arena/internal/submission"
	"github.com/ahrav/go-arena/internal/workflow"
)

// Registry is the part of a Temporal worker used for registration. Both
// sdk workers and test environments satisfy it.
type Registry interface {
	RegisterWorkflowWithOptions(w any, options sdkworkflow.RegisterOptions)
	RegisterActivityWithOptions(a any, options sdkactivity.RegisterOptions)
}

// RegisterAll registers the submission workflow and its activity under the
// names the workflow and TemporalPersister use. Call it once, before the
// worker starts.
func RegisterAll(r Registry, acts *submission.PersistActivities) {
	r.RegisterWorkflowWithOptions(workflow.SubmissionWorkflow,
		sdkworkflow.RegisterOptions{Name: workflow.SubmissionWorkflowName})
	r.RegisterActivityWithOptions(acts.PersistConversation,
		sdkactivity.RegisterOptions{Name: workflow.PersistConversationActivity})
}
