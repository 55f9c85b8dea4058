// Package workflow holds the Temporal workflows of the annotation service.
//
// SubmissionWorkflow persists a finished conversation exactly once. The
// conversation id is part of the workflow id, so Temporal itself rejects a
// second submission of a conversation whose first run completed.
//
// Workflows here must stay deterministic: validation runs in workflow code,
// while storage and event emission happen in activities.
package workflow
