package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes. Every error returned by the annotation core wraps exactly one
// of these so transports can map it without inspecting messages.
var (
	// ErrValidation marks annotator input problems: empty required fields,
	// missing selections, an incomplete checklist.
	ErrValidation = errors.New("validation failed")

	// ErrCollaborator marks a failed call to the generation or persistence
	// service. State has been rolled back and the call may be retried.
	ErrCollaborator = errors.New("collaborator call failed")

	// ErrInvariant marks a caller bug, such as viewing an uncommitted turn or
	// rewinding out of range. It is reported, never fatal.
	ErrInvariant = errors.New("invariant violation")

	// ErrNotFound indicates that a conversation id is unknown.
	ErrNotFound = errors.New("not found")
)

// Validation errors.
var (
	ErrEmptySystemPrompt     = fmt.Errorf("%w: system prompt is empty", ErrValidation)
	ErrEmptyUserPrompt       = fmt.Errorf("%w: user prompt is empty", ErrValidation)
	ErrEmptyNudgePrompt      = fmt.Errorf("%w: nudge prompt is empty", ErrValidation)
	ErrInvalidConfiguration  = fmt.Errorf("%w: invalid configuration", ErrValidation)
	ErrInvalidEvaluation     = fmt.Errorf("%w: invalid evaluation record", ErrValidation)
	ErrInvalidOverallFailure = fmt.Errorf("%w: invalid overall failure level", ErrValidation)
	ErrInvalidSubmission     = fmt.Errorf("%w: invalid submission", ErrValidation)
	ErrSystemPromptLocked    = fmt.Errorf("%w: system prompt cannot change mid-conversation", ErrValidation)
)

// Invariant errors.
var (
	ErrWrongPhase          = fmt.Errorf("%w: operation not allowed in current phase", ErrInvariant)
	ErrWrongTurnState      = fmt.Errorf("%w: operation not allowed in current turn state", ErrInvariant)
	ErrGenerationInFlight  = fmt.Errorf("%w: generation already in flight", ErrInvariant)
	ErrNudgeInFlight       = fmt.Errorf("%w: nudge already in flight", ErrInvariant)
	ErrSubmissionInFlight  = fmt.Errorf("%w: submission already in flight", ErrInvariant)
	ErrTurnOutOfRange      = fmt.Errorf("%w: turn index out of range", ErrInvariant)
	ErrAlreadySubmitted    = fmt.Errorf("%w: conversation already submitted", ErrInvariant)
	ErrStaleResult         = fmt.Errorf("%w: result belongs to a discarded turn", ErrInvariant)
	ErrNoGenerator         = fmt.Errorf("%w: no generator configured", ErrInvariant)
	ErrNoPersister         = fmt.Errorf("%w: no persister configured", ErrInvariant)
	ErrConversationUnknown = fmt.Errorf("%w: conversation", ErrNotFound)
)

// ChecklistError reports which checklist conditions blocked a turn from
// completing. It wraps ErrValidation.
type ChecklistError struct {
	Unsatisfied []string
}

func (e *ChecklistError) Error() string {
	return "checklist incomplete: " + strings.Join(e.Unsatisfied, "; ")
}

// Unwrap returns ErrValidation.
func (e *ChecklistError) Unwrap() error { return ErrValidation }

// CollaboratorError wraps a failure from an external collaborator call.
// It matches both ErrCollaborator and the underlying cause with errors.Is.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the error class and the cause.
func (e *CollaboratorError) Unwrap() []error { return []error{ErrCollaborator, e.Err} }

// NewCollaboratorError wraps err as a collaborator failure for op.
func NewCollaboratorError(op string, err error) error {
	return &CollaboratorError{Op: op, Err: err}
}
