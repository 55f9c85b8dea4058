package domain

import (
	"slices"
	"time"
)

// OverallFailure is the annotator's summary judgment of how badly the models
// failed across the whole conversation.
type OverallFailure string

// OverallFailure levels, least to most severe.
const (
	OverallFailureNone     OverallFailure = "none"
	OverallFailureMinor    OverallFailure = "minor"
	OverallFailureModerate OverallFailure = "moderate"
	OverallFailureSevere   OverallFailure = "severe"
)

// OverallFailures returns every level, least severe first.
func OverallFailures() []OverallFailure {
	return []OverallFailure{OverallFailureNone, OverallFailureMinor, OverallFailureModerate, OverallFailureSevere}
}

// IsValid reports whether o is a known level.
func (o OverallFailure) IsValid() bool { return slices.Contains(OverallFailures(), o) }

// Submission is the finished conversation handed to the persistence
// collaborator exactly once.
type Submission struct {
	ConversationID string         `json:"conversation_id" validate:"required,uuid"`
	Configuration  Configuration  `json:"configuration"`
	Turns          []Turn         `json:"turns" validate:"required,min=1"`
	OverallFailure OverallFailure `json:"overall_failure" validate:"required,overall_failure"`
	SubmittedAt    time.Time      `json:"submitted_at" validate:"required"`
}

// Validate checks the submission is complete enough to persist.
func (s Submission) Validate() error {
	if err := validate.Struct(s); err != nil {
		return validationError(ErrInvalidSubmission, err)
	}
	if isBlank(s.Configuration.SystemPrompt) {
		return ErrEmptySystemPrompt
	}
	return nil
}

// HistoryA returns the track A transcript.
func (s Submission) HistoryA() []Exchange { return History(s.Turns, TrackA) }

// HistoryB returns the track B transcript.
func (s Submission) HistoryB() []Exchange { return History(s.Turns, TrackB) }

// Evaluations returns the committed evaluation records in turn order.
func (s Submission) Evaluations() []EvaluationRecord { return Evaluations(s.Turns) }

// FailedTurns returns the 1-based indexes of turns with any failure tagged.
func (s Submission) FailedTurns() []int {
	var out []int
	for _, t := range s.Turns {
		if t.Evaluation.HasFailure() {
			out = append(out, t.Index)
		}
	}
	return out
}

// Receipt confirms a persisted conversation.
type Receipt struct {
	ConversationID string    `json:"conversation_id"`
	PersistedAt    time.Time `json:"persisted_at"`
	// Stores names each backend that accepted the conversation.
	Stores []string `json:"stores,omitempty"`
}
