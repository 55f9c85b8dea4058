package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubmission() Submission {
	cfg := DefaultConfiguration()
	cfg.SystemPrompt = "You are helpful"
	return Submission{
		ConversationID: uuid.NewString(),
		Configuration:  cfg,
		Turns: []Turn{
			{
				Index:         1,
				A:             Exchange{UserPrompt: "Hi", ModelResponse: "Hello"},
				B:             Exchange{UserPrompt: "Hi", ModelResponse: "Hi there"},
				Evaluation:    EvaluationRecord{SelectedModel: TrackB, Ratings: TrackRatings{A: RatingOkay, B: RatingOkay}},
				Configuration: cfg,
			},
			{
				Index: 2,
				A:     Exchange{UserPrompt: "More", ModelResponse: "a2"},
				B:     Exchange{UserPrompt: "More", ModelResponse: "b2"},
				Evaluation: EvaluationRecord{
					SelectedModel: TrackA,
					Failed:        TrackFlags{B: true},
					Comment:       "lost context",
					Ratings:       TrackRatings{A: RatingPrettyGood, B: RatingHorrible},
				},
				Configuration: cfg,
			},
		},
		OverallFailure: OverallFailureMinor,
		SubmittedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSubmission_Projections(t *testing.T) {
	s := testSubmission()

	assert.Equal(t, []Exchange{
		{UserPrompt: "Hi", ModelResponse: "Hello"},
		{UserPrompt: "More", ModelResponse: "a2"},
	}, s.HistoryA())
	assert.Equal(t, "b2", s.HistoryB()[1].ModelResponse)
	require.Len(t, s.Evaluations(), 2)
	assert.Equal(t, TrackA, s.Evaluations()[1].SelectedModel)
	assert.Equal(t, []int{2}, s.FailedTurns())
}

func TestSubmission_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, testSubmission().Validate())
	})

	t.Run("unknown overall failure", func(t *testing.T) {
		s := testSubmission()
		s.OverallFailure = "catastrophic"
		assert.ErrorIs(t, s.Validate(), ErrInvalidSubmission)
	})

	t.Run("no turns", func(t *testing.T) {
		s := testSubmission()
		s.Turns = nil
		assert.ErrorIs(t, s.Validate(), ErrInvalidSubmission)
	})

	t.Run("bad conversation id", func(t *testing.T) {
		s := testSubmission()
		s.ConversationID = "conv-1"
		assert.ErrorIs(t, s.Validate(), ErrValidation)
	})

	t.Run("blank system prompt", func(t *testing.T) {
		s := testSubmission()
		s.Configuration.SystemPrompt = " "
		assert.ErrorIs(t, s.Validate(), ErrEmptySystemPrompt)
	})
}

func TestOverallFailure(t *testing.T) {
	for _, o := range OverallFailures() {
		assert.True(t, o.IsValid())
	}
	assert.False(t, OverallFailure("").IsValid())
}

func TestErrorClasses(t *testing.T) {
	cerr := &ChecklistError{Unsatisfied: []string{"User prompt confirmed"}}
	assert.ErrorIs(t, cerr, ErrValidation)
	assert.Contains(t, cerr.Error(), "User prompt confirmed")

	cause := assert.AnError
	collab := NewCollaboratorError("generate", cause)
	assert.ErrorIs(t, collab, ErrCollaborator)
	assert.ErrorIs(t, collab, cause)
	assert.NotErrorIs(t, collab, ErrValidation)

	assert.ErrorIs(t, ErrTurnOutOfRange, ErrInvariant)
	assert.ErrorIs(t, ErrConversationUnknown, ErrNotFound)
}
