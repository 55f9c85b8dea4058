package annotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arena/internal/domain"
)

func completeInput() ChecklistInput {
	return ChecklistInput{
		SystemPrompt: "You are helpful",
		UserPrompt:   "Hi",
		Confirmed:    true,
		Responses:    domain.TrackTexts{A: "Hello", B: "Hi there"},
		Evaluation: domain.EvaluationRecord{
			SelectedModel: domain.TrackB,
			Ratings:       domain.TrackRatings{A: domain.RatingOkay, B: domain.RatingOkay},
		},
	}
}

func TestEvaluateChecklist_Complete(t *testing.T) {
	cl := EvaluateChecklist(completeInput())

	require.Len(t, cl, 9)
	assert.True(t, cl.Complete())
	assert.Empty(t, cl.Unsatisfied())
	assert.NoError(t, cl.Err())

	for i, cond := range cl {
		assert.Equal(t, ConditionID(i+1), cond.ID, "conditions are ordered")
		assert.NotEmpty(t, cond.Label)
	}
}

// TestEvaluateChecklist_EachConditionBlocks breaks exactly one condition at
// a time and checks that it alone is reported.
func TestEvaluateChecklist_EachConditionBlocks(t *testing.T) {
	tests := []struct {
		id     ConditionID
		label  string
		mutate func(*ChecklistInput)
	}{
		{CondSystemPrompt, "System prompt is provided", func(in *ChecklistInput) { in.SystemPrompt = "  " }},
		{CondUserPrompt, "User prompt is provided", func(in *ChecklistInput) { in.UserPrompt = "" }},
		{CondUserPromptConfirmed, "User prompt confirmed", func(in *ChecklistInput) { in.Confirmed = false }},
		{CondResponseA, "Model A response generated", func(in *ChecklistInput) { in.Responses.A = "" }},
		{CondResponseB, "Model B response generated", func(in *ChecklistInput) { in.Responses.B = "" }},
		{CondModelSelected, "Model selected to continue", func(in *ChecklistInput) { in.Evaluation.SelectedModel = "" }},
		{CondFailureComment, "Failure comment provided (if failures tagged)", func(in *ChecklistInput) { in.Evaluation.Failed.A = true }},
		{CondRatingA, "Rating for Model A selected", func(in *ChecklistInput) { in.Evaluation.Ratings.A = "" }},
		{CondRatingB, "Rating for Model B selected", func(in *ChecklistInput) { in.Evaluation.Ratings.B = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			in := completeInput()
			tt.mutate(&in)
			cl := EvaluateChecklist(in)

			assert.False(t, cl.Complete())
			assert.Equal(t, []string{tt.label}, cl.Unsatisfied())
			assert.False(t, cl[tt.id-1].Satisfied)

			var cerr *domain.ChecklistError
			require.ErrorAs(t, cl.Err(), &cerr)
			assert.Equal(t, []string{tt.label}, cerr.Unsatisfied)
			assert.ErrorIs(t, cl.Err(), domain.ErrValidation)
		})
	}
}

func TestEvaluateChecklist_FailureCommentSatisfiedWithComment(t *testing.T) {
	in := completeInput()
	in.Evaluation.Failed = domain.TrackFlags{A: true, B: true}
	in.Evaluation.Comment = "both ignored the constraint"
	assert.True(t, EvaluateChecklist(in).Complete())
}

func TestEvaluateChecklist_EmptyInput(t *testing.T) {
	cl := EvaluateChecklist(ChecklistInput{})
	// Only the failure comment condition holds vacuously.
	assert.Len(t, cl.Unsatisfied(), 8)
	assert.True(t, cl[CondFailureComment-1].Satisfied)
}

func TestChecklist_EmptyIsIncomplete(t *testing.T) {
	assert.False(t, Checklist(nil).Complete())
}
