package annotation

import (
	"strings"

	"github.com/ahrav/go-arena/internal/domain"
)

// ConditionID numbers the checklist conditions in display order.
type ConditionID int

// Checklist conditions. Each is evaluated independently.
const (
	CondSystemPrompt ConditionID = iota + 1
	CondUserPrompt
	CondUserPromptConfirmed
	CondResponseA
	CondResponseB
	CondModelSelected
	CondFailureComment
	CondRatingA
	CondRatingB
)

var conditionLabels = map[ConditionID]string{
	CondSystemPrompt:        "System prompt is provided",
	CondUserPrompt:          "User prompt is provided",
	CondUserPromptConfirmed: "User prompt confirmed",
	CondResponseA:           "Model A response generated",
	CondResponseB:           "Model B response generated",
	CondModelSelected:       "Model selected to continue",
	CondFailureComment:      "Failure comment provided (if failures tagged)",
	CondRatingA:             "Rating for Model A selected",
	CondRatingB:             "Rating for Model B selected",
}

// Label returns the annotator-facing text for id.
func (id ConditionID) Label() string { return conditionLabels[id] }

// Condition is one named checklist entry.
type Condition struct {
	ID        ConditionID `json:"id"`
	Label     string      `json:"label"`
	Satisfied bool        `json:"satisfied"`
}

// ChecklistInput is the slice of turn state the checklist reads.
type ChecklistInput struct {
	SystemPrompt string
	UserPrompt   string
	Confirmed    bool
	Responses    domain.TrackTexts
	Evaluation   domain.EvaluationRecord
}

// Checklist is the ordered result of evaluating every condition.
type Checklist []Condition

// EvaluateChecklist computes all nine conditions for in. It is pure and
// recomputed on every call.
func EvaluateChecklist(in ChecklistInput) Checklist {
	ev := in.Evaluation
	results := []struct {
		id ConditionID
		ok bool
	}{
		{CondSystemPrompt, strings.TrimSpace(in.SystemPrompt) != ""},
		{CondUserPrompt, strings.TrimSpace(in.UserPrompt) != ""},
		{CondUserPromptConfirmed, in.Confirmed},
		{CondResponseA, in.Responses.A != ""},
		{CondResponseB, in.Responses.B != ""},
		{CondModelSelected, ev.SelectedModel.IsValid()},
		{CondFailureComment, ev.FailureExplained()},
		{CondRatingA, ev.Ratings.A.IsValid()},
		{CondRatingB, ev.Ratings.B.IsValid()},
	}

	out := make(Checklist, len(results))
	for i, r := range results {
		out[i] = Condition{ID: r.id, Label: r.id.Label(), Satisfied: r.ok}
	}
	return out
}

// Complete reports whether every condition holds.
func (c Checklist) Complete() bool {
	for _, cond := range c {
		if !cond.Satisfied {
			return false
		}
	}
	return len(c) > 0
}

// Unsatisfied returns the labels of failing conditions in order.
func (c Checklist) Unsatisfied() []string {
	var out []string
	for _, cond := range c {
		if !cond.Satisfied {
			out = append(out, cond.Label)
		}
	}
	return out
}

// Err returns a *domain.ChecklistError when any condition fails.
func (c Checklist) Err() error {
	if c.Complete() {
		return nil
	}
	return &domain.ChecklistError{Unsatisfied: c.Unsatisfied()}
}
