package annotation

import (
	"strings"

	"github.com/ahrav/go-arena/internal/domain"
)

// TurnState is the lifecycle position of the turn being played.
// Transitions: awaiting_user_prompt -> user_prompt_confirmed ->
// responses_generating -> responses_ready -> evaluating -> turn_complete.
type TurnState string

// TurnState values.
const (
	TurnAwaitingUserPrompt  TurnState = "awaiting_user_prompt"
	TurnUserPromptConfirmed TurnState = "user_prompt_confirmed"
	TurnResponsesGenerating TurnState = "responses_generating"
	TurnResponsesReady      TurnState = "responses_ready"
	TurnEvaluating          TurnState = "evaluating"
	TurnComplete            TurnState = "turn_complete"
)

// hasResponses reports whether s is at or past responses_ready.
func (s TurnState) hasResponses() bool {
	return s == TurnResponsesReady || s == TurnEvaluating || s == TurnComplete
}

// TurnController owns the uncommitted working state of the active turn. It
// never outlives its turn: the conversation replaces it on every commit and
// rewind.
//
// TurnController is not safe for concurrent use; Conversation serializes
// access to it.
type TurnController struct {
	index  int
	config domain.Configuration
	state  TurnState

	userPrompt string
	responses  domain.TrackTexts

	nudgePrompt   string
	nudgeResponse string
	nudging       bool

	evaluation domain.EvaluationRecord
}

// NewTurnController opens turn index under cfg.
func NewTurnController(index int, cfg domain.Configuration) *TurnController {
	return &TurnController{index: index, config: cfg, state: TurnAwaitingUserPrompt}
}

// Index returns the 1-based turn number.
func (t *TurnController) Index() int { return t.index }

// State returns the current lifecycle state.
func (t *TurnController) State() TurnState { return t.state }

// Configuration returns the configuration this turn is played under.
func (t *TurnController) Configuration() domain.Configuration { return t.config }

// Evaluation returns the working evaluation record.
func (t *TurnController) Evaluation() domain.EvaluationRecord { return t.evaluation }

// SetUserPrompt replaces the draft prompt. Any edit invalidates the
// confirmation; responses, nudge and evaluation produced for the old prompt
// are discarded. Edits are refused while a generation is outstanding.
func (t *TurnController) SetUserPrompt(text string) error {
	switch t.state {
	case TurnResponsesGenerating:
		return domain.ErrGenerationInFlight
	case TurnComplete:
		return domain.ErrWrongTurnState
	}
	if t.state.hasResponses() {
		t.responses = domain.TrackTexts{}
		t.nudgePrompt, t.nudgeResponse, t.nudging = "", "", false
		t.evaluation = domain.EvaluationRecord{}
	}
	t.userPrompt = text
	t.state = TurnAwaitingUserPrompt
	return nil
}

// ConfirmUserPrompt locks in the draft prompt.
func (t *TurnController) ConfirmUserPrompt() error {
	switch t.state {
	case TurnAwaitingUserPrompt:
	case TurnUserPromptConfirmed:
		return nil
	default:
		return domain.ErrWrongTurnState
	}
	if strings.TrimSpace(t.userPrompt) == "" {
		return domain.ErrEmptyUserPrompt
	}
	t.state = TurnUserPromptConfirmed
	return nil
}

// SubmitUserPrompt sets and confirms text in one step.
func (t *TurnController) SubmitUserPrompt(text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyUserPrompt
	}
	if err := t.SetUserPrompt(text); err != nil {
		return err
	}
	return t.ConfirmUserPrompt()
}

// BeginGeneration marks a generation in flight and returns the confirmed
// prompt. Only one generation may be outstanding.
func (t *TurnController) BeginGeneration() (string, error) {
	switch t.state {
	case TurnUserPromptConfirmed:
	case TurnResponsesGenerating:
		return "", domain.ErrGenerationInFlight
	default:
		return "", domain.ErrWrongTurnState
	}
	t.state = TurnResponsesGenerating
	return t.userPrompt, nil
}

// FinishGeneration stores both responses and opens the evaluation sub-flow.
func (t *TurnController) FinishGeneration(responses domain.TrackTexts) error {
	if t.state != TurnResponsesGenerating {
		return domain.ErrWrongTurnState
	}
	t.responses = responses
	t.state = TurnResponsesReady
	return nil
}

// FailGeneration clears responses and returns to user_prompt_confirmed so the
// annotator can retry.
func (t *TurnController) FailGeneration() {
	if t.state != TurnResponsesGenerating {
		return
	}
	t.responses = domain.TrackTexts{}
	t.state = TurnUserPromptConfirmed
}

// PendingExchanges returns the unconfirmed turn as it would appear in each
// track's history.
func (t *TurnController) PendingExchanges() (a, b domain.Exchange) {
	return domain.Exchange{UserPrompt: t.userPrompt, ModelResponse: t.responses.A},
		domain.Exchange{UserPrompt: t.userPrompt, ModelResponse: t.responses.B}
}

// BeginNudge marks a nudge in flight. Responses must exist.
func (t *TurnController) BeginNudge(text string) error {
	if !t.state.hasResponses() || t.state == TurnComplete {
		return domain.ErrWrongTurnState
	}
	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyNudgePrompt
	}
	if t.nudging {
		return domain.ErrNudgeInFlight
	}
	t.nudging = true
	t.nudgePrompt = text
	return nil
}

// FinishNudge records the track B nudge result. BetterResponse.B is seeded
// with it only if still empty; a value the annotator typed is kept.
func (t *TurnController) FinishNudge(response string) error {
	if !t.nudging {
		return domain.ErrWrongTurnState
	}
	t.nudging = false
	t.nudgeResponse = response
	if t.evaluation.BetterResponse.B == "" {
		t.evaluation.BetterResponse.B = response
	}
	return nil
}

// FailNudge clears the in-flight flag and leaves any earlier nudge result.
func (t *TurnController) FailNudge() { t.nudging = false }

// UpdateEvaluation replaces the working record. The first update after
// responses arrive moves the turn into evaluating.
func (t *TurnController) UpdateEvaluation(rec domain.EvaluationRecord) error {
	if t.state != TurnResponsesReady && t.state != TurnEvaluating {
		return domain.ErrWrongTurnState
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	t.evaluation = rec
	t.state = TurnEvaluating
	return nil
}

// Checklist evaluates the turn's completeness.
func (t *TurnController) Checklist() Checklist {
	return EvaluateChecklist(ChecklistInput{
		SystemPrompt: t.config.SystemPrompt,
		UserPrompt:   t.userPrompt,
		Confirmed:    t.state != TurnAwaitingUserPrompt,
		Responses:    t.responses,
		Evaluation:   t.evaluation,
	})
}

// Complete finalizes the turn into its committed form. It requires the
// evaluating state and a fully satisfied checklist.
func (t *TurnController) Complete() (domain.Turn, error) {
	if t.state != TurnEvaluating {
		if err := t.Checklist().Err(); err != nil {
			return domain.Turn{}, err
		}
		return domain.Turn{}, domain.ErrWrongTurnState
	}
	if err := t.Checklist().Err(); err != nil {
		return domain.Turn{}, err
	}

	a, b := t.PendingExchanges()
	t.state = TurnComplete
	return domain.Turn{
		Index:         t.index,
		A:             a,
		B:             b,
		Evaluation:    t.evaluation,
		Configuration: t.config,
	}, nil
}

// TurnView is a read-only projection of the active turn.
type TurnView struct {
	Index         int                     `json:"index"`
	State         TurnState               `json:"state"`
	UserPrompt    string                  `json:"user_prompt"`
	Confirmed     bool                    `json:"confirmed"`
	Responses     domain.TrackTexts       `json:"responses"`
	NudgePrompt   string                  `json:"nudge_prompt,omitempty"`
	NudgeResponse string                  `json:"nudge_response,omitempty"`
	Nudging       bool                    `json:"nudging"`
	Evaluation    domain.EvaluationRecord `json:"evaluation"`
	Configuration domain.Configuration    `json:"configuration"`
	Checklist     Checklist               `json:"checklist"`
}

// View returns a snapshot of the turn.
func (t *TurnController) View() TurnView {
	return TurnView{
		Index:         t.index,
		State:         t.state,
		UserPrompt:    t.userPrompt,
		Confirmed:     t.state != TurnAwaitingUserPrompt,
		Responses:     t.responses,
		NudgePrompt:   t.nudgePrompt,
		NudgeResponse: t.nudgeResponse,
		Nudging:       t.nudging,
		Evaluation:    t.evaluation,
		Configuration: t.config,
		Checklist:     t.Checklist(),
	}
}
