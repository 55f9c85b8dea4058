package domain

// Exchange is one user prompt and the response a single track gave to it.
type Exchange struct {
	UserPrompt    string `json:"user_prompt"`
	ModelResponse string `json:"model_response"`
}

// Turn is a committed round of the conversation. Both tracks' exchanges and
// the evaluation live in one record so the per-track histories and the
// evaluation list can never differ in length.
type Turn struct {
	// Index is the 1-based turn number.
	Index int `json:"index"`

	A Exchange `json:"A"`
	B Exchange `json:"B"`

	Evaluation EvaluationRecord `json:"evaluation"`

	// Configuration is the scenario configuration in effect when the turn
	// was played. Mid-conversation edits only affect later turns.
	Configuration Configuration `json:"configuration"`
}

// Exchange returns the exchange for track t.
func (t Turn) Exchange(track Track) Exchange {
	if track == TrackB {
		return t.B
	}
	return t.A
}

// History projects the committed turns onto one track.
func History(turns []Turn, track Track) []Exchange {
	out := make([]Exchange, len(turns))
	for i, t := range turns {
		out[i] = t.Exchange(track)
	}
	return out
}

// Evaluations projects the committed turns onto their evaluation records.
func Evaluations(turns []Turn) []EvaluationRecord {
	out := make([]EvaluationRecord, len(turns))
	for i, t := range turns {
		out[i] = t.Evaluation
	}
	return out
}
