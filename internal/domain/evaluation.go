// Package domain provides the core types of the A/B annotation workflow:
// per-turn evaluation records, the scenario configuration catalog, committed
// turns, and the final submission. The types are plain data with validity
// predicates; the state machine that advances them lives in internal/annotation.
package domain

// Track identifies one of the two parallel model response streams.
type Track string

// Track values.
const (
	// TrackA is the baseline ("weak") model stream.
	TrackA Track = "A"

	// TrackB is the candidate ("strong") model stream. Nudges only surface
	// results for this track.
	TrackB Track = "B"
)

// Tracks returns both tracks in display order.
func Tracks() []Track { return []Track{TrackA, TrackB} }

// IsValid reports whether t is A or B.
func (t Track) IsValid() bool { return t == TrackA || t == TrackB }

// Label returns the strength label used in transcripts.
func (t Track) Label() string {
	switch t {
	case TrackA:
		return "weak"
	case TrackB:
		return "strong"
	default:
		return ""
	}
}

// Rating is an ordered five-level quality judgment of a single response.
type Rating string

// Rating values, worst to best.
const (
	RatingHorrible   Rating = "Horrible"
	RatingPrettyBad  Rating = "Pretty Bad"
	RatingOkay       Rating = "Okay"
	RatingPrettyGood Rating = "Pretty Good"
	RatingExcellent  Rating = "Excellent"
)

var ratingOrder = []Rating{RatingHorrible, RatingPrettyBad, RatingOkay, RatingPrettyGood, RatingExcellent}

// Ratings returns all rating levels, worst first.
func Ratings() []Rating { return append([]Rating(nil), ratingOrder...) }

// Rank returns 1 (Horrible) through 5 (Excellent), or 0 for an unknown or
// unset rating.
func (r Rating) Rank() int {
	for i, v := range ratingOrder {
		if v == r {
			return i + 1
		}
	}
	return 0
}

// IsValid reports whether r is one of the five levels.
func (r Rating) IsValid() bool { return r.Rank() > 0 }

// TrackFlags holds one boolean per track.
type TrackFlags struct {
	A bool `json:"A"`
	B bool `json:"B"`
}

// Get returns the flag for t.
func (f TrackFlags) Get(t Track) bool {
	if t == TrackB {
		return f.B
	}
	return f.A
}

// TrackRatings holds one rating per track; empty means not yet chosen.
type TrackRatings struct {
	A Rating `json:"A" validate:"omitempty,rating"`
	B Rating `json:"B" validate:"omitempty,rating"`
}

// Get returns the rating for t.
func (r TrackRatings) Get(t Track) Rating {
	if t == TrackB {
		return r.B
	}
	return r.A
}

// TrackTexts holds one string per track. It carries both generated responses
// and suggested better responses.
type TrackTexts struct {
	A string `json:"A"`
	B string `json:"B"`
}

// Get returns the text for t.
func (x TrackTexts) Get(t Track) string {
	if t == TrackB {
		return x.B
	}
	return x.A
}

// EvaluationRecord is one turn's judgment by the annotator.
//
// A record is data only. Whether it is complete enough to commit (a model
// selected, both ratings chosen, a comment whenever a failure is tagged) is
// decided by the turn checklist, not at construction.
type EvaluationRecord struct {
	// SelectedModel is the track chosen to continue the conversation;
	// empty while undecided.
	SelectedModel Track `json:"selected_model" validate:"omitempty,track"`

	// Failed tags a track's response as a failure of the scenario's mode.
	Failed TrackFlags `json:"failed"`

	// Comment explains tagged failures.
	Comment string `json:"comment"`

	Ratings TrackRatings `json:"ratings"`

	// BetterResponse holds annotator-suggested improvements per track. B may
	// be seeded once from a nudge result.
	BetterResponse TrackTexts `json:"better_response"`
}

// HasFailure reports whether either track is tagged as failed.
func (e EvaluationRecord) HasFailure() bool { return e.Failed.A || e.Failed.B }

// FailureExplained reports whether the comment requirement is met: true when
// nothing is tagged, or when something is tagged and the comment is not blank.
func (e EvaluationRecord) FailureExplained() bool {
	return !e.HasFailure() || !isBlank(e.Comment)
}

// Validate checks enum membership only. It accepts incomplete records.
func (e EvaluationRecord) Validate() error {
	return validationError(ErrInvalidEvaluation, validate.Struct(e))
}
