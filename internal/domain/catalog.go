package domain

// FailureModeEntry describes one failure mode for display.
type FailureModeEntry struct {
	ID          FailureMode `json:"id"`
	Description string      `json:"description"`
}

// IntentEntry lists an intent and its sub-categories, default first.
type IntentEntry struct {
	ID            Intent   `json:"id"`
	SubCategories []string `json:"sub_categories"`
}

// TrackEntry names a track and its strength label.
type TrackEntry struct {
	ID    Track  `json:"id"`
	Label string `json:"label"`
}

// Catalog is every enumerated choice an annotator can make.
type Catalog struct {
	FailureModes    []FailureModeEntry `json:"failure_modes"`
	Intents         []IntentEntry      `json:"intents"`
	Tracks          []TrackEntry       `json:"tracks"`
	Ratings         []Rating           `json:"ratings"`
	OverallFailures []OverallFailure   `json:"overall_failures"`
	Default         Configuration      `json:"default_configuration"`
}

// BuildCatalog assembles the catalog in display order.
func BuildCatalog() Catalog {
	c := Catalog{
		Ratings:         Ratings(),
		OverallFailures: OverallFailures(),
		Default:         DefaultConfiguration(),
	}
	for _, fm := range FailureModes() {
		c.FailureModes = append(c.FailureModes, FailureModeEntry{ID: fm, Description: fm.Description()})
	}
	for _, in := range Intents() {
		c.Intents = append(c.Intents, IntentEntry{ID: in, SubCategories: in.SubCategories()})
	}
	for _, t := range Tracks() {
		c.Tracks = append(c.Tracks, TrackEntry{ID: t, Label: t.Label()})
	}
	return c
}
