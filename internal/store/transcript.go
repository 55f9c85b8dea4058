package store

import (
	"fmt"
	"strings"

	"github.com/ahrav/go-arena/internal/domain"
)

// FormatTranscript renders every committed turn with both responses and its
// evaluation as plain text. Turns are separated by a blank line.
func FormatTranscript(turns []domain.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		writeTurn(&b, t)
	}
	return b.String()
}

func writeTurn(b *strings.Builder, t domain.Turn) {
	ev := t.Evaluation

	fmt.Fprintf(b, "--- Turn %d ---\n", t.Index)
	fmt.Fprintf(b, "User: %s\n", orNA(t.A.UserPrompt))
	for _, track := range domain.Tracks() {
		fmt.Fprintf(b, "Model %s (%s): %s\n", track, track.Label(), orNA(t.Exchange(track).ModelResponse))
	}

	fmt.Fprintf(b, "[Evaluation for Turn %d]\n", t.Index)
	fmt.Fprintf(b, "  Selected Model: %s\n", orNA(string(ev.SelectedModel)))
	for _, track := range domain.Tracks() {
		fmt.Fprintf(b, "  Model %s Rating: %s\n", track, orNA(string(ev.Ratings.Get(track))))
	}
	for _, track := range domain.Tracks() {
		fmt.Fprintf(b, "  Model %s Failed: %t\n", track, ev.Failed.Get(track))
	}
	fmt.Fprintf(b, "  Failure Comment: %s\n", orNA(ev.Comment))
	for _, track := range domain.Tracks() {
		fmt.Fprintf(b, "  Better Response %s: %s\n", track, orNA(ev.BetterResponse.Get(track)))
	}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvailable
	}
	return s
}
