// Package store persists submitted conversations. Every backend implements
// Store; Save must be idempotent per conversation id because the Temporal
// activity that calls it may run more than once.
package store

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/ahrav/go-arena/internal/domain"
)

// ErrClosed is returned by Save after Close.
var ErrClosed = errors.New("store closed")

// Store saves a finished conversation.
type Store interface {
	// Name identifies the backend in receipts and logs.
	Name() string
	// Save writes sub. Saving a conversation id that already exists is a
	// successful no-op.
	Save(ctx context.Context, sub domain.Submission) error
}

// notAvailable renders empty summary fields.
const notAvailable = "N/A"

// FailureComments lists "Turn N: comment" for each turn with a tagged
// failure and a non-blank comment, joined by "; ", or "N/A".
func FailureComments(sub domain.Submission) string {
	var parts []string
	for _, t := range sub.Turns {
		if !t.Evaluation.HasFailure() {
			continue
		}
		if c := strings.TrimSpace(t.Evaluation.Comment); c != "" {
			parts = append(parts, "Turn "+strconv.Itoa(t.Index)+": "+c)
		}
	}
	if len(parts) == 0 {
		return notAvailable
	}
	return strings.Join(parts, "; ")
}

// FailureTurns lists the turn numbers with any failure tagged, joined by
// ", ", or "N/A".
func FailureTurns(sub domain.Submission) string {
	failed := sub.FailedTurns()
	if len(failed) == 0 {
		return notAvailable
	}
	parts := make([]string, len(failed))
	for i, n := range failed {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
