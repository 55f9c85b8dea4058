package annotation

import (
	"context"

	"github.com/ahrav/go-arena/internal/domain"
)

// GenerateRequest asks for one response per track to the current prompt.
// Histories hold committed turns only.
type GenerateRequest struct {
	SystemPrompt string
	UserPrompt   string
	HistoryA     []domain.Exchange
	HistoryB     []domain.Exchange
}

// NudgeRequest asks for an improved track B response. Histories include the
// pending, uncommitted turn as their last exchange.
type NudgeRequest struct {
	SystemPrompt string
	NudgePrompt  string
	HistoryA     []domain.Exchange
	HistoryB     []domain.Exchange
}

// Generator produces model responses. Implementations must be safe for
// concurrent use by multiple conversations.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (domain.TrackTexts, error)
	Nudge(ctx context.Context, req NudgeRequest) (string, error)
}

// Persister stores a finished conversation.
type Persister interface {
	PersistConversation(ctx context.Context, sub domain.Submission) (domain.Receipt, error)
}
