package annotation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arena/internal/domain"
)

// fakeGenerator returns canned responses. When gate is set, calls signal on
// started and block until gate yields a value.
type fakeGenerator struct {
	mu        sync.Mutex
	responses domain.TrackTexts
	nudge     string
	err       error
	nudgeErr  error

	gate    chan struct{}
	started chan struct{}

	genReqs   []GenerateRequest
	nudgeReqs []NudgeRequest
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		responses: domain.TrackTexts{A: "Hello", B: "Hi there"},
		nudge:     "Improved B",
	}
}

func (g *fakeGenerator) wait() {
	g.mu.Lock()
	gate, started := g.gate, g.started
	g.mu.Unlock()
	if gate == nil {
		return
	}
	started <- struct{}{}
	<-gate
}

func (g *fakeGenerator) Generate(_ context.Context, req GenerateRequest) (domain.TrackTexts, error) {
	g.wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.genReqs = append(g.genReqs, req)
	return g.responses, g.err
}

func (g *fakeGenerator) Nudge(_ context.Context, req NudgeRequest) (string, error) {
	g.wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nudgeReqs = append(g.nudgeReqs, req)
	return g.nudge, g.nudgeErr
}

func (g *fakeGenerator) block() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = make(chan struct{})
	g.started = make(chan struct{})
}

type mockPersister struct{ mock.Mock }

func (m *mockPersister) PersistConversation(ctx context.Context, sub domain.Submission) (domain.Receipt, error) {
	args := m.Called(ctx, sub)
	return args.Get(0).(domain.Receipt), args.Error(1)
}

func okEvaluation() domain.EvaluationRecord {
	return domain.EvaluationRecord{
		SelectedModel: domain.TrackB,
		Ratings:       domain.TrackRatings{A: domain.RatingOkay, B: domain.RatingOkay},
	}
}

func startedConversation(t *testing.T, gen Generator, opts ...Option) *Conversation {
	t.Helper()
	sp := "You are helpful"
	c := NewConversation("conv-1", append([]Option{WithGenerator(gen)}, opts...)...)
	require.NoError(t, c.Start(domain.ConfigurationPatch{SystemPrompt: &sp}))
	return c
}

// readyTurn drives the active turn to a state where it can be committed.
func readyTurn(t *testing.T, c *Conversation, prompt string) {
	t.Helper()
	require.NoError(t, c.SubmitUserPrompt(prompt))
	_, err := c.Generate(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.UpdateEvaluation(okEvaluation()))
}

func playTurn(t *testing.T, c *Conversation, prompt string) domain.Turn {
	t.Helper()
	readyTurn(t, c, prompt)
	turn, err := c.CommitTurn()
	require.NoError(t, err)
	return turn
}
