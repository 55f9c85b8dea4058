package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arena/internal/annotation"
	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/pkg/events"
)

type mockGenerator struct{ mock.Mock }

func (m *mockGenerator) Generate(ctx context.Context, req annotation.GenerateRequest) (domain.TrackTexts, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.TrackTexts), args.Error(1)
}

func (m *mockGenerator) Nudge(ctx context.Context, req annotation.NudgeRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type mockPersister struct{ mock.Mock }

func (m *mockPersister) PersistConversation(ctx context.Context, sub domain.Submission) (domain.Receipt, error) {
	args := m.Called(ctx, sub)
	return args.Get(0).(domain.Receipt), args.Error(1)
}

type captureSink struct {
	mu  sync.Mutex
	got []events.Envelope
	err error
}

func (s *captureSink) Append(_ context.Context, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, env)
	return s.err
}

func (s *captureSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.got))
	for i, e := range s.got {
		out[i] = e.Type
	}
	return out
}

type countingRecorder struct {
	mu        sync.Mutex
	started   int
	active    int
	committed int
	rewound   int
	amended   int
	calls     map[string]int
	submitted map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{calls: map[string]int{}, submitted: map[string]int{}}
}

func (r *countingRecorder) ConversationStarted()         { r.mu.Lock(); r.started++; r.mu.Unlock() }
func (r *countingRecorder) SetActiveConversations(n int) { r.mu.Lock(); r.active = n; r.mu.Unlock() }
func (r *countingRecorder) TurnCommitted()               { r.mu.Lock(); r.committed++; r.mu.Unlock() }
func (r *countingRecorder) Rewound()                     { r.mu.Lock(); r.rewound++; r.mu.Unlock() }
func (r *countingRecorder) EvaluationAmended()           { r.mu.Lock(); r.amended++; r.mu.Unlock() }
func (r *countingRecorder) Submission(outcome string) {
	r.mu.Lock()
	r.submitted[outcome]++
	r.mu.Unlock()
}

func (r *countingRecorder) CollaboratorCall(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	r.calls[op+"/"+outcome]++
	r.mu.Unlock()
}

type fixture struct {
	svc       *Service
	gen       *mockGenerator
	persister *mockPersister
	sink      *captureSink
	rec       *countingRecorder
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	f := fixture{
		gen:       &mockGenerator{},
		persister: &mockPersister{},
		sink:      &captureSink{},
		rec:       newCountingRecorder(),
	}
	base := []Option{
		WithGenerator(f.gen),
		WithPersister(f.persister),
		WithEventSink(f.sink),
		WithRecorder(f.rec),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMaxTurns(2),
	}
	f.svc = NewService(append(base, opts...)...)
	return f
}

func systemPrompt(s string) domain.ConfigurationPatch {
	return domain.ConfigurationPatch{SystemPrompt: &s}
}

func okEvaluation() domain.EvaluationRecord {
	return domain.EvaluationRecord{
		SelectedModel: domain.TrackB,
		Ratings:       domain.TrackRatings{A: domain.RatingOkay, B: domain.RatingExcellent},
	}
}

func (f fixture) playTurn(t *testing.T, id, prompt string) (domain.Turn, annotation.Snapshot) {
	t.Helper()
	_, err := f.svc.ConfirmPrompt(id, &prompt)
	require.NoError(t, err)
	_, err = f.svc.Generate(context.Background(), id)
	require.NoError(t, err)
	_, err = f.svc.UpdateEvaluation(id, okEvaluation())
	require.NoError(t, err)
	turn, snap, err := f.svc.Commit(context.Background(), id)
	require.NoError(t, err)
	return turn, snap
}

func TestServiceFullConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.On("Generate", mock.Anything, mock.Anything).Return(domain.TrackTexts{A: "weak", B: "strong"}, nil)

	snap, err := f.svc.Create(ctx, domain.ConfigurationPatch{})
	require.NoError(t, err)
	id := snap.ID
	assert.Equal(t, annotation.PhaseConfiguring, snap.Phase)
	assert.Equal(t, 1, f.svc.Len())
	assert.Equal(t, 1, f.rec.active)

	snap, err = f.svc.Start(ctx, id, systemPrompt("Be concise."))
	require.NoError(t, err)
	assert.Equal(t, annotation.PhaseTurnInProgress, snap.Phase)

	first, _ := f.playTurn(t, id, "What is Go?")
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, "strong", first.B.ModelResponse)

	_, snap = f.playTurn(t, id, "And channels?")
	assert.Equal(t, annotation.PhaseCompleted, snap.Phase)
	assert.Len(t, snap.Turns, 2)

	receipt := domain.Receipt{ConversationID: id, Stores: []string{"csv"}}
	f.persister.On("PersistConversation", mock.Anything, mock.MatchedBy(func(sub domain.Submission) bool {
		return sub.ConversationID == id && len(sub.Turns) == 2 && sub.OverallFailure == domain.OverallFailureNone
	})).Return(receipt, nil).Once()

	got, err := f.svc.Submit(ctx, id, domain.OverallFailureNone)
	require.NoError(t, err)
	assert.Equal(t, receipt, got)

	_, err = f.svc.Submit(ctx, id, domain.OverallFailureNone)
	assert.ErrorIs(t, err, domain.ErrAlreadySubmitted)

	assert.Equal(t, []string{
		events.TypeConversationStarted,
		events.TypeTurnCommitted,
		events.TypeTurnCommitted,
		events.TypeConversationCompleted,
	}, f.sink.types())
	for _, env := range f.sink.got {
		assert.Equal(t, id, env.ConversationID)
		assert.Equal(t, EventSource, env.Source)
	}
	assert.JSONEq(t, `{"turns":2,"ended_early":false}`, string(f.sink.got[3].Payload))

	assert.Equal(t, 1, f.rec.started)
	assert.Equal(t, 2, f.rec.committed)
	assert.Equal(t, 2, f.rec.calls["generate/success"])
	assert.Equal(t, 1, f.rec.submitted["success"])
	f.persister.AssertExpectations(t)
}

func TestServiceUnknownConversation(t *testing.T) {
	svc := NewService()
	_, err := svc.Get("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Generate(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = svc.Commit(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestServiceCreateRejectsInvalidConfiguration(t *testing.T) {
	f := newFixture(t)
	bad := domain.FailureMode("unknown")
	_, err := f.svc.Create(context.Background(), domain.ConfigurationPatch{FailureMode: &bad})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, f.svc.Len())
}

func TestServiceGenerateFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.On("Generate", mock.Anything, mock.Anything).Return(domain.TrackTexts{}, errors.New("upstream 500")).Once()

	snap, err := f.svc.Create(ctx, domain.ConfigurationPatch{})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, snap.ID, systemPrompt("sys"))
	require.NoError(t, err)

	// Nothing confirmed yet: refused before any model call.
	_, err = f.svc.Generate(ctx, snap.ID)
	assert.ErrorIs(t, err, domain.ErrWrongTurnState)
	assert.Empty(t, f.rec.calls)

	prompt := "hi"
	_, err = f.svc.ConfirmPrompt(snap.ID, &prompt)
	require.NoError(t, err)
	_, err = f.svc.Generate(ctx, snap.ID)
	assert.ErrorIs(t, err, domain.ErrCollaborator)
	assert.Equal(t, 1, f.rec.calls["generate/error"])

	view, err := f.svc.SetPrompt(snap.ID, "hi again")
	require.NoError(t, err)
	assert.Equal(t, annotation.TurnAwaitingUserPrompt, view.State)
}

func TestServiceNudge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.On("Generate", mock.Anything, mock.Anything).Return(domain.TrackTexts{A: "a", B: "b"}, nil)
	f.gen.On("Nudge", mock.Anything, mock.MatchedBy(func(r annotation.NudgeRequest) bool {
		return r.NudgePrompt == "be warmer"
	})).Return("warmer b", nil).Once()

	snap, err := f.svc.Create(ctx, domain.ConfigurationPatch{})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, snap.ID, systemPrompt("sys"))
	require.NoError(t, err)
	prompt := "hi"
	_, err = f.svc.ConfirmPrompt(snap.ID, &prompt)
	require.NoError(t, err)
	_, err = f.svc.Generate(ctx, snap.ID)
	require.NoError(t, err)

	out, err := f.svc.Nudge(ctx, snap.ID, "be warmer")
	require.NoError(t, err)
	assert.Equal(t, "warmer b", out)
	assert.Equal(t, 1, f.rec.calls["nudge/success"])

	got, err := f.svc.Get(snap.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Active)
	assert.Equal(t, "warmer b", got.Active.Evaluation.BetterResponse.B)
}

func TestServiceChecklist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap, err := f.svc.Create(ctx, domain.ConfigurationPatch{})
	require.NoError(t, err)

	_, err = f.svc.Checklist(snap.ID)
	assert.ErrorIs(t, err, domain.ErrWrongPhase)

	_, err = f.svc.Start(ctx, snap.ID, systemPrompt("sys"))
	require.NoError(t, err)
	list, err := f.svc.Checklist(snap.ID)
	require.NoError(t, err)
	assert.Len(t, list, 9)
	assert.False(t, list.Complete())

	_, _, err = f.svc.Commit(ctx, snap.ID)
	var cerr *domain.ChecklistError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Unsatisfied, "User prompt is provided")
	assert.Zero(t, f.rec.committed)
}

func TestServiceRewindAndAmend(t *testing.T) {
	f := newFixture(t, WithMaxTurns(3))
	ctx := context.Background()
	f.gen.On("Generate", mock.Anything, mock.Anything).Return(domain.TrackTexts{A: "a", B: "b"}, nil)

	snap, err := f.svc.Create(ctx, domain.ConfigurationPatch{})
	require.NoError(t, err)
	id := snap.ID
	_, err = f.svc.Start(ctx, id, systemPrompt("sys"))
	require.NoError(t, err)
	f.playTurn(t, id, "one")
	f.playTurn(t, id, "two")

	lo, hi, err := f.svc.RewindBounds(id)
	require.NoError(t, err)
	assert.Equal(t, 1, lo)
	assert.Equal(t, 3, hi)

	amended := okEvaluation()
	amended.Failed.A = true
	amended.Comment = "A ignored the context"
	turn, err := f.svc.AmendEvaluation(ctx, id, 1, amended)
	require.NoError(t, err)
	assert.Equal(t, amended, turn.Evaluation)
	assert.Equal(t, 1, f.rec.amended)

	_, err = f.svc.AmendEvaluation(ctx, id, 3, amended)
	assert.ErrorIs(t, err, domain.ErrTurnOutOfRange)

	snap, err = f.svc.Rewind(ctx, id, 2)
	require.NoError(t, err)
	assert.Len(t, snap.Turns, 1)
	assert.Equal(t, 2, snap.CurrentTurn)
	assert.Equal(t, 1, f.rec.rewound)

	viewed, err := f.svc.ViewTurn(id, 1)
	require.NoError(t, err)
	assert.True(t, viewed.Evaluation.Failed.A)
	_, err = f.svc.ViewTurn(id, 2)
	assert.ErrorIs(t, err, domain.ErrTurnOutOfRange)

	types := f.sink.types()
	require.GreaterOrEqual(t, len(types), 2)
	assert.Equal(t, events.TypeEvaluationAmended, types[len(types)-2])
	assert.Equal(t, events.TypeConversationRewound, types[len(types)-1])
	assert.JSONEq(t, `{"target":2,"discarded":1}`, string(f.sink.got[len(f.sink.got)-1].Payload))
}

func TestServiceEndEarly(t *testing.T) {
	f := newFixture(t, WithMaxTurns(5))
	ctx := context.Background()
	f.gen.On("Generate", mock.Anything, mock.Anything).Return(domain.TrackTexts{A: "a", B: "b"}, nil)

	snap, err := f.svc.Create(ctx, domain.ConfigurationPatch{})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, snap.ID, systemPrompt("sys"))
	require.NoError(t, err)

	prompt := "only turn"
	_, err = f.svc.ConfirmPrompt(snap.ID, &prompt)
	require.NoError(t, err)
	_, err = f.svc.Generate(ctx, snap.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateEvaluation(snap.ID, okEvaluation())
	require.NoError(t, err)

	_, got, err := f.svc.EndEarly(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, annotation.PhaseCompleted, got.Phase)
	assert.JSONEq(t, `{"turns":1,"ended_early":true}`, string(f.sink.got[len(f.sink.got)-1].Payload))
}

func TestServiceSubmitFailureIsRetryable(t *testing.T) {
	f := newFixture(t, WithMaxTurns(1))
	ctx := context.Background()
	f.gen.On("Generate", mock.Anything, mock.Anything).Return(domain.TrackTexts{A: "a", B: "b"}, nil)

	snap, err := f.svc.Create(ctx, domain.ConfigurationPatch{})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, snap.ID, systemPrompt("sys"))
	require.NoError(t, err)
	f.playTurn(t, snap.ID, "q")

	f.persister.On("PersistConversation", mock.Anything, mock.Anything).
		Return(domain.Receipt{}, errors.New("temporal unavailable")).Once()
	f.persister.On("PersistConversation", mock.Anything, mock.Anything).
		Return(domain.Receipt{ConversationID: snap.ID}, nil).Once()

	_, err = f.svc.Submit(ctx, snap.ID, domain.OverallFailureSevere)
	assert.ErrorIs(t, err, domain.ErrCollaborator)
	assert.Equal(t, 1, f.rec.submitted["error"])

	_, err = f.svc.Submit(ctx, snap.ID, "catastrophic")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Submit(ctx, snap.ID, domain.OverallFailureSevere)
	require.NoError(t, err)
	assert.Equal(t, 1, f.rec.submitted["success"])
}

func TestServiceConfigureMidConversationIsStaged(t *testing.T) {
	f := newFixture(t, WithMaxTurns(3))
	ctx := context.Background()
	f.gen.On("Generate", mock.Anything, mock.Anything).Return(domain.TrackTexts{A: "a", B: "b"}, nil)

	snap, err := f.svc.Create(ctx, domain.ConfigurationPatch{})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, snap.ID, systemPrompt("sys"))
	require.NoError(t, err)

	intent := domain.IntentCoding
	_, err = f.svc.Configure(ctx, snap.ID, domain.ConfigurationPatch{Intent: &intent})
	require.NoError(t, err)

	first, _ := f.playTurn(t, snap.ID, "q1")
	assert.Equal(t, domain.IntentInformational, first.Configuration.Intent)
	second, _ := f.playTurn(t, snap.ID, "q2")
	assert.Equal(t, domain.IntentCoding, second.Configuration.Intent)
}

func TestServiceSinkFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("nats down")
	ctx := context.Background()

	snap, err := f.svc.Create(ctx, domain.ConfigurationPatch{})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, snap.ID, systemPrompt("sys"))
	require.NoError(t, err)
	assert.Len(t, f.sink.got, 1)
}

func TestServiceEvictIdle(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := newFixture(t, WithIdleTTL(time.Hour), WithClock(clock))
	ctx := context.Background()

	stale, err := f.svc.Create(ctx, domain.ConfigurationPatch{})
	require.NoError(t, err)
	now = now.Add(45 * time.Minute)
	fresh, err := f.svc.Create(ctx, domain.ConfigurationPatch{})
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	assert.Equal(t, 1, f.svc.EvictIdle(ctx))
	assert.Equal(t, 1, f.rec.active)

	_, err = f.svc.Get(stale.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestServiceEvictIdleDisabled(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), domain.ConfigurationPatch{})
	require.NoError(t, err)
	assert.Zero(t, f.svc.EvictIdle(context.Background()))
	assert.Equal(t, 1, f.svc.Len())
}

func TestServiceRunJanitor(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, WithIdleTTL(time.Minute))
		ctx, cancel := context.WithCancel(context.Background())

		_, err := f.svc.Create(ctx, domain.ConfigurationPatch{})
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			f.svc.RunJanitor(ctx, 30*time.Second)
			close(done)
		}()

		time.Sleep(45 * time.Second)
		synctest.Wait()
		assert.Equal(t, 1, f.svc.Len())

		time.Sleep(45 * time.Second)
		synctest.Wait()
		assert.Zero(t, f.svc.Len())

		cancel()
		<-done
	})
}
