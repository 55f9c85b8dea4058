package submission

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/store"
	"github.com/ahrav/go-arena/internal/workflow"
	"github.com/ahrav/go-arena/pkg/activity"
	"github.com/ahrav/go-arena/pkg/events"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) Name() string { return m.Called().String(0) }

func (m *mockStore) Save(ctx context.Context, sub domain.Submission) error {
	return m.Called(ctx, sub).Error(0)
}

type captureSink struct {
	mu  sync.Mutex
	got []events.Envelope
}

func (s *captureSink) Append(_ context.Context, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, env)
	return nil
}

func validSubmission() domain.Submission {
	cfg := domain.DefaultConfiguration()
	cfg.SystemPrompt = "be brief"
	return domain.Submission{
		ConversationID: "3f2c3c0e-1f7e-4d9b-a1a4-5e0b6c7d8e9f",
		Configuration:  cfg,
		OverallFailure: domain.OverallFailureMinor,
		SubmittedAt:    time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
		Turns: []domain.Turn{{
			Index:         1,
			A:             domain.Exchange{UserPrompt: "q", ModelResponse: "a"},
			B:             domain.Exchange{UserPrompt: "q", ModelResponse: "b"},
			Configuration: cfg,
			Evaluation: domain.EvaluationRecord{
				SelectedModel: domain.TrackA,
				Failed:        domain.TrackFlags{B: true},
				Comment:       "B drifted",
				Ratings:       domain.TrackRatings{A: domain.RatingOkay, B: domain.RatingPrettyBad},
			},
		}},
	}
}

func mustField(t *testing.T, payload json.RawMessage, field string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &m))
	return m[field]
}

func TestPersistConversation_SavesToEveryStoreAndEmits(t *testing.T) {
	dir := t.TempDir()
	csvStore, err := store.NewCSVStore(filepath.Join(dir, "log.csv"))
	require.NoError(t, err)
	sqlStore, err := store.NewSQLiteStore(filepath.Join(dir, "arena.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	sink := &captureSink{}
	acts := NewPersistActivities(activity.NewBaseActivities(sink), csvStore, sqlStore)
	fixed := time.Date(2026, 5, 6, 8, 0, 0, 0, time.UTC)
	acts.now = func() time.Time { return fixed }

	sub := validSubmission()
	receipt, err := acts.PersistConversation(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, sub.ConversationID, receipt.ConversationID)
	assert.Equal(t, fixed, receipt.PersistedAt)
	assert.Equal(t, []string{"csv", "sqlite"}, receipt.Stores)

	rows, err := csvStore.ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	n, err := sqlStore.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, sink.got, 1)
	assert.Equal(t, events.TypeConversationSubmitted, sink.got[0].Type)
	assert.Equal(t, SubmittedIdempotencyKey(sub.ConversationID), sink.got[0].IdempotencyKey)
	assert.JSONEq(t, `[1]`, string(mustField(t, sink.got[0].Payload, "failed_turns")))
}

func TestPersistConversation_InvalidIsNonRetryable(t *testing.T) {
	st := &mockStore{}
	acts := NewPersistActivities(activity.NewBaseActivities(nil), st)

	sub := validSubmission()
	sub.OverallFailure = "unknown"
	_, err := acts.PersistConversation(context.Background(), sub)

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable())
	assert.ErrorIs(t, err, domain.ErrValidation)
	st.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestPersistConversation_StoreFailureIsRetryable(t *testing.T) {
	first := &mockStore{}
	first.On("Name").Return("first")
	first.On("Save", mock.Anything, mock.Anything).Return(nil)
	second := &mockStore{}
	second.On("Name").Return("second")
	second.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	second.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

	sink := &captureSink{}
	acts := NewPersistActivities(activity.NewBaseActivities(sink), first, second)
	sub := validSubmission()

	_, err := acts.PersistConversation(context.Background(), sub)
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.False(t, appErr.NonRetryable())
	assert.Equal(t, ErrTypeStore, appErr.Type())
	assert.Empty(t, sink.got)

	receipt, err := acts.PersistConversation(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, receipt.Stores)
	first.AssertNumberOfCalls(t, "Save", 2)
	second.AssertExpectations(t)
}

func TestPersistConversation_NoStores(t *testing.T) {
	acts := NewPersistActivities(activity.NewBaseActivities(nil))
	_, err := acts.PersistConversation(context.Background(), validSubmission())

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable())
}

func TestPersistConversation_InActivityEnvironment(t *testing.T) {
	st := &mockStore{}
	st.On("Name").Return("mem")
	st.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	acts := NewPersistActivities(activity.NewBaseActivities(nil), st)
	env.RegisterActivity(acts.PersistConversation)

	val, err := env.ExecuteActivity(acts.PersistConversation, validSubmission())
	require.NoError(t, err)

	var receipt domain.Receipt
	require.NoError(t, val.Get(&receipt))
	assert.Equal(t, []string{"mem"}, receipt.Stores)
	st.AssertExpectations(t)
}

func TestDirectPersister(t *testing.T) {
	st := &mockStore{}
	st.On("Name").Return("mem")
	st.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

	p := NewDirectPersister(NewPersistActivities(activity.NewBaseActivities(nil), st))
	receipt, err := p.PersistConversation(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.Equal(t, "3f2c3c0e-1f7e-4d9b-a1a4-5e0b6c7d8e9f", receipt.ConversationID)
}

func TestTemporalPersister_StartsWorkflowWithConversationID(t *testing.T) {
	sub := validSubmission()
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}

	c.On("ExecuteWorkflow", mock.Anything,
		mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
			return o.ID == workflow.WorkflowID(sub.ConversationID) &&
				o.TaskQueue == "q" &&
				o.WorkflowExecutionErrorWhenAlreadyStarted
		}),
		workflow.SubmissionWorkflowName, sub,
	).Return(run, nil).Once()
	run.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(1).(*domain.Receipt) = domain.Receipt{ConversationID: sub.ConversationID, Stores: []string{"csv"}}
	}).Return(nil).Once()
	run.On("GetRunID").Return("run-1")

	p := NewTemporalPersister(c, "q", nil)
	receipt, err := p.PersistConversation(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, []string{"csv"}, receipt.Stores)
	c.AssertExpectations(t)
	run.AssertExpectations(t)
}

func TestTemporalPersister_AlreadyStartedAwaitsExistingRun(t *testing.T) {
	sub := validSubmission()
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	id := workflow.WorkflowID(sub.ConversationID)

	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("exists", "", "run-0")).Once()
	c.On("GetWorkflow", mock.Anything, id, "").Return(run).Once()
	run.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(1).(*domain.Receipt) = domain.Receipt{ConversationID: sub.ConversationID}
	}).Return(nil).Once()
	run.On("GetRunID").Return("run-0")

	receipt, err := NewTemporalPersister(c, "", nil).PersistConversation(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, sub.ConversationID, receipt.ConversationID)
	c.AssertExpectations(t)
}

func TestTemporalPersister_WorkflowFailure(t *testing.T) {
	sub := validSubmission()
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}

	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(run, nil).Once()
	run.On("Get", mock.Anything, mock.Anything).Return(errors.New("activity failed")).Once()

	_, err := NewTemporalPersister(c, "", nil).PersistConversation(context.Background(), sub)
	assert.ErrorContains(t, err, "activity failed")
}

func TestTemporalPersister_StartFailure(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("frontend unavailable")).Once()

	_, err := NewTemporalPersister(c, "", nil).PersistConversation(context.Background(), validSubmission())
	assert.ErrorContains(t, err, "start submission workflow")
}
