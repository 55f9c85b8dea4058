// Package session keeps live annotation conversations in memory and runs
// every workflow operation against them. Each operation resolves the
// conversation by id, applies the change, and then records metrics, logs and
// emits an event describing what happened.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-arena/internal/annotation"
	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/pkg/events"
)

// EventSource names this package in emitted envelopes.
const EventSource = "session"

// Outcome labels passed to the Recorder.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeStale   = "stale"
)

// Recorder receives workflow measurements. *metrics.Metrics implements it.
type Recorder interface {
	ConversationStarted()
	SetActiveConversations(n int)
	TurnCommitted()
	Rewound()
	EvaluationAmended()
	CollaboratorCall(operation, outcome string, elapsed time.Duration)
	Submission(outcome string)
}

// NoOpRecorder discards measurements.
type NoOpRecorder struct{}

func (NoOpRecorder) ConversationStarted()                           {}
func (NoOpRecorder) SetActiveConversations(int)                     {}
func (NoOpRecorder) TurnCommitted()                                 {}
func (NoOpRecorder) Rewound()                                       {}
func (NoOpRecorder) EvaluationAmended()                             {}
func (NoOpRecorder) CollaboratorCall(string, string, time.Duration) {}
func (NoOpRecorder) Submission(string)                              {}

type entry struct {
	conv    *annotation.Conversation
	touched time.Time
}

// Service is the registry of live conversations. It is safe for concurrent
// use; each conversation serializes its own mutations.
type Service struct {
	mu    sync.RWMutex
	convs map[string]*entry

	generator annotation.Generator
	persister annotation.Persister
	sink      events.EventSink
	recorder  Recorder
	logger    *slog.Logger
	maxTurns  int
	idleTTL   time.Duration
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithGenerator sets the model collaborator given to new conversations.
func WithGenerator(g annotation.Generator) Option { return func(s *Service) { s.generator = g } }

// WithPersister sets the submission collaborator given to new conversations.
func WithPersister(p annotation.Persister) Option { return func(s *Service) { s.persister = p } }

// WithEventSink sets where lifecycle events go.
func WithEventSink(sink events.EventSink) Option { return func(s *Service) { s.sink = sink } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMaxTurns bounds new conversations.
func WithMaxTurns(n int) Option { return func(s *Service) { s.maxTurns = n } }

// WithIdleTTL sets how long an untouched conversation is kept. Zero keeps
// conversations until the process exits.
func WithIdleTTL(d time.Duration) Option { return func(s *Service) { s.idleTTL = d } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService returns an empty registry.
func NewService(opts ...Option) *Service {
	s := &Service{
		convs:    make(map[string]*entry),
		sink:     events.NewNoOpEventSink(),
		recorder: NoOpRecorder{},
		maxTurns: annotation.DefaultMaxTurns,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "session")
	}
	if s.sink == nil {
		s.sink = events.NewNoOpEventSink()
	}
	return s
}

// Len returns the number of live conversations.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

func (s *Service) lookup(id string) (*annotation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.convs[id]
	if !ok {
		return nil, domain.ErrConversationUnknown
	}
	e.touched = s.now()
	return e.conv, nil
}

// Create registers a new conversation in the configuring phase with p
// applied over the default configuration.
func (s *Service) Create(ctx context.Context, p domain.ConfigurationPatch) (annotation.Snapshot, error) {
	id := s.newID()
	conv := annotation.NewConversation(id,
		annotation.WithMaxTurns(s.maxTurns),
		annotation.WithGenerator(s.generator),
		annotation.WithPersister(s.persister),
		annotation.WithClock(s.now),
	)
	if !p.IsEmpty() {
		if _, err := conv.Configure(p); err != nil {
			return annotation.Snapshot{}, err
		}
	}

	s.mu.Lock()
	s.convs[id] = &entry{conv: conv, touched: s.now()}
	n := len(s.convs)
	s.mu.Unlock()

	s.recorder.SetActiveConversations(n)
	s.logger.InfoContext(ctx, "conversation created", "conversation_id", id, "max_turns", conv.MaxTurns())
	return conv.Snapshot(), nil
}

// Get returns a snapshot of conversation id.
func (s *Service) Get(id string) (annotation.Snapshot, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return annotation.Snapshot{}, err
	}
	return conv.Snapshot(), nil
}

// Configure sets the configuration before start or stages it for the next
// turn during play.
func (s *Service) Configure(ctx context.Context, id string, p domain.ConfigurationPatch) (domain.Configuration, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return domain.Configuration{}, err
	}
	cfg, err := conv.Configure(p)
	if err != nil {
		return cfg, err
	}
	s.logger.DebugContext(ctx, "configuration updated",
		"conversation_id", id, "phase", conv.Phase(), "failure_mode", cfg.FailureMode, "intent", cfg.Intent)
	return cfg, nil
}

type startedEvent struct {
	Configuration domain.Configuration `json:"configuration"`
	MaxTurns      int                  `json:"max_turns"`
}

// Start applies p and opens the first turn. Restarting after a rewind to
// turn 1 goes through Start as well.
func (s *Service) Start(ctx context.Context, id string, p domain.ConfigurationPatch) (annotation.Snapshot, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return annotation.Snapshot{}, err
	}
	if err := conv.Start(p); err != nil {
		return annotation.Snapshot{}, err
	}
	snap := conv.Snapshot()

	s.recorder.ConversationStarted()
	s.logger.InfoContext(ctx, "conversation started",
		"conversation_id", id, "failure_mode", snap.Configuration.FailureMode, "intent", snap.Configuration.Intent)
	s.emit(ctx, events.TypeConversationStarted, id, snap.CurrentTurn,
		startedEvent{Configuration: snap.Configuration, MaxTurns: snap.MaxTurns})
	return snap, nil
}

// SetPrompt replaces the active turn's draft prompt.
func (s *Service) SetPrompt(id, text string) (annotation.TurnView, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return annotation.TurnView{}, err
	}
	if err := conv.SetUserPrompt(text); err != nil {
		return annotation.TurnView{}, err
	}
	return activeView(conv), nil
}

// ConfirmPrompt confirms the draft. A non-nil text replaces the draft first.
func (s *Service) ConfirmPrompt(id string, text *string) (annotation.TurnView, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return annotation.TurnView{}, err
	}
	if text != nil {
		err = conv.SubmitUserPrompt(*text)
	} else {
		err = conv.ConfirmUserPrompt()
	}
	if err != nil {
		return annotation.TurnView{}, err
	}
	return activeView(conv), nil
}

// Generate asks both models for the active turn's responses.
func (s *Service) Generate(ctx context.Context, id string) (domain.TrackTexts, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return domain.TrackTexts{}, err
	}
	start := s.now()
	out, err := conv.Generate(ctx)
	s.recordCall(ctx, id, "generate", start, err)
	return out, err
}

// Nudge asks model B for an improved response.
func (s *Service) Nudge(ctx context.Context, id, text string) (string, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	start := s.now()
	out, err := conv.RequestNudge(ctx, text)
	s.recordCall(ctx, id, "nudge", start, err)
	return out, err
}

func (s *Service) recordCall(ctx context.Context, id, op string, start time.Time, err error) {
	elapsed := s.now().Sub(start)
	outcome := outcomeSuccess
	switch {
	case errors.Is(err, domain.ErrStaleResult):
		outcome = outcomeStale
	case err != nil:
		outcome = outcomeError
	}
	// Precondition failures never reached the collaborator.
	if err == nil || errors.Is(err, domain.ErrCollaborator) || outcome == outcomeStale {
		s.recorder.CollaboratorCall(op, outcome, elapsed)
	}
	if err != nil {
		s.logger.WarnContext(ctx, op+" failed", "conversation_id", id, "error", err, "elapsed", elapsed)
		return
	}
	s.logger.InfoContext(ctx, op+" completed", "conversation_id", id, "elapsed", elapsed)
}

// UpdateEvaluation replaces the active turn's working evaluation and returns
// the refreshed view with its checklist.
func (s *Service) UpdateEvaluation(id string, rec domain.EvaluationRecord) (annotation.TurnView, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return annotation.TurnView{}, err
	}
	if err := conv.UpdateEvaluation(rec); err != nil {
		return annotation.TurnView{}, err
	}
	return activeView(conv), nil
}

// Checklist evaluates the active turn.
func (s *Service) Checklist(id string) (annotation.Checklist, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return conv.Checklist()
}

type turnCommittedEvent struct {
	Turn domain.Turn `json:"turn"`
}

type completedEvent struct {
	Turns      int  `json:"turns"`
	EndedEarly bool `json:"ended_early"`
}

// Commit completes the active turn and advances.
func (s *Service) Commit(ctx context.Context, id string) (domain.Turn, annotation.Snapshot, error) {
	return s.commit(ctx, id, false)
}

// EndEarly completes the active turn and the conversation.
func (s *Service) EndEarly(ctx context.Context, id string) (domain.Turn, annotation.Snapshot, error) {
	return s.commit(ctx, id, true)
}

func (s *Service) commit(ctx context.Context, id string, final bool) (domain.Turn, annotation.Snapshot, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return domain.Turn{}, annotation.Snapshot{}, err
	}
	var turn domain.Turn
	if final {
		turn, err = conv.EndEarly()
	} else {
		turn, err = conv.CommitTurn()
	}
	if err != nil {
		return domain.Turn{}, annotation.Snapshot{}, err
	}
	snap := conv.Snapshot()

	s.recorder.TurnCommitted()
	s.logger.InfoContext(ctx, "turn committed",
		"conversation_id", id, "turn", turn.Index, "selected_model", turn.Evaluation.SelectedModel,
		"failure", turn.Evaluation.HasFailure())
	s.emit(ctx, events.TypeTurnCommitted, id, turn.Index, turnCommittedEvent{Turn: turn})

	if snap.Phase == annotation.PhaseCompleted {
		s.logger.InfoContext(ctx, "conversation completed",
			"conversation_id", id, "turns", len(snap.Turns), "ended_early", final)
		s.emit(ctx, events.TypeConversationCompleted, id, turn.Index,
			completedEvent{Turns: len(snap.Turns), EndedEarly: final && len(snap.Turns) < snap.MaxTurns})
	}
	return turn, snap, nil
}

type rewoundEvent struct {
	Target    int `json:"target"`
	Discarded int `json:"discarded"`
}

// RewindBounds returns the inclusive range of valid rewind targets.
func (s *Service) RewindBounds(id string) (lo, hi int, err error) {
	conv, err := s.lookup(id)
	if err != nil {
		return 0, 0, err
	}
	lo, hi = conv.RewindBounds()
	return lo, hi, nil
}

// Rewind discards turns from target on and reopens target.
func (s *Service) Rewind(ctx context.Context, id string, target int) (annotation.Snapshot, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return annotation.Snapshot{}, err
	}
	discarded, err := conv.Rewind(target)
	if err != nil {
		return annotation.Snapshot{}, err
	}
	snap := conv.Snapshot()

	s.recorder.Rewound()
	s.logger.InfoContext(ctx, "conversation rewound",
		"conversation_id", id, "target", target, "phase", snap.Phase)
	s.emit(ctx, events.TypeConversationRewound, id, target,
		rewoundEvent{Target: target, Discarded: discarded})
	return snap, nil
}

// ViewTurn returns committed turn n.
func (s *Service) ViewTurn(id string, n int) (domain.Turn, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return domain.Turn{}, err
	}
	return conv.ViewTurn(n)
}

type amendedEvent struct {
	Previous domain.EvaluationRecord `json:"previous"`
	Current  domain.EvaluationRecord `json:"current"`
}

// AmendEvaluation replaces the evaluation of committed turn n.
func (s *Service) AmendEvaluation(ctx context.Context, id string, n int, rec domain.EvaluationRecord) (domain.Turn, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return domain.Turn{}, err
	}
	prev, err := conv.ViewTurn(n)
	if err != nil {
		return domain.Turn{}, err
	}
	if err := conv.AmendEvaluation(n, rec); err != nil {
		return domain.Turn{}, err
	}
	turn, err := conv.ViewTurn(n)
	if err != nil {
		return domain.Turn{}, err
	}

	s.recorder.EvaluationAmended()
	s.logger.InfoContext(ctx, "evaluation amended", "conversation_id", id, "turn", n)
	s.emit(ctx, events.TypeEvaluationAmended, id, n,
		amendedEvent{Previous: prev.Evaluation, Current: turn.Evaluation})
	return turn, nil
}

// Submit persists the completed conversation. The persister emits the
// submitted event once the write is durable.
func (s *Service) Submit(ctx context.Context, id string, overall domain.OverallFailure) (domain.Receipt, error) {
	conv, err := s.lookup(id)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt, err := conv.Submit(ctx, overall)
	if err != nil {
		if errors.Is(err, domain.ErrCollaborator) {
			s.recorder.Submission(outcomeError)
		}
		s.logger.WarnContext(ctx, "submission failed", "conversation_id", id, "error", err)
		return domain.Receipt{}, err
	}
	s.recorder.Submission(outcomeSuccess)
	s.logger.InfoContext(ctx, "conversation submitted",
		"conversation_id", id, "overall_failure", overall, "stores", receipt.Stores)
	return receipt, nil
}

// EvictIdle removes conversations untouched for longer than the idle TTL
// and returns how many were removed. Conversations with a submission in
// flight are kept.
func (s *Service) EvictIdle(ctx context.Context) int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	var removed int
	for id, e := range s.convs {
		if e.touched.After(cutoff) || e.conv.Snapshot().Submitting {
			continue
		}
		delete(s.convs, id)
		removed++
	}
	n := len(s.convs)
	s.mu.Unlock()

	if removed > 0 {
		s.recorder.SetActiveConversations(n)
		s.logger.InfoContext(ctx, "evicted idle conversations", "removed", removed, "remaining", n)
	}
	return removed
}

// RunJanitor calls EvictIdle every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if s.idleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictIdle(ctx)
		}
	}
}

// emit publishes a lifecycle event. Sink failures are logged and do not fail
// the operation that already took effect.
func (s *Service) emit(ctx context.Context, eventType, id string, turn int, payload any) {
	env, err := events.NewEnvelope(eventType, EventSource, id, turn, payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build event", "type", eventType, "error", err)
		return
	}
	if err := s.sink.Append(ctx, env); err != nil {
		s.logger.WarnContext(ctx, "failed to emit event",
			"type", eventType, "conversation_id", id, "error", err)
	}
}

func activeView(conv *annotation.Conversation) annotation.TurnView {
	if snap := conv.Snapshot(); snap.Active != nil {
		return *snap.Active
	}
	return annotation.TurnView{}
}
