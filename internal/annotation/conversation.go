package annotation

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ahrav/go-arena/internal/domain"
)

// DefaultMaxTurns bounds a conversation when no option overrides it.
const DefaultMaxTurns = 5

// Phase is the top-level lifecycle position of a conversation.
type Phase string

// Phase values.
const (
	PhaseConfiguring    Phase = "configuring"
	PhaseTurnInProgress Phase = "turn_in_progress"
	PhaseCompleted      Phase = "completed"
)

// Conversation is the aggregate root of one annotation session. It owns the
// configuration, the committed turns, and the active turn controller, and it
// serializes every mutation.
//
// The phase determines which parts are live: a turn controller exists only in
// PhaseTurnInProgress, and committed turns can be submitted only in
// PhaseCompleted.
type Conversation struct {
	mu sync.Mutex

	id       string
	maxTurns int
	now      func() time.Time

	generator Generator
	persister Persister

	phase   Phase
	config  *ConfigStore
	turns   []domain.Turn
	current int
	active  *TurnController

	// epoch increases whenever in-flight collaborator results would no
	// longer apply: commits, rewinds, and prompt edits.
	epoch uint64

	submitting bool
	receipt    *domain.Receipt
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithMaxTurns overrides DefaultMaxTurns. Values below 1 are ignored.
func WithMaxTurns(n int) Option {
	return func(c *Conversation) {
		if n >= 1 {
			c.maxTurns = n
		}
	}
}

// WithConfiguration seeds the configuration store.
func WithConfiguration(cfg domain.Configuration) Option {
	return func(c *Conversation) { c.config = NewConfigStore(cfg) }
}

// WithGenerator sets the response generation collaborator.
func WithGenerator(g Generator) Option {
	return func(c *Conversation) { c.generator = g }
}

// WithPersister sets the persistence collaborator.
func WithPersister(p Persister) Option {
	return func(c *Conversation) { c.persister = p }
}

// WithClock overrides time.Now for submission timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Conversation) { c.now = now }
}

// NewConversation returns a conversation in PhaseConfiguring at turn 1.
func NewConversation(id string, opts ...Option) *Conversation {
	c := &Conversation{
		id:       id,
		maxTurns: DefaultMaxTurns,
		now:      time.Now,
		phase:    PhaseConfiguring,
		config:   NewConfigStore(domain.DefaultConfiguration()),
		current:  1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string { return c.id }

// MaxTurns returns the turn bound.
func (c *Conversation) MaxTurns() int { return c.maxTurns }

// Phase returns the current phase.
func (c *Conversation) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// CurrentTurn returns the 1-based index of the turn being played, or
// MaxTurns+1 once completed.
func (c *Conversation) CurrentTurn() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Configuration returns the configuration in effect.
func (c *Conversation) Configuration() domain.Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Current()
}

// HistoryA returns the committed track A transcript.
func (c *Conversation) HistoryA() []domain.Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.History(c.turns, domain.TrackA)
}

// HistoryB returns the committed track B transcript.
func (c *Conversation) HistoryB() []domain.Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.History(c.turns, domain.TrackB)
}

// Evaluations returns the committed evaluation records.
func (c *Conversation) Evaluations() []domain.EvaluationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Evaluations(c.turns)
}

// Configure updates the scenario. Before Start the change is immediate;
// during play it is buffered for the next turn. Completed conversations
// cannot be reconfigured.
func (c *Conversation) Configure(p domain.ConfigurationPatch) (domain.Configuration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseConfiguring:
		return c.config.Set(p)
	case PhaseTurnInProgress:
		return c.config.Stage(p)
	default:
		return c.config.Current(), domain.ErrWrongPhase
	}
}

// Start applies p and moves from configuring to the first open turn. It
// fails when the resulting system prompt is blank.
func (c *Conversation) Start(p domain.ConfigurationPatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseConfiguring {
		return domain.ErrWrongPhase
	}
	next := c.config.Current().Apply(p)
	if err := next.ValidateForStart(); err != nil {
		return err
	}
	if _, err := c.config.Set(p); err != nil {
		return err
	}
	c.phase = PhaseTurnInProgress
	c.openTurn()
	return nil
}

// openTurn promotes any buffered configuration edit and creates the
// controller for c.current. Callers hold c.mu.
func (c *Conversation) openTurn() {
	c.config.ApplyPending()
	c.active = NewTurnController(c.current, c.config.Current())
	c.epoch++
}

func (c *Conversation) activeTurn() (*TurnController, error) {
	if c.phase != PhaseTurnInProgress || c.active == nil {
		return nil, domain.ErrWrongPhase
	}
	return c.active, nil
}

// SetUserPrompt edits the active turn's draft prompt.
func (c *Conversation) SetUserPrompt(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn, err := c.activeTurn()
	if err != nil {
		return err
	}
	if err := turn.SetUserPrompt(text); err != nil {
		return err
	}
	c.epoch++
	return nil
}

// ConfirmUserPrompt confirms the active turn's draft prompt.
func (c *Conversation) ConfirmUserPrompt() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn, err := c.activeTurn()
	if err != nil {
		return err
	}
	return turn.ConfirmUserPrompt()
}

// SubmitUserPrompt sets and confirms the active turn's prompt.
func (c *Conversation) SubmitUserPrompt(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn, err := c.activeTurn()
	if err != nil {
		return err
	}
	if err := turn.SubmitUserPrompt(text); err != nil {
		return err
	}
	c.epoch++
	return nil
}

// ticket identifies the turn a collaborator call was issued for.
type ticket struct {
	turn  *TurnController
	epoch uint64
}

func (c *Conversation) ticket() ticket { return ticket{turn: c.active, epoch: c.epoch} }

func (c *Conversation) stillCurrent(t ticket) bool {
	return c.active == t.turn && c.epoch == t.epoch && c.phase == PhaseTurnInProgress
}

// Generate requests both tracks' responses for the confirmed prompt. The
// lock is released during the call; a result that arrives after the turn was
// rewound or edited is dropped with domain.ErrStaleResult. On failure the
// turn returns to user_prompt_confirmed.
func (c *Conversation) Generate(ctx context.Context) (domain.TrackTexts, error) {
	c.mu.Lock()
	if c.generator == nil {
		c.mu.Unlock()
		return domain.TrackTexts{}, domain.ErrNoGenerator
	}
	turn, err := c.activeTurn()
	if err != nil {
		c.mu.Unlock()
		return domain.TrackTexts{}, err
	}
	prompt, err := turn.BeginGeneration()
	if err != nil {
		c.mu.Unlock()
		return domain.TrackTexts{}, err
	}
	req := GenerateRequest{
		SystemPrompt: turn.Configuration().SystemPrompt,
		UserPrompt:   prompt,
		HistoryA:     domain.History(c.turns, domain.TrackA),
		HistoryB:     domain.History(c.turns, domain.TrackB),
	}
	tk := c.ticket()
	c.mu.Unlock()

	out, genErr := c.generator.Generate(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stillCurrent(tk) {
		return domain.TrackTexts{}, domain.ErrStaleResult
	}
	if genErr != nil {
		turn.FailGeneration()
		return domain.TrackTexts{}, domain.NewCollaboratorError("generate", genErr)
	}
	if err := turn.FinishGeneration(out); err != nil {
		return domain.TrackTexts{}, err
	}
	return out, nil
}

// RequestNudge asks for an improved track B response given text as a
// hypothetical follow-up. The first result seeds BetterResponse.B when the
// annotator has not written one.
func (c *Conversation) RequestNudge(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	if c.generator == nil {
		c.mu.Unlock()
		return "", domain.ErrNoGenerator
	}
	turn, err := c.activeTurn()
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	if err := turn.BeginNudge(text); err != nil {
		c.mu.Unlock()
		return "", err
	}
	pendingA, pendingB := turn.PendingExchanges()
	req := NudgeRequest{
		SystemPrompt: turn.Configuration().SystemPrompt,
		NudgePrompt:  text,
		HistoryA:     append(domain.History(c.turns, domain.TrackA), pendingA),
		HistoryB:     append(domain.History(c.turns, domain.TrackB), pendingB),
	}
	tk := c.ticket()
	c.mu.Unlock()

	out, nudgeErr := c.generator.Nudge(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stillCurrent(tk) {
		return "", domain.ErrStaleResult
	}
	if nudgeErr != nil {
		turn.FailNudge()
		return "", domain.NewCollaboratorError("nudge", nudgeErr)
	}
	if err := turn.FinishNudge(out); err != nil {
		return "", err
	}
	return out, nil
}

// UpdateEvaluation replaces the active turn's working evaluation.
func (c *Conversation) UpdateEvaluation(rec domain.EvaluationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn, err := c.activeTurn()
	if err != nil {
		return err
	}
	return turn.UpdateEvaluation(rec)
}

// Checklist evaluates the active turn.
func (c *Conversation) Checklist() (Checklist, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn, err := c.activeTurn()
	if err != nil {
		return nil, err
	}
	return turn.Checklist(), nil
}

// CommitTurn appends the completed active turn and advances. Passing
// MaxTurns completes the conversation.
func (c *Conversation) CommitTurn() (domain.Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commit(false)
}

// EndEarly commits the active turn and completes the conversation
// regardless of the turn bound.
func (c *Conversation) EndEarly() (domain.Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commit(true)
}

func (c *Conversation) commit(final bool) (domain.Turn, error) {
	turn, err := c.activeTurn()
	if err != nil {
		return domain.Turn{}, err
	}
	done, err := turn.Complete()
	if err != nil {
		return domain.Turn{}, err
	}

	c.turns = append(c.turns, done)
	c.current++
	if final {
		c.current = c.maxTurns + 1
	}
	if c.current > c.maxTurns {
		// Edits staged during the last turn have no next turn to wait for.
		c.config.ApplyPending()
		c.phase = PhaseCompleted
		c.active = nil
		c.epoch++
		return done, nil
	}
	c.openTurn()
	return done, nil
}

// RewindBounds returns the inclusive range of valid rewind targets.
func (c *Conversation) RewindBounds() (lo, hi int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return 1, c.rewindMax()
}

func (c *Conversation) rewindMax() int {
	return min(len(c.turns)+1, c.current, c.maxTurns)
}

// Rewind discards committed turns from target onward and reopens target.
// Rewinding to 1 also clears the system prompt and returns to configuring so
// the annotator must enter it again. It returns how many committed turns
// were discarded.
func (c *Conversation) Rewind(target int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mutable(); err != nil {
		return 0, err
	}
	if target < 1 || target > c.rewindMax() {
		return 0, domain.ErrTurnOutOfRange
	}

	discarded := len(c.turns) - (target - 1)
	c.turns = slices.Clip(c.turns[:target-1])
	c.current = target
	c.active = nil
	c.epoch++

	if target == 1 {
		c.config.ClearSystemPrompt()
		c.phase = PhaseConfiguring
		return discarded, nil
	}
	c.phase = PhaseTurnInProgress
	c.openTurn()
	return discarded, nil
}

// mutable reports whether committed data may still change.
func (c *Conversation) mutable() error {
	switch {
	case c.receipt != nil:
		return domain.ErrAlreadySubmitted
	case c.submitting:
		return domain.ErrSubmissionInFlight
	}
	return nil
}

// ViewTurn returns committed turn index.
func (c *Conversation) ViewTurn(index int) (domain.Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 1 || index > len(c.turns) {
		return domain.Turn{}, domain.ErrTurnOutOfRange
	}
	return c.turns[index-1], nil
}

// AmendEvaluation replaces the evaluation of committed turn index. Histories
// and the current turn are untouched, and the checklist is not re-run.
func (c *Conversation) AmendEvaluation(index int, rec domain.EvaluationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mutable(); err != nil {
		return err
	}
	if index < 1 || index > len(c.turns) {
		return domain.ErrTurnOutOfRange
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	c.turns[index-1].Evaluation = rec
	return nil
}

// Submit hands the completed conversation to the persister with the
// annotator's overall judgment. It succeeds at most once; a failed attempt
// leaves the conversation completed and retryable.
func (c *Conversation) Submit(ctx context.Context, overall domain.OverallFailure) (domain.Receipt, error) {
	if !overall.IsValid() {
		return domain.Receipt{}, domain.ErrInvalidOverallFailure
	}

	c.mu.Lock()
	if err := c.mutable(); err != nil {
		c.mu.Unlock()
		return domain.Receipt{}, err
	}
	if c.phase != PhaseCompleted {
		c.mu.Unlock()
		return domain.Receipt{}, domain.ErrWrongPhase
	}
	if c.persister == nil {
		c.mu.Unlock()
		return domain.Receipt{}, domain.ErrNoPersister
	}
	sub := domain.Submission{
		ConversationID: c.id,
		Configuration:  c.config.Current(),
		Turns:          slices.Clone(c.turns),
		OverallFailure: overall,
		SubmittedAt:    c.now().UTC(),
	}
	c.submitting = true
	c.mu.Unlock()

	receipt, err := c.persister.PersistConversation(ctx, sub)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false
	if err != nil {
		return domain.Receipt{}, domain.NewCollaboratorError("persist_conversation", err)
	}
	c.receipt = &receipt
	return receipt, nil
}

// Snapshot is a consistent read-only copy of the conversation.
type Snapshot struct {
	ID                   string                `json:"id"`
	Phase                Phase                 `json:"phase"`
	CurrentTurn          int                   `json:"current_turn"`
	MaxTurns             int                   `json:"max_turns"`
	Configuration        domain.Configuration  `json:"configuration"`
	PendingConfiguration *domain.Configuration `json:"pending_configuration,omitempty"`
	Turns                []domain.Turn         `json:"turns"`
	Active               *TurnView             `json:"active,omitempty"`
	Submitting           bool                  `json:"submitting"`
	Receipt              *domain.Receipt       `json:"receipt,omitempty"`
}

// Snapshot returns the conversation's current state.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		ID:            c.id,
		Phase:         c.phase,
		CurrentTurn:   c.current,
		MaxTurns:      c.maxTurns,
		Configuration: c.config.Current(),
		Turns:         slices.Clone(c.turns),
		Submitting:    c.submitting,
	}
	if s.Turns == nil {
		s.Turns = []domain.Turn{}
	}
	if p, ok := c.config.Pending(); ok {
		s.PendingConfiguration = &p
	}
	if c.active != nil {
		v := c.active.View()
		s.Active = &v
	}
	if c.receipt != nil {
		r := *c.receipt
		s.Receipt = &r
	}
	return s
}
