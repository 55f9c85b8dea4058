package annotation

import (
	"github.com/ahrav/go-arena/internal/domain"
)

// ConfigStore holds the scenario configuration for one conversation.
//
// Before the conversation starts, Set edits the configuration directly. Once
// turns are in progress, Stage buffers an edit that the conversation applies
// when it opens the next turn, so committed turns keep the configuration they
// were played under.
type ConfigStore struct {
	current domain.Configuration
	pending *domain.Configuration
}

// NewConfigStore returns a store seeded with initial, normalized.
func NewConfigStore(initial domain.Configuration) *ConfigStore {
	return &ConfigStore{current: initial.Normalize()}
}

// Current returns the configuration in effect.
func (s *ConfigStore) Current() domain.Configuration { return s.current }

// Pending returns the buffered mid-conversation edit, if any.
func (s *ConfigStore) Pending() (domain.Configuration, bool) {
	if s.pending == nil {
		return domain.Configuration{}, false
	}
	return *s.pending, true
}

// Set applies p to the current configuration, auto-correcting a stale
// sub-category. The store is unchanged when the result is invalid.
func (s *ConfigStore) Set(p domain.ConfigurationPatch) (domain.Configuration, error) {
	next := s.current.Apply(p)
	if err := next.Validate(); err != nil {
		return s.current, err
	}
	s.current = next
	return next, nil
}

// Stage buffers p for the next turn. Edits stack on any earlier pending
// edit. The system prompt cannot change mid-conversation.
func (s *ConfigStore) Stage(p domain.ConfigurationPatch) (domain.Configuration, error) {
	base := s.current
	if s.pending != nil {
		base = *s.pending
	}
	if p.SystemPrompt != nil && *p.SystemPrompt != base.SystemPrompt {
		return base, domain.ErrSystemPromptLocked
	}
	next := base.Apply(p)
	if err := next.Validate(); err != nil {
		return base, err
	}
	s.pending = &next
	return next, nil
}

// ApplyPending promotes a buffered edit to current. It reports whether an
// edit was applied.
func (s *ConfigStore) ApplyPending() bool {
	if s.pending == nil {
		return false
	}
	s.current = *s.pending
	s.pending = nil
	return true
}

// ClearSystemPrompt empties the system prompt, forcing re-entry before the
// conversation can start again. A pending edit is folded in first.
func (s *ConfigStore) ClearSystemPrompt() {
	s.ApplyPending()
	s.current.SystemPrompt = ""
}
