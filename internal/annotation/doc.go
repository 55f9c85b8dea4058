// Package annotation implements the multi-turn A/B annotation state machine.
//
// A Conversation moves through three phases:
//
//	configuring -> turn_in_progress -> completed
//
// While configuring, the scenario (failure mode, intent, sub-category, system
// prompt) is edited through a ConfigStore. Start opens turn 1. Each turn is
// played through a TurnController:
//
//	awaiting_user_prompt -> user_prompt_confirmed -> responses_generating
//	  -> responses_ready -> evaluating -> turn_complete
//
// and gated by the nine-condition Checklist. CommitTurn appends the finished
// turn, pairing both tracks' exchanges and the evaluation in one domain.Turn
// so the per-track histories and the evaluations always have equal length.
// Rewind truncates back to an earlier turn; rewinding to turn 1 also clears
// the system prompt and returns to configuring.
//
// Response generation and persistence are collaborators (Generator,
// Persister). Calls to them run without holding the conversation lock. Each
// call carries a ticket for the turn it was issued for, and results that
// arrive after that turn was rewound, committed or edited are dropped with
// domain.ErrStaleResult.
package annotation
