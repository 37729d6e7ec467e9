package models

import "errors"

// Engine error taxonomy. All are surfaced to callers as-is; none are retried
// internally.
var (
	// ErrSessionNotFound means the session id is unknown for the user
	ErrSessionNotFound = errors.New("session not found")

	// ErrMessageNotFound means the edit target does not exist for the user
	ErrMessageNotFound = errors.New("message not found")

	// ErrInvalidRole means the edit target is not a user message; assistant
	// messages are only ever regenerated, never edited directly
	ErrInvalidRole = errors.New("only user messages can be edited")

	// ErrEditingDisabled means the session policy forbids edits
	ErrEditingDisabled = errors.New("editing is disabled for this session")

	// ErrTokenBudgetExceeded means the turn cannot fit even after archiving;
	// it is rejected before any message is persisted
	ErrTokenBudgetExceeded = errors.New("token budget exceeded")

	// ErrSessionAtLimit means active tokens already sit at or above the hard
	// ceiling; the session is read-only for new turns
	ErrSessionAtLimit = errors.New("session is at its token limit")
)
