package types

import "errors"

// Contract errors surfaced to callers. Engine-side failures are absorbed
// into timeline state instead and never reach the caller of Submit.
var (
	// ErrOrderingViolation means an append carried a CreatedAt earlier
	// than the last appended message of the same conversation.
	ErrOrderingViolation = errors.New("ordering violation")

	// ErrNotFound means the referenced message, item, conversation, or
	// request does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition means a status update targeted a message whose
	// status is already terminal, or asked for a transition back to pending.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConversationClosed means the conversation no longer accepts messages.
	ErrConversationClosed = errors.New("conversation closed")

	// ErrEngine wraps failures reported by the recommendation engine.
	ErrEngine = errors.New("engine error")

	// ErrTimeout means the engine produced no response within the
	// configured window.
	ErrTimeout = errors.New("engine timeout")
)
