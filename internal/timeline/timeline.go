// Package timeline implements the per-conversation append-only message log.
//
// A Timeline is the single source of truth for what a user sees in one
// conversation. Appends are ordered by (CreatedAt, ID) and clock
// monotonicity is enforced at the append boundary. Every successful
// mutation bumps a revision counter so observers can poll cheaply.
package timeline

import (
	"fmt"
	"sync"

	"github.com/user/stylecore/internal/types"
)

// Timeline is safe for concurrent use. Mutations within one conversation
// are serialized by the internal mutex; distinct conversations hold
// distinct Timelines and share nothing.
type Timeline struct {
	conversationID types.ConversationID
	recorder       types.Recorder

	mu       sync.Mutex
	messages []types.Message
	byID     map[types.MessageID]int
	revision uint64
}

// Option configures a Timeline.
type Option func(*Timeline)

// WithRecorder attaches a durable recorder. Recorder failures fail the
// mutation; the in-memory state is only changed after the record succeeds.
func WithRecorder(r types.Recorder) Option {
	return func(t *Timeline) { t.recorder = r }
}

// New creates an empty Timeline for the given conversation.
func New(conversationID types.ConversationID, opts ...Option) *Timeline {
	t := &Timeline{
		conversationID: conversationID,
		byID:           make(map[types.MessageID]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ConversationID returns the owning conversation's id.
func (t *Timeline) ConversationID() types.ConversationID {
	return t.conversationID
}

// Append adds a message to the end of the log and returns its position.
// The message's CreatedAt must not be earlier than the last appended
// message's; a regression is rejected with ErrOrderingViolation and
// nothing is mutated.
func (t *Timeline) Append(msg types.Message) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.messages); n > 0 && msg.CreatedAt.Before(t.messages[n-1].CreatedAt) {
		return 0, fmt.Errorf("append %s: clock regression: %w", msg.ID, types.ErrOrderingViolation)
	}
	if _, exists := t.byID[msg.ID]; exists {
		return 0, fmt.Errorf("append %s: duplicate message id", msg.ID)
	}

	msg.ConversationID = t.conversationID
	if t.recorder != nil {
		if err := t.recorder.RecordAppend(msg); err != nil {
			return 0, fmt.Errorf("record append: %w", err)
		}
	}

	pos := len(t.messages)
	t.messages = append(t.messages, msg)
	t.byID[msg.ID] = pos
	t.revision++
	return pos, nil
}

// Resolve transitions a pending message to a terminal status, optionally
// replacing its body (an empty body keeps the placeholder text). The only
// legal transitions are pending -> delivered and pending -> failed; each
// fires at most once per message.
func (t *Timeline) Resolve(id types.MessageID, status types.MessageStatus, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("resolve %s: %w", id, types.ErrNotFound)
	}
	msg := &t.messages[pos]
	if msg.Status != types.StatusPending || !status.Terminal() {
		return fmt.Errorf("resolve %s: %s -> %s: %w", id, msg.Status, status, types.ErrInvalidTransition)
	}

	if t.recorder != nil {
		if err := t.recorder.RecordResolve(t.conversationID, id, status, body); err != nil {
			return fmt.Errorf("record resolve: %w", err)
		}
	}

	msg.Status = status
	if body != "" {
		msg.Body = body
	}
	t.revision++
	return nil
}

// Snapshot returns a point-in-time copy of the log in append order.
// Mutating the returned slice does not affect the Timeline.
func (t *Timeline) Snapshot() []types.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Revision returns the mutation counter. It increments on every
// successful Append or Resolve, so "nothing changed since R" is a single
// integer comparison for pollers.
func (t *Timeline) Revision() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.revision
}

// Len returns the number of messages in the log.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Restore seeds the timeline from previously persisted messages without
// invoking the recorder. It may only be called on an empty timeline.
func (t *Timeline) Restore(msgs []types.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.messages) > 0 {
		return fmt.Errorf("restore: timeline not empty")
	}
	for i, msg := range msgs {
		if i > 0 && msg.CreatedAt.Before(msgs[i-1].CreatedAt) {
			return fmt.Errorf("restore %s: clock regression: %w", msg.ID, types.ErrOrderingViolation)
		}
		t.messages = append(t.messages, msg)
		t.byID[msg.ID] = i
	}
	t.revision = uint64(len(msgs))
	return nil
}
