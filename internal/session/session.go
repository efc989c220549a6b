// Package session binds one timeline, the shared catalog, and scheduler
// state into a per-user conversation with an explicit lifecycle.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/stylecore/internal/scheduler"
	"github.com/user/stylecore/internal/timeline"
	"github.com/user/stylecore/internal/types"
)

// greetingBody opens every new conversation, already delivered.
const greetingBody = "Hello! I'm your AI Stylist. Tell me about the occasion you're dressing for, and I'll help you create the perfect outfit from your wardrobe."

// dailyPromptBody is the canned utterance the daily-suggestion trigger
// submits on the owner's behalf.
const dailyPromptBody = "What should I wear today?"

// Session is one user's ongoing exchange with the styling assistant.
// A closed session keeps its timeline readable but accepts no new
// messages.
type Session struct {
	id        types.ConversationID
	owner     types.OwnerID
	timeline  *timeline.Timeline
	sched     *scheduler.Scheduler
	createdAt time.Time

	mu     sync.Mutex
	closed bool
}

// ID returns the conversation id.
func (s *Session) ID() types.ConversationID { return s.id }

// Owner returns the owning account.
func (s *Session) Owner() types.OwnerID { return s.owner }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// PostMessage submits a user utterance through the scheduler. It returns
// once the message and its pending placeholder are visible; the
// recommendation arrives asynchronously.
func (s *Session) PostMessage(ctx context.Context, body string) (types.RequestID, error) {
	return s.post(ctx, types.SenderUser, body)
}

// RequestSuggestion submits the canned daily-suggestion prompt as a
// system message through the same pipeline as a user message.
func (s *Session) RequestSuggestion(ctx context.Context) (types.RequestID, error) {
	return s.post(ctx, types.SenderSystem, dailyPromptBody)
}

func (s *Session) post(ctx context.Context, sender types.Sender, body string) (types.RequestID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("post message: %w", types.ErrConversationClosed)
	}
	return s.sched.Submit(ctx, s.timeline, s.owner, sender, body)
}

// Busy reports whether a recommendation request is currently in flight
// for this conversation.
func (s *Session) Busy() bool {
	return s.sched.HasOpenRequest(s.id)
}

// ListMessages returns a point-in-time copy of the timeline.
func (s *Session) ListMessages() []types.Message {
	return s.timeline.Snapshot()
}

// Revision returns the timeline's mutation counter.
func (s *Session) Revision() uint64 {
	return s.timeline.Revision()
}

// Closed reports whether the session accepts new messages.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close cancels any outstanding request and makes the session immutable.
// Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.sched.CancelConversation(s.id)
}

// Manager owns all live sessions. Conversations persist until explicit
// deletion; with a recorder-backed store attached they survive restarts.
type Manager struct {
	sched    *scheduler.Scheduler
	recorder types.Recorder
	clock    func() time.Time

	mu       sync.RWMutex
	sessions map[types.ConversationID]*Session
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRecorder persists timeline mutations of every session through r.
func WithRecorder(r types.Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates a Manager dispatching through the given scheduler.
func NewManager(sched *scheduler.Scheduler, opts ...ManagerOption) *Manager {
	m := &Manager{
		sched:    sched,
		clock:    time.Now,
		sessions: make(map[types.ConversationID]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a new conversation for the owner, seeded with the
// assistant greeting.
func (m *Manager) Create(ctx context.Context, owner types.OwnerID) (*Session, error) {
	id := types.NewConversationID()

	var tlOpts []timeline.Option
	if m.recorder != nil {
		tlOpts = append(tlOpts, timeline.WithRecorder(m.recorder))
	}
	tl := timeline.New(id, tlOpts...)

	greeting := types.Message{
		ID:        types.NewMessageID(),
		Sender:    types.SenderAssistant,
		Body:      greetingBody,
		CreatedAt: m.clock(),
		Status:    types.StatusDelivered,
	}
	if _, err := tl.Append(greeting); err != nil {
		return nil, fmt.Errorf("append greeting: %w", err)
	}

	sess := &Session{
		id:        id,
		owner:     owner,
		timeline:  tl,
		sched:     m.sched,
		createdAt: greeting.CreatedAt,
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return sess, nil
}

// Resume rebuilds a session from persisted messages, e.g. after restart.
func (m *Manager) Resume(owner types.OwnerID, id types.ConversationID, msgs []types.Message, createdAt time.Time) (*Session, error) {
	var tlOpts []timeline.Option
	if m.recorder != nil {
		tlOpts = append(tlOpts, timeline.WithRecorder(m.recorder))
	}
	tl := timeline.New(id, tlOpts...)
	if err := tl.Restore(msgs); err != nil {
		return nil, fmt.Errorf("resume %s: %w", id, err)
	}

	sess := &Session{
		id:        id,
		owner:     owner,
		timeline:  tl,
		sched:     m.sched,
		createdAt: createdAt,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("resume %s: already live", id)
	}
	m.sessions[id] = sess
	return sess, nil
}

// Get returns the session with the given conversation id.
func (m *Manager) Get(id types.ConversationID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	return sess, nil
}

// List returns all live sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}

// Delete closes the conversation and removes it. Unknown ids (including
// already-deleted ones) return ErrNotFound.
func (m *Manager) Delete(id types.ConversationID) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	sess.Close()
	return nil
}

// Close closes the conversation but keeps it listed (readable, immutable).
// Idempotent; unknown ids return ErrNotFound.
func (m *Manager) Close(id types.ConversationID) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	sess.Close()
	return nil
}
