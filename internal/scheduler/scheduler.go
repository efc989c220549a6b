// Package scheduler turns a user utterance into a dispatched
// recommendation request and reconciles the outcome into the timeline.
//
// Per request the state machine is
// Created -> Dispatched -> (Completed | Failed | Cancelled).
// Submit never blocks on the engine: it appends the user message and a
// pending placeholder, records the open request, and hands dispatch to a
// goroutine bounded by a global semaphore. Results and failures route
// through the open-request set, which is the authoritative staleness
// guard: ids no longer in the set are no-ops regardless of what the
// engine later reports.
//
// Locking: conversations are serialized by a per-conversation lane mutex;
// the scheduler-wide mutex guards only the request maps and is never held
// during a timeline mutation, so conversations do not contend with each
// other.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/stylecore/internal/prompt"
	"github.com/user/stylecore/internal/timeline"
	"github.com/user/stylecore/internal/types"
	"github.com/user/stylecore/pkg/engine"
)

// RequestState is the lifecycle state of a recommendation request.
type RequestState string

const (
	StateCreated    RequestState = "created"
	StateDispatched RequestState = "dispatched"
	StateCompleted  RequestState = "completed"
	StateFailed     RequestState = "failed"
	StateCancelled  RequestState = "cancelled"
)

// User-facing fallback texts. A placeholder always resolves to one of
// these or to real recommendation text, never stays pending.
const (
	fallbackFailure   = "Sorry, I couldn't put an outfit together right now. Please try again."
	fallbackTimeout   = "This is taking longer than expected. Please try asking again."
	fallbackCancelled = "I set this aside to answer your newer message."
	fallbackClosed    = "This conversation was closed before I could answer."
)

// placeholderBody is the provisional text shown while the engine works.
const placeholderBody = "Thinking about your outfit..."

// request tracks one in-flight recommendation.
type request struct {
	id             types.RequestID
	conversationID types.ConversationID
	placeholderID  types.MessageID
	timeline       *timeline.Timeline
	state          RequestState
	cancel         context.CancelFunc
}

// Scheduler accepts submissions for any number of conversations. Within a
// conversation at most one request is outstanding: a second Submit cancels
// the first so responses cannot land out of the order their triggering
// messages were sent.
type Scheduler struct {
	engine  engine.Engine
	catalog types.CatalogStore
	prefs   types.PreferenceStore
	builder *prompt.Builder
	sem     *semaphore.Weighted
	timeout time.Duration
	clock   func() time.Time

	mu             sync.Mutex
	open           map[types.RequestID]*request
	byConversation map[types.ConversationID]types.RequestID
	lanes          map[types.ConversationID]*sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimeout sets the engine response deadline. A request with no engine
// response within d fails with a timeout fallback, driven by the
// scheduler itself rather than the engine.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// WithMaxConcurrent bounds simultaneous engine dispatches across all
// conversations.
func WithMaxConcurrent(n int64) Option {
	return func(s *Scheduler) { s.sem = semaphore.NewWeighted(n) }
}

// WithPromptBuilder attaches a prompt builder; without one, requests
// carry only the raw utterance and snapshots.
func WithPromptBuilder(b *prompt.Builder) Option {
	return func(s *Scheduler) { s.builder = b }
}

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// New creates a Scheduler. Defaults: 30s timeout, 4 concurrent dispatches.
func New(eng engine.Engine, catalog types.CatalogStore, prefs types.PreferenceStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:         eng,
		catalog:        catalog,
		prefs:          prefs,
		sem:            semaphore.NewWeighted(4),
		timeout:        30 * time.Second,
		clock:          time.Now,
		open:           make(map[types.RequestID]*request),
		byConversation: make(map[types.ConversationID]types.RequestID),
		lanes:          make(map[types.ConversationID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initialises the scheduler's context. Must be called before Submit.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Stop resolves all unresolved placeholders with a closed notice, cancels
// dispatch contexts, and waits for in-flight goroutines.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	ids := make([]types.RequestID, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.resolve(id, StateCancelled, types.StatusFailed, fallbackClosed)
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// lane returns the conversation's serialization mutex, creating it on
// first use.
func (s *Scheduler) lane(conversationID types.ConversationID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.lanes[conversationID] = l
	}
	return l
}

// Submit appends the user's message (delivered immediately) and a pending
// assistant placeholder correlated with it, then dispatches the derived
// request asynchronously. It returns as soon as the placeholder is
// visible in the timeline. Safe to call from any number of concurrent
// callers; submissions for the same conversation serialize on its lane.
func (s *Scheduler) Submit(ctx context.Context, tl *timeline.Timeline, owner types.OwnerID, sender types.Sender, body string) (types.RequestID, error) {
	if s.ctx == nil {
		return "", fmt.Errorf("submit: scheduler not started")
	}
	conversationID := tl.ConversationID()

	// Snapshots are bound at request time; a concurrent catalog write
	// after this point cannot change this request's basis.
	catalogSnap, err := s.catalog.SnapshotFor(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("catalog snapshot: %w", err)
	}
	prefSnap, err := s.prefs.Get(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("preference snapshot: %w", err)
	}

	l := s.lane(conversationID)
	l.Lock()
	defer l.Unlock()

	// Single-outstanding policy: a newer submit supersedes the prior
	// request for this conversation.
	s.mu.Lock()
	priorID, hasPrior := s.byConversation[conversationID]
	s.mu.Unlock()
	if hasPrior {
		s.resolveInLane(priorID, StateCancelled, types.StatusFailed, fallbackCancelled)
	}

	now := s.clock()
	userMsg := types.Message{
		ID:        types.NewMessageID(),
		Sender:    sender,
		Body:      body,
		CreatedAt: now,
		Status:    types.StatusDelivered,
	}
	if _, err := tl.Append(userMsg); err != nil {
		return "", fmt.Errorf("append user message: %w", err)
	}

	placeholder := types.Message{
		ID:             types.NewMessageID(),
		Sender:         types.SenderAssistant,
		Body:           placeholderBody,
		CreatedAt:      now,
		Status:         types.StatusPending,
		CorrelatesWith: userMsg.ID,
	}
	if _, err := tl.Append(placeholder); err != nil {
		return "", fmt.Errorf("append placeholder: %w", err)
	}

	dispatchCtx, dispatchCancel := context.WithCancel(s.ctx)
	req := &request{
		id:             types.NewRequestID(),
		conversationID: conversationID,
		placeholderID:  placeholder.ID,
		timeline:       tl,
		state:          StateCreated,
		cancel:         dispatchCancel,
	}
	s.mu.Lock()
	s.open[req.id] = req
	s.byConversation[conversationID] = req.id
	s.mu.Unlock()

	derived := &engine.Request{
		ID:             req.id,
		ConversationID: conversationID,
		OwnerID:        owner,
		Utterance:      body,
		Catalog:        catalogSnap,
		Preferences:    prefSnap,
	}
	if s.builder != nil {
		derived.Prompt = s.builder.Build(tl.Snapshot(), catalogSnap, prefSnap)
	}

	s.wg.Add(1)
	go s.dispatch(dispatchCtx, req.id, derived)

	slog.Debug("request submitted",
		"request_id", string(req.id),
		"conversation_id", string(conversationID),
		"owner_id", string(owner),
	)
	return req.id, nil
}

// dispatch runs the engine call for one request and routes the outcome.
// The timeout is enforced here, not by the engine, and the clock starts
// at dispatch entry: time queued waiting for a slot counts against the
// deadline, so a request stuck behind a wedged engine still resolves to
// a timeout failure on schedule. A late engine return after the timer
// fires is discarded by the stale-request check.
func (s *Scheduler) dispatch(ctx context.Context, id types.RequestID, derived *engine.Request) {
	defer s.wg.Done()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	acquireCtx, cancelAcquire := context.WithCancel(ctx)
	acquired := make(chan error, 1)
	go func() {
		acquired <- s.sem.Acquire(acquireCtx, 1)
	}()

	select {
	case err := <-acquired:
		cancelAcquire()
		if err != nil {
			// Cancelled or shut down while waiting for a slot. The
			// path that cancelled us already resolved the placeholder.
			return
		}
	case <-timer.C:
		cancelAcquire()
		// Acquire may still win the race against the cancellation;
		// hand any slot it got straight back.
		go func() {
			if err := <-acquired; err == nil {
				s.sem.Release(1)
			}
		}()
		s.OnFailure(id, types.ErrTimeout)
		return
	case <-ctx.Done():
		cancelAcquire()
		go func() {
			if err := <-acquired; err == nil {
				s.sem.Release(1)
			}
		}()
		return
	}
	defer s.sem.Release(1)

	s.mu.Lock()
	if req, ok := s.open[id]; ok {
		req.state = StateDispatched
	}
	s.mu.Unlock()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := s.engine.Recommend(ctx, derived)
		done <- outcome{text, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			s.OnFailure(id, out.err)
			return
		}
		s.OnResult(id, out.text)
	case <-timer.C:
		s.OnFailure(id, types.ErrTimeout)
	case <-ctx.Done():
		// Cancel or shutdown already resolved the placeholder; the
		// goroutine just winds down.
	}
}

// OnResult delivers recommendation text to the placeholder. Stale ids
// (cancelled, already resolved, conversation closed) are discarded
// without touching the timeline; the engine boundary may redeliver.
func (s *Scheduler) OnResult(id types.RequestID, text string) {
	s.resolve(id, StateCompleted, types.StatusDelivered, text)
}

// OnFailure resolves the placeholder to failed with user-facing fallback
// text. Stale ids are discarded, as with OnResult.
func (s *Scheduler) OnFailure(id types.RequestID, reason error) {
	text := fallbackFailure
	if errors.Is(reason, types.ErrTimeout) {
		text = fallbackTimeout
	}
	slog.Warn("request failed", "request_id", string(id), "error", reason)
	s.resolve(id, StateFailed, types.StatusFailed, text)
}

// Cancel abandons an open request and marks its placeholder failed with a
// cancellation notice. The engine is told to stop via context, but
// correctness does not depend on it stopping.
func (s *Scheduler) Cancel(id types.RequestID) {
	s.resolve(id, StateCancelled, types.StatusFailed, fallbackCancelled)
}

// CancelConversation cancels the conversation's outstanding request, if
// any, failing its placeholder with a closed-conversation notice.
func (s *Scheduler) CancelConversation(conversationID types.ConversationID) {
	s.mu.Lock()
	id, ok := s.byConversation[conversationID]
	s.mu.Unlock()
	if ok {
		s.resolve(id, StateCancelled, types.StatusFailed, fallbackClosed)
	}
}

// OpenRequests returns the number of unresolved requests.
func (s *Scheduler) OpenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// HasOpenRequest reports whether the conversation has an outstanding request.
func (s *Scheduler) HasOpenRequest(conversationID types.ConversationID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byConversation[conversationID]
	return ok
}

// resolve serializes on the conversation lane and finishes the request.
func (s *Scheduler) resolve(id types.RequestID, state RequestState, status types.MessageStatus, body string) {
	s.mu.Lock()
	req, ok := s.open[id]
	s.mu.Unlock()
	if !ok {
		slog.Debug("stale request discarded", "request_id", string(id))
		return
	}

	l := s.lane(req.conversationID)
	l.Lock()
	defer l.Unlock()
	s.resolveInLane(id, state, status, body)
}

// resolveInLane removes the request from the open set and transitions its
// placeholder, exactly once. Every terminal path (result, failure,
// timeout, cancel, shutdown) funnels through here. Caller must hold the
// conversation lane.
func (s *Scheduler) resolveInLane(id types.RequestID, state RequestState, status types.MessageStatus, body string) {
	s.mu.Lock()
	req, ok := s.open[id]
	if !ok {
		s.mu.Unlock()
		slog.Debug("stale request discarded", "request_id", string(id))
		return
	}
	delete(s.open, id)
	if s.byConversation[req.conversationID] == id {
		delete(s.byConversation, req.conversationID)
	}
	req.state = state
	s.mu.Unlock()

	req.cancel()
	if err := req.timeline.Resolve(req.placeholderID, status, body); err != nil {
		slog.Error("resolve placeholder",
			"request_id", string(id),
			"conversation_id", string(req.conversationID),
			"error", err,
		)
	}
}
