package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/stylecore/internal/catalog"
	"github.com/user/stylecore/internal/timeline"
	"github.com/user/stylecore/internal/types"
	"github.com/user/stylecore/pkg/engine"
)

// stubEngine runs a configurable function per request.
type stubEngine struct {
	fn func(ctx context.Context, req *engine.Request) (string, error)

	mu       sync.Mutex
	requests []*engine.Request
}

func (e *stubEngine) Recommend(ctx context.Context, req *engine.Request) (string, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	return e.fn(ctx, req)
}

func (e *stubEngine) lastRequest() *engine.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.requests) == 0 {
		return nil
	}
	return e.requests[len(e.requests)-1]
}

func newScheduler(t *testing.T, eng engine.Engine, opts ...Option) (*Scheduler, *catalog.Store) {
	t.Helper()
	store := catalog.NewStore()
	s := New(eng, store, store, opts...)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s, store
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met before timeout")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func pendingCount(tl *timeline.Timeline) int {
	var n int
	for _, m := range tl.Snapshot() {
		if m.Status == types.StatusPending {
			n++
		}
	}
	return n
}

func TestSubmitRoundTrip(t *testing.T) {
	eng := &stubEngine{fn: func(ctx context.Context, req *engine.Request) (string, error) {
		return "Try the navy suit", nil
	}}
	s, _ := newScheduler(t, eng)
	tl := timeline.New(types.NewConversationID())

	reqID, err := s.Submit(context.Background(), tl, "alice", types.SenderUser, "Give me an outfit for a wedding")
	if err != nil {
		t.Fatal(err)
	}
	if reqID == "" {
		t.Fatal("expected a request id")
	}

	// Placeholder is visible before the engine resolves.
	if tl.Len() != 2 {
		t.Fatalf("expected 2 messages right after submit, got %d", tl.Len())
	}

	waitFor(t, time.Second, func() bool { return pendingCount(tl) == 0 })

	snap := tl.Snapshot()
	if snap[0].Sender != types.SenderUser || snap[0].Body != "Give me an outfit for a wedding" || snap[0].Status != types.StatusDelivered {
		t.Errorf("unexpected user message: %+v", snap[0])
	}
	if snap[1].Sender != types.SenderAssistant || snap[1].Body != "Try the navy suit" || snap[1].Status != types.StatusDelivered {
		t.Errorf("unexpected assistant message: %+v", snap[1])
	}
	if snap[1].CorrelatesWith != snap[0].ID {
		t.Error("assistant message should correlate with the user message")
	}
	if s.OpenRequests() != 0 {
		t.Errorf("expected no open requests, got %d", s.OpenRequests())
	}
}

func TestSecondSubmitCancelsFirst(t *testing.T) {
	release := make(chan struct{})
	eng := &stubEngine{fn: func(ctx context.Context, req *engine.Request) (string, error) {
		select {
		case <-release:
			return "answer to " + req.Utterance, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	s, _ := newScheduler(t, eng)
	tl := timeline.New(types.NewConversationID())
	ctx := context.Background()

	first, err := s.Submit(ctx, tl, "alice", types.SenderUser, "first question")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Submit(ctx, tl, "alice", types.SenderUser, "second question")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("expected distinct request ids")
	}

	// At most one pending placeholder at any time.
	if n := pendingCount(tl); n != 1 {
		t.Errorf("expected exactly 1 pending placeholder, got %d", n)
	}
	if s.HasOpenRequest(tl.ConversationID()) != true {
		t.Error("second request should be open")
	}

	close(release)
	waitFor(t, time.Second, func() bool { return pendingCount(tl) == 0 })

	snap := tl.Snapshot()
	// Order: user1, placeholder1 (cancelled), user2, placeholder2 (delivered).
	if len(snap) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(snap))
	}
	if snap[1].Status != types.StatusFailed {
		t.Errorf("first placeholder should be failed, got %s", snap[1].Status)
	}
	if snap[3].Status != types.StatusDelivered || snap[3].Body != "answer to second question" {
		t.Errorf("second placeholder should deliver normally: %+v", snap[3])
	}
}

func TestEngineFailureResolvesPlaceholder(t *testing.T) {
	eng := &stubEngine{fn: func(ctx context.Context, req *engine.Request) (string, error) {
		return "", errors.New("model exploded")
	}}
	s, _ := newScheduler(t, eng)
	tl := timeline.New(types.NewConversationID())

	if _, err := s.Submit(context.Background(), tl, "alice", types.SenderUser, "help"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return pendingCount(tl) == 0 })

	snap := tl.Snapshot()
	if snap[1].Status != types.StatusFailed {
		t.Errorf("expected failed placeholder, got %s", snap[1].Status)
	}
	if !strings.Contains(snap[1].Body, "try again") {
		t.Errorf("expected user-facing fallback text, got %q", snap[1].Body)
	}
}

func TestTimeoutResolvesPlaceholder(t *testing.T) {
	eng := &stubEngine{fn: func(ctx context.Context, req *engine.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	s, _ := newScheduler(t, eng, WithTimeout(30*time.Millisecond))
	tl := timeline.New(types.NewConversationID())

	if _, err := s.Submit(context.Background(), tl, "alice", types.SenderUser, "anyone there"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return pendingCount(tl) == 0 })

	snap := tl.Snapshot()
	if snap[1].Status != types.StatusFailed {
		t.Errorf("expected failed placeholder after timeout, got %s", snap[1].Status)
	}
	if !strings.Contains(snap[1].Body, "longer than expected") {
		t.Errorf("expected timeout fallback text, got %q", snap[1].Body)
	}
	if s.OpenRequests() != 0 {
		t.Errorf("timed-out request still open")
	}
}

func TestQueuedRequestTimesOutOnSchedule(t *testing.T) {
	// A wedged engine holds the only slot; requests queued behind it must
	// still resolve by their own deadline, not after it frees the slot.
	eng := &stubEngine{fn: func(ctx context.Context, req *engine.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	timeout := 60 * time.Millisecond
	s, _ := newScheduler(t, eng, WithTimeout(timeout), WithMaxConcurrent(1))
	ctx := context.Background()

	occupant := timeline.New(types.NewConversationID())
	if _, err := s.Submit(ctx, occupant, "alice", types.SenderUser, "slow one"); err != nil {
		t.Fatal(err)
	}
	queued := timeline.New(types.NewConversationID())
	start := time.Now()
	if _, err := s.Submit(ctx, queued, "bob", types.SenderUser, "quick question"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool { return pendingCount(queued) == 0 })
	elapsed := time.Since(start)

	// Generous bound: well under two full timeout periods, which is what
	// waiting for the occupant's slot before starting the clock would cost.
	if elapsed >= 2*timeout {
		t.Errorf("queued request took %v to resolve, want close to %v", elapsed, timeout)
	}
	snap := queued.Snapshot()
	if snap[1].Status != types.StatusFailed {
		t.Errorf("queued placeholder should be failed, got %s", snap[1].Status)
	}
	if !strings.Contains(snap[1].Body, "longer than expected") {
		t.Errorf("expected timeout fallback text, got %q", snap[1].Body)
	}
}

func TestStaleResultIsNoOp(t *testing.T) {
	eng := &stubEngine{fn: func(ctx context.Context, req *engine.Request) (string, error) {
		return "done", nil
	}}
	s, _ := newScheduler(t, eng)
	tl := timeline.New(types.NewConversationID())

	reqID, err := s.Submit(context.Background(), tl, "alice", types.SenderUser, "hi")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return pendingCount(tl) == 0 })
	rev := tl.Revision()

	// Redelivery after resolution must not touch the timeline.
	s.OnResult(reqID, "duplicate")
	s.OnFailure(reqID, errors.New("late failure"))
	s.Cancel(reqID)

	if tl.Revision() != rev {
		t.Errorf("stale callbacks mutated the timeline: revision %d -> %d", rev, tl.Revision())
	}
	if got := tl.Snapshot()[1].Body; got != "done" {
		t.Errorf("assistant body changed to %q", got)
	}

	// Entirely unknown ids are equally harmless.
	s.OnResult(types.NewRequestID(), "ghost")
}

func TestCancelResolvesPlaceholder(t *testing.T) {
	eng := &stubEngine{fn: func(ctx context.Context, req *engine.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	s, _ := newScheduler(t, eng)
	tl := timeline.New(types.NewConversationID())

	reqID, err := s.Submit(context.Background(), tl, "alice", types.SenderUser, "never mind")
	if err != nil {
		t.Fatal(err)
	}
	s.Cancel(reqID)

	snap := tl.Snapshot()
	if snap[1].Status != types.StatusFailed {
		t.Errorf("cancelled placeholder should be failed, got %s", snap[1].Status)
	}
	if s.OpenRequests() != 0 {
		t.Errorf("cancelled request still open")
	}
}

func TestSnapshotBoundAtSubmitTime(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	eng := &stubEngine{fn: func(ctx context.Context, req *engine.Request) (string, error) {
		close(started)
		<-release
		return "ok", nil
	}}
	s, store := newScheduler(t, eng)
	ctx := context.Background()

	item := &types.ClothingItem{OwnerID: "alice", ImageRef: "img/jacket"}
	if err := store.AddItem(ctx, item); err != nil {
		t.Fatal(err)
	}

	tl := timeline.New(types.NewConversationID())
	if _, err := s.Submit(ctx, tl, "alice", types.SenderUser, "what should I wear"); err != nil {
		t.Fatal(err)
	}
	<-started

	// Removing the item mid-flight must not disturb the request's basis.
	if err := store.RemoveItem(ctx, item.ID); err != nil {
		t.Fatal(err)
	}
	close(release)
	waitFor(t, time.Second, func() bool { return pendingCount(tl) == 0 })

	req := eng.lastRequest()
	if req == nil || len(req.Catalog) != 1 || req.Catalog[0].ImageRef != "img/jacket" {
		t.Errorf("engine should have seen the submit-time snapshot: %+v", req)
	}
	if got := tl.Snapshot()[1].Status; got != types.StatusDelivered {
		t.Errorf("request should complete normally, got %s", got)
	}
}

func TestConversationsDoNotInterfere(t *testing.T) {
	eng := &stubEngine{fn: func(ctx context.Context, req *engine.Request) (string, error) {
		return "reply to " + req.Utterance, nil
	}}
	s, _ := newScheduler(t, eng, WithMaxConcurrent(2))
	ctx := context.Background()

	timelines := make([]*timeline.Timeline, 5)
	for i := range timelines {
		timelines[i] = timeline.New(types.NewConversationID())
	}

	var wg sync.WaitGroup
	for _, tl := range timelines {
		wg.Add(1)
		go func(tl *timeline.Timeline) {
			defer wg.Done()
			if _, err := s.Submit(ctx, tl, "alice", types.SenderUser, "hello"); err != nil {
				t.Error(err)
			}
		}(tl)
	}
	wg.Wait()

	for _, tl := range timelines {
		waitFor(t, time.Second, func() bool { return pendingCount(tl) == 0 })
		snap := tl.Snapshot()
		if len(snap) != 2 || snap[1].Body != "reply to hello" {
			t.Errorf("conversation got wrong messages: %+v", snap)
		}
	}
}

func TestStopFailsOpenPlaceholders(t *testing.T) {
	eng := &stubEngine{fn: func(ctx context.Context, req *engine.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	store := catalog.NewStore()
	s := New(eng, store, store)
	s.Start(context.Background())

	tl := timeline.New(types.NewConversationID())
	if _, err := s.Submit(context.Background(), tl, "alice", types.SenderUser, "hello"); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	if n := pendingCount(tl); n != 0 {
		t.Errorf("Stop left %d pending placeholders", n)
	}
}
