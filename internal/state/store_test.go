package state

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/user/stylecore/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "stylecore.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMessageLogRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	conv := types.NewConversationID()

	user := types.Message{
		ID:             types.NewMessageID(),
		ConversationID: conv,
		Sender:         types.SenderUser,
		Body:           "wedding outfit",
		CreatedAt:      time.Now(),
		Status:         types.StatusDelivered,
	}
	placeholder := types.Message{
		ID:             types.NewMessageID(),
		ConversationID: conv,
		Sender:         types.SenderAssistant,
		Body:           "...",
		CreatedAt:      user.CreatedAt,
		Status:         types.StatusPending,
		CorrelatesWith: user.ID,
	}
	if err := store.RecordAppend(user); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordAppend(placeholder); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordResolve(conv, placeholder.ID, types.StatusDelivered, "Try the navy suit"); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.LoadMessages(ctx, conv)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Body != "wedding outfit" || msgs[0].Sender != types.SenderUser {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Status != types.StatusDelivered || msgs[1].Body != "Try the navy suit" {
		t.Errorf("resolve not persisted: %+v", msgs[1])
	}
	if msgs[1].CorrelatesWith != user.ID {
		t.Errorf("correlation lost: %+v", msgs[1])
	}
}

func TestRecordResolveUnknownMessage(t *testing.T) {
	store := openStore(t)
	err := store.RecordResolve(types.NewConversationID(), types.NewMessageID(), types.StatusFailed, "")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConversationLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	conv := types.NewConversationID()

	if err := store.CreateConversation(ctx, conv, "alice", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.SetClosed(ctx, conv, true); err != nil {
		t.Fatal(err)
	}

	recs, err := store.ListConversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != conv || !recs[0].Closed || recs[0].OwnerID != "alice" {
		t.Errorf("unexpected records: %+v", recs)
	}

	if err := store.DeleteConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteConversation(ctx, conv); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("second delete should be ErrNotFound, got %v", err)
	}
}

func TestItemsRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first := &types.ClothingItem{OwnerID: "alice", ImageRef: "img/shirt"}
	if err := store.AddItem(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &types.ClothingItem{OwnerID: "alice", ImageRef: "img/jeans"}
	if err := store.AddItem(ctx, second); err != nil {
		t.Fatal(err)
	}

	if err := store.SetCategory(ctx, first.ID, types.CategoryTop); err != nil {
		t.Fatal(err)
	}
	if err := store.SetCategory(ctx, first.ID, types.CategoryBottom); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("second SetCategory should fail, got %v", err)
	}

	snap, err := store.SnapshotFor(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected 2 items, got %d", len(snap))
	}
	if snap[0].ImageRef != "img/shirt" || snap[0].Category != types.CategoryTop {
		t.Errorf("unexpected first item: %+v", snap[0])
	}

	if err := store.RemoveItem(ctx, second.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.RemoveItem(ctx, second.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetCategoryConcurrentWritersSetOnce(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	item := &types.ClothingItem{OwnerID: "alice", ImageRef: "img/coat"}
	if err := store.AddItem(ctx, item); err != nil {
		t.Fatal(err)
	}

	categories := []types.Category{types.CategoryTop, types.CategoryOuterwear}
	errs := make(chan error, len(categories))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, cat := range categories {
		wg.Add(1)
		go func(cat types.Category) {
			defer wg.Done()
			<-start
			errs <- store.SetCategory(ctx, item.ID, cat)
		}(cat)
	}
	close(start)
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, types.ErrInvalidTransition):
			lost++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Errorf("expected exactly one writer to win, got %d wins / %d losses", won, lost)
	}

	snap, err := store.SnapshotFor(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 1 || snap[0].Category == "" {
		t.Errorf("item should end up classified exactly once: %+v", snap)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	prefs, err := store.Get(ctx, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if !prefs.Flags[types.PrefDailySuggestions] {
		t.Error("unseen owner should get defaults")
	}

	prefs.Flags[types.PrefDarkMode] = true
	prefs.StyleTags = []string{"vintage"}
	if err := store.Put(ctx, prefs); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Flags[types.PrefDarkMode] || len(got.StyleTags) != 1 || got.StyleTags[0] != "vintage" {
		t.Errorf("preferences not persisted: %+v", got)
	}

	owners, err := store.Owners(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(owners) != 1 || owners[0] != "carol" {
		t.Errorf("unexpected owners: %v", owners)
	}
}
