package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/stylecore/internal/types"
)

func TestAddAndSnapshot(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	owner := types.OwnerID("alice")

	base := time.Now()
	for i, ref := range []string{"img/shirt", "img/jeans", "img/boots"} {
		item := &types.ClothingItem{
			OwnerID:  owner,
			ImageRef: ref,
			AddedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.AddItem(ctx, item); err != nil {
			t.Fatal(err)
		}
		if item.ID == "" {
			t.Fatal("AddItem should assign an id")
		}
	}

	// Someone else's item stays out of the snapshot.
	if err := store.AddItem(ctx, &types.ClothingItem{OwnerID: "bob", ImageRef: "img/hat"}); err != nil {
		t.Fatal(err)
	}

	snap, err := store.SnapshotFor(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 3 {
		t.Fatalf("expected 3 items, got %d", len(snap))
	}
	if snap[0].ImageRef != "img/shirt" || snap[2].ImageRef != "img/boots" {
		t.Errorf("snapshot not ordered by AddedAt: %v", snap)
	}
}

func TestRemoveItem(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	item := &types.ClothingItem{OwnerID: "alice", ImageRef: "img/coat"}
	if err := store.AddItem(ctx, item); err != nil {
		t.Fatal(err)
	}
	if err := store.RemoveItem(ctx, item.ID); err != nil {
		t.Fatal(err)
	}
	err := store.RemoveItem(ctx, item.ID)
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotUnaffectedByRemoval(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	owner := types.OwnerID("alice")

	item := &types.ClothingItem{OwnerID: owner, ImageRef: "img/dress"}
	if err := store.AddItem(ctx, item); err != nil {
		t.Fatal(err)
	}

	snap, err := store.SnapshotFor(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.RemoveItem(ctx, item.ID); err != nil {
		t.Fatal(err)
	}

	if len(snap) != 1 || snap[0].ImageRef != "img/dress" {
		t.Errorf("snapshot changed after removal: %v", snap)
	}
}

func TestSetCategoryOnce(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	item := &types.ClothingItem{OwnerID: "alice", ImageRef: "img/blazer"}
	if err := store.AddItem(ctx, item); err != nil {
		t.Fatal(err)
	}

	if err := store.SetCategory(ctx, item.ID, types.CategoryOuterwear); err != nil {
		t.Fatal(err)
	}
	err := store.SetCategory(ctx, item.ID, types.CategoryTop)
	if !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("second SetCategory should fail, got %v", err)
	}

	err = store.SetCategory(ctx, types.NewItemID(), types.CategoryTop)
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown item, got %v", err)
	}
}

func TestPreferencesDefaultAndRoundTrip(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	owner := types.OwnerID("carol")

	prefs, err := store.Get(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if !prefs.Flags[types.PrefDailySuggestions] {
		t.Error("daily suggestions should default on")
	}
	if prefs.Flags[types.PrefDarkMode] {
		t.Error("dark mode should default off")
	}
	if len(prefs.StyleTags) != 3 {
		t.Errorf("expected 3 default style tags, got %v", prefs.StyleTags)
	}

	prefs.Flags[types.PrefDailySuggestions] = false
	prefs.StyleTags = []string{"streetwear"}
	if err := store.Put(ctx, prefs); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if got.Flags[types.PrefDailySuggestions] {
		t.Error("flag update not persisted")
	}
	if len(got.StyleTags) != 1 || got.StyleTags[0] != "streetwear" {
		t.Errorf("style tags not persisted: %v", got.StyleTags)
	}

	// Mutating the returned copy must not touch the store.
	got.Flags[types.PrefDarkMode] = true
	again, _ := store.Get(ctx, owner)
	if again.Flags[types.PrefDarkMode] {
		t.Error("Get must return a copy")
	}
}
