// Package catalog holds wardrobe items and style preferences in memory.
//
// Snapshots are copies: a recommendation computed against SnapshotFor's
// result keeps its basis even if the owner removes items mid-flight.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/user/stylecore/internal/types"
)

// Store implements types.CatalogStore and types.PreferenceStore.
type Store struct {
	mu    sync.RWMutex
	items map[types.ItemID]types.ClothingItem
	prefs map[types.OwnerID]types.PreferenceSet
}

// NewStore creates an empty catalog store.
func NewStore() *Store {
	return &Store{
		items: make(map[types.ItemID]types.ClothingItem),
		prefs: make(map[types.OwnerID]types.PreferenceSet),
	}
}

// AddItem registers a clothing item. Missing id and AddedAt are filled in.
func (s *Store) AddItem(_ context.Context, item *types.ClothingItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = types.NewItemID()
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now()
	}
	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("add item %s: duplicate id", item.ID)
	}
	s.items[item.ID] = *item
	return nil
}

// RemoveItem deletes an item. Requests already holding a snapshot are
// unaffected.
func (s *Store) RemoveItem(_ context.Context, id types.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("remove item %s: %w", id, types.ErrNotFound)
	}
	delete(s.items, id)
	return nil
}

// SetCategory records the classification result for an item. The category
// is set once; reclassifying is rejected.
func (s *Store) SetCategory(_ context.Context, id types.ItemID, category types.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("set category %s: %w", id, types.ErrNotFound)
	}
	if item.Category != "" {
		return fmt.Errorf("set category %s: already %s: %w", id, item.Category, types.ErrInvalidTransition)
	}
	if !types.ValidCategories[category] {
		return fmt.Errorf("set category %s: unknown category %q", id, category)
	}
	item.Category = category
	s.items[id] = item
	return nil
}

// SnapshotFor returns a copy of the owner's wardrobe ordered by
// (AddedAt, ID).
func (s *Store) SnapshotFor(_ context.Context, owner types.OwnerID) ([]types.ClothingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.ClothingItem
	for _, item := range s.items {
		if item.OwnerID == owner {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns the owner's preferences, defaulting for unseen owners. The
// default is not persisted until the first Put.
func (s *Store) Get(_ context.Context, owner types.OwnerID) (types.PreferenceSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if prefs, ok := s.prefs[owner]; ok {
		return prefs.Clone(), nil
	}
	return types.DefaultPreferences(owner), nil
}

// Put replaces the owner's preferences.
func (s *Store) Put(_ context.Context, prefs types.PreferenceSet) error {
	if prefs.OwnerID == "" {
		return fmt.Errorf("put preferences: missing owner id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefs.OwnerID] = prefs.Clone()
	return nil
}
