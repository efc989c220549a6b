package types

import "context"

type CatalogStore interface {
	AddItem(ctx context.Context, item *ClothingItem) error
	RemoveItem(ctx context.Context, id ItemID) error
	SetCategory(ctx context.Context, id ItemID, category Category) error
	// SnapshotFor returns an immutable copy of the owner's wardrobe,
	// ordered by (AddedAt, ID). The copy is what gets bound to a
	// recommendation request at dispatch time.
	SnapshotFor(ctx context.Context, owner OwnerID) ([]ClothingItem, error)
}

type PreferenceStore interface {
	// Get returns the owner's preferences, falling back to
	// DefaultPreferences for owners never seen before.
	Get(ctx context.Context, owner OwnerID) (PreferenceSet, error)
	Put(ctx context.Context, prefs PreferenceSet) error
}

// Recorder persists timeline mutations as they happen. A timeline with no
// recorder is purely in-memory.
type Recorder interface {
	RecordAppend(msg Message) error
	RecordResolve(conversationID ConversationID, id MessageID, status MessageStatus, body string) error
}
