// Package state is the SQLite-backed durable layer: one append-only
// message log per conversation, one record per clothing item, one record
// per owner for preferences. The core runs fine without it; when
// attached, timelines write through it and conversations survive
// restarts.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/stylecore/internal/types"
)

// Store implements types.Recorder, types.CatalogStore, and
// types.PreferenceStore on a single SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		created_at TEXT NOT NULL,
		closed     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id);

	CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT NOT NULL,
		seq             INTEGER NOT NULL,
		id              TEXT NOT NULL UNIQUE,
		sender          TEXT NOT NULL,
		body            TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		status          TEXT NOT NULL,
		correlates_with TEXT,
		PRIMARY KEY (conversation_id, seq)
	);

	CREATE TABLE IF NOT EXISTS items (
		id        TEXT PRIMARY KEY,
		owner_id  TEXT NOT NULL,
		image_ref TEXT NOT NULL,
		category  TEXT NOT NULL DEFAULT '',
		added_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_owner ON items(owner_id);

	CREATE TABLE IF NOT EXISTS preferences (
		owner_id   TEXT PRIMARY KEY,
		flags      TEXT NOT NULL,
		style_tags TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const timeFormat = time.RFC3339Nano

// --- conversations -----------------------------------------------------

// ConversationRecord is one row of the conversations table.
type ConversationRecord struct {
	ID        types.ConversationID
	OwnerID   types.OwnerID
	CreatedAt time.Time
	Closed    bool
}

// CreateConversation registers a conversation.
func (s *Store) CreateConversation(ctx context.Context, id types.ConversationID, owner types.OwnerID, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, created_at) VALUES (?, ?, ?)`,
		string(id), string(owner), createdAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// SetClosed flips the conversation's closed flag.
func (s *Store) SetClosed(ctx context.Context, id types.ConversationID, closed bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET closed = ? WHERE id = ?`, boolInt(closed), string(id))
	if err != nil {
		return fmt.Errorf("set closed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// DeleteConversation removes the conversation and its message log.
func (s *Store) DeleteConversation(ctx context.Context, id types.ConversationID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// ListConversations returns all conversation records.
func (s *Store) ListConversations(ctx context.Context) ([]ConversationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, created_at, closed FROM conversations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationRecord
	for rows.Next() {
		var rec ConversationRecord
		var createdAt string
		var closed int
		if err := rows.Scan((*string)(&rec.ID), (*string)(&rec.OwnerID), &createdAt, &closed); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		rec.CreatedAt, err = time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		rec.Closed = closed != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- message log (types.Recorder) --------------------------------------

// RecordAppend appends a message to its conversation's log with the next
// sequence number.
func (s *Store) RecordAppend(msg types.Message) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (conversation_id, seq, id, sender, body, created_at, status, correlates_with)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?, ?, ?, ?)`,
		string(msg.ConversationID), string(msg.ConversationID),
		string(msg.ID), string(msg.Sender), msg.Body,
		msg.CreatedAt.UTC().Format(timeFormat), string(msg.Status), string(msg.CorrelatesWith))
	if err != nil {
		return fmt.Errorf("record append: %w", err)
	}
	return nil
}

// RecordResolve updates the persisted status (and body, when non-empty)
// of a message.
func (s *Store) RecordResolve(conversationID types.ConversationID, id types.MessageID, status types.MessageStatus, body string) error {
	res, err := s.db.Exec(`
		UPDATE messages SET status = ?, body = CASE WHEN ? = '' THEN body ELSE ? END
		WHERE conversation_id = ? AND id = ?`,
		string(status), body, body, string(conversationID), string(id))
	if err != nil {
		return fmt.Errorf("record resolve: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// LoadMessages returns the conversation's log in sequence order.
func (s *Store) LoadMessages(ctx context.Context, conversationID types.ConversationID) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, body, created_at, status, correlates_with
		FROM messages WHERE conversation_id = ? ORDER BY seq`,
		string(conversationID))
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		msg := types.Message{ConversationID: conversationID}
		var createdAt string
		if err := rows.Scan(
			(*string)(&msg.ID), (*string)(&msg.Sender), &msg.Body,
			&createdAt, (*string)(&msg.Status), (*string)(&msg.CorrelatesWith),
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt, err = time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// --- catalog (types.CatalogStore) ---------------------------------------

// AddItem registers a clothing item. Missing id and AddedAt are filled in.
func (s *Store) AddItem(ctx context.Context, item *types.ClothingItem) error {
	if item.ID == "" {
		item.ID = types.NewItemID()
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, owner_id, image_ref, category, added_at) VALUES (?, ?, ?, ?, ?)`,
		string(item.ID), string(item.OwnerID), item.ImageRef, string(item.Category),
		item.AddedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("add item: %w", err)
	}
	return nil
}

// RemoveItem deletes an item. Requests already holding a snapshot are
// unaffected.
func (s *Store) RemoveItem(ctx context.Context, id types.ItemID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("remove item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("remove item %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// SetCategory records the classification result for an item, once.
func (s *Store) SetCategory(ctx context.Context, id types.ItemID, category types.Category) error {
	if !types.ValidCategories[category] {
		return fmt.Errorf("set category %s: unknown category %q", id, category)
	}

	// The guarded update is the whole check: only an unclassified row
	// matches, so concurrent writers cannot both win.
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET category = ? WHERE id = ? AND category = ''`, string(category), string(id))
	if err != nil {
		return fmt.Errorf("set category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	// Nothing matched: either the item is gone or it was already set.
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT category FROM items WHERE id = ?`, string(id)).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("set category %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("set category: %w", err)
	}
	return fmt.Errorf("set category %s: already %s: %w", id, current, types.ErrInvalidTransition)
}

// SnapshotFor returns the owner's wardrobe ordered by (AddedAt, ID).
func (s *Store) SnapshotFor(ctx context.Context, owner types.OwnerID) ([]types.ClothingItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, image_ref, category, added_at FROM items WHERE owner_id = ?`, string(owner))
	if err != nil {
		return nil, fmt.Errorf("snapshot items: %w", err)
	}
	defer rows.Close()

	var out []types.ClothingItem
	for rows.Next() {
		item := types.ClothingItem{OwnerID: owner}
		var addedAt string
		if err := rows.Scan((*string)(&item.ID), &item.ImageRef, (*string)(&item.Category), &addedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.AddedAt, err = time.Parse(timeFormat, addedAt)
		if err != nil {
			return nil, fmt.Errorf("parse added_at: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- preferences (types.PreferenceStore) --------------------------------

// Get returns the owner's preferences, defaulting for unseen owners.
func (s *Store) Get(ctx context.Context, owner types.OwnerID) (types.PreferenceSet, error) {
	var flagsJSON, tagsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT flags, style_tags FROM preferences WHERE owner_id = ?`, string(owner)).
		Scan(&flagsJSON, &tagsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return types.DefaultPreferences(owner), nil
	}
	if err != nil {
		return types.PreferenceSet{}, fmt.Errorf("get preferences: %w", err)
	}

	prefs := types.PreferenceSet{OwnerID: owner}
	if err := json.Unmarshal([]byte(flagsJSON), &prefs.Flags); err != nil {
		return types.PreferenceSet{}, fmt.Errorf("unmarshal flags: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &prefs.StyleTags); err != nil {
		return types.PreferenceSet{}, fmt.Errorf("unmarshal style tags: %w", err)
	}
	return prefs, nil
}

// Put replaces the owner's preferences.
func (s *Store) Put(ctx context.Context, prefs types.PreferenceSet) error {
	if prefs.OwnerID == "" {
		return fmt.Errorf("put preferences: missing owner id")
	}
	flagsJSON, err := json.Marshal(prefs.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	tagsJSON, err := json.Marshal(prefs.StyleTags)
	if err != nil {
		return fmt.Errorf("marshal style tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preferences (owner_id, flags, style_tags) VALUES (?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET flags = excluded.flags, style_tags = excluded.style_tags`,
		string(prefs.OwnerID), string(flagsJSON), string(tagsJSON))
	if err != nil {
		return fmt.Errorf("put preferences: %w", err)
	}
	return nil
}

// Owners returns every owner id that has preferences or items on record.
func (s *Store) Owners(ctx context.Context) ([]types.OwnerID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id FROM preferences
		UNION
		SELECT owner_id FROM items`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	var out []types.OwnerID
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		out = append(out, types.OwnerID(owner))
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
