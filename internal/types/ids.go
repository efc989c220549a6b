package types

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type OwnerID string
type ConversationID string
type MessageID string
type RequestID string
type ItemID string

func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

// NewItemID returns a ULID so wardrobe listings sort by creation time
// without consulting AddedAt.
func NewItemID() ItemID {
	return ItemID(ulid.Make().String())
}
