// Package engine defines the recommendation engine contract.
//
// The core depends only on this narrow call; the actual ranking or
// matching algorithm is an external capability behind it.
package engine

import (
	"context"

	"github.com/user/stylecore/internal/types"
)

// Request is the derived recommendation request the scheduler dispatches.
// Catalog and Preferences are snapshots taken at submit time; engines must
// treat them as read-only.
type Request struct {
	ID             types.RequestID      `json:"request_id"`
	ConversationID types.ConversationID `json:"conversation_id"`
	OwnerID        types.OwnerID        `json:"owner_id"`
	Utterance      string               `json:"utterance"`
	Prompt         string               `json:"prompt,omitempty"`
	Catalog        []types.ClothingItem `json:"catalog"`
	Preferences    types.PreferenceSet  `json:"preferences"`
}

// Engine produces recommendation text for a request. Implementations
// should honor ctx cancellation as a best-effort abandon signal; the
// scheduler's stale-request check is the authoritative guard either way.
type Engine interface {
	Recommend(ctx context.Context, req *Request) (string, error)
}

// Config holds common configuration for remote engines.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}
