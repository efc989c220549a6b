package types

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// MessageStatus is the delivery state of a message. User and system
// messages are delivered immediately; assistant messages start pending
// and resolve exactly once to delivered or failed.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
)

// Terminal reports whether the status admits no further transition.
func (s MessageStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Message is one entry in a conversation timeline. Messages are totally
// ordered by (CreatedAt, ID) within a conversation and never move once
// appended.
type Message struct {
	ID             MessageID      `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	Sender         Sender         `json:"sender"`
	Body           string         `json:"body"`
	CreatedAt      time.Time      `json:"created_at"`
	Status         MessageStatus  `json:"status"`
	CorrelatesWith MessageID      `json:"correlates_with,omitempty"`
}

// ClothingItem is a single wardrobe entry. Immutable after creation
// except Category, which a classification step sets once.
type ClothingItem struct {
	ID       ItemID    `json:"id"`
	OwnerID  OwnerID   `json:"owner_id"`
	ImageRef string    `json:"image_ref"`
	Category Category  `json:"category,omitempty"`
	AddedAt  time.Time `json:"added_at"`
}

// Category is the classified kind of a clothing item. Empty means not
// yet classified.
type Category string

const (
	CategoryTop       Category = "top"
	CategoryBottom    Category = "bottom"
	CategoryDress     Category = "dress"
	CategoryOuterwear Category = "outerwear"
	CategoryShoes     Category = "shoes"
	CategoryAccessory Category = "accessory"
)

// ValidCategories are the categories the classification collaborator may set.
var ValidCategories = map[Category]bool{
	CategoryTop:       true,
	CategoryBottom:    true,
	CategoryDress:     true,
	CategoryOuterwear: true,
	CategoryShoes:     true,
	CategoryAccessory: true,
}

// PreferenceSet holds an owner's named boolean preferences and free-form
// style tags. Mutated only by explicit user action; the scheduler reads
// snapshots of it.
type PreferenceSet struct {
	OwnerID   OwnerID         `json:"owner_id"`
	Flags     map[string]bool `json:"flags"`
	StyleTags []string        `json:"style_tags"`
}

// Preference flag names the core knows about.
const (
	PrefDarkMode          = "dark_mode"
	PrefPushNotifications = "push_notifications"
	PrefDailySuggestions  = "daily_suggestions"
)

// DefaultPreferences returns the preference set assigned to an owner on
// first contact.
func DefaultPreferences(owner OwnerID) PreferenceSet {
	return PreferenceSet{
		OwnerID: owner,
		Flags: map[string]bool{
			PrefDarkMode:          false,
			PrefPushNotifications: true,
			PrefDailySuggestions:  true,
		},
		StyleTags: []string{"casual", "professional", "athletic"},
	}
}

// Clone returns a deep copy safe to hand to an in-flight request.
func (p PreferenceSet) Clone() PreferenceSet {
	out := PreferenceSet{OwnerID: p.OwnerID}
	if p.Flags != nil {
		out.Flags = make(map[string]bool, len(p.Flags))
		for k, v := range p.Flags {
			out.Flags[k] = v
		}
	}
	if p.StyleTags != nil {
		out.StyleTags = append([]string(nil), p.StyleTags...)
	}
	return out
}
