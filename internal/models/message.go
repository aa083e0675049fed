package models

import "time"

// Message is a persisted chat message. Public messages have no recipient.
type Message struct {
	ID          string    `db:"id" json:"id"`
	SenderID    int       `db:"sender_id" json:"sender_id"`
	RecipientID *int      `db:"recipient_id" json:"recipient_id,omitempty"`
	Text        string    `db:"text" json:"text"`
	IsPrivate   bool      `db:"is_private" json:"is_private"`
	Pinned      bool      `db:"pinned" json:"pinned"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// PinEvent signals clients to re-fetch pinned message state.
type PinEvent struct {
	MessageID string `json:"message_id"`
}
