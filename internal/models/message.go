package models

import "time"

// Message represents a chat message row, denormalized with the author's
// display data when it comes from the recent window or history queries.
type Message struct {
	ID            uint64    `json:"id"`
	AuthorID      uint64    `json:"uid"`
	RecipientID   uint64    `json:"touid"` // 0 = public, otherwise a whisper
	Body          string    `json:"message"`
	CreatedAt     time.Time `json:"dateline"`
	AuthorName    string    `json:"username,omitempty"`
	AuthorAvatar  string    `json:"avatar,omitempty"`
	RecipientName string    `json:"to_username,omitempty"`
}

// IsWhisper reports whether the message is addressed to a single recipient.
func (m Message) IsWhisper() bool {
	return m.RecipientID != 0
}

// VisibleTo reports whether userID may see the message.
func (m Message) VisibleTo(userID uint64) bool {
	if !m.IsWhisper() {
		return true
	}
	return userID != 0 && (userID == m.AuthorID || userID == m.RecipientID)
}
