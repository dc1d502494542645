package models

import "time"

// Scope is the thread a message belongs to.
type Scope string

const (
	ScopeGroup   Scope = "group"
	ScopePrivate Scope = "private"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeGroup || s == ScopePrivate
}

// KindText is the only kind produced by the chat envelope; other kinds are stored as given.
const KindText = "text"

// Message represents a persisted chat message. Recipient is set iff Scope is private.
type Message struct {
	ID        int64     `json:"id"`
	Author    string    `json:"username"`
	Text      string    `json:"text"`
	Kind      string    `json:"messageType"`
	Scope     Scope     `json:"chatType"`
	Recipient *string   `json:"recipient"`
	CreatedAt time.Time `json:"timestamp"`
	Edited    bool      `json:"is_edited"`
	Deleted   bool      `json:"is_deleted"`
	Read      bool      `json:"read"`
}

// RecipientName returns the recipient or "" for group messages.
func (m Message) RecipientName() string {
	if m.Recipient == nil {
		return ""
	}
	return *m.Recipient
}
