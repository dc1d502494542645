package models

// Event types pushed from the server to connected clients.
const (
	EventOnlineUsers  = "online_users"
	EventUnreadCounts = "unread_counts"
	EventChat         = "chat"
	EventUpdate       = "update"
	EventDelete       = "delete"
	EventMessagesRead = "messages_read"
	EventRefresh      = "refresh"
)

// ChatEvent is broadcasted through websockets.
type ChatEvent struct {
	Type string   `json:"type"`
	Data *Message `json:"data,omitempty"`
}

// DeleteEvent notifies clients that a message was tombstoned.
type DeleteEvent struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
}

// RefreshHint tells clients to reload a thread.
type RefreshHint struct {
	ChatType  Scope   `json:"chatType"`
	Recipient *string `json:"recipient"`
}

// RefreshEvent carries a RefreshHint.
type RefreshEvent struct {
	Type string      `json:"type"`
	Data RefreshHint `json:"data"`
}

// OnlineUsersEvent lists every user with at least one live connection.
type OnlineUsersEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// UnreadCountsEvent maps sender to unread private message count.
type UnreadCountsEvent struct {
	Type   string         `json:"type"`
	Counts map[string]int `json:"counts"`
}

// MessagesReadEvent tells a sender that reader has read their private messages.
type MessagesReadEvent struct {
	Type     string `json:"type"`
	Reader   string `json:"reader"`
	Sender   string `json:"sender"`
	ChatWith string `json:"chatWith"`
}
