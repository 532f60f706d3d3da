// Package realtime maintains the websocket channel to the StampCircle
// backend and routes its events into the local replica.
package realtime

import "encoding/json"

// Envelope is the wire frame for every realtime event in either
// direction.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ChangeEvent is a database change notification. Record carries the
// full row for INSERT and UPDATE; a DELETE may arrive with only the id.
type ChangeEvent struct {
	Table  string          `json:"table"`
	Type   string          `json:"type"` // INSERT, UPDATE, DELETE
	Record json.RawMessage `json:"record"`
}

// PresenceEvent reports another user coming online or going away.
type PresenceEvent struct {
	UserID int64  `json:"user_id"`
	Status string `json:"status"` // online, away, offline
}

// TypingEvent reports a user typing in a conversation.
type TypingEvent struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
	Typing         bool  `json:"typing"`
}

// BroadcastEvent is a server-wide announcement, shown but never stored.
type BroadcastEvent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// subscribeCmd tells the server which user's event stream we want.
type subscribeCmd struct {
	UserID int64 `json:"user_id"`
}
