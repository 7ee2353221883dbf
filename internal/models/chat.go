package models

import "time"

// FriendEdge is one direction of a friendship. The registry always stores both.
type FriendEdge struct {
	UserID    string    `db:"user_id" json:"user_id"`
	FriendID  string    `db:"friend_id" json:"friend_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ConversationSummary is the derived list row for one peer.
type ConversationSummary struct {
	Peer           User      `json:"peer"`
	LastMessage    *Message  `json:"last_message,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
	UnreadCount    int       `json:"unread_count"`
	LastOpenedAt   time.Time `json:"-"`
}
