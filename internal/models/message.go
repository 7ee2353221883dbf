package models

import (
	"strings"
	"time"
)

// MessageStatus describes the client-side delivery state of a thread entry.
type MessageStatus string

const (
	StatusConfirmed MessageStatus = "confirmed"
	StatusPending   MessageStatus = "pending"
	StatusFailed    MessageStatus = "failed"
)

// ProvisionalPrefix marks ids generated locally before storage confirms a send.
const ProvisionalPrefix = "local-"

// Message represents a direct message between two users.
type Message struct {
	ID         string        `db:"id" json:"id"`
	SenderID   string        `db:"sender_id" json:"sender_id"`
	ReceiverID string        `db:"receiver_id" json:"receiver_id"`
	Body       string        `db:"content" json:"content"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	Status     MessageStatus `db:"-" json:"status,omitempty"`
	ClientID   string        `db:"-" json:"client_id,omitempty"`
}

// Provisional reports whether the message still carries a locally generated id.
func (m Message) Provisional() bool {
	return m.Status == StatusPending || m.Status == StatusFailed || strings.HasPrefix(m.ID, ProvisionalPrefix)
}

// Involves reports whether userID is the sender or the receiver.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Before orders messages by (CreatedAt, ID).
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// PeerOf returns the conversation key of msg from localID's point of view.
func PeerOf(localID string, msg Message) string {
	if msg.SenderID == localID {
		return msg.ReceiverID
	}
	return msg.SenderID
}

// FeedEvent is a normalized insert notification routed to a conversation.
type FeedEvent struct {
	Message Message `json:"message"`
	Peer    string  `json:"peer"`
}
