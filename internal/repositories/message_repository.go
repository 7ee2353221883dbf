package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

const messageColumns = `id, sender_id, receiver_id, content, created_at`

// MessageRepository defines interactions for direct messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, senderID, receiverID, content string) (models.Message, error)
	ListConversation(ctx context.Context, userID, peerID string) ([]models.Message, error)
	LastMessages(ctx context.Context, userID string) ([]models.Message, error)
	ListSince(ctx context.Context, userID string, since time.Time) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// CreateMessage stores a message and returns the authoritative copy.
func (r *MessageRepo) CreateMessage(ctx context.Context, senderID, receiverID, content string) (models.Message, error) {
	msg := models.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       content,
		CreatedAt:  r.now(),
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?)`),
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Body, msg.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	msg.Status = models.StatusConfirmed
	return msg, nil
}

// ListConversation returns the messages exchanged by two users in either
// direction, oldest first.
func (r *MessageRepo) ListConversation(ctx context.Context, userID, peerID string) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE (sender_id=? AND receiver_id=?) OR (sender_id=? AND receiver_id=?)
        ORDER BY created_at ASC, id ASC`
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(query), userID, peerID, peerID, userID)
	return msgs, err
}

// LastMessages returns the newest message of every conversation the user
// takes part in.
func (r *MessageRepo) LastMessages(ctx context.Context, userID string) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages m
        WHERE (m.sender_id=? OR m.receiver_id=?)
        AND NOT EXISTS (
            SELECT 1 FROM messages n
            WHERE ((n.sender_id=m.sender_id AND n.receiver_id=m.receiver_id)
                OR (n.sender_id=m.receiver_id AND n.receiver_id=m.sender_id))
            AND (n.created_at > m.created_at OR (n.created_at = m.created_at AND n.id > m.id))
        )
        ORDER BY created_at DESC`
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(query), userID, userID)
	return msgs, err
}

// ListSince returns messages involving the user created after since, oldest first.
func (r *MessageRepo) ListSince(ctx context.Context, userID string, since time.Time) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE (sender_id=? OR receiver_id=?) AND created_at > ?
        ORDER BY created_at ASC, id ASC`
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(query), userID, userID, since.UTC())
	return msgs, err
}
