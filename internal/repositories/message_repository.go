package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-router/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository persists chat messages and their pinned state.
type MessageRepository interface {
	SaveMessage(ctx context.Context, msg models.Message) error
	SetPinned(ctx context.Context, messageID string, pinned bool) error
	ListPinned(ctx context.Context) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// SaveMessage stores a message that was already fanned out.
func (r *MessageRepo) SaveMessage(ctx context.Context, msg models.Message) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO messages (id, sender_id, recipient_id, text, is_private, pinned, created_at)
        VALUES (:id, :sender_id, :recipient_id, :text, :is_private, :pinned, :created_at)`, msg)
	return err
}

// SetPinned updates the pinned flag of a public message.
func (r *MessageRepo) SetPinned(ctx context.Context, messageID string, pinned bool) error {
	if _, err := uuid.Parse(messageID); err != nil {
		return ErrMessageNotFound
	}
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET pinned=$2 WHERE id=$1 AND is_private = FALSE`, messageID, pinned)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListPinned returns pinned public messages, newest first.
func (r *MessageRepo) ListPinned(ctx context.Context) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, sender_id, recipient_id, text, is_private, pinned, created_at
        FROM messages WHERE pinned = TRUE AND is_private = FALSE ORDER BY created_at DESC`)
	return msgs, err
}
