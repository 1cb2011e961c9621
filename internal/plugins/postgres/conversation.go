package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/meowlet/mercury-api/internal/core/domain"
)

/*
	CREATE TABLE conversations (
		id             UUID PRIMARY KEY,
		type           TEXT NOT NULL DEFAULT 'direct',
		title          TEXT,
		is_active      BOOLEAN NOT NULL DEFAULT true,
		last_message   TEXT,
		last_activity  TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_by     TEXT NOT NULL REFERENCES users(id),
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	);
*/

type ConversationRepo struct {
	db *sql.DB
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) GetConversationByID(ctx context.Context, convID uuid.UUID) (*domain.Conversation, error) {
	if convID == uuid.Nil {
		return nil, domain.ErrInvalidConversationID
	}
	c := &domain.Conversation{}
	var title, lastMessage sql.NullString
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx, `
		SELECT id, type, title, is_active, last_message, last_activity, created_by, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`, convID).Scan(
		&c.ID,
		&c.Type,
		&title,
		&c.IsActive,
		&lastMessage,
		&c.LastActivity,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	c.Title = title.String
	c.LastMessage = lastMessage.String
	return c, nil
}

func (r *ConversationRepo) UpdateLastActivity(ctx context.Context, convID uuid.UUID, lastMessage string, at time.Time) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = $2, last_activity = $3, updated_at = $3
		WHERE id = $1
	`, convID, lastMessage, at)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}
