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
	CREATE TABLE messages (
		id               UUID PRIMARY KEY,
		conversation_id  UUID NOT NULL REFERENCES conversations(id),
		sender_id        TEXT NOT NULL REFERENCES users(id),
		content          TEXT NOT NULL,
		type             TEXT NOT NULL DEFAULT 'text',
		reply_to         UUID REFERENCES messages(id),
		is_edited        BOOLEAN NOT NULL DEFAULT false,
		edited_at        TIMESTAMPTZ,
		is_deleted       BOOLEAN NOT NULL DEFAULT false,
		deleted_at       TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX messages_conversation_created_idx ON messages (conversation_id, created_at DESC);

	CREATE TABLE message_reads (
		message_id  UUID NOT NULL REFERENCES messages(id),
		user_id     TEXT NOT NULL REFERENCES users(id),
		read_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (message_id, user_id)
	);
*/

const messageColumns = `id, conversation_id, sender_id, content, type, reply_to,
	is_edited, edited_at, is_deleted, deleted_at, created_at, updated_at`

type MessageRepo struct {
	db *sql.DB
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	if msg.ConversationID == uuid.Nil {
		return domain.ErrInvalidConversationID
	}
	var replyTo uuid.NullUUID
	if msg.ReplyTo != nil {
		replyTo = uuid.NullUUID{UUID: *msg.ReplyTo, Valid: true}
	}
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, sender_id, content, type, reply_to, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Content,
		string(msg.Type),
		replyTo,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	return err
}

func (r *MessageRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	if id == uuid.Nil {
		return nil, domain.ErrInvalidMessageID
	}
	exec := GetExecutor(ctx, r.db)
	row := exec.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	reads, err := r.readsFor(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	msg.ReadBy = reads[id]
	if msg.ReadBy == nil {
		msg.ReadBy = []domain.ReadReceipt{}
	}
	return msg, nil
}

// ListByConversation returns one page, newest first, and the conversation's total message count.
func (r *MessageRepo) ListByConversation(ctx context.Context, convID uuid.UUID, page domain.Page) ([]domain.Message, int, error) {
	if convID == uuid.Nil {
		return nil, 0, domain.ErrInvalidConversationID
	}
	page = page.Normalize()
	exec := GetExecutor(ctx, r.db)

	var total int
	if err := exec.QueryRowContext(ctx,
		`SELECT count(*) FROM messages WHERE conversation_id = $1`, convID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := exec.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, convID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	msgs := []domain.Message{}
	ids := []uuid.UUID{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		msgs = append(msgs, *m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return msgs, total, nil
	}

	reads, err := r.readsFor(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range msgs {
		if rr, ok := reads[msgs[i].ID]; ok {
			msgs[i].ReadBy = rr
		} else {
			msgs[i].ReadBy = []domain.ReadReceipt{}
		}
	}
	return msgs, total, nil
}

func (r *MessageRepo) UpdateContent(ctx context.Context, id uuid.UUID, content string, at time.Time) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE messages
		SET content = $2, is_edited = true, edited_at = $3, updated_at = $3
		WHERE id = $1 AND NOT is_deleted
	`, id, content, at)
	return affectedOne(result, err)
}

func (r *MessageRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE messages
		SET is_deleted = true, deleted_at = $2, updated_at = $2
		WHERE id = $1 AND NOT is_deleted
	`, id, at)
	return affectedOne(result, err)
}

func (r *MessageRepo) MarkRead(ctx context.Context, id uuid.UUID, userID string, at time.Time) error {
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, id, userID, at)
	return err
}

func (r *MessageRepo) readsFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]domain.ReadReceipt, error) {
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT message_id, user_id, read_at
		FROM message_reads
		WHERE message_id = ANY($1::uuid[])
		ORDER BY read_at ASC
	`, strIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID][]domain.ReadReceipt, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var rr domain.ReadReceipt
		if err := rows.Scan(&id, &rr.UserID, &rr.ReadAt); err != nil {
			return nil, err
		}
		out[id] = append(out[id], rr)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*domain.Message, error) {
	var (
		m         domain.Message
		replyTo   uuid.NullUUID
		editedAt  sql.NullTime
		deletedAt sql.NullTime
	)
	if err := s.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.Content,
		&m.Type,
		&replyTo,
		&m.IsEdited,
		&editedAt,
		&m.IsDeleted,
		&deletedAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if replyTo.Valid {
		m.ReplyTo = &replyTo.UUID
	}
	if editedAt.Valid {
		m.EditedAt = &editedAt.Time
	}
	if deletedAt.Valid {
		m.DeletedAt = &deletedAt.Time
	}
	return &m, nil
}

func affectedOne(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}
