package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/meowlet/mercury-api/internal/core/domain"
)

/*
	CREATE TABLE conversation_members (
		conversation_id  UUID NOT NULL REFERENCES conversations(id),
		user_id          TEXT NOT NULL REFERENCES users(id),
		role             TEXT NOT NULL DEFAULT 'member',
		joined_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		left_at          TIMESTAMPTZ,
		is_active        BOOLEAN NOT NULL DEFAULT true,
		PRIMARY KEY (conversation_id, user_id)
	);
*/

type MemberRepo struct {
	db *sql.DB
}

var _ domain.MemberRepository = (*MemberRepo)(nil)

func NewMemberRepo(db *sql.DB) *MemberRepo {
	return &MemberRepo{db: db}
}

func (r *MemberRepo) IsActiveMember(ctx context.Context, convID uuid.UUID, userID string) (bool, error) {
	if convID == uuid.Nil {
		return false, domain.ErrInvalidConversationID
	}
	var ok bool
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_members
			WHERE conversation_id = $1 AND user_id = $2 AND is_active
		)
	`, convID, userID).Scan(&ok)
	return ok, err
}

func (r *MemberRepo) ListActiveMembers(ctx context.Context, convID uuid.UUID) ([]domain.Member, error) {
	if convID == uuid.Nil {
		return nil, domain.ErrInvalidConversationID
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT conversation_id, user_id, role, joined_at, left_at, is_active
		FROM conversation_members
		WHERE conversation_id = $1 AND is_active
		ORDER BY joined_at ASC
	`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(
			&m.ConversationID,
			&m.UserID,
			&m.Role,
			&m.JoinedAt,
			&m.LeftAt,
			&m.IsActive,
		); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
