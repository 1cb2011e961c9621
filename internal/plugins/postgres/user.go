package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/meowlet/mercury-api/internal/core/domain"
)

/*
	CREATE TABLE users (
		id          TEXT PRIMARY KEY,
		is_online   BOOLEAN NOT NULL DEFAULT false,
		last_seen   TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);
*/

type UserRepo struct {
	db *sql.DB
}

var _ domain.UserRepository = (*UserRepo)(nil)

func NewUserRepository(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, domain.ErrInvalidUserID
	}
	user := &domain.User{ID: id}
	var lastSeen sql.NullTime
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx,
		`SELECT is_online, last_seen, created_at FROM users WHERE id = $1`, id,
	).Scan(&user.IsOnline, &lastSeen, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	user.LastSeen = lastSeen.Time
	return user, nil
}

// SetOnline upserts the presence columns; users are created by the auth service,
// but a first connection must not fail because that row is late.
func (r *UserRepo) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	if id == "" {
		return domain.ErrInvalidUserID
	}
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO users (id, is_online, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET is_online = EXCLUDED.is_online, last_seen = EXCLUDED.last_seen
	`, id, online, at)
	return err
}
