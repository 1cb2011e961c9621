package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meowlet/mercury-api/internal/core/contracts"
	"github.com/meowlet/mercury-api/internal/core/domain"
	"github.com/meowlet/mercury-api/pkg/logging"
)

// Presence is the answer to "is this user online right now".
type Presence struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// UserService is the presence sink: Redis holds the hot online set, Postgres
// keeps is_online/last_seen for everything else that reads users.
type UserService struct {
	repo  domain.UserRepository
	store contracts.PresenceStore
	log   *slog.Logger
}

var _ contracts.PresenceSink = (*UserService)(nil)

func NewUserService(log *slog.Logger, repo domain.UserRepository, store contracts.PresenceStore) *UserService {
	return &UserService{
		repo:  repo,
		store: store,
		log:   log.With(slog.String("component", "user")),
	}
}

func (s *UserService) SetUserOnline(ctx context.Context, userID string) error {
	return s.setPresence(ctx, userID, true)
}

func (s *UserService) SetUserOffline(ctx context.Context, userID string) error {
	return s.setPresence(ctx, userID, false)
}

func (s *UserService) setPresence(ctx context.Context, userID string, online bool) error {
	var storeErr error
	if online {
		storeErr = s.store.SetOnline(ctx, userID)
	} else {
		storeErr = s.store.SetOffline(ctx, userID)
	}
	if storeErr != nil {
		s.log.ErrorContext(ctx, "user - set presence - redis update failed",
			logging.User(userID), slog.Bool("online", online), logging.Err(storeErr))
	}
	// Postgres is written even when Redis is down.
	dbErr := s.repo.SetOnline(ctx, userID, online, time.Now().UTC())
	if dbErr != nil {
		s.log.ErrorContext(ctx, "user - set presence - db update failed",
			logging.User(userID), slog.Bool("online", online), logging.Err(dbErr))
	}
	return errors.Join(storeErr, dbErr)
}

// Refresh bumps the Redis timestamp of users this process still serves.
func (s *UserService) Refresh(ctx context.Context, userIDs []string) error {
	var errs []error
	for _, id := range userIDs {
		if err := s.store.SetOnline(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PruneStale clears users whose Redis entry was not refreshed within ttl,
// typically left behind by a process that died without disconnecting them.
func (s *UserService) PruneStale(ctx context.Context, ttl time.Duration) ([]string, error) {
	stale, err := s.store.PruneStale(ctx, ttl)
	if err != nil {
		return nil, err
	}
	for _, id := range stale {
		if err := s.repo.SetOnline(ctx, id, false, time.Now().UTC()); err != nil {
			s.log.WarnContext(ctx, "user - prune stale - db update failed", logging.User(id), logging.Err(err))
		}
	}
	return stale, nil
}

func (s *UserService) GetPresence(ctx context.Context, userID string) (*Presence, error) {
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	online, err := s.store.IsOnline(ctx, userID)
	if err != nil {
		s.log.WarnContext(ctx, "user - get presence - redis read failed, falling back to db", logging.User(userID), logging.Err(err))
		user, dbErr := s.repo.GetUserByID(ctx, userID)
		if dbErr != nil {
			return nil, dbErr
		}
		p := &Presence{UserID: userID, IsOnline: user.IsOnline}
		if !user.LastSeen.IsZero() {
			p.LastSeen = &user.LastSeen
		}
		return p, nil
	}
	p := &Presence{UserID: userID, IsOnline: online}
	if !online {
		if at, ok, err := s.store.LastSeen(ctx, userID); err == nil && ok {
			p.LastSeen = &at
		}
	}
	return p, nil
}

func (s *UserService) OnlineUsers(ctx context.Context) ([]string, error) {
	return s.store.OnlineUsers(ctx)
}
