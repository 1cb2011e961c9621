package contracts

import (
	"context"
	"time"
)

// PresenceSink is told when a user goes online or fully offline.
type PresenceSink interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
}

// PresenceStore is the shared, TTL-based online set (Redis).
type PresenceStore interface {
	// SetOnline adds/refreshes userID with the current timestamp.
	SetOnline(ctx context.Context, userID string) error
	// SetOffline removes userID and records its last-seen time.
	SetOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineUsers(ctx context.Context) ([]string, error)
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
	// PruneStale drops users not refreshed within ttl and returns them.
	PruneStale(ctx context.Context, ttl time.Duration) ([]string, error)
}
