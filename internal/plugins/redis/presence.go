package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/meowlet/mercury-api/internal/core/contracts"
	"github.com/redis/go-redis/v9"
)

const (
	onlineKey      = "presence:users"
	lastSeenPrefix = "presence:lastseen:"
	lastSeenTTL    = 30 * 24 * time.Hour
)

// RedisPresenceStore keeps the cluster-wide online set as a ZSET scored by the
// last refresh (unix seconds). Each process refreshes the users it serves; a
// crashed process stops refreshing and its users are pruned as stale.
type RedisPresenceStore struct {
	rdb redis.Cmdable
	now func() time.Time
}

var _ contracts.PresenceStore = (*RedisPresenceStore)(nil)

func NewRedisPresenceStore(rdb redis.Cmdable) *RedisPresenceStore {
	return &RedisPresenceStore{
		rdb: rdb,
		now: time.Now,
	}
}

// SetOnline adds/updates userID in the online set with the current timestamp.
func (p *RedisPresenceStore) SetOnline(ctx context.Context, userID string) error {
	return p.rdb.ZAdd(ctx, onlineKey, redis.Z{
		Score:  float64(p.now().Unix()),
		Member: userID,
	}).Err()
}

// SetOffline removes userID and stamps its last-seen time.
func (p *RedisPresenceStore) SetOffline(ctx context.Context, userID string) error {
	now := p.now()
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, onlineKey, userID)
		pipe.Set(ctx, lastSeenPrefix+userID, now.Unix(), lastSeenTTL)
		return nil
	})
	return err
}

func (p *RedisPresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	_, err := p.rdb.ZScore(ctx, onlineKey, userID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *RedisPresenceStore) OnlineUsers(ctx context.Context) ([]string, error) {
	return p.rdb.ZRange(ctx, onlineKey, 0, -1).Result()
}

func (p *RedisPresenceStore) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	secs, err := p.rdb.Get(ctx, lastSeenPrefix+userID).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(secs, 0).UTC(), true, nil
}

// PruneStale removes users whose score is older than ttl and returns them.
func (p *RedisPresenceStore) PruneStale(ctx context.Context, ttl time.Duration) ([]string, error) {
	now := p.now()
	cutoff := strconv.FormatInt(now.Add(-ttl).Unix(), 10)
	stale, err := p.rdb.ZRangeByScore(ctx, onlineKey, &redis.ZRangeBy{Min: "-inf", Max: "(" + cutoff}).Result()
	if err != nil || len(stale) == 0 {
		return nil, err
	}
	members := make([]any, len(stale))
	for i, id := range stale {
		members[i] = id
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, onlineKey, members...)
		for _, id := range stale {
			pipe.Set(ctx, lastSeenPrefix+id, now.Unix(), lastSeenTTL)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stale, nil
}
