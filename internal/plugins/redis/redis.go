package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/meowlet/mercury-api/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient dials from a redis:// URL and fails fast when the server does not answer.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	rdb := redis.NewClient(opts)
	if err := (HealthCheck{Client: rdb}).ping(ctx, cfg.PingTimeout); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// HealthCheck exposes a redis client to the /health endpoint.
type HealthCheck struct {
	Client redis.Cmdable
}

func (h HealthCheck) PingContext(ctx context.Context) error {
	if err := h.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (h HealthCheck) ping(ctx context.Context, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return h.PingContext(pingCtx)
}
