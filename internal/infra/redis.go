package infra

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the shared client behind the balance cache, rate
// limiters, idempotency keys and the redis queue backend.
type RedisOptions struct {
	URL             string
	PoolSize        int
	ConnectAttempts int
}

// NewRedisClient builds the shared Redis client and waits until it answers PING.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.PoolSize > 0 {
		opt.PoolSize = opts.PoolSize
	}

	client := redis.NewClient(opt)

	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := waitReady(ctx, opts.ConnectAttempts, connectPause, ping); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
