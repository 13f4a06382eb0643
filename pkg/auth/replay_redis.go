package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReplayCache shares the replay set across gateway replicas. SET NX
// with expiry gives the atomic check-and-insert the contract requires.
type RedisReplayCache struct {
	client *redis.Client
	prefix string
}

// NewRedisReplayCache wraps an existing client. Keys are namespaced under
// prefix (default "gangway:jti:").
func NewRedisReplayCache(client *redis.Client, prefix string) *RedisReplayCache {
	if prefix == "" {
		prefix = "gangway:jti:"
	}
	return &RedisReplayCache{client: client, prefix: prefix}
}

func (c *RedisReplayCache) Use(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	first, err := c.client.SetNX(ctx, c.prefix+jti, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("auth: replay setnx: %w", err)
	}
	return first, nil
}
