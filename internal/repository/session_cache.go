package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// sessionKeyPrefix / sessionTTL follow the teacher's concurrency_cache.go key
// and TTL conventions, repurposed from slot-counting to sticky-session
// binding so multiple gateway instances behind a load balancer still route a
// given session to the same pooled account (DESIGN.md, C3).
const (
	sessionKeyPrefix = "antigravity:session:"
	sessionTTL       = 10 * time.Minute
)

// RedisSessionCache is the pool.SessionCache adapter.
type RedisSessionCache struct {
	rdb *redis.Client
}

func NewRedisSessionCache(rdb *redis.Client) *RedisSessionCache {
	return &RedisSessionCache{rdb: rdb}
}

func (c *RedisSessionCache) Get(ctx context.Context, sessionKey string) (string, bool) {
	accountID, err := c.rdb.Get(ctx, sessionKeyPrefix+sessionKey).Result()
	if err != nil {
		return "", false
	}
	return accountID, accountID != ""
}

func (c *RedisSessionCache) Set(ctx context.Context, sessionKey, accountID string) error {
	return c.rdb.Set(ctx, sessionKeyPrefix+sessionKey, accountID, sessionTTL).Err()
}
