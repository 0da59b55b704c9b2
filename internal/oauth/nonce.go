// internal/oauth/nonce.go
package oauth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceCache guards against replayed callback states. Remember returns false
// when the nonce has been seen before.
type NonceCache interface {
	Remember(ctx context.Context, nonce string) bool
}

const nonceTTL = 5 * time.Minute

// RedisNonceCache is the shared-deployment implementation (SetNX with TTL).
type RedisNonceCache struct {
	rdb *redis.Client
}

func NewRedisNonceCache(rdb *redis.Client) *RedisNonceCache {
	return &RedisNonceCache{rdb: rdb}
}

func (c *RedisNonceCache) Remember(ctx context.Context, nonce string) bool {
	ok, err := c.rdb.SetNX(ctx, "shopauth:nonce:"+nonce, 1, nonceTTL).Result()
	if err != nil {
		// a cache outage must not lock installs out; the signed cookie still
		// binds the state to this browser
		return true
	}
	return ok
}

// NopNonceCache accepts everything; used when no Redis is configured.
type NopNonceCache struct{}

func (NopNonceCache) Remember(context.Context, string) bool { return true }
