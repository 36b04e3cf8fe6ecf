package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lmarrec/gatehouse/core"
)

// RedisCache is a Cache backed by Redis, for deployments where multiple
// engine instances must share one session cache.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// cachedSession is the Redis value envelope. The token hash is carried
// explicitly because core.Session never serializes it.
type cachedSession struct {
	TokenHash string        `json:"tokenHash"`
	Session   *core.Session `json:"session"`
}

func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "gatehouse:session:"
	}
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(tokenHash string) string { return c.prefix + tokenHash }

func (c *RedisCache) Get(ctx context.Context, tokenHash string) (*core.Session, error) {
	raw, err := c.client.Get(ctx, c.key(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrCacheNotFound
		}
		return nil, err
	}

	var env cachedSession
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Session == nil {
		// A corrupt or foreign entry reads as a miss; the caller falls back
		// to storage.
		_ = c.client.Del(ctx, c.key(tokenHash)).Err()
		return nil, core.ErrCacheNotFound
	}
	env.Session.TokenHash = env.TokenHash
	return env.Session, nil
}

func (c *RedisCache) Set(ctx context.Context, tokenHash string, session *core.Session) error {
	raw, err := json.Marshal(cachedSession{TokenHash: tokenHash, Session: session})
	if err != nil {
		return err
	}

	ttl := c.ttl
	if remaining := time.Until(session.ExpiresAt); remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	return c.client.Set(ctx, c.key(tokenHash), raw, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, tokenHash string) error {
	return c.client.Del(ctx, c.key(tokenHash)).Err()
}

func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
