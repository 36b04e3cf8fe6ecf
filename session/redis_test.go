package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lmarrec/gatehouse/core"
)

func newTestRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, "", ttl), mr
}

func TestRedisCacheSetGetShouldRoundTrip(t *testing.T) {
	cache, _ := newTestRedisCache(t, 5*time.Minute)
	ctx := context.Background()
	sess := testSession("session123")
	sess.Extra = map[string]any{"impersonatedBy": "admin42"}

	if err := cache.Set(ctx, sess.TokenHash, sess); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, err := cache.Get(ctx, sess.TokenHash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if retrieved.ID != sess.ID {
		t.Errorf("Expected ID %s, got %s", sess.ID, retrieved.ID)
	}
	if retrieved.TokenHash != sess.TokenHash {
		t.Errorf("Expected TokenHash to survive the round trip, got %q", retrieved.TokenHash)
	}
	if retrieved.Extra["impersonatedBy"] != "admin42" {
		t.Errorf("Expected additional field to survive the round trip, got %#v", retrieved.Extra)
	}
}

func TestRedisCacheGetMissingShouldReturnErrCacheNotFound(t *testing.T) {
	cache, _ := newTestRedisCache(t, 5*time.Minute)

	if _, err := cache.Get(context.Background(), "missing"); !errors.Is(err, core.ErrCacheNotFound) {
		t.Errorf("Expected ErrCacheNotFound, got %v", err)
	}
}

func TestRedisCacheDeleteShouldRemoveEntry(t *testing.T) {
	cache, _ := newTestRedisCache(t, 5*time.Minute)
	ctx := context.Background()
	sess := testSession("session123")

	cache.Set(ctx, sess.TokenHash, sess)
	if err := cache.Delete(ctx, sess.TokenHash); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := cache.Get(ctx, sess.TokenHash); !errors.Is(err, core.ErrCacheNotFound) {
		t.Errorf("Expected ErrCacheNotFound after Delete, got %v", err)
	}
}

func TestRedisCacheEntryShouldExpireWithTTL(t *testing.T) {
	cache, mr := newTestRedisCache(t, time.Minute)
	ctx := context.Background()
	sess := testSession("session123")

	if err := cache.Set(ctx, sess.TokenHash, sess); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := cache.Get(ctx, sess.TokenHash); !errors.Is(err, core.ErrCacheNotFound) {
		t.Errorf("Expected ErrCacheNotFound after TTL, got %v", err)
	}
}

// Requirement: the cache entry never outlives the session itself.
func TestRedisCacheTTLClampedToSessionExpiry(t *testing.T) {
	cache, mr := newTestRedisCache(t, time.Hour)
	ctx := context.Background()
	sess := testSession("session123")
	sess.ExpiresAt = time.Now().Add(time.Minute)

	if err := cache.Set(ctx, sess.TokenHash, sess); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ttl := mr.TTL("gatehouse:session:" + sess.TokenHash)
	if ttl > time.Minute+time.Second {
		t.Errorf("Expected TTL clamped to session expiry, got %v", ttl)
	}
}

func TestRedisCacheCorruptEntryReadsAsMiss(t *testing.T) {
	cache, mr := newTestRedisCache(t, 5*time.Minute)
	ctx := context.Background()

	mr.Set("gatehouse:session:badhash", "{not json")

	if _, err := cache.Get(ctx, "badhash"); !errors.Is(err, core.ErrCacheNotFound) {
		t.Errorf("Expected corrupt entry to read as ErrCacheNotFound, got %v", err)
	}
}

// Requirement: an entry that parses but carries no session payload must read
// as a miss, not crash the lookup, and must be evicted.
func TestRedisCacheEntryWithoutSessionReadsAsMiss(t *testing.T) {
	cache, mr := newTestRedisCache(t, 5*time.Minute)
	ctx := context.Background()

	mr.Set("gatehouse:session:badhash", `{"tokenHash":"badhash"}`)

	if _, err := cache.Get(ctx, "badhash"); !errors.Is(err, core.ErrCacheNotFound) {
		t.Errorf("Expected session-less entry to read as ErrCacheNotFound, got %v", err)
	}
	if mr.Exists("gatehouse:session:badhash") {
		t.Error("Expected session-less entry to be evicted")
	}
}

func TestRedisCacheClearShouldRemoveAllEntries(t *testing.T) {
	cache, _ := newTestRedisCache(t, 5*time.Minute)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		sess := testSession(id)
		if err := cache.Set(ctx, sess.TokenHash, sess); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := cache.Get(ctx, "hash-"+id); !errors.Is(err, core.ErrCacheNotFound) {
			t.Errorf("Expected entry %q cleared, got %v", id, err)
		}
	}
}
