// Package session owns the session lifecycle: issuing tokens, resolving
// them with a sliding expiry, and terminating them. Only token hashes are
// stored; the raw token leaves the server once, at creation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lmarrec/gatehouse/adapter"
	"github.com/lmarrec/gatehouse/core"
	"github.com/lmarrec/gatehouse/pkg/crypto"
)

// Config tunes session lifetimes.
type Config struct {
	// MaxAge is how long a session lives after issue or refresh.
	MaxAge time.Duration

	// UpdateAge is the sliding-refresh threshold: a lookup that finds the
	// session older than this (by updatedAt) extends it by MaxAge.
	UpdateAge time.Duration

	// CacheTTL bounds how long a session may be served from cache without
	// consulting storage. Zero uses the cache default.
	CacheTTL time.Duration
}

// DefaultConfig returns the stock lifetimes.
func DefaultConfig() Config {
	return Config{
		MaxAge:    24 * time.Hour,
		UpdateAge: time.Hour,
		CacheTTL:  5 * time.Minute,
	}
}

// Manager implements core.SessionService over the generic adapter plus an
// optional cache.
type Manager struct {
	db     *adapter.Adapter
	cache  Cache
	cfg    Config
	logger *slog.Logger

	// activeMu serializes SetActive/WithActive so two concurrent switches
	// on the same browser cannot interleave cookie writes.
	activeMu sync.Mutex
}

var _ core.SessionService = (*Manager)(nil)

func NewManager(db *adapter.Adapter, cache Cache, cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.UpdateAge == 0 {
		cfg.UpdateAge = time.Hour
	}
	if cache == nil {
		cache = NewInMemoryCache(CacheConfig{TTL: cfg.CacheTTL})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{db: db, cache: cache, cfg: cfg, logger: logger}
}

// Create issues a fresh session. The returned Token is the only copy of the
// raw credential; storage and cache hold its hash.
func (m *Manager) Create(ctx context.Context, userID, ipAddress, userAgent string) (*core.CreateSessionResult, error) {
	pair, err := crypto.GenerateHashedToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	record, err := m.db.Create(ctx, core.ModelSession, adapter.Record{
		"userId":    userID,
		"token":     pair.Hash,
		"ipAddress": ipAddress,
		"userAgent": userAgent,
		"expiresAt": now.Add(m.cfg.MaxAge),
	})
	if err != nil {
		return nil, err
	}

	sess := core.SessionFromRecord(record)
	if _, err := m.publish(ctx, pair.Hash, sess); err != nil {
		m.logger.Warn("failed to prime session cache", "error", err)
	}

	return &core.CreateSessionResult{Session: sess, Token: pair.Token}, nil
}

// publish primes the cache with sess, then confirms the backing row still
// exists. A concurrent revocation deletes the row and the cache entry, but
// its cache deletes can both run before a slow write here lands, which
// would leave the revoked session servable until the cache TTL. The
// confirmation read closes that window: a write that lost the race sees the
// row gone and withdraws itself. Returns nil when the session is revoked.
func (m *Manager) publish(ctx context.Context, tokenHash string, sess *core.Session) (*core.Session, error) {
	if err := m.cache.Set(ctx, tokenHash, sess); err != nil {
		m.logger.Warn("failed to prime session cache", "error", err)
		return sess, nil
	}

	confirm, err := m.db.FindOne(ctx, core.ModelSession, []adapter.Where{adapter.Eq("token", tokenHash)})
	if err != nil {
		return nil, err
	}
	if confirm == nil {
		_ = m.cache.Delete(ctx, tokenHash)
		return nil, nil
	}
	return sess, nil
}

// Get resolves a raw token. Expired and revoked sessions read as absent:
// (nil, nil). A lookup past the refresh threshold slides the expiry forward.
func (m *Manager) Get(ctx context.Context, token string) (*core.SessionData, error) {
	tokenHash := crypto.HashToken(token)

	sess, err := m.lookup(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	now := time.Now()
	if !sess.ExpiresAt.After(now) {
		// Expired sessions are purged on first sight.
		if err := m.purge(ctx, tokenHash); err != nil {
			m.logger.Warn("failed to purge expired session", "sessionId", sess.ID, "error", err)
		}
		return nil, nil
	}

	if now.Sub(sess.UpdatedAt) > m.cfg.UpdateAge {
		refreshed, err := m.refresh(ctx, tokenHash, now)
		switch {
		case err != nil:
			m.logger.Warn("session refresh failed", "sessionId", sess.ID, "error", err)
		case refreshed == nil:
			// Revoked while refreshing.
			return nil, nil
		default:
			sess = refreshed
		}
	}

	userRec, err := m.db.FindOne(ctx, core.ModelUser, []adapter.Where{adapter.Eq("id", sess.UserID)})
	if err != nil {
		return nil, err
	}
	if userRec == nil {
		// Orphaned session; the owning user is gone.
		if err := m.purge(ctx, tokenHash); err != nil {
			m.logger.Warn("failed to purge orphaned session", "sessionId", sess.ID, "error", err)
		}
		return nil, nil
	}

	return &core.SessionData{User: core.UserFromRecord(userRec), Session: sess}, nil
}

// lookup consults the cache first, falling back to storage on a miss.
func (m *Manager) lookup(ctx context.Context, tokenHash string) (*core.Session, error) {
	cached, err := m.cache.Get(ctx, tokenHash)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, core.ErrCacheNotFound) {
		m.logger.Warn("session cache read failed", "error", err)
	}

	record, err := m.db.FindOne(ctx, core.ModelSession, []adapter.Where{adapter.Eq("token", tokenHash)})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	return m.publish(ctx, tokenHash, core.SessionFromRecord(record))
}

// refresh extends the session and republishes it to the cache. Returns
// (nil, nil) when the session was revoked between lookup and refresh.
func (m *Manager) refresh(ctx context.Context, tokenHash string, now time.Time) (*core.Session, error) {
	record, err := m.db.Update(ctx, core.ModelSession,
		[]adapter.Where{adapter.Eq("token", tokenHash)},
		adapter.Record{"expiresAt": now.Add(m.cfg.MaxAge)},
	)
	if err != nil {
		return nil, err
	}
	if record == nil {
		_ = m.cache.Delete(ctx, tokenHash)
		return nil, nil
	}

	return m.publish(ctx, tokenHash, core.SessionFromRecord(record))
}

// protectedSessionFields may never be patched through Update.
var protectedSessionFields = map[string]bool{
	"id": true, "userId": true, "token": true,
	"expiresAt": true, "createdAt": true, "updatedAt": true,
}

// Update patches plugin-declared additional fields on the caller's session.
// Core identity and lifetime fields are off limits.
func (m *Manager) Update(ctx context.Context, token string, patch map[string]any) (*core.Session, error) {
	if len(patch) == 0 {
		return nil, core.ErrEmptyUpdate
	}
	for field := range patch {
		if protectedSessionFields[field] {
			return nil, core.NewAPIError(400, core.CodeValidationError,
				fmt.Sprintf("field %q cannot be updated", field))
		}
	}

	tokenHash := crypto.HashToken(token)
	record, err := m.db.Update(ctx, core.ModelSession,
		[]adapter.Where{adapter.Eq("token", tokenHash)},
		adapter.Record(patch),
	)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, core.ErrSessionNotFound
	}

	sess, err := m.publish(ctx, tokenHash, core.SessionFromRecord(record))
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, core.ErrSessionNotFound
	}
	return sess, nil
}

// Revoke terminates the session identified by token. The cache entry is
// dropped before and after the storage delete, and every cache write
// re-verifies the row afterwards (see publish), so a revoked session can
// never be served once this returns.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	return m.purge(ctx, crypto.HashToken(token))
}

func (m *Manager) purge(ctx context.Context, tokenHash string) error {
	if err := m.cache.Delete(ctx, tokenHash); err != nil {
		m.logger.Warn("session cache delete failed", "error", err)
	}
	_, err := m.db.Delete(ctx, core.ModelSession, []adapter.Where{adapter.Eq("token", tokenHash)})
	if cacheErr := m.cache.Delete(ctx, tokenHash); cacheErr != nil {
		m.logger.Warn("session cache delete failed", "error", cacheErr)
	}
	return err
}

// RevokeAll terminates every session of a user, returning how many were
// removed.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (int, error) {
	where := []adapter.Where{adapter.Eq("userId", userID)}
	records, err := m.db.FindMany(ctx, core.ModelSession, where, nil)
	if err != nil {
		return 0, err
	}
	for _, record := range records {
		if hash, ok := record["token"].(string); ok {
			if err := m.cache.Delete(ctx, hash); err != nil {
				m.logger.Warn("session cache delete failed", "error", err)
			}
		}
	}

	n, err := m.db.Delete(ctx, core.ModelSession, where)
	if err != nil {
		return n, err
	}

	for _, record := range records {
		if hash, ok := record["token"].(string); ok {
			_ = m.cache.Delete(ctx, hash)
		}
	}
	return n, nil
}

// ListDevices returns the user's live sessions, newest first.
func (m *Manager) ListDevices(ctx context.Context, userID string) ([]*core.Session, error) {
	records, err := m.db.FindMany(ctx, core.ModelSession,
		[]adapter.Where{
			adapter.Eq("userId", userID),
			{Field: "expiresAt", Op: adapter.OpGt, Value: time.Now()},
		},
		&adapter.QueryOptions{Sort: &adapter.SortBy{Field: "createdAt", Direction: "desc"}},
	)
	if err != nil {
		return nil, err
	}

	sessions := make([]*core.Session, 0, len(records))
	for _, record := range records {
		sessions = append(sessions, core.SessionFromRecord(record))
	}
	return sessions, nil
}

// SetActive resolves the target session for an active-session switch. The
// caller rebinds its cookies to the result; no other session is touched.
func (m *Manager) SetActive(ctx context.Context, token string) (*core.SessionData, error) {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	data, err := m.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, core.ErrSessionNotFound
	}
	return data, nil
}

// PruneExpired deletes sessions whose expiry has passed. Intended for a
// periodic maintenance job.
func (m *Manager) PruneExpired(ctx context.Context) (int, error) {
	return m.db.Delete(ctx, core.ModelSession,
		[]adapter.Where{{Field: "expiresAt", Op: adapter.OpLte, Value: time.Now()}})
}
