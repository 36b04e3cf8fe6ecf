package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lmarrec/gatehouse/adapter"
	"github.com/lmarrec/gatehouse/adapter/memory"
	"github.com/lmarrec/gatehouse/core"
	"github.com/lmarrec/gatehouse/pkg/crypto"
)

const testUserID = "user456"

func newTestManager(t *testing.T) (*Manager, *adapter.Adapter, *memory.Backend) {
	t.Helper()
	backend := memory.New()
	db := adapter.New(backend, core.DefaultSchema(), nil)

	_, err := db.Create(context.Background(), core.ModelUser, adapter.Record{
		"id":    testUserID,
		"email": "ada@example.com",
		"name":  "Ada",
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	m := NewManager(db, NewInMemoryCache(CacheConfig{}), Config{
		MaxAge:    24 * time.Hour,
		UpdateAge: time.Hour,
	}, nil)
	return m, db, backend
}

// Requirement: Create returns the raw token once; storage only ever holds
// its hash.
func TestManagerCreateShouldIssueRawTokenAndStoreHash(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()

	result, err := m.Create(ctx, testUserID, "192.168.1.1", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if result.Token == "" {
		t.Fatal("Create() returned empty token")
	}
	if result.Session.UserID != testUserID {
		t.Errorf("Session.UserID = %q, want %q", result.Session.UserID, testUserID)
	}

	stored, err := db.FindOne(ctx, core.ModelSession, []adapter.Where{
		adapter.Eq("token", crypto.HashToken(result.Token)),
	})
	if err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	if stored == nil {
		t.Fatal("session not stored under its token hash")
	}
	raw, err := db.FindOne(ctx, core.ModelSession, []adapter.Where{
		adapter.Eq("token", result.Token),
	})
	if err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	if raw != nil {
		t.Error("raw token stored in the clear")
	}
}

func TestManagerGetShouldResolveSessionAndUser(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	result, err := m.Create(ctx, testUserID, "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	data, err := m.Get(ctx, result.Token)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if data == nil {
		t.Fatal("Get() returned absent for a live session")
	}
	if data.Session.ID != result.Session.ID {
		t.Errorf("Session.ID = %q, want %q", data.Session.ID, result.Session.ID)
	}
	if data.User == nil || data.User.ID != testUserID {
		t.Errorf("User = %+v, want id %q", data.User, testUserID)
	}
}

func TestManagerGetUnknownTokenShouldReturnAbsent(t *testing.T) {
	m, _, _ := newTestManager(t)

	data, err := m.Get(context.Background(), "never-issued")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if data != nil {
		t.Errorf("Get() = %+v, want nil for unknown token", data)
	}
}

// Requirement: an expired session reads as absent and is purged from
// storage on first sight.
func TestManagerGetExpiredSessionShouldPurge(t *testing.T) {
	m, db, backend := newTestManager(t)
	ctx := context.Background()

	result, err := m.Create(ctx, testUserID, "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	tokenHash := crypto.HashToken(result.Token)

	// Backdate the expiry directly in storage and drop the cached copy.
	_, err = backend.Update(ctx, core.ModelSession,
		[]adapter.Where{adapter.Eq("token", tokenHash)},
		adapter.Record{"expiresAt": time.Now().Add(-time.Minute)},
	)
	if err != nil {
		t.Fatalf("backend Update() error = %v", err)
	}
	m.cache.Delete(ctx, tokenHash)

	data, err := m.Get(ctx, result.Token)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if data != nil {
		t.Fatal("Get() returned an expired session")
	}

	stored, _ := db.FindOne(ctx, core.ModelSession, []adapter.Where{adapter.Eq("token", tokenHash)})
	if stored != nil {
		t.Error("expired session still present in storage after Get()")
	}
}

// Requirement: a lookup past the refresh threshold slides the expiry; a
// fresh session is left alone.
func TestManagerGetSlidingRefresh(t *testing.T) {
	tests := []struct {
		name        string
		age         time.Duration
		wantExtends bool
	}{
		{name: "stale session refreshes", age: 2 * time.Hour, wantExtends: true},
		{name: "fresh session untouched", age: time.Minute, wantExtends: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m, _, backend := newTestManager(t)
			ctx := context.Background()

			result, err := m.Create(ctx, testUserID, "", "")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			tokenHash := crypto.HashToken(result.Token)

			// Shrink the stored expiry so a refresh is observable, then age
			// the session by updatedAt.
			originalExpiry := time.Now().Add(30 * time.Minute)
			_, err = backend.Update(ctx, core.ModelSession,
				[]adapter.Where{adapter.Eq("token", tokenHash)},
				adapter.Record{
					"expiresAt": originalExpiry,
					"updatedAt": time.Now().Add(-test.age),
				},
			)
			if err != nil {
				t.Fatalf("backend Update() error = %v", err)
			}
			m.cache.Delete(ctx, tokenHash)

			data, err := m.Get(ctx, result.Token)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if data == nil {
				t.Fatal("Get() returned absent for a live session")
			}

			extended := data.Session.ExpiresAt.After(originalExpiry.Add(time.Minute))
			if extended != test.wantExtends {
				t.Errorf("expiry extended = %v, want %v (was %v, now %v)",
					extended, test.wantExtends, originalExpiry, data.Session.ExpiresAt)
			}
		})
	}
}

// Requirement: Revoke is terminal and immediate. Once it returns, no
// request, including concurrent ones, resolves the token again.
func TestManagerRevokeShouldBeImmediate(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	result, err := m.Create(ctx, testUserID, "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if data, _ := m.Get(ctx, result.Token); data == nil {
		t.Fatal("session should resolve before revocation")
	}

	if err := m.Revoke(ctx, result.Token); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := m.Get(ctx, result.Token)
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			if data != nil {
				t.Error("Get() resolved a revoked token")
			}
		}()
	}
	wg.Wait()
}

// gateCache wraps a Cache so a test can hold one Set mid-flight and
// interleave other operations around it. Arm it right before the write that
// should block; every other call passes straight through.
type gateCache struct {
	Cache
	armed      atomic.Bool
	enterSet   chan struct{}
	releaseSet chan struct{}
}

func (g *gateCache) Set(ctx context.Context, tokenHash string, sess *core.Session) error {
	if g.armed.CompareAndSwap(true, false) {
		g.enterSet <- struct{}{}
		<-g.releaseSet
	}
	return g.Cache.Set(ctx, tokenHash, sess)
}

// Requirement: revocation stays terminal when it interleaves with a lookup
// that already read the session row from storage. The lookup's cache write
// lands after both of the revocation's cache deletes; it must not leave the
// revoked session servable.
func TestManagerRevokeWinsAgainstInFlightCacheWrite(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	gate := &gateCache{
		Cache:      m.cache,
		enterSet:   make(chan struct{}),
		releaseSet: make(chan struct{}),
	}
	m.cache = gate

	result, err := m.Create(ctx, testUserID, "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	tokenHash := crypto.HashToken(result.Token)

	// Drop the entry Create primed so the next Get goes through storage.
	if err := m.cache.Delete(ctx, tokenHash); err != nil {
		t.Fatalf("cache Delete() error = %v", err)
	}
	gate.armed.Store(true)

	type getResult struct {
		data *core.SessionData
		err  error
	}
	done := make(chan getResult, 1)
	go func() {
		data, err := m.Get(ctx, result.Token)
		done <- getResult{data, err}
	}()

	// The lookup has read the row and is paused on its cache write. Finish
	// the revocation, then let the write land.
	<-gate.enterSet
	if err := m.Revoke(ctx, result.Token); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	close(gate.releaseSet)

	got := <-done
	if got.err != nil {
		t.Fatalf("Get() error = %v", got.err)
	}
	if got.data != nil {
		t.Error("in-flight Get() resolved a revoked token")
	}

	data, err := m.Get(ctx, result.Token)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if data != nil {
		t.Error("Get() resolved a revoked token after revocation completed")
	}
}

func TestManagerUpdateValidation(t *testing.T) {
	tests := []struct {
		name    string
		patch   map[string]any
		wantErr error
	}{
		{name: "empty patch", patch: map[string]any{}, wantErr: core.ErrEmptyUpdate},
		{name: "nil patch", patch: nil, wantErr: core.ErrEmptyUpdate},
		{name: "protected token field", patch: map[string]any{"token": "x"}},
		{name: "protected userId field", patch: map[string]any{"userId": "someone-else"}},
		{name: "protected expiresAt field", patch: map[string]any{"expiresAt": time.Now()}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m, _, _ := newTestManager(t)
			ctx := context.Background()
			result, err := m.Create(ctx, testUserID, "", "")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			_, err = m.Update(ctx, result.Token, test.patch)
			if err == nil {
				t.Fatal("Update() accepted an invalid patch")
			}
			if test.wantErr != nil && !errors.Is(err, test.wantErr) {
				t.Errorf("Update() error = %v, want %v", err, test.wantErr)
			}
		})
	}
}

func TestManagerUpdateShouldPatchAdditionalFields(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	result, err := m.Create(ctx, testUserID, "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	sess, err := m.Update(ctx, result.Token, map[string]any{"impersonatedBy": "admin42"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if sess.Extra["impersonatedBy"] != "admin42" {
		t.Errorf("Extra = %#v, want impersonatedBy set", sess.Extra)
	}

	// The patched value must be visible on the next lookup too.
	data, err := m.Get(ctx, result.Token)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if data.Session.Extra["impersonatedBy"] != "admin42" {
		t.Errorf("lookup Extra = %#v, want impersonatedBy set", data.Session.Extra)
	}
}

func TestManagerUpdateUnknownTokenShouldFail(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Update(context.Background(), "never-issued", map[string]any{"impersonatedBy": "x"})
	if !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("Update() error = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerRevokeAllShouldRemoveEverySession(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		result, err := m.Create(ctx, testUserID, "", "")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		tokens = append(tokens, result.Token)
	}

	n, err := m.RevokeAll(ctx, testUserID)
	if err != nil {
		t.Fatalf("RevokeAll() error = %v", err)
	}
	if n != 3 {
		t.Errorf("RevokeAll() = %d, want 3", n)
	}
	for i, token := range tokens {
		if data, _ := m.Get(ctx, token); data != nil {
			t.Errorf("session %d still resolves after RevokeAll()", i)
		}
	}
}

func TestManagerListDevicesShouldExcludeExpired(t *testing.T) {
	m, _, backend := newTestManager(t)
	ctx := context.Background()

	live, err := m.Create(ctx, testUserID, "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	stale, err := m.Create(ctx, testUserID, "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err = backend.Update(ctx, core.ModelSession,
		[]adapter.Where{adapter.Eq("id", stale.Session.ID)},
		adapter.Record{"expiresAt": time.Now().Add(-time.Minute)},
	)
	if err != nil {
		t.Fatalf("backend Update() error = %v", err)
	}

	sessions, err := m.ListDevices(ctx, testUserID)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("ListDevices() returned %d sessions, want 1", len(sessions))
	}
	if sessions[0].ID != live.Session.ID {
		t.Errorf("ListDevices() returned %q, want the live session %q", sessions[0].ID, live.Session.ID)
	}
}

func TestManagerSetActiveShouldResolveTarget(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	result, err := m.Create(ctx, testUserID, "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	data, err := m.SetActive(ctx, result.Token)
	if err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	if data.Session.ID != result.Session.ID {
		t.Errorf("SetActive() session = %q, want %q", data.Session.ID, result.Session.ID)
	}

	if _, err := m.SetActive(ctx, "never-issued"); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("SetActive(unknown) error = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerPruneExpiredShouldSweepOnlyExpired(t *testing.T) {
	m, _, backend := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, testUserID, "", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	stale, err := m.Create(ctx, testUserID, "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err = backend.Update(ctx, core.ModelSession,
		[]adapter.Where{adapter.Eq("id", stale.Session.ID)},
		adapter.Record{"expiresAt": time.Now().Add(-time.Minute)},
	)
	if err != nil {
		t.Fatalf("backend Update() error = %v", err)
	}

	n, err := m.PruneExpired(ctx)
	if err != nil {
		t.Fatalf("PruneExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PruneExpired() = %d, want 1", n)
	}

	remaining, err := m.ListDevices(ctx, testUserID)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("remaining sessions = %d, want 1", len(remaining))
	}
}
