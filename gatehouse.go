// Package gatehouse assembles a storage-agnostic authentication and session
// engine: a generic database adapter with lifecycle hooks, a signed-cookie
// session codec, a per-request auth context resolver, and a plugin registry
// that merges endpoints, error codes, and schema extensions at startup.
package gatehouse

import (
	"github.com/lmarrec/gatehouse/adapter"
	"github.com/lmarrec/gatehouse/core"
	"github.com/lmarrec/gatehouse/pkg/crypto"
	"github.com/lmarrec/gatehouse/session"
)

// interfaces
type (
	Backend        = adapter.Backend
	Cache          = session.Cache
	SessionService = core.SessionService

	PasswordHandler = crypto.PasswordHandler
)

// structs
type (
	User        = core.User
	Account     = core.Account
	Session     = core.Session
	SessionData = core.SessionData
	APIError    = core.APIError

	Record = adapter.Record
	Where  = adapter.Where
	Schema = adapter.Schema

	CacheStats = session.CacheStats
)

// Constructors & helpers (convenience re-exports)
var (
	NewInMemoryCache     = session.NewInMemoryCache
	NewRedisCache        = session.NewRedisCache
	NewArgon2            = crypto.NewArgon2
	DefaultSessionConfig = session.DefaultConfig
	DefaultSchema        = core.DefaultSchema
)

var (
	ErrUserExists         = core.ErrUserExists
	ErrUserNotFound       = core.ErrUserNotFound
	ErrInvalidCredentials = core.ErrInvalidCredentials
)

var (
	ErrInvalidToken    = core.ErrInvalidToken
	ErrSessionNotFound = core.ErrSessionNotFound
	ErrSessionExpired  = core.ErrSessionExpired
	ErrCacheNotFound   = core.ErrCacheNotFound
)

var (
	ErrEmailRequired    = core.ErrEmailRequired
	ErrPasswordRequired = core.ErrPasswordRequired
	ErrPasswordTooShort = core.ErrPasswordTooShort
	ErrPasswordTooLong  = core.ErrPasswordTooLong
	ErrInvalidEmail     = core.ErrInvalidEmail
	ErrEmptyUpdate      = core.ErrEmptyUpdate
)

var (
	ErrDBAdapterRequired = core.ErrDBAdapterRequired
	ErrSecretRequired    = core.ErrSecretRequired
	ErrSecretTooShort    = core.ErrSecretTooShort
)

var (
	ErrHookAborted  = adapter.ErrHookAborted
	ErrUnknownModel = adapter.ErrUnknownModel
	ErrInvalidQuery = adapter.ErrInvalidQuery
)
