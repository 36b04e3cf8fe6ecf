package gatehouse

import (
	"fmt"
	"log/slog"

	"github.com/lmarrec/gatehouse/adapter"
	"github.com/lmarrec/gatehouse/authctx"
	"github.com/lmarrec/gatehouse/cookies"
	"github.com/lmarrec/gatehouse/core"
	"github.com/lmarrec/gatehouse/pkg/crypto"
	"github.com/lmarrec/gatehouse/plugin"
	"github.com/lmarrec/gatehouse/session"
)

const (
	defaultBasePath  = "/api/auth"
	defaultSecretLen = 32
)

// Config is the programmatic engine configuration. Secret and Database are
// required; everything else has a working default.
type Config struct {
	// Secret signs cookies and cache-cookie JWTs. Minimum 32 characters.
	Secret string

	// Database is the storage backend the generic adapter wraps.
	Database adapter.Backend

	// Plugins extend the engine with models, endpoints, and error codes.
	Plugins []plugin.Plugin

	// Session tunes lifetimes; zero values use session.DefaultConfig.
	Session session.Config

	// Cache overrides the session cache. Nil uses the in-memory cache
	// unless DisableCache is set.
	Cache        session.Cache
	DisableCache bool

	// PasswordHasher defaults to argon2id.
	PasswordHasher crypto.PasswordHandler

	// Auth configures request-context resolution (base URL, trusted
	// origins, cookie attributes).
	Auth authctx.Config

	// BasePath prefixes every route. Defaults to /api/auth.
	BasePath string

	Logger *slog.Logger
}

// Engine is the assembled authentication engine. Transports mount its route
// table; application code calls the auth methods directly.
type Engine struct {
	DB       *adapter.Adapter
	Sessions core.SessionService
	Resolver *authctx.Resolver
	Cookies  *cookies.Codec
	Hasher   crypto.PasswordHandler
	Logger   *slog.Logger
	BasePath string

	table *plugin.Table
}

// New validates config, merges plugin contributions, and wires the engine.
func New(config Config) (*Engine, error) {
	if config.Secret == "" {
		return nil, core.ErrSecretRequired
	}
	if len(config.Secret) < defaultSecretLen {
		return nil, fmt.Errorf("%w - minimum of %d characters", core.ErrSecretTooShort, defaultSecretLen)
	}
	if config.Database == nil {
		return nil, core.ErrDBAdapterRequired
	}

	// Set Defaults

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	basePath := config.BasePath
	if basePath == "" {
		basePath = defaultBasePath
	}

	hasher := config.PasswordHasher
	if hasher == nil {
		hasher = crypto.NewArgon2()
	}

	cache := config.Cache
	if cache == nil {
		if config.DisableCache {
			cache = session.NopCache{}
		} else {
			cache = session.NewInMemoryCache(session.CacheConfig{
				TTL:     config.Session.CacheTTL,
				MaxSize: 500,
			})
		}
	}

	e := &Engine{
		Hasher:   hasher,
		Logger:   logger,
		BasePath: basePath,
	}

	registry := plugin.NewRegistry()
	for _, p := range config.Plugins {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	table, err := registry.Build(core.DefaultSchema(), e.coreEndpoints(), core.DefaultErrorCodes())
	if err != nil {
		return nil, err
	}
	e.table = table

	e.DB = adapter.New(config.Database, table.Schema, logger)
	if err := registry.InitAll(e.DB); err != nil {
		return nil, err
	}

	codec, err := cookies.New(config.Secret, config.Auth.Cookies)
	if err != nil {
		return nil, err
	}
	e.Cookies = codec

	resolver, err := authctx.NewResolver(config.Auth, codec)
	if err != nil {
		return nil, err
	}
	e.Resolver = resolver

	e.Sessions = session.NewManager(e.DB, cache, config.Session, logger)

	return e, nil
}

// Table exposes the merged endpoint/error-code/schema tables. Immutable
// after New returns.
func (e *Engine) Table() *plugin.Table { return e.table }

// NewRequestContext builds the per-request state a transport hands to
// endpoint handlers.
func (e *Engine) NewRequestContext(auth *authctx.Context) *core.RequestContext {
	return &core.RequestContext{
		Auth:     auth,
		DB:       e.DB,
		Sessions: e.Sessions,
		Cookies:  e.Cookies,
		Logger:   e.Logger,
	}
}
