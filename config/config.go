// Package config loads engine settings from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/lmarrec/gatehouse"
	"github.com/lmarrec/gatehouse/adapter"
	"github.com/lmarrec/gatehouse/authctx"
	"github.com/lmarrec/gatehouse/cookies"
	"github.com/lmarrec/gatehouse/plugin"
	"github.com/lmarrec/gatehouse/session"
)

var (
	ErrNilPointer    = errors.New("config: nil pointer passed to Load")
	ErrParsingConfig = errors.New("config: failed to parse environment")
)

// Env is the environment-variable surface of the engine.
type Env struct {
	Secret   string `env:"GATEHOUSE_SECRET,required"`
	BasePath string `env:"GATEHOUSE_BASE_PATH" envDefault:"/api/auth"`

	BaseURL        string   `env:"GATEHOUSE_BASE_URL"`
	AllowedHosts   []string `env:"GATEHOUSE_ALLOWED_HOSTS" envSeparator:","`
	TrustedOrigins []string `env:"GATEHOUSE_TRUSTED_ORIGINS" envSeparator:","`
	CrossSubdomain bool     `env:"GATEHOUSE_CROSS_SUBDOMAIN"`

	DatabaseURL string `env:"GATEHOUSE_DATABASE_URL"`
	RedisURL    string `env:"GATEHOUSE_REDIS_URL"`

	SessionMaxAge    time.Duration `env:"GATEHOUSE_SESSION_MAX_AGE" envDefault:"24h"`
	SessionUpdateAge time.Duration `env:"GATEHOUSE_SESSION_UPDATE_AGE" envDefault:"1h"`
	CacheTTL         time.Duration `env:"GATEHOUSE_CACHE_TTL" envDefault:"5m"`

	CookiePrefix  string `env:"GATEHOUSE_COOKIE_PREFIX" envDefault:"gatehouse"`
	SecureCookies bool   `env:"GATEHOUSE_SECURE_COOKIES"`
	EncryptCache  bool   `env:"GATEHOUSE_ENCRYPT_CACHE_COOKIE"`
}

// Load parses the environment into v. The default .env file is read first
// when present; a missing file is not an error.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	// Ignore errors - the .env file might not exist and that's ok
	_ = godotenv.Load()
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// EngineConfig translates the environment into a gatehouse.Config. The
// storage backend and plugin set stay programmatic; everything tunable from
// deployment comes from here.
func (e Env) EngineConfig(backend adapter.Backend, plugins ...plugin.Plugin) gatehouse.Config {
	return gatehouse.Config{
		Secret:   e.Secret,
		Database: backend,
		Plugins:  plugins,
		BasePath: e.BasePath,
		Session: session.Config{
			MaxAge:    e.SessionMaxAge,
			UpdateAge: e.SessionUpdateAge,
			CacheTTL:  e.CacheTTL,
		},
		Auth: authctx.Config{
			BaseURL:        e.BaseURL,
			AllowedHosts:   e.AllowedHosts,
			TrustedOrigins: e.TrustedOrigins,
			CrossSubdomain: e.CrossSubdomain,
			Cookies: cookies.Config{
				Prefix:   e.CookiePrefix,
				Path:     "/",
				Secure:   e.SecureCookies,
				HTTPOnly: true,
				SameSite: http.SameSiteLaxMode,
				CacheTTL: e.CacheTTL,
				Encrypt:  e.EncryptCache,
			},
		},
	}
}
