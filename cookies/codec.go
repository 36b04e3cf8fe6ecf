// Package cookies encodes one logical session into two independent response
// cookies: a signed bearer-token cookie aged to the session expiry, and a
// short-lived cache cookie carrying a signed (optionally encrypted) snapshot
// of session data to skip a storage round-trip on hot paths.
package cookies

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lmarrec/gatehouse/pkg/crypto"
)

const minSecretLength = 32

var (
	ErrSecretRequired = errors.New("cookie secret is required")
	ErrSecretTooShort = errors.New("cookie secret too short")
)

// Config is the static cookie policy. Domain may be overridden per request
// through Options when cross-subdomain mode is on.
type Config struct {
	Prefix   string // cookie name prefix, e.g. "gatehouse"
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
	CacheTTL time.Duration // cache cookie lifetime, independent of session expiry
	Encrypt  bool          // additionally AES-GCM encrypt the cache cookie
}

// Options are the per-request attributes the auth context resolves. They
// exist separately from Config because cross-subdomain mode derives Domain
// from the request host, not from static configuration.
type Options struct {
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

func DefaultConfig() Config {
	return Config{
		Prefix:   "gatehouse",
		Path:     "/",
		HTTPOnly: true,
		SameSite: http.SameSiteLaxMode,
		CacheTTL: 5 * time.Minute,
	}
}

// Codec signs, verifies, and optionally encrypts session cookies.
type Codec struct {
	secret string
	aesKey []byte
	cfg    Config
}

func New(secret string, cfg Config) (*Codec, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrSecretTooShort, minSecretLength)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "gatehouse"
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	// AES-256 wants exactly 32 bytes; derive them from the secret.
	key := sha256.Sum256([]byte(secret))
	return &Codec{secret: secret, aesKey: key[:], cfg: cfg}, nil
}

func (c *Codec) Config() Config { return c.cfg }

// DefaultOptions returns the request-independent attribute set.
func (c *Codec) DefaultOptions() Options {
	return Options{
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		Secure:   c.cfg.Secure,
		HTTPOnly: c.cfg.HTTPOnly,
		SameSite: c.cfg.SameSite,
	}
}

func (c *Codec) TokenCookieName() string { return c.cfg.Prefix + ".session_token" }
func (c *Codec) DataCookieName() string  { return c.cfg.Prefix + ".session_data" }

// SetSessionToken emits the bearer-token cookie. Its Max-Age equals the
// session's own expiry, never the cache cookie's.
func (c *Codec) SetSessionToken(w http.ResponseWriter, token string, maxAge time.Duration, opts Options) {
	value := token + "." + crypto.SignValue(token, c.secret)
	c.set(w, c.TokenCookieName(), value, int(maxAge.Seconds()), opts)
}

// ReadSessionToken extracts and verifies the bearer token. A missing or
// tampered cookie reads as absent, never as an error.
func (c *Codec) ReadSessionToken(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.TokenCookieName())
	if err != nil {
		return "", false
	}
	token, signature, ok := strings.Cut(cookie.Value, ".")
	if !ok || token == "" {
		return "", false
	}
	if !crypto.VerifySignature(token, signature, c.secret) {
		return "", false
	}
	return token, true
}

type cacheClaims struct {
	Data json.RawMessage `json:"data"`
	jwt.RegisteredClaims
}

// SetSessionData emits the cache cookie: an HS256 JWT over the payload,
// aged to the configured cache TTL independently of the token cookie.
func (c *Codec) SetSessionData(w http.ResponseWriter, payload any, opts Options) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}

	now := time.Now()
	claims := &cacheClaims{
		Data: data,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.CacheTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.secret))
	if err != nil {
		return fmt.Errorf("sign session data: %w", err)
	}

	value := signed
	if c.cfg.Encrypt {
		value, err = c.encrypt(signed)
		if err != nil {
			return err
		}
	}

	c.set(w, c.DataCookieName(), value, int(c.cfg.CacheTTL.Seconds()), opts)
	return nil
}

// ReadSessionData verifies the cache cookie and unmarshals the snapshot into
// dest. Any verification failure reads as absent so the caller falls back to
// a storage lookup.
func (c *Codec) ReadSessionData(r *http.Request, dest any) bool {
	cookie, err := r.Cookie(c.DataCookieName())
	if err != nil {
		return false
	}
	value := cookie.Value
	if c.cfg.Encrypt {
		var err error
		value, err = c.decrypt(value)
		if err != nil {
			return false
		}
	}

	claims := &cacheClaims{}
	parsed, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(c.secret), nil
	})
	if err != nil || !parsed.Valid {
		return false
	}
	return json.Unmarshal(claims.Data, dest) == nil
}

// Clear expires both cookies. Used on sign-out and whenever a response must
// not carry session state.
func (c *Codec) Clear(w http.ResponseWriter, opts Options) {
	c.set(w, c.TokenCookieName(), "", -1, opts)
	c.set(w, c.DataCookieName(), "", -1, opts)
}

// set emits exactly one Set-Cookie header entry per call. The token and
// cache cookies must never share one comma-joined header: conforming
// clients would misparse the attributes and the token cookie would inherit
// the cache cookie's shorter Max-Age.
func (c *Codec) set(w http.ResponseWriter, name, value string, maxAge int, opts Options) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   maxAge,
		Secure:   opts.Secure,
		HttpOnly: opts.HTTPOnly,
		SameSite: opts.SameSite,
	})
}

func (c *Codec) encrypt(value string) (string, error) {
	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	// Prepend nonce to ciphertext for self-contained decryption
	ciphertext := gcm.Seal(nonce, nonce, []byte(value), nil)
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

func (c *Codec) decrypt(encrypted string) (string, error) {
	ciphertext, err := base64.RawURLEncoding.DecodeString(encrypted)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
