// Package authctx builds the per-request execution context: resolved base
// URL, request origin, trusted origins and providers, and the effective
// cookie attributes. Two modes exist with different sharing semantics; see
// Resolver.
package authctx

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/lmarrec/gatehouse/cookies"
)

// ErrConfiguration fails a request before any endpoint logic runs: the base
// URL could not be resolved or the request host is not allow-listed.
var ErrConfiguration = errors.New("unable to resolve a trusted base URL for request")

// Config is the static resolver configuration.
type Config struct {
	// BaseURL pins the instance to one address. Leave empty to resolve
	// lazily from the first request.
	BaseURL string

	// BaseURLFunc switches the resolver to dynamic mode: the base URL is a
	// function of the request (multi-tenant hosts). Each request then gets
	// an isolated context.
	BaseURLFunc func(r *http.Request) (string, error)

	// AllowedHosts is the allow-list request-derived hosts are validated
	// against. Entries may be exact ("app.example.com") or wildcard
	// ("*.example.com"). Empty means any host is accepted as the base URL;
	// the request's Origin header only joins the trusted origins when an
	// allow-list is configured.
	AllowedHosts []string

	TrustedOrigins   []string
	TrustedProviders []string

	// CrossSubdomain derives the cookie Domain attribute from the resolved
	// request host so one logical session spans subdomains.
	CrossSubdomain bool

	Cookies cookies.Config
}

// Context is the request-scoped result. In dynamic mode every request gets
// a fresh Context whose slices never alias the resolver's shared state.
type Context struct {
	BaseURL          string
	Origin           string
	TrustedOrigins   []string
	TrustedProviders []string
	CookieOptions    cookies.Options
}

type resolvedBase struct {
	baseURL string
	origin  string
}

// Resolver produces Contexts. The static/unset path caches the first
// resolved base URL in shared state: concurrent first requests race to
// write it, but every writer computes the same value, so a compare-and-swap
// makes the race benign and later requests skip recomputation. The dynamic
// path deliberately never touches this cache.
type Resolver struct {
	cfg    Config
	codec  *cookies.Codec
	shared atomic.Pointer[resolvedBase]
}

func NewResolver(cfg Config, codec *cookies.Codec) (*Resolver, error) {
	r := &Resolver{cfg: cfg, codec: codec}
	if cfg.BaseURL != "" {
		base, err := parseBase(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
		}
		r.shared.Store(base)
	}
	return r, nil
}

// Resolve builds the context for one request. It always recomputes the
// security-sensitive pieces (origin, trusted origins) regardless of mode.
func (r *Resolver) Resolve(req *http.Request) (*Context, error) {
	var base *resolvedBase

	switch {
	case r.cfg.BaseURLFunc != nil:
		raw, err := r.cfg.BaseURLFunc(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		b, err := parseBase(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		if !r.hostAllowed(hostOnly(b.origin)) {
			return nil, fmt.Errorf("%w: host %q not in allow-list", ErrConfiguration, hostOnly(b.origin))
		}
		base = b

	default:
		base = r.shared.Load()
		if base == nil {
			b, err := baseFromRequest(req)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
			}
			if !r.hostAllowed(hostOnly(b.origin)) {
				return nil, fmt.Errorf("%w: host %q not in allow-list", ErrConfiguration, hostOnly(b.origin))
			}
			// First writer wins; racing writers computed the same value.
			r.shared.CompareAndSwap(nil, b)
			base = r.shared.Load()
		}
	}

	ctx := &Context{
		BaseURL:          base.baseURL,
		Origin:           base.origin,
		TrustedOrigins:   r.trustedOrigins(req, base),
		TrustedProviders: append([]string(nil), r.cfg.TrustedProviders...),
		CookieOptions:    r.cookieOptions(req),
	}
	return ctx, nil
}

// trustedOrigins merges the static allow-list with the request-derived
// origin when that origin's host is allow-listed. Without a host allow-list
// the request origin is never auto-trusted; hostAllowed would accept any
// host, and a caller-controlled header must not widen the trusted set. The
// result is a fresh slice on every call.
func (r *Resolver) trustedOrigins(req *http.Request, base *resolvedBase) []string {
	origins := append([]string(nil), r.cfg.TrustedOrigins...)
	origins = append(origins, base.origin)

	if len(r.cfg.AllowedHosts) == 0 {
		return origins
	}
	if reqOrigin := req.Header.Get("Origin"); reqOrigin != "" {
		if u, err := url.Parse(reqOrigin); err == nil && u.Host != "" {
			if r.hostAllowed(u.Hostname()) {
				origins = append(origins, u.Scheme+"://"+u.Host)
			}
		}
	}
	return origins
}

func (r *Resolver) cookieOptions(req *http.Request) cookies.Options {
	opts := r.codec.DefaultOptions()
	if r.cfg.CrossSubdomain {
		if d := cookieDomain(req.Host); d != "" {
			opts.Domain = d
		}
	}
	return opts
}

func (r *Resolver) hostAllowed(host string) bool {
	if len(r.cfg.AllowedHosts) == 0 {
		return true
	}
	for _, allowed := range r.cfg.AllowedHosts {
		if rest, ok := strings.CutPrefix(allowed, "*."); ok {
			if host == rest || strings.HasSuffix(host, "."+rest) {
				return true
			}
			continue
		}
		if host == allowed {
			return true
		}
	}
	return false
}

func parseBase(raw string) (*resolvedBase, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", raw)
	}
	return &resolvedBase{
		baseURL: strings.TrimRight(u.String(), "/"),
		origin:  u.Scheme + "://" + u.Host,
	}, nil
}

func baseFromRequest(req *http.Request) (*resolvedBase, error) {
	host := req.Host
	if host == "" {
		return nil, errors.New("request carries no Host header")
	}
	scheme := "http"
	if req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return parseBase(scheme + "://" + host)
}

func hostOnly(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return origin
	}
	return u.Hostname()
}

// cookieDomain derives a dot-prefixed parent domain from the request host
// so the cookie is sent to every subdomain. Single-label hosts (localhost)
// get no Domain attribute.
func cookieDomain(host string) string {
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return ""
	}
	return "." + strings.Join(labels[len(labels)-2:], ".")
}
