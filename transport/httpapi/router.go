// Package httpapi is the net/http dispatcher: it mounts the engine's merged
// route table on a chi router and handles the per-request plumbing (auth
// context resolution, token extraction, middleware chain).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lmarrec/gatehouse"
	"github.com/lmarrec/gatehouse/core"
)

// NewRouter builds the router from the engine's immutable endpoint table.
// Routes match (method, path) exactly; anything else is chi's 404.
func NewRouter(e *gatehouse.Engine) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route(e.BasePath, func(r chi.Router) {
		for _, ep := range e.Table().Endpoints {
			r.Method(ep.Method, ep.Path, dispatch(e, ep))
		}
	})
	return r
}

// dispatch wires one endpoint: resolve the auth context (failure ends the
// request before any endpoint logic), extract the bearer credential, run the
// middleware chain, then the handler.
func dispatch(e *gatehouse.Engine, ep core.Endpoint) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		auth, err := e.Resolver.Resolve(req)
		if err != nil {
			writeResolveError(w, err)
			return
		}

		rc := e.NewRequestContext(auth)
		rc.Writer = w
		rc.Request = req
		rc.Token = ExtractToken(e, req)

		for _, mw := range ep.Middleware {
			if err := mw(rc); err != nil {
				if ferr := rc.Fail(err); ferr != nil {
					e.Logger.Error("failed to write error response", "error", ferr)
				}
				return
			}
		}

		if err := ep.Handler(rc); err != nil {
			// Handlers write their own responses; a non-nil return here
			// means the response itself could not be written.
			e.Logger.Error("handler failed after response",
				"operation", ep.Metadata.OperationID,
				"error", err,
			)
		}
	})
}

// ExtractToken pulls the raw session credential from the Authorization
// header, falling back to the signed token cookie. Returns "" when neither
// verifies.
func ExtractToken(e *gatehouse.Engine, req *http.Request) string {
	if header := req.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
			return token
		}
	}
	if token, ok := e.Cookies.ReadSessionToken(req); ok {
		return token
	}
	return ""
}

// writeResolveError reports an auth-context failure without consulting any
// endpoint state. No Set-Cookie headers are emitted on this path.
func writeResolveError(w http.ResponseWriter, err error) {
	apiErr := core.APIErrorFrom(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(apiErr)
}
