package core

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lmarrec/gatehouse/adapter"
	"github.com/lmarrec/gatehouse/authctx"
	"github.com/lmarrec/gatehouse/cookies"
)

// HandlerFunc is the framework-agnostic endpoint body.
type HandlerFunc func(rc *RequestContext) error

// MiddlewareFunc runs before the endpoint body; a non-nil error
// short-circuits the request and the body never executes.
type MiddlewareFunc func(rc *RequestContext) error

// Endpoint is a framework-agnostic route descriptor. Plugins contribute
// these; the dispatcher collects them once at startup into an immutable
// router table.
type Endpoint struct {
	Path       string
	Method     string
	Handler    HandlerFunc
	Middleware []MiddlewareFunc
	Metadata   EndpointMetadata
}

type EndpointMetadata struct {
	OperationID string
	Description string
}

// RequestContext is the per-request execution state handed to endpoint
// handlers and middleware. Auth is resolved before dispatch and never
// aliases shared resolver state in dynamic mode.
type RequestContext struct {
	Writer  http.ResponseWriter
	Request *http.Request

	Auth     *authctx.Context
	DB       *adapter.Adapter
	Sessions SessionService
	Cookies  *cookies.Codec
	Logger   *slog.Logger

	// Token is the verified raw bearer credential (signed cookie or
	// Authorization header); empty when the request is unauthenticated.
	Token string

	// Session is populated by RequireSession, or lazily by handlers that
	// treat authentication as optional.
	Session *SessionData
}

// JSON writes a response body with the given status.
func (rc *RequestContext) JSON(status int, v any) error {
	rc.Writer.Header().Set("Content-Type", "application/json")
	rc.Writer.WriteHeader(status)
	return json.NewEncoder(rc.Writer).Encode(v)
}

// Fail translates err into the error taxonomy and writes it. Server-side
// causes are logged here and never serialized.
func (rc *RequestContext) Fail(err error) error {
	apiErr := APIErrorFrom(err)
	if apiErr.Status >= http.StatusInternalServerError {
		rc.Logger.Error("request failed",
			"method", rc.Request.Method,
			"path", rc.Request.URL.Path,
			"error", err,
		)
	}
	return rc.JSON(apiErr.Status, apiErr)
}

// DecodeJSON binds a typed request body, rejecting unknown fields.
func (rc *RequestContext) DecodeJSON(dest any) error {
	dec := json.NewDecoder(rc.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return NewAPIError(http.StatusBadRequest, CodeValidationError, "invalid request body")
	}
	return nil
}

// DecodeObject binds a free-form object body (plugin fields). Non-object
// bodies fail with a validation error.
func (rc *RequestContext) DecodeObject() (map[string]any, error) {
	var body map[string]any
	if err := json.NewDecoder(rc.Request.Body).Decode(&body); err != nil {
		return nil, NewAPIError(http.StatusBadRequest, CodeValidationError, "request body must be a JSON object")
	}
	return body, nil
}

// SetSessionCookies emits the token and cache cookies as two separate
// Set-Cookie header entries. The token cookie ages with the session; the
// cache cookie ages with the configured cache TTL.
func (rc *RequestContext) SetSessionCookies(token string, data *SessionData) {
	maxAge := time.Until(data.Session.ExpiresAt)
	if maxAge <= 0 {
		return
	}
	rc.Cookies.SetSessionToken(rc.Writer, token, maxAge, rc.Auth.CookieOptions)
	if err := rc.Cookies.SetSessionData(rc.Writer, data, rc.Auth.CookieOptions); err != nil {
		rc.Logger.Error("failed to write session cache cookie", "error", err)
	}
}

// ClearSessionCookies expires both session cookies.
func (rc *RequestContext) ClearSessionCookies() {
	rc.Cookies.Clear(rc.Writer, rc.Auth.CookieOptions)
}

// RequireSession is the standard endpoint middleware: the request must
// carry a valid, unexpired, unrevoked session.
func RequireSession(rc *RequestContext) error {
	if rc.Session != nil {
		return nil
	}
	if rc.Token == "" {
		return NewAPIError(http.StatusUnauthorized, CodeUnauthorized, "missing session token")
	}
	data, err := rc.Sessions.Get(rc.Request.Context(), rc.Token)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return NewAPIError(http.StatusUnauthorized, CodeSessionExpired, "session expired")
		}
		return err
	}
	if data == nil {
		return NewAPIError(http.StatusUnauthorized, CodeUnauthorized, "invalid session token")
	}
	rc.Session = data
	return nil
}
