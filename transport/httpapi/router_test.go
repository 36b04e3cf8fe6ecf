package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/lmarrec/gatehouse"
	"github.com/lmarrec/gatehouse/adapter"
	"github.com/lmarrec/gatehouse/adapter/memory"
	"github.com/lmarrec/gatehouse/authctx"
	"github.com/lmarrec/gatehouse/core"
	"github.com/lmarrec/gatehouse/plugin"
	"github.com/lmarrec/gatehouse/plugin/multisession"
	"github.com/lmarrec/gatehouse/transport/httpapi"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestEngine(t *testing.T, plugins ...plugin.Plugin) (*gatehouse.Engine, http.Handler) {
	t.Helper()
	e, err := gatehouse.New(gatehouse.Config{
		Secret:   testSecret,
		Database: memory.New(),
		Plugins:  plugins,
		Auth:     authctx.Config{BaseURL: "http://app.example.com"},
	})
	if err != nil {
		t.Fatalf("gatehouse.New() error = %v", err)
	}
	return e, httpapi.NewRouter(e)
}

func do(handler http.Handler, method, path string, body any, decorate ...func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, d := range decorate {
		d(req)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func bearer(token string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func signUp(t *testing.T, handler http.Handler, email string) (token string, cookies []*http.Cookie) {
	t.Helper()
	w := do(handler, http.MethodPost, "/api/auth/sign-up", map[string]string{
		"email":    email,
		"password": "password123",
		"name":     "Ada",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("sign-up status = %d, body = %s", w.Code, w.Body.String())
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("sign-up body did not decode: %v", err)
	}
	if result.Token == "" {
		t.Fatal("sign-up response carries no token")
	}
	return result.Token, w.Result().Cookies()
}

// Requirement: sign-up issues a session and sets the token and cache cookies
// as two separate Set-Cookie headers.
func TestRouterSignUpSetsTwoSessionCookies(t *testing.T) {
	e, handler := newTestEngine(t)

	w := do(handler, http.MethodPost, "/api/auth/sign-up", map[string]string{
		"email":    "ada@example.com",
		"password": "password123",
		"name":     "Ada",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	headers := w.Result().Header.Values("Set-Cookie")
	if len(headers) != 2 {
		t.Fatalf("got %d Set-Cookie headers, want 2: %v", len(headers), headers)
	}
	names := map[string]bool{}
	for _, cookie := range w.Result().Cookies() {
		names[cookie.Name] = true
	}
	if !names[e.Cookies.TokenCookieName()] || !names[e.Cookies.DataCookieName()] {
		t.Errorf("cookie names = %v, want token and data cookies", names)
	}
}

func TestRouterSignUpValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]string
		wantCode string
	}{
		{name: "missing email", body: map[string]string{"password": "password123"}, wantCode: core.CodeValidationError},
		{name: "bad email", body: map[string]string{"email": "nope", "password": "password123"}, wantCode: core.CodeValidationError},
		{name: "short password", body: map[string]string{"email": "a@b.co", "password": "short"}, wantCode: core.CodeValidationError},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, handler := newTestEngine(t)
			w := do(handler, http.MethodPost, "/api/auth/sign-up", test.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			var apiErr core.APIError
			json.Unmarshal(w.Body.Bytes(), &apiErr)
			if apiErr.Code != test.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, test.wantCode)
			}
		})
	}
}

func TestRouterDuplicateSignUpConflicts(t *testing.T) {
	_, handler := newTestEngine(t)
	signUp(t, handler, "ada@example.com")

	w := do(handler, http.MethodPost, "/api/auth/sign-up", map[string]string{
		"email":    "ada@example.com",
		"password": "password123",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestRouterGetSessionWithBearerToken(t *testing.T) {
	_, handler := newTestEngine(t)
	token, _ := signUp(t, handler, "ada@example.com")

	w := do(handler, http.MethodGet, "/api/auth/get-session", nil, bearer(token))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var data struct {
		User    *core.User    `json:"user"`
		Session *core.Session `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatalf("body did not decode: %v", err)
	}
	if data.User == nil || data.User.Email != "ada@example.com" {
		t.Errorf("user = %+v, want ada@example.com", data.User)
	}
	if data.Session == nil {
		t.Error("session missing from response")
	}
}

func TestRouterGetSessionWithSignedCookie(t *testing.T) {
	_, handler := newTestEngine(t)
	_, cookies := signUp(t, handler, "ada@example.com")

	w := do(handler, http.MethodGet, "/api/auth/get-session", nil, func(req *http.Request) {
		for _, cookie := range cookies {
			req.AddCookie(cookie)
		}
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if strings.TrimSpace(w.Body.String()) == "null" {
		t.Error("cookie-authenticated get-session returned null")
	}
}

// Requirement: get-session treats authentication as optional. No token and
// an invalid token both yield a 200 with a null body, never an error.
func TestRouterGetSessionUnauthenticatedIsNull(t *testing.T) {
	tests := []struct {
		name     string
		decorate []func(*http.Request)
	}{
		{name: "no credential"},
		{name: "unknown bearer token", decorate: []func(*http.Request){bearer("never-issued")}},
		{name: "unsigned cookie", decorate: []func(*http.Request){func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: "gatehouse.session_token", Value: "forged"})
		}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, handler := newTestEngine(t)
			signUp(t, handler, "ada@example.com")

			w := do(handler, http.MethodGet, "/api/auth/get-session", nil, test.decorate...)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if got := strings.TrimSpace(w.Body.String()); got != "null" {
				t.Errorf("body = %q, want null", got)
			}
		})
	}
}

func TestRouterSignInWrongPasswordIsUniform(t *testing.T) {
	_, handler := newTestEngine(t)
	signUp(t, handler, "ada@example.com")

	for _, body := range []map[string]string{
		{"email": "ada@example.com", "password": "wrong-password"},
		{"email": "ghost@example.com", "password": "password123"},
	} {
		w := do(handler, http.MethodPost, "/api/auth/sign-in", body)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
		var apiErr core.APIError
		json.Unmarshal(w.Body.Bytes(), &apiErr)
		if apiErr.Code != core.CodeInvalidCredentials {
			t.Errorf("code = %q, want %q", apiErr.Code, core.CodeInvalidCredentials)
		}
	}
}

func TestRouterSignOutRevokesAndClearsCookies(t *testing.T) {
	_, handler := newTestEngine(t)
	token, _ := signUp(t, handler, "ada@example.com")

	w := do(handler, http.MethodPost, "/api/auth/sign-out", nil, bearer(token))
	if w.Code != http.StatusOK {
		t.Fatalf("sign-out status = %d, body = %s", w.Code, w.Body.String())
	}
	for _, cookie := range w.Result().Cookies() {
		if cookie.MaxAge != -1 {
			t.Errorf("cookie %q Max-Age = %d, want -1", cookie.Name, cookie.MaxAge)
		}
	}

	after := do(handler, http.MethodGet, "/api/auth/get-session", nil, bearer(token))
	if got := strings.TrimSpace(after.Body.String()); got != "null" {
		t.Errorf("get-session after sign-out = %q, want null", got)
	}
}

func TestRouterUpdateSessionValidation(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{name: "non-object body", body: []string{"not", "an", "object"}},
		{name: "empty object", body: map[string]any{}},
		{name: "protected field", body: map[string]any{"token": "forged"}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, handler := newTestEngine(t)
			token, _ := signUp(t, handler, "ada@example.com")

			w := do(handler, http.MethodPost, "/api/auth/update-session", test.body, bearer(token))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
			}
			var apiErr core.APIError
			json.Unmarshal(w.Body.Bytes(), &apiErr)
			if apiErr.Code != core.CodeValidationError {
				t.Errorf("code = %q, want %q", apiErr.Code, core.CodeValidationError)
			}
		})
	}
}

func TestRouterUpdateSessionPatchesAdditionalFields(t *testing.T) {
	_, handler := newTestEngine(t)
	token, _ := signUp(t, handler, "ada@example.com")

	w := do(handler, http.MethodPost, "/api/auth/update-session",
		map[string]any{"impersonatedBy": "admin42"}, bearer(token))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var data struct {
		Session map[string]any `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatalf("body did not decode: %v", err)
	}
	if data.Session["impersonatedBy"] != "admin42" {
		t.Errorf("session = %v, want impersonatedBy flattened into it", data.Session)
	}
}

func TestRouterProtectedEndpointsRequireSession(t *testing.T) {
	_, handler := newTestEngine(t)

	for _, path := range []string{"/sign-out", "/update-session", "/delete-user"} {
		w := do(handler, http.MethodPost, "/api/auth"+path, map[string]any{"x": "y"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, w.Code)
		}
	}
}

// userGuard vetoes user deletion through the adapter hook pipeline and
// counts after-hook invocations.
type userGuard struct {
	veto       bool
	afterCalls atomic.Int32
}

func (p *userGuard) ID() string                    { return "user-guard" }
func (p *userGuard) Schema() adapter.Schema        { return nil }
func (p *userGuard) Endpoints() []core.Endpoint    { return nil }
func (p *userGuard) ErrorCodes() map[string]string { return nil }

func (p *userGuard) Init(db *adapter.Adapter) error {
	db.RegisterHooks(core.ModelUser, adapter.OperationDelete, adapter.Hooks{
		Before: func(ctx context.Context, record adapter.Record) (*adapter.HookResult, error) {
			if p.veto {
				return &adapter.HookResult{Veto: true}, nil
			}
			return nil, nil
		},
		After: func(ctx context.Context, record adapter.Record) error {
			p.afterCalls.Add(1)
			return nil
		},
	})
	return nil
}

// Requirement: a vetoed delete-user returns 400 HOOK_ABORTED, leaves the
// user and their sessions intact, and never runs the after hook.
func TestRouterDeleteUserVeto(t *testing.T) {
	guard := &userGuard{veto: true}
	e, handler := newTestEngine(t, guard)
	token, _ := signUp(t, handler, "ada@example.com")

	w := do(handler, http.MethodPost, "/api/auth/delete-user", nil, bearer(token))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
	var apiErr core.APIError
	json.Unmarshal(w.Body.Bytes(), &apiErr)
	if apiErr.Code != core.CodeHookAborted {
		t.Errorf("code = %q, want %q", apiErr.Code, core.CodeHookAborted)
	}

	userRec, err := e.DB.FindOne(context.Background(), core.ModelUser,
		[]adapter.Where{adapter.Eq("email", "ada@example.com")})
	if err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	if userRec == nil {
		t.Error("user deleted despite the veto")
	}

	after := do(handler, http.MethodGet, "/api/auth/get-session", nil, bearer(token))
	if strings.TrimSpace(after.Body.String()) == "null" {
		t.Error("session cascaded away despite the veto")
	}
	if guard.afterCalls.Load() != 0 {
		t.Errorf("after hook ran %d times on a vetoed delete", guard.afterCalls.Load())
	}
}

func TestRouterDeleteUserCascades(t *testing.T) {
	guard := &userGuard{veto: false}
	e, handler := newTestEngine(t, guard)
	token, _ := signUp(t, handler, "ada@example.com")

	w := do(handler, http.MethodPost, "/api/auth/delete-user", nil, bearer(token))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if guard.afterCalls.Load() != 1 {
		t.Errorf("after hook ran %d times, want 1", guard.afterCalls.Load())
	}

	userRec, _ := e.DB.FindOne(context.Background(), core.ModelUser,
		[]adapter.Where{adapter.Eq("email", "ada@example.com")})
	if userRec != nil {
		t.Error("user row survived deletion")
	}
	accountRec, _ := e.DB.FindOne(context.Background(), core.ModelAccount, nil)
	if accountRec != nil {
		t.Error("account row survived the cascade")
	}

	after := do(handler, http.MethodGet, "/api/auth/get-session", nil, bearer(token))
	if got := strings.TrimSpace(after.Body.String()); got != "null" {
		t.Errorf("get-session after delete = %q, want null", got)
	}
}

// Requirement: an auth-context resolution failure ends the request before
// any endpoint logic and emits no cookies.
func TestRouterResolveFailure(t *testing.T) {
	e, err := gatehouse.New(gatehouse.Config{
		Secret:   testSecret,
		Database: memory.New(),
		Auth: authctx.Config{
			BaseURLFunc: func(r *http.Request) (string, error) {
				return "https://" + r.Host, nil
			},
			AllowedHosts: []string{"*.example.com"},
		},
	})
	if err != nil {
		t.Fatalf("gatehouse.New() error = %v", err)
	}
	handler := httpapi.NewRouter(e)

	w := do(handler, http.MethodGet, "/api/auth/get-session", nil, func(req *http.Request) {
		req.Host = "evil.attacker.net"
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
	var apiErr core.APIError
	if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("error body did not decode: %v", err)
	}
	if apiErr.Code != core.CodeConfigurationError {
		t.Errorf("code = %q, want %q", apiErr.Code, core.CodeConfigurationError)
	}
	if len(w.Result().Header.Values("Set-Cookie")) != 0 {
		t.Error("resolve failure emitted cookies")
	}
}

// Requirement: multisession switches the active session without revoking
// others and never confirms the existence of another user's session.
func TestRouterMultiSessionEndpoints(t *testing.T) {
	_, handler := newTestEngine(t, multisession.New())
	first, _ := signUp(t, handler, "ada@example.com")

	// A second sign-in gives the same user a second device session.
	signIn := do(handler, http.MethodPost, "/api/auth/sign-in", map[string]string{
		"email":    "ada@example.com",
		"password": "password123",
	})
	if signIn.Code != http.StatusOK {
		t.Fatalf("sign-in status = %d, body = %s", signIn.Code, signIn.Body.String())
	}
	var second struct {
		Token string `json:"token"`
	}
	json.Unmarshal(signIn.Body.Bytes(), &second)

	list := do(handler, http.MethodGet, "/api/auth/list-device-sessions", nil, bearer(first))
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", list.Code, list.Body.String())
	}
	var sessions []json.RawMessage
	if err := json.Unmarshal(list.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("list body did not decode: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("listed %d device sessions, want 2", len(sessions))
	}

	switched := do(handler, http.MethodPost, "/api/auth/set-active-session",
		map[string]string{"sessionToken": second.Token}, bearer(first))
	if switched.Code != http.StatusOK {
		t.Fatalf("set-active status = %d, body = %s", switched.Code, switched.Body.String())
	}
	if len(switched.Result().Header.Values("Set-Cookie")) != 2 {
		t.Error("set-active-session did not rebind the session cookies")
	}

	// A stranger's token reads as not found, never forbidden.
	stranger, _ := signUp(t, handler, "eve@example.com")
	denied := do(handler, http.MethodPost, "/api/auth/set-active-session",
		map[string]string{"sessionToken": stranger}, bearer(first))
	if denied.Code != http.StatusNotFound {
		t.Errorf("cross-user set-active status = %d, want 404", denied.Code)
	}
	var apiErr core.APIError
	json.Unmarshal(denied.Body.Bytes(), &apiErr)
	if apiErr.Code != multisession.CodeDeviceSessionNotFound {
		t.Errorf("code = %q, want %q", apiErr.Code, multisession.CodeDeviceSessionNotFound)
	}
}

func TestRouterUnknownRouteIs404(t *testing.T) {
	_, handler := newTestEngine(t)

	w := do(handler, http.MethodGet, "/api/auth/no-such-route", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
