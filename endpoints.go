package gatehouse

import (
	"net"
	"net/http"
	"strings"

	"github.com/lmarrec/gatehouse/core"
)

// coreEndpoints declares the built-in route table. Plugin endpoints merge
// in after these; a plugin claiming one of these paths is a startup error.
func (e *Engine) coreEndpoints() []core.Endpoint {
	return []core.Endpoint{
		{
			Path: "/sign-up", Method: http.MethodPost,
			Handler:  e.handleSignUp,
			Metadata: core.EndpointMetadata{OperationID: "signUp", Description: "Register with email and password"},
		},
		{
			Path: "/sign-in", Method: http.MethodPost,
			Handler:  e.handleSignIn,
			Metadata: core.EndpointMetadata{OperationID: "signIn", Description: "Authenticate with email and password"},
		},
		{
			Path: "/sign-out", Method: http.MethodPost,
			Handler:    e.handleSignOut,
			Middleware: []core.MiddlewareFunc{core.RequireSession},
			Metadata:   core.EndpointMetadata{OperationID: "signOut", Description: "Revoke the current session"},
		},
		{
			Path: "/get-session", Method: http.MethodGet,
			Handler:  e.handleGetSession,
			Metadata: core.EndpointMetadata{OperationID: "getSession", Description: "Resolve the current session"},
		},
		{
			Path: "/update-session", Method: http.MethodPost,
			Handler:    e.handleUpdateSession,
			Middleware: []core.MiddlewareFunc{core.RequireSession},
			Metadata:   core.EndpointMetadata{OperationID: "updateSession", Description: "Patch additional session fields"},
		},
		{
			Path: "/delete-user", Method: http.MethodPost,
			Handler:    e.handleDeleteUser,
			Middleware: []core.MiddlewareFunc{core.RequireSession},
			Metadata:   core.EndpointMetadata{OperationID: "deleteUser", Description: "Delete the current user and cascade sessions"},
		},
	}
}

type signUpRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     string  `json:"name"`
	Image    *string `json:"image,omitempty"`
}

func (e *Engine) handleSignUp(rc *core.RequestContext) error {
	var req signUpRequest
	if err := rc.DecodeJSON(&req); err != nil {
		return rc.Fail(err)
	}

	result, err := e.SignUp(rc.Request.Context(), SignUpInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Image:    req.Image,
	}, clientIP(rc.Request), rc.Request.UserAgent())
	if err != nil {
		return rc.Fail(err)
	}

	rc.SetSessionCookies(result.Token, &core.SessionData{User: result.User, Session: result.Session})
	return rc.JSON(http.StatusCreated, result)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (e *Engine) handleSignIn(rc *core.RequestContext) error {
	var req signInRequest
	if err := rc.DecodeJSON(&req); err != nil {
		return rc.Fail(err)
	}

	result, err := e.SignIn(rc.Request.Context(), SignInInput{
		Email:    req.Email,
		Password: req.Password,
	}, clientIP(rc.Request), rc.Request.UserAgent())
	if err != nil {
		return rc.Fail(err)
	}

	rc.SetSessionCookies(result.Token, &core.SessionData{User: result.User, Session: result.Session})
	return rc.JSON(http.StatusOK, result)
}

func (e *Engine) handleSignOut(rc *core.RequestContext) error {
	if err := e.SignOut(rc.Request.Context(), rc.Token); err != nil {
		return rc.Fail(err)
	}
	rc.ClearSessionCookies()
	return rc.JSON(http.StatusOK, map[string]bool{"success": true})
}

// handleGetSession treats authentication as optional: no token or an
// invalid token yields a null body, never an error.
func (e *Engine) handleGetSession(rc *core.RequestContext) error {
	if rc.Token == "" {
		return rc.JSON(http.StatusOK, nil)
	}
	data, err := e.GetSession(rc.Request.Context(), rc.Token)
	if err != nil {
		return rc.Fail(err)
	}
	if data == nil {
		rc.ClearSessionCookies()
		return rc.JSON(http.StatusOK, nil)
	}
	rc.SetSessionCookies(rc.Token, data)
	return rc.JSON(http.StatusOK, data)
}

func (e *Engine) handleUpdateSession(rc *core.RequestContext) error {
	patch, err := rc.DecodeObject()
	if err != nil {
		return rc.Fail(err)
	}

	sess, err := e.UpdateSession(rc.Request.Context(), rc.Token, patch)
	if err != nil {
		return rc.Fail(err)
	}

	data := &core.SessionData{User: rc.Session.User, Session: sess}
	rc.SetSessionCookies(rc.Token, data)
	return rc.JSON(http.StatusOK, data)
}

func (e *Engine) handleDeleteUser(rc *core.RequestContext) error {
	deleted, err := e.DeleteUser(rc.Request.Context(), rc.Session.User.ID)
	if err != nil {
		return rc.Fail(err)
	}
	if !deleted {
		return rc.Fail(core.NewAPIError(http.StatusBadRequest, core.CodeHookAborted, "user deletion aborted"))
	}
	rc.ClearSessionCookies()
	return rc.JSON(http.StatusOK, map[string]bool{"success": true})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
