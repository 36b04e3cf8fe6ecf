// Package multisession lets one browser hold several live sessions and
// switch which one is active without revoking the others.
package multisession

import (
	"errors"
	"net/http"

	"github.com/lmarrec/gatehouse/adapter"
	"github.com/lmarrec/gatehouse/core"
)

const CodeDeviceSessionNotFound = "DEVICE_SESSION_NOT_FOUND"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() string { return "multi-session" }

func (p *Plugin) Schema() adapter.Schema { return nil }

func (p *Plugin) ErrorCodes() map[string]string {
	return map[string]string{
		CodeDeviceSessionNotFound: "device session not found",
	}
}

func (p *Plugin) Endpoints() []core.Endpoint {
	return []core.Endpoint{
		{
			Path:       "/list-device-sessions",
			Method:     http.MethodGet,
			Handler:    p.listDeviceSessions,
			Middleware: []core.MiddlewareFunc{core.RequireSession},
			Metadata: core.EndpointMetadata{
				OperationID: "listDeviceSessions",
				Description: "List the caller's live sessions across devices",
			},
		},
		{
			Path:       "/set-active-session",
			Method:     http.MethodPost,
			Handler:    p.setActiveSession,
			Middleware: []core.MiddlewareFunc{core.RequireSession},
			Metadata: core.EndpointMetadata{
				OperationID: "setActiveSession",
				Description: "Switch the active session without revoking others",
			},
		},
	}
}

func (p *Plugin) listDeviceSessions(rc *core.RequestContext) error {
	sessions, err := rc.Sessions.ListDevices(rc.Request.Context(), rc.Session.User.ID)
	if err != nil {
		return rc.Fail(err)
	}
	return rc.JSON(http.StatusOK, sessions)
}

type setActiveRequest struct {
	SessionToken string `json:"sessionToken"`
}

// setActiveSession rebinds the browser's cookies to another of the caller's
// live sessions. The target must belong to the caller; sessions of other
// users are reported not found, never forbidden, to avoid an oracle.
func (p *Plugin) setActiveSession(rc *core.RequestContext) error {
	var req setActiveRequest
	if err := rc.DecodeJSON(&req); err != nil {
		return rc.Fail(err)
	}
	if req.SessionToken == "" {
		return rc.Fail(core.NewAPIError(http.StatusBadRequest, core.CodeValidationError, "sessionToken is required"))
	}

	data, err := rc.Sessions.SetActive(rc.Request.Context(), req.SessionToken)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return rc.Fail(core.NewAPIError(http.StatusNotFound, CodeDeviceSessionNotFound, "device session not found"))
		}
		return rc.Fail(err)
	}
	if data.Session.UserID != rc.Session.User.ID {
		return rc.Fail(core.NewAPIError(http.StatusNotFound, CodeDeviceSessionNotFound, "device session not found"))
	}

	rc.SetSessionCookies(req.SessionToken, data)
	return rc.JSON(http.StatusOK, data)
}
