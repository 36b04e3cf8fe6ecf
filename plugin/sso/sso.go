// Package sso adds OIDC single sign-on initiation: a provider directory
// keyed by email domain and a sign-in endpoint that hands the client the
// provider's authorization URL.
package sso

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lmarrec/gatehouse/adapter"
	"github.com/lmarrec/gatehouse/core"
	"github.com/lmarrec/gatehouse/pkg/crypto"
)

const (
	ModelProvider = "ssoProvider"

	CodeProviderNotFound = "SSO_PROVIDER_NOT_FOUND"

	stateTTL = 10 * time.Minute
)

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() string { return "sso" }

func (p *Plugin) Schema() adapter.Schema {
	return adapter.Schema{
		ModelProvider: {Fields: map[string]adapter.Field{
			"id":                    {Type: adapter.TypeString, Required: true, Unique: true},
			"providerId":            {Type: adapter.TypeString, Required: true, Unique: true},
			"issuer":                {Type: adapter.TypeString, Required: true},
			"domain":                {Type: adapter.TypeString, Required: true},
			"clientId":              {Type: adapter.TypeString, Required: true},
			"clientSecret":          {Type: adapter.TypeString},
			"authorizationEndpoint": {Type: adapter.TypeString, Required: true},
			"userId":                {Type: adapter.TypeString, References: &adapter.Reference{Model: core.ModelUser, Field: "id"}},
			"createdAt":             {Type: adapter.TypeDate},
			"updatedAt":             {Type: adapter.TypeDate},
		}},
	}
}

func (p *Plugin) ErrorCodes() map[string]string {
	return map[string]string{
		CodeProviderNotFound: "no sso provider registered for this domain",
	}
}

func (p *Plugin) Endpoints() []core.Endpoint {
	return []core.Endpoint{
		{
			Path:    "/sign-in-sso",
			Method:  http.MethodPost,
			Handler: p.signInSSO,
			Metadata: core.EndpointMetadata{
				OperationID: "signInSSO",
				Description: "Resolve an sso provider and return its authorization URL",
			},
		},
		{
			Path:       "/sso/register",
			Method:     http.MethodPost,
			Handler:    p.registerProvider,
			Middleware: []core.MiddlewareFunc{core.RequireSession},
			Metadata: core.EndpointMetadata{
				OperationID: "registerSSOProvider",
				Description: "Register an sso provider for an email domain",
			},
		},
	}
}

type signInRequest struct {
	Email       string `json:"email,omitempty"`
	Domain      string `json:"domain,omitempty"`
	ProviderID  string `json:"providerId,omitempty"`
	CallbackURL string `json:"callbackURL"`
}

type signInResponse struct {
	URL      string `json:"url"`
	Redirect bool   `json:"redirect"`
}

// signInSSO resolves a provider by providerId, domain, or the domain part of
// an email, stores a single-use state record, and returns the authorization
// URL for the client to redirect to.
func (p *Plugin) signInSSO(rc *core.RequestContext) error {
	var req signInRequest
	if err := rc.DecodeJSON(&req); err != nil {
		return rc.Fail(err)
	}

	where, err := providerFilter(req)
	if err != nil {
		return rc.Fail(err)
	}
	record, err := rc.DB.FindOne(rc.Request.Context(), ModelProvider, where)
	if err != nil {
		return rc.Fail(err)
	}
	if record == nil {
		return rc.Fail(core.NewAPIError(http.StatusNotFound, CodeProviderNotFound, "no sso provider registered for this domain"))
	}

	state, err := crypto.GenerateHashedToken(24)
	if err != nil {
		return rc.Fail(err)
	}
	callback := req.CallbackURL
	if callback == "" {
		callback = rc.Auth.BaseURL
	}
	providerID, _ := record["providerId"].(string)
	_, err = rc.DB.Create(rc.Request.Context(), core.ModelVerification, adapter.Record{
		"identifier": "sso-state:" + state.Hash,
		"value":      providerID + "|" + callback,
		"expiresAt":  time.Now().Add(stateTTL),
	})
	if err != nil {
		return rc.Fail(err)
	}

	authURL, err := buildAuthorizationURL(record, rc.Auth.BaseURL, providerID, state.Token)
	if err != nil {
		return rc.Fail(err)
	}
	return rc.JSON(http.StatusOK, signInResponse{URL: authURL, Redirect: true})
}

func providerFilter(req signInRequest) ([]adapter.Where, error) {
	switch {
	case req.ProviderID != "":
		return []adapter.Where{adapter.Eq("providerId", req.ProviderID)}, nil
	case req.Domain != "":
		return []adapter.Where{adapter.Eq("domain", strings.ToLower(req.Domain))}, nil
	case req.Email != "":
		_, domain, found := strings.Cut(req.Email, "@")
		if !found || domain == "" {
			return nil, core.ErrInvalidEmail
		}
		return []adapter.Where{adapter.Eq("domain", strings.ToLower(domain))}, nil
	default:
		return nil, core.NewAPIError(http.StatusBadRequest, core.CodeValidationError,
			"one of providerId, domain, or email is required")
	}
}

func buildAuthorizationURL(provider adapter.Record, baseURL, providerID, state string) (string, error) {
	endpoint, _ := provider["authorizationEndpoint"].(string)
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint for provider %q: %w", providerID, err)
	}

	clientID, _ := provider["clientId"].(string)
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", baseURL+"/sso/callback/"+providerID)
	q.Set("scope", "openid profile email")
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type registerRequest struct {
	ProviderID            string `json:"providerId"`
	Issuer                string `json:"issuer"`
	Domain                string `json:"domain"`
	ClientID              string `json:"clientId"`
	ClientSecret          string `json:"clientSecret,omitempty"`
	AuthorizationEndpoint string `json:"authorizationEndpoint"`
}

func (p *Plugin) registerProvider(rc *core.RequestContext) error {
	var req registerRequest
	if err := rc.DecodeJSON(&req); err != nil {
		return rc.Fail(err)
	}
	if req.Issuer == "" || req.Domain == "" ||
		req.ClientID == "" || req.AuthorizationEndpoint == "" {
		return rc.Fail(core.NewAPIError(http.StatusBadRequest, core.CodeValidationError,
			"issuer, domain, clientId, and authorizationEndpoint are required"))
	}
	if req.ProviderID == "" {
		req.ProviderID = uuid.New().String()
	}

	record, err := rc.DB.Create(rc.Request.Context(), ModelProvider, adapter.Record{
		"providerId":            req.ProviderID,
		"issuer":                req.Issuer,
		"domain":                strings.ToLower(req.Domain),
		"clientId":              req.ClientID,
		"clientSecret":          req.ClientSecret,
		"authorizationEndpoint": req.AuthorizationEndpoint,
		"userId":                rc.Session.User.ID,
	})
	if err != nil {
		return rc.Fail(err)
	}

	// The client secret never rides back out.
	delete(record, "clientSecret")
	return rc.JSON(http.StatusCreated, record)
}
