// Package scim adds provisioning-connection management: per-user SCIM
// provider records and bearer tokens issued for directory-sync callers.
package scim

import (
	"net/http"
	"time"

	"github.com/lmarrec/gatehouse/adapter"
	"github.com/lmarrec/gatehouse/core"
	"github.com/lmarrec/gatehouse/pkg/crypto"
)

const (
	ModelProvider = "scimProvider"
	ModelToken    = "scimToken"

	CodeProviderNotFound = "SCIM_PROVIDER_NOT_FOUND"
)

// Config tunes token issuance.
type Config struct {
	// TokenTTL bounds issued tokens. Zero means no expiry.
	TokenTTL time.Duration
}

type Plugin struct {
	cfg Config
}

func New(cfg Config) *Plugin { return &Plugin{cfg: cfg} }

func (p *Plugin) ID() string { return "scim" }

func (p *Plugin) Schema() adapter.Schema {
	return adapter.Schema{
		ModelProvider: {Fields: map[string]adapter.Field{
			"id":         {Type: adapter.TypeString, Required: true, Unique: true},
			"providerId": {Type: adapter.TypeString, Required: true},
			"userId":     {Type: adapter.TypeString, Required: true, References: &adapter.Reference{Model: core.ModelUser, Field: "id"}},
			"createdAt":  {Type: adapter.TypeDate},
			"updatedAt":  {Type: adapter.TypeDate},
		}},
		ModelToken: {Fields: map[string]adapter.Field{
			"id":         {Type: adapter.TypeString, Required: true, Unique: true},
			"token":      {Type: adapter.TypeString, Required: true, Unique: true},
			"providerId": {Type: adapter.TypeString, Required: true, References: &adapter.Reference{Model: ModelProvider, Field: "id"}},
			"expiresAt":  {Type: adapter.TypeDate},
			"createdAt":  {Type: adapter.TypeDate},
		}},
	}
}

func (p *Plugin) ErrorCodes() map[string]string {
	return map[string]string{
		CodeProviderNotFound: "scim provider connection not found",
	}
}

func (p *Plugin) Endpoints() []core.Endpoint {
	auth := []core.MiddlewareFunc{core.RequireSession}
	return []core.Endpoint{
		{
			Path: "/scim/generate-token", Method: http.MethodPost,
			Handler: p.generateToken, Middleware: auth,
			Metadata: core.EndpointMetadata{OperationID: "scimGenerateToken"},
		},
		{
			Path: "/scim/list-provider-connections", Method: http.MethodGet,
			Handler: p.listConnections, Middleware: auth,
			Metadata: core.EndpointMetadata{OperationID: "scimListProviderConnections"},
		},
		{
			Path: "/scim/get-provider-connection", Method: http.MethodGet,
			Handler: p.getConnection, Middleware: auth,
			Metadata: core.EndpointMetadata{OperationID: "scimGetProviderConnection"},
		},
		{
			Path: "/scim/delete-provider-connection", Method: http.MethodPost,
			Handler: p.deleteConnection, Middleware: auth,
			Metadata: core.EndpointMetadata{OperationID: "scimDeleteProviderConnection"},
		},
	}
}

type generateTokenRequest struct {
	ProviderID string `json:"providerId"`
}

type generateTokenResponse struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// generateToken issues a bearer token for a provider connection, creating
// the connection on first use. Only the token hash is stored; the raw value
// appears in this response and nowhere else.
func (p *Plugin) generateToken(rc *core.RequestContext) error {
	var req generateTokenRequest
	if err := rc.DecodeJSON(&req); err != nil {
		return rc.Fail(err)
	}
	if req.ProviderID == "" {
		return rc.Fail(core.NewAPIError(http.StatusBadRequest, core.CodeValidationError, "providerId is required"))
	}

	ctx := rc.Request.Context()
	provider, err := rc.DB.FindOne(ctx, ModelProvider, []adapter.Where{
		adapter.Eq("providerId", req.ProviderID),
		adapter.Eq("userId", rc.Session.User.ID),
	})
	if err != nil {
		return rc.Fail(err)
	}
	if provider == nil {
		provider, err = rc.DB.Create(ctx, ModelProvider, adapter.Record{
			"providerId": req.ProviderID,
			"userId":     rc.Session.User.ID,
		})
		if err != nil {
			return rc.Fail(err)
		}
	}

	pair, err := crypto.GenerateHashedToken(32)
	if err != nil {
		return rc.Fail(err)
	}
	tokenRecord := adapter.Record{
		"token":      pair.Hash,
		"providerId": provider["id"],
	}
	resp := generateTokenResponse{Token: pair.Token}
	if p.cfg.TokenTTL > 0 {
		expiresAt := time.Now().Add(p.cfg.TokenTTL)
		tokenRecord["expiresAt"] = expiresAt
		resp.ExpiresAt = &expiresAt
	}
	if _, err := rc.DB.Create(ctx, ModelToken, tokenRecord); err != nil {
		return rc.Fail(err)
	}

	return rc.JSON(http.StatusCreated, resp)
}

func (p *Plugin) listConnections(rc *core.RequestContext) error {
	records, err := rc.DB.FindMany(rc.Request.Context(), ModelProvider,
		[]adapter.Where{adapter.Eq("userId", rc.Session.User.ID)},
		&adapter.QueryOptions{Sort: &adapter.SortBy{Field: "createdAt", Direction: "desc"}},
	)
	if err != nil {
		return rc.Fail(err)
	}
	return rc.JSON(http.StatusOK, records)
}

// getConnection returns one connection with its tokens joined in. Token
// values are hashes already, but they still get redacted to a count.
func (p *Plugin) getConnection(rc *core.RequestContext) error {
	providerID := rc.Request.URL.Query().Get("providerId")
	if providerID == "" {
		return rc.Fail(core.NewAPIError(http.StatusBadRequest, core.CodeValidationError, "providerId query parameter is required"))
	}

	records, err := rc.DB.FindMany(rc.Request.Context(), ModelProvider,
		[]adapter.Where{
			adapter.Eq("providerId", providerID),
			adapter.Eq("userId", rc.Session.User.ID),
		},
		&adapter.QueryOptions{Limit: 1, With: []string{ModelToken}},
	)
	if err != nil {
		return rc.Fail(err)
	}
	if len(records) == 0 {
		return rc.Fail(core.NewAPIError(http.StatusNotFound, CodeProviderNotFound, "scim provider connection not found"))
	}

	record := records[0]
	if tokens, ok := record[ModelToken].([]adapter.Record); ok {
		record["tokenCount"] = len(tokens)
		delete(record, ModelToken)
	}
	return rc.JSON(http.StatusOK, record)
}

type deleteConnectionRequest struct {
	ProviderID string `json:"providerId"`
}

// deleteConnection removes the connection and its tokens together.
func (p *Plugin) deleteConnection(rc *core.RequestContext) error {
	var req deleteConnectionRequest
	if err := rc.DecodeJSON(&req); err != nil {
		return rc.Fail(err)
	}
	if req.ProviderID == "" {
		return rc.Fail(core.NewAPIError(http.StatusBadRequest, core.CodeValidationError, "providerId is required"))
	}

	ctx := rc.Request.Context()
	provider, err := rc.DB.FindOne(ctx, ModelProvider, []adapter.Where{
		adapter.Eq("providerId", req.ProviderID),
		adapter.Eq("userId", rc.Session.User.ID),
	})
	if err != nil {
		return rc.Fail(err)
	}
	if provider == nil {
		return rc.Fail(core.NewAPIError(http.StatusNotFound, CodeProviderNotFound, "scim provider connection not found"))
	}

	err = rc.DB.Transaction(ctx, func(tx *adapter.Adapter) error {
		if _, err := tx.Delete(ctx, ModelToken, []adapter.Where{adapter.Eq("providerId", provider["id"])}); err != nil {
			return err
		}
		_, err := tx.Delete(ctx, ModelProvider, []adapter.Where{adapter.Eq("id", provider["id"])})
		return err
	})
	if err != nil {
		return rc.Fail(err)
	}
	return rc.JSON(http.StatusOK, map[string]bool{"success": true})
}
