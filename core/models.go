package core

import (
	"encoding/json"
	"time"

	"github.com/lmarrec/gatehouse/adapter"
)

// User represents a user account in the system
//
// This is the "identity" - who someone is
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	Name          string    `json:"name"`
	Image         *string   `json:"image,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Account represents an authentication method
//
// This is the "credential" - how someone proves who they are
type Account struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	ProviderID   string     `json:"providerId"` // "credential", "google", "github"
	AccountID    string     `json:"accountId"`
	Password     *string    `json:"-"` // Never expose in JSON
	AccessToken  *string    `json:"-"` // Never expose in JSON
	RefreshToken *string    `json:"-"` // Never expose in JSON
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Session represents one authenticated device/browser instance. Extra holds
// plugin-declared additional fields; it is flattened into the JSON output.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenHash string    `json:"-"` // Never expose in JSON (security!)
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Extra map[string]any `json:"-"`
}

// Verification is a short-lived single-use token record (email
// verification, password reset, authorization-code handoff).
type Verification struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Value      string    `json:"value"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SessionData combines user and session info
// The model returned to clients
type SessionData struct {
	User    *User    `json:"user"`
	Session *Session `json:"session"`
}

// MarshalJSON flattens Extra next to the declared session fields.
func (s *Session) MarshalJSON() ([]byte, error) {
	type alias Session
	base, err := json.Marshal((*alias)(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]any, len(s.Extra)+8)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON restores flattened Extra fields produced by MarshalJSON.
func (s *Session) UnmarshalJSON(data []byte) error {
	type alias Session
	if err := json.Unmarshal(data, (*alias)(s)); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if sessionJSONFields[k] {
			continue
		}
		if s.Extra == nil {
			s.Extra = make(map[string]any)
		}
		s.Extra[k] = v
	}
	return nil
}

var sessionJSONFields = map[string]bool{
	"id": true, "userId": true, "ipAddress": true, "userAgent": true,
	"expiresAt": true, "createdAt": true, "updatedAt": true,
}

// Model names the adapter knows the core by.
const (
	ModelUser         = "user"
	ModelSession      = "session"
	ModelAccount      = "account"
	ModelVerification = "verification"
)

// DefaultSchema declares the core models. Plugins extend it through the
// registry before the adapter is built.
func DefaultSchema() adapter.Schema {
	return adapter.Schema{
		ModelUser: {Fields: map[string]adapter.Field{
			"id":            {Type: adapter.TypeString, Required: true, Unique: true},
			"email":         {Type: adapter.TypeString, Required: true, Unique: true},
			"emailVerified": {Type: adapter.TypeBoolean},
			"name":          {Type: adapter.TypeString},
			"image":         {Type: adapter.TypeString},
			"createdAt":     {Type: adapter.TypeDate},
			"updatedAt":     {Type: adapter.TypeDate},
		}},
		ModelSession: {Fields: map[string]adapter.Field{
			"id":        {Type: adapter.TypeString, Required: true, Unique: true},
			"userId":    {Type: adapter.TypeString, Required: true, References: &adapter.Reference{Model: ModelUser, Field: "id"}},
			"token":     {Type: adapter.TypeString, Required: true, Unique: true},
			"ipAddress": {Type: adapter.TypeString},
			"userAgent": {Type: adapter.TypeString},
			"expiresAt": {Type: adapter.TypeDate, Required: true},
			"createdAt": {Type: adapter.TypeDate},
			"updatedAt": {Type: adapter.TypeDate},
		}},
		ModelAccount: {Fields: map[string]adapter.Field{
			"id":           {Type: adapter.TypeString, Required: true, Unique: true},
			"userId":       {Type: adapter.TypeString, Required: true, References: &adapter.Reference{Model: ModelUser, Field: "id"}},
			"providerId":   {Type: adapter.TypeString, Required: true},
			"accountId":    {Type: adapter.TypeString, Required: true},
			"password":     {Type: adapter.TypeString},
			"accessToken":  {Type: adapter.TypeString},
			"refreshToken": {Type: adapter.TypeString},
			"expiresAt":    {Type: adapter.TypeDate},
			"createdAt":    {Type: adapter.TypeDate},
			"updatedAt":    {Type: adapter.TypeDate},
		}},
		ModelVerification: {Fields: map[string]adapter.Field{
			"id":         {Type: adapter.TypeString, Required: true, Unique: true},
			"identifier": {Type: adapter.TypeString, Required: true},
			"value":      {Type: adapter.TypeString, Required: true},
			"expiresAt":  {Type: adapter.TypeDate, Required: true},
			"createdAt":  {Type: adapter.TypeDate},
		}},
	}
}

var sessionFields = map[string]bool{
	"id": true, "userId": true, "token": true, "ipAddress": true,
	"userAgent": true, "expiresAt": true, "createdAt": true, "updatedAt": true,
}

// SessionFromRecord converts a generic adapter record. Undeclared keys land
// in Extra so plugin fields survive the round trip.
func SessionFromRecord(r adapter.Record) *Session {
	if r == nil {
		return nil
	}
	s := &Session{
		ID:        str(r["id"]),
		UserID:    str(r["userId"]),
		TokenHash: str(r["token"]),
		IPAddress: str(r["ipAddress"]),
		UserAgent: str(r["userAgent"]),
		ExpiresAt: timeVal(r["expiresAt"]),
		CreatedAt: timeVal(r["createdAt"]),
		UpdatedAt: timeVal(r["updatedAt"]),
	}
	for k, v := range r {
		if !sessionFields[k] {
			if s.Extra == nil {
				s.Extra = make(map[string]any)
			}
			s.Extra[k] = v
		}
	}
	return s
}

func (s *Session) Record() adapter.Record {
	r := adapter.Record{
		"id":        s.ID,
		"userId":    s.UserID,
		"token":     s.TokenHash,
		"ipAddress": s.IPAddress,
		"userAgent": s.UserAgent,
		"expiresAt": s.ExpiresAt,
		"createdAt": s.CreatedAt,
		"updatedAt": s.UpdatedAt,
	}
	for k, v := range s.Extra {
		r[k] = v
	}
	return r
}

// UserFromRecord converts a generic adapter record.
func UserFromRecord(r adapter.Record) *User {
	if r == nil {
		return nil
	}
	u := &User{
		ID:            str(r["id"]),
		Email:         str(r["email"]),
		EmailVerified: boolVal(r["emailVerified"]),
		Name:          str(r["name"]),
		CreatedAt:     timeVal(r["createdAt"]),
		UpdatedAt:     timeVal(r["updatedAt"]),
	}
	if img, ok := r["image"].(string); ok && img != "" {
		u.Image = &img
	}
	return u
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolVal(v any) bool {
	b, _ := v.(bool)
	return b
}

func timeVal(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}
