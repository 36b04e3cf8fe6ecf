package core

import "context"

// CreateSessionResult carries a fresh session plus the raw token. The raw
// token leaves the server exactly once, here.
type CreateSessionResult struct {
	Session *Session `json:"session"`
	Token   string   `json:"token"`
}

// SessionService is the session manager contract as endpoints see it.
// Implemented by session.Manager; declared here so plugin packages depend
// on core only.
type SessionService interface {
	// Create issues a new session for a user.
	Create(ctx context.Context, userID, ipAddress, userAgent string) (*CreateSessionResult, error)

	// Get resolves a raw token to session+user. Expired and revoked
	// sessions read as absent: (nil, nil).
	Get(ctx context.Context, token string) (*SessionData, error)

	// Update patches plugin-declared additional fields on the session
	// identified by token.
	Update(ctx context.Context, token string, patch map[string]any) (*Session, error)

	// Revoke terminates the session immediately. Terminal.
	Revoke(ctx context.Context, token string) error

	// RevokeAll terminates every session of a user, returning the count.
	RevokeAll(ctx context.Context, userID string) (int, error)

	// ListDevices returns the user's non-expired sessions (multi-session).
	ListDevices(ctx context.Context, userID string) ([]*Session, error)

	// SetActive switches which of the caller's sessions is "current"
	// without revoking the others.
	SetActive(ctx context.Context, token string) (*SessionData, error)
}
