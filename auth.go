package gatehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/lmarrec/gatehouse/adapter"
	"github.com/lmarrec/gatehouse/core"
)

// SignUpInput contains the data needed to register a new user
type SignUpInput struct {
	Email    string
	Password string
	Name     string
	Image    *string
}

// SignUpResult contains the newly created user and their first session
type SignUpResult struct {
	User    *core.User    `json:"user"`
	Session *core.Session `json:"session"`
	Token   string        `json:"token"` // The raw token (not the hash)
}

// SignUp registers a new user with email and password. The user row and its
// credential account are written in one transaction when the backend
// supports it.
func (e *Engine) SignUp(ctx context.Context, input SignUpInput, ipAddress, userAgent string) (*SignUpResult, error) {
	if err := validateEmail(input.Email); err != nil {
		return nil, err
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	existing, err := e.DB.FindOne(ctx, core.ModelUser, []adapter.Where{adapter.Eq("email", input.Email)})
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, core.ErrUserExists
	}

	hashedPassword, err := e.Hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	userData := adapter.Record{
		"email":         input.Email,
		"emailVerified": false,
		"name":          input.Name,
	}
	if input.Image != nil {
		userData["image"] = *input.Image
	}

	var userRecord adapter.Record
	err = e.DB.Transaction(ctx, func(tx *adapter.Adapter) error {
		userRecord, err = tx.Create(ctx, core.ModelUser, userData)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		// Credential accounts use the user id as the provider account id.
		_, err = tx.Create(ctx, core.ModelAccount, adapter.Record{
			"userId":     userRecord["id"],
			"providerId": "credential",
			"accountId":  userRecord["id"],
			"password":   hashedPassword,
		})
		if err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	user := core.UserFromRecord(userRecord)
	sessionResult, err := e.Sessions.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &SignUpResult{
		User:    user,
		Session: sessionResult.Session,
		Token:   sessionResult.Token,
	}, nil
}

// SignInInput contains the credentials for authentication
type SignInInput struct {
	Email    string
	Password string
}

// SignInResult contains the authenticated user and their session
type SignInResult struct {
	User    *core.User    `json:"user"`
	Session *core.Session `json:"session"`
	Token   string        `json:"token"` // The raw token (not the hash)
}

// SignIn authenticates a user with email and password. Every failure mode
// reads as ErrInvalidCredentials so callers cannot probe which emails exist.
func (e *Engine) SignIn(ctx context.Context, input SignInInput, ipAddress, userAgent string) (*SignInResult, error) {
	if input.Email == "" {
		return nil, core.ErrEmailRequired
	}
	if input.Password == "" {
		return nil, core.ErrPasswordRequired
	}

	userRecord, err := e.DB.FindOne(ctx, core.ModelUser, []adapter.Where{adapter.Eq("email", input.Email)})
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if userRecord == nil {
		return nil, core.ErrInvalidCredentials
	}
	user := core.UserFromRecord(userRecord)

	account, err := e.DB.FindOne(ctx, core.ModelAccount, []adapter.Where{
		adapter.Eq("userId", user.ID),
		adapter.Eq("providerId", "credential"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, core.ErrInvalidCredentials
	}
	hashedPassword, ok := account["password"].(string)
	if !ok || hashedPassword == "" {
		return nil, core.ErrInvalidCredentials
	}

	valid, err := e.Hasher.Verify(input.Password, hashedPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, core.ErrInvalidCredentials
	}

	sessionResult, err := e.Sessions.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &SignInResult{
		User:    user,
		Session: sessionResult.Session,
		Token:   sessionResult.Token,
	}, nil
}

// SignOut invalidates the current session
func (e *Engine) SignOut(ctx context.Context, token string) error {
	if err := e.Sessions.Revoke(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// GetSession retrieves session data by token. Absent, expired, and revoked
// sessions all read as (nil, nil).
func (e *Engine) GetSession(ctx context.Context, token string) (*core.SessionData, error) {
	return e.Sessions.Get(ctx, token)
}

// UpdateSession patches additional fields on the session identified by token.
func (e *Engine) UpdateSession(ctx context.Context, token string, patch map[string]any) (*core.Session, error) {
	return e.Sessions.Update(ctx, token, patch)
}

// DeleteUser removes the user through the hook pipeline, cascading accounts
// and sessions. A delete veto on the user leaves everything intact and
// returns false.
func (e *Engine) DeleteUser(ctx context.Context, userID string) (bool, error) {
	deleted := false
	err := e.DB.Transaction(ctx, func(tx *adapter.Adapter) error {
		n, err := tx.Delete(ctx, core.ModelUser, []adapter.Where{adapter.Eq("id", userID)})
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		deleted = true

		_, err = tx.Delete(ctx, core.ModelAccount, []adapter.Where{adapter.Eq("userId", userID)})
		return err
	})
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}

	// Session cascade goes through the manager so cache entries are purged
	// alongside the rows.
	if _, err := e.Sessions.RevokeAll(ctx, userID); err != nil {
		return true, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return true, nil
}

func validateEmail(email string) error {
	if email == "" {
		return core.ErrEmailRequired
	}
	local, domain, found := strings.Cut(email, "@")
	if !found || local == "" || domain == "" || !strings.Contains(domain, ".") {
		return core.ErrInvalidEmail
	}
	return nil
}

func validatePassword(password string) error {
	switch {
	case password == "":
		return core.ErrPasswordRequired
	case len(password) < 8:
		return core.ErrPasswordTooShort
	case len(password) > 128:
		return core.ErrPasswordTooLong
	}
	return nil
}
