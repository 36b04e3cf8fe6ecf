package core

import (
	"errors"
	"net/http"

	"github.com/lmarrec/gatehouse/adapter"
	"github.com/lmarrec/gatehouse/authctx"
)

// Stable machine-readable error codes. Plugin-contributed codes merge into
// the same namespace; the last registered plugin wins on collision.
const (
	CodeConfigurationError = "CONFIGURATION_ERROR"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeAdapterError       = "ADAPTER_ERROR"
	CodeHookAborted        = "HOOK_ABORTED"
	CodeUserExists         = "USER_ALREADY_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeSessionExpired     = "SESSION_EXPIRED"
)

// Authentication Related Errors
var (
	// User errors
	ErrUserExists         = errors.New("user already exists")       // 409 Conflict
	ErrUserNotFound       = errors.New("user not found")            // 404 Not Found
	ErrInvalidCredentials = errors.New("invalid email or password") // 401 Unauthorized
)

// Session errors
var (
	ErrInvalidToken    = errors.New("invalid session token") // 401
	ErrSessionNotFound = errors.New("session not found")     // 401
	ErrSessionExpired  = errors.New("session expired")       // 401
	ErrCacheNotFound   = errors.New("session not found in cache")
)

// Validation errors (client input)
var (
	ErrEmailRequired    = errors.New("email is required")    // 400
	ErrPasswordRequired = errors.New("password is required") // 400
	ErrPasswordTooShort = errors.New("password is too short") // 400
	ErrPasswordTooLong  = errors.New("password is too long")  // 400
	ErrInvalidEmail     = errors.New("invalid email format")  // 400
	ErrEmptyUpdate      = errors.New("at least one field is required") // 400
)

// Config errors (server-side configuration)
var (
	ErrDBAdapterRequired = errors.New("database adapter is required") // 500
	ErrSecretRequired    = errors.New("secret is required")           // 500
	ErrSecretTooShort    = errors.New("secret too short")             // 500
)

// APIError is the wire shape of every error response: a stable code plus a
// human-readable message. Internal diagnostic detail never rides along.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return e.Message }

func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// APIErrorFrom translates any internal error into the taxonomy before it
// reaches a client. Backend write causes are deliberately replaced by a
// generic message; the dispatcher logs the original.
func APIErrorFrom(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var writeErr *adapter.WriteError
	switch {
	case errors.Is(err, authctx.ErrConfiguration):
		return NewAPIError(http.StatusBadRequest, CodeConfigurationError, err.Error())
	case errors.Is(err, adapter.ErrInvalidQuery),
		errors.Is(err, ErrEmailRequired),
		errors.Is(err, ErrPasswordRequired),
		errors.Is(err, ErrPasswordTooShort),
		errors.Is(err, ErrPasswordTooLong),
		errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrEmptyUpdate):
		return NewAPIError(http.StatusBadRequest, CodeValidationError, err.Error())
	case errors.Is(err, adapter.ErrHookAborted):
		return NewAPIError(http.StatusBadRequest, CodeHookAborted, err.Error())
	case errors.Is(err, ErrUserExists):
		return NewAPIError(http.StatusConflict, CodeUserExists, err.Error())
	case errors.Is(err, ErrUserNotFound):
		return NewAPIError(http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return NewAPIError(http.StatusUnauthorized, CodeInvalidCredentials, err.Error())
	case errors.Is(err, ErrSessionExpired):
		return NewAPIError(http.StatusUnauthorized, CodeSessionExpired, err.Error())
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrSessionNotFound):
		return NewAPIError(http.StatusUnauthorized, CodeUnauthorized, err.Error())
	case errors.As(err, &writeErr), errors.Is(err, adapter.ErrUnknownModel):
		return NewAPIError(http.StatusInternalServerError, CodeAdapterError, "storage operation failed")
	default:
		return NewAPIError(http.StatusInternalServerError, CodeAdapterError, "internal error")
	}
}

// DefaultErrorCodes seeds the registry's flat code map with a default
// message per code.
func DefaultErrorCodes() map[string]string {
	return map[string]string{
		CodeConfigurationError: "request host could not be resolved",
		CodeValidationError:    "invalid request",
		CodeUnauthorized:       "authentication required",
		CodeForbidden:          "insufficient permissions",
		CodeNotFound:           "resource not found",
		CodeAdapterError:       "storage operation failed",
		CodeHookAborted:        "operation aborted",
		CodeUserExists:         "user already exists",
		CodeInvalidCredentials: "invalid email or password",
		CodeSessionExpired:     "session expired",
	}
}
