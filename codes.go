package authcore

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrorCode is the wire-level discriminator the HTTP layer maps onto
// response bodies. The set is closed; codes never carry dynamic content.
type ErrorCode string

const (
	// CodeEmailExists is emitted when signup hits a duplicate email.
	CodeEmailExists ErrorCode = "EMAIL_EXISTS"
	// CodeInvalidCredentials is emitted for any failed password check.
	CodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	// CodeAccountLocked is emitted while a lockout window is open.
	CodeAccountLocked ErrorCode = "ACCOUNT_LOCKED"
	// CodeInvalidToken is emitted for unknown, revoked, replayed, or
	// malformed tokens.
	CodeInvalidToken ErrorCode = "INVALID_TOKEN"
	// CodeInvalidLoginMethod is emitted for password logins against
	// OAuth-only accounts.
	CodeInvalidLoginMethod ErrorCode = "INVALID_LOGIN_METHOD"
	// CodeTokenExpired is emitted for expired access tokens.
	CodeTokenExpired ErrorCode = "TOKEN_EXPIRED"
	// CodeSessionExpired is emitted for refresh sessions past absolute expiry.
	CodeSessionExpired ErrorCode = "SESSION_EXPIRED"
	// CodeUnauthorized is a generic authentication failure.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// CodeForbidden is reserved for the HTTP layer's authorization checks.
	CodeForbidden ErrorCode = "FORBIDDEN"
	// CodeTooManyRequests is emitted when a throttle budget is exhausted.
	CodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	// CodeServerError is emitted for infrastructure failures.
	CodeServerError ErrorCode = "SERVER_ERROR"
	// CodeBadRequest is reserved for the HTTP layer's request parsing.
	CodeBadRequest ErrorCode = "BAD_REQUEST"
	// CodeNotFound is reserved for the HTTP layer's route dispatch.
	CodeNotFound ErrorCode = "NOT_FOUND"
	// CodeValidationError is emitted for malformed engine inputs.
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	// CodeUserNotFound is emitted when a lookup by id or email misses.
	CodeUserNotFound ErrorCode = "USER_NOT_FOUND"
)

// APIError is the structured failure envelope consumed by the HTTP layer.
// RequestID comes from the context (see [WithRequestID]); a fresh one is
// generated when absent so every error stays traceable.
type APIError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Status    int       `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewAPIError translates an engine error into the closed code set. Unknown
// errors map to SERVER_ERROR and keep only a generic message so internal
// detail never leaks to clients.
func NewAPIError(ctx context.Context, err error) *APIError {
	code, status := classify(err)

	message := err.Error()
	if code == CodeServerError {
		message = "internal server error"
	}

	return &APIError{
		Code:      code,
		Message:   message,
		Status:    status,
		RequestID: ensureRequestID(ctx),
		Timestamp: time.Now().UTC(),
	}
}

func classify(err error) (ErrorCode, int) {
	switch {
	case errors.Is(err, ErrEmailExists):
		return CodeEmailExists, http.StatusConflict
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials, http.StatusUnauthorized
	case errors.Is(err, ErrAccountLocked):
		return CodeAccountLocked, http.StatusLocked
	case errors.Is(err, ErrInvalidLoginMethod):
		return CodeInvalidLoginMethod, http.StatusBadRequest
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired, http.StatusUnauthorized
	case errors.Is(err, ErrSessionExpired):
		return CodeSessionExpired, http.StatusUnauthorized
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrRefreshReuse),
		errors.Is(err, ErrOAuthStateInvalid):
		return CodeInvalidToken, http.StatusUnauthorized
	case errors.Is(err, ErrLoginRateLimited), errors.Is(err, ErrRefreshRateLimited):
		return CodeTooManyRequests, http.StatusTooManyRequests
	case errors.Is(err, ErrUserNotFound):
		return CodeUserNotFound, http.StatusNotFound
	case errors.Is(err, ErrAssertionInvalid), errors.Is(err, ErrPasswordPolicy):
		return CodeValidationError, http.StatusBadRequest
	default:
		return CodeServerError, http.StatusInternalServerError
	}
}
