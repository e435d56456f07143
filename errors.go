package authcore

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine method is invoked before
	// Build completed or after Close.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidCredentials covers unknown email, wrong password, and empty
	// password. The engine never distinguishes these to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidLoginMethod is returned when a password login is attempted
	// against an account that only holds an OAuth credential.
	ErrInvalidLoginMethod = errors.New("invalid login method")
	// ErrAccountLocked is returned while the account's lockout window is open.
	ErrAccountLocked = errors.New("account locked")
	// ErrEmailExists is returned by Signup when the email is already taken.
	ErrEmailExists = errors.New("email already registered")
	// ErrUserNotFound is returned by repository-backed lookups.
	ErrUserNotFound = errors.New("user not found")
	// ErrTokenInvalid covers malformed, unknown, revoked, and superseded
	// tokens of every kind (refresh, one-time, access signature failures).
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned when an access token's exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrSessionExpired is returned when a refresh token's session has passed
	// its absolute expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionNotFound is returned when the refresh token's session does
	// not exist (revoked, rotated away, or never issued).
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshReuse is returned when a refresh token that was already
	// rotated is presented again. The replay is rejected; the session and
	// its current token stay valid.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrLoginRateLimited is returned when the login throttle budget for the
	// identifier or client IP is exhausted.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when the per-session refresh
	// throttle budget is exhausted.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrOAuthStateInvalid is returned when an OAuth state value is unknown,
	// expired, or already redeemed.
	ErrOAuthStateInvalid = errors.New("invalid oauth state")
	// ErrAssertionInvalid is returned when an identity assertion is missing
	// its subject or email.
	ErrAssertionInvalid = errors.New("invalid identity assertion")
	// ErrPasswordPolicy is returned when a submitted password fails the
	// minimum-length policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrRepositoryUnavailable wraps infrastructure failures from the
	// caller's UserRepository.
	ErrRepositoryUnavailable = errors.New("user repository unavailable")
	// ErrSessionBackendUnavailable wraps Redis failures from the session and
	// one-time token stores.
	ErrSessionBackendUnavailable = errors.New("session backend unavailable")
)
