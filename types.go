package authcore

import (
	"context"
	"time"
)

// Credential is the tagged variant describing how an account proves its
// identity. Exactly one concrete type is stored per user:
// [PasswordCredential] for password accounts, [OAuthOnly] for accounts
// created through a provider login. The closed set lets login branch
// exhaustively instead of null-checking a hash column.
type Credential interface {
	credential()
}

// PasswordCredential holds the PHC-encoded argon2id hash of the account
// password. The plaintext is never stored.
type PasswordCredential struct {
	Hash string
}

func (PasswordCredential) credential() {}

// OAuthOnly marks an account that has no password and authenticates through
// an external identity provider.
type OAuthOnly struct {
	Provider string
	Subject  string
}

func (OAuthOnly) credential() {}

// UserRecord is the account row exchanged with [UserRepository]. Lockout
// state lives here: FailedLogins counts consecutive password mismatches and
// LockedUntil (zero when unlocked) bounds the lockout window.
type UserRecord struct {
	UserID        string
	Email         string
	Name          string
	Credential    Credential
	EmailVerified bool
	FailedLogins  int
	LockedUntil   time.Time
	CreatedAt     time.Time
}

// CreateUserInput is the input for [UserRepository.CreateUser].
type CreateUserInput struct {
	UserID        string
	Email         string
	Name          string
	Credential    Credential
	EmailVerified bool
}

// UserRepository is the durable-storage contract callers must implement.
// Emails are always handed over lowercased; implementations must enforce
// case-insensitive uniqueness and return [ErrEmailExists] from CreateUser on
// a duplicate, [ErrUserNotFound] from lookups that miss. Infrastructure
// failures should be returned as-is; the engine wraps them.
type UserRepository interface {
	FindUserByEmail(ctx context.Context, email string) (UserRecord, error)
	FindUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)

	// UpdateLoginAttempts persists the lockout columns. Called on every
	// password check, including successful ones (attempts=0, zero time).
	UpdateLoginAttempts(ctx context.Context, userID string, attempts int, lockedUntil time.Time) error

	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	MarkEmailVerified(ctx context.Context, userID string) error
}

// IdentityAssertion is the verified claim set the OAuth collaborator
// extracts from the provider's token response. The engine trusts it blindly;
// code exchange and signature verification happen upstream.
type IdentityAssertion struct {
	Provider      string
	Subject       string
	Email         string
	Name          string
	EmailVerified bool
}

// SignupRequest is the input for [Engine.Signup].
type SignupRequest struct {
	Email    string
	Name     string
	Password string
}

// LoginResult is returned by [Engine.Login], [Engine.Refresh],
// [Engine.OAuthLogin], and (when auto-login is enabled) [Engine.Signup].
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         UserRecord
}

// AccessIdentity is the claim set recovered from a valid access token by
// [Engine.ValidateAccess]. It is derived purely from the token; no store
// round-trip is involved.
type AccessIdentity struct {
	UserID        string
	Email         string
	Name          string
	EmailVerified bool
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// Event is a domain notification published through [EventPublisher].
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher receives fire-and-forget notifications (user created,
// password changed). Publication is best-effort: failures and panics are
// swallowed and never affect the operation that triggered the event.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

const (
	// EventUserCreated is published after a successful signup or first
	// OAuth login.
	EventUserCreated = "user.created"
	// EventPasswordChanged is published after a confirmed password reset.
	EventPasswordChanged = "user.password_changed"
	// EventEmailVerified is published after a confirmed email verification.
	EventEmailVerified = "user.email_verified"
)
