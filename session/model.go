package session

import "time"

// Session is one active refresh-token lineage for a user. Email, Name, and
// EmailVerified are denormalized into the record so a refresh can mint a new
// access token without a repository round-trip.
type Session struct {
	SessionID     string
	UserID        string
	Email         string
	Name          string
	EmailVerified bool

	// RefreshHash is the SHA-256 of the currently valid refresh secret.
	// The secret itself is never stored.
	RefreshHash [32]byte

	CreatedAt int64 // unix seconds
	ExpiresAt int64 // unix seconds, absolute; rotation never extends it
}

// Expired reports whether the session's absolute lifetime has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt <= now.Unix()
}
