package authcore

import (
	"errors"
	"time"
)

// Config groups all engine tuning. Zero values are filled by
// [DefaultConfig]; Validate rejects combinations that would weaken the
// lifecycle invariants.
type Config struct {
	JWT          JWTConfig
	Password     PasswordConfig
	Lockout      LockoutConfig
	Session      SessionConfig
	OneTimeToken OneTimeTokenConfig
	OAuthState   OAuthStateConfig
	RateLimit    RateLimitConfig
	Signup       SignupConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access token signing and verification.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string

	// Leeway is the clock-skew tolerance applied when verifying exp/iat.
	// Default 0; Validate caps it at 30s.
	Leeway time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters. Memory is in KiB.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// UpgradeOnLogin rehashes the stored credential after a successful
	// login when the stored parameters are weaker than the configured ones.
	UpgradeOnLogin bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig drives the account lockout state machine. Threshold is the
// number of consecutive failed password attempts that opens a lockout
// window of Window duration. Unlock is lazy: the window is checked on the
// next attempt, no background sweep touches user rows.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls refresh sessions. RefreshTTL is the absolute
// session lifetime; rotation never extends it.
type SessionConfig struct {
	RefreshTTL  time.Duration
	RedisPrefix string
}

/*
====================================
ONE-TIME TOKEN CONFIG
====================================
*/

// OneTimeTokenConfig controls password-reset and email-verification tokens.
type OneTimeTokenConfig struct {
	ResetTTL  time.Duration
	VerifyTTL time.Duration
}

/*
====================================
OAUTH STATE CONFIG
====================================
*/

// OAuthStateConfig controls the in-process CSRF state registry.
// SweepInterval <= 0 disables the background sweep (expired entries are
// still rejected at redemption).
type OAuthStateConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig tunes the Redis-backed request throttles. These are
// short-window abuse brakes, separate from the durable lockout counters.
type RateLimitConfig struct {
	Enabled                 bool
	EnableIPThrottle        bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

/*
====================================
SIGNUP CONFIG
====================================
*/

// SignupConfig controls account creation behavior.
type SignupConfig struct {
	// AutoLogin issues a token pair directly from Signup.
	AutoLogin bool
	// MinPasswordBytes is the minimum accepted password length in bytes.
	MinPasswordBytes int
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking when the buffer is full.
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a production-leaning baseline: 15 minute access
// tokens, 7 day refresh sessions, 5-attempt lockout with a 15 minute
// window, 10 minute OAuth state TTL with a 60s sweep.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        0,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
		},
		Session: SessionConfig{
			RefreshTTL:  7 * 24 * time.Hour,
			RedisPrefix: "as",
		},
		OneTimeToken: OneTimeTokenConfig{
			ResetTTL:  30 * time.Minute,
			VerifyTTL: 24 * time.Hour,
		},
		OAuthState: OAuthStateConfig{
			TTL:           10 * time.Minute,
			SweepInterval: time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:                 true,
			EnableIPThrottle:        true,
			MaxLoginAttempts:        20,
			LoginCooldownDuration:   time.Minute,
			MaxRefreshAttempts:      30,
			RefreshCooldownDuration: time.Minute,
		},
		Signup: SignupConfig{
			AutoLogin:        true,
			MinPasswordBytes: 10,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for values that would break lifecycle
// guarantees. It is called by [Builder.Build].
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 30*time.Second {
		return errors.New("JWT.Leeway must be within [0, 30s]")
	}
	switch c.JWT.SigningMethod {
	case "ed25519", "hs256":
	default:
		return errors.New("JWT.SigningMethod must be ed25519 or hs256")
	}
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout.Threshold must be positive")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout.Window must be positive")
	}
	if c.Session.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("Session.RefreshTTL must not be shorter than JWT.AccessTTL")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("Session.RedisPrefix must not be empty")
	}
	if c.OneTimeToken.ResetTTL <= 0 || c.OneTimeToken.VerifyTTL <= 0 {
		return errors.New("OneTimeToken TTLs must be positive")
	}
	if c.OAuthState.TTL <= 0 {
		return errors.New("OAuthState.TTL must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts <= 0 || c.RateLimit.LoginCooldownDuration <= 0 {
			return errors.New("RateLimit login budget must be positive when enabled")
		}
		if c.RateLimit.MaxRefreshAttempts <= 0 || c.RateLimit.RefreshCooldownDuration <= 0 {
			return errors.New("RateLimit refresh budget must be positive when enabled")
		}
	}
	if c.Signup.MinPasswordBytes < 8 {
		return errors.New("Signup.MinPasswordBytes must be at least 8")
	}
	return nil
}
