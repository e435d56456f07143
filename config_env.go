package authcore

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envConfig mirrors the environment surface of the service. Keys are
// base64 so binary Ed25519 material survives env transport.
type envConfig struct {
	AccessTTL     time.Duration `env:"AUTHCORE_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"AUTHCORE_REFRESH_TTL" envDefault:"168h"`
	SigningMethod string        `env:"AUTHCORE_JWT_METHOD" envDefault:"ed25519"`
	PrivateKeyB64 string        `env:"AUTHCORE_JWT_PRIVATE_KEY,required"`
	PublicKeyB64  string        `env:"AUTHCORE_JWT_PUBLIC_KEY"`
	Issuer        string        `env:"AUTHCORE_JWT_ISSUER"`
	Audience      string        `env:"AUTHCORE_JWT_AUDIENCE"`
	Leeway        time.Duration `env:"AUTHCORE_JWT_LEEWAY" envDefault:"0"`

	LockoutThreshold int           `env:"AUTHCORE_LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutWindow    time.Duration `env:"AUTHCORE_LOCKOUT_WINDOW" envDefault:"15m"`

	ResetTTL  time.Duration `env:"AUTHCORE_RESET_TTL" envDefault:"30m"`
	VerifyTTL time.Duration `env:"AUTHCORE_VERIFY_TTL" envDefault:"24h"`

	OAuthStateTTL   time.Duration `env:"AUTHCORE_OAUTH_STATE_TTL" envDefault:"10m"`
	OAuthStateSweep time.Duration `env:"AUTHCORE_OAUTH_STATE_SWEEP" envDefault:"1m"`
}

// ConfigFromEnv builds a [Config] from AUTHCORE_* environment variables,
// starting from [DefaultConfig] for everything the environment does not
// name. The result is not validated; Build does that.
func ConfigFromEnv() (Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.AccessTTL = ec.AccessTTL
	cfg.JWT.SigningMethod = ec.SigningMethod
	cfg.JWT.Issuer = ec.Issuer
	cfg.JWT.Audience = ec.Audience
	cfg.JWT.Leeway = ec.Leeway
	cfg.Session.RefreshTTL = ec.RefreshTTL
	cfg.Lockout.Threshold = ec.LockoutThreshold
	cfg.Lockout.Window = ec.LockoutWindow
	cfg.OneTimeToken.ResetTTL = ec.ResetTTL
	cfg.OneTimeToken.VerifyTTL = ec.VerifyTTL
	cfg.OAuthState.TTL = ec.OAuthStateTTL
	cfg.OAuthState.SweepInterval = ec.OAuthStateSweep

	key, err := base64.StdEncoding.DecodeString(ec.PrivateKeyB64)
	if err != nil {
		return Config{}, fmt.Errorf("decode AUTHCORE_JWT_PRIVATE_KEY: %w", err)
	}
	cfg.JWT.PrivateKey = key

	if ec.PublicKeyB64 != "" {
		pub, err := base64.StdEncoding.DecodeString(ec.PublicKeyB64)
		if err != nil {
			return Config{}, fmt.Errorf("decode AUTHCORE_JWT_PUBLIC_KEY: %w", err)
		}
		cfg.JWT.PublicKey = pub
	}

	return cfg, nil
}
