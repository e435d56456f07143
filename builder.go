package authcore

import (
	"errors"
	"time"

	"github.com/authcorelabs/authcore/internal/rate"
	"github.com/authcorelabs/authcore/jwt"
	"github.com/authcorelabs/authcore/password"
	"github.com/authcorelabs/authcore/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder is single-use: Build returns an
// error on the second call.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	repository UserRepository
	auditSink  AuditSink
	events     EventPublisher
	now        func() time.Time

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing sessions, one-time tokens, and
// the request throttles.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRepository sets the durable user storage.
func (b *Builder) WithRepository(repo UserRepository) *Builder {
	b.repository = repo
	return b
}

// WithAuditSink sets the destination for audit events. Nil disables
// auditing regardless of [AuditConfig].
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithEventPublisher sets the fire-and-forget domain event destination.
func (b *Builder) WithEventPublisher(pub EventPublisher) *Builder {
	b.events = pub
	return b
}

// WithClock overrides the engine clock. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine. The returned
// Engine owns the audit dispatcher and OAuth state sweeper; callers should
// Close it on shutdown.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.repository == nil {
		return nil, errors.New("user repository required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	// The fallible constructors run before anything that owns a goroutine
	// (state sweeper, audit dispatcher): a failed Build must leave nothing
	// behind to Close.
	ph, err := password.New(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Signup.MinPasswordBytes,
	})
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		repository:   b.repository,
		sessionStore: session.NewStore(b.redis, cfg.Session.RedisPrefix),
		oneTime:      newOneTimeStore(b.redis, now),
		states:       newStateGuard(cfg.OAuthState, now),
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:      NewMetrics(cfg.Metrics),
		events:       b.events,
		passwordHash: ph,
		jwtManager:   jm,
		now:          now,
	}

	if cfg.RateLimit.Enabled {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:        cfg.RateLimit.EnableIPThrottle,
			EnableRefreshThrottle:   cfg.RateLimit.MaxRefreshAttempts > 0,
			MaxLoginAttempts:        cfg.RateLimit.MaxLoginAttempts,
			LoginCooldownDuration:   cfg.RateLimit.LoginCooldownDuration,
			MaxRefreshAttempts:      cfg.RateLimit.MaxRefreshAttempts,
			RefreshCooldownDuration: cfg.RateLimit.RefreshCooldownDuration,
		})
	}

	b.built = true

	return engine, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
