package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/authcorelabs/authcore/internal"
	"github.com/authcorelabs/authcore/internal/rate"
	"github.com/authcorelabs/authcore/jwt"
	"github.com/authcorelabs/authcore/password"
	"github.com/authcorelabs/authcore/session"
)

// Engine is the credential and session lifecycle core. Construct one via
// [Builder]; an Engine is immutable and safe for concurrent use after Build.
type Engine struct {
	config       Config
	repository   UserRepository
	sessionStore *session.Store
	rateLimiter  *rate.Limiter
	oneTime      *oneTimeStore
	states       *stateGuard
	audit        *auditDispatcher
	metrics      *Metrics
	passwordHash *password.Hasher
	jwtManager   *jwt.Manager
	events       EventPublisher
	now          func() time.Time
}

// Close stops the audit dispatcher and the OAuth state sweeper. Pending
// audit events are drained before Close returns.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.states != nil {
		e.states.Close()
	}
}

// AuditDropped reports how many audit events were discarded under
// dispatcher backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// normalizeEmail is applied to every caller-supplied email before it
// reaches the repository.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login authenticates a password credential and opens a new session.
//
// Lockout counters are durable: every password comparison updates the
// user's failed-attempt state through the repository, success included. A
// mismatch that crosses the lockout threshold still reports
// [ErrInvalidCredentials]; [ErrAccountLocked] is only returned when an
// attempt arrives inside an already-open lockout window.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	if e == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)
	email = normalizeEmail(email)

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, email, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
				return map[string]string{"identifier": email}
			})
			return nil, ErrLoginRateLimited
		}
	}

	if plaintext == "" {
		e.incrementLoginThrottle(ctx, email, ip)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": email, "reason": "empty_password"}
		})
		return nil, ErrInvalidCredentials
	}

	user, err := e.repository.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
		}
		e.incrementLoginThrottle(ctx, email, ip)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": email, "reason": "unknown_email"}
		})
		return nil, ErrInvalidCredentials
	}

	now := e.now()
	if currentLockoutState(user, now) == lockoutActive {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginLocked, false, user.UserID, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{"identifier": email}
		})
		return nil, ErrAccountLocked
	}

	cred, ok := user.Credential.(PasswordCredential)
	if !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", ErrInvalidLoginMethod, func() map[string]string {
			return map[string]string{"identifier": email, "reason": "no_password_credential"}
		})
		return nil, ErrInvalidLoginMethod
	}

	match, err := e.passwordHash.Verify(plaintext, cred.Hash)
	if err != nil || !match {
		attempts, lockedUntil := nextFailedAttempt(user, e.config.Lockout, now)
		if updateErr := e.repository.UpdateLoginAttempts(ctx, user.UserID, attempts, lockedUntil); updateErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, updateErr)
		}
		e.incrementLoginThrottle(ctx, email, ip)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": email, "reason": "password_mismatch"}
		})
		return nil, ErrInvalidCredentials
	}

	// Success clears the counters even when they were already zero, so a
	// crashed previous attempt can never leave stale lockout state behind.
	if err := e.repository.UpdateLoginAttempts(ctx, user.UserID, 0, time.Time{}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	user.FailedLogins = 0
	user.LockedUntil = time.Time{}

	if e.config.Password.UpgradeOnLogin {
		if needsRehash, err := e.passwordHash.NeedsRehash(cred.Hash); err == nil && needsRehash {
			if upgraded, err := e.passwordHash.Hash(plaintext); err == nil {
				// Best effort; a failed rehash must not block the login.
				if err := e.repository.UpdatePasswordHash(ctx, user.UserID, upgraded); err != nil {
					log.Print("authcore: password hash upgrade update failed")
				}
			} else {
				log.Print("authcore: password hash upgrade generation failed")
			}
		}
	}
	plaintext = ""

	if e.rateLimiter != nil {
		if err := e.rateLimiter.ResetLogin(ctx, email, ip); err != nil {
			log.Print("authcore: login throttle reset failed")
		}
	}

	result, err := e.issueTokenPair(ctx, user)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", err, func() map[string]string {
			return map[string]string{"identifier": email, "reason": "session_issue_failed"}
		})
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, result.sessionID, nil, func() map[string]string {
		return map[string]string{"identifier": email}
	})

	return &result.LoginResult, nil
}

func (e *Engine) incrementLoginThrottle(ctx context.Context, email, ip string) {
	if e.rateLimiter == nil {
		return
	}
	if err := e.rateLimiter.IncrementLogin(ctx, email, ip); err != nil {
		log.Print("authcore: login throttle increment failed")
	}
}

// ValidateAccess verifies an access token signature and claims. It never
// touches Redis or the repository; revocation is the refresh path's job.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*AccessIdentity, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	_ = ctx

	if e.metrics != nil && e.metrics.enableLatency {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	id := &AccessIdentity{
		UserID:        claims.Subject,
		Email:         claims.Email,
		Name:          claims.Name,
		EmailVerified: claims.EmailVerified,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}

	return id, nil
}

// issuedPair carries the session id alongside the caller-facing result so
// audit events can reference the session without re-decoding the token.
type issuedPair struct {
	LoginResult
	sessionID string
}

func (e *Engine) issueTokenPair(ctx context.Context, user UserRecord) (*issuedPair, error) {
	sid, err := internal.NewTokenID()
	if err != nil {
		return nil, err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return nil, err
	}

	now := e.now()
	sessionID := sid.String()
	sess := &session.Session{
		SessionID:     sessionID,
		UserID:        user.UserID,
		Email:         user.Email,
		Name:          user.Name,
		EmailVerified: user.EmailVerified,
		RefreshHash:   internal.HashSecret(secret),
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(e.config.Session.RefreshTTL).Unix(),
	}

	if err := e.sessionStore.Save(ctx, sess, e.config.Session.RefreshTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
	}

	access, err := e.jwtManager.CreateAccess(jwt.Identity{
		UserID:        user.UserID,
		Email:         user.Email,
		Name:          user.Name,
		EmailVerified: user.EmailVerified,
	})
	if err != nil {
		return nil, err
	}

	refresh, err := internal.EncodeOpaqueToken(sessionID, secret)
	if err != nil {
		return nil, err
	}

	return &issuedPair{
		LoginResult: LoginResult{
			AccessToken:  access,
			RefreshToken: refresh,
			User:         user,
		},
		sessionID: sessionID,
	}, nil
}

// publishEvent delivers a domain event without letting a panicking or slow
// publisher affect the calling operation.
func (e *Engine) publishEvent(ctx context.Context, eventType string, user UserRecord) {
	if e == nil || e.events == nil {
		return
	}

	event := Event{
		Type:      eventType,
		UserID:    user.UserID,
		Email:     user.Email,
		Timestamp: e.now().UTC(),
	}

	go func() {
		defer func() {
			_ = recover()
		}()
		e.events.Publish(context.WithoutCancel(ctx), event)
	}()
}
