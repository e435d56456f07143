package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// OAuthLogin converts a provider-verified identity assertion into a token
// pair. The assertion must already be authenticated upstream (code
// exchange, signature check); the engine only owns account linkage and
// session issuance. An unknown email creates an OAuth-only account.
func (e *Engine) OAuthLogin(ctx context.Context, assertion IdentityAssertion) (*LoginResult, error) {
	if e == nil || e.repository == nil {
		return nil, ErrEngineNotReady
	}

	if assertion.Provider == "" || assertion.Subject == "" || assertion.Email == "" {
		e.metricInc(MetricOAuthLoginFailure)
		e.emitAudit(ctx, auditEventOAuthLoginFailure, false, "", "", ErrAssertionInvalid, func() map[string]string {
			return map[string]string{"provider": assertion.Provider}
		})
		return nil, ErrAssertionInvalid
	}

	email := normalizeEmail(assertion.Email)

	user, err := e.repository.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		// Existing account. A provider-verified email upgrades the local
		// verified flag; it never downgrades it.
		if assertion.EmailVerified && !user.EmailVerified {
			if err := e.repository.MarkEmailVerified(ctx, user.UserID); err != nil {
				log.Print("authcore: oauth email verification upgrade failed")
			} else {
				user.EmailVerified = true
			}
		}
	case errors.Is(err, ErrUserNotFound):
		user, err = e.repository.CreateUser(ctx, CreateUserInput{
			UserID: uuid.NewString(),
			Email:  email,
			Name:   assertion.Name,
			Credential: OAuthOnly{
				Provider: assertion.Provider,
				Subject:  assertion.Subject,
			},
			EmailVerified: assertion.EmailVerified,
		})
		if err != nil {
			if errors.Is(err, ErrEmailExists) {
				// Lost a race with a concurrent first login; use the row
				// that won.
				user, err = e.repository.FindUserByEmail(ctx, email)
			}
			if err != nil {
				e.metricInc(MetricOAuthLoginFailure)
				return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
			}
		} else {
			e.publishEvent(ctx, EventUserCreated, user)
		}
	default:
		e.metricInc(MetricOAuthLoginFailure)
		return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}

	pair, err := e.issueTokenPair(ctx, user)
	if err != nil {
		e.metricInc(MetricOAuthLoginFailure)
		e.emitAudit(ctx, auditEventOAuthLoginFailure, false, user.UserID, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricOAuthLoginSuccess)
	e.emitAudit(ctx, auditEventOAuthLoginSuccess, true, user.UserID, pair.sessionID, nil, func() map[string]string {
		return map[string]string{"provider": assertion.Provider}
	})

	return &pair.LoginResult, nil
}

// IssueOAuthState registers and returns a fresh anti-CSRF state value for
// the provider redirect.
func (e *Engine) IssueOAuthState(ctx context.Context) (string, error) {
	if e == nil || e.states == nil {
		return "", ErrEngineNotReady
	}

	value, err := e.states.Issue()
	if err != nil {
		return "", err
	}

	e.metricInc(MetricOAuthStateIssued)
	e.emitAudit(ctx, auditEventOAuthStateIssued, true, "", "", nil, nil)
	return value, nil
}

// RedeemOAuthState validates and consumes a state value returned on the
// provider callback. Redemption is single-use: the value is retired even
// when it turns out to be expired, so a replay can never succeed.
func (e *Engine) RedeemOAuthState(ctx context.Context, value string) error {
	if e == nil || e.states == nil {
		return ErrEngineNotReady
	}

	if err := e.states.Redeem(value); err != nil {
		e.metricInc(MetricOAuthStateRejected)
		e.emitAudit(ctx, auditEventOAuthStateRejected, false, "", "", ErrOAuthStateInvalid, nil)
		return ErrOAuthStateInvalid
	}
	return nil
}
