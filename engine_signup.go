package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/authcorelabs/authcore/password"
	"github.com/google/uuid"
)

// Signup creates a password account. Email uniqueness is case-insensitive
// and enforced by the repository; a duplicate reports [ErrEmailExists].
// When auto-login is configured the result carries a token pair, otherwise
// only the created user.
//
// Schema-level input validation is the caller's job; the engine enforces
// the password policy because the hash is minted here.
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (*LoginResult, error) {
	if e == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			e.emitAudit(ctx, auditEventSignupFailure, false, "", "", ErrPasswordPolicy, func() map[string]string {
				return map[string]string{"identifier": email, "reason": "password_policy"}
			})
			return nil, ErrPasswordPolicy
		}
		return nil, err
	}

	user, err := e.repository.CreateUser(ctx, CreateUserInput{
		UserID:     uuid.NewString(),
		Email:      email,
		Name:       req.Name,
		Credential: PasswordCredential{Hash: hash},
	})
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			e.metricInc(MetricSignupDuplicate)
			e.emitAudit(ctx, auditEventSignupDuplicate, false, "", "", ErrEmailExists, func() map[string]string {
				return map[string]string{"identifier": email}
			})
			return nil, ErrEmailExists
		}
		e.emitAudit(ctx, auditEventSignupFailure, false, "", "", err, func() map[string]string {
			return map[string]string{"identifier": email, "reason": "create_failed"}
		})
		return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}

	e.publishEvent(ctx, EventUserCreated, user)
	e.metricInc(MetricSignupSuccess)
	e.emitAudit(ctx, auditEventSignupSuccess, true, user.UserID, "", nil, func() map[string]string {
		return map[string]string{"identifier": email}
	})

	if !e.config.Signup.AutoLogin {
		return &LoginResult{User: user}, nil
	}

	pair, err := e.issueTokenPair(ctx, user)
	if err != nil {
		// The account exists; the caller can still log in normally.
		log.Print("authcore: auto-login after signup failed")
		return &LoginResult{User: user}, nil
	}
	return &pair.LoginResult, nil
}
