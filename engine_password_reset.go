package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/authcorelabs/authcore/internal"
	"github.com/authcorelabs/authcore/password"
)

// RequestPasswordReset mints a single-use reset challenge for the account
// behind email. Issuing a new challenge retires any earlier unconsumed one
// for the same user. The returned opaque token is for the delivery
// collaborator (mail); the engine never stores it in clear.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if e == nil || e.oneTime == nil {
		return "", ErrEngineNotReady
	}

	email = normalizeEmail(email)

	user, err := e.repository.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", ErrUserNotFound, func() map[string]string {
				return map[string]string{"identifier": email}
			})
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}

	if _, ok := user.Credential.(PasswordCredential); !ok {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, user.UserID, "", ErrInvalidLoginMethod, nil)
		return "", ErrInvalidLoginMethod
	}

	token, err := e.issueOneTime(ctx, purposeReset, user.UserID, e.config.OneTimeToken.ResetTTL)
	if err != nil {
		return "", err
	}

	e.metricInc(MetricResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.UserID, "", nil, nil)
	return token, nil
}

// ConfirmPasswordReset consumes a reset challenge and installs a new
// password. On success every session of the user is revoked; the caller
// must log in again with the new credential.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if e == nil || e.oneTime == nil {
		return ErrEngineNotReady
	}

	tokenID, secret, err := internal.DecodeOpaqueToken(token)
	if err != nil {
		e.metricInc(MetricResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return ErrTokenInvalid
	}

	record, err := e.oneTime.Consume(ctx, purposeReset, tokenID, internal.HashSecret(secret))
	if err != nil {
		if errors.Is(err, errOneTimeUnavailable) {
			return fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
		}
		e.metricInc(MetricResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{"reason": "consume_failed"}
		})
		return ErrTokenInvalid
	}

	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		// The claim happened but the dependent action did not; put the
		// token back so the user can retry with a valid password.
		e.restoreOneTime(ctx, purposeReset, tokenID, record)
		e.metricInc(MetricResetConfirmFailure)
		if errors.Is(err, password.ErrTooShort) {
			e.emitAudit(ctx, auditEventPasswordResetConfirm, false, record.UserID, "", ErrPasswordPolicy, nil)
			return ErrPasswordPolicy
		}
		return err
	}

	if err := e.repository.UpdatePasswordHash(ctx, record.UserID, hash); err != nil {
		e.restoreOneTime(ctx, purposeReset, tokenID, record)
		e.metricInc(MetricResetConfirmFailure)
		return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}

	// Best effort: the new password is installed either way, and any
	// surviving session dies at its next rotation against the store.
	if err := e.sessionStore.DeleteAllForUser(ctx, record.UserID); err != nil {
		log.Print("authcore: session revocation after password reset failed")
	}

	e.publishEvent(ctx, EventPasswordChanged, UserRecord{UserID: record.UserID})
	e.metricInc(MetricResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, record.UserID, "", nil, nil)
	return nil
}

func (e *Engine) issueOneTime(ctx context.Context, purpose tokenPurpose, userID string, ttl time.Duration) (string, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return "", err
	}

	record := &oneTimeRecord{
		UserID:     userID,
		SecretHash: internal.HashSecret(secret),
		ExpiresAt:  e.now().Add(ttl).Unix(),
	}
	if err := e.oneTime.Issue(ctx, purpose, id.String(), record, ttl); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
	}

	return internal.EncodeOpaqueToken(id.String(), secret)
}

// restoreOneTime is best effort; a failed restore just costs the user a
// fresh request.
func (e *Engine) restoreOneTime(ctx context.Context, purpose tokenPurpose, tokenID string, record *oneTimeRecord) {
	if err := e.oneTime.Restore(ctx, purpose, tokenID, record); err != nil {
		log.Print("authcore: one-time token restore failed")
	}
}
