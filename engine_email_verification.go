package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/authcorelabs/authcore/internal"
)

// RequestEmailVerification mints a single-use verification challenge for
// the account behind email. A fresh request retires any earlier unconsumed
// challenge. Requesting for an already verified account succeeds and
// returns a token that will simply re-assert the flag.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) (string, error) {
	if e == nil || e.oneTime == nil {
		return "", ErrEngineNotReady
	}

	email = normalizeEmail(email)

	user, err := e.repository.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, auditEventEmailVerificationRequest, false, "", "", ErrUserNotFound, func() map[string]string {
				return map[string]string{"identifier": email}
			})
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}

	token, err := e.issueOneTime(ctx, purposeVerify, user.UserID, e.config.OneTimeToken.VerifyTTL)
	if err != nil {
		return "", err
	}

	e.metricInc(MetricVerifyRequest)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, user.UserID, "", nil, nil)
	return token, nil
}

// ConfirmEmailVerification consumes a verification challenge and marks the
// account's email verified. Existing sessions stay alive; the verified flag
// reaches access tokens as they are reissued.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, token string) error {
	if e == nil || e.oneTime == nil {
		return ErrEngineNotReady
	}

	tokenID, secret, err := internal.DecodeOpaqueToken(token)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, "", "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return ErrTokenInvalid
	}

	record, err := e.oneTime.Consume(ctx, purposeVerify, tokenID, internal.HashSecret(secret))
	if err != nil {
		if errors.Is(err, errOneTimeUnavailable) {
			return fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
		}
		e.metricInc(MetricVerifyFailure)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, "", "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{"reason": "consume_failed"}
		})
		return ErrTokenInvalid
	}

	if err := e.repository.MarkEmailVerified(ctx, record.UserID); err != nil {
		e.restoreOneTime(ctx, purposeVerify, tokenID, record)
		e.metricInc(MetricVerifyFailure)
		return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}

	e.publishEvent(ctx, EventEmailVerified, UserRecord{UserID: record.UserID})
	e.metricInc(MetricVerifySuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, record.UserID, "", nil, nil)
	return nil
}
