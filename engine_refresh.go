package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/authcorelabs/authcore/internal"
	"github.com/authcorelabs/authcore/jwt"
	"github.com/authcorelabs/authcore/session"
)

// Refresh rotates a refresh token and mints a fresh access token. Rotation
// is exactly-once: under concurrent presentations of the same token a
// single caller wins and every other caller gets [ErrRefreshReuse]. The
// session itself survives, so the winner's freshly issued token remains
// usable.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}

	sessionID, providedSecret, err := internal.DecodeOpaqueToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return nil, ErrTokenInvalid
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckRefresh(ctx, sessionID); err != nil {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", sessionID, ErrRefreshRateLimited, nil)
			return nil, ErrRefreshRateLimited
		}
	}

	nextSecret, err := internal.NewSecret()
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	sess, err := e.sessionStore.RotateRefreshHash(
		ctx,
		sessionID,
		internal.HashSecret(providedSecret),
		internal.HashSecret(nextSecret),
		e.now(),
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshHashReused):
			// A replay of the token that was just rotated out. The live
			// session is untouched; only the replayer is rejected.
			e.metricInc(MetricRefreshReuseDetected)
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", sessionID, ErrRefreshReuse, nil)
			return nil, ErrRefreshReuse
		case errors.Is(err, session.ErrRefreshHashMismatch):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, ErrTokenInvalid, func() map[string]string {
				return map[string]string{"reason": "hash_mismatch"}
			})
			return nil, ErrTokenInvalid
		case errors.Is(err, session.ErrSessionNotFound):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, ErrSessionNotFound, func() map[string]string {
				return map[string]string{"reason": "session_not_found"}
			})
			return nil, ErrSessionNotFound
		case errors.Is(err, session.ErrSessionExpired):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, ErrSessionExpired, func() map[string]string {
				return map[string]string{"reason": "session_expired"}
			})
			return nil, ErrSessionExpired
		default:
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, err, func() map[string]string {
				return map[string]string{"reason": "rotate_failed"}
			})
			return nil, fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
		}
	}

	access, err := e.jwtManager.CreateAccess(jwt.Identity{
		UserID:        sess.UserID,
		Email:         sess.Email,
		Name:          sess.Name,
		EmailVerified: sess.EmailVerified,
	})
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	refresh, err := internal.EncodeOpaqueToken(sess.SessionID, nextSecret)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, sess.UserID, sess.SessionID, nil, nil)

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		User: UserRecord{
			UserID:        sess.UserID,
			Email:         sess.Email,
			Name:          sess.Name,
			EmailVerified: sess.EmailVerified,
		},
	}, nil
}

// Logout revokes the session behind a refresh token. Revoking an already
// revoked or expired session succeeds.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}

	sessionID, _, err := internal.DecodeOpaqueToken(refreshToken)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return ErrTokenInvalid
	}

	err = e.sessionStore.Delete(ctx, sessionID)
	if err == nil {
		e.metricInc(MetricLogout)
	} else {
		err = fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
	}
	e.emitAudit(ctx, auditEventLogoutSession, err == nil, "", sessionID, err, nil)
	return err
}

// LogoutAll revokes every active session of a user. Used after password
// reset and available to callers for compromise response.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}

	err := e.sessionStore.DeleteAllForUser(ctx, userID)
	if err == nil {
		e.metricInc(MetricLogoutAll)
	} else {
		err = fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
	}
	e.emitAudit(ctx, auditEventLogoutAll, err == nil, userID, "", err, nil)
	return err
}

// ActiveSessions reports how many live sessions a user currently holds.
func (e *Engine) ActiveSessions(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessionStore.ActiveSessionCount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionBackendUnavailable, err)
	}
	return n, nil
}
