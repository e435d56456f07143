package authcore

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLoginLocked              = "login_locked"
	auditEventLoginRateLimited         = "login_rate_limited"
	auditEventRefreshSuccess           = "refresh_success"
	auditEventRefreshInvalid           = "refresh_invalid"
	auditEventRefreshReuseDetected     = "refresh_reuse_detected"
	auditEventRefreshRateLimited       = "refresh_rate_limited"
	auditEventLogoutSession            = "logout_session"
	auditEventLogoutAll                = "logout_all"
	auditEventSignupSuccess            = "signup_success"
	auditEventSignupDuplicate          = "signup_duplicate"
	auditEventSignupFailure            = "signup_failure"
	auditEventOAuthLoginSuccess        = "oauth_login_success"
	auditEventOAuthLoginFailure        = "oauth_login_failure"
	auditEventOAuthStateIssued         = "oauth_state_issued"
	auditEventOAuthStateRejected       = "oauth_state_rejected"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
)

// AuditErrorCode is the stable failure-reason vocabulary carried on audit
// events. It is intentionally coarser than the engine's sentinel errors.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidLoginMethod AuditErrorCode = "invalid_login_method"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrSessionExpired     AuditErrorCode = "session_expired"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrOAuthState         AuditErrorCode = "oauth_state_invalid"
	auditErrAssertionInvalid   AuditErrorCode = "assertion_invalid"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		RequestID: requestIDFromContext(ctx),
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidLoginMethod):
		return auditErrInvalidLoginMethod
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrEmailExists):
		return auditErrDuplicate
	case errors.Is(err, ErrOAuthStateInvalid):
		return auditErrOAuthState
	case errors.Is(err, ErrAssertionInvalid):
		return auditErrAssertionInvalid
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrRepositoryUnavailable),
		errors.Is(err, ErrSessionBackendUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
