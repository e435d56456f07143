package internaldefs

import (
	authcore "github.com/authcorelabs/authcore"
)

// CounterDef pairs an engine counter with its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef pairs an engine histogram with its exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful login attempts."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Logins rejected by an open lockout window."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: authcore.MetricRefreshRateLimited, Name: "authcore_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logout operations."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricSignupSuccess, Name: "authcore_signup_success_total", Help: "Successful account creations."},
	{ID: authcore.MetricSignupDuplicate, Name: "authcore_signup_duplicate_total", Help: "Signups rejected for an existing email."},
	{ID: authcore.MetricOAuthLoginSuccess, Name: "authcore_oauth_login_success_total", Help: "Successful provider-asserted logins."},
	{ID: authcore.MetricOAuthLoginFailure, Name: "authcore_oauth_login_failure_total", Help: "Rejected provider assertions."},
	{ID: authcore.MetricOAuthStateIssued, Name: "authcore_oauth_state_issued_total", Help: "Issued OAuth state values."},
	{ID: authcore.MetricOAuthStateRejected, Name: "authcore_oauth_state_rejected_total", Help: "Invalid, expired, or replayed OAuth state values."},
	{ID: authcore.MetricResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset token issuances."},
	{ID: authcore.MetricResetConfirmSuccess, Name: "authcore_password_reset_confirm_success_total", Help: "Confirmed password resets."},
	{ID: authcore.MetricResetConfirmFailure, Name: "authcore_password_reset_confirm_failure_total", Help: "Rejected password reset confirmations."},
	{ID: authcore.MetricVerifyRequest, Name: "authcore_email_verification_request_total", Help: "Email verification token issuances."},
	{ID: authcore.MetricVerifySuccess, Name: "authcore_email_verification_success_total", Help: "Confirmed email verifications."},
	{ID: authcore.MetricVerifyFailure, Name: "authcore_email_verification_failure_total", Help: "Rejected email verification confirmations."},
}

// HistogramDefs lists every exported histogram in a stable order.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access-token validation latency histogram."},
}

// HistogramBounds are the upper bucket bounds, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix holds metric-name-safe suffixes matching HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed width.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to Prometheus-style
// cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
