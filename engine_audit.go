package healauth

// Audit event type names emitted by the engine. Sinks key dashboards and
// alerting on these strings, so they are stable identifiers.
const (
	auditEventLoginOTPRequest = "login_otp_request"
	auditEventLoginOTPVerify  = "login_otp_verify"

	auditEventResetRequest   = "password_reset_request"
	auditEventResetVerifyOTP = "password_reset_verify_otp"
	auditEventResetConsume   = "password_reset_consume"

	auditEventTokensIssued = "tokens_issued"
	auditEventTokenRefresh = "token_refresh"
	auditEventLogout       = "logout"

	auditEventNotifyFailure = "notification_failure"
	auditEventRateLimit     = "rate_limit"
)
