package healauth

import "errors"

var (
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidRole is an exported constant or variable used by the authentication engine.
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidPhone is an exported constant or variable used by the authentication engine.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrInvalidEmail is an exported constant or variable used by the authentication engine.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidPayload is an exported constant or variable used by the authentication engine.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrUserNotFound is an exported constant or variable used by the authentication engine.
	// The message is deliberately generic so the HTTP boundary cannot leak
	// whether the identifier half or the account half was wrong.
	ErrUserNotFound = errors.New("invalid identifier or account not found")
	// ErrAccountInactive is an exported constant or variable used by the authentication engine.
	ErrAccountInactive = errors.New("account deactivated")
	// ErrPendingApproval is an exported constant or variable used by the authentication engine.
	ErrPendingApproval = errors.New("account pending approval")
	// ErrOTPExpired is an exported constant or variable used by the authentication engine.
	ErrOTPExpired = errors.New("otp expired")
	// ErrOTPInvalid is an exported constant or variable used by the authentication engine.
	ErrOTPInvalid = errors.New("invalid otp code")
	// ErrOTPAttemptsExceeded is an exported constant or variable used by the authentication engine.
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	// ErrChallengeNotFound is an exported constant or variable used by the authentication engine.
	ErrChallengeNotFound = errors.New("no pending challenge")
	// ErrResetTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrResetTokenInvalid = errors.New("invalid reset token")
	// ErrResetTokenExpired is an exported constant or variable used by the authentication engine.
	ErrResetTokenExpired = errors.New("reset token expired")
	// ErrTokenExpired is an exported constant or variable used by the authentication engine.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is an exported constant or variable used by the authentication engine.
	ErrTokenMalformed = errors.New("malformed token")
	// ErrTokenWrongType is an exported constant or variable used by the authentication engine.
	ErrTokenWrongType = errors.New("wrong token type")
	// ErrTokenRevoked is an exported constant or variable used by the authentication engine.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrRateLimited is an exported constant or variable used by the authentication engine.
	ErrRateLimited = errors.New("too many requests")
	// ErrBackendUnavailable is an exported constant or variable used by the authentication engine.
	ErrBackendUnavailable = errors.New("auth backend unavailable")
)
