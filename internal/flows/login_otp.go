package flows

import (
	"context"
	"errors"
	"time"
)

// User is the directory record slice the flows need. Flows never see the
// full account document.
type User struct {
	ID       string
	Phone    string
	Email    string
	Active   bool
	Approved bool
}

// Challenge mirrors the stored login-OTP record.
type Challenge struct {
	CodeHash  string
	ExpiresAt int64
	Attempts  uint16
}

type LoginOTPErrors struct {
	EngineNotReady    error
	RoleNotAllowed    error
	InvalidPhone      error
	UserNotFound      error
	AccountInactive   error
	PendingApproval   error
	ChallengeNotFound error
	OTPExpired        error
	OTPInvalid        error
	AttemptsExceeded  error
	RateLimited       error
	Unavailable       error
}

type LoginOTPEvents struct {
	Request       string
	Verify        string
	NotifyFailure string
	RateLimit     string
}

type LoginOTPMetrics struct {
	Requested        int
	RequestDenied    int
	Verified         int
	InvalidCode      int
	AttemptsExceeded int
	RateLimitHit     int
	NotifyFailure    int
}

type LoginOTPDeps struct {
	Roles         map[string]bool
	ApprovalGated func(string) bool
	CodeTTL       time.Duration
	MaxAttempts   int
	Now           func() time.Time

	NormalizePhone func(string) (string, error)

	// Directory access. The bool reports whether a record matched.
	FindByPhone func(ctx context.Context, role, phone string) (User, bool, error)

	GenerateCode func() (string, error)
	HashCode     func(string) (string, error)
	VerifyCode   func(code, hash string) (bool, error)

	// CheckLimiter returns Errors.RateLimited or Errors.Unavailable.
	CheckLimiter func(ctx context.Context, role, phone string) error

	// Store access. Errors arrive pre-mapped to the sentinels in Errors.
	PutChallenge    func(ctx context.Context, role, phone string, record Challenge, ttl time.Duration) error
	GetChallenge    func(ctx context.Context, role, phone string) (Challenge, error)
	DeleteChallenge func(ctx context.Context, role, phone string) error
	RecordFailure   func(ctx context.Context, role, phone string, maxAttempts int) (bool, error)

	// SendSMS is best-effort: its error is audited, never returned.
	SendSMS func(ctx context.Context, phone, code, role string) error

	MetricInc func(int)
	EmitAudit func(ctx context.Context, eventType string, success bool, subjectID, role string, err error, metadata func() map[string]string)

	Metrics LoginOTPMetrics
	Events  LoginOTPEvents
	Errors  LoginOTPErrors
}

// RunRequestLoginOTP normalizes the phone, gates on role and account state,
// replaces any previous challenge wholesale, and dispatches the code. It
// returns the normalized phone; the code never leaves the dependencies.
func RunRequestLoginOTP(ctx context.Context, role, rawPhone string, deps LoginOTPDeps) (string, error) {
	if deps.NormalizePhone == nil || deps.FindByPhone == nil || deps.GenerateCode == nil ||
		deps.HashCode == nil || deps.PutChallenge == nil {
		return "", deps.Errors.EngineNotReady
	}

	if !deps.Roles[role] {
		deps.EmitAudit(ctx, deps.Events.Request, false, "", role, deps.Errors.RoleNotAllowed, nil)
		deps.MetricInc(deps.Metrics.RequestDenied)
		return "", deps.Errors.RoleNotAllowed
	}

	otpPhone, err := deps.NormalizePhone(rawPhone)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Request, false, "", role, deps.Errors.InvalidPhone, nil)
		deps.MetricInc(deps.Metrics.RequestDenied)
		return "", deps.Errors.InvalidPhone
	}

	if deps.CheckLimiter != nil {
		if err := deps.CheckLimiter(ctx, role, otpPhone); err != nil {
			if errors.Is(err, deps.Errors.RateLimited) {
				deps.MetricInc(deps.Metrics.RateLimitHit)
				deps.EmitAudit(ctx, deps.Events.RateLimit, false, "", role, err, func() map[string]string {
					return map[string]string{"phone": otpPhone}
				})
			}
			return "", err
		}
	}

	user, found, err := deps.FindByPhone(ctx, role, otpPhone)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Request, false, "", role, deps.Errors.Unavailable, nil)
		return "", deps.Errors.Unavailable
	}
	if !found {
		deps.EmitAudit(ctx, deps.Events.Request, false, "", role, deps.Errors.UserNotFound, func() map[string]string {
			return map[string]string{"phone": otpPhone}
		})
		deps.MetricInc(deps.Metrics.RequestDenied)
		return "", deps.Errors.UserNotFound
	}
	if !user.Active {
		deps.EmitAudit(ctx, deps.Events.Request, false, user.ID, role, deps.Errors.AccountInactive, nil)
		deps.MetricInc(deps.Metrics.RequestDenied)
		return "", deps.Errors.AccountInactive
	}
	if deps.ApprovalGated(role) && !user.Approved {
		deps.EmitAudit(ctx, deps.Events.Request, false, user.ID, role, deps.Errors.PendingApproval, nil)
		deps.MetricInc(deps.Metrics.RequestDenied)
		return "", deps.Errors.PendingApproval
	}

	code, err := deps.GenerateCode()
	if err != nil {
		return "", deps.Errors.Unavailable
	}
	codeHash, err := deps.HashCode(code)
	if err != nil {
		return "", deps.Errors.Unavailable
	}

	record := Challenge{
		CodeHash:  codeHash,
		ExpiresAt: deps.Now().Add(deps.CodeTTL).Unix(),
	}
	if err := deps.PutChallenge(ctx, role, otpPhone, record, deps.CodeTTL); err != nil {
		deps.EmitAudit(ctx, deps.Events.Request, false, user.ID, role, err, nil)
		return "", err
	}

	// The challenge exists regardless of delivery success: in non-production
	// modes the code is retrievable out of band.
	if deps.SendSMS != nil {
		if err := deps.SendSMS(ctx, otpPhone, code, role); err != nil {
			deps.MetricInc(deps.Metrics.NotifyFailure)
			deps.EmitAudit(ctx, deps.Events.NotifyFailure, false, user.ID, role, err, func() map[string]string {
				return map[string]string{"channel": "sms"}
			})
		}
	}

	deps.MetricInc(deps.Metrics.Requested)
	deps.EmitAudit(ctx, deps.Events.Request, true, user.ID, role, nil, nil)
	return otpPhone, nil
}

// RunVerifyLoginOTP checks a submitted code against the live challenge for
// (role, phone). Expiry and exhaustion are terminal: the challenge is gone
// by the time the error returns. On success the challenge is deleted and the
// fresh directory record is returned for token minting.
func RunVerifyLoginOTP(ctx context.Context, role, rawPhone, code string, deps LoginOTPDeps) (User, error) {
	if deps.NormalizePhone == nil || deps.GetChallenge == nil || deps.VerifyCode == nil ||
		deps.DeleteChallenge == nil || deps.RecordFailure == nil || deps.FindByPhone == nil {
		return User{}, deps.Errors.EngineNotReady
	}

	otpPhone, err := deps.NormalizePhone(rawPhone)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", role, deps.Errors.InvalidPhone, nil)
		return User{}, deps.Errors.InvalidPhone
	}

	record, err := deps.GetChallenge(ctx, role, otpPhone)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", role, err, nil)
		return User{}, err
	}

	// MaxAttempts may have been lowered since the record was written.
	if int(record.Attempts) >= deps.MaxAttempts {
		_ = deps.DeleteChallenge(ctx, role, otpPhone)
		deps.MetricInc(deps.Metrics.AttemptsExceeded)
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", role, deps.Errors.AttemptsExceeded, nil)
		return User{}, deps.Errors.AttemptsExceeded
	}

	match, err := deps.VerifyCode(code, record.CodeHash)
	if err != nil {
		return User{}, deps.Errors.Unavailable
	}
	if !match {
		exceeded, err := deps.RecordFailure(ctx, role, otpPhone, deps.MaxAttempts)
		if err != nil {
			deps.EmitAudit(ctx, deps.Events.Verify, false, "", role, err, nil)
			return User{}, err
		}
		if exceeded {
			deps.MetricInc(deps.Metrics.AttemptsExceeded)
			deps.EmitAudit(ctx, deps.Events.Verify, false, "", role, deps.Errors.AttemptsExceeded, nil)
			return User{}, deps.Errors.AttemptsExceeded
		}
		deps.MetricInc(deps.Metrics.InvalidCode)
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", role, deps.Errors.OTPInvalid, nil)
		return User{}, deps.Errors.OTPInvalid
	}

	user, found, err := deps.FindByPhone(ctx, role, otpPhone)
	if err != nil {
		return User{}, deps.Errors.Unavailable
	}
	if !found {
		_ = deps.DeleteChallenge(ctx, role, otpPhone)
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", role, deps.Errors.UserNotFound, nil)
		return User{}, deps.Errors.UserNotFound
	}

	_ = deps.DeleteChallenge(ctx, role, otpPhone)
	deps.MetricInc(deps.Metrics.Verified)
	deps.EmitAudit(ctx, deps.Events.Verify, true, user.ID, role, nil, nil)
	return user, nil
}
