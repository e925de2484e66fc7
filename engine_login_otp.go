package healauth

import (
	"context"
	"errors"
	"time"

	"github.com/healbridge/healauth/internal/flows"
	"github.com/healbridge/healauth/internal/limiters"
	"github.com/healbridge/healauth/internal/phone"
	"github.com/healbridge/healauth/internal/stores"
)

// RequestLoginOTP starts a passwordless login for (role, phone). The phone
// is normalized to bare national digits before any lookup; the returned
// string is that normalized form, which the caller must echo back to
// VerifyLoginOTP. Any previous challenge for the pair is replaced wholesale,
// its attempt counter included.
//
// RequestLoginOTP may return an error when input validation, dependency calls, or security checks fail.
// RequestLoginOTP does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RequestLoginOTP(ctx context.Context, role Role, rawPhone string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	return flows.RunRequestLoginOTP(ctx, string(role), rawPhone, e.loginFlowDeps())
}

// VerifyLoginOTP checks a submitted code against the live challenge for
// (role, phone) and returns the matched directory record. The challenge is
// consumed on success; expiry and attempt exhaustion also destroy it.
//
// VerifyLoginOTP may return an error when input validation, dependency calls, or security checks fail.
// VerifyLoginOTP does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) VerifyLoginOTP(ctx context.Context, role Role, rawPhone, code string) (UserRecord, error) {
	if e == nil {
		return UserRecord{}, ErrEngineNotReady
	}

	user, err := flows.RunVerifyLoginOTP(ctx, string(role), rawPhone, code, e.loginFlowDeps())
	if err != nil {
		return UserRecord{}, err
	}
	return UserRecord{
		ID:       user.ID,
		Role:     role,
		Phone:    user.Phone,
		Email:    user.Email,
		Active:   user.Active,
		Approved: user.Approved,
	}, nil
}

// LoginWithOTP verifies the code and, on success, mints a token pair in one
// call. It is the common path for phone-first clients.
//
// LoginWithOTP may return an error when input validation, dependency calls, or security checks fail.
// LoginWithOTP does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LoginWithOTP(ctx context.Context, role Role, rawPhone, code string) (TokenPair, UserRecord, error) {
	user, err := e.VerifyLoginOTP(ctx, role, rawPhone, code)
	if err != nil {
		return TokenPair{}, UserRecord{}, err
	}

	pair, err := e.IssueTokens(ctx, user.ID, role)
	if err != nil {
		return TokenPair{}, UserRecord{}, err
	}
	return pair, user, nil
}

func (e *Engine) loginFlowDeps() flows.LoginOTPDeps {
	roles := make(map[string]bool, len(e.config.LoginOTP.Roles))
	for _, r := range e.config.LoginOTP.Roles {
		roles[string(r)] = true
	}

	return flows.LoginOTPDeps{
		Roles:         roles,
		ApprovalGated: func(role string) bool { return Role(role).ApprovalGated() },
		CodeTTL:       e.config.LoginOTP.CodeTTL,
		MaxAttempts:   e.config.LoginOTP.MaxAttempts,
		Now:           time.Now,

		NormalizePhone: phone.Normalize,

		FindByPhone: func(ctx context.Context, role, p string) (flows.User, bool, error) {
			adapter, ok := e.directory.adapter(Role(role))
			if !ok {
				return flows.User{}, false, nil
			}
			record, err := adapter.FindByPhone(ctx, p)
			if err != nil {
				return flows.User{}, false, err
			}
			if record == nil {
				return flows.User{}, false, nil
			}
			return flows.User{
				ID:       record.ID,
				Phone:    record.Phone,
				Email:    record.Email,
				Active:   record.Active,
				Approved: record.Approved,
			}, true, nil
		},

		GenerateCode: e.otpGen.Code,
		HashCode:     e.otpHasher.Hash,
		VerifyCode:   e.otpHasher.Verify,

		CheckLimiter: func(ctx context.Context, role, p string) error {
			return mapLimiterErr(e.loginLimiter.Check(ctx, "login", role, p))
		},

		PutChallenge: func(ctx context.Context, role, p string, record flows.Challenge, ttl time.Duration) error {
			err := e.loginStore.Put(ctx, role, p, &stores.LoginChallenge{
				CodeHash:  record.CodeHash,
				ExpiresAt: record.ExpiresAt,
				Attempts:  record.Attempts,
			}, ttl)
			return mapLoginStoreErr(err)
		},
		GetChallenge: func(ctx context.Context, role, p string) (flows.Challenge, error) {
			record, err := e.loginStore.Get(ctx, role, p)
			if err != nil {
				return flows.Challenge{}, mapLoginStoreErr(err)
			}
			return flows.Challenge{
				CodeHash:  record.CodeHash,
				ExpiresAt: record.ExpiresAt,
				Attempts:  record.Attempts,
			}, nil
		},
		DeleteChallenge: func(ctx context.Context, role, p string) error {
			_, err := e.loginStore.Delete(ctx, role, p)
			return mapLoginStoreErr(err)
		},
		RecordFailure: func(ctx context.Context, role, p string, maxAttempts int) (bool, error) {
			exceeded, err := e.loginStore.RecordFailure(ctx, role, p, maxAttempts)
			return exceeded, mapLoginStoreErr(err)
		},

		SendSMS: func(ctx context.Context, p, code, role string) error {
			return e.notifier.SendOTPSMS(ctx, p, code, Role(role))
		},

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.emitAudit,

		Metrics: flows.LoginOTPMetrics{
			Requested:        int(MetricLoginOTPRequested),
			RequestDenied:    int(MetricLoginOTPRequestDenied),
			Verified:         int(MetricLoginOTPVerified),
			InvalidCode:      int(MetricLoginOTPInvalidCode),
			AttemptsExceeded: int(MetricLoginOTPAttemptsExceeded),
			RateLimitHit:     int(MetricRateLimitHit),
			NotifyFailure:    int(MetricNotifyFailure),
		},
		Events: flows.LoginOTPEvents{
			Request:       auditEventLoginOTPRequest,
			Verify:        auditEventLoginOTPVerify,
			NotifyFailure: auditEventNotifyFailure,
			RateLimit:     auditEventRateLimit,
		},
		Errors: flows.LoginOTPErrors{
			EngineNotReady:    ErrEngineNotReady,
			RoleNotAllowed:    ErrInvalidRole,
			InvalidPhone:      ErrInvalidPhone,
			UserNotFound:      ErrUserNotFound,
			AccountInactive:   ErrAccountInactive,
			PendingApproval:   ErrPendingApproval,
			ChallengeNotFound: ErrChallengeNotFound,
			OTPExpired:        ErrOTPExpired,
			OTPInvalid:        ErrOTPInvalid,
			AttemptsExceeded:  ErrOTPAttemptsExceeded,
			RateLimited:       ErrRateLimited,
			Unavailable:       ErrBackendUnavailable,
		},
	}
}

// mapLoginStoreErr folds store sentinels into the engine's public error set.
func mapLoginStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrLoginChallengeNotFound):
		return ErrChallengeNotFound
	case errors.Is(err, stores.ErrLoginChallengeExpired):
		return ErrOTPExpired
	case errors.Is(err, stores.ErrLoginChallengeExceeded):
		return ErrOTPAttemptsExceeded
	default:
		return ErrBackendUnavailable
	}
}

func mapLimiterErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrRateLimited):
		return ErrRateLimited
	default:
		return ErrBackendUnavailable
	}
}
