package healauth

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/healbridge/healauth/internal/flows"
	"github.com/healbridge/healauth/internal/stores"
	"github.com/healbridge/healauth/otp"
)

// RequestPasswordReset starts a reset for (role, email) by issuing an OTP
// challenge and dispatching the code by email. A repeat request replaces any
// earlier challenge wholesale. The NotFound case is reported to the caller;
// upstream API contracts expose it, so hiding it here would only move the
// oracle one layer out.
//
// RequestPasswordReset may return an error when input validation, dependency calls, or security checks fail.
// RequestPasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RequestPasswordReset(ctx context.Context, role Role, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return flows.RunRequestPasswordReset(ctx, string(role), email, e.resetFlowDeps())
}

// VerifyResetOTP exchanges a correct code for a short-lived single-use reset
// token. The token is returned exactly once; only its SHA-256 is retained
// server-side.
//
// VerifyResetOTP may return an error when input validation, dependency calls, or security checks fail.
// VerifyResetOTP does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) VerifyResetOTP(ctx context.Context, role Role, email, code string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	return flows.RunVerifyResetOTP(ctx, string(role), email, code, e.resetFlowDeps())
}

// ConfirmPasswordReset spends the reset token and writes the new password
// through the role's directory adapter. The token is single-use: success
// destroys the challenge, and so does any staleness detected on the way.
//
// ConfirmPasswordReset may return an error when input validation, dependency calls, or security checks fail.
// ConfirmPasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, role Role, email, resetToken, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return flows.RunConsumeReset(ctx, string(role), email, resetToken, newPassword, e.resetFlowDeps())
}

func (e *Engine) resetFlowDeps() flows.PasswordResetDeps {
	return flows.PasswordResetDeps{
		ValidRole:     func(role string) bool { return Role(role).Valid() },
		CodeTTL:       e.config.PasswordReset.CodeTTL,
		ResetTokenTTL: e.config.PasswordReset.ResetTokenTTL,
		MaxAttempts:   e.config.PasswordReset.MaxAttempts,
		Now:           time.Now,

		FindByEmail: func(ctx context.Context, role, email string) (flows.User, bool, error) {
			adapter, ok := e.directory.adapter(Role(role))
			if !ok {
				return flows.User{}, false, nil
			}
			record, err := adapter.FindByEmail(ctx, email)
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
		SetPassword: func(ctx context.Context, role, userID, newPassword string) error {
			adapter, ok := e.directory.adapter(Role(role))
			if !ok {
				return ErrInvalidRole
			}
			return adapter.SetPassword(ctx, userID, newPassword)
		},

		GenerateCode:   e.otpGen.Code,
		HashCode:       e.otpHasher.Hash,
		VerifyCode:     e.otpHasher.Verify,
		NewResetToken:  otp.NewResetToken,
		SleepEnumDelay: sleepEnumerationDelay,

		CheckLimiter: func(ctx context.Context, role, email string) error {
			return mapLimiterErr(e.resetLimiter.Check(ctx, "reset", role, email))
		},

		PutChallenge: func(ctx context.Context, role, email string, record flows.ResetRecord, ttl time.Duration) error {
			err := e.resetStore.Put(ctx, role, email, &stores.ResetChallenge{
				CodeHash:       record.CodeHash,
				OTPExpiresAt:   record.OTPExpiresAt,
				Attempts:       record.Attempts,
				Verified:       record.Verified,
				ResetTokenHash: record.ResetTokenHash,
				ResetExpiresAt: record.ResetExpiresAt,
			}, ttl)
			return mapResetStoreErr(err)
		},
		GetChallenge: func(ctx context.Context, role, email string) (flows.ResetRecord, error) {
			record, err := e.resetStore.Get(ctx, role, email)
			if err != nil {
				return flows.ResetRecord{}, mapResetStoreErr(err)
			}
			return flows.ResetRecord{
				CodeHash:       record.CodeHash,
				OTPExpiresAt:   record.OTPExpiresAt,
				Attempts:       record.Attempts,
				Verified:       record.Verified,
				ResetTokenHash: record.ResetTokenHash,
				ResetExpiresAt: record.ResetExpiresAt,
			}, nil
		},
		DeleteChallenge: func(ctx context.Context, role, email string) error {
			_, err := e.resetStore.Delete(ctx, role, email)
			return mapResetStoreErr(err)
		},
		RecordFailure: func(ctx context.Context, role, email string, maxAttempts int) (bool, error) {
			exceeded, err := e.resetStore.RecordFailure(ctx, role, email, maxAttempts)
			return exceeded, mapResetStoreErr(err)
		},

		SendEmail: func(ctx context.Context, email, code, role string) error {
			return e.notifier.SendOTPEmail(ctx, email, code, Role(role))
		},

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.emitAudit,

		Metrics: flows.PasswordResetMetrics{
			Requested:        int(MetricResetRequested),
			OTPVerified:      int(MetricResetOTPVerified),
			OTPInvalidCode:   int(MetricResetOTPInvalidCode),
			AttemptsExceeded: int(MetricResetAttemptsExceeded),
			ConsumeSuccess:   int(MetricResetConfirmSuccess),
			ConsumeFailure:   int(MetricResetConfirmFailure),
			RateLimitHit:     int(MetricRateLimitHit),
			NotifyFailure:    int(MetricNotifyFailure),
		},
		Events: flows.PasswordResetEvents{
			Request:       auditEventResetRequest,
			VerifyOTP:     auditEventResetVerifyOTP,
			Consume:       auditEventResetConsume,
			NotifyFailure: auditEventNotifyFailure,
			RateLimit:     auditEventRateLimit,
		},
		Errors: flows.PasswordResetErrors{
			EngineNotReady:    ErrEngineNotReady,
			InvalidRole:       ErrInvalidRole,
			InvalidEmail:      ErrInvalidEmail,
			InvalidPassword:   ErrInvalidPayload,
			UserNotFound:      ErrUserNotFound,
			ChallengeNotFound: ErrChallengeNotFound,
			OTPExpired:        ErrOTPExpired,
			OTPInvalid:        ErrOTPInvalid,
			AttemptsExceeded:  ErrOTPAttemptsExceeded,
			ResetTokenInvalid: ErrResetTokenInvalid,
			ResetTokenExpired: ErrResetTokenExpired,
			RateLimited:       ErrRateLimited,
			Unavailable:       ErrBackendUnavailable,
		},
	}
}

func mapResetStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrResetChallengeNotFound):
		return ErrChallengeNotFound
	case errors.Is(err, stores.ErrResetChallengeExpired):
		return ErrOTPExpired
	case errors.Is(err, stores.ErrResetChallengeExceeded):
		return ErrOTPAttemptsExceeded
	default:
		return ErrBackendUnavailable
	}
}

// sleepEnumerationDelay pads the not-found path of reset requests with a
// randomized 20-40ms pause so a directory miss and a directory hit are not
// trivially separable by response time.
func sleepEnumerationDelay(ctx context.Context) error {
	minMs := int64(20)
	maxMs := int64(40)
	span := maxMs - minMs + 1

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return err
	}

	delay := time.Duration(minMs+n.Int64()) * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
