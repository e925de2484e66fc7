package flows

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
	"time"
)

// ResetRecord mirrors the stored password-reset challenge.
type ResetRecord struct {
	CodeHash       string
	OTPExpiresAt   int64
	Attempts       uint16
	Verified       bool
	ResetTokenHash [32]byte
	ResetExpiresAt int64
}

type PasswordResetErrors struct {
	EngineNotReady    error
	InvalidRole       error
	InvalidEmail      error
	InvalidPassword   error
	UserNotFound      error
	ChallengeNotFound error
	OTPExpired        error
	OTPInvalid        error
	AttemptsExceeded  error
	ResetTokenInvalid error
	ResetTokenExpired error
	RateLimited       error
	Unavailable       error
}

type PasswordResetEvents struct {
	Request       string
	VerifyOTP     string
	Consume       string
	NotifyFailure string
	RateLimit     string
}

type PasswordResetMetrics struct {
	Requested        int
	OTPVerified      int
	OTPInvalidCode   int
	AttemptsExceeded int
	ConsumeSuccess   int
	ConsumeFailure   int
	RateLimitHit     int
	NotifyFailure    int
}

type PasswordResetDeps struct {
	ValidRole     func(string) bool
	CodeTTL       time.Duration
	ResetTokenTTL time.Duration
	MaxAttempts   int
	Now           func() time.Time

	FindByEmail func(ctx context.Context, role, email string) (User, bool, error)
	SetPassword func(ctx context.Context, role, userID, newPassword string) error

	GenerateCode   func() (string, error)
	HashCode       func(string) (string, error)
	VerifyCode     func(code, hash string) (bool, error)
	NewResetToken  func() (string, error)
	CheckLimiter   func(ctx context.Context, role, email string) error
	SleepEnumDelay func(ctx context.Context) error

	PutChallenge    func(ctx context.Context, role, email string, record ResetRecord, ttl time.Duration) error
	GetChallenge    func(ctx context.Context, role, email string) (ResetRecord, error)
	DeleteChallenge func(ctx context.Context, role, email string) error
	RecordFailure   func(ctx context.Context, role, email string, maxAttempts int) (bool, error)

	// SendEmail is best-effort: its error is audited, never returned.
	SendEmail func(ctx context.Context, email, code, role string) error

	MetricInc func(int)
	EmitAudit func(ctx context.Context, eventType string, success bool, subjectID, role string, err error, metadata func() map[string]string)

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

func normalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "", false
	}
	return email, true
}

// RunRequestPasswordReset issues (or wholesale re-issues) an OTP challenge
// for (role, email) and dispatches the code by email.
func RunRequestPasswordReset(ctx context.Context, role, rawEmail string, deps PasswordResetDeps) error {
	if deps.FindByEmail == nil || deps.GenerateCode == nil || deps.HashCode == nil || deps.PutChallenge == nil {
		return deps.Errors.EngineNotReady
	}

	if !deps.ValidRole(role) {
		deps.EmitAudit(ctx, deps.Events.Request, false, "", role, deps.Errors.InvalidRole, nil)
		return deps.Errors.InvalidRole
	}
	email, ok := normalizeEmail(rawEmail)
	if !ok {
		deps.EmitAudit(ctx, deps.Events.Request, false, "", role, deps.Errors.InvalidEmail, nil)
		return deps.Errors.InvalidEmail
	}

	if deps.CheckLimiter != nil {
		if err := deps.CheckLimiter(ctx, role, email); err != nil {
			if errors.Is(err, deps.Errors.RateLimited) {
				deps.MetricInc(deps.Metrics.RateLimitHit)
				deps.EmitAudit(ctx, deps.Events.RateLimit, false, "", role, err, func() map[string]string {
					return map[string]string{"email": email}
				})
			}
			return err
		}
	}

	user, found, err := deps.FindByEmail(ctx, role, email)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Request, false, "", role, deps.Errors.Unavailable, nil)
		return deps.Errors.Unavailable
	}
	if !found {
		// The NotFound kind is surfaced (documented upstream behavior), but
		// the randomized delay keeps timing from confirming it twice over.
		if deps.SleepEnumDelay != nil {
			_ = deps.SleepEnumDelay(ctx)
		}
		deps.EmitAudit(ctx, deps.Events.Request, false, "", role, deps.Errors.UserNotFound, func() map[string]string {
			return map[string]string{"email": email}
		})
		return deps.Errors.UserNotFound
	}

	code, err := deps.GenerateCode()
	if err != nil {
		return deps.Errors.Unavailable
	}
	codeHash, err := deps.HashCode(code)
	if err != nil {
		return deps.Errors.Unavailable
	}

	record := ResetRecord{
		CodeHash:     codeHash,
		OTPExpiresAt: deps.Now().Add(deps.CodeTTL).Unix(),
	}
	if err := deps.PutChallenge(ctx, role, email, record, deps.CodeTTL); err != nil {
		deps.EmitAudit(ctx, deps.Events.Request, false, user.ID, role, err, nil)
		return err
	}

	if deps.SendEmail != nil {
		if err := deps.SendEmail(ctx, email, code, role); err != nil {
			deps.MetricInc(deps.Metrics.NotifyFailure)
			deps.EmitAudit(ctx, deps.Events.NotifyFailure, false, user.ID, role, err, func() map[string]string {
				return map[string]string{"channel": "email"}
			})
		}
	}

	deps.MetricInc(deps.Metrics.Requested)
	deps.EmitAudit(ctx, deps.Events.Request, true, user.ID, role, nil, nil)
	return nil
}

// RunVerifyResetOTP exchanges a correct code for a short-lived, single-use
// reset token. This is the only point the token is ever exposed; callers
// must treat it as a bearer secret.
func RunVerifyResetOTP(ctx context.Context, role, rawEmail, code string, deps PasswordResetDeps) (string, error) {
	if deps.GetChallenge == nil || deps.VerifyCode == nil || deps.DeleteChallenge == nil ||
		deps.RecordFailure == nil || deps.NewResetToken == nil || deps.PutChallenge == nil {
		return "", deps.Errors.EngineNotReady
	}

	email, ok := normalizeEmail(rawEmail)
	if !ok {
		deps.EmitAudit(ctx, deps.Events.VerifyOTP, false, "", role, deps.Errors.InvalidEmail, nil)
		return "", deps.Errors.InvalidEmail
	}

	record, err := deps.GetChallenge(ctx, role, email)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.VerifyOTP, false, "", role, err, nil)
		return "", err
	}
	if record.Verified {
		// The OTP phase is over; the outstanding reset token is the only way
		// forward. Re-verification must not mint a second token.
		deps.EmitAudit(ctx, deps.Events.VerifyOTP, false, "", role, deps.Errors.ChallengeNotFound, nil)
		return "", deps.Errors.ChallengeNotFound
	}

	if int(record.Attempts) >= deps.MaxAttempts {
		_ = deps.DeleteChallenge(ctx, role, email)
		deps.MetricInc(deps.Metrics.AttemptsExceeded)
		deps.EmitAudit(ctx, deps.Events.VerifyOTP, false, "", role, deps.Errors.AttemptsExceeded, nil)
		return "", deps.Errors.AttemptsExceeded
	}

	match, err := deps.VerifyCode(code, record.CodeHash)
	if err != nil {
		return "", deps.Errors.Unavailable
	}
	if !match {
		exceeded, err := deps.RecordFailure(ctx, role, email, deps.MaxAttempts)
		if err != nil {
			deps.EmitAudit(ctx, deps.Events.VerifyOTP, false, "", role, err, nil)
			return "", err
		}
		if exceeded {
			deps.MetricInc(deps.Metrics.AttemptsExceeded)
			deps.EmitAudit(ctx, deps.Events.VerifyOTP, false, "", role, deps.Errors.AttemptsExceeded, nil)
			return "", deps.Errors.AttemptsExceeded
		}
		deps.MetricInc(deps.Metrics.OTPInvalidCode)
		deps.EmitAudit(ctx, deps.Events.VerifyOTP, false, "", role, deps.Errors.OTPInvalid, nil)
		return "", deps.Errors.OTPInvalid
	}

	resetToken, err := deps.NewResetToken()
	if err != nil {
		return "", deps.Errors.Unavailable
	}

	now := deps.Now()
	verified := ResetRecord{
		Verified:       true,
		ResetTokenHash: sha256.Sum256([]byte(resetToken)),
		ResetExpiresAt: now.Add(deps.ResetTokenTTL).Unix(),
	}
	if err := deps.PutChallenge(ctx, role, email, verified, deps.ResetTokenTTL); err != nil {
		deps.EmitAudit(ctx, deps.Events.VerifyOTP, false, "", role, err, nil)
		return "", err
	}

	deps.MetricInc(deps.Metrics.OTPVerified)
	deps.EmitAudit(ctx, deps.Events.VerifyOTP, true, "", role, nil, nil)
	return resetToken, nil
}

// RunConsumeReset spends a reset token exactly once: on success, and on every
// path that detects staleness, the challenge is deleted.
func RunConsumeReset(ctx context.Context, role, rawEmail, resetToken, newPassword string, deps PasswordResetDeps) error {
	if deps.GetChallenge == nil || deps.DeleteChallenge == nil || deps.FindByEmail == nil || deps.SetPassword == nil {
		return deps.Errors.EngineNotReady
	}

	email, ok := normalizeEmail(rawEmail)
	if !ok {
		deps.EmitAudit(ctx, deps.Events.Consume, false, "", role, deps.Errors.InvalidEmail, nil)
		return deps.Errors.InvalidEmail
	}
	if newPassword == "" {
		deps.EmitAudit(ctx, deps.Events.Consume, false, "", role, deps.Errors.InvalidPassword, nil)
		return deps.Errors.InvalidPassword
	}

	record, err := deps.GetChallenge(ctx, role, email)
	if err != nil {
		switch {
		case errors.Is(err, deps.Errors.ChallengeNotFound):
			err = deps.Errors.ResetTokenInvalid
		case errors.Is(err, deps.Errors.OTPExpired):
			// Phase-agnostic store expiry; at this step it is the token
			// window that lapsed.
			err = deps.Errors.ResetTokenExpired
		}
		deps.MetricInc(deps.Metrics.ConsumeFailure)
		deps.EmitAudit(ctx, deps.Events.Consume, false, "", role, err, nil)
		return err
	}

	if !record.Verified {
		_ = deps.DeleteChallenge(ctx, role, email)
		deps.MetricInc(deps.Metrics.ConsumeFailure)
		deps.EmitAudit(ctx, deps.Events.Consume, false, "", role, deps.Errors.ResetTokenExpired, nil)
		return deps.Errors.ResetTokenExpired
	}

	provided := sha256.Sum256([]byte(resetToken))
	if subtle.ConstantTimeCompare(provided[:], record.ResetTokenHash[:]) != 1 {
		deps.MetricInc(deps.Metrics.ConsumeFailure)
		deps.EmitAudit(ctx, deps.Events.Consume, false, "", role, deps.Errors.ResetTokenInvalid, nil)
		return deps.Errors.ResetTokenInvalid
	}

	user, found, err := deps.FindByEmail(ctx, role, email)
	if err != nil {
		return deps.Errors.Unavailable
	}
	if !found {
		_ = deps.DeleteChallenge(ctx, role, email)
		deps.MetricInc(deps.Metrics.ConsumeFailure)
		deps.EmitAudit(ctx, deps.Events.Consume, false, "", role, deps.Errors.UserNotFound, nil)
		return deps.Errors.UserNotFound
	}

	// Password hashing is owned by the directory. A failed write keeps the
	// challenge so the holder can retry within the token window.
	if err := deps.SetPassword(ctx, role, user.ID, newPassword); err != nil {
		deps.MetricInc(deps.Metrics.ConsumeFailure)
		deps.EmitAudit(ctx, deps.Events.Consume, false, user.ID, role, deps.Errors.Unavailable, nil)
		return deps.Errors.Unavailable
	}

	_ = deps.DeleteChallenge(ctx, role, email)
	deps.MetricInc(deps.Metrics.ConsumeSuccess)
	deps.EmitAudit(ctx, deps.Events.Consume, true, user.ID, role, nil, nil)
	return nil
}
