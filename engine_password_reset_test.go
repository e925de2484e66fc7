package healauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPasswordResetFullFlow(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := seedPatient(env)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, RolePatient, "Alice@Example.com "); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if got := env.notifier.lastMail(user.Email); got != testCode {
		t.Fatalf("delivered code = %q, want %q", got, testCode)
	}

	resetToken, err := env.engine.VerifyResetOTP(ctx, RolePatient, user.Email, testCode)
	if err != nil {
		t.Fatalf("VerifyResetOTP failed: %v", err)
	}
	if resetToken == "" {
		t.Fatal("expected non-empty reset token")
	}

	err = env.engine.ConfirmPasswordReset(ctx, RolePatient, user.Email, resetToken, "new-password-123")
	if err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	if got := env.adapters[RolePatient].passwords[user.ID]; got != "new-password-123" {
		t.Fatalf("stored password = %q", got)
	}
}

func TestPasswordResetTokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := seedPatient(env)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, RolePatient, user.Email); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	resetToken, err := env.engine.VerifyResetOTP(ctx, RolePatient, user.Email, testCode)
	if err != nil {
		t.Fatalf("VerifyResetOTP failed: %v", err)
	}

	if err := env.engine.ConfirmPasswordReset(ctx, RolePatient, user.Email, resetToken, "first-pass"); err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	err = env.engine.ConfirmPasswordReset(ctx, RolePatient, user.Email, resetToken, "second-pass")
	if !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("second confirm: err = %v, want ErrResetTokenInvalid", err)
	}
	if got := env.adapters[RolePatient].passwords[user.ID]; got != "first-pass" {
		t.Fatalf("stored password = %q, want %q", got, "first-pass")
	}
}

func TestPasswordResetRejectsWrongToken(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := seedPatient(env)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, RolePatient, user.Email); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	resetToken, err := env.engine.VerifyResetOTP(ctx, RolePatient, user.Email, testCode)
	if err != nil {
		t.Fatalf("VerifyResetOTP failed: %v", err)
	}

	err = env.engine.ConfirmPasswordReset(ctx, RolePatient, user.Email, "not-the-token", "pass")
	if !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("wrong token: err = %v, want ErrResetTokenInvalid", err)
	}

	// A wrong guess must not burn the outstanding token.
	if err := env.engine.ConfirmPasswordReset(ctx, RolePatient, user.Email, resetToken, "pass"); err != nil {
		t.Fatalf("real token after wrong guess failed: %v", err)
	}
}

func TestVerifyResetOTPDoesNotMintTwice(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := seedPatient(env)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, RolePatient, user.Email); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if _, err := env.engine.VerifyResetOTP(ctx, RolePatient, user.Email, testCode); err != nil {
		t.Fatalf("VerifyResetOTP failed: %v", err)
	}

	// The OTP phase is over; re-verifying must not mint a second token.
	if _, err := env.engine.VerifyResetOTP(ctx, RolePatient, user.Email, testCode); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("re-verify: err = %v, want ErrChallengeNotFound", err)
	}
}

func TestVerifyResetOTPExhaustion(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := seedPatient(env)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, RolePatient, user.Email); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := env.engine.VerifyResetOTP(ctx, RolePatient, user.Email, "999999"); !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("attempt %d: err = %v, want ErrOTPInvalid", i+1, err)
		}
	}
	if _, err := env.engine.VerifyResetOTP(ctx, RolePatient, user.Email, "999999"); !errors.Is(err, ErrOTPAttemptsExceeded) {
		t.Fatalf("attempt 5: err = %v, want ErrOTPAttemptsExceeded", err)
	}
	if _, err := env.engine.VerifyResetOTP(ctx, RolePatient, user.Email, testCode); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("after exhaustion: err = %v, want ErrChallengeNotFound", err)
	}
}

func TestRequestPasswordResetValidation(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, Role("ghost"), "a@b.com"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("bad role: err = %v, want ErrInvalidRole", err)
	}
	for _, email := range []string{"", "no-at-sign", "@leading", "trailing@"} {
		if err := env.engine.RequestPasswordReset(ctx, RolePatient, email); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("email %q: err = %v, want ErrInvalidEmail", email, err)
		}
	}
	if err := env.engine.RequestPasswordReset(ctx, RolePatient, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown email: err = %v, want ErrUserNotFound", err)
	}
}

func TestRequestPasswordResetNotFoundIsDelayed(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	start := time.Now()
	err := env.engine.RequestPasswordReset(ctx, RolePatient, "nobody@example.com")
	elapsed := time.Since(start)

	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
	if elapsed < 20*time.Millisecond {
		t.Fatalf("not-found path returned in %v, want >= 20ms", elapsed)
	}
}

func TestConfirmPasswordResetRequiresVerifiedPhase(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := seedPatient(env)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, RolePatient, user.Email); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	// Skipping the OTP phase entirely: there is no token yet.
	err := env.engine.ConfirmPasswordReset(ctx, RolePatient, user.Email, strings.Repeat("x", 43), "pass")
	if !errors.Is(err, ErrResetTokenExpired) {
		t.Fatalf("err = %v, want ErrResetTokenExpired", err)
	}

	// That attempt destroyed the pending challenge.
	if _, err := env.engine.VerifyResetOTP(ctx, RolePatient, user.Email, testCode); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("after premature confirm: err = %v, want ErrChallengeNotFound", err)
	}
}

func TestConfirmPasswordResetWithoutChallenge(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := seedPatient(env)
	ctx := context.Background()

	err := env.engine.ConfirmPasswordReset(ctx, RolePatient, user.Email, "whatever", "pass")
	if !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("err = %v, want ErrResetTokenInvalid", err)
	}

	if err := env.engine.ConfirmPasswordReset(ctx, RolePatient, user.Email, "whatever", ""); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("empty password: err = %v, want ErrInvalidPayload", err)
	}
}

func TestConfirmPasswordResetKeepsChallengeOnWriteFailure(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := seedPatient(env)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, RolePatient, user.Email); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	resetToken, err := env.engine.VerifyResetOTP(ctx, RolePatient, user.Email, testCode)
	if err != nil {
		t.Fatalf("VerifyResetOTP failed: %v", err)
	}

	env.adapters[RolePatient].failPassword = true
	err = env.engine.ConfirmPasswordReset(ctx, RolePatient, user.Email, resetToken, "pass")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}

	// The token survives a failed directory write so the holder can retry.
	env.adapters[RolePatient].failPassword = false
	if err := env.engine.ConfirmPasswordReset(ctx, RolePatient, user.Email, resetToken, "pass"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestPasswordResetRawTokenNeverStored(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := seedPatient(env)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, RolePatient, user.Email); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	resetToken, err := env.engine.VerifyResetOTP(ctx, RolePatient, user.Email, testCode)
	if err != nil {
		t.Fatalf("VerifyResetOTP failed: %v", err)
	}

	for _, key := range env.mini.Keys() {
		value, err := env.mini.Get(key)
		if err != nil {
			continue
		}
		if strings.Contains(value, resetToken) {
			t.Fatalf("raw reset token found in key %q", key)
		}
	}
}

func TestRequestPasswordResetThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordReset.EnableRequestThrottle = true
	cfg.PasswordReset.ThrottleWindow = time.Minute
	cfg.PasswordReset.ThrottleMax = 1

	env := newTestEnv(t, cfg)
	user := seedPatient(env)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, RolePatient, user.Email); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if err := env.engine.RequestPasswordReset(ctx, RolePatient, user.Email); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second request: err = %v, want ErrRateLimited", err)
	}
}
