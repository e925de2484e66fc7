package healauth

import (
	"bytes"
	"errors"
	"time"
)

// Config defines a public type used by healauth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Token         TokenConfig
	OTP           OTPConfig
	LoginOTP      LoginOTPConfig
	PasswordReset PasswordResetConfig
	Audit         AuditConfig
	Metrics       MetricsConfig

	// RedisPrefix namespaces every key written by the engine.
	RedisPrefix string
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by healauth APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	// AccessSecret and RefreshSecret are independent HS256 signing keys.
	// Compromise of one class must not compromise the other, so Validate
	// refuses identical or short secrets.
	AccessSecret  []byte
	RefreshSecret []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig defines a public type used by healauth APIs.
//
// OTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type OTPConfig struct {
	Digits int

	// TestMode pins every generated code to TestCode so that staging and
	// automated suites can complete flows without a delivery channel.
	// Never enable in production.
	TestMode bool
	TestCode string

	// Argon2id parameters for hashing stored codes.
	HashMemory      uint32 // in KB
	HashTime        uint32
	HashParallelism uint8
	HashSaltLength  uint32
	HashKeyLength   uint32
}

/*
====================================
LOGIN OTP CONFIG
====================================
*/

// LoginOTPConfig defines a public type used by healauth APIs.
//
// LoginOTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LoginOTPConfig struct {
	// Roles allowed to use phone-based passwordless login.
	Roles []Role

	CodeTTL     time.Duration
	MaxAttempts int

	EnableRequestThrottle bool
	ThrottleWindow        time.Duration
	ThrottleMax           int
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig defines a public type used by healauth APIs.
//
// PasswordResetConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordResetConfig struct {
	CodeTTL     time.Duration
	MaxAttempts int

	// ResetTokenTTL bounds the window between a correct OTP and the actual
	// password write. Kept much shorter than CodeTTL.
	ResetTokenTTL time.Duration

	EnableRequestThrottle bool
	ThrottleWindow        time.Duration
	ThrottleMax           int
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig defines a public type used by healauth APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by healauth APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool
}

const minSecretBytes = 32

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  3 * 24 * time.Hour,
			RefreshTTL: 28 * 24 * time.Hour,
			Issuer:     "healauth",
		},
		OTP: OTPConfig{
			Digits:          6,
			TestCode:        "123456",
			HashMemory:      19 * 1024,
			HashTime:        2,
			HashParallelism: 1,
			HashSaltLength:  16,
			HashKeyLength:   32,
		},
		LoginOTP: LoginOTPConfig{
			Roles:          []Role{RolePatient, RoleDoctor, RolePharmacy, RoleLaboratory},
			CodeTTL:        10 * time.Minute,
			MaxAttempts:    5,
			ThrottleWindow: 10 * time.Minute,
			ThrottleMax:    5,
		},
		PasswordReset: PasswordResetConfig{
			CodeTTL:        15 * time.Minute,
			MaxAttempts:    5,
			ResetTokenTTL:  10 * time.Minute,
			ThrottleWindow: 15 * time.Minute,
			ThrottleMax:    5,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		RedisPrefix: "ha",
	}
}

// DefaultConfig returns the recommended production configuration with empty
// signing secrets. Callers must set Token.AccessSecret and
// Token.RefreshSecret before Build.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.AccessSecret = append([]byte(nil), cfg.Token.AccessSecret...)
	out.Token.RefreshSecret = append([]byte(nil), cfg.Token.RefreshSecret...)
	out.LoginOTP.Roles = append([]Role(nil), cfg.LoginOTP.Roles...)
	return out
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c Config) Validate() error {
	if len(c.Token.AccessSecret) < minSecretBytes {
		return errors.New("access signing secret must be at least 32 bytes")
	}
	if len(c.Token.RefreshSecret) < minSecretBytes {
		return errors.New("refresh signing secret must be at least 32 bytes")
	}
	if bytes.Equal(c.Token.AccessSecret, c.Token.RefreshSecret) {
		return errors.New("access and refresh signing secrets must differ")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return errors.New("invalid token TTL configuration")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("refresh TTL must exceed access TTL")
	}
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("otp digits must be between 6 and 10")
	}
	if c.OTP.TestMode && len(c.OTP.TestCode) != c.OTP.Digits {
		return errors.New("test code length must match otp digits")
	}
	if c.LoginOTP.CodeTTL <= 0 || c.PasswordReset.CodeTTL <= 0 {
		return errors.New("invalid otp TTL configuration")
	}
	if c.LoginOTP.MaxAttempts <= 0 || c.PasswordReset.MaxAttempts <= 0 {
		return errors.New("max attempts must be positive")
	}
	if c.PasswordReset.ResetTokenTTL <= 0 || c.PasswordReset.ResetTokenTTL > c.PasswordReset.CodeTTL {
		return errors.New("reset token TTL must be positive and not exceed the otp TTL")
	}
	if len(c.LoginOTP.Roles) == 0 {
		return errors.New("login otp roles must be provided")
	}
	for _, role := range c.LoginOTP.Roles {
		if !role.Valid() {
			return errors.New("login otp roles contain an unknown role")
		}
	}
	if c.LoginOTP.EnableRequestThrottle && (c.LoginOTP.ThrottleWindow <= 0 || c.LoginOTP.ThrottleMax <= 0) {
		return errors.New("invalid login otp throttle configuration")
	}
	if c.PasswordReset.EnableRequestThrottle && (c.PasswordReset.ThrottleWindow <= 0 || c.PasswordReset.ThrottleMax <= 0) {
		return errors.New("invalid password reset throttle configuration")
	}
	if c.RedisPrefix == "" {
		return errors.New("redis prefix must not be empty")
	}
	return nil
}
