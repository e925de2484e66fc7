package healauth

import (
	"errors"

	internalaudit "github.com/healbridge/healauth/internal/audit"
	"github.com/healbridge/healauth/internal/limiters"
	"github.com/healbridge/healauth/internal/stores"
	"github.com/healbridge/healauth/otp"
	"github.com/healbridge/healauth/token"
	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by healauth APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  *redis.Client

	directory Directory
	notifier  Notifier
	auditSink AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithDirectory registers the per-role account adapters. Every role that can
// authenticate must have an adapter; Build refuses a directory that does not
// cover the configured login-OTP roles.
func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

// WithNotifier describes the withnotifier operation and its observable behavior.
//
// WithNotifier may return an error when input validation, dependency calls, or security checks fail.
// WithNotifier does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if len(b.directory) == 0 {
		return nil, errors.New("directory required")
	}
	for role := range b.directory {
		if !role.Valid() {
			return nil, errors.New("directory contains unknown role: " + string(role))
		}
	}
	for _, role := range cfg.LoginOTP.Roles {
		if _, ok := b.directory[role]; !ok {
			return nil, errors.New("directory missing adapter for login role: " + string(role))
		}
	}

	// -------- TOKEN CODEC --------
	tokens, err := token.NewManager(token.Config{
		AccessSecret:  cfg.Token.AccessSecret,
		RefreshSecret: cfg.Token.RefreshSecret,
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		Issuer:        cfg.Token.Issuer,
	})
	if err != nil {
		return nil, err
	}

	// -------- OTP GENERATION / HASHING --------
	otpGen, err := otp.NewGenerator(cfg.OTP.Digits, cfg.OTP.TestMode, cfg.OTP.TestCode)
	if err != nil {
		return nil, err
	}
	otpHasher, err := otp.NewHasher(otp.HasherConfig{
		Memory:      cfg.OTP.HashMemory,
		Time:        cfg.OTP.HashTime,
		Parallelism: cfg.OTP.HashParallelism,
		SaltLength:  cfg.OTP.HashSaltLength,
		KeyLength:   cfg.OTP.HashKeyLength,
	})
	if err != nil {
		return nil, err
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = NoOpNotifier{}
	}

	sink := b.auditSink
	if sink == nil {
		sink = internalaudit.NoOpSink{}
	}

	engine := &Engine{
		config:    cfg,
		directory: b.directory,
		notifier:  notifier,
		tokens:    tokens,
		otpGen:    otpGen,
		otpHasher: otpHasher,

		loginStore:  stores.NewLoginChallengeStore(b.redis, cfg.RedisPrefix),
		resetStore:  stores.NewResetChallengeStore(b.redis, cfg.RedisPrefix),
		revocations: stores.NewRevocationStore(b.redis, cfg.RedisPrefix),

		loginLimiter: limiters.NewRequestLimiter(b.redis, cfg.RedisPrefix, limiters.Config{
			Enabled: cfg.LoginOTP.EnableRequestThrottle,
			Window:  cfg.LoginOTP.ThrottleWindow,
			Max:     cfg.LoginOTP.ThrottleMax,
		}),
		resetLimiter: limiters.NewRequestLimiter(b.redis, cfg.RedisPrefix, limiters.Config{
			Enabled: cfg.PasswordReset.EnableRequestThrottle,
			Window:  cfg.PasswordReset.ThrottleWindow,
			Max:     cfg.PasswordReset.ThrottleMax,
		}),

		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink),
		metrics: NewMetrics(cfg.Metrics),
	}

	b.built = true
	return engine, nil
}
