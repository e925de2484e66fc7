// Package limiters provides fixed-window request throttles for OTP issuance.
// The attempt counter on each challenge remains the primary brute-force
// defense; these limiters cap how often new codes can be requested for one
// identity.
package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimited        = errors.New("otp request rate limited")
	ErrLimiterUnavailable = errors.New("otp limiter backend unavailable")
)

type Config struct {
	Enabled bool
	Window  time.Duration
	Max     int
}

// RequestLimiter throttles challenge issuance per (role, identity) key with
// a fixed window implemented as INCR + EXPIRE.
type RequestLimiter struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

func NewRequestLimiter(redisClient redis.UniversalClient, prefix string, cfg Config) *RequestLimiter {
	if prefix == "" {
		prefix = "ha"
	}
	return &RequestLimiter{
		redis:  redisClient,
		prefix: prefix,
		config: cfg,
	}
}

// Check records one request for the key and fails with ErrRateLimited once
// the window's budget is spent.
func (l *RequestLimiter) Check(ctx context.Context, kind, role, identity string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}

	key := l.prefix + ":rl:" + kind + ":" + role + ":" + identity

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
	}
	if count > int64(l.config.Max) {
		return ErrRateLimited
	}
	return nil
}
