package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const loginAttemptsKeyPrefix = "login_attempts:"

// LoginLimiter counts failed logins per email in Redis. Redis failures fail open.
type LoginLimiter struct {
	client      redis.Cmdable
	maxAttempts int
	window      time.Duration
	logger      *zap.Logger
}

// NewLoginLimiter builds a limiter allowing maxAttempts failures per window.
func NewLoginLimiter(client redis.Cmdable, maxAttempts int, window time.Duration, logger *zap.Logger) *LoginLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginLimiter{client: client, maxAttempts: maxAttempts, window: window, logger: logger}
}

// Allow reports whether another attempt is permitted and, if not, how long to wait.
func (l *LoginLimiter) Allow(ctx context.Context, email string) (bool, time.Duration) {
	if l == nil || l.client == nil {
		return true, 0
	}
	key := loginAttemptsKey(email)
	raw, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return true, 0
	}
	if err != nil {
		l.logger.Warn("login limiter unavailable; allowing attempt", zap.Error(err))
		return true, 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < l.maxAttempts {
		return true, 0
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = l.window
	}
	return false, ttl
}

// RecordFailure counts a failed attempt, opening the window on the first failure.
func (l *LoginLimiter) RecordFailure(ctx context.Context, email string) {
	if l == nil || l.client == nil {
		return
	}
	key := loginAttemptsKey(email)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("login limiter failed to record attempt", zap.Error(err))
		return
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			l.logger.Warn("login limiter failed to set window", zap.Error(err))
		}
	}
}

// Reset clears the failure count after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, email string) {
	if l == nil || l.client == nil {
		return
	}
	if err := l.client.Del(ctx, loginAttemptsKey(email)).Err(); err != nil {
		l.logger.Warn("login limiter failed to reset", zap.Error(err))
	}
}

func loginAttemptsKey(email string) string {
	return loginAttemptsKeyPrefix + normalizeEmail(email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
