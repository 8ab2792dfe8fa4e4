package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLoginLimiterBlocksAfterMaxFailures(t *testing.T) {
	mr, client := newMiniredis(t)
	limiter := NewLoginLimiter(client, 3, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.Allow(ctx, "Rep@Example.com")
		require.True(t, allowed, "attempt %d", i)
		limiter.RecordFailure(ctx, "rep@example.com ")
	}

	allowed, retryAfter := limiter.Allow(ctx, "rep@example.com")
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, retryAfter)

	mr.FastForward(time.Minute)
	allowed, _ = limiter.Allow(ctx, "rep@example.com")
	assert.True(t, allowed)
}

func TestLoginLimiterReset(t *testing.T) {
	_, client := newMiniredis(t)
	limiter := NewLoginLimiter(client, 1, time.Minute, nil)
	ctx := context.Background()

	limiter.RecordFailure(ctx, "rep@example.com")
	allowed, _ := limiter.Allow(ctx, "rep@example.com")
	require.False(t, allowed)

	limiter.Reset(ctx, "rep@example.com")
	allowed, _ = limiter.Allow(ctx, "rep@example.com")
	assert.True(t, allowed)
}

func TestLoginLimiterFailsOpen(t *testing.T) {
	mr, client := newMiniredis(t)
	limiter := NewLoginLimiter(client, 1, time.Minute, nil)
	ctx := context.Background()

	limiter.RecordFailure(ctx, "rep@example.com")
	mr.Close()

	allowed, _ := limiter.Allow(ctx, "rep@example.com")
	assert.True(t, allowed)
	assert.NotPanics(t, func() {
		limiter.RecordFailure(ctx, "rep@example.com")
		limiter.Reset(ctx, "rep@example.com")
	})
}

func TestNilLoginLimiterAllowsEverything(t *testing.T) {
	var limiter *LoginLimiter
	allowed, _ := limiter.Allow(context.Background(), "x@example.com")
	assert.True(t, allowed)
}
