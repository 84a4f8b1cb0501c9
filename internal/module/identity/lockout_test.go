package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
)

func TestLockout_LocksAfterMaxFailures(t *testing.T) {
	mr, redisService := newTestRedis(t)
	lockout := NewLockout(redisService, testAdminAuth)
	ctx := context.Background()

	for i := 1; i < 5; i++ {
		locked, err := lockout.RecordFailure(ctx, "Ops@Example.com ")
		require.NoError(t, err)
		assert.False(t, locked, "failure %d", i)
		require.NoError(t, lockout.Check(ctx, "ops@example.com"))
	}

	failures, err := lockout.Failures(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, 4, failures)

	locked, err := lockout.RecordFailure(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.True(t, locked)

	err = lockout.Check(ctx, "ops@example.com")
	require.Error(t, err)
	fe, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.RateLimited, fe.Kind)
	assert.Equal(t, "Too many failed attempts. Try again in 15:00.", fe.Message)
	assert.Equal(t, 15*time.Minute, fe.RetryAfter)

	failures, err = lockout.Failures(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.Zero(t, failures)

	mr.FastForward(10 * time.Minute)
	err = lockout.Check(ctx, "ops@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Try again in 05:00.")

	mr.FastForward(5 * time.Minute)
	assert.NoError(t, lockout.Check(ctx, "ops@example.com"))
}

func TestLockout_WindowExpiryResetsCounter(t *testing.T) {
	mr, redisService := newTestRedis(t)
	lockout := NewLockout(redisService, testAdminAuth)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := lockout.RecordFailure(ctx, "ops@example.com")
		require.NoError(t, err)
	}

	mr.FastForward(16 * time.Minute)

	failures, err := lockout.Failures(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.Zero(t, failures)

	locked, err := lockout.RecordFailure(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestLockout_Reset(t *testing.T) {
	_, redisService := newTestRedis(t)
	lockout := NewLockout(redisService, testAdminAuth)
	ctx := context.Background()

	_, err := lockout.RecordFailure(ctx, "ops@example.com")
	require.NoError(t, err)
	require.NoError(t, lockout.Reset(ctx, "ops@example.com"))

	failures, err := lockout.Failures(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.Zero(t, failures)
}

func TestLockedMessage(t *testing.T) {
	assert.Equal(t, "Too many failed attempts. Try again in 00:01.", lockedMessage(200*time.Millisecond))
	assert.Equal(t, "Too many failed attempts. Try again in 14:59.", lockedMessage(14*time.Minute+59*time.Second))
}
