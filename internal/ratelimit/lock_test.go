package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLockerFallsBackToLocal(t *testing.T) {
	_, ok := NewLocker(nil).(*LocalLocker)
	assert.True(t, ok)
}

func TestLocalLockerSingleOwner(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	token, ok, err := locker.TryLock(ctx, "job:cost_monitor", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "job:cost_monitor", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must be refused")

	require.NoError(t, locker.Release(ctx, "job:cost_monitor", "someone-else"))
	_, ok, _ = locker.TryLock(ctx, "job:cost_monitor", time.Minute)
	assert.False(t, ok, "foreign token must not release the lease")

	require.NoError(t, locker.Release(ctx, "job:cost_monitor", token))
	_, ok, err = locker.TryLock(ctx, "job:cost_monitor", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLockerExpires(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }

	_, ok, err := locker.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, err = locker.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")
}

func TestLockValidation(t *testing.T) {
	_, _, err := NewLocalLocker().TryLock(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrInvalidLockKey)
	_, _, err = NewLocalLocker().TryLock(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidLockTTL)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, retryAfter(0, 2))
	assert.Equal(t, time.Duration(0), retryAfter(1, 2))
	assert.Equal(t, 5*time.Second, bucketTTL(2, 5))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
}
