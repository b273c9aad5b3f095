//go:build integration

package services

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/testhelpers"
)

func TestRedisLocker(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testhelpers.GetRedisAddr(t)})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	require.NoError(t, client.Del(ctx, lockKey(7)).Err())

	first := NewRedisLocker(client, time.Minute, zaptest.NewLogger(t))
	second := NewRedisLocker(client, time.Minute, zaptest.NewLogger(t))

	release, err := first.TryLock(ctx, 7)
	require.NoError(t, err)

	_, err = second.TryLock(ctx, 7)
	assert.ErrorIs(t, err, apperrors.ErrSyncInProgress)

	release()
	release()

	again, err := second.TryLock(ctx, 7)
	require.NoError(t, err)
	again()
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testhelpers.GetRedisAddr(t)})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	require.NoError(t, client.Del(ctx, lockKey(8)).Err())

	l := NewRedisLocker(client, time.Minute, zaptest.NewLogger(t))
	release, err := l.TryLock(ctx, 8)
	require.NoError(t, err)

	// Simulate expiry followed by another holder.
	require.NoError(t, client.Set(ctx, lockKey(8), "someone-else", time.Minute).Err())
	release()

	holder, err := client.Get(ctx, lockKey(8)).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", holder)
}

func TestRedisLocker_RenewsWhileHeld(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testhelpers.GetRedisAddr(t)})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	require.NoError(t, client.Del(ctx, lockKey(9)).Err())

	ttl := 600 * time.Millisecond
	first := NewRedisLocker(client, ttl, zaptest.NewLogger(t))
	second := NewRedisLocker(client, ttl, zaptest.NewLogger(t))

	release, err := first.TryLock(ctx, 9)
	require.NoError(t, err)

	// Hold well past the TTL.
	time.Sleep(3 * ttl)
	_, err = second.TryLock(ctx, 9)
	assert.ErrorIs(t, err, apperrors.ErrSyncInProgress, "a running sync keeps its lock past the TTL")

	release()
	exists, err := client.Exists(ctx, lockKey(9)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	again, err := second.TryLock(ctx, 9)
	require.NoError(t, err)
	again()
}
