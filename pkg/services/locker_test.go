package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
)

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.TryLock(ctx, 1)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, 1)
	assert.ErrorIs(t, err, apperrors.ErrSyncInProgress)

	other, err := l.TryLock(ctx, 2)
	require.NoError(t, err, "instances lock independently")
	other()

	release()
	release()

	again, err := l.TryLock(ctx, 1)
	require.NoError(t, err)
	again()
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "whalefall:sync-lock:instance:42", lockKey(42))
}
