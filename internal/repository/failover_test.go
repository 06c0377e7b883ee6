package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"checkinsync/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLock struct {
	mock.Mock
}

func (m *mockLock) TryAcquire(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockLock) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestFailoverRunLock(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary := new(mockLock)
		fallback := new(mockLock)
		lock := NewFailoverRunLock(primary, fallback, &logger)

		primary.On("TryAcquire", ctx).Return(true, nil).Once()
		primary.On("Release", ctx).Return(nil).Once()

		ok, err := lock.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, lock.Release(ctx))

		primary.AssertExpectations(t)
		fallback.AssertNotCalled(t, "TryAcquire", mock.Anything)
	})

	t.Run("PrimaryBusy", func(t *testing.T) {
		primary := new(mockLock)
		fallback := new(mockLock)
		lock := NewFailoverRunLock(primary, fallback, &logger)

		primary.On("TryAcquire", ctx).Return(false, nil).Once()

		ok, err := lock.TryAcquire(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, lock.isDown.Load())
		// nothing held, nothing released
		require.NoError(t, lock.Release(ctx))
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary := new(mockLock)
		fallback := NewMemoryRunLock()
		lock := NewFailoverRunLock(primary, fallback, &logger)

		primary.On("TryAcquire", ctx).Return(false, errors.New("connection refused")).Once()

		ok, err := lock.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, lock.isDown.Load())
		assert.True(t, fallback.Held())

		// while down the primary is skipped
		ok, err = lock.TryAcquire(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, lock.Release(ctx))
		assert.False(t, fallback.Held())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		primary := new(mockLock)
		fallback := NewMemoryRunLock()
		lock := NewFailoverRunLock(primary, fallback, &logger)
		lock.isDown.Store(true)
		lock.lastCheck = time.Now().Add(-2 * time.Minute)

		primary.On("TryAcquire", ctx).Return(true, nil).Once()

		ok, err := lock.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, lock.isDown.Load())
		assert.False(t, fallback.Held())
		primary.AssertExpectations(t)
	})
	t.Run("PrimaryDownWhileHeld", func(t *testing.T) {
		primary := new(mockLock)
		fallback := NewMemoryRunLock()
		lock := NewFailoverRunLock(primary, fallback, &logger)

		primary.On("TryAcquire", ctx).Return(true, nil).Once()
		primary.On("Release", ctx).Return(errors.New("redis down")).Once()

		ok, err := lock.TryAcquire(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		// redis goes away mid-pass; a second trigger must not take the fallback
		ok, err = lock.TryAcquire(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, fallback.Held())

		assert.Error(t, lock.Release(ctx))
		primary.AssertNumberOfCalls(t, "TryAcquire", 1)
		primary.AssertExpectations(t)

		// the hold is gone even though the primary release failed
		primary.On("TryAcquire", ctx).Return(false, errors.New("redis down")).Once()
		ok, err = lock.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, fallback.Held())
	})

	t.Run("FallbackHeldThenRecovery", func(t *testing.T) {
		primary := new(mockLock)
		fallback := NewMemoryRunLock()
		lock := NewFailoverRunLock(primary, fallback, &logger)

		primary.On("TryAcquire", ctx).Return(false, errors.New("connection refused")).Once()

		ok, err := lock.TryAcquire(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, fallback.Held())

		// the recovery window elapses while the local hold is still active
		lock.mu.Lock()
		lock.lastCheck = time.Now().Add(-2 * time.Minute)
		lock.mu.Unlock()

		ok, err = lock.TryAcquire(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		primary.AssertNumberOfCalls(t, "TryAcquire", 1)

		require.NoError(t, lock.Release(ctx))
		assert.False(t, fallback.Held())

		primary.On("TryAcquire", ctx).Return(true, nil).Once()
		ok, err = lock.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, lock.isDown.Load())
		assert.Equal(t, domain.RunLock(primary), lock.heldBy)
	})
}
