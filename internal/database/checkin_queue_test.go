package database

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"checkinsync/internal/domain"
	"checkinsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newIntent(id, hash, eventID string, createdAt time.Time) *models.CheckInIntent {
	return &models.CheckInIntent{ID: id, TargetHash: hash, EventID: eventID, CreatedAt: createdAt}
}

func TestCheckInQueueCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

	require.NoError(t, db.Put(ctx, newIntent("b", "Q-2", "gala", base.Add(time.Second))))
	require.NoError(t, db.Put(ctx, newIntent("a", "Q-1", "gala", base)))
	require.NoError(t, db.Put(ctx, newIntent("c", "Q-3", "brunch", base.Add(2*time.Second))))

	t.Run("Get", func(t *testing.T) {
		got, err := db.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "Q-1", got.TargetHash)
		assert.Equal(t, "gala", got.EventID)
		assert.True(t, got.CreatedAt.Equal(base))
		assert.False(t, got.Synced)
		assert.Nil(t, got.LastAttemptAt)
		assert.Nil(t, got.LastError)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := db.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("GetAllOrdered", func(t *testing.T) {
		all, err := db.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})
	})

	t.Run("PutUpdates", func(t *testing.T) {
		got, err := db.Get(ctx, "b")
		require.NoError(t, err)

		attempt := base.Add(time.Minute)
		msg := "timeout"
		got.AttemptCount = 1
		got.LastAttemptAt = &attempt
		got.LastError = &msg
		require.NoError(t, db.Put(ctx, got))

		updated, err := db.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, 1, updated.AttemptCount)
		require.NotNil(t, updated.LastAttemptAt)
		assert.True(t, updated.LastAttemptAt.Equal(attempt))
		assert.Equal(t, "timeout", updated.ErrorText())
	})

	t.Run("IndexSynced", func(t *testing.T) {
		got, err := db.Get(ctx, "c")
		require.NoError(t, err)
		got.Synced = true
		got.Resolution = models.ResolutionSubmitted
		require.NoError(t, db.Put(ctx, got))

		unsynced, err := db.GetAllByIndex(ctx, domain.IndexSynced, false)
		require.NoError(t, err)
		assert.Len(t, unsynced, 2)

		synced, err := db.GetAllByIndex(ctx, domain.IndexSynced, true)
		require.NoError(t, err)
		require.Len(t, synced, 1)
		assert.Equal(t, models.ResolutionSubmitted, synced[0].Resolution)
	})

	t.Run("IndexEventID", func(t *testing.T) {
		gala, err := db.GetAllByIndex(ctx, domain.IndexEventID, "gala")
		require.NoError(t, err)
		assert.Len(t, gala, 2)
	})

	t.Run("IndexCreatedAt", func(t *testing.T) {
		recent, err := db.GetAllByIndex(ctx, domain.IndexCreatedAt, base.Add(time.Second))
		require.NoError(t, err)
		assert.Len(t, recent, 2)
	})

	t.Run("IndexErrors", func(t *testing.T) {
		_, err := db.GetAllByIndex(ctx, domain.IndexSynced, "yes")
		assert.Error(t, err)
		_, err = db.GetAllByIndex(ctx, domain.Index("color"), "red")
		assert.Error(t, err)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, db.Delete(ctx, "c"))
		require.NoError(t, db.Delete(ctx, "c"))
		_, err := db.Get(ctx, "c")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCheckInQueueSurvivesReopen(t *testing.T) {
	logger := zerolog.New(io.Discard)
	path := filepath.Join(t.TempDir(), "queue", "checkins.db")
	ctx := context.Background()

	db, err := NewDB(path, &logger)
	require.NoError(t, err)
	created := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, db.Put(ctx, newIntent("id-1", "Q-42", "gala", created)))
	require.NoError(t, db.Close())

	reopened, err := NewDB(path, &logger)
	require.NoError(t, err)
	defer reopened.Close()

	unsynced, err := reopened.GetAllByIndex(ctx, domain.IndexSynced, false)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, "id-1", unsynced[0].ID)
	assert.Equal(t, "Q-42", unsynced[0].TargetHash)
	assert.True(t, unsynced[0].CreatedAt.Equal(created))
}

func TestCheckInQueue_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close()

	ctx := context.Background()

	_, err = db.Get(ctx, "x")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Error(t, db.Put(ctx, newIntent("x", "Q", "", time.Now())))
	assert.Error(t, db.Delete(ctx, "x"))
	_, err = db.GetAll(ctx)
	assert.Error(t, err)
	_, err = db.GetAllByIndex(ctx, domain.IndexSynced, false)
	assert.Error(t, err)
}

func TestNewDB_Error(t *testing.T) {
	tmpDir := t.TempDir()
	logger := zerolog.New(io.Discard)
	_, err := NewDB(tmpDir, &logger)
	assert.Error(t, err)
}
