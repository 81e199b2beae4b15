package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/trydex/claude-code-viewer/internal/common/errors"
	"github.com/trydex/claude-code-viewer/internal/db"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store, err := NewSQLiteStore(conn)
	require.NoError(t, err)
	return store
}

func TestSQLiteStoreCRUD(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	job := reservedJob("job-1", at)
	job.CreatedAt = time.Now().UTC()
	require.NoError(t, store.Create(ctx, job))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "one shot", got.Name)
	assert.Equal(t, ScheduleReserved, got.ScheduleType)
	require.NotNil(t, got.At)
	assert.True(t, got.At.Equal(at))
	assert.Nil(t, got.LastRunStatus)
	assert.True(t, got.Enabled)

	got.Enabled = false
	got.Prompt = "updated prompt"
	require.NoError(t, store.Update(ctx, got))

	again, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, again.Enabled)
	assert.Equal(t, "updated prompt", again.Prompt)

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	require.NoError(t, store.Delete(ctx, "job-1"))
	_, err = store.Get(ctx, "job-1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSQLiteStoreRecordRun(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	job := intervalJob("job-1", 60)
	job.CreatedAt = time.Now().UTC()
	require.NoError(t, store.Create(ctx, job))

	ranAt := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, store.RecordRun(ctx, "job-1", RunStatusSuccess, ranAt))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastRunStatus)
	assert.Equal(t, RunStatusSuccess, *got.LastRunStatus)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(ranAt))
}

func TestSQLiteStoreNotFound(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	assert.True(t, apperrors.IsNotFound(store.Delete(ctx, "missing")))
	assert.True(t, apperrors.IsNotFound(store.RecordRun(ctx, "missing", RunStatusSuccess, time.Now())))

	job := intervalJob("ghost", 60)
	assert.True(t, apperrors.IsNotFound(store.Update(ctx, job)))
}
