package sqlite_test

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"tubefetch/internal/entity"
	"tubefetch/internal/storage"
	"tubefetch/internal/storage/sqlite"
	"tubefetch/internal/storage/storagetest"
	"tubefetch/pkg/ptr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.New(t.Context(), log, path, nil)
	require.NoError(t, err)

	return store
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storer {
		store := newStore(t, filepath.Join(t.TempDir(), "jobs.db"))
		t.Cleanup(func() { _ = store.Close() })

		return store
	})
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "jobs.db")
	ctx := t.Context()

	store := newStore(t, path)

	done, err := store.Create(ctx, storagetest.Spec("done"))
	require.NoError(t, err)
	_, err = store.Update(ctx, done.ID, entity.JobPatch{Status: ptr.Of(entity.JobStatusDownloading)})
	require.NoError(t, err)
	_, err = store.Update(ctx, done.ID, entity.JobPatch{
		Status:    ptr.Of(entity.JobStatusCompleted),
		FinalSize: ptr.Of("12 MB"),
	})
	require.NoError(t, err)

	running, err := store.Create(ctx, storagetest.Spec("running"))
	require.NoError(t, err)
	_, err = store.Update(ctx, running.ID, entity.JobPatch{
		Status:   ptr.Of(entity.JobStatusDownloading),
		Progress: ptr.Of(40),
	})
	require.NoError(t, err)

	require.NoError(t, store.Close())

	reopened := newStore(t, path)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "12 MB", got.FinalSize)
	assert.True(t, done.CreatedAt.Equal(got.CreatedAt))

	got, err = reopened.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusFailed, got.Status, "jobs interrupted by a restart resolve to failed")
	assert.Equal(t, 40, got.Progress)
	assert.NotEmpty(t, got.Error)

	next, err := reopened.Create(ctx, storagetest.Spec("next"))
	require.NoError(t, err)
	assert.Greater(t, next.ID, running.ID)
}
