// Package storagetest provides a behavioural test suite shared by every
// storage.Storer implementation.
package storagetest

import (
	"sync"
	"testing"
	"time"

	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/internal/storage"
	"tubefetch/pkg/ptr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Spec returns a job spec for tests.
func Spec(title string) entity.JobSpec {
	return entity.JobSpec{
		URL:         "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Title:       title,
		Author:      "Rick Astley",
		Duration:    "00:03:33",
		Thumbnail:   "https://i.ytimg.com/vi/dQw4w9WgXcQ/maxresdefault.jpg",
		Quality:     "720p",
		Format:      "mp4",
		FormatToken: "22",
		FileSize:    "~12 MB",
	}
}

// Run executes the suite against stores built by newStore. Every subtest gets
// a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Storer) {
	t.Helper()

	t.Run("create assigns strictly increasing ids", func(t *testing.T) {
		stg := newStore(t)
		ctx := t.Context()

		var prev int64

		for i := range 10 {
			job, err := stg.Create(ctx, Spec("video"))
			require.NoError(t, err)
			assert.Greater(t, job.ID, prev, "create #%d", i)
			assert.Equal(t, entity.JobStatusPending, job.Status)
			assert.Equal(t, 0, job.Progress)
			assert.False(t, job.CreatedAt.IsZero())

			prev = job.ID
		}
	})

	t.Run("concurrent creates never share an id", func(t *testing.T) {
		stg := newStore(t)
		ctx := t.Context()

		const n = 32

		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			ids = make(map[int64]struct{}, n)
		)

		for range n {
			wg.Go(func() {
				job, err := stg.Create(ctx, Spec("video"))
				assert.NoError(t, err)

				mu.Lock()
				ids[job.ID] = struct{}{}
				mu.Unlock()
			})
		}

		wg.Wait()
		assert.Len(t, ids, n)
	})

	t.Run("ids are not reused after delete", func(t *testing.T) {
		stg := newStore(t)
		ctx := t.Context()

		first, err := stg.Create(ctx, Spec("first"))
		require.NoError(t, err)

		ok, err := stg.Delete(ctx, first.ID)
		require.NoError(t, err)
		require.True(t, ok)

		second, err := stg.Create(ctx, Spec("second"))
		require.NoError(t, err)
		assert.Greater(t, second.ID, first.ID)
	})

	t.Run("get unknown id", func(t *testing.T) {
		stg := newStore(t)

		_, err := stg.Get(t.Context(), 42)
		assert.ErrorIs(t, err, errs.ErrJobNotFound)
	})

	t.Run("create then get returns the metadata", func(t *testing.T) {
		stg := newStore(t)
		ctx := t.Context()

		created, err := stg.Create(ctx, Spec("video"))
		require.NoError(t, err)

		got, err := stg.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, Spec("video").Title, got.Title)
		assert.Equal(t, Spec("video").FormatToken, got.FormatToken)
		assert.Equal(t, Spec("video").FileSize, got.FileSize)
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("list is newest first", func(t *testing.T) {
		stg := newStore(t)
		ctx := t.Context()

		for _, title := range []string{"a", "b", "c"} {
			_, err := stg.Create(ctx, Spec(title))
			require.NoError(t, err)
		}

		jobs, err := stg.List(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 3)

		for i := 1; i < len(jobs); i++ {
			assert.False(t, jobs[i].CreatedAt.After(jobs[i-1].CreatedAt))
			assert.Less(t, jobs[i].ID, jobs[i-1].ID)
		}

		assert.Equal(t, "c", jobs[0].Title)
	})

	t.Run("list of empty store", func(t *testing.T) {
		stg := newStore(t)

		jobs, err := stg.List(t.Context())
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("update merges only given fields", func(t *testing.T) {
		stg := newStore(t)
		ctx := t.Context()

		created, err := stg.Create(ctx, Spec("video"))
		require.NoError(t, err)

		got, err := stg.Update(ctx, created.ID, entity.JobPatch{
			Status:        ptr.Of(entity.JobStatusDownloading),
			Progress:      ptr.Of(30),
			DownloadSpeed: ptr.Of("1.0 MB/s"),
		})
		require.NoError(t, err)
		assert.Equal(t, entity.JobStatusDownloading, got.Status)
		assert.Equal(t, 30, got.Progress)
		assert.Equal(t, "1.0 MB/s", got.DownloadSpeed)
		assert.Equal(t, created.Title, got.Title)

		got, err = stg.Update(ctx, created.ID, entity.JobPatch{TimeRemaining: ptr.Of("0m 5s")})
		require.NoError(t, err)
		assert.Equal(t, 30, got.Progress)
		assert.Equal(t, "1.0 MB/s", got.DownloadSpeed)
		assert.Equal(t, "0m 5s", got.TimeRemaining)

		stored, err := stg.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, got.Progress, stored.Progress)
		assert.Equal(t, got.TimeRemaining, stored.TimeRemaining)
	})

	t.Run("update unknown id leaves store unchanged", func(t *testing.T) {
		stg := newStore(t)
		ctx := t.Context()

		created, err := stg.Create(ctx, Spec("video"))
		require.NoError(t, err)

		_, err = stg.Update(ctx, created.ID+100, entity.JobPatch{Status: ptr.Of(entity.JobStatusFailed)})
		require.ErrorIs(t, err, errs.ErrJobNotFound)

		jobs, err := stg.List(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, entity.JobStatusPending, jobs[0].Status)
	})

	t.Run("progress never decreases while downloading", func(t *testing.T) {
		stg := newStore(t)
		ctx := t.Context()

		created, err := stg.Create(ctx, Spec("video"))
		require.NoError(t, err)

		_, err = stg.Update(ctx, created.ID, entity.JobPatch{
			Status:   ptr.Of(entity.JobStatusDownloading),
			Progress: ptr.Of(70),
		})
		require.NoError(t, err)

		got, err := stg.Update(ctx, created.ID, entity.JobPatch{Progress: ptr.Of(30)})
		require.NoError(t, err)
		assert.Equal(t, 70, got.Progress)
	})

	t.Run("terminal jobs never change", func(t *testing.T) {
		stg := newStore(t)
		ctx := t.Context()

		created, err := stg.Create(ctx, Spec("video"))
		require.NoError(t, err)

		_, err = stg.Update(ctx, created.ID, entity.JobPatch{Status: ptr.Of(entity.JobStatusDownloading)})
		require.NoError(t, err)

		done, err := stg.Update(ctx, created.ID, entity.JobPatch{
			Status:        ptr.Of(entity.JobStatusCompleted),
			FinalSize:     ptr.Of("12 MB"),
			DownloadSpeed: ptr.Of(""),
			TimeRemaining: ptr.Of(""),
		})
		require.NoError(t, err)
		assert.Equal(t, entity.JobStatusCompleted, done.Status)
		assert.Equal(t, 100, done.Progress)

		for _, patch := range []entity.JobPatch{
			{Status: ptr.Of(entity.JobStatusFailed), Error: ptr.Of("late error")},
			{Status: ptr.Of(entity.JobStatusCompleted), FinalSize: ptr.Of("99 MB")},
			{Progress: ptr.Of(10)},
		} {
			got, err := stg.Update(ctx, created.ID, patch)
			require.NoError(t, err)
			assert.Equal(t, entity.JobStatusCompleted, got.Status)
			assert.Equal(t, 100, got.Progress)
			assert.Equal(t, "12 MB", got.FinalSize)
			assert.Empty(t, got.Error)
		}
	})

	t.Run("delete", func(t *testing.T) {
		stg := newStore(t)
		ctx := t.Context()

		created, err := stg.Create(ctx, Spec("video"))
		require.NoError(t, err)

		ok, err := stg.Delete(ctx, created.ID+1)
		require.NoError(t, err)
		assert.False(t, ok)

		jobs, err := stg.List(ctx)
		require.NoError(t, err)
		assert.Len(t, jobs, 1)

		ok, err = stg.Delete(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = stg.Get(ctx, created.ID)
		assert.ErrorIs(t, err, errs.ErrJobNotFound)

		ok, err = stg.Delete(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete expired removes only old terminal jobs", func(t *testing.T) {
		stg := newStore(t)
		ctx := t.Context()

		running, err := stg.Create(ctx, Spec("running"))
		require.NoError(t, err)
		_, err = stg.Update(ctx, running.ID, entity.JobPatch{Status: ptr.Of(entity.JobStatusDownloading)})
		require.NoError(t, err)

		failed, err := stg.Create(ctx, Spec("failed"))
		require.NoError(t, err)
		_, err = stg.Update(ctx, failed.ID, entity.JobPatch{Status: ptr.Of(entity.JobStatusFailed)})
		require.NoError(t, err)

		removed, err := stg.DeleteExpired(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = stg.Get(ctx, failed.ID)
		require.ErrorIs(t, err, errs.ErrJobNotFound)

		_, err = stg.Get(ctx, running.ID)
		require.NoError(t, err)

		removed, err = stg.DeleteExpired(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}
