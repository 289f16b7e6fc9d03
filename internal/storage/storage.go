// Package storage holds download jobs and provides the in-memory job store.
package storage

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/internal/observability"
)

// Storer defines the interface for job storage operations.
//
// Implementations own their records: every method returns copies, and all
// mutations go through Update. Updates addressed to a terminal job leave it
// unchanged and return the stored record.
type Storer interface {
	// Create assigns the next unused id and stores a pending job.
	Create(ctx context.Context, spec entity.JobSpec) (entity.Job, error)
	// Get returns the job or errs.ErrJobNotFound.
	Get(ctx context.Context, id int64) (entity.Job, error)
	// List returns all jobs, newest first.
	List(ctx context.Context) ([]entity.Job, error)
	// Update merges patch into the job or returns errs.ErrJobNotFound.
	Update(ctx context.Context, id int64, patch entity.JobPatch) (entity.Job, error)
	// Delete removes the job and reports whether it existed.
	Delete(ctx context.Context, id int64) (bool, error)
	// DeleteExpired removes terminal jobs last updated before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
	// Close releases resources held by the store.
	Close() error
}

type storage struct {
	log     *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	jobs   map[int64]*entity.Job // job id : job
	lastID int64
}

var _ Storer = (*storage)(nil)

// New creates a new in-memory storage instance.
func New(log *slog.Logger, metrics *observability.Metrics) Storer {
	return &storage{
		log:     log.With(slog.String("package", "storage"), slog.String("driver", "memory")),
		metrics: metrics,
		now:     time.Now,
		jobs:    make(map[int64]*entity.Job),
	}
}

func (stg *storage) Create(ctx context.Context, spec entity.JobSpec) (entity.Job, error) {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	stg.lastID++
	job := entity.NewJob(stg.lastID, spec, stg.now())
	stg.jobs[job.ID] = &job

	stg.metrics.SetStoredJobs(len(stg.jobs))
	stg.log.DebugContext(ctx, "job created", slog.Any("job", job))

	return job, nil
}

func (stg *storage) Get(_ context.Context, id int64) (entity.Job, error) {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	job, ok := stg.jobs[id]
	if !ok {
		return entity.Job{}, errs.ErrJobNotFound
	}

	return *job, nil
}

func (stg *storage) List(_ context.Context) ([]entity.Job, error) {
	stg.mu.RLock()
	jobs := make([]entity.Job, 0, len(stg.jobs))

	for _, job := range stg.jobs {
		jobs = append(jobs, *job)
	}
	stg.mu.RUnlock()

	SortNewestFirst(jobs)

	return jobs, nil
}

func (stg *storage) Update(ctx context.Context, id int64, patch entity.JobPatch) (entity.Job, error) {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	job, ok := stg.jobs[id]
	if !ok {
		return entity.Job{}, errs.ErrJobNotFound
	}

	if !job.Apply(patch, stg.now()) && job.Status.IsTerminal() {
		stg.log.DebugContext(ctx, "update of terminal job ignored", slog.Any("job", *job))
	}

	return *job, nil
}

func (stg *storage) Delete(ctx context.Context, id int64) (bool, error) {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	if _, ok := stg.jobs[id]; !ok {
		return false, nil
	}

	delete(stg.jobs, id)

	stg.metrics.SetStoredJobs(len(stg.jobs))
	stg.log.DebugContext(ctx, "job deleted", slog.Int64("job_id", id))

	return true, nil
}

func (stg *storage) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	removed := 0

	for id, job := range stg.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			delete(stg.jobs, id)
			removed++
		}
	}

	stg.metrics.SetStoredJobs(len(stg.jobs))

	return removed, nil
}

func (stg *storage) Close() error { return nil }

// SortNewestFirst orders jobs by creation time descending, breaking ties by
// the higher id.
func SortNewestFirst(jobs []entity.Job) {
	slices.SortFunc(jobs, func(a, b entity.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(b.ID, a.ID)
	})
}
