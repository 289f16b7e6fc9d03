// Package sqlite provides a storage.Storer persisted in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/internal/observability"
	"tubefetch/internal/storage"
	"tubefetch/pkg/ptr"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const jobColumns = `id, url, title, author, duration, thumbnail, quality, format, format_token, file_size,
	status, progress, download_speed, time_remaining, final_size, error, created_at, updated_at`

var (
	hookOnce sync.Once
	// goose keeps its base FS and dialect in package state.
	migrateMu sync.Mutex
)

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}

			return nil
		})
	})
}

// Store is a SQLite backed job store.
type Store struct {
	log     *slog.Logger
	metrics *observability.Metrics
	db      *sql.DB
	now     func() time.Time
}

var _ storage.Storer = (*Store)(nil)

// New opens (creating when needed) the database at path, applies migrations
// and resolves jobs left unfinished by a previous process to failed.
func New(ctx context.Context, log *slog.Logger, path string, metrics *observability.Metrics) (*Store, error) {
	registerHook()

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection for SQLite (WAL allows concurrent reads but only one writer)
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()

		return nil, err
	}

	store := &Store{
		log:     log.With(slog.String("package", "storage"), slog.String("driver", "sqlite")),
		metrics: metrics,
		db:      db,
		now:     time.Now,
	}

	interrupted, err := store.failUnfinished(ctx)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	if interrupted > 0 {
		store.log.WarnContext(ctx, "unfinished jobs marked failed", slog.Int("count", interrupted))
	}

	store.refreshGauge(ctx)

	return store, nil
}

func migrate(db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a pending job. AUTOINCREMENT keeps ids from being reused.
func (s *Store) Create(ctx context.Context, spec entity.JobSpec) (entity.Job, error) {
	job := entity.NewJob(0, spec, s.now())

	res, err := s.db.ExecContext(ctx, `INSERT INTO jobs (
		url, title, author, duration, thumbnail, quality, format, format_token, file_size,
		status, progress, download_speed, time_remaining, final_size, error, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.URL, job.Title, job.Author, job.Duration, job.Thumbnail, job.Quality, job.Format,
		job.FormatToken, job.FileSize, string(job.Status), job.Progress, job.DownloadSpeed,
		job.TimeRemaining, job.FinalSize, job.Error, job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano())
	if err != nil {
		return entity.Job{}, fmt.Errorf("insert job: %w", err)
	}

	job.ID, err = res.LastInsertId()
	if err != nil {
		return entity.Job{}, fmt.Errorf("last insert id: %w", err)
	}

	s.refreshGauge(ctx)
	s.log.DebugContext(ctx, "job created", slog.Any("job", job))

	return job, nil
}

// Get returns the job with id.
func (s *Store) Get(ctx context.Context, id int64) (entity.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)

	return scanJob(row)
}

// List returns all jobs, newest first.
func (s *Store) List(ctx context.Context) ([]entity.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]entity.Job, 0)

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, nil
}

// Update merges patch into the job inside a single transaction.
func (s *Store) Update(ctx context.Context, id int64, patch entity.JobPatch) (entity.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return entity.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return entity.Job{}, err
	}

	if !job.Apply(patch, s.now()) {
		return job, nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE jobs SET
		status = ?, progress = ?, download_speed = ?, time_remaining = ?, final_size = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		string(job.Status), job.Progress, job.DownloadSpeed, job.TimeRemaining, job.FinalSize, job.Error,
		job.UpdatedAt.UnixNano(), id)
	if err != nil {
		return entity.Job{}, fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return entity.Job{}, fmt.Errorf("commit: %w", err)
	}

	return job, nil
}

// Delete removes the job and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	s.refreshGauge(ctx)

	return n > 0, nil
}

// DeleteExpired removes terminal jobs last updated before cutoff.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status IN (?, ?) AND updated_at < ?`,
		string(entity.JobStatusCompleted), string(entity.JobStatusFailed), cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	s.refreshGauge(ctx)

	return int(n), nil
}

func (s *Store) failUnfinished(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM jobs WHERE status IN (?, ?)`,
		string(entity.JobStatusPending), string(entity.JobStatusDownloading))
	if err != nil {
		return 0, fmt.Errorf("select unfinished jobs: %w", err)
	}

	var ids []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()

			return 0, fmt.Errorf("scan id: %w", err)
		}

		ids = append(ids, id)
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate unfinished jobs: %w", err)
	}

	patch := entity.JobPatch{
		Status: ptr.Of(entity.JobStatusFailed),
		Error:  ptr.Of(errs.ErrJobInterrupted.Error()),
	}

	for _, id := range ids {
		if _, err := s.Update(ctx, id, patch); err != nil {
			return 0, fmt.Errorf("fail job %d: %w", id, err)
		}
	}

	return len(ids), nil
}

func (s *Store) refreshGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&count); err != nil {
		s.log.WarnContext(ctx, "count jobs", slog.Any("error", err))

		return
	}

	s.metrics.SetStoredJobs(count)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (entity.Job, error) {
	var (
		job                  entity.Job
		status               string
		createdAt, updatedAt int64
	)

	err := row.Scan(&job.ID, &job.URL, &job.Title, &job.Author, &job.Duration, &job.Thumbnail,
		&job.Quality, &job.Format, &job.FormatToken, &job.FileSize, &status, &job.Progress,
		&job.DownloadSpeed, &job.TimeRemaining, &job.FinalSize, &job.Error, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Job{}, errs.ErrJobNotFound
	}

	if err != nil {
		return entity.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.Status = entity.JobStatus(status)
	if !job.Status.Valid() {
		return entity.Job{}, fmt.Errorf("scan job %d: unknown status %q", job.ID, status)
	}

	job.CreatedAt = time.Unix(0, createdAt)
	job.UpdatedAt = time.Unix(0, updatedAt)

	return job, nil
}
