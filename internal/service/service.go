// Package service orchestrates download jobs: it validates requests, runs one
// background transfer per job and records every state change in the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"tubefetch/internal/config"
	"tubefetch/internal/consts"
	"tubefetch/internal/downloader"
	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/internal/observability"
	"tubefetch/internal/resolver"
	"tubefetch/internal/storage"
	"tubefetch/pkg/calc"
	"tubefetch/pkg/ptr"
	"tubefetch/pkg/urls"
)

var reUnsafeFilename = regexp.MustCompile(`[^A-Za-z0-9 ]`)

// Resolver looks up videos and their streams.
type Resolver interface {
	Supported(url string) bool
	Lookup(ctx context.Context, url string) (*resolver.Video, error)
	Resolve(ctx context.Context, url string) (entity.VideoInfo, error)
}

// Artifact is an opened media stream of a completed job.
type Artifact struct {
	Filename    string
	ContentType string
	Size        int64 // 0 when unknown
	Body        io.ReadCloser
}

// Service is the job orchestrator used by the HTTP layer.
type Service interface {
	// Start binds background tasks to ctx. Jobs started afterwards fail once
	// ctx is done.
	Start(ctx context.Context)
	// Wait stops accepting jobs and blocks until all tasks have exited.
	Wait()

	Resolve(ctx context.Context, url string) (entity.VideoInfo, error)
	StartJob(ctx context.Context, spec entity.JobSpec) (entity.Job, error)
	GetJob(ctx context.Context, id int64) (entity.Job, error)
	ListJobs(ctx context.Context) ([]entity.Job, error)
	CancelJob(ctx context.Context, id int64) (entity.Job, error)
	DeleteJob(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
	OpenArtifact(ctx context.Context, id int64) (Artifact, error)
}

type service struct {
	log        *slog.Logger
	cfg        *config.Config
	storer     storage.Storer
	resolver   Resolver
	downloader *downloader.Downloader
	metrics    *observability.Metrics

	mu      sync.Mutex
	baseCtx context.Context                   //nolint:containedctx
	tasks   map[int64]context.CancelCauseFunc // job id : task cancel

	wg        sync.WaitGroup
	closed    atomic.Bool
	startOnce sync.Once
}

var _ Service = (*service)(nil)

// New creates a new job orchestrator.
func New(
	log *slog.Logger,
	cfg *config.Config,
	storer storage.Storer,
	res Resolver,
	dl *downloader.Downloader,
	metrics *observability.Metrics,
) Service {
	return &service{
		log:        log.With(slog.String("package", "service")),
		cfg:        cfg,
		storer:     storer,
		resolver:   res,
		downloader: dl,
		metrics:    metrics,
		baseCtx:    context.Background(),
		tasks:      make(map[int64]context.CancelCauseFunc),
	}
}

func (svc *service) Start(ctx context.Context) {
	svc.startOnce.Do(func() {
		svc.mu.Lock()
		svc.baseCtx = ctx
		svc.mu.Unlock()

		go func() {
			<-ctx.Done()
			svc.closed.Store(true)
			svc.log.InfoContext(ctx, "got ctx done signal", slog.Any("error", ctx.Err()))
		}()
	})
}

func (svc *service) Wait() {
	svc.mu.Lock()
	svc.closed.Store(true)
	svc.mu.Unlock()

	svc.wg.Wait()
}

func (svc *service) Resolve(ctx context.Context, rawURL string) (entity.VideoInfo, error) {
	info, err := svc.resolver.Resolve(ctx, rawURL)
	if err != nil {
		return entity.VideoInfo{}, fmt.Errorf("resolve: %w", err)
	}

	return info, nil
}

// StartJob stores a new job, moves it to downloading and launches its
// transfer in the background. The returned job is already downloading.
func (svc *service) StartJob(ctx context.Context, spec entity.JobSpec) (entity.Job, error) {
	if svc.closed.Load() {
		return entity.Job{}, errs.ErrServiceClosed
	}

	spec.URL = urls.Normalize(spec.URL)
	if !svc.resolver.Supported(spec.URL) {
		return entity.Job{}, fmt.Errorf("%w: %q", errs.ErrInvalidURL, spec.URL)
	}

	job, err := svc.storer.Create(ctx, spec)
	if err != nil {
		return entity.Job{}, fmt.Errorf("create job: %w", err)
	}

	svc.metrics.RecordJobCreated()

	job, err = svc.storer.Update(ctx, job.ID, entity.JobPatch{Status: ptr.Of(entity.JobStatusDownloading)})
	if err != nil {
		svc.metrics.RecordJobFailed("store")

		return entity.Job{}, fmt.Errorf("mark job downloading: %w", err)
	}

	if err := svc.launch(job); err != nil {
		svc.metrics.RecordJobFailed(classifyFailure(err))
		svc.resolveFailed(context.WithoutCancel(ctx), job.ID, err)

		return entity.Job{}, err
	}

	svc.log.InfoContext(ctx, "job started", slog.Any("job", job))

	return job, nil
}

func (svc *service) launch(job entity.Job) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.closed.Load() {
		return errs.ErrServiceClosed
	}

	taskCtx, cancel := context.WithCancelCause(svc.baseCtx)

	var stopTimeout context.CancelFunc = func() {}
	if svc.cfg.Job.Timeout > 0 {
		taskCtx, stopTimeout = context.WithTimeoutCause(taskCtx, svc.cfg.Job.Timeout, errs.ErrJobTimeout)
	}

	svc.tasks[job.ID] = cancel

	svc.wg.Go(func() {
		defer func() {
			stopTimeout()
			cancel(nil)

			svc.mu.Lock()
			delete(svc.tasks, job.ID)
			svc.mu.Unlock()
		}()

		svc.run(taskCtx, job)
	})

	return nil
}

// run performs lookup, selection and transfer for one job and records the outcome.
func (svc *service) run(ctx context.Context, job entity.Job) {
	log := svc.log.With(slog.Int64("job_id", job.ID))
	stopTimer := svc.metrics.JobTimer()

	defer stopTimer()

	video, err := svc.resolver.Lookup(ctx, job.URL)
	if err != nil {
		svc.fail(ctx, log, job.ID, err)

		return
	}

	stream, err := resolver.Select(video.Streams, job.FormatToken, job.Quality)
	if err != nil {
		svc.fail(ctx, log, job.ID, err)

		return
	}

	log.DebugContext(ctx, "format selected",
		slog.String("token", stream.Token),
		slog.String("quality", stream.Label()),
		slog.String("container", stream.ContainerName()))

	body, size, err := stream.Open(ctx)
	if err != nil {
		svc.fail(ctx, log, job.ID, fmt.Errorf("%w: open: %w", errs.ErrStream, err))

		return
	}
	defer body.Close()

	if size <= 0 {
		size = stream.ContentLength
	}

	written, err := svc.downloader.Transfer(ctx, io.Discard, body, size, func(p downloader.Progress) {
		svc.progress(ctx, log, job.ID, p)
	})
	if err != nil {
		svc.fail(ctx, log, job.ID, err)

		return
	}

	updated, err := svc.storer.Update(context.WithoutCancel(ctx), job.ID, entity.JobPatch{
		Status:    ptr.Of(entity.JobStatusCompleted),
		Progress:  ptr.Of(consts.FullProgress),
		FinalSize: ptr.Of(calc.SizeLabel(written)),
	})
	if err != nil {
		log.WarnContext(ctx, "store completion", slog.Any("error", err))
		svc.metrics.RecordJobFailed("store")

		return
	}

	svc.metrics.RecordJobCompleted()
	log.InfoContext(ctx, "job completed", slog.Any("job", updated))
}

func (svc *service) progress(ctx context.Context, log *slog.Logger, id int64, p downloader.Progress) {
	patch := entity.JobPatch{
		DownloadSpeed: ptr.Of(calc.RateLabel(p.Rate())),
		TimeRemaining: ptr.Of(calc.ETALabel(p.ETA())),
	}

	if percent, ok := p.Percent(); ok {
		patch.Progress = ptr.Of(percent)
	}

	if _, err := svc.storer.Update(context.WithoutCancel(ctx), id, patch); err != nil {
		log.DebugContext(ctx, "store progress", slog.Any("error", err))
	}

	log.DebugContext(ctx, "job progress", slog.Any("progress", p))
}

// fail records err on the job. When the task context is done, its cause
// (cancellation, timeout or shutdown) replaces err.
func (svc *service) fail(ctx context.Context, log *slog.Logger, id int64, err error) {
	if ctx.Err() != nil {
		err = taskCause(ctx)
	}

	log.WarnContext(ctx, "job failed", slog.Any("error", err))
	svc.metrics.RecordJobFailed(classifyFailure(err))
	svc.resolveFailed(context.WithoutCancel(ctx), id, err)
}

func (svc *service) resolveFailed(ctx context.Context, id int64, err error) {
	_, updateErr := svc.storer.Update(ctx, id, entity.JobPatch{
		Status: ptr.Of(entity.JobStatusFailed),
		Error:  ptr.Of(err.Error()),
	})
	if updateErr != nil {
		svc.log.DebugContext(ctx, "store failure", slog.Int64("job_id", id), slog.Any("error", updateErr))
	}
}

func (svc *service) GetJob(ctx context.Context, id int64) (entity.Job, error) {
	job, err := svc.storer.Get(ctx, id)
	if err != nil {
		return entity.Job{}, fmt.Errorf("get job %d: %w", id, err)
	}

	return job, nil
}

func (svc *service) ListJobs(ctx context.Context) ([]entity.Job, error) {
	jobs, err := svc.storer.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	return jobs, nil
}

// CancelJob stops the running task of a job. The job resolves to failed
// asynchronously; a job without a running task is failed right away.
func (svc *service) CancelJob(ctx context.Context, id int64) (entity.Job, error) {
	job, err := svc.GetJob(ctx, id)
	if err != nil {
		return entity.Job{}, err
	}

	if job.Status.IsTerminal() {
		return job, fmt.Errorf("cancel job %d: %w", id, errs.ErrJobTerminal)
	}

	if svc.cancelTask(id) {
		svc.log.InfoContext(ctx, "job cancel requested", slog.Int64("job_id", id))

		return job, nil
	}

	svc.resolveFailed(ctx, id, errs.ErrJobCancelled)

	return svc.GetJob(ctx, id)
}

// DeleteJob cancels the job's task, if any, and removes the job.
func (svc *service) DeleteJob(ctx context.Context, id int64) error {
	svc.cancelTask(id)

	ok, err := svc.storer.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}

	if !ok {
		return fmt.Errorf("delete job %d: %w", id, errs.ErrJobNotFound)
	}

	return nil
}

// DeleteAll deletes every stored job one by one. It keeps going after a
// failure and reports all of them.
func (svc *service) DeleteAll(ctx context.Context) error {
	jobs, err := svc.ListJobs(ctx)
	if err != nil {
		return err
	}

	var errList []error

	for _, job := range jobs {
		if err := svc.DeleteJob(ctx, job.ID); err != nil && !errors.Is(err, errs.ErrJobNotFound) {
			errList = append(errList, err)
		}
	}

	if err := errors.Join(errList...); err != nil {
		return fmt.Errorf("delete all: %w", err)
	}

	svc.log.InfoContext(ctx, "download history cleared", slog.Int("jobs", len(jobs)))

	return nil
}

// OpenArtifact re-resolves a completed job and opens the stream it downloaded.
func (svc *service) OpenArtifact(ctx context.Context, id int64) (Artifact, error) {
	job, err := svc.GetJob(ctx, id)
	if err != nil {
		return Artifact{}, err
	}

	if job.Status != entity.JobStatusCompleted {
		return Artifact{}, fmt.Errorf("job %d is %s: %w", id, job.Status, errs.ErrNotReady)
	}

	video, err := svc.resolver.Lookup(ctx, job.URL)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact lookup: %w", err)
	}

	stream, err := resolver.Select(video.Streams, job.FormatToken, job.Quality)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", errs.ErrFormatUnavailable, err)
	}

	body, size, err := stream.Open(ctx)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: open: %w", errs.ErrStream, err)
	}

	if size <= 0 {
		size = stream.ContentLength
	}

	return Artifact{
		Filename:    ArtifactName(job.Title, stream.ContainerName()),
		ContentType: stream.ContentType(),
		Size:        size,
		Body:        body,
	}, nil
}

// ArtifactName builds a download filename from a video title: every
// character outside [A-Za-z0-9 ] becomes "_".
func ArtifactName(title, container string) string {
	name := strings.TrimSpace(reUnsafeFilename.ReplaceAllString(title, "_"))
	if name == "" {
		name = "video"
	}

	return name + "." + container
}

func (svc *service) cancelTask(id int64) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	cancel, ok := svc.tasks[id]
	if ok {
		cancel(errs.ErrJobCancelled)
	}

	return ok
}

// taskCause maps the reason a task context ended to a job error.
func taskCause(ctx context.Context) error {
	cause := context.Cause(ctx)

	switch {
	case errors.Is(cause, errs.ErrJobCancelled), errors.Is(cause, errs.ErrJobTimeout):
		return cause
	case errors.Is(cause, context.DeadlineExceeded):
		return errs.ErrJobTimeout
	default:
		return errs.ErrJobInterrupted
	}
}

func classifyFailure(err error) string {
	switch {
	case errors.Is(err, errs.ErrJobCancelled), errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, errs.ErrJobTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, errs.ErrJobInterrupted):
		return "interrupted"
	case errors.Is(err, errs.ErrResolution):
		return "resolution"
	case errors.Is(err, errs.ErrFormatNotFound):
		return "format"
	case errors.Is(err, errs.ErrStream):
		return "stream"
	default:
		return "process"
	}
}
