package httprouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"slices"
	"strconv"

	"tubefetch/internal/config"
	"tubefetch/internal/consts"
	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/internal/infrastructure/delivery/http/middleware"
	"tubefetch/internal/infrastructure/delivery/http/request"
	"tubefetch/internal/infrastructure/delivery/http/response"
	"tubefetch/internal/observability"
	"tubefetch/internal/service"

	"github.com/gorilla/websocket"
)

type chain []func(http.Handler) http.Handler

func (c chain) thenFunc(h http.HandlerFunc) http.Handler {
	return c.then(h)
}

func (c chain) then(h http.Handler) http.Handler {
	for _, mw := range slices.Backward(c) {
		h = mw(h)
	}

	return h
}

type Router struct {
	*http.ServeMux

	log         *slog.Logger
	cfg         *config.Config
	globalChain chain
	routeChain  chain
	isSubRouter bool
	svc         service.Service
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(log *slog.Logger, cfg *config.Config, svc service.Service, metrics *observability.Metrics) *Router {
	r := &Router{
		ServeMux: http.NewServeMux(),
		log:      log.With(slog.String("package", "httprouter")),
		cfg:      cfg,
		svc:      svc,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	return r
}

func (ro *Router) Use(middleware ...func(http.Handler) http.Handler) {
	if ro.isSubRouter {
		ro.routeChain = append(ro.routeChain, middleware...)
	} else {
		ro.globalChain = append(ro.globalChain, middleware...)
	}
}

// Group registers routes that share the middlewares added inside fn.
func (ro *Router) Group(fn func(r *Router)) {
	subRouter := *ro
	subRouter.isSubRouter = true
	subRouter.routeChain = slices.Clone(ro.routeChain)

	fn(&subRouter)
}

func (ro *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	ro.ServeMux.Handle(pattern, ro.routeChain.thenFunc(h))
}

func (ro *Router) Handle(pattern string, h http.Handler) {
	ro.ServeMux.Handle(pattern, ro.routeChain.then(h))
}

func (ro *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ro.globalChain.then(ro.ServeMux).ServeHTTP(w, req)
}

func (ro *Router) SetGlobalMiddlewares() {
	ro.Use(
		middleware.Recoverer,
		middleware.RequestID,
		middleware.Logger,
		middleware.Metrics(ro.metrics),
	)
}

func (ro *Router) SetRoutes() {
	ro.SetRoutesHealthcheck()

	ro.Group(func(r *Router) {
		r.Use(middleware.Timeout(ro.cfg.HTTP.HandlerTimeout))

		r.HandleFunc("POST /v1/videos/resolve", r.ResolveVideo)
		r.HandleFunc("POST /v1/jobs/{$}", r.StartJob)
		r.HandleFunc("GET /v1/jobs/{$}", r.ListJobs)
		r.HandleFunc("DELETE /v1/jobs/{$}", r.DeleteAll)
		r.HandleFunc("GET /v1/jobs/{id}", r.GetJob)
		r.HandleFunc("DELETE /v1/jobs/{id}", r.DeleteJob)
		r.HandleFunc("POST /v1/jobs/{id}/cancel", r.CancelJob)
	})

	// long lived, bounded by their own timeouts
	ro.HandleFunc("GET /v1/jobs/{id}/watch", ro.WatchJob)
	ro.HandleFunc("GET /v1/jobs/{id}/file", ro.GetFile)
}

func (ro *Router) SetRoutesHealthcheck() {
	ro.HandleFunc("GET /v1/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ro.Handle("GET /metrics", observability.Handler())
}

func (ro *Router) ResolveVideo(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "ResolveVideo"))
	ctx := r.Context()

	var in request.Resolve
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		log.DebugContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, fmt.Errorf("%w: %w", errs.ErrInvalidRequestBody, err))

		return
	}

	if err := in.Validate(); err != nil {
		log.DebugContext(ctx, consts.RespVideoResolveFail, slog.Any("error", err))
		response.BadRequest(w, consts.RespVideoResolveFail, err)

		return
	}

	info, err := ro.svc.Resolve(ctx, in.URL)
	if errors.Is(err, errs.ErrInvalidURL) {
		log.DebugContext(ctx, consts.RespVideoResolveFail, slog.Any("error", err))
		response.BadRequest(w, consts.RespVideoResolveFail, err)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespVideoResolveFail, slog.String("url", in.URL), slog.Any("error", err))
		response.InternalServerError(w, consts.RespVideoResolveFail, err)

		return
	}

	response.OK(w, consts.RespVideoResolved, info)
}

func (ro *Router) StartJob(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "StartJob"))
	ctx := r.Context()

	var in request.StartJob
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		log.DebugContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, fmt.Errorf("%w: %w", errs.ErrInvalidRequestBody, err))

		return
	}

	if err := in.Validate(); err != nil {
		log.DebugContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	job, err := ro.svc.StartJob(ctx, in.Spec())
	if errors.Is(err, errs.ErrInvalidURL) {
		log.DebugContext(ctx, consts.RespJobStartFail, slog.Any("error", err))
		response.BadRequest(w, consts.RespJobStartFail, err)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespJobStartFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespJobStartFail, err)

		return
	}

	response.Accepted(w, consts.RespJobStarted, job)
}

func (ro *Router) ListJobs(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "ListJobs"))
	ctx := r.Context()

	jobs, err := ro.svc.ListJobs(ctx)
	if err != nil {
		log.ErrorContext(ctx, consts.RespGetJobsFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespGetJobsFail, err)

		return
	}

	if jobs == nil {
		jobs = []entity.Job{}
	}

	response.OK(w, consts.RespJobsRetrieved, jobs)
}

func (ro *Router) GetJob(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "GetJob"))
	ctx := r.Context()

	id, ok := ro.jobID(w, r)
	if !ok {
		return
	}

	job, err := ro.svc.GetJob(ctx, id)
	if errors.Is(err, errs.ErrJobNotFound) {
		response.NotFound(w, consts.RespJobNotFound, err)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespGetJobFail, slog.Int64("id", id), slog.Any("error", err))
		response.InternalServerError(w, consts.RespGetJobFail, err)

		return
	}

	response.OK(w, consts.RespJobRetrieved, job)
}

func (ro *Router) DeleteJob(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "DeleteJob"))
	ctx := r.Context()

	id, ok := ro.jobID(w, r)
	if !ok {
		return
	}

	err := ro.svc.DeleteJob(ctx, id)
	if errors.Is(err, errs.ErrJobNotFound) {
		response.NotFound(w, consts.RespJobNotFound, err)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespJobDeleteFail, slog.Int64("id", id), slog.Any("error", err))
		response.InternalServerError(w, consts.RespJobDeleteFail, err)

		return
	}

	response.NoContent(w)
}

func (ro *Router) DeleteAll(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "DeleteAll"))
	ctx := r.Context()

	if err := ro.svc.DeleteAll(ctx); err != nil {
		log.ErrorContext(ctx, consts.RespJobsClearFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespJobsClearFail, err)

		return
	}

	response.OK(w, consts.RespJobsCleared, nil)
}

func (ro *Router) CancelJob(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "CancelJob"))
	ctx := r.Context()

	id, ok := ro.jobID(w, r)
	if !ok {
		return
	}

	job, err := ro.svc.CancelJob(ctx, id)

	switch {
	case errors.Is(err, errs.ErrJobNotFound):
		response.NotFound(w, consts.RespJobNotFound, err)
	case errors.Is(err, errs.ErrJobTerminal):
		response.Conflict(w, consts.RespJobCancelFail, job, err)
	case err != nil:
		log.ErrorContext(ctx, consts.RespJobCancelFail, slog.Int64("id", id), slog.Any("error", err))
		response.InternalServerError(w, consts.RespJobCancelFail, err)
	default:
		log.InfoContext(ctx, consts.RespJobCancelled, slog.Int64("id", id))
		response.Accepted(w, consts.RespJobCancelled, job)
	}
}

// GetFile streams the artifact of a completed job.
func (ro *Router) GetFile(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "GetFile"))

	id, ok := ro.jobID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if ro.cfg.HTTP.DownloadTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, ro.cfg.HTTP.DownloadTimeout)
		defer cancel()
	}

	artifact, err := ro.svc.OpenArtifact(ctx, id)

	switch {
	case errors.Is(err, errs.ErrJobNotFound):
		response.NotFound(w, consts.RespJobNotFound, err)

		return
	case errors.Is(err, errs.ErrNotReady):
		response.NotFound(w, consts.RespJobNotReady, err)

		return
	case errors.Is(err, errs.ErrFormatUnavailable):
		log.ErrorContext(ctx, consts.RespFormatUnavailable, slog.Int64("id", id), slog.Any("error", err))
		response.InternalServerError(w, consts.RespFormatUnavailable, err)

		return
	case err != nil:
		log.ErrorContext(ctx, consts.RespArtifactFail, slog.Int64("id", id), slog.Any("error", err))
		response.InternalServerError(w, consts.RespArtifactFail, err)

		return
	}

	defer artifact.Body.Close()

	h := w.Header()
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	h.Set("Content-Type", artifact.ContentType)
	h.Set("Accept-Ranges", "bytes")

	if artifact.Size > 0 {
		h.Set("Content-Length", strconv.FormatInt(artifact.Size, 10))
	}

	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, artifact.Body)
	if err != nil {
		// headers are gone, the client sees a short body
		log.WarnContext(ctx, "artifact copy aborted",
			slog.Int64("id", id),
			slog.Int64("written", n),
			slog.Any("error", err))

		return
	}

	log.DebugContext(ctx, "artifact sent", slog.Int64("id", id), slog.Int64("written", n))
}

func (ro *Router) jobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := request.JobID(r)
	if err != nil {
		response.BadRequest(w, consts.RespInvalidJobID, err)

		return 0, false
	}

	return id, true
}
