package httprouter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tubefetch/internal/consts"
	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/internal/infrastructure/delivery/http/response"

	"github.com/gorilla/websocket"
)

const (
	watchWriteWait = 10 * time.Second
	watchReadLimit = 512
)

// WatchJob upgrades to a websocket and pushes a job snapshot on every change
// until the job is terminal, deleted, or the client goes away.
func (ro *Router) WatchJob(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "WatchJob"))

	id, ok := ro.jobID(w, r)
	if !ok {
		return
	}

	job, err := ro.svc.GetJob(r.Context(), id)
	if errors.Is(err, errs.ErrJobNotFound) {
		response.NotFound(w, consts.RespJobNotFound, err)

		return
	}

	if err != nil {
		log.ErrorContext(r.Context(), consts.RespGetJobFail, slog.Int64("id", id), slog.Any("error", err))
		response.InternalServerError(w, consts.RespGetJobFail, err)

		return
	}

	conn, err := ro.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		log.DebugContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))

		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()

		conn.SetReadLimit(watchReadLimit)

		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	reason := ro.watch(ctx, conn, job)

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(watchWriteWait))

	log.DebugContext(ctx, "watch finished", slog.Int64("id", id), slog.String("reason", reason))
}

func (ro *Router) watch(ctx context.Context, conn *websocket.Conn, job entity.Job) string {
	send := func(job entity.Job) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))

		return conn.WriteJSON(job) == nil
	}

	if !send(job) {
		return "write failed"
	}

	ticker := time.NewTicker(ro.cfg.Job.WatchInterval)
	defer ticker.Stop()

	for !job.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return "client gone"
		case <-ticker.C:
		}

		next, err := ro.svc.GetJob(ctx, job.ID)
		if errors.Is(err, errs.ErrJobNotFound) {
			return "job deleted"
		}

		if err != nil {
			continue
		}

		if !changed(job, next) {
			continue
		}

		job = next

		if !send(job) {
			return "write failed"
		}
	}

	return "job " + string(job.Status)
}

func changed(prev, next entity.Job) bool {
	return prev.Status != next.Status ||
		prev.Progress != next.Progress ||
		!prev.UpdatedAt.Equal(next.UpdatedAt)
}
