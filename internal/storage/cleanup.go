package storage

import (
	"context"
	"log/slog"
	"time"

	"tubefetch/internal/observability"
)

// CleanupExpiredJobs periodically removes terminal jobs that were last updated
// more than ttl ago. It returns immediately when ttl or interval is not positive
// and otherwise blocks until ctx is done.
func CleanupExpiredJobs(ctx context.Context,
	log *slog.Logger,
	storer Storer,
	metrics *observability.Metrics,
	ttl, interval time.Duration) {
	log = log.With(slog.String("action", "cleanup_expired_jobs"),
		slog.Duration("interval", interval),
		slog.Duration("ttl", ttl))

	if ttl <= 0 || interval <= 0 {
		log.DebugContext(ctx, "cleanup disabled")

		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			performCleanup(ctx, log, storer, metrics, ttl)
		case <-ctx.Done():
			log.Info("cleanup expired jobs stopped")

			return
		}
	}
}

func performCleanup(ctx context.Context,
	log *slog.Logger,
	storer Storer,
	metrics *observability.Metrics,
	ttl time.Duration) {
	removed, err := storer.DeleteExpired(ctx, time.Now().Add(-ttl))
	if err != nil {
		log.ErrorContext(ctx, "delete expired jobs", slog.Any("error", err))

		return
	}

	if removed == 0 {
		log.DebugContext(ctx, "no expired jobs found to clean up")

		return
	}

	metrics.RecordCleanup(removed)
	log.InfoContext(ctx, "expired jobs removed", slog.Int("count", removed))
}
