// entry point of the application
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tubefetch/internal/config"
	"tubefetch/internal/consts"
	"tubefetch/internal/depmanager"
	"tubefetch/internal/downloader"
	httprouter "tubefetch/internal/infrastructure/delivery/http"
	"tubefetch/internal/observability"
	"tubefetch/internal/proxymgr"
	"tubefetch/internal/resolver"
	"tubefetch/internal/resolver/mock"
	"tubefetch/internal/resolver/youtube"
	"tubefetch/internal/resolver/ytdlp"
	"tubefetch/internal/service"
	"tubefetch/internal/storage"
	"tubefetch/internal/storage/sqlite"
	httpserver "tubefetch/pkg/http/server"
	"tubefetch/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		slog.Error("config new", slog.Any("error", err))
		stop()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Options{
		AddSource: true,
		Level:     cfg.App.LogLevel,
	})
	if err != nil {
		slog.WarnContext(ctx, "logger level invalid; defaulting to info", slog.Any("error", err))
	}

	metrics := observability.New()

	storer, err := newStorer(ctx, log, cfg, metrics)
	if err != nil {
		log.ErrorContext(ctx, "storage init", slog.Any("error", err))
		stop()
		os.Exit(1)
	}

	go storage.CleanupExpiredJobs(ctx, log, storer, metrics, cfg.Storage.TTL, cfg.Storage.CleanupInterval)

	// an empty pool leaves both backends on direct connections
	proxyMgr := proxymgr.New(log, cfg, metrics)
	if proxyMgr.HasProxies() {
		proxyMgr.StartHealthChecker(ctx)

		log.InfoContext(ctx, "proxy manager initialized", slog.Int("proxy_count", proxyMgr.ProxyCount()))
	}

	backend, err := newBackend(ctx, log, cfg, proxyMgr)
	if err != nil {
		log.ErrorContext(ctx, "resolver backend init", slog.Any("error", err))
		_ = storer.Close()
		stop()
		os.Exit(1) //nolint:gocritic
	}

	res := resolver.New(log, cfg, backend, metrics)
	dl := downloader.New(log, cfg, metrics)

	svc := service.New(log, cfg, storer, res, dl, metrics)
	svc.Start(ctx)

	router := httprouter.New(log, cfg, svc, metrics)

	httpSrv := httpserver.New(router, httpserver.Options{
		Addr:            cfg.HTTP.Port,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})

	log.InfoContext(ctx, "tubefetch started",
		slog.String("port", cfg.HTTP.Port),
		slog.String("backend", backend.Name()),
		slog.String("storage", cfg.Storage.Driver))

	select {
	case <-ctx.Done():
	case err := <-httpSrv.Notify():
		log.ErrorContext(ctx, "http server", slog.Any("error", err))
		stop()
	}

	err = httpSrv.Shutdown()
	if err != nil {
		log.Error("http server shutdown", slog.Any("error", err))
	}

	// running jobs observe the cancelled context and record themselves as failed
	svc.Wait()

	if err := storer.Close(); err != nil {
		log.Error("storage close", slog.Any("error", err))
	}

	log.Info("tubefetch shut down gracefully")
}

func newStorer(
	ctx context.Context,
	log *slog.Logger,
	cfg *config.Config,
	metrics *observability.Metrics,
) (storage.Storer, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverSQLite:
		store, err := sqlite.New(ctx, log, cfg.Storage.Path, metrics)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}

		return store, nil
	default:
		return storage.New(log, metrics), nil
	}
}

func newBackend(
	ctx context.Context,
	log *slog.Logger,
	cfg *config.Config,
	proxyMgr *proxymgr.Manager,
) (resolver.Backend, error) {
	switch cfg.Resolver.Backend {
	case config.ResolverBackendYTdlp:
		depMgr := depmanager.New(log, cfg)

		log.InfoContext(ctx, "checking if yt-dlp and deno are installed. it may take some time...")

		if err := depMgr.Start(ctx); err != nil {
			return nil, fmt.Errorf("dependencies: %w", err)
		}

		return ytdlp.New(log, cfg, depMgr, proxyMgr), nil
	case config.ResolverBackendMock:
		return mock.New(log, consts.DefaultSimulateTime), nil
	default:
		return youtube.New(log, proxyMgr), nil
	}
}
