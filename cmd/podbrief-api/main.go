package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"podbrief/internal/app"
	"podbrief/internal/config"
	"podbrief/internal/dispatch"
	"podbrief/internal/httpapi"
	"podbrief/internal/observability"

	"github.com/hibiken/asynq"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	var inline *dispatch.Inline
	switch cfg.DispatchMode {
	case config.DispatchAsynq:
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		a.Coordinator.SetDispatcher(dispatch.NewQueue(client, cfg.QueueName, cfg.JobTimeout))
		logger.Info("dispatching summary jobs to queue", "redis_addr", cfg.RedisAddr, "queue", cfg.QueueName)
	default:
		inline = dispatch.NewInline(a.Coordinator, logger)
		a.Coordinator.SetDispatcher(inline)
		logger.Info("running summary jobs in process")
	}

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Summaries:      a.Coordinator,
		Store:          a.Store,
		Upstream:       a.Upstream,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	// No WriteTimeout: status streams are long-lived websockets.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.ListenAddr, "store", cfg.StoreBackend, "dispatch", cfg.DispatchMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	if inline != nil {
		drainJobs(inline, logger)
	}
	logger.Info("server stopped")
}

// drainJobs gives in-process summary jobs a bounded window to finish.
// Anything still running stays in a processing status in the store.
func drainJobs(inline *dispatch.Inline, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := inline.Close(ctx); err != nil {
		logger.Warn("summary jobs still running at shutdown", "error", err)
	}
}
