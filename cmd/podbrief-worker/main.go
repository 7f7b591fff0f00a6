package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"podbrief/internal/app"
	"podbrief/internal/config"
	"podbrief/internal/dispatch"
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
	if cfg.DispatchMode != config.DispatchAsynq {
		fmt.Fprintln(os.Stderr, "config error: the worker needs DISPATCH_MODE=asynq")
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

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				cfg.QueueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	dispatch.NewHandler(a.Coordinator, logger).Register(mux)

	logger.Info("worker starting", "redis_addr", cfg.RedisAddr, "queue", cfg.QueueName, "concurrency", cfg.WorkerConcurrency)
	if err := srv.Start(mux); err != nil {
		logger.Error("could not start worker", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	srv.Shutdown()
	logger.Info("worker stopped")
}
