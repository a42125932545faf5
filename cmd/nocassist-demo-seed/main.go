package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nocassist/nocassist/internal/demo/seed"
)

func main() {
	cfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load demo seed config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	service, err := seed.NewService(cfg, logger, nil)
	if err != nil {
		logger.Error("failed to initialize demo seed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(
		"demo seed started",
		slog.String("api_url", cfg.APIBaseURL),
		slog.Any("tenants", cfg.Tenants),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Int("batches", cfg.Batches),
		slog.String("output", cfg.OutputPath),
	)

	err = service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("demo seed stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("demo seed finished")
}
