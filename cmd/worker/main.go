package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/expense-ingest/internal/app"
	"github.com/dvloznov/expense-ingest/internal/config"
	"github.com/dvloznov/expense-ingest/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if cfg.Queue.Backend != "pubsub" {
		log.Fatal().Str("backend", cfg.Queue.Backend).Msg("Worker requires QUEUE_BACKEND=pubsub; the memory queue runs inside cmd/api")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos, err := app.OpenRepositories(ctx, cfg.Store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open repositories")
	}
	defer repos.Close()

	processor, err := app.NewProcessor(ctx, cfg, repos, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create invoice processor")
	}

	queue, err := app.OpenQueue(ctx, cfg.Queue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open job queue")
	}
	defer queue.Close()

	log.Info().
		Str("subscription", cfg.Queue.Subscription).
		Str("store", cfg.Store.Driver).
		Msg("Starting worker service")

	if err := queue.Consumer.Start(ctx, app.ProcessInvoiceHandler(processor, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start consumer")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := queue.Consumer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping consumer")
	}

	log.Info().Msg("Worker stopped")
}
