package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/expense-ingest/internal/api"
	"github.com/dvloznov/expense-ingest/internal/api/handlers"
	"github.com/dvloznov/expense-ingest/internal/app"
	"github.com/dvloznov/expense-ingest/internal/config"
	"github.com/dvloznov/expense-ingest/internal/jobs"
	"github.com/dvloznov/expense-ingest/internal/logger"
	"github.com/dvloznov/expense-ingest/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	port := flag.String("port", cfg.HTTPPort, "HTTP server port (or set HTTP_PORT env)")
	noSweep := flag.Bool("no-sweep", false, "Disable the scheduled stale sweep")
	flag.Parse()

	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx := context.Background()

	repos, err := app.OpenRepositories(ctx, cfg.Store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open repositories")
	}
	defer repos.Close()

	importer := app.NewImporter(cfg, repos, log)
	processor, err := app.NewProcessor(ctx, cfg, repos, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create invoice processor")
	}

	queue, err := app.OpenQueue(ctx, cfg.Queue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open job queue")
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	// Inline mode never publishes; the in-memory queue is consumed here, Pub/Sub by cmd/worker.
	var publisher jobs.Publisher
	if cfg.Async() {
		publisher = queue.Publisher
		if cfg.Queue.Backend == "memory" {
			log.Info().Msg("Starting in-process job worker")
			if err := queue.Consumer.Start(workerCtx, app.ProcessInvoiceHandler(processor, log)); err != nil {
				log.Fatal().Err(err).Msg("Failed to start job worker")
			}
		}
	}

	var sweeper *sweep.Sweeper
	if !*noSweep {
		var closeRedis func() error
		sweeper, closeRedis, err = app.NewSweeper(ctx, cfg.Sweep, repos, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create stale sweep")
		}
		defer closeRedis()
		if err := sweeper.Start(cfg.Sweep.Schedule); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule stale sweep")
		}
	}

	handler := api.NewRouter(api.Handlers{
		Imports:  handlers.NewImportsHandler(importer, log),
		Invoices: handlers.NewInvoicesHandler(processor, publisher, log),
		Jobs:     handlers.NewJobsHandler(queue.Store, log),
	}, log)

	// Inline uploads wait on OCR and the LLM, so the write timeout covers the analysis timeout.
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 60*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", *port).
			Str("store", cfg.Store.Driver).
			Str("mode", cfg.ProcessingMode).
			Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if sweeper != nil {
		sweeper.Stop(shutdownCtx)
	}

	cancelWorker()
	if err := queue.Consumer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := queue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
