// Package app wires configuration into the components shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/dvloznov/expense-ingest/internal/config"
	"github.com/dvloznov/expense-ingest/internal/csvimport"
	"github.com/dvloznov/expense-ingest/internal/domain"
	infraBQ "github.com/dvloznov/expense-ingest/internal/infra/bigquery"
	"github.com/dvloznov/expense-ingest/internal/infra/sqlstore"
	"github.com/dvloznov/expense-ingest/internal/jobs"
	"github.com/dvloznov/expense-ingest/internal/jobs/inmemory"
	jobspubsub "github.com/dvloznov/expense-ingest/internal/jobs/pubsub"
	"github.com/dvloznov/expense-ingest/internal/llm"
	"github.com/dvloznov/expense-ingest/internal/ocr"
	"github.com/dvloznov/expense-ingest/internal/ocr/mupdf"
	"github.com/dvloznov/expense-ingest/internal/ocr/tesseract"
	"github.com/dvloznov/expense-ingest/internal/pipeline"
	"github.com/dvloznov/expense-ingest/internal/preview"
	"github.com/dvloznov/expense-ingest/internal/storage"
	"github.com/dvloznov/expense-ingest/internal/sweep"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// BatchStore is implemented by both persistence backends.
type BatchStore interface {
	csvimport.BatchRepository
	sweep.BatchSweeper
	ListTransactions(ctx context.Context, batchID string) ([]*domain.Transaction, error)
}

// InvoiceStore is implemented by both persistence backends.
type InvoiceStore interface {
	pipeline.InvoiceRepository
	sweep.InvoiceSweeper
}

// CategoryStore is implemented by both persistence backends.
type CategoryStore interface {
	pipeline.CategoryLookup
	Seed(ctx context.Context, cats []domain.Category) (int64, error)
}

// Repositories holds the repositories of the configured store driver.
type Repositories struct {
	Batches    BatchStore
	Invoices   InvoiceStore
	Categories CategoryStore

	// DB is set for the gorm drivers.
	DB *gorm.DB
	// BigQuery is set for the bigquery driver.
	BigQuery *infraBQ.Client
}

// Close releases the underlying connection.
func (r *Repositories) Close() error {
	if r.BigQuery != nil {
		return r.BigQuery.Close()
	}
	if r.DB != nil {
		sqlDB, err := r.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// OpenRepositories connects to the store named by cfg.Driver.
func OpenRepositories(ctx context.Context, cfg config.StoreConfig, log zerolog.Logger) (*Repositories, error) {
	if cfg.Driver == "bigquery" {
		client, err := infraBQ.NewClient(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return nil, fmt.Errorf("OpenRepositories: %w", err)
		}
		return &Repositories{
			Batches:    infraBQ.NewBatchRepository(client),
			Invoices:   infraBQ.NewInvoiceRepository(client),
			Categories: infraBQ.NewCategoryRepository(client),
			BigQuery:   client,
		}, nil
	}

	db, err := sqlstore.Open(cfg.Driver, cfg.DSN, sqlstore.Pool{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("OpenRepositories: %w", err)
	}
	return &Repositories{
		Batches:    sqlstore.NewBatchRepository(db),
		Invoices:   sqlstore.NewInvoiceRepository(db),
		Categories: sqlstore.NewCategoryRepository(db),
		DB:         db,
	}, nil
}

// NewImporter builds the CSV import engine.
func NewImporter(cfg *config.Config, repos *Repositories, log zerolog.Logger) *csvimport.Importer {
	return csvimport.NewImporter(repos.Batches, cfg.DefaultCurrency, log.With().Str("component", "csvimport").Logger())
}

// NewProcessor builds the invoice pipeline with its storage, OCR and LLM backends.
func NewProcessor(ctx context.Context, cfg *config.Config, repos *Repositories, log zerolog.Logger) (*pipeline.Processor, error) {
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("NewProcessor: %w", err)
	}
	provider, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("NewProcessor: %w", err)
	}

	rasterizer := mupdf.New()
	engine := ocr.NewEngine(
		tesseract.New(cfg.OCR.Language, cfg.OCR.DataPath),
		rasterizer,
		cfg.OCR.PDFDPI,
		log.With().Str("component", "ocr").Logger(),
	)

	return pipeline.NewProcessor(pipeline.Dependencies{
		Invoices:   repos.Invoices,
		Batches:    repos.Batches,
		Categories: repos.Categories,
		Store:      store,
		OCR:        engine,
		Provider:   provider,
		Previewer:  preview.NewInspector(rasterizer),
	}, pipeline.Options{
		DefaultCurrency: cfg.DefaultCurrency,
		AnalysisTimeout: cfg.LLM.Timeout,
	}, log.With().Str("component", "pipeline").Logger()), nil
}

// Queue bundles the job backend selected by configuration.
type Queue struct {
	Publisher jobs.Publisher
	Consumer  jobs.Consumer
	// Store records job state in this process.
	Store jobs.JobStore

	client *pubsub.Client
}

// Close releases the publisher and the Pub/Sub client.
func (q *Queue) Close() error {
	err := q.Publisher.Close()
	if q.client != nil {
		err = errors.Join(err, q.client.Close())
	}
	return err
}

// OpenQueue builds the in-memory queue or connects to Pub/Sub, creating the
// topic and subscription when missing.
func OpenQueue(ctx context.Context, cfg config.QueueConfig, log zerolog.Logger) (*Queue, error) {
	store := inmemory.NewStore()

	if cfg.Backend != "pubsub" {
		q := inmemory.NewQueue(cfg.BufferSize, store, inmemory.Options{}, log)
		return &Queue{Publisher: q, Consumer: q, Store: store}, nil
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("OpenQueue: pubsub client: %w", err)
	}
	topic, err := jobspubsub.EnsureTopic(ctx, client, cfg.Topic)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("OpenQueue: %w", err)
	}
	sub, err := jobspubsub.EnsureSubscription(ctx, client, cfg.Subscription, topic)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("OpenQueue: %w", err)
	}

	return &Queue{
		Publisher: jobspubsub.NewPublisher(topic, store, log),
		Consumer:  jobspubsub.NewConsumer(sub, jobspubsub.DefaultMaxOutstanding, store, log),
		Store:     store,
		client:    client,
	}, nil
}

// InvoiceProcessor is the part of the pipeline a worker needs.
type InvoiceProcessor interface {
	ProcessStored(ctx context.Context, invoiceID, batchID string) (*domain.Invoice, error)
}

// ProcessInvoiceHandler runs extraction for each job. A failure recorded on
// the invoice is final and is not retried; errors before the invoice is
// loaded are returned so the queue retries them.
func ProcessInvoiceHandler(proc InvoiceProcessor, log zerolog.Logger) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		invoiceJob, ok := job.(*jobs.ProcessInvoiceJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		jobLog := log.With().
			Str("job_id", invoiceJob.JobID).
			Str("invoice_id", invoiceJob.InvoiceID).
			Logger()
		jobLog.Info().Msg("Processing invoice job")

		inv, err := proc.ProcessStored(ctx, invoiceJob.InvoiceID, invoiceJob.BatchID)
		if err != nil && inv == nil {
			jobLog.Error().Err(err).Msg("Invoice job failed")
			return err
		}
		if err != nil {
			jobLog.Warn().Err(err).Msg("Invoice recorded as failed")
			return nil
		}

		jobLog.Info().Str("status", string(inv.Status)).Msg("Invoice job completed")
		return nil
	}
}

// NewSweeper builds the stale sweep, locking through Redis when an address
// is configured. The returned close function releases the Redis client.
func NewSweeper(ctx context.Context, cfg config.SweepConfig, repos *Repositories, log zerolog.Logger) (*sweep.Sweeper, func() error, error) {
	var locker sweep.Locker
	closeFn := func() error { return nil }

	if cfg.RedisAddress != "" {
		rdb, err := sweep.ConnectRedis(ctx, cfg.RedisAddress, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("NewSweeper: %w", err)
		}
		locker = sweep.NewRedisLocker(rdb)
		closeFn = rdb.Close
	} else {
		log.Warn().Msg("REDIS_ADDRESS not set; stale sweep runs without a lock")
	}

	return sweep.New(repos.Batches, repos.Invoices, locker, cfg.StaleAfter, log), closeFn, nil
}
