package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/dvloznov/expense-ingest/internal/app"
	"github.com/dvloznov/expense-ingest/internal/config"
	"github.com/dvloznov/expense-ingest/internal/domain"
	infraBQ "github.com/dvloznov/expense-ingest/internal/infra/bigquery"
	"github.com/dvloznov/expense-ingest/internal/infra/sqlstore"
	"github.com/dvloznov/expense-ingest/internal/logger"
	"github.com/rs/zerolog"
)

// options are the command-line settings of a migration run.
type options struct {
	MigrationsDir string
	AppliedBy     string
	Seed          bool
}

func (o options) validate(driver string) error {
	if driver == "bigquery" && o.MigrationsDir == "" {
		return errors.New("-migrations is required for the bigquery driver")
	}
	if o.AppliedBy == "" {
		return errors.New("-applied-by must not be empty")
	}
	return nil
}

func main() {
	var opts options
	flag.StringVar(&opts.MigrationsDir, "migrations", "migrations/bigquery", "Path to BigQuery migrations directory")
	flag.StringVar(&opts.AppliedBy, "applied-by", "migrate-cli", "Name of the tool applying migrations")
	flag.BoolVar(&opts.Seed, "seed", false, "Insert the default category taxonomy after migrating")
	driver := flag.String("driver", "", "Store driver: sqlite, mysql, postgres or bigquery (or set STORE_DRIVER env)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if *driver != "" {
		cfg.Store.Driver = *driver
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("Invalid configuration")
		}
	}

	if err := opts.validate(cfg.Store.Driver); err != nil {
		log.Fatal().Err(err).Msg("Invalid options")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, opts, log); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, log zerolog.Logger) error {
	repos, err := app.OpenRepositories(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer repos.Close()

	if repos.BigQuery != nil {
		log.Info().
			Str("project", cfg.Store.BigQueryProject).
			Str("dataset", cfg.Store.BigQueryDataset).
			Msg("Connected to BigQuery")

		n, err := infraBQ.NewMigrator(repos.BigQuery, opts.AppliedBy, log).Apply(ctx, opts.MigrationsDir)
		if err != nil {
			return err
		}
		if n == 0 {
			log.Info().Msg("No new migrations to apply. Dataset is up to date.")
		} else {
			log.Info().Int("count", n).Msg("Applied migrations")
		}
	} else {
		if err := sqlstore.AutoMigrate(repos.DB); err != nil {
			return err
		}
		log.Info().Str("driver", cfg.Store.Driver).Msg("Schema is up to date")
	}

	if !opts.Seed {
		return nil
	}
	n, err := repos.Categories.Seed(ctx, domain.DefaultCategories())
	if err != nil {
		return fmt.Errorf("seeding categories: %w", err)
	}
	log.Info().Int64("inserted", n).Msg("Seeded default categories")
	return nil
}
