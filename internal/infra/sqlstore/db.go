// Package sqlstore persists batches, transactions, invoices and categories
// in a relational database through gorm.
package sqlstore

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Pool tunes the database/sql connection pool. Zero fields keep the
// database/sql defaults.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (p Pool) apply(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if p.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
	if p.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(p.ConnMaxIdleTime)
	}
	return nil
}

// Open connects to the database named by driver and dsn and tunes its pool.
// Slow queries and errors are reported through log.
func Open(driver, dsn string, pool Pool, log zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore.Open: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger(log)})
	if err != nil {
		return nil, fmt.Errorf("sqlstore.Open: connecting to %s: %w", driver, err)
	}

	if err := pool.apply(db); err != nil {
		return nil, fmt.Errorf("sqlstore.Open: tuning pool: %w", err)
	}

	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		return nil, fmt.Errorf("sqlstore.Open: installing otelgorm plugin: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates every table used by the repositories.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&importBatchRow{},
		&transactionRow{},
		&categoryRow{},
		&invoiceRow{},
		&lineItemRow{},
		&attachmentRow{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	return nil
}

func gormLogger(log zerolog.Logger) logger.Interface {
	log = log.With().Str("component", "gorm").Logger()
	return logger.New(
		&log,
		logger.Config{
			LogLevel:                  logger.Error,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
}
