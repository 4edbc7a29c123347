package main

import (
	"context"
	"testing"

	"github.com/dvloznov/expense-ingest/internal/config"
	"github.com/rs/zerolog"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    options
		driver  string
		wantErr bool
	}{
		{"bigquery with dir", options{MigrationsDir: "migrations/bigquery", AppliedBy: "ci"}, "bigquery", false},
		{"bigquery without dir", options{AppliedBy: "ci"}, "bigquery", true},
		{"sqlite ignores dir", options{AppliedBy: "ci"}, "sqlite", false},
		{"empty applied-by", options{MigrationsDir: "x"}, "postgres", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validate(tt.driver)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunSQLiteIsIdempotent(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{
		Driver: "sqlite",
		DSN:    "file:migrate_run?mode=memory&cache=shared",
	}}
	opts := options{AppliedBy: "test", Seed: true}

	for i := 0; i < 2; i++ {
		if err := run(context.Background(), cfg, opts, zerolog.Nop()); err != nil {
			t.Fatalf("run() #%d error = %v", i+1, err)
		}
	}
}
