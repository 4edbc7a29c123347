package bigquery

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
)

// migrationPattern matches migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migration represents a single migration file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// ReadMigrations loads the migration files of dir in version order, with
// {{PROJECT_ID}} and {{DATASET_ID}} replaced. Files not matching the naming
// pattern are skipped.
func ReadMigrations(dir, project, dataset string, log zerolog.Logger) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ReadMigrations: reading directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		matches := migrationPattern.FindStringSubmatch(file.Name())
		if matches == nil {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid format")
			continue
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid version")
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("ReadMigrations: version %04d used by %s and %s", version, prev, file.Name())
		}
		seen[version] = file.Name()

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("ReadMigrations: reading file %s: %w", file.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", project)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", dataset)

		// Checksum covers the file as written, so the same migration matches
		// across projects and datasets.
		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: file.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Pending returns the migrations whose version is not in applied, and logs
// applied migrations whose file changed since.
func Pending(migrations []Migration, applied []AppliedMigration, log zerolog.Logger) []Migration {
	done := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		done[am.Version] = am
	}

	var pending []Migration
	for _, m := range migrations {
		am, ok := done[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			log.Warn().
				Int("version", m.Version).
				Str("name", m.Name).
				Msg("Applied migration changed on disk; it will not be re-run")
		}
	}
	return pending
}

// Migrator applies migration files to the client's dataset.
type Migrator struct {
	c         *Client
	appliedBy string
	log       zerolog.Logger
}

// NewMigrator creates a Migrator recording appliedBy in schema_migrations.
func NewMigrator(c *Client, appliedBy string, log zerolog.Logger) *Migrator {
	return &Migrator{c: c, appliedBy: appliedBy, log: log}
}

// Apply runs every pending migration of dir in order and returns how many ran.
func (m *Migrator) Apply(ctx context.Context, dir string) (int, error) {
	if err := m.ensureSchemaMigrationsTable(ctx); err != nil {
		return 0, err
	}

	migrations, err := ReadMigrations(dir, m.c.project, m.c.dataset, m.log)
	if err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}
	m.log.Info().Int("files", len(migrations)).Int("applied", len(applied)).Msg("Loaded migrations")

	count := 0
	for _, mig := range Pending(migrations, applied, m.log) {
		log := m.log.With().Int("version", mig.Version).Str("name", mig.Name).Logger()
		log.Info().Msg("Applying migration")

		if _, err := m.c.exec(ctx, "Apply", mig.SQL); err != nil {
			return count, fmt.Errorf("Apply: migration %04d_%s: %w", mig.Version, mig.Name, err)
		}
		if err := m.record(ctx, mig); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (m *Migrator) ensureSchemaMigrationsTable(ctx context.Context) error {
	_, err := m.c.exec(ctx, "ensureSchemaMigrationsTable", fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, m.c.table("schema_migrations")))
	return err
}

func (m *Migrator) applied(ctx context.Context) ([]AppliedMigration, error) {
	type row struct {
		Version   int64               `bigquery:"version"`
		Name      string              `bigquery:"name"`
		AppliedAt time.Time           `bigquery:"applied_at"`
		Checksum  bigquery.NullString `bigquery:"checksum"`
		AppliedBy bigquery.NullString `bigquery:"applied_by"`
	}

	rows, err := query[row](ctx, m.c, "applied", fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, m.c.table("schema_migrations")))
	if err != nil {
		return nil, err
	}

	out := make([]AppliedMigration, 0, len(rows))
	for _, r := range rows {
		out = append(out, AppliedMigration{
			Version:   int(r.Version),
			Name:      r.Name,
			AppliedAt: r.AppliedAt,
			Checksum:  r.Checksum.StringVal,
			AppliedBy: r.AppliedBy.StringVal,
		})
	}
	return out, nil
}

func (m *Migrator) record(ctx context.Context, mig Migration) error {
	_, err := m.c.exec(ctx, "record", fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, m.c.table("schema_migrations")),
		bigquery.QueryParameter{Name: "version", Value: mig.Version},
		bigquery.QueryParameter{Name: "name", Value: mig.Name},
		bigquery.QueryParameter{Name: "checksum", Value: mig.Checksum},
		bigquery.QueryParameter{Name: "applied_by", Value: m.appliedBy},
	)
	return err
}
