// Package migrate applies the SQL schema under db/migrations using
// golang-migrate, keeping the documents/chunks/jobs/cache tables in sync
// with what the postgres docstore package expects.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Config controls how migrations are located and applied.
type Config struct {
	// MigrationsPath is a directory containing *.up.sql/*.down.sql files.
	MigrationsPath string

	// Timeout bounds the whole migration run.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MigrationsPath == "" {
		c.MigrationsPath = "db/migrations"
	}
	if c.Timeout == 0 {
		c.Timeout = time.Minute
	}
	return c
}

// Runner wraps a golang-migrate instance bound to a standalone database/sql
// connection (the pgxpool used elsewhere in the app is not compatible with
// golang-migrate's driver interface).
type Runner struct {
	db       *sql.DB
	cfg      Config
	migrator *migrate.Migrate
}

// NewRunner opens its own database/sql connection against dsn and prepares
// a migrator over cfg.MigrationsPath. Call Close when done.
func NewRunner(dsn string, cfg Config) (*Runner, error) {
	cfg = cfg.withDefaults()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: open db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: postgres driver: %w", err)
	}

	sourceURL := fmt.Sprintf("file://%s", cfg.MigrationsPath)
	migrator, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: init migrator: %w", err)
	}

	return &Runner{db: db, cfg: cfg, migrator: migrator}, nil
}

// Up applies all pending migrations. A no-change result is not an error.
func (r *Runner) Up(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := r.migrator.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			err = nil
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("migrate: up: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("migrate: up: timed out after %s", r.cfg.Timeout)
	}
}

// Version reports the current schema version and whether it is dirty.
func (r *Runner) Version() (uint, bool, error) {
	version, dirty, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Close releases the migrator's source and database handles.
func (r *Runner) Close() error {
	sourceErr, dbErr := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("migrate: close source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("migrate: close db: %w", dbErr)
	}
	return nil
}
