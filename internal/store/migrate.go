package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"

	"github.com/pressly/goose/v3"
	"go.uber.org/multierr"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

var storeLogger = log.New(os.Stdout, "[STORE] ", log.LstdFlags)

// Migrate applies every pending migration for the backend's dialect.
func (s *sqlDB) Migrate(ctx context.Context) error {
	dir, dialect := "migrations/sqlite", goose.DialectSQLite3
	if s.dialect == dialectPostgres {
		dir, dialect = "migrations/postgres", goose.DialectPostgres
	}
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("store: migrations: %w", err)
	}
	provider, err := goose.NewProvider(dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("store: migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	for _, r := range results {
		storeLogger.Printf("migration_applied dialect=%s version=%d duration=%s", s.dialect, r.Source.Version, r.Duration)
	}
	return nil
}

// Open connects to the backend named by driver ("sqlite" or "postgres") and
// migrates it.
func Open(ctx context.Context, driver, dsn string) (DB, error) {
	var db DB
	switch strings.ToLower(driver) {
	case "", dialectSQLite, "sqlite3":
		sq, err := NewSQLiteDB(dsn)
		if err != nil {
			return nil, err
		}
		db = sq
	case dialectPostgres, "postgresql":
		pg, err := NewPostgresDB(dsn)
		if err != nil {
			return nil, err
		}
		db = pg
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	if err := db.Migrate(ctx); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return db, nil
}
