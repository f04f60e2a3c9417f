package database

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/jmoiron/sqlx"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
	"urlshortener/internal/types"
)

//go:embed migrations/sqlite/*.sql
var migrationsSQLiteFS embed.FS

// ConnectSQLite opens a local SQLite file through modernc.org/sqlite, or a
// remote libSQL (Turso) database when dsn is a libsql:// or wss:// URL.
func ConnectSQLite(ctx context.Context, dsn string) (*Database, error) {
	driverName := "sqlite"
	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "wss://") {
		driverName = "libsql"
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driverName, err)
	}

	if driverName == "sqlite" {
		// One writer at a time; pragmas below are per connection.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA foreign_keys = ON",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA journal_mode = WAL",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	lite := &Database{db: db, classify: classifySQLiteError}

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(migrationsSQLiteFS, "migrations/sqlite", "sqlite", driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	return lite, nil
}

func classifySQLiteError(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	switch {
	case strings.Contains(msg, "links.short_code"):
		return fmt.Errorf("%w: %v", types.ErrShortCodeTaken, err)
	case strings.Contains(msg, "links.original_url"):
		return fmt.Errorf("%w: %v", types.ErrOriginalURLTaken, err)
	}
	return err
}
