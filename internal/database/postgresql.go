package database

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"urlshortener/internal/types"
)

//go:embed migrations/postgres/*.sql
var migrationsPostgresFS embed.FS

const (
	constraintShortCode   = "links_short_code_key"
	constraintOriginalURL = "links_original_url_key"
)

func ConnectPostgres(ctx context.Context, url string) (*Database, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	pg := &Database{db: db, classify: classifyPostgresError}

	if err := pg.runPostgresMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return pg, nil
}

func (db *Database) runPostgresMigrations() error {
	driver, err := postgres.WithInstance(db.db.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	return runMigrations(migrationsPostgresFS, "migrations/postgres", "postgres", driver)
}

// classifyPostgresError maps unique violations on the links table to the
// store sentinel errors, keyed by constraint name.
func classifyPostgresError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code.Name() != "unique_violation" {
		return err
	}
	switch pqErr.Constraint {
	case constraintShortCode:
		return fmt.Errorf("%w: %s", types.ErrShortCodeTaken, pqErr.Detail)
	case constraintOriginalURL:
		return fmt.Errorf("%w: %s", types.ErrOriginalURLTaken, pqErr.Detail)
	}
	return err
}
