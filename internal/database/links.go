package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"urlshortener/internal/types"
)

const linkColumns = "id, original_url, short_code, created_at, expires_at, visit_count, owner_id"

// Database is the sqlx-backed link store shared by the Postgres and SQLite
// backends. Queries are written with ? placeholders and rebound per driver.
type Database struct {
	db       *sqlx.DB
	classify func(error) error
}

func (db *Database) CreateLink(ctx context.Context, link *types.Link) error {
	query := db.db.Rebind(`INSERT INTO links (original_url, short_code, created_at, expires_at, visit_count, owner_id)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)

	err := db.db.QueryRowxContext(ctx, query,
		link.OriginalURL, link.ShortCode, link.CreatedAt, link.ExpiresAt, link.VisitCount, link.OwnerID,
	).Scan(&link.ID)
	if err != nil {
		return fmt.Errorf("create link %q: %w", link.ShortCode, db.classify(err))
	}
	return nil
}

func (db *Database) ShortCodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := db.db.GetContext(ctx, &n, db.db.Rebind("SELECT COUNT(1) FROM links WHERE short_code = ?"), code)
	if err != nil {
		return false, fmt.Errorf("check short code %q: %w", code, err)
	}
	return n > 0, nil
}

func (db *Database) GetLinkByCode(ctx context.Context, code string) (*types.Link, error) {
	return db.getLink(ctx, db.db, "short_code", code)
}

func (db *Database) GetLinkByOriginalURL(ctx context.Context, originalURL string) (*types.Link, error) {
	return db.getLink(ctx, db.db, "original_url", originalURL)
}

func (db *Database) getLink(ctx context.Context, q sqlx.QueryerContext, column, value string) (*types.Link, error) {
	var link types.Link
	query := db.db.Rebind("SELECT " + linkColumns + " FROM links WHERE " + column + " = ?")
	if err := sqlx.GetContext(ctx, q, &link, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s = %q", types.ErrNotFound, column, value)
		}
		return nil, fmt.Errorf("get link by %s: %w", column, err)
	}
	return &link, nil
}

// IncrementVisits adds one to visit_count in a single UPDATE and returns the
// row as it stands after the increment.
func (db *Database) IncrementVisits(ctx context.Context, code string) (*types.Link, error) {
	tx, err := db.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, db.db.Rebind("UPDATE links SET visit_count = visit_count + 1 WHERE short_code = ?"), code)
	if err != nil {
		return nil, fmt.Errorf("increment visits for %q: %w", code, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("%w: short_code = %q", types.ErrNotFound, code)
	}

	link, err := db.getLink(ctx, tx, "short_code", code)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return link, nil
}

func (db *Database) UpdateLink(ctx context.Context, code string, upd types.LinkUpdate) error {
	query := db.db.Rebind("UPDATE links SET original_url = ?, short_code = ? WHERE short_code = ?")
	res, err := db.db.ExecContext(ctx, query, upd.OriginalURL, upd.ShortCode, code)
	if err != nil {
		return fmt.Errorf("update link %q: %w", code, db.classify(err))
	}
	return expectAffected(res, code)
}

func (db *Database) DeleteLink(ctx context.Context, code string) error {
	res, err := db.db.ExecContext(ctx, db.db.Rebind("DELETE FROM links WHERE short_code = ?"), code)
	if err != nil {
		return fmt.Errorf("delete link %q: %w", code, err)
	}
	return expectAffected(res, code)
}

func (db *Database) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.db.ExecContext(ctx, db.db.Rebind("DELETE FROM links WHERE expires_at <= ?"), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired links: %w", err)
	}
	return res.RowsAffected()
}

func (db *Database) ListLinks(ctx context.Context) ([]types.Link, error) {
	var links []types.Link
	if err := db.db.SelectContext(ctx, &links, "SELECT "+linkColumns+" FROM links ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

func (db *Database) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *Database) Close() error {
	return db.db.Close()
}

func expectAffected(res sql.Result, code string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: short_code = %q", types.ErrNotFound, code)
	}
	return nil
}
