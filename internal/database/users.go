package database

import (
	"context"
	"fmt"
)

// CreateUser registers a Telegram user. Registering an existing user is a no-op.
func (db *Database) CreateUser(ctx context.Context, telegramID int64) error {
	query := db.db.Rebind("INSERT INTO users (telegram_id) VALUES (?) ON CONFLICT (telegram_id) DO NOTHING")
	if _, err := db.db.ExecContext(ctx, query, telegramID); err != nil {
		return fmt.Errorf("create user %d: %w", telegramID, err)
	}
	return nil
}

func (db *Database) GetUserIDByTelegramID(ctx context.Context, telegramID int64) (int64, error) {
	var id int64
	err := db.db.GetContext(ctx, &id, db.db.Rebind("SELECT id FROM users WHERE telegram_id = ?"), telegramID)
	if err != nil {
		return 0, fmt.Errorf("get user %d: %w", telegramID, err)
	}
	return id, nil
}
