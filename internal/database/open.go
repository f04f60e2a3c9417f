package database

import (
	"context"
	"fmt"

	"urlshortener/internal/config"
	"urlshortener/internal/service"
)

// Backend is a link store together with its connection lifecycle.
type Backend interface {
	service.LinkStore
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*Database)(nil)
	_ Backend = (*RedisStore)(nil)
	_ Backend = (*JetStreamStore)(nil)
)

// Open connects the backend selected by cfg.Storage.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		backend, err = asBackend(ConnectPostgres(ctx, cfg.PostgresURL))
	case config.StorageSQLite:
		backend, err = asBackend(ConnectSQLite(ctx, cfg.SQLiteDSN))
	case config.StorageRedis:
		backend, err = asBackend(ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix))
	case config.StorageNATS:
		backend, err = asBackend(ConnectJetStream(ctx, cfg.NATSURL, cfg.NATSBucket))
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
	if err != nil {
		return nil, err
	}
	return backend, nil
}

// asBackend keeps a failed connect from yielding a non-nil interface that
// wraps a nil pointer.
func asBackend[T Backend](b T, err error) (Backend, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}
