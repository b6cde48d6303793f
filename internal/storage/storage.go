// Package storage selects the configured relational backend.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohamaddakhiliuad/tenantorders/internal/app"
	"github.com/mohamaddakhiliuad/tenantorders/internal/config"
	"github.com/mohamaddakhiliuad/tenantorders/internal/idempotency"
	"github.com/mohamaddakhiliuad/tenantorders/internal/storage/postgres"
	"github.com/mohamaddakhiliuad/tenantorders/internal/storage/sqlite"
	"github.com/mohamaddakhiliuad/tenantorders/internal/uow"
	"github.com/mohamaddakhiliuad/tenantorders/migrations"
)

// Store is everything the service needs from a backend.
type Store interface {
	uow.Backend
	idempotency.Store
	app.OrderReader
	Ping(ctx context.Context) error
}

var (
	_ Store = (*postgres.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
)

// Open connects to the backend named by cfg.StoreDriver and brings its schema
// up to date. The returned func releases the connection.
func Open(ctx context.Context, cfg config.Config) (Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to db: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("db ping: %w", err)
		}
		if _, err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		return postgres.NewStore(pool), pool.Close, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
