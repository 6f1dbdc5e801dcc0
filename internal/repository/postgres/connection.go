// Package postgres provides the alternative durable checkpoint backend.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TableNames holds environment-prefixed table names.
type TableNames struct {
	Checkpoints string
}

// NewTableNames creates table names with the given prefix.
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Checkpoints: fmt.Sprintf("%scheckpoints", prefix),
	}
}

// CreateConnectionPool creates a pgx connection pool and verifies
// connectivity.
//
// Dynamic table prefixes (dev_, test_, prod_) are interpolated into SQL
// before statements reach the database, so each environment gets its own
// prepared statements.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
