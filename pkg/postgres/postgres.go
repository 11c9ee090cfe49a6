// Package postgres opens a PostgreSQL database through the pgx driver as a
// Data Access Provider.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/mesh-intelligence/unitofwork/internal/sqldb"
)

const driverName = "pgx"

// Provider is a PostgreSQL-backed provider. Transactions run at read
// committed.
type Provider struct {
	*sqldb.Provider
}

// Option configures a Provider.
type Option = sqldb.Option

// WithLogger sets the logger statements are reported to at debug level.
func WithLogger(l *slog.Logger) Option { return sqldb.WithLogger(l) }

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Provider, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: empty dsn")
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Provider{Provider: sqldb.New(db, sqldb.Postgres, opts...)}, nil
}
