// Package sqlite opens a SQLite database (pure Go, modernc.org/sqlite) as a
// Data Access Provider.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/unitofwork/internal/sqldb"
)

// BusyTimeoutMillis is how long a statement waits for a locked database.
const BusyTimeoutMillis = 5000

// Provider is a SQLite-backed provider. DB exposes the database for schema
// setup.
type Provider struct {
	*sqldb.Provider
}

// Option configures a Provider.
type Option = sqldb.Option

// WithLogger sets the logger statements are reported to at debug level.
func WithLogger(l *slog.Logger) Option { return sqldb.WithLogger(l) }

// Open opens the database at dsn, creating parent directories of a file
// path. Foreign keys are enforced and writers wait up to BusyTimeoutMillis
// for locks. SQLite allows one writer, so the pool holds one connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Provider, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite: empty dsn")
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Provider{Provider: sqldb.New(db, sqldb.SQLite, opts...)}, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", dsn, sep, BusyTimeoutMillis)
}
