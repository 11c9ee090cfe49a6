// Package sqldb implements the Data Access Provider over database/sql. The
// sqlite and postgres packages open the database and pick the dialect.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// queryer is the part of *sql.DB and *sql.Tx the provider uses.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Provider runs generated commands against a *sql.DB.
type Provider struct {
	mu      sync.RWMutex
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
	closed  bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger statements are reported to at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// New wraps db. The provider owns db and closes it on Close.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Provider {
	p := &Provider{db: db, dialect: dialect, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DB exposes the underlying database, for schema setup and tests.
func (p *Provider) DB() *sql.DB { return p.db }

// Dialect returns the provider's SQL dialect.
func (p *Provider) Dialect() Dialect { return p.dialect }

func (p *Provider) conn() (*sql.DB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, types.ErrProviderClosed
	}
	return p.db, nil
}

// Execute runs cmd in autocommit mode.
func (p *Provider) Execute(ctx context.Context, cmd types.Command) (types.Result, error) {
	db, err := p.conn()
	if err != nil {
		return types.Result{}, err
	}
	return execute(ctx, p, db, cmd)
}

// Exists reports whether the row selected by lookup is present.
func (p *Provider) Exists(ctx context.Context, lookup types.Lookup) (bool, error) {
	db, err := p.conn()
	if err != nil {
		return false, err
	}
	return exists(ctx, p, db, lookup)
}

// Fetch scans the selected row's columns into dest.
func (p *Provider) Fetch(ctx context.Context, lookup types.Lookup, dest []any) (bool, error) {
	db, err := p.conn()
	if err != nil {
		return false, err
	}
	return fetch(ctx, p, db, lookup, dest)
}

// BeginTx starts a transaction at the dialect's isolation level.
func (p *Provider) BeginTx(ctx context.Context) (types.Tx, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: p.dialect.Isolation})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{p: p, tx: tx}, nil
}

// Close closes the database. Close is idempotent.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

// Tx is a transaction opened by BeginTx.
type Tx struct {
	p  *Provider
	tx *sql.Tx
}

// Execute runs cmd inside the transaction.
func (t *Tx) Execute(ctx context.Context, cmd types.Command) (types.Result, error) {
	return execute(ctx, t.p, t.tx, cmd)
}

// Exists reports whether the row selected by lookup is visible to the
// transaction.
func (t *Tx) Exists(ctx context.Context, lookup types.Lookup) (bool, error) {
	return exists(ctx, t.p, t.tx, lookup)
}

// Fetch scans the selected row's columns into dest.
func (t *Tx) Fetch(ctx context.Context, lookup types.Lookup, dest []any) (bool, error) {
	return fetch(ctx, t.p, t.tx, lookup, dest)
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func execute(ctx context.Context, p *Provider, q queryer, cmd types.Command) (types.Result, error) {
	st, err := buildCommand(p.dialect, cmd)
	if err != nil {
		return types.Result{}, err
	}
	p.log.DebugContext(ctx, "execute", "sql", st.query, "args", len(st.args))

	if len(cmd.Returning) > 0 {
		targets := make([]any, len(cmd.Returning))
		for i, r := range cmd.Returning {
			targets[i] = r.Target
		}
		err := q.QueryRowContext(ctx, st.query, st.args...).Scan(targets...)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return types.Result{}, nil
		case err != nil:
			return types.Result{}, fmt.Errorf("%s %s: %w", cmd.Action, cmd.Table, err)
		}
		return types.Result{RowsAffected: 1, Returned: true}, nil
	}

	res, err := q.ExecContext(ctx, st.query, st.args...)
	if err != nil {
		return types.Result{}, fmt.Errorf("%s %s: %w", cmd.Action, cmd.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.Result{}, fmt.Errorf("%s %s: rows affected: %w", cmd.Action, cmd.Table, err)
	}
	return types.Result{RowsAffected: n}, nil
}

func exists(ctx context.Context, p *Provider, q queryer, lookup types.Lookup) (bool, error) {
	st := buildExists(p.dialect, lookup)
	p.log.DebugContext(ctx, "exists", "sql", st.query)
	var one int
	err := q.QueryRowContext(ctx, st.query, st.args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("exists %s: %w", lookup.Table, err)
	}
	return true, nil
}

func fetch(ctx context.Context, p *Provider, q queryer, lookup types.Lookup, dest []any) (bool, error) {
	if len(dest) != len(lookup.Columns) {
		return false, fmt.Errorf("fetch %s: %d columns, %d destinations", lookup.Table, len(lookup.Columns), len(dest))
	}
	st := buildFetch(p.dialect, lookup)
	p.log.DebugContext(ctx, "fetch", "sql", st.query)
	err := q.QueryRowContext(ctx, st.query, st.args...).Scan(dest...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("fetch %s: %w", lookup.Table, err)
	}
	return true, nil
}
