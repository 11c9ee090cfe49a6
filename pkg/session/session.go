// Package session is the unit of work: it tracks entities, decides what
// changed, and submits inserts, updates and deletes in dependency order
// within one transaction.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/unitofwork/internal/identity"
	"github.com/mesh-intelligence/unitofwork/internal/tracker"
	"github.com/mesh-intelligence/unitofwork/pkg/conflict"
	"github.com/mesh-intelligence/unitofwork/pkg/memory"
	"github.com/mesh-intelligence/unitofwork/pkg/postgres"
	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/sqlite"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// Session tracks entities of one model and writes their changes through a
// Provider. A Session is not safe for concurrent use.
type Session struct {
	id       string
	model    *schema.Model
	provider types.Provider
	owned    bool

	tracker  *tracker.Tracker
	ids      identity.Manager
	readOnly bool

	log          *slog.Logger
	observer     Observer
	timeout      time.Duration
	conflictMode types.ConflictMode

	conflicts  conflict.Collection
	tx         types.Tx
	submitting bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithObserver registers an Observer for submission events.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithCommandTimeout bounds each statement the session issues.
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithReadOnly disables object tracking. Fetched entities are not cached
// and nothing can be submitted.
func WithReadOnly() Option {
	return func(s *Session) { s.readOnly = true }
}

// WithConflictMode sets the mode Submit uses.
func WithConflictMode(m types.ConflictMode) Option {
	return func(s *Session) { s.conflictMode = m }
}

// New returns a session writing through provider. The model is built if it
// has not been yet. The caller keeps ownership of provider.
func New(provider types.Provider, model *schema.Model, opts ...Option) (*Session, error) {
	if !model.IsBuilt() {
		if err := model.Build(); err != nil {
			return nil, fmt.Errorf("build model: %w", err)
		}
	}
	s := &Session{
		id:       uuid.NewString(),
		model:    model,
		provider: provider,
		log:      slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracker = tracker.New(model)
	if s.readOnly {
		s.ids = identity.NewReadOnly()
	} else {
		s.ids = identity.New()
	}
	s.log = s.log.With("session", s.id)
	return s, nil
}

// Open validates cfg, opens the configured backend and returns a session
// that owns it. Close releases the backend. The memory backend loads and
// saves its tables in cfg.DataDir when one is set.
func Open(ctx context.Context, cfg types.Config, model *schema.Model, opts ...Option) (*Session, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	mode, err := types.ParseConflictMode(cfg.ConflictMode)
	if err != nil {
		return nil, err
	}

	var provider types.Provider
	switch cfg.Backend {
	case types.BackendSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = filepath.Join(cfg.DataDir, types.DefaultDatabaseFile)
		}
		provider, err = sqlite.Open(ctx, dsn)
	case types.BackendPostgres:
		provider, err = postgres.Open(ctx, cfg.DSN)
	case types.BackendMemory:
		if !model.IsBuilt() {
			if err := model.Build(); err != nil {
				return nil, fmt.Errorf("build model: %w", err)
			}
		}
		if cfg.DataDir == "" {
			provider = memory.New(model)
		} else {
			provider, err = memory.Open(model, cfg.DataDir)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}

	base := []Option{WithCommandTimeout(cfg.CommandTimeout), WithConflictMode(mode)}
	if cfg.ReadOnly {
		base = append(base, WithReadOnly())
	}
	s, err := New(provider, model, append(base, opts...)...)
	if err != nil {
		provider.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Close releases the provider if the session opened it.
func (s *Session) Close() error {
	if s.owned {
		return s.provider.Close()
	}
	return nil
}

// Model returns the session's schema.
func (s *Session) Model() *schema.Model { return s.model }

// Provider returns the provider the session writes through.
func (s *Session) Provider() types.Provider { return s.provider }

// ChangeConflicts returns the conflicts of the last failed submission.
func (s *Session) ChangeConflicts() *conflict.Collection { return &s.conflicts }

// UseTx makes the session run reads and submissions inside tx. The caller
// commits or rolls back tx. Pass nil to return to session-managed
// transactions.
func (s *Session) UseTx(tx types.Tx) {
	s.tx = tx
}

func (s *Session) executor() types.Executor {
	if s.tx != nil {
		return s.tx
	}
	return s.provider
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Session) typeOf(entity any) (*schema.MetaType, error) {
	return s.model.TypeOf(entity)
}
