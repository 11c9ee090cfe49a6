// Package memory is an in-memory Data Access Provider. It enforces primary
// key, unique and foreign-key constraints immediately on every statement,
// assigns identity and version columns, and logs every command it runs.
// It serves tests and ephemeral sessions.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// Constraint and lookup errors.
var (
	ErrUniqueViolation     = errors.New("unique constraint violated")
	ErrForeignKeyViolation = errors.New("foreign key constraint violated")
	ErrNoSuchTable         = errors.New("no such table")
	ErrTxDone              = errors.New("transaction already finished")
)

// Provider stores rows for the tables of one model. Transactions are
// serialised: BeginTx blocks until the previous transaction finishes.
type Provider struct {
	mu         sync.Mutex
	txMu       sync.Mutex
	tables     map[string]*table
	generators map[string]func() any
	commands   []types.Command
	closed     bool
	dir        string
}

// Option configures a Provider.
type Option func(*Provider)

// WithGenerator fills column of table with fn() on insert when the command
// supplies no value, the way a database column default would.
func WithGenerator(table, column string, fn func() any) Option {
	return func(p *Provider) { p.generators[table+"."+column] = fn }
}

// New returns an empty provider with one table per inheritance root of
// model. The model must be built.
func New(model *schema.Model, opts ...Option) *Provider {
	p := &Provider{
		tables:     tablesFor(model),
		generators: make(map[string]func() any),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Commands returns a copy of the log of executed commands.
func (p *Provider) Commands() []types.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Command(nil), p.commands...)
}

// ResetCommands clears the command log.
func (p *Provider) ResetCommands() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = nil
}

// Rows returns copies of the rows of table in insertion order.
func (p *Provider) Rows(table string) []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tables[table]
	if !ok {
		return nil
	}
	out := make([]map[string]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = maps.Clone(r.cols)
	}
	return out
}

// Execute runs cmd outside any transaction.
func (p *Provider) Execute(ctx context.Context, cmd types.Command) (types.Result, error) {
	return p.execute(ctx, cmd, nil)
}

// Exists reports whether the row selected by lookup is present.
func (p *Provider) Exists(ctx context.Context, lookup types.Lookup) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, r, err := p.lookup(lookup)
	return r != nil, err
}

// Fetch scans the lookup's columns of the selected row into dest.
func (p *Provider) Fetch(ctx context.Context, lookup types.Lookup, dest []any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(dest) != len(lookup.Columns) {
		return false, fmt.Errorf("memory: %d columns, %d destinations", len(lookup.Columns), len(dest))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, r, err := p.lookup(lookup)
	if err != nil || r == nil {
		return false, err
	}
	for i, c := range lookup.Columns {
		if err := assign(dest[i], r.cols[c]); err != nil {
			return false, fmt.Errorf("%s.%s: %w", lookup.Table, c, err)
		}
	}
	return true, nil
}

// BeginTx starts a transaction. Writes apply immediately and are undone by
// Rollback.
func (p *Provider) BeginTx(ctx context.Context) (types.Tx, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, types.ErrProviderClosed
	}
	p.txMu.Lock()
	if err := ctx.Err(); err != nil {
		p.txMu.Unlock()
		return nil, err
	}
	return &tx{p: p}, nil
}

// Close marks the provider closed. A provider returned by Open saves its
// rows first. Close is idempotent.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.dir != "" {
		return p.save(p.dir)
	}
	return nil
}

func (p *Provider) lookup(l types.Lookup) (*table, *record, error) {
	if p.closed {
		return nil, nil, types.ErrProviderClosed
	}
	t, ok := p.tables[l.Table]
	if !ok {
		return nil, nil, fmt.Errorf("%q: %w", l.Table, ErrNoSuchTable)
	}
	cols, vals := split(l.Keys)
	_, r := t.find(cols, vals)
	return t, r, nil
}

func split(cs []types.Column) ([]string, []any) {
	cols := make([]string, len(cs))
	vals := make([]any, len(cs))
	for i, c := range cs {
		cols[i], vals[i] = c.Name, c.Value
	}
	return cols, vals
}

// execute runs cmd, recording how to undo it in u when u is non-nil.
func (p *Provider) execute(ctx context.Context, cmd types.Command, u *undoLog) (types.Result, error) {
	if err := ctx.Err(); err != nil {
		return types.Result{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return types.Result{}, types.ErrProviderClosed
	}
	t, ok := p.tables[cmd.Table]
	if !ok {
		return types.Result{}, fmt.Errorf("%q: %w", cmd.Table, ErrNoSuchTable)
	}
	p.commands = append(p.commands, cmd)

	switch cmd.Action {
	case types.ActionInsert:
		return p.insert(t, cmd, u)
	case types.ActionUpdate:
		return p.update(t, cmd, u)
	case types.ActionDelete:
		return p.delete(t, cmd, u)
	default:
		return types.Result{}, fmt.Errorf("memory: unsupported action %s", cmd.Action)
	}
}

func (p *Provider) insert(t *table, cmd types.Command, u *undoLog) (types.Result, error) {
	r := &record{cols: make(row)}
	for _, c := range cmd.Values {
		r.cols[c.Name] = normalize(c.Value)
	}
	if t.identity != "" && r.cols[t.identity] == nil {
		t.seq++
		r.cols[t.identity] = t.seq
	}
	if t.version != "" && r.cols[t.version] == nil {
		r.cols[t.version] = int64(1)
	}
	for key, fn := range p.generators {
		if table, col, _ := strings.Cut(key, "."); table == t.name && r.cols[col] == nil {
			r.cols[col] = normalize(fn())
		}
	}
	t.rows = append(t.rows, r)
	if err := p.checkRow(t, r); err != nil {
		t.rows = t.rows[:len(t.rows)-1]
		return types.Result{}, err
	}
	u.add(func() {
		if i := t.indexOf(r); i >= 0 {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
		}
	})
	return returning(cmd, r, 1)
}

func (p *Provider) update(t *table, cmd types.Command, u *undoLog) (types.Result, error) {
	r := t.match(cmd)
	if r == nil {
		return types.Result{}, nil
	}
	before := maps.Clone(r.cols)
	for _, c := range cmd.Values {
		r.cols[c.Name] = normalize(c.Value)
	}
	if t.version != "" {
		if v, ok := before[t.version].(int64); ok && !assigns(cmd.Values, t.version) {
			r.cols[t.version] = v + 1
		}
	}
	if err := p.checkRow(t, r); err != nil {
		r.cols = before
		return types.Result{}, err
	}
	if err := p.checkReferenced(t, before, r.cols); err != nil {
		r.cols = before
		return types.Result{}, err
	}
	u.add(func() { r.cols = before })
	return returning(cmd, r, 1)
}

func (p *Provider) delete(t *table, cmd types.Command, u *undoLog) (types.Result, error) {
	r := t.match(cmd)
	if r == nil {
		return types.Result{}, nil
	}
	if err := p.checkReferenced(t, r.cols, nil); err != nil {
		return types.Result{}, err
	}
	i := t.indexOf(r)
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	u.add(func() { t.rows = append(t.rows[:i], append([]*record{r}, t.rows[i:]...)...) })
	return types.Result{RowsAffected: 1}, nil
}

// match returns the row selected by the command's keys whose checked
// columns still hold the expected values.
func (t *table) match(cmd types.Command) *record {
	cols, vals := split(cmd.Keys)
	_, r := t.find(cols, vals)
	if r == nil {
		return nil
	}
	cols, vals = split(cmd.Checks)
	if !r.matches(cols, vals) {
		return nil
	}
	return r
}

func assigns(values []types.Column, name string) bool {
	for _, c := range values {
		if c.Name == name {
			return true
		}
	}
	return false
}

func returning(cmd types.Command, r *record, n int64) (types.Result, error) {
	res := types.Result{RowsAffected: n}
	for _, ret := range cmd.Returning {
		if err := assign(ret.Target, r.cols[ret.Name]); err != nil {
			return types.Result{}, fmt.Errorf("returning %s: %w", ret.Name, err)
		}
	}
	res.Returned = len(cmd.Returning) > 0
	return res, nil
}

// checkRow enforces the unique and outgoing foreign-key constraints of r.
func (p *Provider) checkRow(t *table, r *record) error {
	if err := t.checkUnique(r); err != nil {
		return err
	}
	for _, fk := range t.fks {
		vals, complete := r.values(fk.columns)
		if !complete {
			continue
		}
		ref, ok := p.tables[fk.refTable]
		if !ok {
			return fmt.Errorf("%s %s: %w", t.name, fk, ErrNoSuchTable)
		}
		if _, parent := ref.find(fk.refColumns, vals); parent == nil {
			return fmt.Errorf("%s %s = %v: %w", t.name, fk, vals, ErrForeignKeyViolation)
		}
	}
	return nil
}

// checkReferenced rejects removing or rekeying a row of t that other rows
// still reference. after is nil for deletes.
func (p *Provider) checkReferenced(t *table, before, after row) error {
	old := &record{cols: before}
	for _, child := range p.tables {
		for _, fk := range child.fks {
			if fk.refTable != t.name {
				continue
			}
			vals, complete := old.values(fk.refColumns)
			if !complete {
				continue
			}
			if after != nil {
				if (&record{cols: after}).matches(fk.refColumns, vals) {
					continue
				}
			}
			if _, r := child.find(fk.columns, vals); r != nil {
				return fmt.Errorf("%s %s = %v still referenced: %w", child.name, fk, vals, ErrForeignKeyViolation)
			}
		}
	}
	return nil
}

// undoLog collects the inverse of each write of a transaction.
type undoLog struct {
	steps []func()
}

func (u *undoLog) add(fn func()) {
	if u != nil {
		u.steps = append(u.steps, fn)
	}
}

type tx struct {
	p    *Provider
	undo undoLog
	done bool
}

func (x *tx) Execute(ctx context.Context, cmd types.Command) (types.Result, error) {
	if x.done {
		return types.Result{}, ErrTxDone
	}
	return x.p.execute(ctx, cmd, &x.undo)
}

func (x *tx) Exists(ctx context.Context, lookup types.Lookup) (bool, error) {
	if x.done {
		return false, ErrTxDone
	}
	return x.p.Exists(ctx, lookup)
}

func (x *tx) Fetch(ctx context.Context, lookup types.Lookup, dest []any) (bool, error) {
	if x.done {
		return false, ErrTxDone
	}
	return x.p.Fetch(ctx, lookup, dest)
}

func (x *tx) Commit() error {
	if x.done {
		return ErrTxDone
	}
	x.done = true
	x.p.txMu.Unlock()
	return nil
}

func (x *tx) Rollback() error {
	if x.done {
		return ErrTxDone
	}
	x.done = true
	x.p.mu.Lock()
	for i := len(x.undo.steps) - 1; i >= 0; i-- {
		x.undo.steps[i]()
	}
	x.p.mu.Unlock()
	x.p.txMu.Unlock()
	return nil
}
