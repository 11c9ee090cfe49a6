// Package director issues the insert, update or delete for one tracked
// entity, either through the type's override or as a generated command,
// and folds backend-assigned values back into the entity.
package director

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mesh-intelligence/unitofwork/internal/tracker"
	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// syncRecord remembers a member value replaced by an auto-sync read-back.
type syncRecord struct {
	entity   any
	member   *schema.MetaMember
	previous any
}

// Director writes tracked entities through one Executor. A Director
// belongs to a single submission.
type Director struct {
	exec    types.Executor
	timeout time.Duration
	log     *slog.Logger
	synced  []syncRecord
}

// Option configures a Director.
type Option func(*Director)

// WithTimeout bounds every statement.
func WithTimeout(d time.Duration) Option {
	return func(dr *Director) { dr.timeout = d }
}

// WithLogger sets the logger statements are reported to at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(dr *Director) { dr.log = l }
}

// New returns a Director writing through exec.
func New(exec types.Executor, opts ...Option) *Director {
	d := &Director{exec: exec, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Director) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(ctx, d.timeout)
	}
	return context.WithCancel(ctx)
}

func conflictf(te *tracker.TrackedEntity, action types.ChangeAction) error {
	return fmt.Errorf("%s %s: %w", action, te, types.ErrChangeConflict)
}

// Insert writes a new entity. Backend-assigned members are read back into
// the entity.
func (d *Director) Insert(ctx context.Context, te *tracker.TrackedEntity) error {
	mt, cur := te.Type(), te.Current()
	ctx, cancel := d.statementContext(ctx)
	defer cancel()

	if fn := mt.InsertFunc(); fn != nil {
		d.log.DebugContext(ctx, "insert override", "type", mt.Name())
		return fn(ctx, d.exec, cur, nil)
	}

	cmd := types.Command{Action: types.ActionInsert, Table: mt.Table()}
	for _, m := range mt.DataMembers() {
		if m.IsDBGenerated {
			continue
		}
		cmd.Values = append(cmd.Values, types.Column{Name: m.Column, Value: m.Get(cur)})
	}
	syncs := d.returning(&cmd, mt, types.ActionInsert)

	res, err := d.exec.Execute(ctx, cmd)
	if err != nil {
		return fmt.Errorf("insert %s: %w", te, err)
	}
	d.log.DebugContext(ctx, "insert issued", "type", mt.Name(), "table", cmd.Table, "rows", res.RowsAffected)
	if len(syncs) > 0 {
		if !res.Returned {
			return fmt.Errorf("insert %s: %w", te, types.ErrInsertAutoSyncFailed)
		}
		d.apply(cur, syncs, cmd.Returning)
	}
	return nil
}

// Update writes the changed members of a persisted entity under the
// optimistic concurrency predicate. A write that matches no row is reported
// as an error wrapping types.ErrChangeConflict.
func (d *Director) Update(ctx context.Context, te *tracker.TrackedEntity) error {
	mt, cur := te.Type(), te.Current()
	ctx, cancel := d.statementContext(ctx)
	defer cancel()

	if fn := mt.UpdateFunc(); fn != nil {
		d.log.DebugContext(ctx, "update override", "type", mt.Name())
		return fn(ctx, d.exec, cur, te.Original())
	}

	cmd := types.Command{
		Action: types.ActionUpdate,
		Table:  mt.Table(),
		Keys:   keyColumns(te),
		Checks: Checks(te),
	}
	for _, m := range mt.DataMembers() {
		if m.IsPrimaryKey || m.IsDBGenerated {
			continue
		}
		if te.HasChangedValue(m) {
			cmd.Values = append(cmd.Values, types.Column{Name: m.Column, Value: m.Get(cur)})
		}
	}
	syncs := d.returning(&cmd, mt, types.ActionUpdate)

	res, err := d.exec.Execute(ctx, cmd)
	if err != nil {
		return fmt.Errorf("update %s: %w", te, err)
	}
	d.log.DebugContext(ctx, "update issued", "type", mt.Name(), "table", cmd.Table, "rows", res.RowsAffected)
	if res.RowsAffected == 0 || (len(syncs) > 0 && !res.Returned) {
		return conflictf(te, types.ActionUpdate)
	}
	if len(syncs) > 0 {
		d.apply(cur, syncs, cmd.Returning)
	}
	return nil
}

// Delete removes a persisted entity. When the predicate matches no row an
// existence check tells a conflict from a row already deleted by someone
// else, which counts as success.
func (d *Director) Delete(ctx context.Context, te *tracker.TrackedEntity) error {
	mt, cur := te.Type(), te.Current()
	ctx, cancel := d.statementContext(ctx)
	defer cancel()

	if fn := mt.DeleteFunc(); fn != nil {
		d.log.DebugContext(ctx, "delete override", "type", mt.Name())
		return fn(ctx, d.exec, cur, te.Original())
	}

	cmd := types.Command{
		Action: types.ActionDelete,
		Table:  mt.Table(),
		Keys:   keyColumns(te),
		Checks: Checks(te),
	}
	res, err := d.exec.Execute(ctx, cmd)
	if err != nil {
		return fmt.Errorf("delete %s: %w", te, err)
	}
	d.log.DebugContext(ctx, "delete issued", "type", mt.Name(), "table", cmd.Table, "rows", res.RowsAffected)
	if res.RowsAffected > 0 {
		return nil
	}
	exists, err := d.exec.Exists(ctx, types.Lookup{Table: cmd.Table, Keys: cmd.Keys})
	if err != nil {
		return fmt.Errorf("delete %s: existence check: %w", te, err)
	}
	if exists {
		return conflictf(te, types.ActionDelete)
	}
	d.log.DebugContext(ctx, "row already deleted", "type", mt.Name())
	return nil
}

// Write dispatches on the entity's pending action.
func (d *Director) Write(ctx context.Context, te *tracker.TrackedEntity) error {
	switch te.Action() {
	case types.ActionInsert:
		return d.Insert(ctx, te)
	case types.ActionUpdate:
		return d.Update(ctx, te)
	case types.ActionDelete:
		return d.Delete(ctx, te)
	default:
		return nil
	}
}

// RollbackAutoSync restores every member value replaced by a read-back, most
// recent first.
func (d *Director) RollbackAutoSync() {
	for i := len(d.synced) - 1; i >= 0; i-- {
		r := d.synced[i]
		r.member.Set(r.entity, r.previous)
	}
	d.synced = nil
}

// ClearAutoSync forgets recorded read-backs after a commit.
func (d *Director) ClearAutoSync() {
	d.synced = nil
}

func (d *Director) returning(cmd *types.Command, mt *schema.MetaType, action types.ChangeAction) []*schema.MetaMember {
	var syncs []*schema.MetaMember
	for _, m := range mt.DataMembers() {
		if !m.SyncsOn(action) {
			continue
		}
		syncs = append(syncs, m)
		cmd.Returning = append(cmd.Returning, types.Returning{Name: m.Column, Target: m.ScanTarget()})
	}
	return syncs
}

func (d *Director) apply(entity any, syncs []*schema.MetaMember, returned []types.Returning) {
	for i, m := range syncs {
		d.synced = append(d.synced, syncRecord{entity: entity, member: m, previous: m.Get(entity)})
		m.Set(entity, m.ScannedValue(returned[i].Target))
	}
}

// keyColumns selects the row by its baseline key values.
func keyColumns(te *tracker.TrackedEntity) []types.Column {
	src := te.Original()
	if src == nil {
		src = te.Current()
	}
	ids := te.Type().IdentityMembers()
	keys := make([]types.Column, len(ids))
	for i, m := range ids {
		keys[i] = types.Column{Name: m.Column, Value: m.Get(src)}
	}
	return keys
}

// Checks builds the optimistic concurrency predicate: the version member
// alone when the type has one, otherwise every non-key member whose update
// check is Always, or WhenChanged and the member changed, compared to its
// baseline value.
func Checks(te *tracker.TrackedEntity) []types.Column {
	orig := te.Original()
	if orig == nil {
		return nil
	}
	mt := te.Type()
	if v := mt.VersionMember(); v != nil {
		return []types.Column{{Name: v.Column, Value: v.Get(orig)}}
	}
	var checks []types.Column
	for _, m := range mt.DataMembers() {
		if m.IsPrimaryKey {
			continue
		}
		switch m.UpdateCheck {
		case types.CheckAlways:
		case types.CheckWhenChanged:
			if !te.HasChangedValue(m) {
				continue
			}
		default:
			continue
		}
		checks = append(checks, types.Column{Name: m.Column, Value: m.Get(orig)})
	}
	return checks
}
