package director

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/unitofwork/internal/tracker"
	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

type item struct {
	ID    int64
	Name  string
	Price int
	Note  string
}

type doc struct {
	ID      string
	Body    string
	Version int64
}

// recorder is an Executor that records commands and replays scripted
// results.
type recorder struct {
	commands []types.Command
	results  []types.Result
	returned [][]any
	exists   bool
	err      error
	deadline bool
}

func (r *recorder) Execute(ctx context.Context, cmd types.Command) (types.Result, error) {
	_, r.deadline = ctx.Deadline()
	r.commands = append(r.commands, cmd)
	if r.err != nil {
		return types.Result{}, r.err
	}
	res := types.Result{RowsAffected: 1}
	if len(r.results) > 0 {
		res, r.results = r.results[0], r.results[1:]
	}
	if len(cmd.Returning) > 0 && len(r.returned) > 0 {
		vals := r.returned[0]
		r.returned = r.returned[1:]
		for i, ret := range cmd.Returning {
			reflect.ValueOf(ret.Target).Elem().Set(reflect.ValueOf(vals[i]))
		}
		res.Returned = true
	}
	return res, nil
}

func (r *recorder) Exists(context.Context, types.Lookup) (bool, error) { return r.exists, nil }

func (r *recorder) Fetch(context.Context, types.Lookup, []any) (bool, error) { return false, nil }

func setup(t *testing.T) (*schema.Table[item], *schema.Table[doc], *tracker.Tracker) {
	t.Helper()
	m := schema.NewModel()
	items := schema.Define[item](m, "items")
	schema.Column(items, "ID", func(i *item) int64 { return i.ID }, func(i *item, v int64) { i.ID = v },
		schema.PrimaryKey(), schema.DBGenerated())
	schema.Column(items, "Name", func(i *item) string { return i.Name }, func(i *item, v string) { i.Name = v })
	schema.Column(items, "Price", func(i *item) int { return i.Price }, func(i *item, v int) { i.Price = v })
	schema.Column(items, "Note", func(i *item) string { return i.Note }, func(i *item, v string) { i.Note = v },
		schema.Check(types.CheckNever), schema.ColumnName("note"))

	docs := schema.Define[doc](m, "docs")
	schema.Column(docs, "ID", func(d *doc) string { return d.ID }, func(d *doc, v string) { d.ID = v }, schema.PrimaryKey())
	schema.Column(docs, "Body", func(d *doc) string { return d.Body }, func(d *doc, v string) { d.Body = v })
	schema.Column(docs, "Version", func(d *doc) int64 { return d.Version }, func(d *doc, v int64) { d.Version = v }, schema.Version())
	require.NoError(t, m.Build())
	return items, docs, tracker.New(m)
}

func track(t *testing.T, tr *tracker.Tracker, entity any, isNew bool) *tracker.TrackedEntity {
	t.Helper()
	te, err := tr.Track(entity, false)
	require.NoError(t, err)
	if isNew {
		require.NoError(t, te.ConvertToNew())
	}
	return te
}

func TestInsertReadsBackGeneratedKey(t *testing.T) {
	_, _, tr := setup(t)
	rec := &recorder{returned: [][]any{{int64(41)}}}
	d := New(rec)
	it := &item{Name: "pen", Price: 2}

	require.NoError(t, d.Insert(context.Background(), track(t, tr, it, true)))
	require.Len(t, rec.commands, 1)
	cmd := rec.commands[0]
	assert.Equal(t, types.ActionInsert, cmd.Action)
	assert.Equal(t, "items", cmd.Table)
	assert.Equal(t, []types.Column{{Name: "Name", Value: "pen"}, {Name: "Price", Value: 2}, {Name: "note", Value: ""}}, cmd.Values)
	require.Len(t, cmd.Returning, 1)
	assert.Equal(t, "ID", cmd.Returning[0].Name)
	assert.Equal(t, int64(41), it.ID)

	d.RollbackAutoSync()
	assert.Zero(t, it.ID, "rollback restores the pre-insert value")
}

func TestInsertWithoutReturnedRow(t *testing.T) {
	_, _, tr := setup(t)
	d := New(&recorder{})
	err := d.Insert(context.Background(), track(t, tr, &item{}, true))
	assert.ErrorIs(t, err, types.ErrInsertAutoSyncFailed)
}

func TestUpdateWritesChangedMembers(t *testing.T) {
	_, _, tr := setup(t)
	rec := &recorder{}
	d := New(rec, WithTimeout(time.Second))
	it := &item{ID: 7, Name: "pen", Price: 10, Note: "a"}
	te := track(t, tr, it, false)
	it.Price = 11
	it.Note = "b"

	require.NoError(t, d.Update(context.Background(), te))
	cmd := rec.commands[0]
	assert.Equal(t, []types.Column{{Name: "ID", Value: int64(7)}}, cmd.Keys)
	assert.Equal(t, []types.Column{{Name: "Price", Value: 11}, {Name: "note", Value: "b"}}, cmd.Values)
	assert.Equal(t, []types.Column{{Name: "Price", Value: 10}}, cmd.Checks, "only changed members with a check")
	assert.True(t, rec.deadline, "statement runs under the command timeout")
}

func TestUpdateVersionCheck(t *testing.T) {
	_, _, tr := setup(t)
	rec := &recorder{returned: [][]any{{int64(4)}}}
	d := New(rec)
	dc := &doc{ID: "d", Body: "x", Version: 3}
	te := track(t, tr, dc, false)
	dc.Body = "y"

	require.NoError(t, d.Update(context.Background(), te))
	cmd := rec.commands[0]
	assert.Equal(t, []types.Column{{Name: "Version", Value: int64(3)}}, cmd.Checks)
	assert.Equal(t, []types.Column{{Name: "Body", Value: "y"}}, cmd.Values)
	assert.Equal(t, int64(4), dc.Version)
}

func TestUpdateConflict(t *testing.T) {
	_, _, tr := setup(t)
	d := New(&recorder{results: []types.Result{{RowsAffected: 0}}})
	it := &item{ID: 1, Price: 10}
	te := track(t, tr, it, false)
	it.Price = 11

	err := d.Update(context.Background(), te)
	assert.ErrorIs(t, err, types.ErrChangeConflict)
}

func TestDeleteDisambiguatesZeroRows(t *testing.T) {
	tests := []struct {
		name     string
		exists   bool
		conflict bool
	}{
		{"row still there", true, true},
		{"row already gone", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, tr := setup(t)
			rec := &recorder{results: []types.Result{{RowsAffected: 0}}, exists: tt.exists}
			d := New(rec)
			te := track(t, tr, &item{ID: 1}, false)
			require.NoError(t, te.ConvertToDeleted())

			err := d.Write(context.Background(), te)
			if tt.conflict {
				assert.ErrorIs(t, err, types.ErrChangeConflict)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, types.ActionDelete, rec.commands[0].Action)
		})
	}
}

func TestExecutorError(t *testing.T) {
	_, _, tr := setup(t)
	boom := errors.New("boom")
	d := New(&recorder{err: boom})
	te := track(t, tr, &item{ID: 1}, false)
	require.NoError(t, te.ConvertToDeleted())

	err := d.Delete(context.Background(), te)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, types.ErrChangeConflict)
}

func TestOverrides(t *testing.T) {
	items, _, tr := setup(t)
	var calls []string
	items.OnUpdate(func(_ context.Context, _ types.Executor, cur, orig *item) error {
		calls = append(calls, fmt.Sprintf("update %d->%d", orig.Price, cur.Price))
		return fmt.Errorf("stale row: %w", types.ErrChangeConflict)
	})
	items.OnDelete(func(_ context.Context, _ types.Executor, it *item) error {
		calls = append(calls, "delete")
		return nil
	})
	rec := &recorder{}
	d := New(rec)

	it := &item{ID: 1, Price: 1}
	te := track(t, tr, it, false)
	it.Price = 2
	assert.ErrorIs(t, d.Write(context.Background(), te), types.ErrChangeConflict)

	require.NoError(t, te.ConvertToDeleted())
	require.NoError(t, d.Write(context.Background(), te))
	assert.Equal(t, []string{"update 1->2", "delete"}, calls)
	assert.Empty(t, rec.commands, "overrides replace generated commands")
}
