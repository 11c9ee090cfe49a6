package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
)

type line struct {
	OrderID int64
	LineNo  int
	SKU     string
}

type tag struct {
	ID string
}

func lineType(t *testing.T) *schema.MetaType {
	t.Helper()
	m := schema.NewModel()
	lines := schema.Define[line](m, "lines")
	schema.Column(lines, "OrderID", func(l *line) int64 { return l.OrderID }, func(l *line, v int64) { l.OrderID = v }, schema.PrimaryKey())
	schema.Column(lines, "LineNo", func(l *line) int { return l.LineNo }, func(l *line, v int) { l.LineNo = v }, schema.PrimaryKey())
	schema.Column(lines, "SKU", func(l *line) string { return l.SKU }, func(l *line, v string) { l.SKU = v })
	tags := schema.Define[tag](m, "tags")
	schema.Column(tags, "ID", func(g *tag) string { return g.ID }, func(g *tag, v string) { g.ID = v }, schema.PrimaryKey())
	require.NoError(t, m.Build())
	return lines.Type()
}

func TestInsertLookupReturnsCanonicalInstance(t *testing.T) {
	mt := lineType(t)
	m := New()

	first := &line{OrderID: 1, LineNo: 1, SKU: "a"}
	second := &line{OrderID: 1, LineNo: 1, SKU: "b"}
	other := &line{OrderID: 1, LineNo: 2}

	assert.Same(t, first, m.InsertLookup(mt, first))
	assert.Same(t, first, m.InsertLookup(mt, second), "same key yields the cached instance")
	assert.Same(t, other, m.InsertLookup(mt, other))
	assert.Equal(t, 2, m.Len())
}

func TestFind(t *testing.T) {
	mt := lineType(t)
	m := New()
	l := &line{OrderID: 7, LineNo: 3}
	m.InsertLookup(mt, l)

	assert.Same(t, l, m.Find(mt, []any{int64(7), 3}))
	assert.Same(t, l, m.Find(mt, []any{7, 3}), "untyped constants convert to the key types")
	assert.Nil(t, m.Find(mt, []any{7, 4}))
	assert.Nil(t, m.Find(mt, []any{7}), "arity mismatch")
	assert.Nil(t, m.Find(mt, []any{nil, 3}))
	assert.Same(t, l, m.FindLike(mt, &line{OrderID: 7, LineNo: 3}))
}

func TestRemoveLike(t *testing.T) {
	mt := lineType(t)
	m := New()
	l := &line{OrderID: 1, LineNo: 1}
	m.InsertLookup(mt, l)

	assert.True(t, m.RemoveLike(mt, &line{OrderID: 1, LineNo: 1}))
	assert.False(t, m.RemoveLike(mt, l))
	assert.Nil(t, m.FindLike(mt, l))
	assert.Zero(t, m.Len())
}

func TestReadOnly(t *testing.T) {
	mt := lineType(t)
	var m Manager = NewReadOnly()
	l := &line{OrderID: 1, LineNo: 1}

	assert.Same(t, l, m.InsertLookup(mt, l))
	assert.Nil(t, m.Find(mt, []any{1, 1}))
	assert.Nil(t, m.FindLike(mt, l))
	assert.False(t, m.RemoveLike(mt, l))
}
