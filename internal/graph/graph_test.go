package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/unitofwork/internal/identity"
	"github.com/mesh-intelligence/unitofwork/internal/tracker"
	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

type customer struct {
	ID   int64
	Name string
}

type order struct {
	ID         string
	CustomerID *int64
	Customer   *customer
}

type nodeA struct {
	ID  int
	BID int
	B   *nodeB
}

type nodeB struct {
	ID  int
	AID int
	A   *nodeA
}

type desk struct {
	ID int
}

type employee struct {
	ID     int
	DeskID *int
	Desk   *desk
}

type fixture struct {
	model *schema.Model
	tr    *tracker.Tracker
	ids   *identity.Map
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := schema.NewModel()

	customers := schema.Define[customer](m, "customers")
	schema.Column(customers, "ID", func(c *customer) int64 { return c.ID }, func(c *customer, v int64) { c.ID = v },
		schema.PrimaryKey(), schema.DBGenerated())
	schema.Column(customers, "Name", func(c *customer) string { return c.Name }, func(c *customer, v string) { c.Name = v })

	orders := schema.Define[order](m, "orders")
	schema.Column(orders, "ID", func(o *order) string { return o.ID }, func(o *order, v string) { o.ID = v }, schema.PrimaryKey())
	schema.Column(orders, "CustomerID", func(o *order) *int64 { return o.CustomerID }, func(o *order, v *int64) { o.CustomerID = v })
	schema.BelongsTo(orders, "Customer", func(o *order) *customer { return o.Customer },
		func(o *order, c *customer) { o.Customer = c }, customers, []string{"CustomerID"}, nil)

	as := schema.Define[nodeA](m, "a")
	bs := schema.Define[nodeB](m, "b")
	schema.Column(as, "ID", func(a *nodeA) int { return a.ID }, func(a *nodeA, v int) { a.ID = v }, schema.PrimaryKey())
	schema.Column(as, "BID", func(a *nodeA) int { return a.BID }, func(a *nodeA, v int) { a.BID = v })
	schema.BelongsTo(as, "B", func(a *nodeA) *nodeB { return a.B }, func(a *nodeA, b *nodeB) { a.B = b }, bs, []string{"BID"}, nil)
	schema.Column(bs, "ID", func(b *nodeB) int { return b.ID }, func(b *nodeB, v int) { b.ID = v }, schema.PrimaryKey())
	schema.Column(bs, "AID", func(b *nodeB) int { return b.AID }, func(b *nodeB, v int) { b.AID = v })
	schema.BelongsTo(bs, "A", func(b *nodeB) *nodeA { return b.A }, func(b *nodeB, a *nodeA) { b.A = a }, as, []string{"AID"}, nil)

	desks := schema.Define[desk](m, "desks")
	schema.Column(desks, "ID", func(d *desk) int { return d.ID }, func(d *desk, v int) { d.ID = v }, schema.PrimaryKey())
	employees := schema.Define[employee](m, "employees")
	schema.Column(employees, "ID", func(e *employee) int { return e.ID }, func(e *employee, v int) { e.ID = v }, schema.PrimaryKey())
	schema.Column(employees, "DeskID", func(e *employee) *int { return e.DeskID }, func(e *employee, v *int) { e.DeskID = v })
	schema.BelongsTo(employees, "Desk", func(e *employee) *desk { return e.Desk },
		func(e *employee, d *desk) { e.Desk = d }, desks, []string{"DeskID"}, nil, schema.Unique())

	require.NoError(t, m.Build())
	return &fixture{model: m, tr: tracker.New(m), ids: identity.New()}
}

// persisted tracks entity as loaded from the database.
func (f *fixture) persisted(t *testing.T, entity any) *tracker.TrackedEntity {
	t.Helper()
	te, err := f.tr.Track(entity, false)
	require.NoError(t, err)
	f.ids.InsertLookup(te.Type(), entity)
	return te
}

func (f *fixture) added(t *testing.T, entity any) *tracker.TrackedEntity {
	t.Helper()
	te, err := f.tr.Track(entity, false)
	require.NoError(t, err)
	require.NoError(t, te.ConvertToNew())
	return te
}

func (f *fixture) order(t *testing.T) ([]*tracker.TrackedEntity, error) {
	t.Helper()
	items := f.tr.Interesting()
	edges := NewBuilder(f.tr, f.ids).Build(items)
	return Order(items, edges)
}

func currents(items []*tracker.TrackedEntity) []any {
	out := make([]any, len(items))
	for i, te := range items {
		out[i] = te.Current()
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestOrderInsertsParentFirst(t *testing.T) {
	f := newFixture(t)
	c := &customer{Name: "new"}
	o := &order{ID: "o1", Customer: c}
	f.added(t, o)
	f.added(t, c)

	got, err := f.order(t)
	require.NoError(t, err)
	assert.Equal(t, []any{c, o}, currents(got))
}

func TestOrderDeletesFormerChildrenFirst(t *testing.T) {
	f := newFixture(t)
	c := &customer{ID: 1}
	o := &order{ID: "o1", CustomerID: ptr(int64(1))}
	cte := f.persisted(t, c)
	ote := f.persisted(t, o)
	require.NoError(t, cte.ConvertToDeleted())
	require.NoError(t, ote.ConvertToDeleted())

	got, err := f.order(t)
	require.NoError(t, err)
	assert.Equal(t, []any{o, c}, currents(got), "the order referenced the customer through its foreign key")
}

func TestOrderReassignedChildBeforeParentDelete(t *testing.T) {
	f := newFixture(t)
	oldParent := &customer{ID: 1}
	newParent := &customer{ID: 2}
	o := &order{ID: "o1", CustomerID: ptr(int64(1)), Customer: oldParent}
	oldTE := f.persisted(t, oldParent)
	f.persisted(t, newParent)
	f.persisted(t, o)

	o.Customer = newParent
	require.NoError(t, oldTE.ConvertToDeleted())

	got, err := f.order(t)
	require.NoError(t, err)
	assert.Equal(t, []any{o, oldParent}, currents(got))
}

func TestOrderActionsAndKeys(t *testing.T) {
	f := newFixture(t)
	c3, c1, c2 := &customer{ID: 3}, &customer{ID: 1}, &customer{ID: 2}
	for _, c := range []*customer{c3, c1, c2} {
		te := f.persisted(t, c)
		require.NoError(t, te.ConvertToDeleted())
	}
	updated := &customer{ID: 9, Name: "a"}
	f.persisted(t, updated)
	updated.Name = "b"
	first, second := &customer{Name: "x"}, &customer{Name: "y"}
	f.added(t, first)
	f.added(t, second)

	got, err := f.order(t)
	require.NoError(t, err)
	assert.Equal(t, []any{first, second, updated, c1, c2, c3}, currents(got))
}

func TestOrderDetectsCycle(t *testing.T) {
	f := newFixture(t)
	a := &nodeA{ID: 1}
	b := &nodeB{ID: 1, A: a}
	a.B = b
	f.added(t, a)
	f.added(t, b)

	_, err := f.order(t)
	assert.ErrorIs(t, err, types.ErrCycleDetected)
}

func TestOrderDisplacedUniqueOccupantFirst(t *testing.T) {
	f := newFixture(t)
	d1, d2 := &desk{ID: 1}, &desk{ID: 2}
	f.persisted(t, d1)
	f.persisted(t, d2)
	mover := &employee{ID: 1, DeskID: ptr(1)}
	f.persisted(t, mover)

	mover.Desk = d2
	newcomer := &employee{ID: 2, Desk: d1}
	f.added(t, newcomer)

	got, err := f.order(t)
	require.NoError(t, err)
	assert.Equal(t, []any{mover, newcomer}, currents(got), "the previous occupant vacates the desk first")
}

func TestBuildEdges(t *testing.T) {
	f := newFixture(t)
	c := &customer{ID: 1}
	f.persisted(t, c)
	o := &order{ID: "o1", CustomerID: ptr(int64(1))}
	ote := f.added(t, o)

	b := NewBuilder(f.tr, f.ids)
	cte, _ := f.tr.Get(c)
	assoc := ote.Type().Associations()[0]
	assert.Same(t, cte, b.OtherItem(assoc, 0, ote, false), "unset reference resolves through the identity map")
	assert.Nil(t, b.OtherItem(assoc, 0, ote, true), "new entities have no baseline")

	edges := b.Build(f.tr.Interesting())
	assert.Same(t, cte, edges.CurrentParent(assoc, ote))
	assert.Empty(t, edges.OriginalChildren(cte))
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, compareValues(1, 2))
	assert.Equal(t, 1, compareValues("b", "a"))
	assert.Equal(t, 0, compareValues(int64(3), int64(3)))
	assert.Equal(t, -1, compareValues(nil, 1))
	assert.Equal(t, 0, compareValues(1, "a"))
	assert.Equal(t, -1, compareValues([2]int{1, 2}, [2]int{1, 3}))
}
