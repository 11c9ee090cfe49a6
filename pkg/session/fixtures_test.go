package session

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/unitofwork/pkg/memory"
	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

type customer struct {
	ID      int64
	Name    string
	Version int64
	Orders  []*order
	Profile *profile
}

type order struct {
	ID         string
	CustomerID *int64
	Total      float64
	Customer   *customer
}

// profile is deleted when detached from its customer.
type profile struct {
	ID         int64
	CustomerID int64
	Bio        string
	Customer   *customer
}

type product struct {
	SKU   string
	Name  string
	Price int
}

type shape struct {
	ID   int
	Kind string
}

type circle struct {
	shape
	Radius float64
}

func testModel(t *testing.T) *schema.Model {
	t.Helper()
	m := schema.NewModel()

	customers := schema.Define[customer](m, "customers")
	schema.Column(customers, "ID", func(c *customer) int64 { return c.ID }, func(c *customer, v int64) { c.ID = v },
		schema.PrimaryKey(), schema.DBGenerated())
	schema.Column(customers, "Name", func(c *customer) string { return c.Name }, func(c *customer, v string) { c.Name = v })
	schema.Column(customers, "Version", func(c *customer) int64 { return c.Version }, func(c *customer, v int64) { c.Version = v },
		schema.Version())

	orders := schema.Define[order](m, "orders")
	schema.Column(orders, "ID", func(o *order) string { return o.ID }, func(o *order, v string) { o.ID = v },
		schema.PrimaryKey(), schema.UUIDv7())
	schema.Column(orders, "CustomerID", func(o *order) *int64 { return o.CustomerID }, func(o *order, v *int64) { o.CustomerID = v })
	schema.Column(orders, "Total", func(o *order) float64 { return o.Total }, func(o *order, v float64) { o.Total = v })
	schema.BelongsTo(orders, "Customer", func(o *order) *customer { return o.Customer },
		func(o *order, c *customer) { o.Customer = c }, customers, []string{"CustomerID"}, nil)
	schema.HasMany(customers, "Orders", func(c *customer) []*order { return c.Orders },
		func(c *customer, v []*order) { c.Orders = v }, orders, nil, []string{"CustomerID"})

	profiles := schema.Define[profile](m, "profiles")
	schema.Column(profiles, "ID", func(p *profile) int64 { return p.ID }, func(p *profile, v int64) { p.ID = v }, schema.PrimaryKey())
	schema.Column(profiles, "CustomerID", func(p *profile) int64 { return p.CustomerID }, func(p *profile, v int64) { p.CustomerID = v })
	schema.Column(profiles, "Bio", func(p *profile) string { return p.Bio }, func(p *profile, v string) { p.Bio = v })
	schema.BelongsTo(profiles, "Customer", func(p *profile) *customer { return p.Customer },
		func(p *profile, c *customer) { p.Customer = c }, customers, []string{"CustomerID"}, nil,
		schema.Unique(), schema.DeleteOnNull())
	schema.HasOne(customers, "Profile", func(c *customer) *profile { return c.Profile },
		func(c *customer, p *profile) { c.Profile = p }, profiles, nil, []string{"CustomerID"})

	products := schema.Define[product](m, "products")
	schema.Column(products, "SKU", func(p *product) string { return p.SKU }, func(p *product, v string) { p.SKU = v }, schema.PrimaryKey())
	schema.Column(products, "Name", func(p *product) string { return p.Name }, func(p *product, v string) { p.Name = v })
	schema.Column(products, "Price", func(p *product) int { return p.Price }, func(p *product, v int) { p.Price = v })
	products.Rule("Price >= 0", types.ActionInsert, types.ActionUpdate)

	shapes := schema.Define[shape](m, "shapes")
	schema.Column(shapes, "ID", func(s *shape) int { return s.ID }, func(s *shape, v int) { s.ID = v }, schema.PrimaryKey())
	schema.Column(shapes, "Kind", func(s *shape) string { return s.Kind }, func(s *shape, v string) { s.Kind = v }, schema.Discriminator())
	shapes.Inheritance("shape", true)
	circles := schema.Derive[circle](shapes, func(c *circle) *shape { return &c.shape }, "circle", false)
	schema.Column(circles, "Radius", func(c *circle) float64 { return c.Radius }, func(c *circle, v float64) { c.Radius = v })

	require.NoError(t, m.Build())
	return m
}

func newSession(t *testing.T, opts ...Option) (*Session, *memory.Provider) {
	t.Helper()
	m := testModel(t)
	p := memory.New(m)
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	s, err := New(p, m, opts...)
	require.NoError(t, err)
	return s, p
}

// execute writes directly to the provider, standing in for another user.
func execute(t *testing.T, p *memory.Provider, cmd types.Command) {
	t.Helper()
	res, err := p.Execute(context.Background(), cmd)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.RowsAffected)
}

func seedProduct(t *testing.T, p *memory.Provider, sku, name string, price int) {
	t.Helper()
	execute(t, p, types.Command{
		Action: types.ActionInsert,
		Table:  "products",
		Values: []types.Column{{Name: "SKU", Value: sku}, {Name: "Name", Value: name}, {Name: "Price", Value: price}},
	})
}

func seedCustomer(t *testing.T, p *memory.Provider, name string) int64 {
	t.Helper()
	var id int64
	_, err := p.Execute(context.Background(), types.Command{
		Action:    types.ActionInsert,
		Table:     "customers",
		Values:    []types.Column{{Name: "Name", Value: name}},
		Returning: []types.Returning{{Name: "ID", Target: &id}},
	})
	require.NoError(t, err)
	return id
}

func setPrice(t *testing.T, p *memory.Provider, sku string, price int) {
	t.Helper()
	execute(t, p, types.Command{
		Action: types.ActionUpdate,
		Table:  "products",
		Values: []types.Column{{Name: "Price", Value: price}},
		Keys:   []types.Column{{Name: "SKU", Value: sku}},
	})
}

func statements(cmds []types.Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Action.String() + " " + c.Table
	}
	return out
}
