package tracker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
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

// profile requires its customer and is deleted when detached from it.
type profile struct {
	ID         int64
	CustomerID int64
	Bio        string
	Customer   *customer
}

// product announces changes before they happen.
type product struct {
	SKU   string
	Price int
	hooks []func()
}

func (p *product) OnChanging(hook func()) { p.hooks = append(p.hooks, hook) }

func (p *product) SetPrice(v int) {
	for _, h := range p.hooks {
		h()
	}
	p.Price = v
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
	schema.Column(products, "Price", func(p *product) int { return p.Price }, func(p *product, v int) { p.Price = v })

	shapes := schema.Define[shape](m, "shapes")
	schema.Column(shapes, "ID", func(s *shape) int { return s.ID }, func(s *shape, v int) { s.ID = v }, schema.PrimaryKey())
	schema.Column(shapes, "Kind", func(s *shape) string { return s.Kind }, func(s *shape, v string) { s.Kind = v }, schema.Discriminator())
	shapes.Inheritance("shape", true)
	circles := schema.Derive[circle](shapes, func(c *circle) *shape { return &c.shape }, "circle", false)
	schema.Column(circles, "Radius", func(c *circle) float64 { return c.Radius }, func(c *circle, v float64) { c.Radius = v })

	require.NoError(t, m.Build())
	return m
}

func ptr[T any](v T) *T { return &v }
