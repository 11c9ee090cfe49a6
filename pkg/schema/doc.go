// Package schema describes how Go entity types map to tables: their data
// members, identity and version members, foreign-key associations,
// single-table inheritance, write overrides and validation hooks.
//
// Types are registered explicitly with typed accessor closures instead of
// being discovered by reflection:
//
//	m := schema.NewModel()
//	customers := schema.Define[Customer](m, "customers")
//	schema.Column(customers, "ID", func(c *Customer) int64 { return c.ID },
//	    func(c *Customer, v int64) { c.ID = v }, schema.PrimaryKey(), schema.DBGenerated())
//	if err := m.Build(); err != nil { ... }
package schema
