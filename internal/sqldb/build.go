package sqldb

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// statement is a query and its bind arguments.
type statement struct {
	query string
	args  []any
}

type builder struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return b.d.bind(len(b.args))
}

func (b *builder) where(keys, checks []types.Column) {
	b.sb.WriteString(" WHERE ")
	for i, c := range append(append([]types.Column(nil), keys...), checks...) {
		if i > 0 {
			b.sb.WriteString(" AND ")
		}
		if schema.IsNull(c.Value) {
			fmt.Fprintf(&b.sb, "%s IS NULL", b.d.Quote(c.Name))
			continue
		}
		fmt.Fprintf(&b.sb, "%s = %s", b.d.Quote(c.Name), b.bind(c.Value))
	}
}

func (b *builder) returning(rs []types.Returning) {
	if len(rs) == 0 {
		return
	}
	b.sb.WriteString(" RETURNING ")
	for i, r := range rs {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.sb.WriteString(b.d.Quote(r.Name))
	}
}

func (b *builder) statement() statement {
	return statement{query: b.sb.String(), args: b.args}
}

// buildCommand renders a single-row insert, update or delete.
func buildCommand(d Dialect, cmd types.Command) (statement, error) {
	b := &builder{d: d}
	table := d.Quote(cmd.Table)
	switch cmd.Action {
	case types.ActionInsert:
		if len(cmd.Values) == 0 {
			fmt.Fprintf(&b.sb, "INSERT INTO %s DEFAULT VALUES", table)
			break
		}
		cols := make([]string, len(cmd.Values))
		binds := make([]string, len(cmd.Values))
		for i, c := range cmd.Values {
			cols[i] = d.Quote(c.Name)
			binds[i] = b.bind(c.Value)
		}
		fmt.Fprintf(&b.sb, "INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(binds, ", "))
	case types.ActionUpdate:
		if len(cmd.Keys) == 0 {
			return statement{}, fmt.Errorf("update %s: no key columns", cmd.Table)
		}
		fmt.Fprintf(&b.sb, "UPDATE %s SET ", table)
		if len(cmd.Values) == 0 {
			// SQL has no empty SET list.
			k := d.Quote(cmd.Keys[0].Name)
			fmt.Fprintf(&b.sb, "%s = %s", k, k)
		}
		for i, c := range cmd.Values {
			if i > 0 {
				b.sb.WriteString(", ")
			}
			fmt.Fprintf(&b.sb, "%s = %s", d.Quote(c.Name), b.bind(c.Value))
		}
		b.where(cmd.Keys, cmd.Checks)
	case types.ActionDelete:
		if len(cmd.Keys) == 0 {
			return statement{}, fmt.Errorf("delete %s: no key columns", cmd.Table)
		}
		fmt.Fprintf(&b.sb, "DELETE FROM %s", table)
		b.where(cmd.Keys, cmd.Checks)
	default:
		return statement{}, fmt.Errorf("unsupported action %s", cmd.Action)
	}
	b.returning(cmd.Returning)
	return b.statement(), nil
}

// buildExists renders a query returning a row only when the key matches.
func buildExists(d Dialect, l types.Lookup) statement {
	b := &builder{d: d}
	fmt.Fprintf(&b.sb, "SELECT 1 FROM %s", d.Quote(l.Table))
	b.where(l.Keys, nil)
	b.sb.WriteString(" LIMIT 1")
	return b.statement()
}

// buildFetch renders a by-key select of the lookup's columns.
func buildFetch(d Dialect, l types.Lookup) statement {
	b := &builder{d: d}
	cols := make([]string, len(l.Columns))
	for i, c := range l.Columns {
		cols[i] = d.Quote(c)
	}
	fmt.Fprintf(&b.sb, "SELECT %s FROM %s", strings.Join(cols, ", "), d.Quote(l.Table))
	b.where(l.Keys, nil)
	return b.statement()
}
