package memory

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
)

type row map[string]any

type foreignKey struct {
	columns    []string
	refTable   string
	refColumns []string
}

func (fk foreignKey) String() string {
	return fmt.Sprintf("(%s) -> %s(%s)", strings.Join(fk.columns, ", "), fk.refTable, strings.Join(fk.refColumns, ", "))
}

// table holds the constraints and rows of one mapped table.
type table struct {
	name     string
	key      []string
	identity string
	version  string
	fks      []foreignKey
	unique   [][]string
	rows     []*record
	seq      int64
	members  map[string]*schema.MetaMember
}

// tablesFor derives one table per inheritance root of model. Foreign keys
// come from the owning side of associations; unique constraints from
// one-to-one associations.
func tablesFor(model *schema.Model) map[string]*table {
	tables := make(map[string]*table)
	for _, mt := range model.Types() {
		if mt.Root() != mt {
			continue
		}
		t := &table{name: mt.Table(), members: make(map[string]*schema.MetaMember)}
		for _, m := range mt.IdentityMembers() {
			t.key = append(t.key, m.Column)
		}
		if m := mt.DBGeneratedIdentity(); m != nil {
			t.identity = m.Column
		}
		if m := mt.VersionMember(); m != nil {
			t.version = m.Column
		}
		tables[t.name] = t
	}

	seen := make(map[string]bool)
	addUnique := func(t *table, cols []string) {
		id := t.name + ":" + strings.Join(cols, ",")
		if !seen[id] {
			seen[id] = true
			t.unique = append(t.unique, cols)
		}
	}
	for _, mt := range model.Types() {
		t := tables[mt.Table()]
		for _, m := range mt.DataMembers() {
			if _, ok := t.members[m.Column]; !ok {
				t.members[m.Column] = m
			}
		}
		for _, a := range mt.Associations() {
			switch {
			case a.IsForeignKey:
				fk := foreignKey{columns: columns(a.ThisKey), refTable: a.OtherType.Table(), refColumns: columns(a.OtherKey)}
				if id := t.name + ":" + fk.String(); !seen[id] {
					seen[id] = true
					t.fks = append(t.fks, fk)
				}
				if a.IsUnique {
					addUnique(t, fk.columns)
				}
			case a.IsUnique:
				if other, ok := tables[a.OtherType.Table()]; ok {
					addUnique(other, columns(a.OtherKey))
				}
			}
		}
	}
	return tables
}

func columns(ms []*schema.MetaMember) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Column
	}
	return out
}

// record is one stored row. Rows are compared by pointer.
type record struct {
	cols row
}

// matches reports whether the record holds every value in cols.
func (r *record) matches(cols []string, values []any) bool {
	for i, c := range cols {
		if !equalValues(r.cols[c], values[i]) {
			return false
		}
	}
	return true
}

// values returns the record's values for cols and whether all are non-null.
func (r *record) values(cols []string) ([]any, bool) {
	out := make([]any, len(cols))
	complete := true
	for i, c := range cols {
		if out[i] = r.cols[c]; out[i] == nil {
			complete = false
		}
	}
	return out, complete
}

func (t *table) find(cols []string, values []any) (int, *record) {
	for i, r := range t.rows {
		if r.matches(cols, values) {
			return i, r
		}
	}
	return -1, nil
}

func (t *table) indexOf(r *record) int {
	return slices.Index(t.rows, r)
}

// checkUnique rejects r when another row shares its key or one of its
// unique column sets.
func (t *table) checkUnique(r *record) error {
	sets := append([][]string{t.key}, t.unique...)
	for _, cols := range sets {
		vals, complete := r.values(cols)
		if !complete {
			continue
		}
		for _, other := range t.rows {
			if other != r && other.matches(cols, vals) {
				return fmt.Errorf("%s(%s) = %v: %w", t.name, strings.Join(cols, ", "), vals, ErrUniqueViolation)
			}
		}
	}
	return nil
}
