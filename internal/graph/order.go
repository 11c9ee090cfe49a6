package graph

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/mesh-intelligence/unitofwork/internal/tracker"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

type visitState int

const (
	visiting visitState = iota + 1
	visited
)

// Order returns items in a statement order that never references a row
// before it is inserted and never deletes a row before the rows that
// referenced it. It fails with types.ErrCycleDetected when no such order
// exists.
func Order(items []*tracker.TrackedEntity, edges *Edges) ([]*tracker.TrackedEntity, error) {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(x, y int) int {
		return compareItems(items[x], x, items[y], y)
	})

	o := &orderer{
		edges: edges,
		state: make(map[*tracker.TrackedEntity]visitState, len(items)),
		list:  make([]*tracker.TrackedEntity, 0, len(items)),
	}
	for _, i := range idx {
		if err := o.visit(items[i]); err != nil {
			return nil, err
		}
	}
	return o.list, nil
}

type orderer struct {
	edges *Edges
	state map[*tracker.TrackedEntity]visitState
	list  []*tracker.TrackedEntity
}

func (o *orderer) visit(item *tracker.TrackedEntity) error {
	switch o.state[item] {
	case visiting:
		return fmt.Errorf("%s: %w", item, types.ErrCycleDetected)
	case visited:
		return nil
	}
	o.state[item] = visiting
	if item.IsInteresting() {
		if item.IsDeleted() {
			for _, child := range o.edges.OriginalChildren(item) {
				if child == item {
					continue
				}
				if err := o.visit(child); err != nil {
					return err
				}
			}
		} else {
			if err := o.visitParents(item); err != nil {
				return err
			}
		}
		o.list = append(o.list, item)
	}
	o.state[item] = visited
	return nil
}

func (o *orderer) visitParents(item *tracker.TrackedEntity) error {
	for _, a := range item.Type().Associations() {
		if !a.IsForeignKey || a.IsMany {
			continue
		}
		parent := o.edges.CurrentParent(a, item)
		if parent == nil {
			continue
		}
		if parent.IsNew() {
			if parent != item || item.Type().DBGeneratedIdentity() != nil {
				if err := o.visit(parent); err != nil {
					return err
				}
			}
			continue
		}
		if a.IsUnique || a.ThisKeyIsPrimaryKey {
			prev := o.edges.OriginalChild(a, parent)
			if prev != nil && parent != item {
				if err := o.visit(prev); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func actionRank(te *tracker.TrackedEntity) int {
	switch {
	case te.IsNew():
		return 0
	case te.IsDeleted():
		return 2
	default:
		return 1
	}
}

// compareItems orders inserts before updates before deletes. Inserts keep
// arrival order; other writes are grouped by type and sorted by key.
func compareItems(x *tracker.TrackedEntity, xi int, y *tracker.TrackedEntity, yi int) int {
	if x == y {
		return 0
	}
	if c := cmp.Compare(actionRank(x), actionRank(y)); c != 0 {
		return c
	}
	if x.IsNew() {
		return cmp.Compare(xi, yi)
	}
	if x.Type() != y.Type() {
		return cmp.Compare(x.Type().GoType().String(), y.Type().GoType().String())
	}
	xk := x.Type().KeyValues(x.Current())
	yk := y.Type().KeyValues(y.Current())
	for i := range xk {
		if c := compareValues(xk[i], yk[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(xi, yi)
}

// compareValues orders key values of the same member. Values without a
// natural order compare equal.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() != vb.Kind() {
		return 0
	}
	switch va.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmp.Compare(va.Int(), vb.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return cmp.Compare(va.Uint(), vb.Uint())
	case reflect.Float32, reflect.Float64:
		return cmp.Compare(va.Float(), vb.Float())
	case reflect.String:
		return cmp.Compare(va.String(), vb.String())
	case reflect.Bool:
		return cmp.Compare(boolRank(va.Bool()), boolRank(vb.Bool()))
	case reflect.Array:
		for i := 0; i < va.Len() && i < vb.Len(); i++ {
			if c := compareValues(va.Index(i).Interface(), vb.Index(i).Interface()); c != 0 {
				return c
			}
		}
	}
	return 0
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
