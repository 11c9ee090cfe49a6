package schema

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// Table is the registration handle for entity type T.
type Table[T any] struct {
	mt *MetaType
}

// Define registers T, stored in table.
func Define[T any](m *Model, table string) *Table[T] {
	mt := &MetaType{
		name:   reflect.TypeFor[T]().Name(),
		table:  table,
		model:  m,
		goType: reflect.TypeFor[*T](),
		newFn:  func() any { return new(T) },
	}
	mt.root = mt
	m.register(mt)
	return &Table[T]{mt: mt}
}

// Type returns the MetaType being registered.
func (t *Table[T]) Type() *MetaType {
	return t.mt
}

// OnInsert replaces the generated insert.
func (t *Table[T]) OnInsert(fn func(ctx context.Context, exec types.Executor, e *T) error) *Table[T] {
	t.mt.insertFn = func(ctx context.Context, exec types.Executor, current, _ any) error {
		return fn(ctx, exec, current.(*T))
	}
	return t
}

// OnUpdate replaces the generated update. original holds the baseline
// values.
func (t *Table[T]) OnUpdate(fn func(ctx context.Context, exec types.Executor, current, original *T) error) *Table[T] {
	t.mt.updateFn = func(ctx context.Context, exec types.Executor, current, original any) error {
		var orig *T
		if original != nil {
			orig = original.(*T)
		}
		return fn(ctx, exec, current.(*T), orig)
	}
	return t
}

// OnDelete replaces the generated delete.
func (t *Table[T]) OnDelete(fn func(ctx context.Context, exec types.Executor, e *T) error) *Table[T] {
	t.mt.deleteFn = func(ctx context.Context, exec types.Executor, current, _ any) error {
		return fn(ctx, exec, current.(*T))
	}
	return t
}

// Validate adds a validation hook.
func (t *Table[T]) Validate(fn func(e *T, action types.ChangeAction) error) *Table[T] {
	t.mt.validators = append(t.mt.validators, func(entity any, action types.ChangeAction) error {
		return fn(entity.(*T), action)
	})
	return t
}

// OnLoaded adds a hook run after an entity is materialised from the
// backend or inserted.
func (t *Table[T]) OnLoaded(fn func(e *T)) *Table[T] {
	t.mt.onLoaded = append(t.mt.onLoaded, func(entity any) { fn(entity.(*T)) })
	return t
}

// Inheritance sets the discriminator value identifying T in its hierarchy.
// A default type is used for discriminator values no type claims.
func (t *Table[T]) Inheritance(code any, isDefault bool) *Table[T] {
	t.mt.code = code
	t.mt.hasCode = true
	t.mt.isDefault = isDefault
	return t
}

// Column registers a data member of T with typed accessors.
func Column[T, V any](t *Table[T], name string, get func(*T) V, set func(*T, V), opts ...MemberOption) *MetaMember {
	m := &MetaMember{
		Name:          name,
		Column:        name,
		DeclaringType: t.mt,
		valueType:     reflect.TypeFor[V](),
		get:           func(e any) any { return get(e.(*T)) },
		set:           func(e, v any) { set(e.(*T), convert[V](v)) },
		scan:          func() any { return new(V) },
		deref:         func(p any) any { return *(p.(*V)) },
		coerce: func(v any) (any, bool) {
			x, ok := tryConvert[V](v)
			return x, ok
		},
	}
	if k := m.valueType.Kind(); k == reflect.Pointer || k == reflect.Slice || k == reflect.Map {
		m.CanBeNull = true
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.IsPrimaryKey && !comparableKey[V]() {
		t.mt.model.fail("%s.%s: key member type %s is not a comparable value type", t.mt.name, name, m.valueType)
	}
	t.mt.declared = append(t.mt.declared, m)
	return m
}

// BelongsTo registers a foreign-key association from T to P. thisKey names
// T's foreign-key members; otherKey names P's referenced members and
// defaults to P's primary key.
func BelongsTo[T, P any](t *Table[T], name string, get func(*T) *P, set func(*T, *P), other *Table[P], thisKey, otherKey []string, opts ...AssociationOption) *MetaAssociation {
	m := &MetaMember{
		Name:          name,
		Column:        name,
		DeclaringType: t.mt,
		valueType:     reflect.TypeFor[*P](),
		get: func(e any) any {
			if p := get(e.(*T)); p != nil {
				return p
			}
			return nil
		},
		set: func(e, v any) {
			p, _ := v.(*P)
			set(e.(*T), p)
		},
	}
	a := &MetaAssociation{
		Name:          name,
		ThisType:      t.mt,
		OtherType:     other.mt,
		ThisMember:    m,
		IsForeignKey:  true,
		thisKeyNames:  thisKey,
		otherKeyNames: otherKey,
	}
	return declareAssociation(t.mt, m, a, opts)
}

// HasOne registers the non-owning side of a one-to-one relationship: C holds
// otherKey members referencing T's thisKey (defaulting to T's primary key).
func HasOne[T, C any](t *Table[T], name string, get func(*T) *C, set func(*T, *C), other *Table[C], thisKey, otherKey []string, opts ...AssociationOption) *MetaAssociation {
	m := &MetaMember{
		Name:          name,
		Column:        name,
		DeclaringType: t.mt,
		valueType:     reflect.TypeFor[*C](),
		get: func(e any) any {
			if c := get(e.(*T)); c != nil {
				return c
			}
			return nil
		},
		set: func(e, v any) {
			c, _ := v.(*C)
			set(e.(*T), c)
		},
	}
	a := &MetaAssociation{
		Name:          name,
		ThisType:      t.mt,
		OtherType:     other.mt,
		ThisMember:    m,
		IsUnique:      true,
		thisKeyNames:  thisKey,
		otherKeyNames: otherKey,
	}
	return declareAssociation(t.mt, m, a, opts)
}

// HasMany registers a one-to-many collection: each C holds otherKey members
// referencing T's thisKey (defaulting to T's primary key).
func HasMany[T, C any](t *Table[T], name string, get func(*T) []*C, set func(*T, []*C), other *Table[C], thisKey, otherKey []string, opts ...AssociationOption) *MetaAssociation {
	m := &MetaMember{
		Name:          name,
		Column:        name,
		DeclaringType: t.mt,
		valueType:     reflect.TypeFor[[]*C](),
		get:           func(e any) any { return get(e.(*T)) },
		set:           func(e, v any) { set(e.(*T), convert[[]*C](v)) },
		items: func(o any) []any {
			src := get(o.(*T))
			out := make([]any, 0, len(src))
			for _, c := range src {
				if c != nil {
					out = append(out, c)
				}
			}
			return out
		},
		remove: func(o, item any) {
			c, ok := item.(*C)
			if !ok {
				return
			}
			owner := o.(*T)
			set(owner, slices.DeleteFunc(get(owner), func(x *C) bool { return x == c }))
		},
		add: func(o, item any) {
			c, ok := item.(*C)
			if !ok {
				return
			}
			owner := o.(*T)
			if !slices.Contains(get(owner), c) {
				set(owner, append(get(owner), c))
			}
		},
	}
	a := &MetaAssociation{
		Name:          name,
		ThisType:      t.mt,
		OtherType:     other.mt,
		ThisMember:    m,
		IsMany:        true,
		thisKeyNames:  thisKey,
		otherKeyNames: otherKey,
	}
	return declareAssociation(t.mt, m, a, opts)
}

func declareAssociation(mt *MetaType, m *MetaMember, a *MetaAssociation, opts []AssociationOption) *MetaAssociation {
	m.Association = a
	for _, opt := range opts {
		opt(a)
	}
	if a.IsForeignKey && len(a.thisKeyNames) == 0 {
		mt.model.fail("association %s: foreign key members are required", a)
	}
	if !a.IsForeignKey && len(a.otherKeyNames) == 0 {
		mt.model.fail("association %s: other key members are required", a)
	}
	mt.declared = append(mt.declared, m)
	mt.declaredAssocs = append(mt.declaredAssocs, a)
	return a
}

// Derive registers D as a subtype of B in single-table inheritance. up
// returns the embedded base value of a D. D inherits B's members and
// associations and is stored in the root's table.
func Derive[D, B any](base *Table[B], up func(*D) *B, code any, isDefault bool) *Table[D] {
	b := base.mt
	mt := &MetaType{
		name:      reflect.TypeFor[D]().Name(),
		model:     b.model,
		goType:    reflect.TypeFor[*D](),
		newFn:     func() any { return new(D) },
		base:      b,
		root:      b.root,
		up:        func(e any) any { return up(e.(*D)) },
		code:      code,
		hasCode:   true,
		isDefault: isDefault,
	}
	b.derived = append(b.derived, mt)
	b.model.register(mt)
	return &Table[D]{mt: mt}
}

func (t *MetaType) buildInheritance() error {
	if t.root != t || !t.HasInheritance() {
		return nil
	}
	if t.discriminator == nil {
		return fmt.Errorf("%s: inheritance hierarchy has no discriminator member", t.name)
	}
	t.codes = make(map[any]*MetaType)
	var walk func(*MetaType) error
	walk = func(mt *MetaType) error {
		if mt.hasCode {
			for c, other := range t.codes {
				if Equal(c, mt.code) {
					return fmt.Errorf("%s: inheritance code %v used by %s and %s", t.name, c, other.name, mt.name)
				}
			}
			t.codes[mt.code] = mt
		}
		if mt.isDefault {
			if t.defaultTy != nil {
				return fmt.Errorf("%s: more than one default inheritance type", t.name)
			}
			t.defaultTy = mt
		}
		for _, d := range mt.derived {
			if err := walk(d); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(t); err != nil {
		return err
	}
	if t.defaultTy == nil {
		t.defaultTy = t
	}
	return nil
}
