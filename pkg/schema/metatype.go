package schema

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// WriteFunc replaces the generated statement for one action. For inserts
// and deletes original is nil. Returning an error that wraps
// types.ErrChangeConflict reports an optimistic concurrency conflict.
type WriteFunc func(ctx context.Context, exec types.Executor, current, original any) error

// Validator inspects an entity before action is written. A non-nil error
// aborts the submission before any write is issued.
type Validator func(entity any, action types.ChangeAction) error

// MetaType describes one registered entity type.
type MetaType struct {
	name   string
	table  string
	model  *Model
	goType reflect.Type
	newFn  func() any

	base    *MetaType
	root    *MetaType
	derived []*MetaType
	up      func(any) any

	code      any
	hasCode   bool
	isDefault bool
	codes     map[any]*MetaType // root only
	defaultTy *MetaType         // root only

	declared       []*MetaMember
	declaredAssocs []*MetaAssociation

	members       []*MetaMember
	dataMembers   []*MetaMember
	identity      []*MetaMember
	version       *MetaMember
	discriminator *MetaMember
	generatedKey  *MetaMember
	associations  []*MetaAssociation
	byName        map[string]*MetaMember

	insertFn, updateFn, deleteFn WriteFunc
	validators                   []Validator
	rules                        []*rule
	onLoaded                     []func(any)
}

// Name returns the Go type name of the entity.
func (t *MetaType) Name() string { return t.name }

// Table returns the table the type is stored in. Derived types share the
// root's table.
func (t *MetaType) Table() string { return t.root.table }

// GoType returns the registered pointer type.
func (t *MetaType) GoType() reflect.Type { return t.goType }

// Model returns the model the type belongs to.
func (t *MetaType) Model() *Model { return t.model }

// New returns a pointer to a zero entity of this type.
func (t *MetaType) New() any { return t.newFn() }

// Root returns the root of the type's inheritance hierarchy, or the type
// itself.
func (t *MetaType) Root() *MetaType { return t.root }

// Base returns the type this type derives from, if any.
func (t *MetaType) Base() *MetaType { return t.base }

// HasInheritance reports whether the type takes part in a hierarchy.
func (t *MetaType) HasInheritance() bool { return t.root.hasCode || len(t.root.derived) > 0 }

// InheritanceCode returns the discriminator value for this type.
func (t *MetaType) InheritanceCode() (any, bool) { return t.code, t.hasCode }

// IsInheritanceDefault reports whether the type is used for unknown codes.
func (t *MetaType) IsInheritanceDefault() bool { return t.isDefault }

// TypeForCode returns the hierarchy member registered for code, falling back
// to the hierarchy's default type.
func (t *MetaType) TypeForCode(code any) *MetaType {
	r := t.root
	for c, mt := range r.codes {
		if Equal(c, code) {
			return mt
		}
	}
	return r.defaultTy
}

// Discriminator returns the inheritance discriminator member, if any.
func (t *MetaType) Discriminator() *MetaMember { return t.discriminator }

// DataMembers returns the persistent, non-association members in ordinal
// order.
func (t *MetaType) DataMembers() []*MetaMember { return t.dataMembers }

// Members returns all members, data and association, in ordinal order.
func (t *MetaType) Members() []*MetaMember { return t.members }

// Member returns the member with the given name.
func (t *MetaType) Member(name string) (*MetaMember, bool) {
	m, ok := t.byName[name]
	return m, ok
}

// IdentityMembers returns the primary key members in declaration order.
func (t *MetaType) IdentityMembers() []*MetaMember { return t.identity }

// VersionMember returns the row version member, if any.
func (t *MetaType) VersionMember() *MetaMember { return t.version }

// DBGeneratedIdentity returns the database-generated key member, if any.
func (t *MetaType) DBGeneratedIdentity() *MetaMember { return t.generatedKey }

// Associations returns the type's associations.
func (t *MetaType) Associations() []*MetaAssociation { return t.associations }

// HasUpdateCheck reports whether any non-key data member takes part in the
// concurrency predicate.
func (t *MetaType) HasUpdateCheck() bool {
	if t.version != nil {
		return true
	}
	for _, m := range t.dataMembers {
		if !m.IsPrimaryKey && m.UpdateCheck != types.CheckNever {
			return true
		}
	}
	return false
}

// InsertFunc returns the insert override, if any.
func (t *MetaType) InsertFunc() WriteFunc { return t.insertFn }

// UpdateFunc returns the update override, if any.
func (t *MetaType) UpdateFunc() WriteFunc { return t.updateFn }

// DeleteFunc returns the delete override, if any.
func (t *MetaType) DeleteFunc() WriteFunc { return t.deleteFn }

// Is reports whether entity is an instance of exactly this type.
func (t *MetaType) Is(entity any) bool {
	return entity != nil && reflect.TypeOf(entity) == t.goType
}

// KeyValues returns the identity member values of entity.
func (t *MetaType) KeyValues(entity any) []any {
	keys := make([]any, len(t.identity))
	for i, m := range t.identity {
		keys[i] = m.Get(entity)
	}
	return keys
}

// Copy returns a new instance holding entity's data member values.
// Associations are not copied.
func (t *MetaType) Copy(entity any) any {
	c := t.New()
	for _, m := range t.dataMembers {
		m.Set(c, m.Get(entity))
	}
	return c
}

// Validate runs the validators and rules declared for the type and its base
// types, base first. The first failure is returned as a
// *types.ValidationError.
func (t *MetaType) Validate(entity any, action types.ChangeAction) error {
	if t.base != nil {
		if err := t.base.Validate(t.up(entity), action); err != nil {
			return err
		}
	}
	for _, v := range t.validators {
		if err := v(entity, action); err != nil {
			var verr *types.ValidationError
			if errors.As(err, &verr) {
				return err
			}
			return &types.ValidationError{Type: t.name, Action: action, Message: err.Error(), Err: err}
		}
	}
	for _, r := range t.rules {
		if err := r.check(entity, action); err != nil {
			return &types.ValidationError{Type: t.name, Action: action, Rule: r.source, Message: err.Error(), Err: err}
		}
	}
	return nil
}

// Loaded runs the type's OnLoaded hooks, base first.
func (t *MetaType) Loaded(entity any) {
	if t.base != nil {
		t.base.Loaded(t.up(entity))
	}
	for _, fn := range t.onLoaded {
		fn(entity)
	}
}

func (t *MetaType) String() string { return t.name }

// build assembles the member lists. Base types must be built first.
func (t *MetaType) build() error {
	var members []*MetaMember
	if t.base != nil {
		for _, m := range t.base.members {
			members = append(members, m.adapt(t, t.up))
		}
	}
	members = append(members, t.declared...)

	t.members = nil
	t.dataMembers = nil
	t.identity = nil
	t.version = nil
	t.discriminator = nil
	t.generatedKey = nil
	t.byName = make(map[string]*MetaMember, len(members))
	for i, m := range members {
		if _, dup := t.byName[m.Name]; dup {
			return fmt.Errorf("%s: duplicate member %q", t.name, m.Name)
		}
		m.Ordinal = i
		m.resolveAutoSync()
		t.byName[m.Name] = m
		t.members = append(t.members, m)
		if m.IsAssociation() {
			continue
		}
		t.dataMembers = append(t.dataMembers, m)
		if m.IsPrimaryKey {
			t.identity = append(t.identity, m)
			if m.IsDBGenerated {
				t.generatedKey = m
			}
		}
		if m.IsVersion {
			if t.version != nil {
				return fmt.Errorf("%s: more than one version member", t.name)
			}
			t.version = m
		}
		if m.IsDiscriminator {
			t.discriminator = m
		}
	}
	if len(t.identity) == 0 {
		return fmt.Errorf("%s: no primary key member", t.name)
	}

	return nil
}

// buildAssociations assembles inherited and declared associations. Base
// types must be done first.
func (t *MetaType) buildAssociations() {
	var assocs []*MetaAssociation
	if t.base != nil {
		for _, a := range t.base.associations {
			assocs = append(assocs, a.adapt(t))
		}
	}
	assocs = append(assocs, t.declaredAssocs...)
	t.associations = assocs
}

// Resolve returns this type's member with the same name as m. It maps a
// member declared on a base type to the copy whose accessors accept this
// type's instances.
func (t *MetaType) Resolve(m *MetaMember) *MetaMember {
	if m == nil || m.DeclaringType == t {
		return m
	}
	if r, ok := t.byName[m.Name]; ok {
		return r
	}
	return m
}

// ResolveAll maps members with Resolve.
func (t *MetaType) ResolveAll(ms []*MetaMember) []*MetaMember {
	out := make([]*MetaMember, len(ms))
	for i, m := range ms {
		out[i] = t.Resolve(m)
	}
	return out
}
