package schema

import (
	"fmt"
	"slices"
)

// MetaAssociation describes a relationship between two entity types from
// the point of view of ThisType. The foreign-key side owns ThisKey members
// that hold OtherType's OtherKey values.
type MetaAssociation struct {
	Name      string
	ThisType  *MetaType
	OtherType *MetaType

	// ThisMember is the association member on ThisType. OtherMember is the
	// inverse association member on OtherType, nil when the relationship is
	// one-directional.
	ThisMember  *MetaMember
	OtherMember *MetaMember

	ThisKey  []*MetaMember
	OtherKey []*MetaMember

	IsForeignKey bool
	IsMany       bool
	IsNullable   bool
	IsUnique     bool
	DeleteOnNull bool

	ThisKeyIsPrimaryKey  bool
	OtherKeyIsPrimaryKey bool

	thisKeyNames  []string
	otherKeyNames []string
	inverse       string
}

// AssociationOption configures an association.
type AssociationOption func(*MetaAssociation)

// Unique marks a one-to-one relationship: at most one entity on the
// foreign-key side may reference a given other entity.
func Unique() AssociationOption {
	return func(a *MetaAssociation) { a.IsUnique = true }
}

// DeleteOnNull deletes the foreign-key side entity when its reference is set
// to nil. It requires a non-nullable foreign key.
func DeleteOnNull() AssociationOption {
	return func(a *MetaAssociation) { a.DeleteOnNull = true }
}

// Inverse names the association member on the other type that points back.
// Without it the inverse is found by matching key names.
func Inverse(member string) AssociationOption {
	return func(a *MetaAssociation) { a.inverse = member }
}

func (a *MetaAssociation) String() string {
	return a.ThisType.name + "." + a.Name
}

func memberNames(ms []*MetaMember) []string {
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.Name
	}
	return names
}

func lookupMembers(t *MetaType, names []string) ([]*MetaMember, error) {
	out := make([]*MetaMember, len(names))
	for i, n := range names {
		m, ok := t.byName[n]
		if !ok || m.IsAssociation() {
			return nil, fmt.Errorf("%s: no data member %q", t.name, n)
		}
		out[i] = m
	}
	return out, nil
}

func isIdentity(t *MetaType, ms []*MetaMember) bool {
	if len(ms) != len(t.identity) {
		return false
	}
	for _, m := range ms {
		if !m.IsPrimaryKey {
			return false
		}
	}
	return true
}

func (a *MetaAssociation) resolveKeys() error {
	thisNames, otherNames := a.thisKeyNames, a.otherKeyNames
	if len(thisNames) == 0 {
		thisNames = memberNames(a.ThisType.identity)
	}
	if len(otherNames) == 0 {
		otherNames = memberNames(a.OtherType.identity)
	}
	var err error
	if a.ThisKey, err = lookupMembers(a.ThisType, thisNames); err != nil {
		return fmt.Errorf("association %s: %w", a, err)
	}
	if a.OtherKey, err = lookupMembers(a.OtherType, otherNames); err != nil {
		return fmt.Errorf("association %s: %w", a, err)
	}
	if len(a.ThisKey) != len(a.OtherKey) {
		return fmt.Errorf("association %s: key arity mismatch (%d vs %d)", a, len(a.ThisKey), len(a.OtherKey))
	}
	a.ThisKeyIsPrimaryKey = isIdentity(a.ThisType, a.ThisKey)
	a.OtherKeyIsPrimaryKey = isIdentity(a.OtherType, a.OtherKey)
	a.IsNullable = true
	for _, m := range a.ThisKey {
		if !m.CanBeNull {
			a.IsNullable = false
		}
	}
	if a.DeleteOnNull && (!a.IsForeignKey || a.IsNullable) {
		return fmt.Errorf("association %s: delete-on-null requires a non-nullable foreign key", a)
	}
	return nil
}

func (a *MetaAssociation) resolveInverse() error {
	other := a.OtherType
	if a.inverse != "" {
		m, ok := other.byName[a.inverse]
		if !ok || !m.IsAssociation() {
			return fmt.Errorf("association %s: inverse %q is not an association of %s", a, a.inverse, other.name)
		}
		a.OtherMember = m
		return nil
	}
	for _, b := range other.declaredAssocs {
		if b == a || b.OtherType.root != a.ThisType.root || b.IsForeignKey == a.IsForeignKey {
			continue
		}
		if slices.Equal(memberNames(b.ThisKey), memberNames(a.OtherKey)) &&
			slices.Equal(memberNames(b.OtherKey), memberNames(a.ThisKey)) {
			a.OtherMember = b.ThisMember
			return nil
		}
	}
	return nil
}

// adapt copies an inherited association for a derived type.
func (a *MetaAssociation) adapt(t *MetaType) *MetaAssociation {
	c := *a
	c.ThisType = t
	c.ThisKey = t.ResolveAll(a.ThisKey)
	c.ThisMember = t.Resolve(a.ThisMember)
	c.ThisMember.Association = &c
	return &c
}

// OtherKeyFor returns OtherKey resolved against the concrete type of the
// other entity.
func (a *MetaAssociation) OtherKeyFor(t *MetaType) []*MetaMember {
	return t.ResolveAll(a.OtherKey)
}

// OtherMemberFor returns OtherMember resolved against the concrete type of
// the other entity.
func (a *MetaAssociation) OtherMemberFor(t *MetaType) *MetaMember {
	return t.Resolve(a.OtherMember)
}

// Ref returns the entity referenced by a singleton association of entity,
// or nil.
func (a *MetaAssociation) Ref(entity any) any {
	return a.ThisMember.Get(entity)
}
