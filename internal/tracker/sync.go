package tracker

import (
	"fmt"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// SynchDependentData copies parent key values into the entity's foreign-key
// members, nulls the foreign keys of explicitly nulled nullable references
// and sets or checks the inheritance discriminator. It reports whether any
// member value was written.
func (te *TrackedEntity) SynchDependentData() (bool, error) {
	written := false
	for i, a := range te.typ.Associations() {
		if !a.IsForeignKey || a.IsMany {
			continue
		}
		ref := a.Ref(te.current)
		if ref != nil {
			otherType, err := te.tracker.model.TypeOf(ref)
			if err != nil {
				return written, err
			}
			otherKey := a.OtherKeyFor(otherType)
			for k, m := range a.ThisKey {
				v := otherKey[k].Get(ref)
				if !m.Equal(m.Get(te.current), v) {
					m.Set(te.current, v)
					written = true
				}
			}
			continue
		}
		if !te.IsExplicitlyNulled(i) {
			continue
		}
		if !a.IsNullable {
			return written, fmt.Errorf("%s.%s references %s: %w",
				te.typ.Name(), a.Name, a.OtherType.Name(), types.ErrCannotRemoveRelationship)
		}
		for _, m := range a.ThisKey {
			if !m.CanBeNull {
				continue
			}
			if te.original != nil && te.HasChangedValue(m) {
				if !schema.IsNull(m.Get(te.current)) {
					return written, fmt.Errorf("%s.%s and %s.%s: %w",
						te.typ.Name(), m.Name, te.typ.Name(), a.Name, types.ErrInconsistentAssociationKey)
				}
				continue
			}
			if !schema.IsNull(m.Get(te.current)) {
				m.Set(te.current, nil)
				written = true
			}
		}
	}

	if te.typ.HasInheritance() {
		d := te.typ.Discriminator()
		if te.original != nil {
			now := te.typ.TypeForCode(d.Get(te.current))
			was := te.typ.TypeForCode(d.Get(te.original))
			if now != was {
				return written, fmt.Errorf("%s from %s to %s: %w", te.typ.Name(), was, now, types.ErrCannotChangeInheritanceType)
			}
		} else if code, ok := te.typ.InheritanceCode(); ok && !d.Equal(d.Get(te.current), code) {
			d.Set(te.current, code)
			written = true
		}
	}
	return written, nil
}

// ValidateModifications rejects changes to key, version and
// database-generated members.
func (te *TrackedEntity) ValidateModifications() error {
	if te.original == nil || te.pendingSnapshot() {
		return nil
	}
	for _, m := range te.typ.DataMembers() {
		if !te.HasChangedValue(m) {
			continue
		}
		switch {
		case m.IsPrimaryKey:
			return fmt.Errorf("%s.%s: %w", te.typ.Name(), m.Name, types.ErrIdentityChangeNotAllowed)
		case m.IsDBGenerated || m.IsVersion:
			return fmt.Errorf("%s.%s: %w", te.typ.Name(), m.Name, types.ErrDBGeneratedChangeNotAllowed)
		}
	}
	return nil
}

// Refresh merges fresh database values into the entity according to mode
// and makes them the new baseline. Database-generated members are always
// overwritten.
func (te *TrackedEntity) Refresh(mode types.RefreshMode, fresh any) error {
	if !te.state.in(StatePossiblyModified, StateModified, StateDeleted) {
		return fmt.Errorf("refresh %s in state %s: %w", te.typ.Name(), te.state, types.ErrInvalidStateTransition)
	}
	for _, m := range te.typ.DataMembers() {
		switch {
		case m.IsDBGenerated, mode == types.OverwriteCurrentValues:
			m.Set(te.current, m.Get(fresh))
		case mode == types.KeepChanges && !te.HasChangedValue(m):
			m.Set(te.current, m.Get(fresh))
		}
	}
	te.original = te.typ.Copy(fresh)
	if mode == types.OverwriteCurrentValues {
		te.clearDirty()
	}
	return nil
}

// GenerateKeys assigns generated values to zero members of a new entity.
func (te *TrackedEntity) GenerateKeys() bool {
	if te.state != StateNew {
		return false
	}
	generated := false
	for _, m := range te.typ.DataMembers() {
		if !schema.IsZero(m.Get(te.current)) {
			continue
		}
		if v, ok := m.Generated(); ok {
			m.Set(te.current, v)
			generated = true
		}
	}
	return generated
}

// RefreshMember makes value the baseline of m and, depending on mode,
// its current value: always for OverwriteCurrentValues, only when m is
// unchanged for KeepChanges, never for KeepCurrentValues.
func (te *TrackedEntity) RefreshMember(m *schema.MetaMember, mode types.RefreshMode, value any) error {
	if !te.state.in(StatePossiblyModified, StateModified, StateDeleted) {
		return fmt.Errorf("refresh %s.%s in state %s: %w", te.typ.Name(), m.Name, te.state, types.ErrInvalidStateTransition)
	}
	m = te.typ.Resolve(m)
	if te.pendingSnapshot() {
		te.original = te.typ.Copy(te.current)
	}
	switch {
	case mode == types.OverwriteCurrentValues:
		m.Set(te.current, value)
		te.dirty[m.Ordinal] = false
	case mode == types.KeepChanges && !te.HasChangedValue(m):
		m.Set(te.current, value)
	}
	m.Set(te.original, value)
	return nil
}
