package tracker

import (
	"fmt"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// TrackedEntity is the bookkeeping record for one tracked instance.
//
// For entities implementing types.ChangeNotifier original is the current
// instance itself until the entity announces its first change; other
// entities get a data copy when tracking starts.
type TrackedEntity struct {
	tracker  *Tracker
	handle   int
	typ      *schema.MetaType
	current  any
	original any
	state    State
	weak     bool

	// dirty holds a sticky bit per member ordinal, set once a member is seen
	// to differ from the baseline.
	dirty []bool

	// refs holds the singleton association references at the last baseline,
	// indexed like typ.Associations().
	refs []any
}

// ModifiedMember is a member whose current value differs from the
// baseline.
type ModifiedMember struct {
	Member   *schema.MetaMember
	Current  any
	Original any
}

func (te *TrackedEntity) String() string {
	return fmt.Sprintf("%s%v(%s)", te.typ.Name(), te.typ.KeyValues(te.current), te.state)
}

// Handle returns the entity's dense integer handle.
func (te *TrackedEntity) Handle() int { return te.handle }

// Type returns the entity's concrete MetaType.
func (te *TrackedEntity) Type() *schema.MetaType { return te.typ }

// Current returns the live instance.
func (te *TrackedEntity) Current() any { return te.current }

// Original returns the baseline snapshot, nil for new entities.
func (te *TrackedEntity) Original() any { return te.original }

// State returns the lifecycle state.
func (te *TrackedEntity) State() State { return te.state }

// IsWeak reports whether the entity was tracked only by reachability.
func (te *TrackedEntity) IsWeak() bool { return te.weak }

func (te *TrackedEntity) IsNew() bool     { return te.state == StateNew }
func (te *TrackedEntity) IsDeleted() bool { return te.state == StateDeleted }
func (te *TrackedEntity) IsRemoved() bool { return te.state == StateRemoved }
func (te *TrackedEntity) IsDead() bool    { return te.state == StateDead }

// IsPossiblyModified reports whether the entity is a persisted entity that
// may need an update.
func (te *TrackedEntity) IsPossiblyModified() bool {
	return te.state == StatePossiblyModified || te.state == StateModified
}

// IsModified reports whether an update is required.
func (te *TrackedEntity) IsModified() bool {
	switch te.state {
	case StateModified:
		return true
	case StatePossiblyModified:
		return te.HasChangedValues() || te.HasPendingForeignKeyChange()
	default:
		return false
	}
}

// IsInteresting reports whether the entity is a candidate for a write.
func (te *TrackedEntity) IsInteresting() bool {
	switch te.state {
	case StateNew, StateDeleted, StateModified:
		return true
	case StatePossiblyModified:
		if te.weak {
			return false
		}
		return te.IsModified() || te.CanInferDelete()
	default:
		return false
	}
}

// Action returns the write the entity contributes to a submission.
func (te *TrackedEntity) Action() types.ChangeAction {
	switch {
	case te.state == StateNew:
		return types.ActionInsert
	case te.state == StateDeleted:
		return types.ActionDelete
	case te.IsPossiblyModified():
		return types.ActionUpdate
	default:
		return types.ActionNone
	}
}

func (te *TrackedEntity) pendingSnapshot() bool {
	return te.original != nil && te.original == te.current
}

// onChanging takes the baseline copy the first time a notifying entity
// announces a change.
func (te *TrackedEntity) onChanging() {
	if te.tracker.items[te.current] != te {
		return
	}
	if te.pendingSnapshot() {
		te.original = te.typ.Copy(te.current)
	}
}

func (te *TrackedEntity) captureRefs() {
	assocs := te.typ.Associations()
	if len(te.refs) != len(assocs) {
		te.refs = make([]any, len(assocs))
	}
	for i, a := range assocs {
		if a.IsMany {
			te.refs[i] = nil
			continue
		}
		te.refs[i] = a.Ref(te.current)
	}
}

func (te *TrackedEntity) startTracking(notifies bool) {
	if notifies {
		te.original = te.current
	} else {
		te.original = te.typ.Copy(te.current)
	}
	te.captureRefs()
}

func (te *TrackedEntity) clearDirty() {
	for i := range te.dirty {
		te.dirty[i] = false
	}
}

// BaselineRef returns the reference held by association index i at the last
// baseline.
func (te *TrackedEntity) BaselineRef(i int) any {
	if i < len(te.refs) {
		return te.refs[i]
	}
	return nil
}

// IsExplicitlyNulled reports whether the singleton association at index i
// held a reference at the baseline and holds none now.
func (te *TrackedEntity) IsExplicitlyNulled(i int) bool {
	a := te.typ.Associations()[i]
	return !a.IsMany && te.BaselineRef(i) != nil && a.Ref(te.current) == nil
}

// HasChangedValue reports whether m differs from the baseline now or did at
// any point since the baseline was taken.
func (te *TrackedEntity) HasChangedValue(m *schema.MetaMember) bool {
	if te.original == nil || m.IsAssociation() {
		return false
	}
	if te.dirty[m.Ordinal] {
		return true
	}
	if te.pendingSnapshot() {
		return false
	}
	if !m.Equal(m.Get(te.current), m.Get(te.original)) {
		te.dirty[m.Ordinal] = true
		return true
	}
	return false
}

// HasChangedValues reports whether any data member other than key, version
// and database-generated members has changed.
func (te *TrackedEntity) HasChangedValues() bool {
	if te.original == nil {
		return false
	}
	changed := false
	for _, m := range te.typ.DataMembers() {
		if m.IsPrimaryKey || m.IsVersion || m.IsDBGenerated {
			continue
		}
		if te.HasChangedValue(m) {
			changed = true
		}
	}
	return changed
}

// HasPendingForeignKeyChange reports whether a foreign-key reference was
// reassigned or nulled so that synchronising dependent data would change
// the entity's foreign-key members.
func (te *TrackedEntity) HasPendingForeignKeyChange() bool {
	for i, a := range te.typ.Associations() {
		if !a.IsForeignKey || a.IsMany {
			continue
		}
		ref := a.Ref(te.current)
		switch {
		case ref != nil && ref != te.BaselineRef(i):
			return true
		case ref != nil:
			if !te.keysMatch(a, ref) {
				return true
			}
		case te.IsExplicitlyNulled(i) && a.IsNullable:
			for _, m := range a.ThisKey {
				if !schema.IsNull(m.Get(te.current)) {
					return true
				}
			}
		}
	}
	return false
}

func (te *TrackedEntity) keysMatch(a *schema.MetaAssociation, ref any) bool {
	otherType, err := te.tracker.model.TypeOf(ref)
	if err != nil {
		return true
	}
	otherKey := a.OtherKeyFor(otherType)
	for k, m := range a.ThisKey {
		if !schema.Equal(m.Get(te.current), otherKey[k].Get(ref)) {
			return false
		}
	}
	return true
}

// ModifiedMembers lists the data members whose values changed.
func (te *TrackedEntity) ModifiedMembers() []ModifiedMember {
	if te.original == nil {
		return nil
	}
	var out []ModifiedMember
	for _, m := range te.typ.DataMembers() {
		if te.HasChangedValue(m) {
			out = append(out, ModifiedMember{Member: m, Current: m.Get(te.current), Original: m.Get(te.original)})
		}
	}
	return out
}

// CanInferDelete reports whether a delete-on-null association was set to
// nil, turning the pending update into a delete or cancelling the pending
// insert.
func (te *TrackedEntity) CanInferDelete() bool {
	if !te.IsPossiblyModified() && te.state != StateNew {
		return false
	}
	for i, a := range te.typ.Associations() {
		if a.IsForeignKey && !a.IsMany && a.DeleteOnNull && !a.IsNullable && te.IsExplicitlyNulled(i) {
			return true
		}
	}
	return false
}

// IsPendingGeneration reports whether any of members is database-generated
// and still holds its zero value on a new entity.
func (te *TrackedEntity) IsPendingGeneration(members []*schema.MetaMember) bool {
	if te.state != StateNew {
		return false
	}
	for _, m := range members {
		if m.IsDBGenerated && schema.IsZero(m.Get(te.current)) {
			return true
		}
	}
	return false
}

func (te *TrackedEntity) transition(to State, from ...State) error {
	if !te.state.in(from...) {
		return fmt.Errorf("%s: %s to %s: %w", te.typ.Name(), te.state, to, types.ErrInvalidStateTransition)
	}
	te.state = to
	return nil
}

// ConvertToNew marks the entity for insertion.
func (te *TrackedEntity) ConvertToNew() error {
	if err := te.transition(StateNew, StateRemoved, StatePossiblyModified); err != nil {
		return err
	}
	te.original = nil
	te.weak = false
	te.clearDirty()
	return nil
}

// ConvertToPossiblyModified returns a deleted or modified entity to the
// default persisted state, keeping its baseline.
func (te *TrackedEntity) ConvertToPossiblyModified() error {
	if err := te.transition(StatePossiblyModified, StatePossiblyModified, StateModified, StateDeleted); err != nil {
		return err
	}
	te.weak = false
	return nil
}

// ConvertToPossiblyModifiedFrom makes a data copy of original the baseline
// of a new or persisted entity, turning an insert into an update.
func (te *TrackedEntity) ConvertToPossiblyModifiedFrom(original any) error {
	if err := te.transition(StatePossiblyModified, StateNew, StatePossiblyModified); err != nil {
		return err
	}
	te.original = te.typ.Copy(original)
	te.weak = false
	te.clearDirty()
	te.captureRefs()
	return nil
}

// ConvertToModified forces an update that writes every writable member.
func (te *TrackedEntity) ConvertToModified() error {
	if err := te.transition(StateModified, StatePossiblyModified, StateModified); err != nil {
		return err
	}
	if te.pendingSnapshot() {
		te.original = te.typ.Copy(te.current)
	}
	for _, m := range te.typ.DataMembers() {
		if !m.IsPrimaryKey && !m.IsDBGenerated {
			te.dirty[m.Ordinal] = true
		}
	}
	te.weak = false
	return nil
}

// ConvertToDeleted marks a persisted entity for deletion.
func (te *TrackedEntity) ConvertToDeleted() error {
	if err := te.transition(StateDeleted, StatePossiblyModified, StateModified, StateDeleted); err != nil {
		return err
	}
	te.weak = false
	return nil
}

// ConvertToRemoved cancels the insertion of a new entity.
func (te *TrackedEntity) ConvertToRemoved() error {
	return te.transition(StateRemoved, StateNew, StateRemoved)
}

// ConvertToDead marks a deleted entity as gone.
func (te *TrackedEntity) ConvertToDead() error {
	return te.transition(StateDead, StateDeleted, StateDead)
}

// ConvertToUnmodified accepts the current values as the new baseline.
func (te *TrackedEntity) ConvertToUnmodified() error {
	if err := te.transition(StatePossiblyModified, StateNew, StatePossiblyModified, StateModified); err != nil {
		return err
	}
	_, notifies := te.current.(types.ChangeNotifier)
	te.startTracking(notifies)
	te.clearDirty()
	te.weak = false
	return nil
}

// Promote clears the weak flag of an entity the application now refers to
// explicitly.
func (te *TrackedEntity) Promote() {
	te.weak = false
}
