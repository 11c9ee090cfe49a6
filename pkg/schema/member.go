package schema

import (
	"reflect"

	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// MetaMember describes one persistent member or association member of a
// MetaType. Accessors operate on entity pointers of the declaring type.
type MetaMember struct {
	Name    string
	Column  string
	Ordinal int

	IsPrimaryKey    bool
	IsDBGenerated   bool
	IsVersion       bool
	IsDiscriminator bool
	CanBeNull       bool
	UpdateCheck     types.UpdateCheck
	AutoSync        types.AutoSync

	// Association is set for association members and nil for data members.
	Association *MetaAssociation

	DeclaringType *MetaType

	valueType reflect.Type
	get       func(entity any) any
	set       func(entity, value any)
	scan      func() any
	deref     func(ptr any) any
	coerce    func(v any) (any, bool)
	generate  func() any

	// collection accessors for one-to-many association members
	items  func(owner any) []any
	remove func(owner, item any)
	add    func(owner, item any)
}

// MemberOption configures a data member.
type MemberOption func(*MetaMember)

// PrimaryKey marks the member as part of the identity.
func PrimaryKey() MemberOption {
	return func(m *MetaMember) { m.IsPrimaryKey = true }
}

// DBGenerated marks the member as assigned by the backend.
func DBGenerated() MemberOption {
	return func(m *MetaMember) { m.IsDBGenerated = true }
}

// Version marks the member as the row version. A type with a version member
// uses it as its only concurrency check. Version members are
// database-generated.
func Version() MemberOption {
	return func(m *MetaMember) {
		m.IsVersion = true
		m.IsDBGenerated = true
	}
}

// Nullable marks the column as accepting NULL.
func Nullable() MemberOption {
	return func(m *MetaMember) { m.CanBeNull = true }
}

// Discriminator marks the member holding the inheritance code.
func Discriminator() MemberOption {
	return func(m *MetaMember) { m.IsDiscriminator = true }
}

// ColumnName overrides the column name, which defaults to the member name.
func ColumnName(name string) MemberOption {
	return func(m *MetaMember) { m.Column = name }
}

// Check sets the member's update-check policy.
func Check(check types.UpdateCheck) MemberOption {
	return func(m *MetaMember) { m.UpdateCheck = check }
}

// Sync sets the member's auto-sync policy.
func Sync(sync types.AutoSync) MemberOption {
	return func(m *MetaMember) { m.AutoSync = sync }
}

// Generate assigns fn's value to the member of a new entity whose value is
// still zero when it is submitted.
func Generate(fn func() any) MemberOption {
	return func(m *MetaMember) { m.generate = fn }
}

// Get returns the member value of entity.
func (m *MetaMember) Get(entity any) any {
	return m.get(entity)
}

// Set assigns value to the member of entity, converting compatible values
// (for example int64 to int) to the member's type.
func (m *MetaMember) Set(entity, value any) {
	m.set(entity, value)
}

// ScanTarget returns a fresh pointer suitable as a database/sql scan
// destination for the member.
func (m *MetaMember) ScanTarget() any {
	return m.scan()
}

// ScannedValue dereferences a pointer returned by ScanTarget.
func (m *MetaMember) ScannedValue(ptr any) any {
	return m.deref(ptr)
}

// Generated returns a generated value for a new entity's member, if the
// member declares a generator.
func (m *MetaMember) Generated() (any, bool) {
	if m.generate == nil {
		return nil, false
	}
	return m.generate(), true
}

// Type returns the Go type of the member value.
func (m *MetaMember) Type() reflect.Type {
	return m.valueType
}

// IsAssociation reports whether the member is an association member.
func (m *MetaMember) IsAssociation() bool {
	return m.Association != nil
}

// IsDeferred reports whether the member is a one-to-many collection.
func (m *MetaMember) IsDeferred() bool {
	return m.items != nil
}

// Items returns the entities held by a collection member.
func (m *MetaMember) Items(owner any) []any {
	if m.items == nil {
		return nil
	}
	return m.items(owner)
}

// RemoveItem drops item from a collection member.
func (m *MetaMember) RemoveItem(owner, item any) {
	if m.remove != nil {
		m.remove(owner, item)
	}
}

// AddItem appends item to a collection member unless it is already present.
func (m *MetaMember) AddItem(owner, item any) {
	if m.add != nil {
		m.add(owner, item)
	}
}

// Coerce converts v to the member's type. It reports false when v cannot
// be converted.
func (m *MetaMember) Coerce(v any) (any, bool) {
	if m.coerce == nil {
		return v, true
	}
	return m.coerce(v)
}

// Equal reports whether two values of this member are equal after
// converting both to the member's type, so that an int64 parent key equals
// a *int64 foreign key holding the same number.
func (m *MetaMember) Equal(a, b any) bool {
	if m.coerce != nil {
		ca, okA := m.coerce(a)
		cb, okB := m.coerce(b)
		if okA && okB {
			return Equal(ca, cb)
		}
	}
	return Equal(a, b)
}

// SyncsOn reports whether the member is read back after action.
func (m *MetaMember) SyncsOn(action types.ChangeAction) bool {
	switch m.AutoSync {
	case types.AutoSyncAlways:
		return action == types.ActionInsert || action == types.ActionUpdate
	case types.AutoSyncOnInsert:
		return action == types.ActionInsert
	case types.AutoSyncOnUpdate:
		return action == types.ActionUpdate
	default:
		return false
	}
}

func (m *MetaMember) resolveAutoSync() {
	if m.AutoSync != types.AutoSyncDefault {
		return
	}
	switch {
	case m.IsVersion:
		m.AutoSync = types.AutoSyncAlways
	case m.IsDBGenerated && m.IsPrimaryKey:
		m.AutoSync = types.AutoSyncOnInsert
	case m.IsDBGenerated:
		m.AutoSync = types.AutoSyncAlways
	default:
		m.AutoSync = types.AutoSyncNever
	}
}

// adapt returns a copy of m whose accessors operate on entities of a derived
// type, reaching the base value through up.
func (m *MetaMember) adapt(owner *MetaType, up func(any) any) *MetaMember {
	c := *m
	c.DeclaringType = owner
	get, set := m.get, m.set
	c.get = func(e any) any { return get(up(e)) }
	c.set = func(e, v any) { set(up(e), v) }
	if m.items != nil {
		items, remove, add := m.items, m.remove, m.add
		c.items = func(o any) []any { return items(up(o)) }
		c.remove = func(o, i any) { remove(up(o), i) }
		c.add = func(o, i any) { add(up(o), i) }
	}
	return &c
}
