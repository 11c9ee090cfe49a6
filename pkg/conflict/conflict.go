// Package conflict models optimistic concurrency conflicts collected during
// a submission and the strategies for resolving them.
package conflict

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// Entity is the tracked entity a conflict resolves against.
type Entity interface {
	Type() *schema.MetaType
	Current() any
	Original() any
	HasChangedValue(m *schema.MetaMember) bool
	Refresh(mode types.RefreshMode, fresh any) error
	RefreshMember(m *schema.MetaMember, mode types.RefreshMode, value any) error
}

// FetchFunc reads the entity's row as it is in the database now. It
// returns nil when the row no longer exists.
type FetchFunc func(ctx context.Context) (any, error)

// ObjectConflict is a write that failed its concurrency check.
type ObjectConflict struct {
	entity        Entity
	original      any
	action        types.ChangeAction
	fetch         FetchFunc
	resolveDelete func() error

	loaded   bool
	database any
	members  []*MemberConflict
	resolved bool
}

// New records a conflict for entity. fetch reads the database row on first
// use; resolveDelete accepts that the row is gone.
func New(entity Entity, action types.ChangeAction, fetch FetchFunc, resolveDelete func() error) *ObjectConflict {
	var original any
	if o := entity.Original(); o != nil {
		original = entity.Type().Copy(o)
	}
	return &ObjectConflict{
		entity:        entity,
		original:      original,
		action:        action,
		fetch:         fetch,
		resolveDelete: resolveDelete,
	}
}

func (c *ObjectConflict) String() string {
	return fmt.Sprintf("%s %s%v", c.action, c.entity.Type().Name(), c.entity.Type().KeyValues(c.entity.Current()))
}

// Entity returns the live instance whose write failed.
func (c *ObjectConflict) Entity() any { return c.entity.Current() }

// Original returns a copy of the entity's baseline when the write failed.
func (c *ObjectConflict) Original() any { return c.original }

// Action returns the failed write.
func (c *ObjectConflict) Action() types.ChangeAction { return c.action }

// IsResolved reports whether the conflict was resolved.
func (c *ObjectConflict) IsResolved() bool { return c.resolved }

func (c *ObjectConflict) load(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	db, err := c.fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch database values for %s: %w", c, err)
	}
	c.database = db
	c.loaded = true
	if db == nil {
		return nil
	}
	mt := c.entity.Type()
	if dbType, err := mt.Model().TypeOf(db); err != nil || dbType.Root() != mt.Root() {
		return nil
	}
	for _, m := range mt.DataMembers() {
		if c.original == nil {
			break
		}
		orig := m.Get(c.original)
		dbv := m.Get(db)
		if !m.Equal(orig, dbv) {
			c.members = append(c.members, &MemberConflict{
				conflict: c,
				member:   m,
				original: orig,
				database: dbv,
				current:  m.Get(c.entity.Current()),
			})
		}
	}
	return nil
}

// Database returns the row as the database holds it now, or nil when it
// was deleted. The row is fetched once, outside the failed transaction.
func (c *ObjectConflict) Database(ctx context.Context) (any, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c.database, nil
}

// IsDeleted reports whether the row no longer exists.
func (c *ObjectConflict) IsDeleted(ctx context.Context) (bool, error) {
	if err := c.load(ctx); err != nil {
		return false, err
	}
	return c.database == nil, nil
}

// MemberConflicts lists the members whose database value differs from the
// baseline.
func (c *ObjectConflict) MemberConflicts(ctx context.Context) ([]*MemberConflict, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c.members, nil
}

// Resolve merges the database values into the entity according to mode.
// With autoResolveDeletes a conflict on a deleted row is resolved by
// accepting the deletion; otherwise such a conflict cannot be resolved.
func (c *ObjectConflict) Resolve(ctx context.Context, mode types.RefreshMode, autoResolveDeletes bool) error {
	deleted, err := c.IsDeleted(ctx)
	if err != nil {
		return err
	}
	if deleted {
		if !autoResolveDeletes {
			return fmt.Errorf("%s: %w", c, types.ErrRefreshDeleted)
		}
		if err := c.resolveDelete(); err != nil {
			return err
		}
		c.resolved = true
		return nil
	}
	if err := c.entity.Refresh(mode, c.database); err != nil {
		return err
	}
	for _, m := range c.members {
		m.resolved = true
	}
	c.resolved = true
	return nil
}

func (c *ObjectConflict) memberResolved() error {
	if c.resolved {
		return nil
	}
	for _, m := range c.members {
		if !m.resolved {
			return nil
		}
	}
	if err := c.entity.Refresh(types.KeepCurrentValues, c.database); err != nil {
		return err
	}
	c.resolved = true
	return nil
}

// MemberConflict is one member whose database value moved away from the
// baseline.
type MemberConflict struct {
	conflict *ObjectConflict
	member   *schema.MetaMember
	original any
	database any
	current  any
	resolved bool
}

// Member returns the conflicting member.
func (m *MemberConflict) Member() *schema.MetaMember { return m.member }

// OriginalValue returns the baseline value the write expected.
func (m *MemberConflict) OriginalValue() any { return m.original }

// DatabaseValue returns the value found in the database.
func (m *MemberConflict) DatabaseValue() any { return m.database }

// CurrentValue returns the entity's value when the conflict was detected.
func (m *MemberConflict) CurrentValue() any { return m.current }

// IsModified reports whether the application changed the member.
func (m *MemberConflict) IsModified() bool {
	return m.conflict.entity.HasChangedValue(m.member)
}

// IsResolved reports whether the member was resolved.
func (m *MemberConflict) IsResolved() bool { return m.resolved }

// Resolve merges the database value according to mode. When every member
// of the object conflict is resolved the object conflict is resolved too.
func (m *MemberConflict) Resolve(mode types.RefreshMode) error {
	if err := m.conflict.entity.RefreshMember(m.member, mode, m.database); err != nil {
		return err
	}
	m.resolved = true
	return m.conflict.memberResolved()
}

// ResolveValue sets the member to value and makes the database value its
// baseline. A value that cannot be converted to the member's type is
// rejected with an error wrapping types.ErrInvalidEntity.
func (m *MemberConflict) ResolveValue(value any) error {
	v, ok := m.member.Coerce(value)
	if !ok {
		return fmt.Errorf("resolve %s with %T: %w", m.member.Name, value, types.ErrInvalidEntity)
	}
	if err := m.conflict.entity.RefreshMember(m.member, types.KeepCurrentValues, m.database); err != nil {
		return err
	}
	m.member.Set(m.conflict.entity.Current(), v)
	m.resolved = true
	return m.conflict.memberResolved()
}
