// Package identity keeps one live instance per primary key and root entity
// type.
package identity

import (
	"github.com/mesh-intelligence/unitofwork/pkg/schema"
)

// Manager deduplicates entity instances by key.
type Manager interface {
	// Find returns the cached instance with the given key values, or nil.
	Find(mt *schema.MetaType, keys []any) any

	// FindLike returns the cached instance with the same key as instance,
	// or nil.
	FindLike(mt *schema.MetaType, instance any) any

	// InsertLookup caches instance unless an instance with the same key is
	// already cached, and returns the cached one.
	InsertLookup(mt *schema.MetaType, instance any) any

	// RemoveLike evicts the cached instance with the same key as instance.
	RemoveLike(mt *schema.MetaType, instance any) bool
}

// pair chains key values so that any arity yields one comparable map key.
type pair struct {
	head any
	tail any
}

// keyer folds key values into a map key. One keyer exists per arity.
type keyer func(values []any) any

func newKeyer(arity int) keyer {
	if arity == 1 {
		return func(values []any) any { return values[0] }
	}
	return func(values []any) any {
		var k any
		for i := len(values) - 1; i >= 0; i-- {
			k = pair{head: values[i], tail: k}
		}
		return k
	}
}

type cache struct {
	members []*schema.MetaMember
	key     keyer
	entries map[any]any
}

// Map is the tracking identity manager.
type Map struct {
	caches map[*schema.MetaType]*cache
	keyers map[int]keyer
}

// New returns an empty identity map.
func New() *Map {
	return &Map{
		caches: make(map[*schema.MetaType]*cache),
		keyers: make(map[int]keyer),
	}
}

func (m *Map) cacheFor(mt *schema.MetaType) *cache {
	root := mt.Root()
	c, ok := m.caches[root]
	if !ok {
		ids := root.IdentityMembers()
		k, ok := m.keyers[len(ids)]
		if !ok {
			k = newKeyer(len(ids))
			m.keyers[len(ids)] = k
		}
		c = &cache{members: ids, key: k, entries: make(map[any]any)}
		m.caches[root] = c
	}
	return c
}

// normalize converts key values to the key members' types so that an int
// literal or a foreign-key pointer finds an int64 key.
func (c *cache) normalize(values []any) ([]any, bool) {
	if len(values) != len(c.members) {
		return nil, false
	}
	out := make([]any, len(values))
	for i, v := range values {
		if schema.IsNull(v) {
			return nil, false
		}
		x, ok := c.members[i].Coerce(v)
		if !ok {
			return nil, false
		}
		out[i] = x
	}
	return out, true
}

func (c *cache) keyOf(mt *schema.MetaType, instance any) (any, bool) {
	values, ok := c.normalize(mt.KeyValues(instance))
	if !ok {
		return nil, false
	}
	return c.key(values), true
}

// Find implements Manager.
func (m *Map) Find(mt *schema.MetaType, keys []any) any {
	c := m.cacheFor(mt)
	values, ok := c.normalize(keys)
	if !ok {
		return nil
	}
	return c.entries[c.key(values)]
}

// FindLike implements Manager.
func (m *Map) FindLike(mt *schema.MetaType, instance any) any {
	c := m.cacheFor(mt)
	k, ok := c.keyOf(mt, instance)
	if !ok {
		return nil
	}
	return c.entries[k]
}

// InsertLookup implements Manager.
func (m *Map) InsertLookup(mt *schema.MetaType, instance any) any {
	c := m.cacheFor(mt)
	k, ok := c.keyOf(mt, instance)
	if !ok {
		return instance
	}
	if existing, found := c.entries[k]; found {
		return existing
	}
	c.entries[k] = instance
	return instance
}

// RemoveLike implements Manager.
func (m *Map) RemoveLike(mt *schema.MetaType, instance any) bool {
	c := m.cacheFor(mt)
	k, ok := c.keyOf(mt, instance)
	if !ok {
		return false
	}
	if _, found := c.entries[k]; !found {
		return false
	}
	delete(c.entries, k)
	return true
}

// Len returns the number of cached instances across all types.
func (m *Map) Len() int {
	n := 0
	for _, c := range m.caches {
		n += len(c.entries)
	}
	return n
}

// ReadOnly is the identity manager used when object tracking is disabled.
// It caches nothing.
type ReadOnly struct{}

// NewReadOnly returns the pass-through manager.
func NewReadOnly() ReadOnly { return ReadOnly{} }

// Find implements Manager.
func (ReadOnly) Find(*schema.MetaType, []any) any { return nil }

// FindLike implements Manager.
func (ReadOnly) FindLike(*schema.MetaType, any) any { return nil }

// InsertLookup implements Manager.
func (ReadOnly) InsertLookup(_ *schema.MetaType, instance any) any { return instance }

// RemoveLike implements Manager.
func (ReadOnly) RemoveLike(*schema.MetaType, any) bool { return false }

var (
	_ Manager = (*Map)(nil)
	_ Manager = ReadOnly{}
)
