// Package graph builds the association edges between entities pending a
// write and orders the writes so that foreign-key and uniqueness
// constraints hold after every statement.
package graph

import (
	"github.com/mesh-intelligence/unitofwork/internal/identity"
	"github.com/mesh-intelligence/unitofwork/internal/tracker"
	"github.com/mesh-intelligence/unitofwork/pkg/schema"
)

type edgeKey struct {
	assoc *schema.MetaAssociation
	from  int
}

// Edges holds the relationship edges of one submission, keyed by tracker
// handles.
type Edges struct {
	tracker *tracker.Tracker

	// currentParent maps (association, child) to the parent the child
	// references now.
	currentParent map[edgeKey]int
	// originalChild maps (unique association, former parent) to the child
	// that referenced it at the baseline.
	originalChild map[edgeKey]int
	// originalRefs maps a former parent to every child that referenced it
	// at the baseline.
	originalRefs map[int][]int
}

// CurrentParent returns the entity item references through assoc now.
func (e *Edges) CurrentParent(assoc *schema.MetaAssociation, item *tracker.TrackedEntity) *tracker.TrackedEntity {
	if h, ok := e.currentParent[edgeKey{assoc, item.Handle()}]; ok {
		return e.tracker.ByHandle(h)
	}
	return nil
}

// OriginalChild returns the entity that referenced parent through the
// unique association assoc at its baseline.
func (e *Edges) OriginalChild(assoc *schema.MetaAssociation, parent *tracker.TrackedEntity) *tracker.TrackedEntity {
	if h, ok := e.originalChild[edgeKey{assoc, parent.Handle()}]; ok {
		return e.tracker.ByHandle(h)
	}
	return nil
}

// OriginalChildren returns the entities that referenced parent at their
// baseline.
func (e *Edges) OriginalChildren(parent *tracker.TrackedEntity) []*tracker.TrackedEntity {
	hs := e.originalRefs[parent.Handle()]
	out := make([]*tracker.TrackedEntity, 0, len(hs))
	for _, h := range hs {
		if te := e.tracker.ByHandle(h); te != nil {
			out = append(out, te)
		}
	}
	return out
}

// Builder resolves association targets through the tracker and the
// identity map.
type Builder struct {
	tracker *tracker.Tracker
	ids     identity.Manager
}

// NewBuilder returns a Builder.
func NewBuilder(tr *tracker.Tracker, ids identity.Manager) *Builder {
	return &Builder{tracker: tr, ids: ids}
}

// Build computes the edges for the interesting entities items.
func (b *Builder) Build(items []*tracker.TrackedEntity) *Edges {
	e := &Edges{
		tracker:       b.tracker,
		currentParent: make(map[edgeKey]int),
		originalChild: make(map[edgeKey]int),
		originalRefs:  make(map[int][]int),
	}
	for _, item := range items {
		for i, a := range item.Type().Associations() {
			if !a.IsForeignKey || a.IsMany {
				continue
			}
			other := b.OtherItem(a, i, item, false)
			dbOther := b.OtherItem(a, i, item, true)
			pointsToDeleted := (other != nil && other.IsDeleted()) || (dbOther != nil && dbOther.IsDeleted())
			pointsToNew := other != nil && other.IsNew()
			if !item.IsNew() && !pointsToDeleted && !pointsToNew && !b.HasAssociationChanged(a, i, item) {
				continue
			}
			if other != nil {
				e.currentParent[edgeKey{a, item.Handle()}] = other.Handle()
			}
			if dbOther != nil {
				if a.IsUnique {
					e.originalChild[edgeKey{a, dbOther.Handle()}] = item.Handle()
				}
				e.originalRefs[dbOther.Handle()] = append(e.originalRefs[dbOther.Handle()], item.Handle())
			}
		}
	}
	return e
}

// OtherItem returns the tracked entity item references through the
// association at index i, using the current reference or, when it is unset
// or original is requested, an identity lookup by foreign-key values.
func (b *Builder) OtherItem(a *schema.MetaAssociation, i int, item *tracker.TrackedEntity, original bool) *tracker.TrackedEntity {
	var instance any
	if original {
		if item.Original() == nil {
			return nil
		}
		instance = b.lookupByForeignKey(a, item.Original())
	} else {
		if ref := a.Ref(item.Current()); ref != nil {
			instance = ref
		} else if item.IsExplicitlyNulled(i) {
			return nil
		} else {
			instance = b.lookupByForeignKey(a, item.Current())
		}
	}
	if instance == nil {
		return nil
	}
	te, _ := b.tracker.Get(instance)
	return te
}

func (b *Builder) lookupByForeignKey(a *schema.MetaAssociation, instance any) any {
	if !a.OtherKeyIsPrimaryKey {
		return nil
	}
	keys := make([]any, len(a.ThisKey))
	for k, m := range a.ThisKey {
		v := m.Get(instance)
		if schema.IsNull(v) {
			return nil
		}
		keys[k] = v
	}
	return b.ids.Find(a.OtherType, keys)
}

// HasAssociationChanged reports whether item references a different entity
// through the association at index i than it did at its baseline.
func (b *Builder) HasAssociationChanged(a *schema.MetaAssociation, i int, item *tracker.TrackedEntity) bool {
	if item.Original() == nil {
		return false
	}
	if a.Ref(item.Current()) != nil || item.IsExplicitlyNulled(i) {
		return b.OtherItem(a, i, item, false) != b.OtherItem(a, i, item, true)
	}
	for _, m := range a.ThisKey {
		if !m.Equal(m.Get(item.Current()), m.Get(item.Original())) {
			return true
		}
	}
	return false
}
