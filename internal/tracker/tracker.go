package tracker

import (
	"fmt"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// Tracker owns the TrackedEntity records of one session. It is not safe for
// concurrent use.
type Tracker struct {
	model   *schema.Model
	items   map[any]*TrackedEntity
	handles []*TrackedEntity
}

// New returns an empty tracker for model.
func New(model *schema.Model) *Tracker {
	return &Tracker{
		model: model,
		items: make(map[any]*TrackedEntity),
	}
}

// Model returns the schema the tracker resolves types with.
func (t *Tracker) Model() *schema.Model { return t.model }

// Get returns the record for entity.
func (t *Tracker) Get(entity any) (*TrackedEntity, bool) {
	if entity == nil {
		return nil, false
	}
	te, ok := t.items[entity]
	return te, ok
}

// IsTracked reports whether entity has a record.
func (t *Tracker) IsTracked(entity any) bool {
	_, ok := t.Get(entity)
	return ok
}

// ByHandle returns the record with the given handle, or nil if it stopped
// being tracked.
func (t *Tracker) ByHandle(h int) *TrackedEntity {
	if h < 0 || h >= len(t.handles) {
		return nil
	}
	return t.handles[h]
}

// Len returns the number of handles issued, which bounds every handle.
func (t *Tracker) Len() int { return len(t.handles) }

// Track starts tracking entity as a possibly modified persisted entity.
// With recurse, entities reachable through associations are tracked too and
// flagged weak. Tracking an already tracked entity returns its record and
// clears its weak flag.
func (t *Tracker) Track(entity any, recurse bool) (*TrackedEntity, error) {
	return t.track(entity, make(map[any]bool), recurse, 1)
}

func (t *Tracker) track(entity any, visited map[any]bool, recurse bool, level int) (*TrackedEntity, error) {
	weak := level > 1
	if te, ok := t.items[entity]; ok {
		if te.weak && !weak {
			te.weak = false
		}
		return te, nil
	}
	if visited[entity] {
		return nil, nil
	}
	mt, err := t.model.TypeOf(entity)
	if err != nil {
		return nil, err
	}
	te := &TrackedEntity{
		tracker: t,
		handle:  len(t.handles),
		typ:     mt,
		current: entity,
		state:   StatePossiblyModified,
		weak:    weak,
		dirty:   make([]bool, len(mt.Members())),
	}
	notifier, notifies := entity.(types.ChangeNotifier)
	te.startTracking(notifies)
	t.items[entity] = te
	t.handles = append(t.handles, te)
	if notifies {
		notifier.OnChanging(te.onChanging)
	}
	visited[entity] = true

	if recurse {
		for _, p := range t.Parents(te) {
			if _, err := t.track(p, visited, recurse, level+1); err != nil {
				return nil, err
			}
		}
		for _, c := range t.Children(te) {
			if _, err := t.track(c, visited, recurse, level+1); err != nil {
				return nil, err
			}
		}
	}
	return te, nil
}

// TrackNew starts tracking entity as pending insertion.
func (t *Tracker) TrackNew(entity any) (*TrackedEntity, error) {
	te, err := t.Track(entity, false)
	if err != nil {
		return nil, err
	}
	if err := te.ConvertToNew(); err != nil {
		return nil, err
	}
	return te, nil
}

// StopTracking drops the record for entity.
func (t *Tracker) StopTracking(entity any) error {
	te, ok := t.items[entity]
	if !ok {
		return fmt.Errorf("%T: %w", entity, types.ErrNotTracked)
	}
	delete(t.items, entity)
	t.handles[te.handle] = nil
	return nil
}

// All returns every record in arrival order.
func (t *Tracker) All() []*TrackedEntity {
	out := make([]*TrackedEntity, 0, len(t.items))
	for _, te := range t.handles {
		if te != nil {
			out = append(out, te)
		}
	}
	return out
}

// Interesting returns the records that need a write, in arrival order.
func (t *Tracker) Interesting() []*TrackedEntity {
	var out []*TrackedEntity
	for _, te := range t.handles {
		if te != nil && te.IsInteresting() {
			out = append(out, te)
		}
	}
	return out
}

// Parents returns the entities te currently references through foreign-key
// associations.
func (t *Tracker) Parents(te *TrackedEntity) []any {
	var out []any
	for _, a := range te.typ.Associations() {
		if !a.IsForeignKey || a.IsMany {
			continue
		}
		if ref := a.Ref(te.current); ref != nil {
			out = append(out, ref)
		}
	}
	return out
}

// Children returns the entities that reference te through the non-owning
// side of its associations.
func (t *Tracker) Children(te *TrackedEntity) []any {
	var out []any
	for _, a := range te.typ.Associations() {
		if a.IsForeignKey {
			continue
		}
		if a.IsMany {
			out = append(out, a.ThisMember.Items(te.current)...)
			continue
		}
		if ref := a.Ref(te.current); ref != nil {
			out = append(out, ref)
		}
	}
	return out
}

// AcceptChanges moves every record to its steady state after a successful
// submission: deleted entities become dead and new or modified ones take
// their current values as baseline.
func (t *Tracker) AcceptChanges() error {
	for _, te := range t.handles {
		if te == nil {
			continue
		}
		switch te.state {
		case StateDeleted:
			if err := te.ConvertToDead(); err != nil {
				return err
			}
		case StateNew, StatePossiblyModified, StateModified:
			if err := te.ConvertToUnmodified(); err != nil {
				return err
			}
		}
	}
	return nil
}
