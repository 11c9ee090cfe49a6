package session

import (
	"fmt"

	"github.com/mesh-intelligence/unitofwork/internal/tracker"
	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// ModifiedMember is a data member whose current value differs from its
// baseline.
type ModifiedMember struct {
	Member   *schema.MetaMember
	Current  any
	Original any
}

// Attach starts tracking a persisted entity that was not loaded by this
// session. Entities reachable from it are tracked weakly and only become
// writes once the application refers to them.
func (s *Session) Attach(entity any) error {
	_, err := s.attach(entity)
	return err
}

// AttachModified attaches entity and marks every writable member changed.
// Its type must carry a version member or no update-check members, since no
// baseline exists to check against.
func (s *Session) AttachModified(entity any) error {
	mt, err := s.typeOf(entity)
	if err != nil {
		return err
	}
	if mt.VersionMember() == nil && mt.HasUpdateCheck() {
		return fmt.Errorf("%s: %w", mt.Name(), types.ErrAttachModifiedNeedsVersion)
	}
	te, err := s.attach(entity)
	if err != nil {
		return err
	}
	return te.ConvertToModified()
}

// AttachWithOriginal attaches entity with original as its baseline, so
// differences between the two become the update.
func (s *Session) AttachWithOriginal(entity, original any) error {
	mt, err := s.typeOf(entity)
	if err != nil {
		return err
	}
	if !mt.Is(original) {
		return fmt.Errorf("original %T for %s: %w", original, mt.Name(), types.ErrInvalidEntity)
	}
	te, err := s.attach(entity)
	if err != nil {
		return err
	}
	return te.ConvertToPossiblyModifiedFrom(original)
}

func (s *Session) attach(entity any) (*tracker.TrackedEntity, error) {
	if s.readOnly {
		return nil, types.ErrReadOnly
	}
	mt, err := s.typeOf(entity)
	if err != nil {
		return nil, err
	}
	if te, ok := s.tracker.Get(entity); ok {
		if !te.IsWeak() {
			return nil, fmt.Errorf("%s: %w", mt.Name(), types.ErrAlreadyTracked)
		}
		te.Promote()
		return te, nil
	}

	first := s.tracker.Len()
	te, err := s.tracker.Track(entity, true)
	if err != nil {
		return nil, err
	}
	if cached := s.ids.InsertLookup(mt, entity); cached != entity {
		s.untrackFrom(first)
		return nil, &types.DuplicateKeyError{Type: mt.Name(), Key: mt.KeyValues(entity), Entity: entity}
	}
	// Weakly tracked neighbours join the identity map when their key is free.
	for h := first + 1; h < s.tracker.Len(); h++ {
		if n := s.tracker.ByHandle(h); n != nil {
			s.ids.InsertLookup(n.Type(), n.Current())
		}
	}
	s.log.Debug("attached", "type", mt.Name(), "key", mt.KeyValues(entity), "tracked", s.tracker.Len()-first)
	return te, nil
}

func (s *Session) untrackFrom(first int) {
	for h := first; h < s.tracker.Len(); h++ {
		if te := s.tracker.ByHandle(h); te != nil {
			s.tracker.StopTracking(te.Current())
		}
	}
}

// InsertOnSubmit schedules entity for insertion. A pending delete of the
// same instance is cancelled instead.
func (s *Session) InsertOnSubmit(entity any) error {
	if s.readOnly {
		return types.ErrReadOnly
	}
	mt, err := s.typeOf(entity)
	if err != nil {
		return err
	}
	te, ok := s.tracker.Get(entity)
	switch {
	case !ok:
		_, err = s.tracker.TrackNew(entity)
		return err
	case te.IsWeak(), te.IsRemoved():
		return te.ConvertToNew()
	case te.IsDeleted():
		return te.ConvertToPossiblyModified()
	case te.IsNew():
		return nil
	default:
		return fmt.Errorf("%s: %w", mt.Name(), types.ErrCannotAddExisting)
	}
}

// DeleteOnSubmit schedules entity for deletion. A pending insert of the same
// instance is cancelled instead.
func (s *Session) DeleteOnSubmit(entity any) error {
	if s.readOnly {
		return types.ErrReadOnly
	}
	te, ok := s.tracker.Get(entity)
	if !ok {
		return fmt.Errorf("%T: %w", entity, types.ErrNotTracked)
	}
	if te.IsNew() || te.IsRemoved() {
		if err := te.ConvertToRemoved(); err != nil {
			return err
		}
		s.evict(te)
		return nil
	}
	return te.ConvertToDeleted()
}

// evict removes a removed entity from the identity map if it still holds
// the entity's key, so a later instance with the same key can take it.
func (s *Session) evict(te *tracker.TrackedEntity) {
	if s.ids.FindLike(te.Type(), te.Current()) == te.Current() {
		s.ids.RemoveLike(te.Type(), te.Current())
	}
}

// Detach stops tracking entity and evicts it from the identity map. Pending
// changes to it are discarded.
func (s *Session) Detach(entity any) error {
	te, ok := s.tracker.Get(entity)
	if !ok {
		return fmt.Errorf("%T: %w", entity, types.ErrNotTracked)
	}
	if s.ids.FindLike(te.Type(), entity) == entity {
		s.ids.RemoveLike(te.Type(), entity)
	}
	return s.tracker.StopTracking(entity)
}

// Track materialises an entity read from the database. If the identity map
// already holds an instance with the same key, that instance is returned and
// entity is discarded. Otherwise entity is tracked as unchanged and its
// OnLoaded hook runs.
func (s *Session) Track(entity any) (any, error) {
	mt, err := s.typeOf(entity)
	if err != nil {
		return nil, err
	}
	if cached := s.ids.InsertLookup(mt, entity); cached != entity {
		return cached, nil
	}
	if !s.readOnly {
		if _, err := s.tracker.Track(entity, false); err != nil {
			s.ids.RemoveLike(mt, entity)
			return nil, err
		}
	}
	mt.Loaded(entity)
	return entity, nil
}

// IsTracked reports whether the session tracks entity.
func (s *Session) IsTracked(entity any) bool {
	return s.tracker.IsTracked(entity)
}

// GetOriginalEntityState returns a copy of the baseline of entity, or nil
// for entities pending insertion.
func (s *Session) GetOriginalEntityState(entity any) (any, error) {
	te, ok := s.tracker.Get(entity)
	if !ok {
		return nil, fmt.Errorf("%T: %w", entity, types.ErrNotTracked)
	}
	if te.Original() == nil {
		return nil, nil
	}
	return te.Type().Copy(te.Original()), nil
}

// GetModifiedMembers lists the data members of entity that changed since it
// was tracked.
func (s *Session) GetModifiedMembers(entity any) ([]ModifiedMember, error) {
	te, ok := s.tracker.Get(entity)
	if !ok {
		return nil, fmt.Errorf("%T: %w", entity, types.ErrNotTracked)
	}
	var out []ModifiedMember
	for _, m := range te.ModifiedMembers() {
		out = append(out, ModifiedMember{Member: m.Member, Current: m.Current, Original: m.Original})
	}
	return out, nil
}
