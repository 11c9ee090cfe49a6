package session

import (
	"fmt"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
)

// ChangeSet lists the entities the next submission would write.
type ChangeSet struct {
	Inserts []any
	Updates []any
	Deletes []any
}

// String summarises the change set, e.g. "{Inserts: 1, Updates: 0, Deletes: 2}".
func (c ChangeSet) String() string {
	return fmt.Sprintf("{Inserts: %d, Updates: %d, Deletes: %d}", len(c.Inserts), len(c.Updates), len(c.Deletes))
}

// Empty reports whether nothing is pending.
func (c ChangeSet) Empty() bool {
	return len(c.Inserts)+len(c.Updates)+len(c.Deletes) == 0
}

// GetChangeSet previews the next submission without changing any tracking
// state. Untracked entities reachable from pending changes are reported as
// inserts and cleared delete-on-null references as deletes. A new entity
// whose key belongs to a cached entity pending deletion is reported as an
// update of that row, and the pending deletion is not reported.
func (s *Session) GetChangeSet() ChangeSet {
	var cs ChangeSet
	visited := make(map[any]bool)
	var discovered []any

	var walk func(entity any)
	walk = func(entity any) {
		if visited[entity] {
			return
		}
		visited[entity] = true
		te, tracked := s.tracker.Get(entity)
		if tracked && (te.IsDead() || te.IsRemoved()) {
			return
		}
		if !tracked {
			discovered = append(discovered, entity)
		}
		for _, n := range s.neighbours(entity) {
			walk(n)
		}
	}

	interesting := s.tracker.Interesting()
	for _, te := range interesting {
		walk(te.Current())
	}

	replaced := make(map[any]bool)
	previewNew := func(mt *schema.MetaType, entity any) {
		if cached, ok := s.replaces(mt, entity); ok && !replaced[cached] {
			replaced[cached] = true
			cs.Updates = append(cs.Updates, entity)
			return
		}
		cs.Inserts = append(cs.Inserts, entity)
	}

	var deletes []any
	for _, te := range interesting {
		switch {
		case te.IsNew() && te.CanInferDelete():
		case te.IsNew():
			previewNew(te.Type(), te.Current())
		case te.IsDeleted() || te.CanInferDelete():
			deletes = append(deletes, te.Current())
		case te.IsModified():
			cs.Updates = append(cs.Updates, te.Current())
		}
	}
	for _, entity := range discovered {
		if mt, err := s.typeOf(entity); err == nil {
			previewNew(mt, entity)
		}
	}
	for _, entity := range deletes {
		if !replaced[entity] {
			cs.Deletes = append(cs.Deletes, entity)
		}
	}
	return cs
}

// replaces returns the cached entity whose row a new entity would update
// at submission: one with the same key that is pending deletion.
func (s *Session) replaces(mt *schema.MetaType, entity any) (any, bool) {
	cached := s.ids.FindLike(mt, entity)
	if cached == nil || cached == entity {
		return nil, false
	}
	cte, ok := s.tracker.Get(cached)
	if !ok || cte.IsNew() || !(cte.IsDeleted() || cte.CanInferDelete()) {
		return nil, false
	}
	return cached, true
}

// neighbours returns the entities entity refers to through any association.
func (s *Session) neighbours(entity any) []any {
	mt, err := s.typeOf(entity)
	if err != nil {
		return nil
	}
	var out []any
	for _, a := range mt.Associations() {
		if a.IsMany {
			out = append(out, a.ThisMember.Items(entity)...)
		} else if ref := a.Ref(entity); ref != nil {
			out = append(out, ref)
		}
	}
	return out
}
