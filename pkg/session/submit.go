package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/unitofwork/internal/director"
	"github.com/mesh-intelligence/unitofwork/internal/graph"
	"github.com/mesh-intelligence/unitofwork/internal/tracker"
	"github.com/mesh-intelligence/unitofwork/pkg/conflict"
	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// Submit runs SubmitChanges with the session's configured conflict mode.
func (s *Session) Submit(ctx context.Context) error {
	return s.SubmitChanges(ctx, s.conflictMode)
}

// SubmitChanges writes every pending change in one transaction, parents
// before children and dependents before the rows they reference are
// deleted. On optimistic concurrency failures the transaction is rolled
// back, ChangeConflicts holds the conflicts and the returned error is a
// *conflict.Error.
func (s *Session) SubmitChanges(ctx context.Context, mode types.ConflictMode) error {
	if s.readOnly {
		return types.ErrReadOnly
	}
	if s.submitting {
		return types.ErrSubmitInProgress
	}
	s.submitting = true
	defer func() { s.submitting = false }()

	start := time.Now()
	s.conflicts.Clear()
	err := s.submit(ctx, mode)
	elapsed := time.Since(start)
	s.observer.SubmitFinished(ctx, elapsed, err)
	if err != nil {
		s.log.WarnContext(ctx, "submit failed", "elapsed", elapsed, "error", err)
		return err
	}
	s.log.InfoContext(ctx, "submit finished", "elapsed", elapsed)
	return nil
}

func (s *Session) submit(ctx context.Context, mode types.ConflictMode) error {
	if err := s.trackUntracked(); err != nil {
		return err
	}
	if err := s.applyInferredDeletions(); err != nil {
		return err
	}

	items := s.tracker.Interesting()
	edges := graph.NewBuilder(s.tracker, s.ids).Build(items)
	ordered, err := graph.Order(items, edges)
	if err != nil {
		return err
	}
	for _, te := range ordered {
		if err := te.Type().Validate(te.Current(), te.Action()); err != nil {
			return err
		}
	}
	s.observer.SubmitStarted(ctx, len(ordered))
	if len(ordered) == 0 {
		return nil
	}

	exec, tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	d := director.New(exec, director.WithTimeout(s.timeout), director.WithLogger(s.log))
	b := &batch{session: s, director: d, tx: tx}

	if err := b.write(ctx, ordered, mode); err != nil {
		return b.abort(ctx, err)
	}
	if b.failed > 0 {
		return b.abort(ctx, &conflict.Error{Conflicts: &s.conflicts, Failed: b.failed, Attempted: b.attempted})
	}
	if tx != nil {
		if err := tx.Commit(); err != nil {
			return b.abort(ctx, fmt.Errorf("commit: %w", err))
		}
	}
	d.ClearAutoSync()

	if err := s.postProcess(b.inserted, b.deleted); err != nil {
		return err
	}
	return s.tracker.AcceptChanges()
}

// begin returns the executor for a submission and the transaction the
// session owns, which is nil under UseTx.
func (s *Session) begin(ctx context.Context) (types.Executor, types.Tx, error) {
	if s.tx != nil {
		return s.tx, nil, nil
	}
	tx, err := s.provider.BeginTx(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, tx, nil
}

// batch is the state of one submission's write loop.
type batch struct {
	session  *Session
	director *director.Director
	tx       types.Tx

	synced    []*tracker.TrackedEntity
	inserted  []*tracker.TrackedEntity
	deleted   []*tracker.TrackedEntity
	attempted int
	failed    int
}

func (b *batch) write(ctx context.Context, ordered []*tracker.TrackedEntity, mode types.ConflictMode) error {
	s := b.session
	for _, te := range ordered {
		action := te.Action()
		if action != types.ActionDelete {
			wrote, err := te.SynchDependentData()
			if err != nil {
				return err
			}
			if wrote {
				b.synced = append(b.synced, te)
			}
		}

		switch {
		case te.IsNew():
			action = types.ActionInsert
		case te.IsDeleted():
			action = types.ActionDelete
			b.attempted++
		case te.IsModified():
			if err := te.ValidateModifications(); err != nil {
				return err
			}
			action = types.ActionUpdate
			b.attempted++
		default:
			continue
		}

		start := time.Now()
		err := b.director.Write(ctx, te)
		s.observer.WriteIssued(ctx, action, te.Type().Name(), time.Since(start), err)
		switch {
		case err == nil:
			if action == types.ActionInsert {
				b.inserted = append(b.inserted, te)
			} else if action == types.ActionDelete {
				b.deleted = append(b.deleted, te)
			}
		case errors.Is(err, types.ErrChangeConflict) && action != types.ActionInsert:
			b.failed++
			s.conflicts.Add(s.newConflict(te, action))
			s.log.DebugContext(ctx, "change conflict", "action", action, "type", te.Type().Name(), "key", te.Type().KeyValues(te.Current()))
			if mode == types.FailOnFirstConflict {
				return nil
			}
		default:
			return err
		}
	}
	return nil
}

// abort undoes the batch's effects on entities and the transaction, then
// returns cause.
func (b *batch) abort(ctx context.Context, cause error) error {
	b.director.RollbackAutoSync()
	for _, te := range b.synced {
		te.SynchDependentData()
	}
	if b.tx != nil {
		if err := b.tx.Rollback(); err != nil {
			b.session.log.ErrorContext(ctx, "rollback failed", "error", err)
		}
	}
	return cause
}

// newConflict records a failed write. The database row is fetched lazily
// outside the failed transaction.
func (s *Session) newConflict(te *tracker.TrackedEntity, action types.ChangeAction) *conflict.ObjectConflict {
	mt := te.Type()
	keySource := te.Original()
	if keySource == nil {
		keySource = te.Current()
	}
	keys := mt.KeyValues(keySource)
	fetch := func(ctx context.Context) (any, error) {
		return s.fetch(ctx, s.provider, mt, keys)
	}
	resolveDelete := func() error {
		if !te.IsDeleted() {
			if err := te.ConvertToDeleted(); err != nil {
				return err
			}
		}
		s.ids.RemoveLike(mt, keySource)
		return te.ConvertToDead()
	}
	return conflict.New(te, action, fetch, resolveDelete)
}

// trackUntracked walks the graph from every interesting entity, tracking
// reachable instances the session has not seen as new. A new entity whose
// key belongs to a cached entity pending deletion replaces it and becomes an
// update.
func (s *Session) trackUntracked() error {
	visited := make(map[any]bool)
	for _, te := range s.tracker.Interesting() {
		if err := s.trackReachable(te.Current(), visited); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) trackReachable(entity any, visited map[any]bool) error {
	if visited[entity] {
		return nil
	}
	visited[entity] = true

	te, ok := s.tracker.Get(entity)
	if !ok {
		var err error
		if te, err = s.tracker.TrackNew(entity); err != nil {
			return err
		}
	} else if te.IsDead() || te.IsRemoved() {
		return nil
	}

	for _, p := range s.tracker.Parents(te) {
		if err := s.trackReachable(p, visited); err != nil {
			return err
		}
	}

	if te.IsNew() {
		mt := te.Type()
		te.GenerateKeys()
		if !te.IsPendingGeneration(mt.IdentityMembers()) {
			if _, err := te.SynchDependentData(); err != nil {
				return err
			}
			if cached := s.ids.InsertLookup(mt, entity); cached != entity {
				if err := s.replaceCached(te, cached); err != nil {
					return err
				}
			}
		} else if cached := s.ids.FindLike(mt, entity); cached != nil && cached != entity {
			if err := s.replaceCached(te, cached); err != nil {
				return err
			}
		}
	}

	for _, c := range s.tracker.Children(te) {
		if err := s.trackReachable(c, visited); err != nil {
			return err
		}
	}
	return nil
}

// replaceCached resolves a new entity colliding with cached in the identity
// map. A dead or removed cached entity gives up its key. A deleted or
// inferred-deleted one gives it up too and the new entity updates its row.
// Any other collision is a duplicate key.
func (s *Session) replaceCached(te *tracker.TrackedEntity, cached any) error {
	mt := te.Type()
	cte, ok := s.tracker.Get(cached)
	if !ok {
		return &types.DuplicateKeyError{Type: mt.Name(), Key: mt.KeyValues(te.Current()), Entity: te.Current()}
	}
	switch {
	case cte.IsDead() || cte.IsRemoved():
	case cte.IsDeleted() || cte.CanInferDelete():
		if err := te.ConvertToPossiblyModifiedFrom(cte.Original()); err != nil {
			return err
		}
		if !cte.IsDeleted() {
			if err := cte.ConvertToDeleted(); err != nil {
				return err
			}
		}
		if err := cte.ConvertToDead(); err != nil {
			return err
		}
	default:
		return &types.DuplicateKeyError{Type: mt.Name(), Key: mt.KeyValues(te.Current()), Entity: te.Current()}
	}
	s.ids.RemoveLike(mt, cached)
	s.ids.InsertLookup(mt, te.Current())
	return nil
}

// applyInferredDeletions turns entities whose delete-on-null parent
// reference was cleared into deletes, or cancels them if still new.
func (s *Session) applyInferredDeletions() error {
	for _, te := range s.tracker.Interesting() {
		if !te.CanInferDelete() {
			continue
		}
		if !te.IsNew() {
			if err := te.ConvertToDeleted(); err != nil {
				return err
			}
			continue
		}
		if err := te.ConvertToRemoved(); err != nil {
			return err
		}
		s.evict(te)
	}
	return nil
}

// postProcess fixes the identity map and the in-memory graph after a commit.
func (s *Session) postProcess(inserted, deleted []*tracker.TrackedEntity) error {
	for _, te := range s.tracker.All() {
		if te.IsRemoved() {
			s.evict(te)
		}
	}
	for _, te := range deleted {
		src := te.Original()
		if src == nil {
			src = te.Current()
		}
		s.ids.RemoveLike(te.Type(), src)
		s.clearForeignKeyReferences(te)
	}
	for _, te := range inserted {
		mt := te.Type()
		if cached := s.ids.InsertLookup(mt, te.Current()); cached != te.Current() {
			return &types.DuplicateKeyError{Type: mt.Name(), Key: mt.KeyValues(te.Current()), Entity: te.Current()}
		}
		mt.Loaded(te.Current())
	}
	return nil
}

// clearForeignKeyReferences unlinks a deleted entity from the parents it
// referenced, so the remaining graph no longer reaches it.
func (s *Session) clearForeignKeyReferences(te *tracker.TrackedEntity) {
	cur := te.Current()
	for _, a := range te.Type().Associations() {
		if !a.IsForeignKey || a.IsMany {
			continue
		}
		if a.OtherMember == nil || !a.OtherKeyIsPrimaryKey {
			clearForeignKeys(te, a.ThisMember, a.ThisKey)
			continue
		}
		keys := make([]any, len(a.ThisKey))
		for i, m := range a.ThisKey {
			keys[i] = m.Get(cur)
		}
		cached := s.ids.Find(a.OtherType, keys)
		if cached == nil {
			continue
		}
		otherType, err := s.typeOf(cached)
		if err != nil {
			continue
		}
		other := a.OtherMemberFor(otherType)
		if other.Association != nil && other.Association.IsMany {
			other.RemoveItem(cached, cur)
		} else if other.Get(cached) == cur {
			other.Set(cached, nil)
		}
		clearForeignKeys(te, a.ThisMember, a.ThisKey)
	}
}

// clearForeignKeys nulls the reference and the nullable foreign-key members
// of a deleted entity.
func clearForeignKeys(te *tracker.TrackedEntity, ref *schema.MetaMember, keys []*schema.MetaMember) {
	ref.Set(te.Current(), nil)
	for _, m := range keys {
		if m.CanBeNull {
			m.Set(te.Current(), nil)
		}
	}
}
