package session

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// GetByKey returns the entity of type mt with the given identity key. The
// identity map is consulted first; on a miss the row is fetched and tracked.
// It returns types.ErrNotFound when no live row exists.
func (s *Session) GetByKey(ctx context.Context, mt *schema.MetaType, keys ...any) (any, error) {
	if cached := s.ids.Find(mt, keys); cached != nil {
		te, ok := s.tracker.Get(cached)
		switch {
		case ok && te.IsRemoved():
			s.evict(te)
		case ok && (te.IsDeleted() || te.IsDead()):
			return nil, fmt.Errorf("%s %v: %w", mt.Name(), keys, types.ErrNotFound)
		default:
			return cached, nil
		}
	}
	entity, err := s.fetch(ctx, s.executor(), mt, keys)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, fmt.Errorf("%s %v: %w", mt.Name(), keys, types.ErrNotFound)
	}
	return s.Track(entity)
}

// Get is GetByKey for a statically known entity type.
func Get[T any](ctx context.Context, s *Session, keys ...any) (*T, error) {
	mt, err := schema.TypeFor[T](s.model)
	if err != nil {
		return nil, err
	}
	entity, err := s.GetByKey(ctx, mt, keys...)
	if err != nil {
		return nil, err
	}
	out, ok := entity.(*T)
	if !ok {
		return nil, fmt.Errorf("%s %v is a %T: %w", mt.Name(), keys, entity, types.ErrInvalidEntity)
	}
	return out, nil
}

// Refresh reloads entities from the database. mode decides which current
// values survive; baselines always take the database values.
func (s *Session) Refresh(ctx context.Context, mode types.RefreshMode, entities ...any) error {
	for _, entity := range entities {
		te, ok := s.tracker.Get(entity)
		if !ok {
			return fmt.Errorf("%T: %w", entity, types.ErrNotTracked)
		}
		keySource := te.Original()
		if keySource == nil {
			keySource = te.Current()
		}
		mt := te.Type()
		fresh, err := s.fetch(ctx, s.executor(), mt, mt.KeyValues(keySource))
		if err != nil {
			return err
		}
		if fresh == nil {
			return fmt.Errorf("%s %v: %w", mt.Name(), mt.KeyValues(keySource), types.ErrRefreshDeleted)
		}
		if err := te.Refresh(mode, fresh); err != nil {
			return err
		}
	}
	return nil
}

// fetch reads one row of mt by key into a new instance of the concrete type
// named by its discriminator. It returns nil when the row is missing.
func (s *Session) fetch(ctx context.Context, exec types.Executor, mt *schema.MetaType, keys []any) (any, error) {
	root := mt.Root()
	ids := root.IdentityMembers()
	if len(keys) != len(ids) {
		return nil, fmt.Errorf("%s: want %d key values, got %d: %w", mt.Name(), len(ids), len(keys), types.ErrInvalidEntity)
	}
	lookup := types.Lookup{Table: root.Table()}
	for i, m := range ids {
		lookup.Keys = append(lookup.Keys, types.Column{Name: m.Column, Value: keys[i]})
	}

	typ := mt
	if d := root.Discriminator(); d != nil {
		target := d.ScanTarget()
		lookup.Columns = []string{d.Column}
		found, err := s.fetchRow(ctx, exec, lookup, []any{target})
		if err != nil || !found {
			return nil, err
		}
		if typ = root.TypeForCode(d.ScannedValue(target)); typ == nil {
			return nil, fmt.Errorf("%s: unknown discriminator %v: %w", root.Name(), d.ScannedValue(target), types.ErrTypeNotRegistered)
		}
	}

	members := typ.DataMembers()
	lookup.Columns = make([]string, len(members))
	dest := make([]any, len(members))
	for i, m := range members {
		lookup.Columns[i] = m.Column
		dest[i] = m.ScanTarget()
	}
	found, err := s.fetchRow(ctx, exec, lookup, dest)
	if err != nil || !found {
		return nil, err
	}
	entity := typ.New()
	for i, m := range members {
		m.Set(entity, m.ScannedValue(dest[i]))
	}
	return entity, nil
}

func (s *Session) fetchRow(ctx context.Context, exec types.Executor, lookup types.Lookup, dest []any) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	found, err := exec.Fetch(ctx, lookup, dest)
	if err != nil {
		return false, fmt.Errorf("fetch %s: %w", lookup.Table, err)
	}
	return found, nil
}
