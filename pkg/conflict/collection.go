package conflict

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// Collection holds the conflicts of the last failed submission.
type Collection struct {
	items []*ObjectConflict
}

// Add appends a conflict.
func (c *Collection) Add(oc *ObjectConflict) {
	c.items = append(c.items, oc)
}

// Len returns the number of conflicts.
func (c *Collection) Len() int { return len(c.items) }

// At returns the i-th conflict.
func (c *Collection) At(i int) *ObjectConflict { return c.items[i] }

// All returns the conflicts in detection order.
func (c *Collection) All() []*ObjectConflict {
	return slices.Clone(c.items)
}

// Contains reports whether oc is in the collection.
func (c *Collection) Contains(oc *ObjectConflict) bool {
	return slices.Contains(c.items, oc)
}

// Remove drops oc and reports whether it was present.
func (c *Collection) Remove(oc *ObjectConflict) bool {
	i := slices.Index(c.items, oc)
	if i < 0 {
		return false
	}
	c.items = slices.Delete(c.items, i, i+1)
	return true
}

// Clear empties the collection.
func (c *Collection) Clear() {
	c.items = nil
}

// Find returns the conflict recorded for entity.
func (c *Collection) Find(entity any) (*ObjectConflict, bool) {
	for _, oc := range c.items {
		if oc.Entity() == entity {
			return oc, true
		}
	}
	return nil, false
}

// ResolveAll resolves every unresolved conflict with mode. Errors from
// individual conflicts are joined.
func (c *Collection) ResolveAll(ctx context.Context, mode types.RefreshMode, autoResolveDeletes bool) error {
	var errs []error
	for _, oc := range c.items {
		if oc.IsResolved() {
			continue
		}
		if err := oc.Resolve(ctx, mode, autoResolveDeletes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Error is returned by SubmitChanges when writes failed their concurrency
// check. Nothing from the submission was committed.
type Error struct {
	Conflicts *Collection
	Failed    int
	Attempted int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Failed == 1 && e.Attempted == 1 {
		return "row not found or changed"
	}
	return fmt.Sprintf("%d of %d updates failed", e.Failed, e.Attempted)
}

// Unwrap returns types.ErrChangeConflict for errors.Is compatibility.
func (e *Error) Unwrap() error {
	return types.ErrChangeConflict
}
