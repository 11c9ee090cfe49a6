// Package tracker records, per entity instance, the last synchronised
// baseline and a lifecycle state, and decides which entities need a write.
package tracker

// State is the lifecycle state of a tracked entity.
type State int

const (
	// StateNew entities are inserted on submit.
	StateNew State = iota
	// StatePossiblyModified entities are updated when their values differ
	// from the baseline.
	StatePossiblyModified
	// StateModified entities are updated unconditionally.
	StateModified
	// StateDeleted entities are deleted on submit.
	StateDeleted
	// StateRemoved entities were new and deleted before being persisted.
	StateRemoved
	// StateDead entities were deleted. They stay as tombstones.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StatePossiblyModified:
		return "possibly_modified"
	case StateModified:
		return "modified"
	case StateDeleted:
		return "deleted"
	case StateRemoved:
		return "removed"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

func (s State) in(states ...State) bool {
	for _, x := range states {
		if s == x {
			return true
		}
	}
	return false
}
