package types

// ConflictMode selects how SubmitChanges reacts to optimistic-concurrency
// conflicts.
type ConflictMode int

const (
	// FailOnFirstConflict stops issuing writes after the first conflict.
	FailOnFirstConflict ConflictMode = iota
	// ContinueOnConflict attempts every write and reports all conflicts.
	ContinueOnConflict
)

func (m ConflictMode) String() string {
	switch m {
	case FailOnFirstConflict:
		return ConflictModeFailOnFirst
	case ContinueOnConflict:
		return ConflictModeContinue
	default:
		return "unknown"
	}
}

// RefreshMode selects how fresh database values are merged into a tracked
// entity.
type RefreshMode int

const (
	// KeepCurrentValues leaves current values alone and only advances the
	// baseline.
	KeepCurrentValues RefreshMode = iota
	// KeepChanges overwrites members the application has not changed.
	KeepChanges
	// OverwriteCurrentValues overwrites every data member.
	OverwriteCurrentValues
)

func (m RefreshMode) String() string {
	switch m {
	case KeepCurrentValues:
		return "keep_current_values"
	case KeepChanges:
		return "keep_changes"
	case OverwriteCurrentValues:
		return "overwrite_current_values"
	default:
		return "unknown"
	}
}

// ChangeAction is the write an entity contributes to a submission.
type ChangeAction int

const (
	ActionNone ChangeAction = iota
	ActionInsert
	ActionUpdate
	ActionDelete
)

func (a ChangeAction) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "none"
	}
}

// UpdateCheck controls whether a member takes part in the optimistic
// concurrency predicate of updates and deletes.
type UpdateCheck int

const (
	// CheckWhenChanged compares the member only when it was modified.
	CheckWhenChanged UpdateCheck = iota
	// CheckAlways always compares the member.
	CheckAlways
	// CheckNever never compares the member.
	CheckNever
)

// AutoSync controls when a member's value is read back from the backend
// after a write.
type AutoSync int

const (
	// AutoSyncDefault is resolved from the member's other flags when the
	// model is built.
	AutoSyncDefault AutoSync = iota
	AutoSyncNever
	AutoSyncOnInsert
	AutoSyncOnUpdate
	AutoSyncAlways
)

// ChangeNotifier is implemented by entities that announce mutations before
// they happen. The tracker registers a hook and defers taking a baseline
// snapshot until the first announcement.
type ChangeNotifier interface {
	OnChanging(hook func())
}
