package types

import (
	"errors"
	"fmt"
)

// Lookup errors.
var (
	ErrNotFound          = errors.New("entity not found")
	ErrTypeNotRegistered = errors.New("entity type not registered")
	ErrInvalidEntity     = errors.New("invalid entity")
)

// Tracking errors.
var (
	ErrInvalidStateTransition      = errors.New("invalid state transition")
	ErrNotTracked                  = errors.New("entity is not tracked")
	ErrAlreadyTracked              = errors.New("entity is already tracked")
	ErrCannotAddExisting           = errors.New("cannot add an entity that already exists")
	ErrAttachModifiedNeedsVersion  = errors.New("attaching as modified requires a version member or no update-check members")
	ErrReadOnly                    = errors.New("object tracking is disabled")
	ErrIdentityChangeNotAllowed    = errors.New("primary key members cannot be changed")
	ErrDBGeneratedChangeNotAllowed = errors.New("database-generated members cannot be changed")
	ErrCannotRemoveRelationship    = errors.New("a required relationship cannot be set to null")
	ErrInconsistentAssociationKey  = errors.New("association and foreign key were changed inconsistently")
	ErrCannotChangeInheritanceType = errors.New("cannot change the inheritance type of an existing entity")
)

// Submission errors.
var (
	ErrValidationFailed     = errors.New("validation failed")
	ErrChangeConflict       = errors.New("change conflict")
	ErrCycleDetected        = errors.New("cycle detected in dependency graph")
	ErrDuplicateKey         = errors.New("duplicate key")
	ErrSubmitInProgress     = errors.New("submit already in progress")
	ErrInsertAutoSyncFailed = errors.New("insert returned no auto-sync values")
	ErrRefreshDeleted       = errors.New("cannot refresh an entity that no longer exists")
	ErrProviderClosed       = errors.New("provider is closed")
)

// ValidationError reports a validation hook or rule rejecting a pending
// action.
type ValidationError struct {
	Type    string       `json:"type"`
	Action  ChangeAction `json:"action"`
	Rule    string       `json:"rule,omitempty"`
	Message string       `json:"message"`
	Err     error        `json:"-"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%s %s: rule %q: %s", e.Action, e.Type, e.Rule, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Action, e.Type, e.Message)
}

// Unwrap returns ErrValidationFailed and the hook's own error for errors.Is.
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidationFailed, e.Err}
	}
	return []error{ErrValidationFailed}
}

// DuplicateKeyError reports an entity whose key is already held by another
// live instance.
type DuplicateKeyError struct {
	Type   string
	Key    []any
	Entity any
}

// Error implements the error interface.
func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: key %v is already in use", e.Type, e.Key)
}

// Unwrap returns ErrDuplicateKey for errors.Is compatibility.
func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}
