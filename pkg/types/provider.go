package types

import "context"

// Column pairs a column name with a value.
type Column struct {
	Name  string
	Value any
}

// Returning names a column whose post-write value is scanned into Target.
// Target is a pointer produced by the member's scan target.
type Returning struct {
	Name   string
	Target any
}

// Command describes a single-row write. Keys select the row by primary key;
// Checks add the optimistic concurrency predicate (a nil value compares with
// IS NULL). Values are the inserted columns or the updated SET list.
type Command struct {
	Action    ChangeAction
	Table     string
	Values    []Column
	Keys      []Column
	Checks    []Column
	Returning []Returning
}

// Result reports the outcome of a Command. When the command requested
// returned columns, Returned is true only if a row was written and the
// targets were filled.
type Result struct {
	RowsAffected int64
	Returned     bool
}

// Lookup selects a single row by key for existence checks and fetches.
type Lookup struct {
	Table   string
	Keys    []Column
	Columns []string
}

// Executor runs commands and lookups against one logical connection.
type Executor interface {
	// Execute runs a generated insert, update or delete.
	Execute(ctx context.Context, cmd Command) (Result, error)

	// Exists reports whether the row selected by lookup is present.
	Exists(ctx context.Context, lookup Lookup) (bool, error)

	// Fetch scans the lookup's columns into dest, which holds one pointer per
	// column. It reports false when no row matches.
	Fetch(ctx context.Context, lookup Lookup, dest []any) (bool, error)
}

// Tx is an Executor bound to a transaction.
type Tx interface {
	Executor
	Commit() error
	Rollback() error
}

// Provider is the Data Access Provider the engine writes through. Reads that
// run outside a submission use the Provider's own Executor methods.
type Provider interface {
	Executor

	// BeginTx starts a transaction at read-committed isolation or the
	// nearest level the backend offers.
	BeginTx(ctx context.Context) (Tx, error)

	// Close releases backend resources. Close is idempotent.
	Close() error
}
