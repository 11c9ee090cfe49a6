package sqldb

import (
	"database/sql"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between supported backends.
type Dialect struct {
	Name      string
	Isolation sql.IsolationLevel
	bind      func(n int) string
}

// SQLite binds with ? and runs transactions at SQLite's default
// (serializable) isolation.
var SQLite = Dialect{
	Name:      "sqlite",
	Isolation: sql.LevelDefault,
	bind:      func(int) string { return "?" },
}

// Postgres binds with $n and runs transactions at read committed.
var Postgres = Dialect{
	Name:      "postgres",
	Isolation: sql.LevelReadCommitted,
	bind:      func(n int) string { return "$" + strconv.Itoa(n) },
}

// Quote returns ident as a double-quoted identifier.
func (d Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
