package types

import (
	"errors"
	"time"
)

// Config holds backend selection and session parameters for Open.
type Config struct {
	Backend        string        `json:"backend" yaml:"backend" mapstructure:"backend"`
	DSN            string        `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
	DataDir        string        `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	CommandTimeout time.Duration `json:"command_timeout" yaml:"command_timeout" mapstructure:"command_timeout"`
	ConflictMode   string        `json:"conflict_mode" yaml:"conflict_mode" mapstructure:"conflict_mode"`
	ReadOnly       bool          `json:"read_only" yaml:"read_only" mapstructure:"read_only"`
	LogLevel       string        `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogFormat      string        `json:"log_format" yaml:"log_format" mapstructure:"log_format"`
}

// Supported backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Conflict mode names accepted in configuration.
const (
	ConflictModeFailOnFirst = "fail_on_first_conflict"
	ConflictModeContinue    = "continue_on_conflict"
)

// Default values applied by Normalize.
const (
	DefaultCommandTimeout = 30 * time.Second
	DefaultDatabaseFile   = "uow.db"
)

// Config validation errors.
var (
	ErrBackendEmpty          = errors.New("backend must not be empty")
	ErrBackendUnknown        = errors.New("unknown backend")
	ErrDSNRequired           = errors.New("dsn is required for this backend")
	ErrCommandTimeoutInvalid = errors.New("command timeout must not be negative")
	ErrConflictModeUnknown   = errors.New("unknown conflict mode")
	ErrLogFormatUnknown      = errors.New("unknown log format")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite:   true,
	BackendPostgres: true,
	BackendMemory:   true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Backend == BackendPostgres && c.DSN == "" {
		return ErrDSNRequired
	}
	if c.CommandTimeout < 0 {
		return ErrCommandTimeoutInvalid
	}
	if _, err := ParseConflictMode(c.ConflictMode); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return ErrLogFormatUnknown
	}
	return nil
}

// Normalize returns a copy of c with defaults filled in for empty fields.
func (c Config) Normalize() Config {
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.ConflictMode == "" {
		c.ConflictMode = ConflictModeFailOnFirst
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	return c
}

// ParseConflictMode maps a configuration name to a ConflictMode. The empty
// string selects FailOnFirstConflict.
func ParseConflictMode(name string) (ConflictMode, error) {
	switch name {
	case "", ConflictModeFailOnFirst:
		return FailOnFirstConflict, nil
	case ConflictModeContinue:
		return ContinueOnConflict, nil
	default:
		return FailOnFirstConflict, ErrConflictModeUnknown
	}
}
