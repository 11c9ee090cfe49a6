// Package config loads types.Config for the uow command.
//
// Values come from, in increasing precedence: built-in defaults, config.yaml
// in the configuration directory, and UOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

const (
	fileName = "config"
	fileType = "yaml"
	fileExt  = "config.yaml"

	// EnvPrefix is prepended to upper-cased keys, e.g. UOW_BACKEND.
	EnvPrefix = "UOW"
)

// Keys of the configuration file.
const (
	KeyBackend        = "backend"
	KeyDSN            = "dsn"
	KeyDataDir        = "data_dir"
	KeyCommandTimeout = "command_timeout"
	KeyConflictMode   = "conflict_mode"
	KeyReadOnly       = "read_only"
	KeyLogLevel       = "log_level"
	KeyLogFormat      = "log_format"
)

// DefaultYAML is written to config.yaml when the file does not exist.
const DefaultYAML = `# uow configuration

# Backend: sqlite, postgres or memory
backend: sqlite

# Connection string; required for postgres, optional for sqlite
# dsn:

# Directory holding the sqlite database or memory snapshots
# (overridable by --data-dir)
# data_dir:

command_timeout: 30s
conflict_mode: fail_on_first_conflict
read_only: false

log_level: info
log_format: json
`

// defaults mirror types.Config.Normalize so every key is known to viper
// and therefore bound to its environment variable.
func defaults(v *viper.Viper) {
	v.SetDefault(KeyBackend, types.BackendSQLite)
	v.SetDefault(KeyDSN, "")
	v.SetDefault(KeyDataDir, "")
	v.SetDefault(KeyCommandTimeout, types.DefaultCommandTimeout)
	v.SetDefault(KeyConflictMode, types.ConflictModeFailOnFirst)
	v.SetDefault(KeyReadOnly, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
}

// New returns a viper instance reading dir/config.yaml and the environment.
// It does not touch the filesystem.
func New(dir string) *viper.Viper {
	v := viper.New()
	defaults(v)
	v.SetConfigName(fileName)
	v.SetConfigType(fileType)
	v.AddConfigPath(dir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load ensures dir and a default config.yaml exist, then reads the
// configuration. A config.yaml that cannot be found is not an error. The
// result is normalized and validated.
func Load(dir string) (types.Config, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Config{}, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultFile(dir); err != nil {
		return types.Config{}, fmt.Errorf("ensure default config: %w", err)
	}
	return Read(New(dir))
}

// Read decodes v into a normalized, validated Config.
func Read(v *viper.Viper) (types.Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return types.Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Path returns the config.yaml location inside dir.
func Path(dir string) string { return filepath.Join(dir, fileExt) }

func ensureDefaultFile(dir string) error {
	path := Path(dir)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(DefaultYAML), 0o644)
}
