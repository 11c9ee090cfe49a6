// Package paths resolves the configuration and data directories of the uow
// command.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the directory name used under the platform locations.
const AppName = "uow"

// EnvConfigDir overrides the configuration directory.
const EnvConfigDir = "UOW_CONFIG_DIR"

// platform holds the lookups tests override.
var platform = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
	getenv        func(string) string
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
	getenv:        os.Getenv,
}

// base returns the XDG directory named by xdgVar on Linux, falling back to
// ~/<fallback>. Other platforms use os.UserConfigDir for both kinds.
func base(xdgVar string, fallback ...string) (string, error) {
	if platform.goos != "linux" {
		dir, err := platform.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppName), nil
	}
	if xdg := platform.getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := platform.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, fallback...), AppName)...), nil
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/uow on Linux (~/.config/uow when
// unset) and the user config directory elsewhere.
func DefaultConfigDir() (string, error) {
	return base("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns $XDG_DATA_HOME/uow on Linux (~/.local/share/uow
// when unset) and the user config directory elsewhere.
func DefaultDataDir() (string, error) {
	return base("XDG_DATA_HOME", ".local", "share")
}

// ResolveConfigDir applies flag > UOW_CONFIG_DIR > DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := platform.getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir applies flag > configured > DefaultDataDir. configured is the
// data_dir loaded from config.yaml or the environment.
func ResolveDataDir(flag, configured string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if configured != "" {
		return filepath.Abs(configured)
	}
	return DefaultDataDir()
}
