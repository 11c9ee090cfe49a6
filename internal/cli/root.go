// Package cli implements the uow command-line interface: configuration
// bootstrap and backend connectivity checks for unit-of-work sessions.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/unitofwork/internal/config"
	"github.com/mesh-intelligence/unitofwork/internal/paths"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// userError marks failures caused by flags or configuration.
type userError struct{ err error }

func (e userError) Error() string { return e.err.Error() }
func (e userError) Unwrap() error { return e.err }

// rootFlags holds global flag values shared by subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
}

// NewRootCmd creates the top-level "uow" command with global flags and all
// subcommands registered.
func NewRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "uow",
		Short: "Unit-of-work change tracking over SQL and in-memory backends",
		Long: "uow manages the configuration used by unit-of-work sessions and\n" +
			"checks that the configured backend accepts transactions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&f.configDir, "config-dir", "", "configuration directory (env "+paths.EnvConfigDir+")")
	root.PersistentFlags().StringVar(&f.dataDir, "data-dir", "", "data directory for the sqlite backend")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(f))
	root.AddCommand(newConfigCmd(f))
	root.AddCommand(newPingCmd(f))
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ue userError
		if errors.As(err, &ue) {
			return exitUserError
		}
		return exitSysError
	}
	return exitSuccess
}

// load resolves the directories and reads the configuration.
func (f *rootFlags) load() (types.Config, string, error) {
	dir, err := paths.ResolveConfigDir(f.configDir)
	if err != nil {
		return types.Config{}, "", fmt.Errorf("resolve config dir: %w", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return types.Config{}, dir, userError{err}
	}
	if cfg.Backend != types.BackendSQLite && f.dataDir == "" && cfg.DataDir == "" {
		return cfg, dir, nil
	}
	data, err := paths.ResolveDataDir(f.dataDir, cfg.DataDir)
	if err != nil {
		return types.Config{}, dir, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = data
	return cfg, dir, nil
}
