package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/unitofwork/internal/config"
	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/session"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

func newInitCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configuration and the sqlite database",
		Long: "Write a default config.yaml if none exists and, for the sqlite\n" +
			"backend, create the data directory and database file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, err := f.load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config: %s\n", config.Path(dir))
			if cfg.Backend != types.BackendSQLite {
				return nil
			}
			s, err := openSession(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "data: %s\n", cfg.DataDir)
			return s.Close()
		},
	}
}

// openSession opens a session over an empty model. The commands only need
// the provider the session owns.
func openSession(ctx context.Context, cmd *cobra.Command, cfg types.Config) (*session.Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	model := schema.NewModel()
	if err := model.Build(); err != nil {
		return nil, err
	}
	return session.Open(ctx, cfg, model, session.WithLogger(newLogger(cmd, cfg)))
}
