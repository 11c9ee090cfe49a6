package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/unitofwork/internal/logging"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

func newPingCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the configured backend accepts transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := f.load()
			if err != nil {
				return err
			}
			start := time.Now()
			s, err := openSession(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			tx, err := s.Provider().BeginTx(ctx)
			if err != nil {
				return fmt.Errorf("begin: %w", err)
			}
			if err := tx.Rollback(); err != nil {
				return fmt.Errorf("rollback: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok backend=%s elapsed=%s\n", cfg.Backend, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func newLogger(cmd *cobra.Command, cfg types.Config) *slog.Logger {
	return logging.New(cmd.ErrOrStderr(), cfg)
}
