package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/austindbirch/task_sweeper/internal/sweep"
)

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the task table is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			if err := cfg.Validate(); err != nil {
				return &sweep.ConfigError{Err: err}
			}
			ctx, cancel := a.context()
			defer cancel()

			st, err := a.open(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			if err := st.Ping(ctx); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "✗ Table %s is unreachable: %v\n", cfg.Store.TableName, err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Table %s is reachable\n", cfg.Store.TableName)
			return nil
		},
	}
}
