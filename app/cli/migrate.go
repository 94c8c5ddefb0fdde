package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the storage schema (tables, constraints, indexes)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close(context.Background())

			fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (%s)\n", cfg.Storage.Driver)
			return nil
		},
	}
}
