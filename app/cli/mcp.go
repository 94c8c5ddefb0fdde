package cli

import (
	"context"
	"errors"

	"tasktree/app/mcp"
	"tasktree/app/services"

	"github.com/spf13/cobra"
)

func mcpCmd(opts *options) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the task tools over MCP (stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if user != "" {
				cfg.MCP.User = user
			}
			if cfg.MCP.User == "" {
				return errors.New("an MCP user is required: set --user or mcp.user")
			}

			st, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close(context.Background())

			logger.Info("mcp server starting", "user", cfg.MCP.User)
			return mcp.Serve(mcp.NewServer(services.NewTaskService(st, logger), cfg.MCP.User))
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user the tools act as (overrides mcp.user)")
	return cmd
}
