// Package cli implements the tasktree command line.
package cli

import (
	"fmt"
	"os"

	"tasktree/app/config"
	"tasktree/app/logging"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the tasktree command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "tasktree",
		Short: "tasktree - hierarchical task tracking service",
		Long: `tasktree serves per-user task trees over HTTP and MCP.

A task with pending subtasks cannot be completed, and a subtask cannot be
reopened while its parent is completed.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./tasktree.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(mcpCmd(opts))
	rootCmd.AddCommand(migrateCmd(opts))
	rootCmd.AddCommand(seedCmd(opts))
	rootCmd.AddCommand(cleanCmd(opts))

	return rootCmd
}

// Execute runs the root command
func Execute(version string) error {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// load reads the configuration and builds the logger. Logs go to stderr so
// stdout stays free for command output and the MCP protocol.
func (o *options) load(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		if _, err := logging.ParseLevel(o.logLevel); err != nil {
			return nil, nil, err
		}
		cfg.Log.Level = o.logLevel
	}

	opts := logging.DefaultOptions()
	opts.Level = cfg.Log.Level
	opts.Format = cfg.Log.Format
	return cfg, logging.New(cmd.ErrOrStderr(), opts), nil
}
