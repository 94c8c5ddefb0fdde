package cli

import (
	"context"
	"errors"
	"fmt"

	"tasktree/app/seed"
	"tasktree/app/services"

	"github.com/spf13/cobra"
)

func seedCmd(opts *options) *cobra.Command {
	var (
		file  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load sample tasks from a YAML fixture",
		Long: `Load sample tasks from a YAML fixture.

Without --file the built-in fixture is used. Seeding refuses to run when a
fixture user already has tasks unless --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			fixture, err := seed.Load(file)
			if err != nil {
				return err
			}

			st, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close(context.Background())

			sum, err := seed.Apply(cmd.Context(), services.NewTaskService(st, logger), fixture, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d users, %d tasks, %d comments\n", sum.Users, sum.Tasks, sum.Comments)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "fixture file (default: built-in sample data)")
	cmd.Flags().BoolVar(&force, "force", false, "replace existing tasks of the fixture users")
	return cmd
}

func cleanCmd(opts *options) *cobra.Command {
	var (
		user string
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete tasks and comments of one user or of everyone",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (user == "") == !all {
				return errors.New("specify exactly one of --user or --all")
			}
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close(context.Background())

			if err := seed.Clean(cmd.Context(), services.NewTaskService(st, logger), user); err != nil {
				return err
			}
			target := user
			if all {
				target = "all users"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleaned tasks of %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user whose tasks are deleted")
	cmd.Flags().BoolVar(&all, "all", false, "delete the tasks of every user")
	return cmd
}
