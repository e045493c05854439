// Database migration CLI for AgentHub
//
// Usage:
//
//	migrate up [N]          Apply all (or N) pending migrations
//	migrate down [N|--all]  Roll back the last (or N, or every) migration
//	migrate goto V          Migrate up or down to version V
//	migrate version         Show the current schema version
//	migrate force V         Force the recorded version (fix a dirty state)
//	migrate create NAME     Create a new pair of migration files
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Winger29/FSDP-Assignment2/internal/config"
	"github.com/Winger29/FSDP-Assignment2/internal/db"
	"github.com/Winger29/FSDP-Assignment2/internal/logging"
)

var migrationsPath string

func main() {
	logging.Init()
	defer logging.Sync()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "AgentHub database migration tool",
		Long:          "Applies the versioned SQL migrations in ./migrations to the database configured by DATABASE_URL or DB_*.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&migrationsPath, "path", envOr("MIGRATIONS_PATH", "migrations"), "migrations directory")

	root.AddCommand(upCmd(), downCmd(), gotoCmd(), versionCmd(), forceCmd(), createCmd())
	return root
}

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up [N]",
		Short: "Apply all pending migrations, or the next N",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := optionalCount(args)
			if err != nil {
				return err
			}
			return withRunner(func(r *db.MigrationRunner) error { return r.Up(n) })
		},
	}
}

func downCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "down [N]",
		Short: "Roll back the last migration, the last N, or all with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				if len(args) > 0 {
					return fmt.Errorf("--all does not take a count")
				}
				logging.L().Warn("Rolling back every migration; all data will be dropped")
				return withRunner(func(r *db.MigrationRunner) error { return r.Down(0) })
			}
			n, err := optionalCount(args)
			if err != nil {
				return err
			}
			if n == 0 {
				n = 1
			}
			return withRunner(func(r *db.MigrationRunner) error { return r.Down(n) })
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return cmd
}

func gotoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "goto V",
		Short: "Migrate to version V",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return withRunner(func(r *db.MigrationRunner) error { return r.To(uint(v)) })
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(func(r *db.MigrationRunner) error {
				status, err := r.Version()
				if err != nil {
					return err
				}
				if !status.Applied {
					fmt.Fprintln(cmd.OutOrStdout(), "No migrations applied")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Version: %d\n", status.Version)
				if status.Dirty {
					fmt.Fprintln(cmd.OutOrStdout(), "State is dirty: fix the failed migration, then run `migrate force <version>`")
				}
				return nil
			})
		},
	}
}

func forceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force V",
		Short: "Set the recorded version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return withRunner(func(r *db.MigrationRunner) error { return r.Force(v) })
		},
	}
}

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Create the next pair of up/down migration files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			up, down, err := createMigration(migrationsPath, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created:\n  %s\n  %s\n", up, down)
			return nil
		},
	}
}

func withRunner(fn func(*db.MigrationRunner) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.L().Info("Running migrations",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name),
		zap.String("path", migrationsPath),
	)

	runner, err := db.NewMigrationRunner(cfg.Database, migrationsPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logging.L().Warn("Failed to close migration runner", zap.Error(err))
		}
	}()
	return fn(runner)
}

func optionalCount(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid count %q", args[0])
	}
	return n, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
