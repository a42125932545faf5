package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nocassist/nocassist/internal/config"
	"github.com/nocassist/nocassist/internal/incident/postgres"
	"github.com/nocassist/nocassist/internal/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type migrateFunc func(ctx context.Context, runner *migrations.Runner, db *sql.DB) error

func newRootCmd() *cobra.Command {
	var timeout time.Duration
	root := &cobra.Command{
		Use:          "nocassist-migrate",
		Short:        "Manage the Postgres incident store schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall migration timeout")

	// run opens the store named by NOCASSIST_STORE_DSN and hands it to fn.
	run := func(cmd *cobra.Command, fn migrateFunc) error {
		cfg, err := config.LoadFromEnv("nocassist-migrate")
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if cfg.Store.DSN == "" {
			return fmt.Errorf("NOCASSIST_STORE_DSN is required")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		db, err := postgres.Open(ctx, postgres.DBConfig{DSN: cfg.Store.DSN, MaxOpenConns: 1})
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		return fn(ctx, migrations.NewRunner(), db)
	}

	var upSteps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, runner *migrations.Runner, db *sql.DB) error {
				applied, err := runner.Up(ctx, db, upSteps)
				if err != nil {
					return fmt.Errorf("migration up failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
				return nil
			})
		},
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "number of migrations to apply; 0 applies all")

	var downSteps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert the newest applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, runner *migrations.Runner, db *sql.DB) error {
				reverted, err := runner.Down(ctx, db, downSteps)
				if err != nil {
					return fmt.Errorf("migration down failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", reverted)
				return nil
			})
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to revert")

	status := &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migration versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, runner *migrations.Runner, db *sql.DB) error {
				applied, pending, err := runner.Status(ctx, db)
				if err != nil {
					return fmt.Errorf("migration status failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied: %v\npending: %v\n", applied, pending)
				return nil
			})
		},
	}

	root.AddCommand(up, down, status)
	return root
}
