package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/brewlogic/internal/infrastructure/database"
	"github.com/nerrad567/brewlogic/migrations"
)

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or change the database schema",
		Long: `The server applies pending migrations on start. These commands
work on the configured database while the server is stopped.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), opts, func(ctx context.Context, db *database.DB) error {
					applied, pending, err := db.GetMigrationStatus(ctx, migrations.FS)
					if err != nil {
						return err
					}
					printMigrations(cmd.OutOrStdout(), applied, pending)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), opts, func(ctx context.Context, db *database.DB) error {
					_, pending, err := db.GetMigrationStatus(ctx, migrations.FS)
					if err != nil {
						return err
					}
					if err := db.Migrate(ctx, migrations.FS); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", len(pending))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the latest applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), opts, func(ctx context.Context, db *database.DB) error {
					m, err := db.MigrateDown(ctx, migrations.FS)
					if err != nil {
						return err
					}
					if m == nil {
						fmt.Fprintln(cmd.OutOrStdout(), "nothing to revert")
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "reverted %s %s\n", m.Version, m.Name)
					return nil
				})
			},
		},
	)
	return cmd
}

func withDatabase(ctx context.Context, opts *globalOptions, fn func(context.Context, *database.DB) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-mostly CLI session
	return fn(ctx, db)
}

func printMigrations(out io.Writer, applied []database.MigrationRecord, pending []database.Migration) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATUS\tAPPLIED AT")
	for _, r := range applied {
		fmt.Fprintf(tw, "%s\tapplied\t%s\n", r.Version, r.AppliedAt.Local().Format(time.DateTime))
	}
	for _, m := range pending {
		fmt.Fprintf(tw, "%s\tpending\t%s\n", m.Version, m.Name)
	}
	tw.Flush() //nolint:errcheck // terminal output
}
