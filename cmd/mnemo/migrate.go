package main

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mnemo/internal/db"
)

func newMigrateCmd(a *app, dbPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or change the survey database schema version",
		Long: `Manages the schema of the survey database directly. The other store
commands migrate to the latest version on their own; use these to roll back,
move to a given version or recover from a failed migration.`,
	}

	// withDB opens the database without migrating it and reports the
	// resulting version once fn succeeds.
	withDB := func(fn func(cmd *cobra.Command, store *db.DB, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, err := db.OpenDB(a.storePath(cmd, *dbPath))
			if err != nil {
				return err
			}
			defer store.Close()
			if err := fn(cmd, store, args); err != nil {
				return err
			}
			return printMigrateStatus(cmd, store)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(_ *cobra.Command, store *db.DB, _ []string) error {
				return store.MigrateUp()
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: withDB(func(_ *cobra.Command, store *db.DB, _ []string) error {
				return store.MigrateDown()
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current and latest schema versions",
			Args:  cobra.NoArgs,
			RunE: withDB(func(*cobra.Command, *db.DB, []string) error {
				return nil
			}),
		},
		&cobra.Command{
			Use:   "to <version>",
			Short: "Migrate up or down to a version",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(func(_ *cobra.Command, store *db.DB, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return store.MigrateTo(uint(v))
			}),
		},
		newMigrateForceCmd(withDB),
	)
	return cmd
}

func newMigrateForceCmd(withDB func(func(*cobra.Command, *db.DB, []string) error) func(*cobra.Command, []string) error) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied without running it",
		Long: `Sets the recorded schema version and clears the dirty flag. Only use it
after repairing a database whose migration failed part way.`,
		Args: cobra.ExactArgs(1),
		RunE: withDB(func(cmd *cobra.Command, store *db.DB, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil || v < 0 {
				return fmt.Errorf("invalid version %q", args[0])
			}
			if !yes {
				cmd.Printf("Forcing schema version %d without running migrations. Continue? [y/N]: ", v)
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if answer = strings.TrimSpace(answer); answer != "y" && answer != "Y" {
					return errors.New("aborted")
				}
			}
			return store.MigrateForce(v)
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func printMigrateStatus(cmd *cobra.Command, store *db.DB) error {
	version, dirty, err := store.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	latest, err := db.LatestMigrationVersion()
	if err != nil {
		return err
	}
	cmd.Printf("version %d of %d", version, latest)
	if dirty {
		cmd.Printf(" (dirty: run \"mnemo store migrate force <version>\" after repairing)")
	}
	cmd.Println()
	return nil
}
