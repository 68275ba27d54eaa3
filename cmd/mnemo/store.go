package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mnemo/internal/db"
	"github.com/banshee-data/mnemo/internal/dump"
	"github.com/banshee-data/mnemo/internal/mnemo"
)

func newStoreCmd(a *app) *cobra.Command {
	var (
		dbPath string
		list   bool
		remove string
	)
	cmd := &cobra.Command{
		Use:   "store [file...]",
		Short: "Decode dump files and record them in the survey database",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := db.NewDB(a.storePath(cmd, dbPath))
			if err != nil {
				return err
			}
			defer store.Close()

			switch {
			case remove != "":
				if err := store.DeleteImport(cmd.Context(), remove); err != nil {
					return err
				}
				cmd.Printf("deleted %s\n", remove)
				return nil
			case list:
				return listImports(cmd, store)
			case len(args) == 0:
				return errors.New("no files to store")
			}
			for _, path := range args {
				if err := a.storeFile(cmd, store, path); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "survey database path")
	cmd.Flags().BoolVar(&list, "list", false, "list recorded imports")
	cmd.Flags().StringVar(&remove, "delete", "", "delete the import with this id")
	cmd.MarkFlagsMutuallyExclusive("list", "delete")
	cmd.AddCommand(newMigrateCmd(a, &dbPath))
	return cmd
}

// storePath is the --db flag when set, otherwise the configured store.
func (a *app) storePath(cmd *cobra.Command, flag string) string {
	if cmd.Flags().Changed("db") {
		return flag
	}
	return a.cfg.Store.Path
}

func (a *app) storeFile(cmd *cobra.Command, store *db.DB, path string) error {
	data, err := dump.ReadFile(path)
	if err != nil {
		return err
	}
	opts := a.cfg.Decode.Options()
	opts.Strict = true
	surveys, decodeErr := mnemo.NewDecoder(opts).Decode(data)
	var he *mnemo.HeaderError
	if decodeErr != nil {
		if !errors.As(decodeErr, &he) || a.cfg.Decode.Strict {
			return fmt.Errorf("%s: %w", path, decodeErr)
		}
		cmd.PrintErrf("%s: %v, stopping\n", path, decodeErr)
	}

	imp, err := store.RecordImport(cmd.Context(), db.ImportMeta{
		Source:    filepath.Base(path),
		ByteCount: len(data),
		Partial:   he != nil,
	}, surveys)
	if err != nil {
		return err
	}
	cmd.Printf("%s\t%s\t%d surveys\t%d shots\n", imp.ID, imp.Source, imp.SurveyCount, imp.ShotCount)
	return nil
}

func listImports(cmd *cobra.Command, store *db.DB) error {
	imports, err := store.Imports(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tIMPORTED\tSURVEYS\tSHOTS\tPARTIAL")
	for _, imp := range imports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%t\n",
			imp.ID, imp.Source, imp.ImportedAt.Format("2006-01-02 15:04"), imp.SurveyCount, imp.ShotCount, imp.Partial)
	}
	return tw.Flush()
}
