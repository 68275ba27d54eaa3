package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mnemo/internal/api"
	"github.com/banshee-data/mnemo/internal/db"
)

func newServeCmd(a *app) *cobra.Command {
	var listen, dbPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the decode and survey HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("listen") {
				listen = a.cfg.Server.Listen
			}
			if !cmd.Flags().Changed("db") {
				dbPath = a.cfg.Store.Path
			}
			store, err := db.NewDB(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return api.NewServer(store, a.cfg.Decode.Options()).Start(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "survey database path")
	return cmd
}
