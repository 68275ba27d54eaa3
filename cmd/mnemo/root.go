package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mnemo/internal/config"
	"github.com/banshee-data/mnemo/internal/device"
	"github.com/banshee-data/mnemo/internal/monitoring"
)

// app holds the state shared by every command and the hooks tests replace.
type app struct {
	configPath string
	verbose    bool
	cfg        *config.Config

	open    device.Opener
	resolve func(path string) (string, error)
	ports   func() ([]device.PortInfo, error)
}

func newApp() *app {
	return &app{
		cfg:     config.Default(),
		open:    device.Open,
		resolve: device.Resolve,
		ports:   device.Ports,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "mnemo",
		Short:        "Work with surveys recorded by a mnemo device",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a TOML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log serial traffic and decoder progress")

	root.AddCommand(
		newDecodeCmd(a),
		newImportCmd(a),
		newFwupdateCmd(a),
		newStoreCmd(a),
		newServeCmd(a),
		newPortsCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads the config file and points diagnostics at stderr.
func (a *app) setup(cmd *cobra.Command) error {
	monitoring.SetLogger(log.New(cmd.ErrOrStderr(), "", 0).Printf)
	monitoring.SetVerbose(a.verbose)

	path := a.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigName); err != nil {
			return nil
		}
		path = config.DefaultConfigName
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	a.cfg = cfg
	monitoring.Debugf("loaded config from %s", path)
	return nil
}
