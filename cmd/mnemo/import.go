package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mnemo/internal/device"
	"github.com/banshee-data/mnemo/internal/dump"
)

func newImportCmd(a *app) *cobra.Command {
	var (
		v2   bool
		port string
	)
	cmd := &cobra.Command{
		Use:   "import <file.dmp>",
		Short: "Download the survey memory from a connected device",
		Long: `Requests the survey memory from the device and saves it as dump text.

The device must be on its main screen before the download starts. The
download ends once the device has been silent for half a second.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, err := a.cfg.Device.ProtocolVersion()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("v2") {
				proto = device.ProtocolV1
				if v2 {
					proto = device.ProtocolV2
				}
			}
			if !cmd.Flags().Changed("port") {
				port = a.cfg.Device.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runImport(ctx, cmd, port, proto, args[0])
		},
	}
	cmd.Flags().BoolVar(&v2, "v2", false, "use the text download command of newer firmware")
	cmd.Flags().StringVarP(&port, "port", "p", "auto", "serial port, or auto to detect the device")
	return cmd
}

func (a *app) runImport(ctx context.Context, cmd *cobra.Command, port string, proto device.Protocol, path string) error {
	name, err := a.resolve(port)
	if err != nil {
		return err
	}
	sp, err := a.open(name, a.cfg.Device.Serial)
	if err != nil {
		return err
	}
	defer sp.Close()

	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer f.Close()

	cmd.PrintErrf("downloading from %s (protocol %v)\n", name, proto)
	p := newProgress(cmd.ErrOrStderr())
	n, err := device.Download(ctx, sp, proto, dump.NewWriter(f), device.DownloadOptions{
		Progress: func(total int) { p.Update("%d bytes received", total) },
	})
	p.Done()
	if err != nil {
		return fmt.Errorf("download failed after %d bytes: %w", n, err)
	}
	if n == 0 {
		return fmt.Errorf("no data received from %s", name)
	}
	cmd.PrintErrf("saved %d bytes to %s\n", n, path)
	return f.Close()
}
