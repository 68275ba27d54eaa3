package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mnemo/internal/bootloader"
	"github.com/banshee-data/mnemo/internal/hexfile"
)

func newFwupdateCmd(a *app) *cobra.Command {
	var (
		baud int
		port string
	)
	cmd := &cobra.Command{
		Use:   "fwupdate <file.hex>",
		Short: "Flash a firmware image onto the device",
		Long: `Writes an Intel HEX firmware image through the device bootloader.

Start the device in bootloader mode first. The whole application area is
erased, programmed and verified by checksum before the device restarts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("baud") {
				baud = a.cfg.Firmware.BaudRate
			}
			if !cmd.Flags().Changed("port") {
				port = a.cfg.Device.Port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runFwupdate(ctx, cmd, port, baud, args[0])
		},
	}
	cmd.Flags().IntVarP(&baud, "baud", "b", 0, "bootloader baud rate")
	cmd.Flags().StringVarP(&port, "port", "p", "auto", "serial port, or auto to detect the device")
	return cmd
}

func (a *app) runFwupdate(ctx context.Context, cmd *cobra.Command, port string, baud int, path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".hex") {
		cmd.PrintErrf("warning: %s does not have a .hex extension\n", path)
	}
	img, err := hexfile.LoadFile(path, hexfile.DefaultMemorySize)
	if err != nil {
		return err
	}
	if img.Skipped > 0 {
		cmd.PrintErrf("warning: skipped %d malformed lines in %s\n", img.Skipped, path)
	}

	name, err := a.resolve(port)
	if err != nil {
		return err
	}
	sp, err := a.open(name, a.cfg.Device.Serial.WithBaudRate(baud))
	if err != nil {
		return err
	}
	defer sp.Close()

	p := newProgress(cmd.ErrOrStderr())
	info, err := bootloader.Flash(ctx, bootloader.NewClient(sp), img.Memory, func(pr bootloader.Progress) {
		p.Update("%-6s 0x%05X %d/%d", pr.Stage, pr.Addr, pr.Done, pr.Total)
	})
	p.Done()
	if err != nil {
		return fmt.Errorf("firmware update failed: %w", err)
	}
	cmd.Printf("flashed %s to device 0x%04X (bootloader 0x%04X)\n", path, info.DeviceID, info.Version)
	return nil
}
