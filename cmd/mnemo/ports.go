package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPortsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports; the detected device is marked with *",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := a.ports()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				cmd.Println("no serial ports found")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, p := range ports {
				mark := " "
				if p.IsMnemo() {
					mark = "*"
				}
				usb := ""
				if p.USB {
					usb = fmt.Sprintf("%s:%s", p.VID, p.PID)
				}
				fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\n", mark, p.Name, usb, p.Product, p.Serial)
			}
			return tw.Flush()
		},
	}
}
