package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/banshee-data/mnemo/internal/dump"
	"github.com/banshee-data/mnemo/internal/mnemo"
	"github.com/banshee-data/mnemo/internal/render"
)

type decodeFlags struct {
	format            string
	strict            bool
	trimName          bool
	absoluteScanLimit bool
	scanLimit         int
	output            string
}

func newDecodeCmd(a *app) *cobra.Command {
	var f decodeFlags
	cmd := &cobra.Command{
		Use:   "decode <file>",
		Short: "Decode a device dump to JSON or YAML",
		Long: `Decodes a device download and prints its surveys.

The file may hold dump text (.dmp, .txt) or raw bytes (.bin), optionally
compressed (.gz, .zst). Use "-" to read dump text from stdin. Decoding stops
at the first unreadable survey header; with --strict that is an error, but
the surveys decoded before it are still printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDecode(cmd, f, args[0])
		},
	}
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "output format: "+render.FormatNames())
	cmd.Flags().BoolVar(&f.strict, "strict", false, "fail on a bad survey header")
	cmd.Flags().BoolVar(&f.trimName, "trim-name", false, "strip NUL and space padding from survey names")
	cmd.Flags().BoolVar(&f.absoluteScanLimit, "absolute-scan-limit", false, "measure the scan limit from the start of the file")
	cmd.Flags().IntVar(&f.scanLimit, "scan-limit", 0, "bytes of shot records scanned per survey")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

// decodeOptions merges the config file with any flags set on cmd.
func (a *app) decodeOptions(cmd *cobra.Command, f decodeFlags) (mnemo.Options, render.Format, error) {
	opts := a.cfg.Decode.Options()
	flags := cmd.Flags()
	if flags.Changed("strict") {
		opts.Strict = f.strict
	}
	if flags.Changed("trim-name") {
		opts.TrimName = f.trimName
	}
	if flags.Changed("absolute-scan-limit") {
		opts.AbsoluteScanLimit = f.absoluteScanLimit
	}
	if flags.Changed("scan-limit") {
		if f.scanLimit < 0 {
			return opts, "", fmt.Errorf("--scan-limit must be non-negative, got %d", f.scanLimit)
		}
		opts.ScanLimit = f.scanLimit
	}

	name := a.cfg.Decode.Format
	if flags.Changed("format") {
		name = f.format
	}
	format, err := render.ParseFormat(name)
	return opts, format, err
}

// readInput loads device bytes from path, or dump text from stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return dump.Parse(cmd.InOrStdin())
	}
	return dump.ReadFile(path)
}

func (a *app) runDecode(cmd *cobra.Command, f decodeFlags, path string) error {
	opts, format, err := a.decodeOptions(cmd, f)
	if err != nil {
		return err
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return err
	}

	surveys, decodeErr := mnemo.NewDecoder(opts).Decode(data)
	var he *mnemo.HeaderError
	if decodeErr != nil && !errors.As(decodeErr, &he) {
		return decodeErr
	}

	var out io.Writer = cmd.OutOrStdout()
	if f.output != "" {
		file, err := os.Create(filepath.Clean(f.output))
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}
	if err := render.Write(out, surveys, format); err != nil {
		return err
	}
	return decodeErr
}
