//go:build linux

package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/hostmem/device"
	"github.com/vkngwrapper/hostmem/device/goldfish"
	"github.com/vkngwrapper/hostmem/device/memdev"
	"golang.org/x/exp/slog"
)

const (
	deviceGoldfish = "goldfish"
	deviceMemdev   = "memdev"
)

// globalOptions are the flags shared by every command
type globalOptions struct {
	device      string
	path        string
	openTimeout time.Duration
	verbose     bool
	jsonOut     bool

	// stderr receives log output
	stderr io.Writer
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{stderr: os.Stderr}

	cmd := &cobra.Command{
		Use:   "hostmemctl",
		Short: "Allocate and inspect host memory through the goldfish address space device",
		Long: `hostmemctl talks to the goldfish address space device, or to an in-process
software device, to check that host memory blocks can be allocated, mapped,
written and released.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.device, "device", deviceGoldfish, "Device to use: goldfish or memdev")
	cmd.PersistentFlags().StringVar(&opts.path, "path", goldfish.DefaultPath, "Path of the goldfish address space device")
	cmd.PersistentFlags().DurationVar(&opts.openTimeout, "open-timeout", 0, "How long to wait for the goldfish device node to appear")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Output in JSON format")

	cmd.AddCommand(
		newPingCmd(opts),
		newSmokeCmd(opts),
		newHandlesCmd(opts),
		newStatsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (o *globalOptions) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(o.stderr, &slog.HandlerOptions{Level: level}))
}

func (o *globalOptions) openDevice(logger *slog.Logger) (device.Device, error) {
	switch o.device {
	case deviceGoldfish:
		return goldfish.New(logger, goldfish.Options{Path: o.path, OpenTimeout: o.openTimeout}), nil
	case deviceMemdev:
		return memdev.New(logger, memdev.Options{}), nil
	}

	return nil, errors.Newf("unknown device %q, expected %s or %s", o.device, deviceGoldfish, deviceMemdev)
}
