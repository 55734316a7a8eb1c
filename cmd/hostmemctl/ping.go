//go:build linux

package main

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/hostmem/addrspace"
	"github.com/vkngwrapper/hostmem/device"
)

var subdeviceTypes = map[string]device.SubdeviceType{
	"default":             device.SubdeviceTypeDefault,
	"media":               device.SubdeviceTypeMedia,
	"host-memory":         device.SubdeviceTypeHostMemoryAllocator,
	"shared-slots":        device.SubdeviceTypeSharedSlotsHostMemoryAllocator,
	"virtio-gpu-graphics": device.SubdeviceTypeVirtioGpuGraphics,
}

func parseSubdeviceType(name string) (device.SubdeviceType, error) {
	subdeviceType, ok := subdeviceTypes[name]
	if !ok {
		return 0, errors.Newf("unknown subdevice type %q", name)
	}
	return subdeviceType, nil
}

func newPingCmd(opts *globalOptions) *cobra.Command {
	var subdevice string
	var metadata uint64

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Ping a child driver of the device",
		Long: `The ping command opens the child driver for a subdevice type and sends it
a single ping message, printing the response.

Example:
  hostmemctl ping --subdevice host-memory --metadata 1
  hostmemctl ping --device memdev --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			subdeviceType, err := parseSubdeviceType(subdevice)
			if err != nil {
				return err
			}

			logger := opts.logger()
			dev, err := opts.openDevice(logger)
			if err != nil {
				return err
			}

			top, err := addrspace.Open(logger, dev, addrspace.HandleOptions{Registry: addrspace.NewRegistry(logger)})
			if err != nil {
				return err
			}
			handle, err := top.SetSubdeviceType(subdeviceType)
			if err != nil {
				_ = top.Close()
				return err
			}
			defer handle.Close()

			msg := device.PingMessage{Metadata: metadata}
			err = handle.Ping(&msg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(msg)
			}

			fmt.Fprintf(out, "ping %s: offset=0x%x size=%d metadata=%d version=%d\n",
				subdeviceType, msg.Offset, msg.Size, msg.Metadata, msg.Version)
			return nil
		},
	}

	cmd.Flags().StringVar(&subdevice, "subdevice", "default", "Subdevice type to ping")
	cmd.Flags().Uint64Var(&metadata, "metadata", 0, "Metadata to send with the ping")
	return cmd
}
