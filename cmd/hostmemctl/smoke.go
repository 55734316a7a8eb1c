//go:build linux

package main

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/hostmem/addrspace"
	"github.com/vkngwrapper/hostmem/device"
)

type smokeResult struct {
	Blocks   int
	Size     uint64
	PhysAddr []string
	Verified bool
}

func newSmokeCmd(opts *globalOptions) *cobra.Command {
	var count int
	var size uint64

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Allocate, map, write and release blocks",
		Long: `The smoke command allocates blocks from the graphics child driver, maps each
one, writes a pattern through the mapping, reads it back and releases
everything.

Example:
  hostmemctl smoke --count 4 --size 65536
  hostmemctl smoke --device memdev`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("--count must be at least 1")
			}

			logger := opts.logger()
			dev, err := opts.openDevice(logger)
			if err != nil {
				return err
			}

			provider := addrspace.NewProvider(logger, dev, device.SubdeviceTypeDefault, addrspace.ProviderCreateOptions{})
			if !provider.IsOpened() {
				return errors.Wrapf(addrspace.ErrNotOpened, "cannot reach %s device", opts.device)
			}

			result, runErr := runSmoke(provider, count, size)
			err = errors.CombineErrors(runErr, provider.Destroy())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, result)
			}

			fmt.Fprintf(out, "allocated, verified and released %d blocks of %d bytes\n", result.Blocks, result.Size)
			for _, physAddr := range result.PhysAddr {
				fmt.Fprintf(out, "  %s\n", physAddr)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 1, "Number of blocks to allocate")
	cmd.Flags().Uint64Var(&size, "size", 4096, "Size in bytes of each block")
	return cmd
}

func runSmoke(provider *addrspace.Provider, count int, size uint64) (smokeResult, error) {
	result := smokeResult{Size: size}

	blocks := make([]addrspace.Block, count)
	defer func() {
		for i := range blocks {
			blocks[i].Destroy()
		}
	}()

	for i := range blocks {
		_, err := blocks[i].Allocate(provider, size)
		if err != nil {
			return result, err
		}

		ptr, err := blocks[i].Map(0)
		if err != nil {
			return result, err
		}

		data := unsafe.Slice((*byte)(ptr), size)
		for j := range data {
			data[j] = byte(i + j)
		}

		result.PhysAddr = append(result.PhysAddr, fmt.Sprintf("0x%x", blocks[i].PhysAddr()))
	}

	for i := range blocks {
		data := unsafe.Slice((*byte)(blocks[i].GuestPtr()), size)
		for j := range data {
			if data[j] != byte(i+j) {
				return result, errors.Newf("block %d at 0x%x read back 0x%x at byte %d", i, blocks[i].PhysAddr(), data[j], j)
			}
		}
	}

	result.Blocks = count
	result.Verified = true
	return result, nil
}
