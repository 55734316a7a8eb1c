//go:build linux

package main

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/hostmem/addrspace"
	"golang.org/x/sync/errgroup"
)

type handlesResult struct {
	PhysAddr     string
	Offset       uint64
	SharedOffset *uint64 `json:",omitempty"`
	Workers      int
	Registry     string
}

func newHandlesCmd(opts *globalOptions) *cobra.Command {
	var subdevice string
	var size uint64
	var claimOffset int64
	var workers int

	cmd := &cobra.Command{
		Use:   "handles",
		Short: "Exercise the offset based handle API",
		Long: `The handles command opens a child driver handle, allocates a block, maps it
through its registry offset, writes to it and frees it. With --claim-offset
it also claims and releases a shared region. With --workers it also runs that
many concurrent allocate, write and free cycles through the same handle.

Example:
  hostmemctl handles --subdevice host-memory --size 8192
  hostmemctl handles --device memdev --claim-offset 4096 --workers 8`,
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

			registry := addrspace.NewRegistry(logger)
			top, err := addrspace.Open(logger, dev, addrspace.HandleOptions{Registry: registry})
			if err != nil {
				return err
			}
			handle, err := top.SetSubdeviceType(subdeviceType)
			if err != nil {
				_ = top.Close()
				return err
			}
			defer handle.Close()

			physAddr, offset, err := handle.Allocate(size)
			if err != nil {
				return err
			}

			result := handlesResult{
				PhysAddr: fmt.Sprintf("0x%x", physAddr),
				Offset:   uint64(offset),
			}

			err = writeThroughHandle(handle, offset, size)
			if err != nil {
				return errors.CombineErrors(err, handle.Free(offset))
			}

			if claimOffset >= 0 {
				shared := addrspace.Offset(claimOffset)
				err = handle.ClaimShared(shared, size)
				if err != nil {
					return errors.CombineErrors(err, handle.Free(offset))
				}

				err = writeThroughHandle(handle, shared, size)
				err = errors.CombineErrors(err, handle.UnclaimShared(shared))
				if err != nil {
					return errors.CombineErrors(err, handle.Free(offset))
				}

				sharedOffset := uint64(shared)
				result.SharedOffset = &sharedOffset
			}

			if workers > 0 {
				err = allocateConcurrently(handle, workers, size)
				if err != nil {
					return errors.CombineErrors(err, handle.Free(offset))
				}
				result.Workers = workers
			}

			result.Registry = registry.BuildStatsString()
			err = handle.Free(offset)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, result)
			}

			fmt.Fprintf(out, "allocated %d bytes at %s as offset %d\n", size, result.PhysAddr, result.Offset)
			if result.SharedOffset != nil {
				fmt.Fprintf(out, "claimed and released shared offset %d\n", *result.SharedOffset)
			}
			fmt.Fprintf(out, "registry: %s\n", result.Registry)
			return nil
		},
	}

	cmd.Flags().StringVar(&subdevice, "subdevice", "host-memory", "Subdevice type to allocate through")
	cmd.Flags().Uint64Var(&size, "size", 4096, "Size in bytes of the block")
	cmd.Flags().Int64Var(&claimOffset, "claim-offset", -1, "Shared region offset to claim, negative to skip")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent allocate and free cycles to run")
	return cmd
}

func writeThroughHandle(handle *addrspace.Handle, offset addrspace.Offset, size uint64) error {
	ptr, err := handle.Map(offset, size, 0)
	if err != nil {
		return err
	}

	data := unsafe.Slice((*byte)(ptr), size)
	for i := range data {
		data[i] = byte(i)
	}
	for i := range data {
		if data[i] != byte(i) {
			err = errors.Newf("offset %d read back 0x%x at byte %d", offset, data[i], i)
			break
		}
	}

	return errors.CombineErrors(err, addrspace.Unmap(ptr, size))
}

func allocateConcurrently(handle *addrspace.Handle, workers int, size uint64) error {
	var group errgroup.Group
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			_, offset, err := handle.Allocate(size)
			if err != nil {
				return err
			}

			err = writeThroughHandle(handle, offset, size)
			return errors.CombineErrors(err, handle.Free(offset))
		})
	}

	return group.Wait()
}
