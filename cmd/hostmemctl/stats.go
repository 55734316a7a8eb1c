//go:build linux

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/hostmem/addrspace"
	"github.com/vkngwrapper/hostmem/device"
	"github.com/vkngwrapper/hostmem/metrics"
)

func newStatsCmd(opts *globalOptions) *cobra.Command {
	var count int
	var size uint64
	var mapped int
	var showMetrics bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Allocate blocks and print provider statistics",
		Long: `The stats command allocates blocks from the graphics child driver, maps
some of them and prints the statistics of the provider while they are live.

Example:
  hostmemctl stats --count 8 --mapped 2
  hostmemctl stats --device memdev --metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mapped > count {
				return errors.Newf("--mapped (%d) cannot exceed --count (%d)", mapped, count)
			}

			logger := opts.logger()
			dev, err := opts.openDevice(logger)
			if err != nil {
				return err
			}

			collector := metrics.NewCollector("hostmem", nil)
			provider := addrspace.NewProvider(logger, dev, device.SubdeviceTypeDefault, addrspace.ProviderCreateOptions{
				MemoryCallbackOptions: collector.MemoryCallbacks(),
			})
			if !provider.IsOpened() {
				return errors.Wrapf(addrspace.ErrNotOpened, "cannot reach %s device", opts.device)
			}
			collector.Watch(provider)

			blocks := make([]addrspace.Block, count)
			output, err := collectStats(provider, collector, blocks, size, mapped, showMetrics)

			for i := range blocks {
				blocks[i].Destroy()
			}
			err = errors.CombineErrors(err, provider.Destroy())
			if err != nil {
				return err
			}

			_, err = io.WriteString(cmd.OutOrStdout(), output)
			return err
		},
	}

	cmd.Flags().IntVar(&count, "count", 4, "Number of blocks to allocate")
	cmd.Flags().Uint64Var(&size, "size", 4096, "Size in bytes of each block")
	cmd.Flags().IntVar(&mapped, "mapped", 1, "Number of the allocated blocks to map")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print Prometheus metrics instead of the JSON statistics")
	return cmd
}

func collectStats(provider *addrspace.Provider, collector *metrics.Collector, blocks []addrspace.Block, size uint64, mapped int, showMetrics bool) (string, error) {
	for i := range blocks {
		_, err := blocks[i].Allocate(provider, size)
		if err != nil {
			return "", err
		}

		if i < mapped {
			_, err = blocks[i].Map(0)
			if err != nil {
				return "", err
			}
		}
	}

	if !showMetrics {
		var indented bytes.Buffer
		err := json.Indent(&indented, []byte(provider.BuildStatsString()), "", "  ")
		if err != nil {
			return "", errors.Wrap(err, "failed to format statistics")
		}
		indented.WriteByte('\n')
		return indented.String(), nil
	}

	registry := prometheus.NewRegistry()
	err := registry.Register(collector)
	if err != nil {
		return "", errors.Wrap(err, "failed to register collector")
	}

	families, err := registry.Gather()
	if err != nil {
		return "", errors.Wrap(err, "failed to gather metrics")
	}

	var output strings.Builder
	for _, family := range families {
		_, err = expfmt.MetricFamilyToText(&output, family)
		if err != nil {
			return "", errors.Wrap(err, "failed to format metrics")
		}
	}
	return output.String(), nil
}

func printJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
