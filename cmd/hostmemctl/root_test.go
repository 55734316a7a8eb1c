//go:build linux

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestSmokeCommand(t *testing.T) {
	output, err := runCommand(t, "smoke", "--device", "memdev", "--count", "3", "--size", "8192", "--json")
	require.NoError(t, err)

	var result smokeResult
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	require.True(t, result.Verified)
	require.Equal(t, 3, result.Blocks)
	require.Equal(t, uint64(8192), result.Size)
	require.Equal(t, []string{"0x100000000", "0x100002000", "0x100004000"}, result.PhysAddr)
}

func TestSmokeCommandText(t *testing.T) {
	output, err := runCommand(t, "smoke", "--device", "memdev")
	require.NoError(t, err)
	require.Contains(t, output, "allocated, verified and released 1 blocks of 4096 bytes")
}

func TestSmokeCommandInvalidCount(t *testing.T) {
	_, err := runCommand(t, "smoke", "--device", "memdev", "--count", "0")
	require.Error(t, err)
}

func TestHandlesCommand(t *testing.T) {
	output, err := runCommand(t, "handles", "--device", "memdev", "--claim-offset", "4096", "--workers", "8", "--json")
	require.NoError(t, err)

	var result handlesResult
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	require.Equal(t, "0x100000000", result.PhysAddr)
	require.Equal(t, uint64(0), result.Offset)
	require.NotNil(t, result.SharedOffset)
	require.Equal(t, uint64(4096), *result.SharedOffset)
	require.Equal(t, 8, result.Workers)
	require.Contains(t, result.Registry, `"RegionCount":1`)
}

func TestHandlesCommandClaimOnAllocatedOffset(t *testing.T) {
	_, err := runCommand(t, "handles", "--device", "memdev", "--claim-offset", "0")
	require.Error(t, err)
	require.Contains(t, err.Error(), "a live region is already registered at the requested offset")
	require.NotContains(t, err.Error(), "cannot free offset")
}

func TestStatsCommand(t *testing.T) {
	output, err := runCommand(t, "stats", "--device", "memdev", "--count", "4", "--mapped", "2")
	require.NoError(t, err)

	var stats struct {
		Total struct {
			BlockCount  int
			BlockBytes  int
			MappedCount int
		}
		Blocks []struct {
			Mapped bool
		}
	}
	require.NoError(t, json.Unmarshal([]byte(output), &stats))
	require.Equal(t, 4, stats.Total.BlockCount)
	require.Equal(t, 4*4096, stats.Total.BlockBytes)
	require.Equal(t, 2, stats.Total.MappedCount)
	require.Len(t, stats.Blocks, 4)
	require.True(t, stats.Blocks[0].Mapped)
	require.False(t, stats.Blocks[3].Mapped)
}

func TestStatsCommandMetrics(t *testing.T) {
	output, err := runCommand(t, "stats", "--device", "memdev", "--count", "2", "--metrics")
	require.NoError(t, err)

	lines := strings.Split(output, "\n")
	require.Contains(t, lines, "hostmem_blocks_live 2")
	require.Contains(t, lines, "hostmem_blocks_mapped 1")
	require.Contains(t, lines, "hostmem_blocks_allocations_total 2")
}

func TestStatsCommandTooManyMapped(t *testing.T) {
	_, err := runCommand(t, "stats", "--device", "memdev", "--count", "1", "--mapped", "2")
	require.Error(t, err)
}

func TestPingCommand(t *testing.T) {
	output, err := runCommand(t, "ping", "--device", "memdev", "--subdevice", "host-memory", "--metadata", "5")
	require.NoError(t, err)
	require.Contains(t, output, "metadata=6")

	_, err = runCommand(t, "ping", "--device", "memdev", "--subdevice", "nonsense")
	require.Error(t, err)
}

func TestUnknownDevice(t *testing.T) {
	_, err := runCommand(t, "smoke", "--device", "floppy")
	require.ErrorContains(t, err, "unknown device")
}

func TestMissingGoldfishDevice(t *testing.T) {
	_, err := runCommand(t, "smoke", "--path", filepath.Join(t.TempDir(), "goldfish_address_space"))
	require.Error(t, err)

	_, err = runCommand(t, "handles", "--path", filepath.Join(t.TempDir(), "goldfish_address_space"))
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	output, err := runCommand(t, "version")
	require.NoError(t, err)
	require.Contains(t, output, "hostmemctl dev")
}
