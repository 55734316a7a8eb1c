package memutils

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(4096, "page size"))
	require.NoError(t, CheckPow2(uint64(1), "one"))

	err := CheckPow2(uint64(3000), "page size")
	require.Error(t, err)
	require.True(t, errors.Is(err, PowerOfTwoError))
	require.Contains(t, err.Error(), "page size is 3000")

	require.Error(t, CheckPow2(0, "zero"))
}

func TestAlignment(t *testing.T) {
	require.Equal(t, uint64(4096), AlignUp(uint64(1), 4096))
	require.Equal(t, uint64(4096), AlignUp(uint64(4096), 4096))
	require.Equal(t, uint64(8192), AlignUp(uint64(4097), 4096))

	require.Equal(t, uintptr(0x7000), AlignDown(uintptr(0x7abc), 0x1000))
	require.Equal(t, uintptr(0xabc), PageOffset(uintptr(0x7abc), 0x1000))
	require.Equal(t, uint64(0x10), PageOffset(uint64(0xdeadb010), 4096))
}

func TestDetailedStatistics(t *testing.T) {
	var stats DetailedStatistics
	stats.Clear()

	stats.AddBlock(4096, true)
	stats.AddBlock(65536, false)

	require.Equal(t, 2, stats.BlockCount)
	require.Equal(t, 69632, stats.BlockBytes)
	require.Equal(t, 1, stats.MappedCount)
	require.Equal(t, 4096, stats.MappedBytes)
	require.Equal(t, 4096, stats.BlockSizeMin)
	require.Equal(t, 65536, stats.BlockSizeMax)

	var total DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&stats)
	require.Equal(t, stats, total)
}
