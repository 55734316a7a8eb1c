//go:build linux

package addrspace

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hostmem/device"
	"github.com/vkngwrapper/hostmem/device/memdev"
	"github.com/vkngwrapper/hostmem/memutils"
)

func TestProviderWithSoftwareDevice(t *testing.T) {
	dev := memdev.New(testLogger(), memdev.Options{})
	provider := NewProvider(testLogger(), dev, device.SubdeviceTypeDefault, ProviderCreateOptions{})
	require.True(t, provider.IsOpened())

	blocks := make([]Block, 4)
	for i := range blocks {
		status, err := blocks[i].Allocate(provider, uint64(i+1)*pageSize())
		require.NoError(t, err)
		require.Equal(t, device.StatusOK, status)
	}
	require.Equal(t, 4, dev.LiveBlocks())

	for i := range blocks {
		ptr, err := blocks[i].Map(uint64(i) * 8)
		require.NoError(t, err)
		*(*uint64)(ptr) = uint64(i)
	}
	for i := range blocks {
		require.Equal(t, uint64(i), *(*uint64)(unsafe.Add(blocks[i].HostAddr(), i*8)))
	}
	require.Equal(t, 4, provider.Statistics().MappedCount)
	require.Error(t, provider.Destroy())

	for i := range blocks {
		blocks[i].Destroy()
	}
	require.Equal(t, 0, dev.LiveBlocks())
	require.Equal(t, memutils.Statistics{}, provider.Statistics())
	require.NoError(t, provider.Destroy())
	require.False(t, provider.IsOpened())
}

func TestHandlesWithSoftwareDevice(t *testing.T) {
	dev := memdev.New(testLogger(), memdev.Options{})
	registry := NewRegistry(testLogger())

	top, err := Open(testLogger(), dev, HandleOptions{Registry: registry})
	require.NoError(t, err)
	handle, err := top.SetSubdeviceType(device.SubdeviceTypeHostMemoryAllocator)
	require.NoError(t, err)
	defer handle.Close()

	physAddr, offset, err := handle.Allocate(pageSize())
	require.NoError(t, err)
	require.Equal(t, memdev.DefaultPhysAddrBase, physAddr)
	require.Equal(t, Offset(0), offset)

	ptr, err := handle.Map(offset, pageSize(), 0)
	require.NoError(t, err)
	*(*uint32)(ptr) = 99
	require.NoError(t, Unmap(ptr, pageSize()))

	ptr, err = handle.Map(offset, pageSize(), 0)
	require.NoError(t, err)
	require.Equal(t, uint32(99), *(*uint32)(ptr))
	require.NoError(t, Unmap(ptr, pageSize()))

	require.NoError(t, handle.Free(offset))
	require.Equal(t, 0, dev.LiveBlocks())
	require.Equal(t, 0, registry.Len())

	require.NoError(t, handle.ClaimShared(0x4000, pageSize()))
	require.Equal(t, 1, dev.SharedRegions())
	require.NoError(t, handle.UnclaimShared(0x4000))
	require.Equal(t, 0, dev.SharedRegions())

	msg := device.PingMessage{Metadata: 1}
	require.NoError(t, handle.Ping(&msg))
	require.Equal(t, uint64(2), msg.Metadata)
}

func TestHandlesSharedClaimCollision(t *testing.T) {
	dev := memdev.New(testLogger(), memdev.Options{})
	registry := NewRegistry(testLogger())

	top, err := Open(testLogger(), dev, HandleOptions{Registry: registry})
	require.NoError(t, err)
	handle, err := top.SetSubdeviceType(device.SubdeviceTypeHostMemoryAllocator)
	require.NoError(t, err)
	defer handle.Close()

	_, offset, err := handle.Allocate(pageSize())
	require.NoError(t, err)
	require.Equal(t, Offset(0), offset)

	err = handle.ClaimShared(offset, pageSize())
	require.ErrorIs(t, err, ErrRegionInUse)
	require.Equal(t, 0, dev.SharedRegions())

	require.Error(t, handle.UnclaimShared(offset))
	require.True(t, registry.Get(offset).Valid())

	require.NoError(t, handle.Free(offset))
	require.Equal(t, 0, dev.LiveBlocks())
	require.Equal(t, 0, registry.Len())
}
