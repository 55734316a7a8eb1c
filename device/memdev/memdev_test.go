//go:build linux

package memdev

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hostmem/device"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

func testDevice(options Options) *Device {
	return New(slog.New(slog.NewJSONHandler(io.Discard, nil)), options)
}

func childSession(t *testing.T, dev *Device) device.Session {
	top, err := dev.Open()
	require.NoError(t, err)

	child, err := top.OpenChildDriver(device.SubdeviceTypeDefault)
	require.NoError(t, err)
	require.NoError(t, top.Close())

	return child
}

func mapHandle(t *testing.T, handle device.RegionHandle, size int) []byte {
	data, err := unix.Mmap(int(handle), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	require.NoError(t, err)
	return data
}

func TestAllocateDeallocate(t *testing.T) {
	dev := testDevice(Options{})
	session := childSession(t, dev)
	page := uint64(unix.Getpagesize())

	first, status, err := session.AllocateBlock(100)
	require.NoError(t, err)
	require.Equal(t, device.StatusOK, status)
	require.Equal(t, DefaultPhysAddrBase, first.PhysAddr)
	require.Equal(t, page, first.Size)
	require.Equal(t, uint64(0), first.MappingOffset)
	require.True(t, first.Handle.Valid())

	second, status, err := session.AllocateBlock(page + 1)
	require.NoError(t, err)
	require.Equal(t, device.StatusOK, status)
	require.Equal(t, DefaultPhysAddrBase+page, second.PhysAddr)
	require.Equal(t, 2*page, second.Size)

	require.Equal(t, 2, dev.LiveBlocks())
	require.Equal(t, 3*page, dev.UsedBytes())

	data := mapHandle(t, first.Handle, int(page))
	data[10] = 0x5a
	require.NoError(t, unix.Munmap(data))

	// The device keeps its own reference to the segment, the data survives the handle being closed
	dup, err := unix.Dup(int(first.Handle))
	require.NoError(t, err)
	require.NoError(t, first.Handle.Close())
	data = mapHandle(t, device.RegionHandle(dup), int(page))
	require.Equal(t, byte(0x5a), data[10])
	require.NoError(t, unix.Munmap(data))
	require.NoError(t, unix.Close(dup))

	status, err = session.DeallocateBlock(first.PhysAddr)
	require.NoError(t, err)
	require.Equal(t, device.StatusOK, status)

	status, err = session.DeallocateBlock(first.PhysAddr)
	require.NoError(t, err)
	require.Equal(t, device.StatusNotFound, status)

	require.Equal(t, 1, dev.LiveBlocks())
	require.Equal(t, 2*page, dev.UsedBytes())

	require.NoError(t, second.Handle.Close())
	require.NoError(t, session.Close())
	require.Equal(t, 0, dev.LiveBlocks())
	require.Equal(t, uint64(0), dev.UsedBytes())
}

func TestAllocateLimits(t *testing.T) {
	page := uint64(unix.Getpagesize())
	dev := testDevice(Options{MaxBytes: 2 * page, PhysAddrBase: 0x1000})
	session := childSession(t, dev)
	defer session.Close()

	block, status, err := session.AllocateBlock(0)
	require.NoError(t, err)
	require.Equal(t, device.StatusInvalidArgs, status)
	require.Equal(t, device.InvalidRegion, block.Handle)

	block, status, err = session.AllocateBlock(2 * page)
	require.NoError(t, err)
	require.Equal(t, device.StatusOK, status)
	require.Equal(t, uint64(0x1000), block.PhysAddr)
	defer block.Handle.Close()

	_, status, err = session.AllocateBlock(1)
	require.NoError(t, err)
	require.Equal(t, device.StatusNoMemory, status)
}

func TestDeallocateForeignBlock(t *testing.T) {
	dev := testDevice(Options{})
	owner := childSession(t, dev)
	other := childSession(t, dev)

	block, _, err := owner.AllocateBlock(64)
	require.NoError(t, err)
	defer block.Handle.Close()

	status, err := other.DeallocateBlock(block.PhysAddr)
	require.NoError(t, err)
	require.Equal(t, device.StatusNotFound, status)
	require.Equal(t, 1, dev.LiveBlocks())

	require.NoError(t, other.Close())
	require.Equal(t, 1, dev.LiveBlocks())
	require.NoError(t, owner.Close())
	require.Equal(t, 0, dev.LiveBlocks())
}

func TestSharedClaims(t *testing.T) {
	dev := testDevice(Options{})
	first := childSession(t, dev)
	second := childSession(t, dev)
	page := uint64(unix.Getpagesize())

	sharedA, status, err := first.ClaimSharedBlock(0x8000, page)
	require.NoError(t, err)
	require.Equal(t, device.StatusOK, status)
	sharedB, status, err := second.ClaimSharedBlock(0x8000, page)
	require.NoError(t, err)
	require.Equal(t, device.StatusOK, status)
	require.Equal(t, 1, dev.SharedRegions())

	_, status, err = second.ClaimSharedBlock(0x8000, 2*page)
	require.NoError(t, err)
	require.Equal(t, device.StatusInvalidArgs, status)

	dataA := mapHandle(t, sharedA.Handle, int(page))
	dataB := mapHandle(t, sharedB.Handle, int(page))
	dataA[0] = 0x42
	require.Equal(t, byte(0x42), dataB[0])
	require.NoError(t, unix.Munmap(dataA))
	require.NoError(t, unix.Munmap(dataB))
	require.NoError(t, sharedA.Handle.Close())
	require.NoError(t, sharedB.Handle.Close())

	status, err = first.UnclaimSharedBlock(0x8000)
	require.NoError(t, err)
	require.Equal(t, device.StatusOK, status)
	require.Equal(t, 1, dev.SharedRegions())

	status, err = first.UnclaimSharedBlock(0x8000)
	require.NoError(t, err)
	require.Equal(t, device.StatusNotFound, status)

	// Closing the session releases its outstanding claim
	require.NoError(t, second.Close())
	require.Equal(t, 0, dev.SharedRegions())
	require.NoError(t, first.Close())
}

func TestPing(t *testing.T) {
	dev := testDevice(Options{})
	session := childSession(t, dev)

	msg := device.PingMessage{Metadata: 7, Size: 12}
	status, err := session.Ping(&msg)
	require.NoError(t, err)
	require.Equal(t, device.StatusOK, status)
	require.Equal(t, uint64(8), msg.Metadata)
	require.Equal(t, uint64(12), msg.Size)

	_, err = session.Ping(nil)
	require.Error(t, err)

	_, err = session.OpenChildDriver(device.SubdeviceTypeMedia)
	require.Error(t, err)

	require.NoError(t, session.Close())
	_, err = session.Ping(&msg)
	require.ErrorIs(t, err, errSessionClosed)
	_, _, err = session.AllocateBlock(64)
	require.ErrorIs(t, err, errSessionClosed)
	require.NoError(t, session.Close())
}
