//go:build linux

package mapping

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hostmem/device"
	"golang.org/x/sys/unix"
)

func memfd(t *testing.T, size int) device.RegionHandle {
	fd, err := unix.MemfdCreate("mapping-test", unix.MFD_CLOEXEC)
	require.NoError(t, err)
	require.NoError(t, unix.Ftruncate(fd, int64(size)))
	t.Cleanup(func() { _ = unix.Close(fd) })
	return device.RegionHandle(fd)
}

func TestMapWriteUnmap(t *testing.T) {
	size := uint64(2 * PageSize())
	handle := memfd(t, int(size))

	first, err := Map(handle, 0, size)
	require.NoError(t, err)
	second, err := Map(handle, uint64(PageSize()), uint64(PageSize()))
	require.NoError(t, err)

	// Both mappings view the same segment
	*(*uint32)(unsafe.Add(first, PageSize())) = 0xfeedface
	require.Equal(t, uint32(0xfeedface), *(*uint32)(second))

	// Unmapping through an interior pointer releases the whole mapping
	require.NoError(t, Unmap(unsafe.Add(second, 16), uint64(PageSize())))
	require.NoError(t, Unmap(first, size))
}

func TestMapInvalid(t *testing.T) {
	_, err := Map(device.InvalidRegion, 0, 4096)
	require.Error(t, err)

	handle := memfd(t, int(PageSize()))
	_, err = Map(handle, 0, 0)
	require.Error(t, err)

	_, err = Map(handle, 12, uint64(PageSize()))
	require.Error(t, err)

	require.Error(t, Unmap(nil, 4096))
}
