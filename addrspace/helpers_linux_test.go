//go:build linux

package addrspace

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hostmem/addrspace/internal/mapping"
	"github.com/vkngwrapper/hostmem/device"
	"github.com/vkngwrapper/hostmem/device/mocks"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// segment creates a mappable segment the way a device would hand one out. Ownership passes to
// the caller, which is the code under test in most cases.
func segment(t *testing.T, size uint64) device.RegionHandle {
	fd, err := unix.MemfdCreate("addrspace-test", unix.MFD_CLOEXEC)
	require.NoError(t, err)
	require.NoError(t, unix.Ftruncate(fd, int64(size)))
	return device.RegionHandle(fd)
}

func pageSize() uint64 {
	return uint64(mapping.PageSize())
}

func readyProvider(t *testing.T, ctrl *gomock.Controller, options ProviderCreateOptions) (*mocks.MockSession, *mocks.MockSession, *Provider) {
	dev := mocks.NewMockDevice(ctrl)
	parent := mocks.NewMockSession(ctrl)
	child := mocks.NewMockSession(ctrl)

	dev.EXPECT().Open().Return(parent, nil)
	parent.EXPECT().OpenChildDriver(device.SubdeviceTypeDefault).Return(child, nil)

	provider := NewProvider(testLogger(), dev, device.SubdeviceTypeDefault, options)
	require.True(t, provider.IsOpened())

	return parent, child, provider
}

func expectAllocation(t *testing.T, session *mocks.MockSession, size uint64, physAddr uint64) *gomock.Call {
	return session.EXPECT().AllocateBlock(size).DoAndReturn(func(size uint64) (device.AllocatedBlock, device.Status, error) {
		return device.AllocatedBlock{
			PhysAddr: physAddr,
			Size:     size,
			Handle:   segment(t, size),
		}, device.StatusOK, nil
	})
}

func readyHandle(t *testing.T, ctrl *gomock.Controller, registry *Registry) (*mocks.MockSession, *Handle) {
	dev := mocks.NewMockDevice(ctrl)
	parent := mocks.NewMockSession(ctrl)
	child := mocks.NewMockSession(ctrl)

	dev.EXPECT().Open().Return(parent, nil)
	parent.EXPECT().OpenChildDriver(device.SubdeviceTypeHostMemoryAllocator).Return(child, nil)
	parent.EXPECT().Close().Return(nil)

	top, err := Open(testLogger(), dev, HandleOptions{Registry: registry})
	require.NoError(t, err)

	handle, err := top.SetSubdeviceType(device.SubdeviceTypeHostMemoryAllocator)
	require.NoError(t, err)

	return child, handle
}
