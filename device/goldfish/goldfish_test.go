//go:build linux

package goldfish

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hostmem/device"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestRequestCodes(t *testing.T) {
	require.Equal(t, uintptr(24), unsafe.Sizeof(allocateBlockRequest{}))
	require.Equal(t, uintptr(16), unsafe.Sizeof(claimSharedRequest{}))
	require.Equal(t, uintptr(40), unsafe.Sizeof(device.PingMessage{}))

	require.Equal(t, uintptr(0xc018470a), ioctlAllocateBlock)
	require.Equal(t, uintptr(0xc008470b), ioctlDeallocateBlock)
	require.Equal(t, uintptr(0xc028470c), ioctlPing)
	require.Equal(t, uintptr(0xc010470d), ioctlClaimShared)
	require.Equal(t, uintptr(0xc008470e), ioctlUnclaimShared)
}

func TestStatusForErrno(t *testing.T) {
	status, ok := statusForErrno(unix.ENOMEM)
	require.True(t, ok)
	require.Equal(t, device.StatusNoMemory, status)

	status, ok = statusForErrno(unix.EINVAL)
	require.True(t, ok)
	require.Equal(t, device.StatusInvalidArgs, status)

	status, ok = statusForErrno(unix.ENOTTY)
	require.True(t, ok)
	require.Equal(t, device.StatusNotSupported, status)

	_, ok = statusForErrno(unix.EBADF)
	require.False(t, ok)

	_, ok = statusForErrno(errors.New("not an errno"))
	require.False(t, ok)
}

func TestNewDefaultPath(t *testing.T) {
	require.Equal(t, DefaultPath, New(nil, Options{}).Path())
	require.Equal(t, "/dev/null", New(nil, Options{Path: "/dev/null"}).Path())
}

func TestOpenMissingDevice(t *testing.T) {
	dev := New(testLogger(), Options{Path: filepath.Join(t.TempDir(), "goldfish_address_space")})

	session, err := dev.Open()
	require.Error(t, err)
	require.Nil(t, session)
}

func TestOpenTimeout(t *testing.T) {
	dev := New(testLogger(), Options{
		Path:        filepath.Join(t.TempDir(), "goldfish_address_space"),
		OpenTimeout: 50 * time.Millisecond,
	})

	_, err := dev.Open()
	require.True(t, errors.Is(err, unix.ENOENT))
}

func TestOpenWaitsForDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goldfish_address_space")
	dev := New(testLogger(), Options{Path: path, OpenTimeout: 5 * time.Second})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(path, nil, 0o600)
	}()

	session, err := dev.Open()
	require.NoError(t, err)
	require.NoError(t, session.Close())
}

// A descriptor that is not the address space device refuses every request with ENOTTY, which
// exercises the request paths without the device present.
func TestRequestsAgainstOtherDevice(t *testing.T) {
	dev := New(testLogger(), Options{Path: "/dev/null"})

	session, err := dev.Open()
	require.NoError(t, err)

	block, status, err := session.AllocateBlock(4096)
	require.NoError(t, err)
	require.Equal(t, device.StatusNotSupported, status)
	require.Equal(t, device.InvalidRegion, block.Handle)

	// Nothing was allocated through this session, so there is nothing to translate
	status, err = session.DeallocateBlock(0x1000)
	require.NoError(t, err)
	require.Equal(t, device.StatusNotFound, status)

	shared, status, err := session.ClaimSharedBlock(0, 4096)
	require.NoError(t, err)
	require.Equal(t, device.StatusNotSupported, status)
	require.Equal(t, device.InvalidRegion, shared.Handle)

	status, err = session.UnclaimSharedBlock(0)
	require.NoError(t, err)
	require.Equal(t, device.StatusNotSupported, status)

	status, err = session.Ping(&device.PingMessage{})
	require.NoError(t, err)
	require.Equal(t, device.StatusNotSupported, status)

	_, err = session.OpenChildDriver(device.SubdeviceTypeDefault)
	require.Error(t, err)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
}

func TestClosedSession(t *testing.T) {
	s := newSession(testLogger(), -1, device.SubdeviceTypeDefault, false)

	_, _, err := s.AllocateBlock(4096)
	require.True(t, errors.Is(err, errSessionClosed))
	_, err = s.DeallocateBlock(0)
	require.True(t, errors.Is(err, errSessionClosed))
	_, _, err = s.ClaimSharedBlock(0, 4096)
	require.True(t, errors.Is(err, errSessionClosed))
	_, err = s.UnclaimSharedBlock(0)
	require.True(t, errors.Is(err, errSessionClosed))
	_, err = s.Ping(&device.PingMessage{})
	require.True(t, errors.Is(err, errSessionClosed))
	_, err = s.OpenChildDriver(device.SubdeviceTypeDefault)
	require.True(t, errors.Is(err, errSessionClosed))
	require.NoError(t, s.Close())
}
