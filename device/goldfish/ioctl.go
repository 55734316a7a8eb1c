//go:build linux

package goldfish

import (
	"syscall"
	"unsafe"

	"github.com/vkngwrapper/hostmem/device"
	"golang.org/x/sys/unix"
)

const (
	ioctlMagic = 'G'

	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func iowr(nr, size uintptr) uintptr {
	return (iocRead|iocWrite)<<iocDirShift | size<<iocSizeShift | ioctlMagic<<iocTypeShift | nr<<iocNRShift
}

type allocateBlockRequest struct {
	Size     uint64
	Offset   uint64
	PhysAddr uint64
}

type claimSharedRequest struct {
	Offset uint64
	Size   uint64
}

var (
	ioctlAllocateBlock   = iowr(10, unsafe.Sizeof(allocateBlockRequest{}))
	ioctlDeallocateBlock = iowr(11, unsafe.Sizeof(uint64(0)))
	ioctlPing            = iowr(12, unsafe.Sizeof(device.PingMessage{}))
	ioctlClaimShared     = iowr(13, unsafe.Sizeof(claimSharedRequest{}))
	ioctlUnclaimShared   = iowr(14, unsafe.Sizeof(uint64(0)))
)

func ioctl(fd int, request uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// statusForErrno reports the device status an ioctl failure stands for. Errors that do not come
// from the device itself, such as a closed descriptor, are transport failures and report false.
func statusForErrno(err error) (device.Status, bool) {
	errno, ok := err.(syscall.Errno)
	if !ok {
		return device.StatusError, false
	}

	switch errno {
	case unix.ENOMEM:
		return device.StatusNoMemory, true
	case unix.EINVAL:
		return device.StatusInvalidArgs, true
	case unix.ENOENT, unix.ENXIO:
		return device.StatusNotFound, true
	case unix.ENOTTY, unix.EOPNOTSUPP:
		return device.StatusNotSupported, true
	case unix.EEXIST:
		return device.StatusAlreadyExists, true
	case unix.EIO:
		return device.StatusError, true
	}

	return device.StatusError, false
}
