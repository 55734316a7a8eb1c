//go:build linux

package goldfish

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/hostmem/device"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// session is an open descriptor of the address space device. Regions handed out by the device
// are windows of the descriptor, so each segment handle is a duplicate of it and is mapped at the
// device offset of its region.
type session struct {
	logger *slog.Logger

	mutex         sync.Mutex
	fd            int
	child         bool
	subdeviceType device.SubdeviceType
	// offsets translates the physical address of each block allocated through this session to its
	// device offset, which is what the driver deallocates by
	offsets *swiss.Map[uint64, uint64]
}

var _ device.Session = &session{}

func newSession(logger *slog.Logger, fd int, subdeviceType device.SubdeviceType, child bool) *session {
	return &session{
		logger:        logger,
		fd:            fd,
		child:         child,
		subdeviceType: subdeviceType,
		offsets:       swiss.NewMap[uint64, uint64](42),
	}
}

var errSessionClosed = errors.New("address space session is closed")

func (s *session) statusOf(err error, operation string) (device.Status, error) {
	status, fromDevice := statusForErrno(err)
	if fromDevice {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "address space device refused request",
			slog.String("operation", operation),
			slog.String("status", status.String()),
			slog.Any("errno", err))
		return status, nil
	}

	return device.StatusError, errors.Wrapf(err, "%s failed", operation)
}

func (s *session) duplicate() (device.RegionHandle, error) {
	fd, err := unix.FcntlInt(uintptr(s.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return device.InvalidRegion, errors.Wrap(err, "failed to duplicate address space descriptor")
	}
	return device.RegionHandle(fd), nil
}

// OpenChildDriver pings the driver with the requested subdevice type, which binds the descriptor to
// that child driver. The descriptor moves to the returned session and this session is closed.
func (s *session) OpenChildDriver(subdeviceType device.SubdeviceType) (device.Session, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.fd < 0 {
		return nil, errSessionClosed
	}
	if s.child {
		return nil, errors.Newf("session is already bound to %s", s.subdeviceType)
	}

	msg := device.PingMessage{Metadata: uint64(subdeviceType)}
	err := ioctl(s.fd, ioctlPing, unsafe.Pointer(&msg))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to select subdevice type %s", subdeviceType)
	}

	child := newSession(s.logger, s.fd, subdeviceType, true)
	s.fd = -1
	return child, nil
}

func (s *session) AllocateBlock(size uint64) (device.AllocatedBlock, device.Status, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.fd < 0 {
		return device.AllocatedBlock{}, device.StatusError, errSessionClosed
	}

	request := allocateBlockRequest{Size: size}
	err := ioctl(s.fd, ioctlAllocateBlock, unsafe.Pointer(&request))
	if err != nil {
		status, err := s.statusOf(err, "ALLOCATE_BLOCK")
		return device.AllocatedBlock{Handle: device.InvalidRegion}, status, err
	}

	handle, err := s.duplicate()
	if err != nil {
		offset := request.Offset
		rollbackErr := ioctl(s.fd, ioctlDeallocateBlock, unsafe.Pointer(&offset))
		if rollbackErr != nil {
			s.logger.LogAttrs(context.Background(), slog.LevelError, "failed to release block after descriptor failure",
				slog.String("offset", fmt.Sprintf("0x%x", offset)),
				slog.Any("error", rollbackErr))
		}
		return device.AllocatedBlock{Handle: device.InvalidRegion}, device.StatusError, err
	}

	s.offsets.Put(request.PhysAddr, request.Offset)
	return device.AllocatedBlock{
		PhysAddr:      request.PhysAddr,
		MappingOffset: request.Offset,
		Size:          request.Size,
		Handle:        handle,
	}, device.StatusOK, nil
}

func (s *session) DeallocateBlock(physAddr uint64) (device.Status, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.fd < 0 {
		return device.StatusError, errSessionClosed
	}

	offset, ok := s.offsets.Get(physAddr)
	if !ok {
		return device.StatusNotFound, nil
	}

	err := ioctl(s.fd, ioctlDeallocateBlock, unsafe.Pointer(&offset))
	if err != nil {
		return s.statusOf(err, "DEALLOCATE_BLOCK")
	}

	s.offsets.Delete(physAddr)
	return device.StatusOK, nil
}

func (s *session) ClaimSharedBlock(offset, size uint64) (device.SharedBlock, device.Status, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.fd < 0 {
		return device.SharedBlock{Handle: device.InvalidRegion}, device.StatusError, errSessionClosed
	}

	request := claimSharedRequest{Offset: offset, Size: size}
	err := ioctl(s.fd, ioctlClaimShared, unsafe.Pointer(&request))
	if err != nil {
		status, err := s.statusOf(err, "CLAIM_SHARED")
		return device.SharedBlock{Handle: device.InvalidRegion}, status, err
	}

	handle, err := s.duplicate()
	if err != nil {
		unclaimErr := ioctl(s.fd, ioctlUnclaimShared, unsafe.Pointer(&offset))
		if unclaimErr != nil {
			s.logger.LogAttrs(context.Background(), slog.LevelError, "failed to release shared claim after descriptor failure",
				slog.String("offset", fmt.Sprintf("0x%x", offset)),
				slog.Any("error", unclaimErr))
		}
		return device.SharedBlock{Handle: device.InvalidRegion}, device.StatusError, err
	}

	return device.SharedBlock{MappingOffset: offset, Handle: handle}, device.StatusOK, nil
}

func (s *session) UnclaimSharedBlock(offset uint64) (device.Status, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.fd < 0 {
		return device.StatusError, errSessionClosed
	}

	err := ioctl(s.fd, ioctlUnclaimShared, unsafe.Pointer(&offset))
	if err != nil {
		return s.statusOf(err, "UNCLAIM_SHARED")
	}
	return device.StatusOK, nil
}

func (s *session) Ping(msg *device.PingMessage) (device.Status, error) {
	if msg == nil {
		return device.StatusInvalidArgs, errors.New("attempted to send a nil ping message")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.fd < 0 {
		return device.StatusError, errSessionClosed
	}

	err := ioctl(s.fd, ioctlPing, unsafe.Pointer(msg))
	if err != nil {
		return s.statusOf(err, "PING")
	}
	return device.StatusOK, nil
}

// Close releases the descriptor. The driver returns every block still allocated through it to the
// device. Closing a session that handed its descriptor to a child does nothing.
func (s *session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.fd < 0 {
		return nil
	}

	err := unix.Close(s.fd)
	s.fd = -1
	s.offsets = swiss.NewMap[uint64, uint64](42)
	return errors.Wrap(err, "failed to close address space descriptor")
}
