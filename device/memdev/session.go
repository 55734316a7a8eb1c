//go:build linux

package memdev

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/hostmem/device"
	"golang.org/x/exp/slog"
)

var errSessionClosed = errors.New("memdev session is closed")

// session tracks what was allocated and claimed through it, so that Close can hand everything
// back to the device the way the real driver does when its descriptor is closed.
type session struct {
	device *Device

	mutex         sync.Mutex
	closed        bool
	child         bool
	subdeviceType device.SubdeviceType
	owned         *swiss.Map[uint64, struct{}]
	claimed       *swiss.Map[uint64, int]
}

var _ device.Session = &session{}

func (s *session) OpenChildDriver(subdeviceType device.SubdeviceType) (device.Session, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil, errSessionClosed
	}
	if s.child {
		return nil, errors.Newf("session is already bound to %s", s.subdeviceType)
	}

	return &session{
		device:        s.device,
		child:         true,
		subdeviceType: subdeviceType,
		owned:         swiss.NewMap[uint64, struct{}](42),
		claimed:       swiss.NewMap[uint64, int](42),
	}, nil
}

func (s *session) AllocateBlock(size uint64) (device.AllocatedBlock, device.Status, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return device.AllocatedBlock{Handle: device.InvalidRegion}, device.StatusError, errSessionClosed
	}

	block, status, err := s.device.allocate(size)
	if err == nil && status == device.StatusOK {
		s.owned.Put(block.PhysAddr, struct{}{})
	}
	return block, status, err
}

func (s *session) DeallocateBlock(physAddr uint64) (device.Status, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return device.StatusError, errSessionClosed
	}
	if !s.owned.Has(physAddr) {
		return device.StatusNotFound, nil
	}

	s.owned.Delete(physAddr)
	return s.device.deallocate(physAddr), nil
}

func (s *session) ClaimSharedBlock(offset, size uint64) (device.SharedBlock, device.Status, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return device.SharedBlock{Handle: device.InvalidRegion}, device.StatusError, errSessionClosed
	}

	shared, status, err := s.device.claim(offset, size)
	if err == nil && status == device.StatusOK {
		claims, _ := s.claimed.Get(offset)
		s.claimed.Put(offset, claims+1)
	}
	return shared, status, err
}

func (s *session) UnclaimSharedBlock(offset uint64) (device.Status, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return device.StatusError, errSessionClosed
	}

	claims, ok := s.claimed.Get(offset)
	if !ok {
		return device.StatusNotFound, nil
	}
	if claims == 1 {
		s.claimed.Delete(offset)
	} else {
		s.claimed.Put(offset, claims-1)
	}

	return s.device.unclaim(offset), nil
}

// Ping answers every message by incrementing its metadata
func (s *session) Ping(msg *device.PingMessage) (device.Status, error) {
	if msg == nil {
		return device.StatusInvalidArgs, errors.New("attempted to send a nil ping message")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return device.StatusError, errSessionClosed
	}

	msg.Metadata++
	return device.StatusOK, nil
}

func (s *session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.owned.Iter(func(physAddr uint64, _ struct{}) bool {
		s.device.logger.LogAttrs(context.Background(), slog.LevelDebug, "releasing block on session close",
			slog.String("physAddr", fmt.Sprintf("0x%x", physAddr)))
		s.device.deallocate(physAddr)
		return false
	})
	s.claimed.Iter(func(offset uint64, claims int) bool {
		for i := 0; i < claims; i++ {
			s.device.unclaim(offset)
		}
		return false
	})

	s.owned = swiss.NewMap[uint64, struct{}](42)
	s.claimed = swiss.NewMap[uint64, int](42)
	return nil
}
