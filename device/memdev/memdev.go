//go:build linux

// Package memdev is a software address space device. Every block is an anonymous memory file, so
// blocks can be mapped and shared like the segments of the real device without a host attached.
package memdev

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/hostmem/device"
	"github.com/vkngwrapper/hostmem/memutils"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// DefaultPhysAddrBase is the first physical address handed out when Options.PhysAddrBase is 0
const DefaultPhysAddrBase uint64 = 0x100000000

// Options contains optional settings when creating a Device
type Options struct {
	// PhysAddrBase is the physical address of the first block
	PhysAddrBase uint64
	// MaxBytes caps the number of bytes that can be allocated at once, after rounding each block
	// up to the page size. 0 means no limit.
	MaxBytes uint64
}

type memBlock struct {
	fd   int
	size uint64
}

type sharedRegion struct {
	fd     int
	size   uint64
	claims int
}

// Device is a software address space device. All sessions opened from one Device share its blocks
// and shared regions.
type Device struct {
	logger   *slog.Logger
	pageSize uint64
	maxBytes uint64

	mutex     sync.Mutex
	nextPhys  uint64
	usedBytes uint64
	blocks    *swiss.Map[uint64, memBlock]
	shared    *swiss.Map[uint64, *sharedRegion]
}

var _ device.Device = &Device{}

func New(logger *slog.Logger, options Options) *Device {
	if logger == nil {
		logger = slog.Default()
	}

	base := options.PhysAddrBase
	if base == 0 {
		base = DefaultPhysAddrBase
	}

	pageSize := uint64(unix.Getpagesize())
	memutils.DebugCheckPow2(pageSize, "system page size")

	return &Device{
		logger:   logger,
		pageSize: pageSize,
		maxBytes: options.MaxBytes,
		nextPhys: memutils.AlignUp(base, pageSize),
		blocks:   swiss.NewMap[uint64, memBlock](42),
		shared:   swiss.NewMap[uint64, *sharedRegion](42),
	}
}

func (d *Device) Open() (device.Session, error) {
	d.logger.Debug("memdev.Device::Open")

	return &session{
		device:        d,
		subdeviceType: device.SubdeviceTypeDefault,
		owned:         swiss.NewMap[uint64, struct{}](42),
		claimed:       swiss.NewMap[uint64, int](42),
	}, nil
}

// LiveBlocks returns the number of blocks that have been allocated and not yet deallocated
func (d *Device) LiveBlocks() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.blocks.Count()
}

// UsedBytes returns the number of bytes held by live blocks, rounded up to the page size
func (d *Device) UsedBytes() uint64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.usedBytes
}

// SharedRegions returns the number of shared regions that have at least one claim
func (d *Device) SharedRegions() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.shared.Count()
}

func createSegment(name string, size uint64) (int, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return -1, errors.Wrap(err, "failed to create memory file")
	}

	err = unix.Ftruncate(fd, int64(size))
	if err != nil {
		_ = unix.Close(fd)
		return -1, errors.Wrapf(err, "failed to size memory file to %d bytes", size)
	}

	return fd, nil
}

func duplicate(fd int) (device.RegionHandle, error) {
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return device.InvalidRegion, errors.Wrap(err, "failed to duplicate memory file")
	}
	return device.RegionHandle(dup), nil
}

func (d *Device) allocate(size uint64) (device.AllocatedBlock, device.Status, error) {
	if size == 0 {
		return device.AllocatedBlock{Handle: device.InvalidRegion}, device.StatusInvalidArgs, nil
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	reserved := memutils.AlignUp(size, d.pageSize)
	if d.maxBytes != 0 && d.usedBytes+reserved > d.maxBytes {
		return device.AllocatedBlock{Handle: device.InvalidRegion}, device.StatusNoMemory, nil
	}

	physAddr := d.nextPhys
	fd, err := createSegment(fmt.Sprintf("memdev-block-%x", physAddr), reserved)
	if err != nil {
		return device.AllocatedBlock{Handle: device.InvalidRegion}, device.StatusError, err
	}

	handle, err := duplicate(fd)
	if err != nil {
		_ = unix.Close(fd)
		return device.AllocatedBlock{Handle: device.InvalidRegion}, device.StatusError, err
	}

	d.nextPhys += reserved
	d.usedBytes += reserved
	d.blocks.Put(physAddr, memBlock{fd: fd, size: reserved})

	return device.AllocatedBlock{
		PhysAddr: physAddr,
		Size:     reserved,
		Handle:   handle,
	}, device.StatusOK, nil
}

func (d *Device) deallocate(physAddr uint64) device.Status {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	block, ok := d.blocks.Get(physAddr)
	if !ok {
		return device.StatusNotFound
	}

	d.blocks.Delete(physAddr)
	d.usedBytes -= block.size

	err := unix.Close(block.fd)
	if err != nil {
		d.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to close block memory file",
			slog.String("physAddr", fmt.Sprintf("0x%x", physAddr)),
			slog.Any("error", err))
	}
	return device.StatusOK
}

func (d *Device) claim(offset, size uint64) (device.SharedBlock, device.Status, error) {
	if size == 0 {
		return device.SharedBlock{Handle: device.InvalidRegion}, device.StatusInvalidArgs, nil
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	region, ok := d.shared.Get(offset)
	if !ok {
		fd, err := createSegment(fmt.Sprintf("memdev-shared-%x", offset), memutils.AlignUp(size, d.pageSize))
		if err != nil {
			return device.SharedBlock{Handle: device.InvalidRegion}, device.StatusError, err
		}

		region = &sharedRegion{fd: fd, size: size}
		d.shared.Put(offset, region)
	} else if size > region.size {
		return device.SharedBlock{Handle: device.InvalidRegion}, device.StatusInvalidArgs, nil
	}

	handle, err := duplicate(region.fd)
	if err != nil {
		if region.claims == 0 {
			d.releaseShared(offset, region)
		}
		return device.SharedBlock{Handle: device.InvalidRegion}, device.StatusError, err
	}

	region.claims++
	return device.SharedBlock{Handle: handle}, device.StatusOK, nil
}

func (d *Device) unclaim(offset uint64) device.Status {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	region, ok := d.shared.Get(offset)
	if !ok {
		return device.StatusNotFound
	}

	region.claims--
	if region.claims == 0 {
		d.releaseShared(offset, region)
	}
	return device.StatusOK
}

func (d *Device) releaseShared(offset uint64, region *sharedRegion) {
	d.shared.Delete(offset)

	err := unix.Close(region.fd)
	if err != nil {
		d.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to close shared memory file",
			slog.String("offset", fmt.Sprintf("0x%x", offset)),
			slog.Any("error", err))
	}
}
