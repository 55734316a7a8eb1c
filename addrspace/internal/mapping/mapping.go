//go:build unix

// Package mapping wraps the process address space primitives used to expose device segments to
// the guest process.
package mapping

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/hostmem/device"
	"github.com/vkngwrapper/hostmem/memutils"
	"golang.org/x/sys/unix"
)

var pageSize = uintptr(unix.Getpagesize())

func init() {
	memutils.DebugCheckPow2(pageSize, "system page size")
}

// PageSize returns the system page size that mappings are aligned to
func PageSize() uintptr {
	return pageSize
}

// Map maps size bytes of the segment behind handle, starting at offset, with read and write access.
// The mapping is shared so that writes are visible to the device.
func Map(handle device.RegionHandle, offset uint64, size uint64) (unsafe.Pointer, error) {
	if !handle.Valid() {
		return nil, errors.New("attempted to map an invalid region handle")
	}
	if size == 0 {
		return nil, errors.New("attempted to map a region with a size of 0")
	}
	if memutils.PageOffset(offset, uint64(pageSize)) != 0 {
		return nil, errors.Errorf("mapping offset 0x%x is not aligned to the page size %d", offset, pageSize)
	}

	ptr, err := unix.MmapPtr(int(handle), int64(offset), nil, uintptr(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map region %d at offset 0x%x with size %d", handle, offset, size)
	}

	return ptr, nil
}

// Unmap releases size bytes of mapped memory starting at the page containing ptr
func Unmap(ptr unsafe.Pointer, size uint64) error {
	if ptr == nil {
		return errors.New("attempted to unmap a nil pointer")
	}

	base := unsafe.Add(ptr, -int(memutils.PageOffset(uintptr(ptr), pageSize)))
	err := unix.MunmapPtr(base, uintptr(size))
	if err != nil {
		return errors.Wrapf(err, "failed to unmap %d bytes at %p", size, base)
	}

	return nil
}
