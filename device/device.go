// Package device describes the host address space device as seen from the guest: a Device opens
// Sessions, a Session may be specialized into a child session for one subdevice type, and child
// sessions hand out blocks of host memory backed by mappable segments.
package device

import (
	"golang.org/x/sys/unix"
)

// RegionHandle is a descriptor for a mappable memory segment. Each RegionHandle has exactly one
// owner, which is responsible for calling Close.
type RegionHandle int

// InvalidRegion is the RegionHandle value that refers to no segment
const InvalidRegion RegionHandle = -1

func (h RegionHandle) Valid() bool {
	return h >= 0
}

// Close releases the segment descriptor. Closing InvalidRegion is a no-op.
func (h RegionHandle) Close() error {
	if !h.Valid() {
		return nil
	}
	return unix.Close(int(h))
}

// AllocatedBlock is the response to Session.AllocateBlock
type AllocatedBlock struct {
	// PhysAddr is the guest physical address of the block, used to deallocate it
	PhysAddr uint64
	// MappingOffset is the offset of the block inside Handle. Devices that hand out one segment
	// per block always report 0.
	MappingOffset uint64
	// Size is the size the device actually reserved, which may be larger than requested
	Size uint64
	// Handle is the segment backing the block. Ownership passes to the caller.
	Handle RegionHandle
}

// SharedBlock is the response to Session.ClaimSharedBlock
type SharedBlock struct {
	MappingOffset uint64
	Handle        RegionHandle
}

// PingMessage is the fixed-size message exchanged with a child driver through Session.Ping
type PingMessage struct {
	Offset    uint64
	Size      uint64
	Metadata  uint64
	Version   uint32
	WaitFD    uint32
	WaitFlags uint32
	Direction uint32
}

// Device connects to the host address space device
type Device interface {
	// Open establishes a new top-level session with the device
	Open() (Session, error)
}

// Session is a connection to the device or to one of its child drivers. The error return of each
// call reports transport failures; the Status return reports what the device said.
type Session interface {
	// OpenChildDriver opens a session scoped to the child driver for subdeviceType
	OpenChildDriver(subdeviceType SubdeviceType) (Session, error)

	AllocateBlock(size uint64) (AllocatedBlock, Status, error)
	DeallocateBlock(physAddr uint64) (Status, error)
	ClaimSharedBlock(offset, size uint64) (SharedBlock, Status, error)
	UnclaimSharedBlock(offset uint64) (Status, error)
	// Ping sends msg to the child driver and overwrites it with the response
	Ping(msg *PingMessage) (Status, error)

	Close() error
}
