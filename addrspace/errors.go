package addrspace

import "github.com/cockroachdb/errors"

var (
	// ErrNotOpened is returned when an operation needs a device session that was never established
	ErrNotOpened = errors.New("device session is not opened")
	// ErrRegionNotFound is returned when an offset has no live entry in the Registry
	ErrRegionNotFound = errors.New("no region is registered at the requested offset")
	// ErrRegionInUse is returned when a shared region is claimed at an offset that already holds a live region
	ErrRegionInUse = errors.New("a live region is already registered at the requested offset")
	// ErrHandleConsumed is returned when a top-level Handle is used after SetSubdeviceType
	ErrHandleConsumed = errors.New("handle was consumed by SetSubdeviceType")
	// ErrHandleClosed is returned when a Handle is used after Close
	ErrHandleClosed = errors.New("handle is closed")
	// ErrNotChildHandle is returned when a block operation is issued against a top-level Handle
	ErrNotChildHandle = errors.New("handle is not scoped to a child driver, call SetSubdeviceType first")
	// ErrZeroSize is returned when allocating or mapping a block with a size of 0
	ErrZeroSize = errors.New("block size is 0")
)
