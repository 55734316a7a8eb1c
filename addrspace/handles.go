package addrspace

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/hostmem/addrspace/internal/mapping"
	"github.com/vkngwrapper/hostmem/device"
	"github.com/vkngwrapper/hostmem/memutils"
	"golang.org/x/exp/slog"
)

// HandleOptions contains optional settings when opening a Handle
type HandleOptions struct {
	// Registry is the registry that regions allocated or claimed through the Handle are recorded in.
	// When it is nil, DefaultRegistry is used. Child handles inherit the registry of their parent.
	Registry *Registry
}

// Handle is a session with the address space device that regions are allocated, claimed and mapped
// through by Offset. A Handle returned from Open addresses the device itself and must be
// specialized with SetSubdeviceType before regions can be allocated.
type Handle struct {
	logger   *slog.Logger
	registry *Registry

	mutex         sync.Mutex
	kind          handleKind
	subdeviceType device.SubdeviceType
	session       device.Session
}

// Open connects to dev and returns a Handle for the device
func Open(logger *slog.Logger, dev device.Device, options HandleOptions) (*Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("Handle::Open")

	registry := options.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	session, err := dev.Open()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open address space device")
	}

	return &Handle{
		logger:   logger,
		registry: registry,
		kind:     handleDevice,
		session:  session,
	}, nil
}

// Registry returns the registry this Handle records regions in
func (h *Handle) Registry() *Registry {
	return h.registry
}

// SubdeviceType returns the child driver type of this Handle. The second return value is false
// for Handles that address the device itself.
func (h *Handle) SubdeviceType() (device.SubdeviceType, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.subdeviceType, h.kind == handleChild
}

func (h *Handle) activeSession(requireChild bool) (device.Session, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	switch h.kind {
	case handleDevice:
		if requireChild {
			return nil, ErrNotChildHandle
		}
	case handleChild:
	case handleConsumed:
		return nil, ErrHandleConsumed
	case handleClosed:
		return nil, ErrHandleClosed
	default:
		return nil, ErrNotOpened
	}

	return h.session, nil
}

// Close releases the Handle's session. Closing a consumed or already-closed Handle does nothing.
func (h *Handle) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.logger.Debug("Handle::Close", slog.String("Kind", h.kind.String()))

	if h.kind != handleDevice && h.kind != handleChild {
		return nil
	}

	err := h.session.Close()
	h.session = nil
	h.kind = handleClosed

	return errors.Wrap(err, "failed to close address space session")
}

// SetSubdeviceType opens a child driver of subdeviceType and returns a Handle for it. The
// receiver is closed and consumed: every later call on it fails with ErrHandleConsumed. If the
// child driver cannot be opened the receiver is left untouched.
func (h *Handle) SetSubdeviceType(subdeviceType device.SubdeviceType) (*Handle, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.logger.Debug("Handle::SetSubdeviceType", slog.String("SubdeviceType", subdeviceType.String()))

	switch h.kind {
	case handleDevice:
	case handleChild:
		return nil, errors.New("the handle is already scoped to a child driver")
	case handleConsumed:
		return nil, ErrHandleConsumed
	case handleClosed:
		return nil, ErrHandleClosed
	default:
		return nil, ErrNotOpened
	}

	child, err := h.session.OpenChildDriver(subdeviceType)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open child driver %s", subdeviceType)
	}

	err = h.session.Close()
	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to close device session after opening child driver",
			slog.Any("error", err))
	}
	h.session = nil
	h.kind = handleConsumed

	return &Handle{
		logger:        h.logger,
		registry:      h.registry,
		kind:          handleChild,
		subdeviceType: subdeviceType,
		session:       child,
	}, nil
}

// Allocate requests a block of size bytes and records it in the Registry under a fresh Offset
func (h *Handle) Allocate(size uint64) (physAddr uint64, offset Offset, err error) {
	h.logger.Debug("Handle::Allocate", slog.Uint64("Size", size))

	session, err := h.activeSession(true)
	if err != nil {
		return 0, 0, err
	}

	allocated, status, err := session.AllocateBlock(size)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to allocate a device block of size %d", size)
	}
	if status != device.StatusOK {
		return 0, 0, errors.Wrapf(status.ToError(), "failed to allocate a device block of size %d", size)
	}

	offset = h.registry.AddUnique(RegionInfo{
		Handle:        allocated.Handle,
		PhysAddr:      allocated.PhysAddr,
		MappingOffset: allocated.MappingOffset,
	})
	return allocated.PhysAddr, offset, nil
}

// Free closes the segment of the region at offset, removes it from the Registry and returns the
// block to the device
func (h *Handle) Free(offset Offset) error {
	h.logger.Debug("Handle::Free", slog.Uint64("Offset", uint64(offset)))

	session, err := h.activeSession(true)
	if err != nil {
		return err
	}

	info, ok := h.registry.take(offset, false)
	if !ok {
		return errors.Wrapf(ErrRegionNotFound, "cannot free offset %d", offset)
	}

	err = info.Handle.Close()
	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to close region segment",
			slog.Uint64("offset", uint64(offset)),
			slog.Any("error", err))
	}

	status, err := session.DeallocateBlock(info.PhysAddr)
	if err != nil {
		return errors.Wrapf(err, "failed to deallocate block at physical address 0x%x", info.PhysAddr)
	}
	return errors.Wrapf(status.ToError(), "failed to deallocate block at physical address 0x%x", info.PhysAddr)
}

// ClaimShared claims size bytes of the device's shared region at offset and records the claim in
// the Registry. An offset that already holds a live region is refused with ErrRegionInUse. Beyond
// that only a failure to reach the device is reported: a claim the device refuses is still
// recorded, with whatever segment the device returned.
func (h *Handle) ClaimShared(offset Offset, size uint64) error {
	h.logger.Debug("Handle::ClaimShared", slog.Uint64("Offset", uint64(offset)), slog.Uint64("Size", size))

	session, err := h.activeSession(true)
	if err != nil {
		return err
	}

	if h.registry.Has(offset) {
		return errors.Wrapf(ErrRegionInUse, "cannot claim shared region at offset %d", offset)
	}

	shared, status, err := session.ClaimSharedBlock(uint64(offset), size)
	if err != nil {
		return errors.Wrapf(err, "failed to claim shared region at offset %d", offset)
	}
	if status != device.StatusOK {
		h.logger.LogAttrs(context.Background(), slog.LevelWarn, "device refused shared claim",
			slog.Uint64("offset", uint64(offset)),
			slog.Uint64("size", size),
			slog.String("status", status.String()))
	}

	if h.registry.addVacant(offset, RegionInfo{
		Handle:        shared.Handle,
		MappingOffset: shared.MappingOffset,
		Shared:        true,
	}) {
		return nil
	}

	// A region was allocated at offset while the claim was in flight
	err = shared.Handle.Close()
	if status == device.StatusOK {
		var unclaimErr error
		status, unclaimErr = session.UnclaimSharedBlock(uint64(offset))
		err = errors.CombineErrors(err, unclaimErr)
		err = errors.CombineErrors(err, status.ToError())
	}
	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to release shared claim on an offset in use",
			slog.Uint64("offset", uint64(offset)),
			slog.Any("error", err))
	}
	return errors.Wrapf(ErrRegionInUse, "cannot claim shared region at offset %d", offset)
}

// UnclaimShared releases the claim on the shared region at offset and removes it from the Registry
func (h *Handle) UnclaimShared(offset Offset) error {
	h.logger.Debug("Handle::UnclaimShared", slog.Uint64("Offset", uint64(offset)))

	session, err := h.activeSession(true)
	if err != nil {
		return err
	}

	status, err := session.UnclaimSharedBlock(uint64(offset))
	if err != nil {
		return errors.Wrapf(err, "failed to unclaim shared region at offset %d", offset)
	}

	info, ok := h.registry.take(offset, true)
	if ok {
		closeErr := info.Handle.Close()
		if closeErr != nil {
			h.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to close shared region segment",
				slog.Uint64("offset", uint64(offset)),
				slog.Any("error", closeErr))
		}
	}

	return errors.Wrapf(status.ToError(), "failed to unclaim shared region at offset %d", offset)
}

// Map maps size bytes of the region registered at offset and returns the mapping base advanced by
// pageOffset modulo the page size. The mapping must be released with Unmap.
func (h *Handle) Map(offset Offset, size uint64, pageOffset uint64) (unsafe.Pointer, error) {
	h.logger.Debug("Handle::Map",
		slog.Uint64("Offset", uint64(offset)),
		slog.Uint64("Size", size),
		slog.String("PageOffset", fmt.Sprintf("0x%x", pageOffset)))

	_, err := h.activeSession(false)
	if err != nil {
		return nil, err
	}

	info := h.registry.Get(offset)
	if !info.Valid() {
		return nil, errors.Wrapf(ErrRegionNotFound, "cannot map offset %d", offset)
	}
	if size == 0 {
		return nil, errors.Wrapf(ErrZeroSize, "cannot map offset %d", offset)
	}

	ptr, err := mapping.Map(info.Handle, info.MappingOffset, size)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map offset %d", offset)
	}

	return unsafe.Add(ptr, memutils.PageOffset(pageOffset, uint64(mapping.PageSize()))), nil
}

// Unmap releases a mapping returned by Handle.Map. ptr may point anywhere inside the first page of
// the mapping, and size must be the size passed to Map.
func Unmap(ptr unsafe.Pointer, size uint64) error {
	return errors.WithStack(mapping.Unmap(ptr, size))
}

// Ping sends msg to the child driver and overwrites it with the response
func (h *Handle) Ping(msg *device.PingMessage) error {
	h.logger.Debug("Handle::Ping")

	session, err := h.activeSession(true)
	if err != nil {
		return err
	}

	status, err := session.Ping(msg)
	if err != nil {
		return errors.Wrap(err, "failed to ping child driver")
	}
	return errors.Wrap(status.ToError(), "child driver rejected ping")
}
