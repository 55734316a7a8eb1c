package addrspace

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/hostmem/addrspace/internal/mapping"
	"github.com/vkngwrapper/hostmem/addrspace/internal/utils"
	"github.com/vkngwrapper/hostmem/device"
	"github.com/vkngwrapper/hostmem/memutils"
	"golang.org/x/exp/slog"
)

// Block is a single region of host memory allocated through a Provider. The zero value is an
// empty Block that can be passed to Allocate. A Block must not be copied once it has been allocated:
// the copy shares the underlying segment and destroying both is an error.
type Block struct {
	id       int
	provider *Provider
	session  device.Session
	handle   device.RegionHandle
	kind     mappingKind

	mapMutex  utils.OptionalMutex
	mapped    unsafe.Pointer
	guestAddr uint64

	physAddr      uint64
	mappingOffset uint64
	size          uint64

	nextBlock *Block
	prevBlock *Block
}

// Allocate requests size bytes from provider's device and binds the result to this Block. If the
// Block is already bound, it is destroyed first. On failure the Block is left empty; the returned
// Status is the one reported by the device, or device.StatusError if the device could not be reached.
func (b *Block) Allocate(provider *Provider, size uint64) (device.Status, error) {
	if provider == nil {
		return device.StatusInvalidArgs, errors.New("attempted to allocate a block from a nil provider")
	}
	provider.logger.Debug("Block::Allocate", slog.Uint64("Size", size))

	b.Destroy()

	// Provider.Destroy waits until the block is registered
	provider.sessionMutex.RLock()
	defer provider.sessionMutex.RUnlock()

	if provider.session == nil {
		return device.StatusError, errors.Wrap(ErrNotOpened, "cannot allocate a block from this provider")
	}
	if size == 0 {
		return device.StatusInvalidArgs, errors.Wrap(ErrZeroSize, "cannot allocate a block")
	}

	allocated, status, err := provider.childSession.AllocateBlock(size)
	if err != nil {
		provider.logger.LogAttrs(context.Background(), slog.LevelError, "failed to allocate device block",
			slog.Uint64("size", size),
			slog.Any("error", err))
		return device.StatusError, errors.Wrapf(err, "failed to allocate a device block of size %d", size)
	}
	if status != device.StatusOK {
		provider.logger.LogAttrs(context.Background(), slog.LevelError, "device refused block allocation",
			slog.Uint64("size", size),
			slog.String("status", status.String()))
		return status, errors.Wrapf(status.ToError(), "failed to allocate a device block of size %d", size)
	}

	b.provider = provider
	b.session = provider.childSession
	b.handle = allocated.Handle
	b.kind = mappingExclusive
	b.physAddr = allocated.PhysAddr
	b.mappingOffset = allocated.MappingOffset
	b.size = size
	b.mapMutex.UseMutex = provider.useMutex

	provider.registerBlock(b)
	return status, nil
}

// ClaimShared is not supported for Blocks: shared regions are only reachable through Handle.ClaimShared.
func (b *Block) ClaimShared(provider *Provider, offset, size uint64) {
	panic("claiming shared regions through a Block is not supported")
}

// Map maps the Block into this process and returns the pointer that corresponds to guestAddress
// inside the mapping, see GuestPtr. Mapping an empty Block fails, and mapping a Block twice panics.
func (b *Block) Map(guestAddress uint64) (unsafe.Pointer, error) {
	if b.size == 0 {
		return nil, errors.Wrap(ErrZeroSize, "attempted to map a block that has not been allocated")
	}
	b.provider.logger.Debug("Block::Map", slog.String("GuestAddress", fmt.Sprintf("0x%x", guestAddress)))

	b.mapMutex.Lock()
	defer b.mapMutex.Unlock()

	if b.mapped != nil {
		panic("attempted to map a block that is already mapped")
	}

	ptr, err := mapping.Map(b.handle, b.mappingOffset, b.size)
	if err != nil {
		b.provider.logger.LogAttrs(context.Background(), slog.LevelError, "failed to map block",
			slog.String("physAddr", fmt.Sprintf("0x%x", b.physAddr)),
			slog.Uint64("size", b.size),
			slog.Any("error", err))
		return nil, errors.Wrapf(err, "failed to map block at physical address 0x%x", b.physAddr)
	}

	b.mapped = ptr
	b.guestAddr = guestAddress
	b.provider.counters.addMapping(b.size)

	return b.guestPtr(), nil
}

// PhysAddr returns the physical address the device assigned to this Block, or 0 for an empty Block
func (b *Block) PhysAddr() uint64 {
	return b.physAddr
}

// HostAddr returns the base of this Block's mapping, or nil if it is not mapped
func (b *Block) HostAddr() unsafe.Pointer {
	b.mapMutex.Lock()
	defer b.mapMutex.Unlock()

	return b.mapped
}

// GuestPtr returns the base of this Block's mapping advanced by the guest address passed to Map,
// modulo the page size. It returns nil if the Block is not mapped.
func (b *Block) GuestPtr() unsafe.Pointer {
	b.mapMutex.Lock()
	defer b.mapMutex.Unlock()

	return b.guestPtr()
}

func (b *Block) guestPtr() unsafe.Pointer {
	if b.mapped == nil {
		return nil
	}

	return unsafe.Add(b.mapped, memutils.PageOffset(b.guestAddr, uint64(mapping.PageSize())))
}

// Size returns the size requested when this Block was allocated, or 0 for an empty Block
func (b *Block) Size() uint64 {
	return b.size
}

// IsMapped reports whether Map has been called since the Block was last allocated
func (b *Block) IsMapped() bool {
	return b.HostAddr() != nil
}

// Handle returns the segment backing this Block, or device.InvalidRegion for an empty Block. The
// Block retains ownership.
func (b *Block) Handle() device.RegionHandle {
	if b.size == 0 {
		return device.InvalidRegion
	}
	return b.handle
}

// Destroy unmaps the Block if it is mapped, returns it to the device and resets it to empty.
// Failures to unmap or deallocate are logged; the Block is empty afterward regardless. Destroying
// an empty Block does nothing.
func (b *Block) Destroy() {
	if b.size == 0 {
		b.reset()
		return
	}

	logger := b.provider.logger
	logger.Debug("Block::Destroy")

	b.unmap()

	err := b.handle.Close()
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to close block segment",
			slog.Int("handle", int(b.handle)),
			slog.Any("error", err))
	}

	switch b.kind {
	case mappingExclusive:
		b.provider.callbacks.Free(b.physAddr, b.size)
		b.deallocate()
	case mappingShared:
		panic("destroying shared blocks is not supported")
	default:
		panic(fmt.Sprintf("unknown block mapping kind: %s", b.kind))
	}

	b.provider.unregisterBlock(b)
	b.reset()
}

func (b *Block) unmap() {
	b.mapMutex.Lock()
	defer b.mapMutex.Unlock()

	if b.mapped == nil {
		return
	}

	err := mapping.Unmap(b.mapped, b.size)
	if err != nil {
		b.provider.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to unmap block",
			slog.String("physAddr", fmt.Sprintf("0x%x", b.physAddr)),
			slog.Any("error", err))
	}

	b.mapped = nil
	b.provider.counters.removeMapping(b.size)
}

func (b *Block) deallocate() {
	status, err := b.session.DeallocateBlock(b.physAddr)
	if err != nil {
		b.provider.logger.LogAttrs(context.Background(), slog.LevelError, "failed to deallocate device block",
			slog.String("physAddr", fmt.Sprintf("0x%x", b.physAddr)),
			slog.Any("error", err))
		return
	}

	if status != device.StatusOK {
		b.provider.logger.LogAttrs(context.Background(), slog.LevelError, "device refused block deallocation",
			slog.String("physAddr", fmt.Sprintf("0x%x", b.physAddr)),
			slog.String("status", status.String()))
	}
}

func (b *Block) reset() {
	b.id = 0
	b.provider = nil
	b.session = nil
	b.handle = device.InvalidRegion
	b.kind = mappingExclusive
	b.mapped = nil
	b.guestAddr = 0
	b.physAddr = 0
	b.mappingOffset = 0
	b.size = 0
}

func (b *Block) printParameters(json *jwriter.ObjectState) {
	json.Name("ID").Int(b.id)
	json.Name("Kind").String(b.kind.String())
	json.Name("Size").Int(int(b.size))
	json.Name("PhysAddr").String(fmt.Sprintf("0x%x", b.physAddr))
	json.Name("MappingOffset").Int(int(b.mappingOffset))

	mapped := b.IsMapped()
	json.Name("Mapped").Bool(mapped)
	if mapped {
		json.Name("GuestAddress").String(fmt.Sprintf("0x%x", b.guestAddr))
	}
}
