package addrspace

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/hostmem/device"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// Offset is the key a region is registered under
type Offset uint64

// RegionInfo describes a single region known to a Registry
type RegionInfo struct {
	// Handle is the segment handle that backs the region. It is device.InvalidRegion when
	// the region could not be found.
	Handle device.RegionHandle
	// PhysAddr is the physical address the device assigned to the region
	PhysAddr uint64
	// MappingOffset is the offset of the region inside the segment referenced by Handle
	MappingOffset uint64
	// Shared is true for regions recorded by Handle.ClaimShared and false for allocated blocks
	Shared bool
}

// Valid reports whether the RegionInfo references a live segment
func (i RegionInfo) Valid() bool {
	return i.Handle.Valid()
}

// Registry tracks the regions that the handle API has handed out. It is safe for concurrent
// use; the lock is only held for the duration of a map operation.
type Registry struct {
	logger *slog.Logger

	mutex      sync.Mutex
	regions    *swiss.Map[Offset, RegionInfo]
	nextOffset Offset
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide Registry, creating it on first use. It is never torn down.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(slog.Default())
	})
	return defaultRegistry
}

// NewRegistry creates an empty Registry that is independent of the process-wide one
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:  logger,
		regions: swiss.NewMap[Offset, RegionInfo](42),
	}
}

// Add registers info at offset. An existing entry at the same offset is replaced.
func (r *Registry) Add(offset Offset, info RegionInfo) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous, ok := r.regions.Get(offset)
	if ok && previous.Valid() && previous.Handle != info.Handle {
		r.logger.LogAttrs(context.Background(), slog.LevelWarn, "replacing live region",
			slog.Uint64("offset", uint64(offset)),
			slog.Int("previousHandle", int(previous.Handle)),
			slog.Int("handle", int(info.Handle)),
		)
	}

	r.regions.Put(offset, info)
}

// AddUnique registers info at an offset that no live region currently uses and returns that offset
func (r *Registry) AddUnique(info RegionInfo) Offset {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	offset := r.nextOffset
	for r.regions.Has(offset) {
		offset++
	}
	r.nextOffset = offset + 1

	r.regions.Put(offset, info)
	return offset
}

// Has reports whether a live region is registered at offset
func (r *Registry) Has(offset Offset) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	info, ok := r.regions.Get(offset)
	return ok && info.Valid()
}

// addVacant registers info at offset unless a live region is already registered there
func (r *Registry) addVacant(offset Offset, info RegionInfo) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous, ok := r.regions.Get(offset)
	if ok && previous.Valid() {
		return false
	}

	r.regions.Put(offset, info)
	return true
}

// Remove erases the entry at offset, if there is one
func (r *Registry) Remove(offset Offset) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.regions.Delete(offset)
}

// Get returns a copy of the entry at offset. If there is none, the returned RegionInfo is not Valid.
func (r *Registry) Get(offset Offset) RegionInfo {
	r.mutex.Lock()
	info, ok := r.regions.Get(offset)
	r.mutex.Unlock()

	if !ok {
		r.logNotFound(offset)
		return RegionInfo{Handle: device.InvalidRegion}
	}

	return info
}

// take removes the entry at offset and returns it, so that only one caller can ever own it. An
// entry whose Shared field does not match shared is left in place and reported as absent.
func (r *Registry) take(offset Offset, shared bool) (RegionInfo, bool) {
	r.mutex.Lock()
	info, ok := r.regions.Get(offset)
	ok = ok && info.Shared == shared
	if ok {
		r.regions.Delete(offset)
	}
	r.mutex.Unlock()

	if !ok {
		r.logNotFound(offset)
		return RegionInfo{Handle: device.InvalidRegion}, false
	}

	return info, true
}

func (r *Registry) logNotFound(offset Offset) {
	r.logger.LogAttrs(context.Background(), slog.LevelWarn, "region not found",
		slog.Uint64("offset", uint64(offset)),
	)
}

// Len returns the number of registered regions
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.regions.Count()
}

// Validate verifies that no segment handle is owned by more than one entry
func (r *Registry) Validate() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	owners := make(map[device.RegionHandle]Offset, r.regions.Count())
	var err error
	r.regions.Iter(func(offset Offset, info RegionInfo) bool {
		if !info.Valid() {
			return false
		}

		if previous, exists := owners[info.Handle]; exists {
			err = errors.Newf("region handle %d is owned by offsets %d and %d", info.Handle, previous, offset)
			return true
		}
		owners[info.Handle] = offset
		return false
	})

	return err
}

func (r *Registry) snapshot() ([]Offset, map[Offset]RegionInfo) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	offsets := make([]Offset, 0, r.regions.Count())
	entries := make(map[Offset]RegionInfo, r.regions.Count())
	r.regions.Iter(func(offset Offset, info RegionInfo) bool {
		offsets = append(offsets, offset)
		entries[offset] = info
		return false
	})

	return offsets, entries
}

// BuildStatsString returns a json string listing every registered region, ordered by offset
func (r *Registry) BuildStatsString() string {
	offsets, entries := r.snapshot()
	slices.Sort(offsets)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("RegionCount").Int(len(offsets))

	regions := obj.Name("Regions").Array()
	for _, offset := range offsets {
		info := entries[offset]

		region := regions.Object()
		region.Name("Offset").Int(int(offset))
		region.Name("Handle").Int(int(info.Handle))
		region.Name("PhysAddr").String(fmt.Sprintf("0x%x", info.PhysAddr))
		region.Name("MappingOffset").Int(int(info.MappingOffset))
		if info.Shared {
			region.Name("Shared").Bool(true)
		}
		region.End()
	}
	regions.End()
	obj.End()

	return string(writer.Bytes())
}
