package addrspace

// AllocateBlockCallback is called after the device hands out a block for a Provider
type AllocateBlockCallback func(
	provider *Provider,
	physAddr uint64,
	size uint64,
	userData any,
)

// FreeBlockCallback is called before a Provider returns a block to the device
type FreeBlockCallback func(
	provider *Provider,
	physAddr uint64,
	size uint64,
	userData any,
)

type MemoryCallbackOptions struct {
	Allocate AllocateBlockCallback
	Free     FreeBlockCallback
	UserData any
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Provider  *Provider
}

func (c *memoryCallbacks) Allocate(physAddr uint64, size uint64) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Provider, physAddr, size, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) Free(physAddr uint64, size uint64) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Provider, physAddr, size, c.Callbacks.UserData)
	}
}
