package addrspace

import (
	"fmt"
	"sync/atomic"

	"github.com/vkngwrapper/hostmem/memutils"
)

type blockCounters struct {
	// Number of blocks the device has handed out to this provider that have not yet been returned
	blockCount int32
	// Size of the blocks the device has handed out to this provider
	blockBytes int64
	// Number of blocks that are currently mapped into this process
	mappedCount int32
	mappedBytes int64
}

func (c *blockCounters) addBlock(size uint64) {
	atomic.AddInt64(&c.blockBytes, int64(size))
	atomic.AddInt32(&c.blockCount, 1)
}

func (c *blockCounters) removeBlock(size uint64) {
	newVal := atomic.AddInt64(&c.blockBytes, -int64(size))
	if newVal < 0 {
		panic("block bytes went negative")
	}

	newCountVal := atomic.AddInt32(&c.blockCount, -1)
	if newCountVal < 0 {
		panic("block count went negative")
	}
}

func (c *blockCounters) addMapping(size uint64) {
	atomic.AddInt64(&c.mappedBytes, int64(size))
	atomic.AddInt32(&c.mappedCount, 1)
}

func (c *blockCounters) removeMapping(size uint64) {
	newVal := atomic.AddInt64(&c.mappedBytes, -int64(size))
	if newVal < 0 {
		panic(fmt.Sprintf("mapped bytes went negative after unmapping %d bytes", size))
	}

	newCountVal := atomic.AddInt32(&c.mappedCount, -1)
	if newCountVal < 0 {
		panic("mapped count went negative")
	}
}

func (c *blockCounters) Statistics() memutils.Statistics {
	return memutils.Statistics{
		BlockCount:  int(atomic.LoadInt32(&c.blockCount)),
		BlockBytes:  int(atomic.LoadInt64(&c.blockBytes)),
		MappedCount: int(atomic.LoadInt32(&c.mappedCount)),
		MappedBytes: int(atomic.LoadInt64(&c.mappedBytes)),
	}
}
