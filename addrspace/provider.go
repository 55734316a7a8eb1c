package addrspace

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/hostmem/addrspace/internal/utils"
	"github.com/vkngwrapper/hostmem/device"
	"github.com/vkngwrapper/hostmem/memutils"
	"golang.org/x/exp/slog"
)

// Provider owns a device session and the child session that Blocks are allocated from. A Provider
// can be shared by any number of Blocks. Unless it was created with
// ProviderCreateExternallySynchronized, its methods and the Blocks allocated from it are safe for
// concurrent use.
type Provider struct {
	useMutex      bool
	logger        *slog.Logger
	createFlags   ProviderCreateFlags
	subdeviceType device.SubdeviceType

	sessionMutex utils.OptionalRWMutex
	session      device.Session
	childSession device.Session

	callbacks   memoryCallbacks
	counters    blockCounters
	blocks      liveBlockList
	nextBlockID atomic.Int64
}

// IsOpened reports whether the Provider established its device session
func (p *Provider) IsOpened() bool {
	p.sessionMutex.RLock()
	defer p.sessionMutex.RUnlock()

	return p.session != nil
}

// SubdeviceType returns the child driver type that Blocks from this Provider are allocated through
func (p *Provider) SubdeviceType() device.SubdeviceType {
	return p.subdeviceType
}

// Destroy closes the Provider's sessions. It fails without closing anything if Blocks allocated
// from the Provider have not been destroyed yet. Destroying a Provider that is not opened does nothing.
func (p *Provider) Destroy() error {
	p.logger.Debug("Provider::Destroy")

	p.sessionMutex.Lock()
	defer p.sessionMutex.Unlock()

	if !p.blocks.IsEmpty() {
		p.blocks.VisitBlocks(p.logUnreleasedBlock)
		return errors.New("some blocks were not destroyed before the destruction of this provider")
	}

	if p.session == nil {
		return nil
	}

	var err error
	if p.childSession != nil {
		err = errors.Wrap(p.childSession.Close(), "failed to close child driver session")
	}
	err = errors.CombineErrors(err, errors.Wrap(p.session.Close(), "failed to close device session"))

	p.childSession = nil
	p.session = nil
	return err
}

func (p *Provider) logUnreleasedBlock(block *Block) {
	p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] undestroyed block",
		slog.Int("id", block.id),
		slog.String("physAddr", fmt.Sprintf("0x%x", block.physAddr)),
		slog.Uint64("size", block.size),
		slog.Bool("mapped", block.IsMapped()),
	)
}

// Statistics returns the number and size of the live and mapped blocks allocated from this Provider
func (p *Provider) Statistics() memutils.Statistics {
	return p.counters.Statistics()
}

// CalculateStatistics walks the live blocks of this Provider and summarizes them, including
// the smallest and largest block sizes
func (p *Provider) CalculateStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()
	p.blocks.AddDetailedStatistics(stats)
}

// Validate checks the Provider's internal bookkeeping
func (p *Provider) Validate() error {
	err := p.blocks.Validate()
	if err != nil {
		return err
	}

	stats := p.counters.Statistics()
	var detailed memutils.DetailedStatistics
	p.CalculateStatistics(&detailed)
	if stats != detailed.Statistics {
		return errors.Newf("provider counters %+v do not match the live block list %+v", stats, detailed.Statistics)
	}

	return nil
}

// BuildStatsString returns a json string describing this Provider and its live blocks
func (p *Provider) BuildStatsString() string {
	var detailed memutils.DetailedStatistics
	p.CalculateStatistics(&detailed)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("SubdeviceType").String(p.subdeviceType.String())
	obj.Name("Flags").String(p.createFlags.String())
	obj.Name("Opened").Bool(p.IsOpened())

	total := obj.Name("Total").Object()
	total.Name("BlockCount").Int(detailed.BlockCount)
	total.Name("BlockBytes").Int(detailed.BlockBytes)
	total.Name("MappedCount").Int(detailed.MappedCount)
	total.Name("MappedBytes").Int(detailed.MappedBytes)
	if detailed.BlockCount > 0 {
		total.Name("BlockSizeMin").Int(detailed.BlockSizeMin)
		total.Name("BlockSizeMax").Int(detailed.BlockSizeMax)
	}
	total.End()

	p.blocks.BuildStatsString(obj.Name("Blocks"))
	obj.End()

	return string(writer.Bytes())
}

func (p *Provider) registerBlock(block *Block) {
	block.id = int(p.nextBlockID.Add(1))
	p.counters.addBlock(block.size)
	p.blocks.Register(block)
	p.callbacks.Allocate(block.physAddr, block.size)

	memutils.DebugValidate(&p.blocks)
}

func (p *Provider) unregisterBlock(block *Block) {
	p.blocks.Unregister(block)
	p.counters.removeBlock(block.size)

	memutils.DebugValidate(&p.blocks)
}
