package addrspace

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/hostmem/addrspace/internal/utils"
	"github.com/vkngwrapper/hostmem/memutils"
)

// liveBlockList is an intrusive list of every bound Block allocated from a Provider
type liveBlockList struct {
	mutex utils.OptionalRWMutex

	count         int
	blockListHead *Block
	blockListTail *Block
}

func (l *liveBlockList) Init(useMutex bool) {
	l.mutex = utils.OptionalRWMutex{UseMutex: useMutex}
}

func (l *liveBlockList) Validate() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	declaredCount := l.count
	actualCount := 0

	for block := l.blockListHead; block != nil; block = block.nextBlock {
		if block.size == 0 {
			return errors.New("an unbound block was found in the live block list")
		}
		actualCount++
	}

	if declaredCount != actualCount {
		return errors.Newf("the listed number of live blocks in the list (%d) does not match the actual number of blocks (%d)", declaredCount, actualCount)
	}

	return nil
}

func (l *liveBlockList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for block := l.blockListHead; block != nil; block = block.nextBlock {
		stats.AddBlock(int(block.size), block.IsMapped())
	}
}

func (l *liveBlockList) BuildStatsString(writer *jwriter.Writer) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	s := writer.Array()
	defer s.End()

	for block := l.blockListHead; block != nil; block = block.nextBlock {
		o := s.Object()
		block.printParameters(&o)
		o.End()
	}
}

// VisitBlocks calls visit on every live block, in the order they were registered
func (l *liveBlockList) VisitBlocks(visit func(block *Block)) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for block := l.blockListHead; block != nil; block = block.nextBlock {
		visit(block)
	}
}

func (l *liveBlockList) IsEmpty() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.count == 0
}

func (l *liveBlockList) Register(block *Block) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.pushBlock(block)
}

func (l *liveBlockList) Unregister(block *Block) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.removeBlock(block)
}

func (l *liveBlockList) removeBlock(block *Block) {
	prev := block.prevBlock
	next := block.nextBlock

	if prev != nil {
		prev.nextBlock = next
	} else {
		l.blockListHead = next
	}

	if next != nil {
		next.prevBlock = prev
	} else {
		l.blockListTail = prev
	}

	block.nextBlock = nil
	block.prevBlock = nil

	l.count--
}

func (l *liveBlockList) pushBlock(block *Block) {
	if l.count == 0 {
		l.blockListHead = block
		l.blockListTail = block
		l.count = 1
		return
	}

	block.prevBlock = l.blockListTail
	l.blockListTail.nextBlock = block

	l.blockListTail = block
	l.count++
}
