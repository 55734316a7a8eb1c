package memutils

import "math"

// Statistics is a point-in-time summary of the device blocks owned by a provider or registry
type Statistics struct {
	BlockCount  int
	BlockBytes  int
	MappedCount int
	MappedBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.BlockBytes = 0
	s.MappedCount = 0
	s.MappedBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.BlockBytes += other.BlockBytes
	s.MappedCount += other.MappedCount
	s.MappedBytes += other.MappedBytes
}

type DetailedStatistics struct {
	Statistics
	BlockSizeMin int
	BlockSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.BlockSizeMin = math.MaxInt
	s.BlockSizeMax = 0
}

func (s *DetailedStatistics) AddBlock(size int, mapped bool) {
	s.BlockCount++
	s.BlockBytes += size

	if mapped {
		s.MappedCount++
		s.MappedBytes += size
	}

	if size < s.BlockSizeMin {
		s.BlockSizeMin = size
	}

	if size > s.BlockSizeMax {
		s.BlockSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)

	if other.BlockSizeMin < s.BlockSizeMin {
		s.BlockSizeMin = other.BlockSizeMin
	}

	if other.BlockSizeMax > s.BlockSizeMax {
		s.BlockSizeMax = other.BlockSizeMax
	}
}
