// Package metrics exports address space block statistics to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vkngwrapper/hostmem/addrspace"
	"github.com/vkngwrapper/hostmem/memutils"
)

// StatisticsSource is anything that can summarize the blocks it owns, such as an addrspace.Provider
type StatisticsSource interface {
	Statistics() memutils.Statistics
}

// RegionCounter is anything that can count the regions it tracks, such as an addrspace.Registry
type RegionCounter interface {
	Len() int
}

// Collector is a prometheus.Collector reporting the live blocks of every watched source and the
// regions of a registry, along with running totals of device allocations and deallocations
type Collector struct {
	registry RegionCounter

	mutex   sync.Mutex
	sources []StatisticsSource

	blockCount  *prometheus.Desc
	blockBytes  *prometheus.Desc
	mappedCount *prometheus.Desc
	mappedBytes *prometheus.Desc
	regionCount *prometheus.Desc

	allocations    prometheus.Counter
	deallocations  prometheus.Counter
	allocatedBytes prometheus.Counter
}

var _ prometheus.Collector = &Collector{}

// NewCollector creates a Collector. registry may be nil, in which case no region count is reported.
func NewCollector(namespace string, registry RegionCounter) *Collector {
	return &Collector{
		registry: registry,

		blockCount:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "blocks", "live"), "Number of device blocks currently allocated.", nil, nil),
		blockBytes:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "blocks", "live_bytes"), "Size in bytes of the device blocks currently allocated.", nil, nil),
		mappedCount: prometheus.NewDesc(prometheus.BuildFQName(namespace, "blocks", "mapped"), "Number of device blocks currently mapped into the process.", nil, nil),
		mappedBytes: prometheus.NewDesc(prometheus.BuildFQName(namespace, "blocks", "mapped_bytes"), "Size in bytes of the device blocks currently mapped into the process.", nil, nil),
		regionCount: prometheus.NewDesc(prometheus.BuildFQName(namespace, "registry", "regions"), "Number of regions tracked by the region registry.", nil, nil),

		allocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blocks",
			Name:      "allocations_total",
			Help:      "Total number of device block allocations.",
		}),
		deallocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blocks",
			Name:      "deallocations_total",
			Help:      "Total number of device block deallocations.",
		}),
		allocatedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blocks",
			Name:      "allocated_bytes_total",
			Help:      "Total number of bytes allocated from the device.",
		}),
	}
}

// Watch adds source to the sources whose statistics are reported
func (c *Collector) Watch(source StatisticsSource) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.sources = append(c.sources, source)
}

// MemoryCallbacks returns callbacks that keep the allocation counters of this Collector up to date.
// Pass them to addrspace.NewProvider through addrspace.ProviderCreateOptions.
func (c *Collector) MemoryCallbacks() *addrspace.MemoryCallbackOptions {
	return &addrspace.MemoryCallbackOptions{
		Allocate: func(provider *addrspace.Provider, physAddr uint64, size uint64, userData any) {
			c.allocations.Inc()
			c.allocatedBytes.Add(float64(size))
		},
		Free: func(provider *addrspace.Provider, physAddr uint64, size uint64, userData any) {
			c.deallocations.Inc()
		},
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.blockCount
	descs <- c.blockBytes
	descs <- c.mappedCount
	descs <- c.mappedBytes
	if c.registry != nil {
		descs <- c.regionCount
	}
	c.allocations.Describe(descs)
	c.deallocations.Describe(descs)
	c.allocatedBytes.Describe(descs)
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	var total memutils.Statistics

	c.mutex.Lock()
	for _, source := range c.sources {
		stats := source.Statistics()
		total.AddStatistics(&stats)
	}
	c.mutex.Unlock()

	metrics <- prometheus.MustNewConstMetric(c.blockCount, prometheus.GaugeValue, float64(total.BlockCount))
	metrics <- prometheus.MustNewConstMetric(c.blockBytes, prometheus.GaugeValue, float64(total.BlockBytes))
	metrics <- prometheus.MustNewConstMetric(c.mappedCount, prometheus.GaugeValue, float64(total.MappedCount))
	metrics <- prometheus.MustNewConstMetric(c.mappedBytes, prometheus.GaugeValue, float64(total.MappedBytes))
	if c.registry != nil {
		metrics <- prometheus.MustNewConstMetric(c.regionCount, prometheus.GaugeValue, float64(c.registry.Len()))
	}
	c.allocations.Collect(metrics)
	c.deallocations.Collect(metrics)
	c.allocatedBytes.Collect(metrics)
}
