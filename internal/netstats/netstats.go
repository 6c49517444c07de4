// Package netstats implements the per-endpoint network statistics
// collector C7 feeds from its heartbeat RTT estimate (spec.md §4.7, §5:
// "Networking counters use lock-free atomics for global totals;
// per-endpoint stats live under a dedicated mutex inside the stats
// module"), grounded on original_source's
// infrastructure/network/NetworkStats.{hpp,cpp}.
package netstats

import (
	"sync"
	"sync/atomic"
)

// bandwidthEMAAlpha matches the reference's exponential moving average
// smoothing factor for the per-endpoint byte averages.
const bandwidthEMAAlpha = 0.2

// EndpointStats is a point-in-time copy of one endpoint's tracked state.
type EndpointStats struct {
	RTTCurrentMs uint32
	RTTAverageMs uint32
	RTTMaxMs     uint32
	RTTSamples   uint32

	BytesSent     uint64
	BytesReceived uint64
	OutRateAvg    float64 // EMA of bytes per recorded write
	InRateAvg     float64 // EMA of bytes per recorded read
}

type endpointState struct {
	rttCurrent uint32
	rttMax     uint32
	rttSamples uint32
	rttSum     uint64

	bytesSent         uint64
	bytesReceived     uint64
	lastBytesSent     uint64
	lastBytesReceived uint64
	outRateAvg        float64
	inRateAvg         float64
}

// Collector tracks bandwidth and RTT both globally (atomics, lock-free)
// and per endpoint (single mutex), mirroring the reference's split. The
// global totals are updated without the lock; every AddBytesSent and
// AddBytesReceived call still takes the mutex for the per-endpoint map.
type Collector struct {
	totalBytesSent     uint64
	totalBytesReceived uint64

	mu        sync.Mutex
	endpoints map[string]*endpointState
}

// New constructs an empty collector.
func New() *Collector {
	return &Collector{endpoints: make(map[string]*endpointState)}
}

// Register starts tracking endpoint, if it isn't already.
func (c *Collector) Register(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.endpoints[endpoint]; !ok {
		c.endpoints[endpoint] = &endpointState{}
	}
}

// Unregister drops endpoint's tracked state, e.g. once it leaves its
// instance.
func (c *Collector) Unregister(endpoint string) {
	c.mu.Lock()
	delete(c.endpoints, endpoint)
	c.mu.Unlock()
}

// AddBytesSent folds a server->endpoint write into both the global total
// and, if registered, endpoint's own counters and EMA rate.
func (c *Collector) AddBytesSent(endpoint string, n int) {
	atomic.AddUint64(&c.totalBytesSent, uint64(n))

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.endpoints[endpoint]
	if !ok {
		return
	}
	st.bytesSent += uint64(n)
	delta := float64(st.bytesSent - st.lastBytesSent)
	st.lastBytesSent = st.bytesSent
	st.outRateAvg = bandwidthEMAAlpha*delta + (1-bandwidthEMAAlpha)*st.outRateAvg
}

// AddBytesReceived folds an endpoint->server read into both the global
// total and, if registered, endpoint's own counters and EMA rate.
func (c *Collector) AddBytesReceived(endpoint string, n int) {
	atomic.AddUint64(&c.totalBytesReceived, uint64(n))

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.endpoints[endpoint]
	if !ok {
		return
	}
	st.bytesReceived += uint64(n)
	delta := float64(st.bytesReceived - st.lastBytesReceived)
	st.lastBytesReceived = st.bytesReceived
	st.inRateAvg = bandwidthEMAAlpha*delta + (1-bandwidthEMAAlpha)*st.inRateAvg
}

// RecordRTT folds a fresh round-trip sample into endpoint's running
// current/average/max, registering the endpoint if this is its first
// sample.
func (c *Collector) RecordRTT(endpoint string, rttMs uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.endpoints[endpoint]
	if !ok {
		st = &endpointState{}
		c.endpoints[endpoint] = st
	}
	st.rttCurrent = rttMs
	if rttMs > st.rttMax {
		st.rttMax = rttMs
	}
	st.rttSamples++
	st.rttSum += uint64(rttMs)
}

// TotalBytesSent returns the lock-free global send total.
func (c *Collector) TotalBytesSent() uint64 { return atomic.LoadUint64(&c.totalBytesSent) }

// TotalBytesReceived returns the lock-free global receive total.
func (c *Collector) TotalBytesReceived() uint64 { return atomic.LoadUint64(&c.totalBytesReceived) }

// GlobalAverageRTT averages every tracked endpoint's own running
// average, matching the reference's getGlobalAverageRTT.
func (c *Collector) GlobalAverageRTT() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sum uint64
	var count uint32
	for _, st := range c.endpoints {
		if st.rttSamples > 0 {
			sum += st.rttSum / uint64(st.rttSamples)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return uint32(sum / uint64(count))
}

// Get returns a snapshot copy of one endpoint's stats.
func (c *Collector) Get(endpoint string) (EndpointStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.endpoints[endpoint]
	if !ok {
		return EndpointStats{}, false
	}
	var avg uint32
	if st.rttSamples > 0 {
		avg = uint32(st.rttSum / uint64(st.rttSamples))
	}
	return EndpointStats{
		RTTCurrentMs:  st.rttCurrent,
		RTTAverageMs:  avg,
		RTTMaxMs:      st.rttMax,
		RTTSamples:    st.rttSamples,
		BytesSent:     st.bytesSent,
		BytesReceived: st.bytesReceived,
		OutRateAvg:    st.outRateAvg,
		InRateAvg:     st.inRateAvg,
	}, true
}

// TrackedEndpoints returns the number of endpoints currently registered.
func (c *Collector) TrackedEndpoints() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.endpoints)
}
