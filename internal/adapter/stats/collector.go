// Package stats is the worker's metrics spine: lock-free per-endpoint
// counters fed by the relay, the health checker and the security chain,
// read back by the balancer (connection counts) and the shutdown report.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/emberproxy/ember/internal/core/constants"
	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/logger"
)

type endpointCounters struct {
	active      atomic.Int64
	total       atomic.Int64
	successful  atomic.Int64
	failed      atomic.Int64
	bytes       atomic.Int64
	latencySum  atomic.Int64
	latencyMin  atomic.Int64
	latencyMax  atomic.Int64
	lastUsed    atomic.Int64 // unix nanos
	percentiles *percentileTracker
	name        string
}

// Collector implements ports.StatsCollector.
type Collector struct {
	endpoints *xsync.Map[string, *endpointCounters]
	log       logger.StyledLogger

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	latencySum         atomic.Int64

	rateLimitViolations atomic.Int64
	sizeLimitViolations atomic.Int64
	rateLimitedIPs      *xsync.Map[string, int64]
}

func NewCollector(log logger.StyledLogger) *Collector {
	return &Collector{
		endpoints:      xsync.NewMap[string, *endpointCounters](),
		rateLimitedIPs: xsync.NewMap[string, int64](),
		log:            log,
	}
}

func (c *Collector) countersFor(ep *domain.Endpoint) *endpointCounters {
	counters, _ := c.endpoints.LoadOrCompute(ep.URLString, func() (*endpointCounters, bool) {
		ec := &endpointCounters{percentiles: newPercentileTracker(0), name: ep.Name}
		ec.latencyMin.Store(int64(^uint64(0) >> 1))
		return ec, false
	})
	return counters
}

func (c *Collector) RecordRequest(ep *domain.Endpoint, status string, latency time.Duration, bytes int64) {
	ms := latency.Milliseconds()

	c.totalRequests.Add(1)
	c.latencySum.Add(ms)
	if status == "success" {
		c.successfulRequests.Add(1)
	} else {
		c.failedRequests.Add(1)
	}

	ec := c.countersFor(ep)
	ec.total.Add(1)
	if status == "success" {
		ec.successful.Add(1)
	} else {
		ec.failed.Add(1)
	}
	ec.bytes.Add(bytes)
	ec.latencySum.Add(ms)
	ec.lastUsed.Store(time.Now().UnixNano())
	ec.percentiles.Add(ms)

	for {
		min := ec.latencyMin.Load()
		if ms >= min || ec.latencyMin.CompareAndSwap(min, ms) {
			break
		}
	}
	for {
		max := ec.latencyMax.Load()
		if ms <= max || ec.latencyMax.CompareAndSwap(max, ms) {
			break
		}
	}
}

func (c *Collector) RecordConnection(ep *domain.Endpoint, delta int) {
	ec := c.countersFor(ep)
	if ec.active.Add(int64(delta)) < 0 {
		ec.active.Store(0)
	}
}

func (c *Collector) RecordHealthCheck(ep *domain.Endpoint, success bool, latency time.Duration) {
	if !success {
		c.log.Debug("health check failed", "endpoint", ep.Name, "latency", latency.String())
	}
}

func (c *Collector) RecordSecurityViolation(v ports.SecurityViolation) {
	switch v.ViolationType {
	case constants.ViolationRateLimit:
		c.rateLimitViolations.Add(1)
		c.rateLimitedIPs.Store(v.ClientID, time.Now().UnixNano())
	case constants.ViolationSizeLimit:
		c.sizeLimitViolations.Add(1)
	}
}

func (c *Collector) GetProxyStats() ports.ProxyStats {
	total := c.totalRequests.Load()
	var avg int64
	if total > 0 {
		avg = c.latencySum.Load() / total
	}
	return ports.ProxyStats{
		TotalRequests:      total,
		SuccessfulRequests: c.successfulRequests.Load(),
		FailedRequests:     c.failedRequests.Load(),
		AverageLatency:     avg,
	}
}

func (c *Collector) GetEndpointStats() map[string]ports.EndpointStats {
	out := make(map[string]ports.EndpointStats, c.endpoints.Size())
	c.endpoints.Range(func(url string, ec *endpointCounters) bool {
		total := ec.total.Load()
		var avg int64
		if total > 0 {
			avg = ec.latencySum.Load() / total
		}
		var rate float64
		if total > 0 {
			rate = float64(ec.successful.Load()) / float64(total) * 100
		}
		min := ec.latencyMin.Load()
		if min == int64(^uint64(0)>>1) {
			min = 0
		}
		p95, p99 := ec.percentiles.Percentiles()
		out[url] = ports.EndpointStats{
			Name:               ec.name,
			URL:                url,
			ActiveConnections:  ec.active.Load(),
			TotalRequests:      total,
			SuccessfulRequests: ec.successful.Load(),
			FailedRequests:     ec.failed.Load(),
			TotalBytes:         ec.bytes.Load(),
			AverageLatency:     avg,
			MinLatency:         min,
			MaxLatency:         ec.latencyMax.Load(),
			P95Latency:         p95,
			P99Latency:         p99,
			LastUsed:           time.Unix(0, ec.lastUsed.Load()),
			SuccessRate:        rate,
		}
		return true
	})
	return out
}

func (c *Collector) GetSecurityStats() ports.SecurityStats {
	return ports.SecurityStats{
		RateLimitViolations:  c.rateLimitViolations.Load(),
		SizeLimitViolations:  c.sizeLimitViolations.Load(),
		UniqueRateLimitedIPs: c.rateLimitedIPs.Size(),
	}
}

func (c *Collector) GetConnectionStats() map[string]int64 {
	out := make(map[string]int64, c.endpoints.Size())
	c.endpoints.Range(func(url string, ec *endpointCounters) bool {
		out[url] = ec.active.Load()
		return true
	})
	return out
}

var _ ports.StatsCollector = (*Collector)(nil)
