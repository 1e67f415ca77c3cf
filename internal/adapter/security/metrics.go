package security

import (
	"context"

	"github.com/emberproxy/ember/internal/core/ports"
)

// collectorMetrics adapts the stats collector to the
// SecurityMetricsService the validators record against.
type collectorMetrics struct {
	stats ports.StatsCollector
}

func NewMetricsService(stats ports.StatsCollector) ports.SecurityMetricsService {
	return &collectorMetrics{stats: stats}
}

func (m *collectorMetrics) RecordViolation(_ context.Context, v ports.SecurityViolation) error {
	m.stats.RecordSecurityViolation(v)
	return nil
}

func (m *collectorMetrics) GetMetrics(context.Context) (ports.SecurityMetrics, error) {
	s := m.stats.GetSecurityStats()
	return ports.SecurityMetrics{
		RateLimitViolations:  s.RateLimitViolations,
		SizeLimitViolations:  s.SizeLimitViolations,
		UniqueRateLimitedIPs: s.UniqueRateLimitedIPs,
	}, nil
}
