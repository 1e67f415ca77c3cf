package ports

import (
	"sync"
	"time"

	"github.com/emberproxy/ember/internal/core/constants"
	"github.com/emberproxy/ember/internal/core/domain"
)

// MockStatsCollector is the shared test double for StatsCollector. It
// keeps just enough state (connection counts, violation tallies) for the
// balancer and security tests to assert against.
type MockStatsCollector struct {
	mu                   sync.RWMutex
	connections          map[string]int64
	rateLimitViolations  int64
	sizeLimitViolations  int64
	uniqueRateLimitedIPs map[string]time.Time
}

func NewMockStatsCollector() *MockStatsCollector {
	return &MockStatsCollector{
		connections:          make(map[string]int64),
		uniqueRateLimitedIPs: make(map[string]time.Time),
	}
}

func (m *MockStatsCollector) RecordRequest(*domain.Endpoint, string, time.Duration, int64) {}

func (m *MockStatsCollector) RecordHealthCheck(*domain.Endpoint, bool, time.Duration) {}

func (m *MockStatsCollector) RecordConnection(endpoint *domain.Endpoint, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.connections[endpoint.URLString] + int64(delta)
	if next < 0 {
		next = 0
	}
	m.connections[endpoint.URLString] = next
}

func (m *MockStatsCollector) RecordSecurityViolation(v SecurityViolation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v.ViolationType {
	case constants.ViolationRateLimit:
		m.rateLimitViolations++
		m.uniqueRateLimitedIPs[v.ClientID] = time.Now()
	case constants.ViolationSizeLimit:
		m.sizeLimitViolations++
	}
}

func (m *MockStatsCollector) GetProxyStats() ProxyStats { return ProxyStats{} }

func (m *MockStatsCollector) GetEndpointStats() map[string]EndpointStats {
	return map[string]EndpointStats{}
}

func (m *MockStatsCollector) GetSecurityStats() SecurityStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return SecurityStats{
		RateLimitViolations:  m.rateLimitViolations,
		SizeLimitViolations:  m.sizeLimitViolations,
		UniqueRateLimitedIPs: len(m.uniqueRateLimitedIPs),
	}
}

func (m *MockStatsCollector) GetConnectionStats() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.connections))
	for k, v := range m.connections {
		out[k] = v
	}
	return out
}
