package ports

import (
	"time"

	"github.com/emberproxy/ember/internal/core/domain"
)

// StatsCollector aggregates per-endpoint and service-wide counters. All
// methods must be safe to call from concurrent request goroutines.
type StatsCollector interface {
	RecordRequest(endpoint *domain.Endpoint, status string, latency time.Duration, bytes int64)
	RecordConnection(endpoint *domain.Endpoint, delta int) // +1 connect, -1 disconnect
	RecordSecurityViolation(violation SecurityViolation)
	RecordHealthCheck(endpoint *domain.Endpoint, success bool, latency time.Duration)

	GetProxyStats() ProxyStats
	GetEndpointStats() map[string]EndpointStats
	GetSecurityStats() SecurityStats
	GetConnectionStats() map[string]int64
}

// EndpointStats is one backend's aggregate view, keyed by URL in
// GetEndpointStats. Latencies are milliseconds.
type EndpointStats struct {
	Name string `json:"name"`
	URL  string `json:"url"`

	ActiveConnections int64 `json:"active_connections"`

	TotalRequests      int64   `json:"requests_total"`
	SuccessfulRequests int64   `json:"requests_ok"`
	FailedRequests     int64   `json:"requests_failed"`
	SuccessRate        float64 `json:"success_rate_percent"`
	TotalBytes         int64   `json:"bytes_total"`

	AverageLatency int64 `json:"latency_avg_ms"`
	MinLatency     int64 `json:"latency_min_ms"`
	MaxLatency     int64 `json:"latency_max_ms"`
	P95Latency     int64 `json:"latency_p95_ms"`
	P99Latency     int64 `json:"latency_p99_ms"`

	LastUsed time.Time `json:"last_used"`
}

// SecurityStats summarises the PREACCESS validators' denials.
type SecurityStats struct {
	RateLimitViolations  int64 `json:"rate_limit_violations"`
	SizeLimitViolations  int64 `json:"size_limit_violations"`
	UniqueRateLimitedIPs int   `json:"unique_rate_limited_ips"`
}
