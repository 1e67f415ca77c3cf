package stats

import (
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberproxy/ember/internal/core/constants"
	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/logger"
)

func testEndpoint(raw string) *domain.Endpoint {
	u, _ := url.Parse(raw)
	return &domain.Endpoint{Name: "backend", URL: u, URLString: raw, Status: domain.StatusHealthy}
}

func newTestCollector() *Collector {
	return NewCollector(*logger.NewPlainStyledLogger(slog.Default()))
}

func TestRecordRequestAggregates(t *testing.T) {
	c := newTestCollector()
	ep := testEndpoint("http://10.0.0.1:9000")

	c.RecordRequest(ep, "success", 20*time.Millisecond, 100)
	c.RecordRequest(ep, "success", 40*time.Millisecond, 200)
	c.RecordRequest(ep, "error", 60*time.Millisecond, 0)

	proxy := c.GetProxyStats()
	assert.Equal(t, int64(3), proxy.TotalRequests)
	assert.Equal(t, int64(2), proxy.SuccessfulRequests)
	assert.Equal(t, int64(1), proxy.FailedRequests)
	assert.Equal(t, int64(40), proxy.AverageLatency)

	eps := c.GetEndpointStats()
	require.Contains(t, eps, ep.URLString)
	es := eps[ep.URLString]
	assert.Equal(t, int64(3), es.TotalRequests)
	assert.Equal(t, int64(300), es.TotalBytes)
	assert.Equal(t, int64(20), es.MinLatency)
	assert.Equal(t, int64(60), es.MaxLatency)
	assert.InDelta(t, 66.6, es.SuccessRate, 0.1)
}

func TestRecordConnectionNeverGoesNegative(t *testing.T) {
	c := newTestCollector()
	ep := testEndpoint("http://10.0.0.1:9000")

	c.RecordConnection(ep, 1)
	c.RecordConnection(ep, -1)
	c.RecordConnection(ep, -1)

	assert.Equal(t, int64(0), c.GetConnectionStats()[ep.URLString])
}

func TestSecurityViolationTallies(t *testing.T) {
	c := newTestCollector()

	c.RecordSecurityViolation(ports.SecurityViolation{ClientID: "1.2.3.4", ViolationType: constants.ViolationRateLimit})
	c.RecordSecurityViolation(ports.SecurityViolation{ClientID: "1.2.3.4", ViolationType: constants.ViolationRateLimit})
	c.RecordSecurityViolation(ports.SecurityViolation{ClientID: "5.6.7.8", ViolationType: constants.ViolationSizeLimit})

	s := c.GetSecurityStats()
	assert.Equal(t, int64(2), s.RateLimitViolations)
	assert.Equal(t, int64(1), s.SizeLimitViolations)
	assert.Equal(t, 1, s.UniqueRateLimitedIPs)
}

func TestConcurrentRecording(t *testing.T) {
	c := newTestCollector()
	ep := testEndpoint("http://10.0.0.1:9000")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordRequest(ep, "success", time.Millisecond, 1)
				c.RecordConnection(ep, 1)
				c.RecordConnection(ep, -1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1600), c.GetProxyStats().TotalRequests)
	assert.Equal(t, int64(0), c.GetConnectionStats()[ep.URLString])
}

func TestPercentileTrackerWindow(t *testing.T) {
	tr := newPercentileTracker(100)
	for i := int64(1); i <= 100; i++ {
		tr.Add(i)
	}
	p95, p99 := tr.Percentiles()
	assert.Equal(t, int64(95), p95)
	assert.Equal(t, int64(99), p99)
}
