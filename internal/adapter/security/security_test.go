package security

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberproxy/ember/internal/config"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/logger"
)

func testLog() *logger.StyledLogger {
	return logger.NewPlainStyledLogger(slog.Default())
}

func TestRateLimiterAllowsWithinBudget(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		PerClientPerMinute: 600, // 10/s
		Burst:              5,
	}, nil, testLog())
	defer rl.Stop()

	req := ports.SecurityRequest{ClientID: "1.2.3.4", Endpoint: "/x"}
	for i := 0; i < 5; i++ {
		res, err := rl.Validate(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d inside burst", i)
	}
}

func TestRateLimiterDeniesBeyondBurst(t *testing.T) {
	metrics := NewMetricsService(ports.NewMockStatsCollector())
	rl := NewRateLimiter(RateLimiterConfig{
		PerClientPerMinute: 1,
		Burst:              1,
	}, metrics, testLog())
	defer rl.Stop()

	req := ports.SecurityRequest{ClientID: "1.2.3.4", Endpoint: "/x"}
	res, err := rl.Validate(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = rl.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 60, res.RetryAfter)

	m, err := metrics.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.RateLimitViolations)
	assert.Equal(t, 1, m.UniqueRateLimitedIPs)
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		PerClientPerMinute: 1,
		Burst:              1,
	}, nil, testLog())
	defer rl.Stop()

	res, _ := rl.Validate(context.Background(), ports.SecurityRequest{ClientID: "a"})
	require.True(t, res.Allowed)
	res, _ = rl.Validate(context.Background(), ports.SecurityRequest{ClientID: "a"})
	require.False(t, res.Allowed)

	res, _ = rl.Validate(context.Background(), ports.SecurityRequest{ClientID: "b"})
	assert.True(t, res.Allowed, "another client has its own bucket")
}

func TestSizeLimiterBody(t *testing.T) {
	metrics := NewMetricsService(ports.NewMockStatsCollector())
	sl := NewSizeLimiter(1024, 512, metrics, testLog())

	res, err := sl.Validate(context.Background(), ports.SecurityRequest{ClientID: "c", BodySize: 1024})
	require.NoError(t, err)
	assert.True(t, res.Allowed, "at the limit is allowed")

	res, err = sl.Validate(context.Background(), ports.SecurityRequest{ClientID: "c", BodySize: 1025})
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	m, _ := metrics.GetMetrics(context.Background())
	assert.Equal(t, int64(1), m.SizeLimitViolations)
}

func TestSizeLimiterHeaders(t *testing.T) {
	sl := NewSizeLimiter(0, 100, nil, testLog())

	res, err := sl.Validate(context.Background(), ports.SecurityRequest{ClientID: "c", HeaderSize: 101})
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = sl.Validate(context.Background(), ports.SecurityRequest{ClientID: "c", BodySize: 1 << 40})
	require.NoError(t, err)
	assert.True(t, res.Allowed, "zero body cap means unlimited")
}

func TestChainStopsAtFirstDenial(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.RequestLimits.MaxBodySize = 10
	cfg.Server.RateLimits.PerIPRequestsPerMinute = 1
	cfg.Server.RateLimits.BurstSize = 1

	services, adapters := NewSecurityServices(cfg, ports.NewMockStatsCollector(), testLog())
	defer adapters.Stop()

	// Oversized request is denied by the size validator without touching
	// the rate bucket.
	res, err := services.Chain.Validate(context.Background(), ports.SecurityRequest{ClientID: "z", BodySize: 11})
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// The rate bucket is still fresh: a well-sized request passes.
	res, err = services.Chain.Validate(context.Background(), ports.SecurityRequest{ClientID: "z", BodySize: 1})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
