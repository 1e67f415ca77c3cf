package balancer

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
)

func endpoint(raw string, status domain.EndpointStatus) *domain.Endpoint {
	u, _ := url.Parse(raw)
	return &domain.Endpoint{Name: raw, URL: u, URLString: raw, Status: status, Weight: 1}
}

func TestRoundRobinCycles(t *testing.T) {
	s := NewRoundRobinSelector(ports.NewMockStatsCollector())
	eps := []*domain.Endpoint{
		endpoint("http://a:1", domain.StatusHealthy),
		endpoint("http://b:1", domain.StatusHealthy),
		endpoint("http://c:1", domain.StatusHealthy),
	}

	seen := map[string]int{}
	for i := 0; i < 9; i++ {
		ep, err := s.Select(context.Background(), eps)
		require.NoError(t, err)
		seen[ep.URLString]++
	}
	assert.Equal(t, 3, seen["http://a:1"])
	assert.Equal(t, 3, seen["http://b:1"])
	assert.Equal(t, 3, seen["http://c:1"])
}

func TestRoundRobinSkipsUnroutable(t *testing.T) {
	s := NewRoundRobinSelector(ports.NewMockStatsCollector())
	eps := []*domain.Endpoint{
		endpoint("http://a:1", domain.StatusUnhealthy),
		endpoint("http://b:1", domain.StatusHealthy),
		endpoint("http://c:1", domain.StatusOffline),
	}

	for i := 0; i < 5; i++ {
		ep, err := s.Select(context.Background(), eps)
		require.NoError(t, err)
		assert.Equal(t, "http://b:1", ep.URLString)
	}
}

func TestSelectFailsWithNoRoutableEndpoints(t *testing.T) {
	s := NewRoundRobinSelector(ports.NewMockStatsCollector())
	eps := []*domain.Endpoint{endpoint("http://a:1", domain.StatusOffline)}

	_, err := s.Select(context.Background(), eps)
	require.Error(t, err)

	var lbErr *domain.LoadBalancerError
	require.ErrorAs(t, err, &lbErr)
	assert.Equal(t, 1, lbErr.EndpointCount)
}

func TestLeastConnectionsPrefersIdle(t *testing.T) {
	stats := ports.NewMockStatsCollector()
	s := NewLeastConnectionsSelector(stats)

	a := endpoint("http://a:1", domain.StatusHealthy)
	b := endpoint("http://b:1", domain.StatusHealthy)

	s.IncrementConnections(a)
	s.IncrementConnections(a)
	s.IncrementConnections(b)

	ep, err := s.Select(context.Background(), []*domain.Endpoint{a, b})
	require.NoError(t, err)
	assert.Equal(t, "http://b:1", ep.URLString)

	s.DecrementConnections(a)
	s.DecrementConnections(a)
	ep, err = s.Select(context.Background(), []*domain.Endpoint{a, b})
	require.NoError(t, err)
	assert.Equal(t, "http://a:1", ep.URLString, "a is idle again: 0 active vs 1 on b")
}

func TestPriorityPrefersTopTier(t *testing.T) {
	s := NewPrioritySelector(ports.NewMockStatsCollector())

	low := endpoint("http://low:1", domain.StatusHealthy)
	low.Priority = 1
	high := endpoint("http://high:1", domain.StatusHealthy)
	high.Priority = 100

	for i := 0; i < 10; i++ {
		ep, err := s.Select(context.Background(), []*domain.Endpoint{low, high})
		require.NoError(t, err)
		assert.Equal(t, "http://high:1", ep.URLString)
	}
}

func TestPriorityFallsBackWhenTopTierDies(t *testing.T) {
	s := NewPrioritySelector(ports.NewMockStatsCollector())

	low := endpoint("http://low:1", domain.StatusHealthy)
	low.Priority = 1
	high := endpoint("http://high:1", domain.StatusUnhealthy)
	high.Priority = 100

	ep, err := s.Select(context.Background(), []*domain.Endpoint{low, high})
	require.NoError(t, err)
	assert.Equal(t, "http://low:1", ep.URLString)
}

func TestFactoryResolvesNames(t *testing.T) {
	f := NewFactory(ports.NewMockStatsCollector())

	for name, want := range map[string]string{
		"round-robin":       "round-robin",
		"round_robin":       "round-robin",
		"":                  "round-robin",
		"least_conn":        "least-connections",
		"least-connections": "least-connections",
		"priority":          "priority",
	} {
		s, err := f.Create(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, s.Name())
	}

	_, err := f.Create("fanciest")
	require.Error(t, err)
}
