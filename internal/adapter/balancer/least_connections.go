package balancer

import (
	"context"

	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
)

// LeastConnectionsSelector picks the routable endpoint with the fewest
// active connections as reported by the stats collector; ties go to the
// earlier endpoint in configuration order.
type LeastConnectionsSelector struct {
	stats ports.StatsCollector
}

func NewLeastConnectionsSelector(stats ports.StatsCollector) *LeastConnectionsSelector {
	return &LeastConnectionsSelector{stats: stats}
}

func (s *LeastConnectionsSelector) Name() string { return "least-connections" }

func (s *LeastConnectionsSelector) Select(_ context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	routable := routableOnly(endpoints)
	if len(routable) == 0 {
		return nil, &domain.LoadBalancerError{Err: ErrNoEndpoints, Strategy: s.Name(), EndpointCount: len(endpoints)}
	}

	connections := s.stats.GetConnectionStats()
	best := routable[0]
	bestCount := connections[best.URLString]
	for _, ep := range routable[1:] {
		if c := connections[ep.URLString]; c < bestCount {
			best, bestCount = ep, c
		}
	}
	return best, nil
}

func (s *LeastConnectionsSelector) IncrementConnections(ep *domain.Endpoint) {
	s.stats.RecordConnection(ep, 1)
}

func (s *LeastConnectionsSelector) DecrementConnections(ep *domain.Endpoint) {
	s.stats.RecordConnection(ep, -1)
}

var _ domain.EndpointSelector = (*LeastConnectionsSelector)(nil)
