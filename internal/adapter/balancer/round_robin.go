// Package balancer implements the peer-selection strategies behind the
// upstream engine's get-next capability: round-robin, least-connections
// and priority (weighted by configured priority and health).
package balancer

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
)

var ErrNoEndpoints = errors.New("no routable endpoints available")

// RoundRobinSelector cycles through routable endpoints in order. The
// counter is shared across goroutines; position is approximate under
// concurrency, which is fine for spreading load.
type RoundRobinSelector struct {
	counter atomic.Uint64
	stats   ports.StatsCollector
}

func NewRoundRobinSelector(stats ports.StatsCollector) *RoundRobinSelector {
	return &RoundRobinSelector{stats: stats}
}

func (s *RoundRobinSelector) Name() string { return "round-robin" }

func (s *RoundRobinSelector) Select(_ context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	routable := routableOnly(endpoints)
	if len(routable) == 0 {
		return nil, &domain.LoadBalancerError{Err: ErrNoEndpoints, Strategy: s.Name(), EndpointCount: len(endpoints)}
	}
	idx := s.counter.Add(1) - 1
	return routable[idx%uint64(len(routable))], nil
}

func (s *RoundRobinSelector) IncrementConnections(ep *domain.Endpoint) {
	s.stats.RecordConnection(ep, 1)
}

func (s *RoundRobinSelector) DecrementConnections(ep *domain.Endpoint) {
	s.stats.RecordConnection(ep, -1)
}

func routableOnly(endpoints []*domain.Endpoint) []*domain.Endpoint {
	out := make([]*domain.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Status.IsRoutable() {
			out = append(out, ep)
		}
	}
	return out
}

var _ domain.EndpointSelector = (*RoundRobinSelector)(nil)
