package balancer

import (
	"context"
	"time"

	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
)

// PrioritySelector prefers the highest-priority routable tier and
// weight-spreads within it, scaling each endpoint's configured weight by
// its health (degraded peers get a trickle of traffic, see
// EndpointStatus.TrafficWeight). Selection inside a tier is a weighted
// pick at a point taken from the clock's nanoseconds, so equal weights
// spread load pseudo-randomly rather than in strict rotation.
type PrioritySelector struct {
	stats ports.StatsCollector
	rotor uint64
}

func NewPrioritySelector(stats ports.StatsCollector) *PrioritySelector {
	return &PrioritySelector{stats: stats}
}

func (s *PrioritySelector) Name() string { return "priority" }

func (s *PrioritySelector) Select(_ context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	routable := routableOnly(endpoints)
	if len(routable) == 0 {
		return nil, &domain.LoadBalancerError{Err: ErrNoEndpoints, Strategy: s.Name(), EndpointCount: len(endpoints)}
	}

	top := routable[0].Priority
	for _, ep := range routable[1:] {
		if ep.Priority > top {
			top = ep.Priority
		}
	}
	tier := make([]*domain.Endpoint, 0, len(routable))
	for _, ep := range routable {
		if ep.Priority == top {
			tier = append(tier, ep)
		}
	}

	total := 0.0
	weights := make([]float64, len(tier))
	for i, ep := range tier {
		w := float64(maxInt(ep.Weight, 1)) * ep.Status.TrafficWeight()
		weights[i] = w
		total += w
	}
	if total == 0 {
		return tier[0], nil
	}

	// nanosecond-seeded point keeps the pick cheap and contention-free
	point := float64(uint64(time.Now().UnixNano())%1000) / 1000.0 * total
	for i, ep := range tier {
		point -= weights[i]
		if point <= 0 {
			return ep, nil
		}
	}
	return tier[len(tier)-1], nil
}

func (s *PrioritySelector) IncrementConnections(ep *domain.Endpoint) {
	s.stats.RecordConnection(ep, 1)
}

func (s *PrioritySelector) DecrementConnections(ep *domain.Endpoint) {
	s.stats.RecordConnection(ep, -1)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

var _ domain.EndpointSelector = (*PrioritySelector)(nil)
