package balancer

import (
	"fmt"

	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
)

// Factory resolves a strategy name from configuration (the
// `load_balancer` directive or proxy.load_balancer) to a selector.
type Factory struct {
	stats ports.StatsCollector
}

func NewFactory(stats ports.StatsCollector) *Factory {
	return &Factory{stats: stats}
}

func (f *Factory) Create(name string) (domain.EndpointSelector, error) {
	switch name {
	case "round-robin", "round_robin", "":
		return NewRoundRobinSelector(f.stats), nil
	case "least-connections", "least_conn":
		return NewLeastConnectionsSelector(f.stats), nil
	case "priority":
		return NewPrioritySelector(f.stats), nil
	}
	return nil, fmt.Errorf("unknown load balancer strategy %q", name)
}

// Available lists the accepted strategy names for error messages.
func (f *Factory) Available() []string {
	return []string{"round-robin", "least-connections", "priority"}
}
