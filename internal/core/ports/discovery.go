package ports

import (
	"context"

	"github.com/emberproxy/ember/internal/core/domain"
)

// DiscoveryService keeps the endpoint repository in step with the
// configured upstream blocks and the health checker's verdicts.
type DiscoveryService interface {
	GetEndpoints(ctx context.Context) ([]*domain.Endpoint, error)
	GetHealthyEndpoints(ctx context.Context) ([]*domain.Endpoint, error)
	GetGroupEndpoints(ctx context.Context, group string) ([]*domain.Endpoint, error)

	// RefreshEndpoints re-reconciles the repository against the current
	// configuration, the reload path's entry point.
	RefreshEndpoints(ctx context.Context) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
