// Package discovery keeps the endpoint repository in step with the
// configured backend set. Only static discovery exists: the backends are
// declared in configuration (upstream blocks or the YAML mirror), and a
// refresh re-reconciles after reloads. The package also owns the health
// checker's lifecycle so a started discovery service implies probed
// endpoints.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/emberproxy/ember/internal/adapter/registry"
	"github.com/emberproxy/ember/internal/config"
	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/logger"
)

// NewStaticEndpointRepository builds the registry-backed repository the
// worker shares between discovery, health and the balancer.
func NewStaticEndpointRepository(log logger.StyledLogger) domain.EndpointRepository {
	return registry.NewPeerRegistry(log)
}

// Service implements ports.DiscoveryService over a static backend set.
type Service struct {
	repo    domain.EndpointRepository
	checker domain.HealthChecker
	log     *logger.StyledLogger

	refreshInterval time.Duration
	endpointsFn     func() []config.EndpointConfig

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// NewStaticDiscoveryService wires the repository, the health checker and
// the configured endpoint source together. endpointsFn is re-invoked on
// every refresh so reloaded configuration flows through without
// rebuilding the service.
func NewStaticDiscoveryService(
	repo domain.EndpointRepository,
	checker domain.HealthChecker,
	cfg *config.Config,
	log *logger.StyledLogger,
	endpointsFn func() []config.EndpointConfig,
) *Service {
	if endpointsFn == nil {
		endpointsFn = func() []config.EndpointConfig { return cfg.Discovery.Static.Endpoints }
	}
	return &Service{
		repo:            repo,
		checker:         checker,
		log:             log,
		refreshInterval: cfg.Discovery.RefreshInterval,
		endpointsFn:     endpointsFn,
	}
}

func (s *Service) GetEndpoints(ctx context.Context) ([]*domain.Endpoint, error) {
	return s.repo.GetAll(ctx)
}

func (s *Service) GetHealthyEndpoints(ctx context.Context) ([]*domain.Endpoint, error) {
	return s.repo.GetRoutable(ctx)
}

func (s *Service) GetGroupEndpoints(ctx context.Context, group string) ([]*domain.Endpoint, error) {
	return s.repo.GetGroup(ctx, group)
}

// RefreshEndpoints reconciles the repository against the current
// configured set and logs what changed.
func (s *Service) RefreshEndpoints(ctx context.Context) error {
	result, err := s.repo.UpsertFromConfig(ctx, s.endpointsFn())
	if err != nil {
		return err
	}
	if result.Changed {
		s.log.InfoWithCount("discovery: endpoint set reconciled", result.NewCount,
			"added", len(result.Added), "removed", len(result.Removed), "modified", len(result.Modified))
	}
	return nil
}

// Start seeds the repository, starts health checking and begins the
// periodic refresh.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if err := s.RefreshEndpoints(ctx); err != nil {
		return err
	}
	if s.checker != nil {
		if err := s.checker.StartChecking(ctx); err != nil {
			return err
		}
	}

	s.running = true
	s.done = make(chan struct{})
	if s.refreshInterval > 0 {
		go s.refreshLoop(ctx)
	}
	return nil
}

func (s *Service) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.RefreshEndpoints(ctx); err != nil {
				s.log.Error("discovery: refresh failed", "error", err)
			}
		}
	}
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	close(s.done)
	if s.checker != nil {
		return s.checker.StopChecking(ctx)
	}
	return nil
}

var _ ports.DiscoveryService = (*Service)(nil)
