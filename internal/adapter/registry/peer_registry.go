// Package registry holds the in-memory PeerRegistry: the live set of
// configured backend endpoints that the balancer selects from and the
// health checker updates. It is populated from the parsed config tree
// at startup and kept current by the discovery adapter's add/remove/
// update notifications.
package registry

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/emberproxy/ember/internal/config"
	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/logger"
)

// PeerRegistry is a lock-free, keyed-by-URL store of *domain.Endpoint.
// It implements domain.EndpointRepository.
type PeerRegistry struct {
	peers  *xsync.Map[string, *domain.Endpoint]
	logger logger.StyledLogger

	// order preserves configuration order for selectors (round-robin,
	// priority) that care about it; mutated only under orderMu.
	orderMu sync.Mutex
	order   []string
}

// NewPeerRegistry returns an empty registry.
func NewPeerRegistry(log logger.StyledLogger) *PeerRegistry {
	return &PeerRegistry{
		peers:  xsync.NewMap[string, *domain.Endpoint](),
		logger: log,
		order:  make([]string, 0, 8),
	}
}

func (r *PeerRegistry) GetAll(_ context.Context) ([]*domain.Endpoint, error) {
	out := make([]*domain.Endpoint, 0, r.peers.Size())
	r.orderMu.Lock()
	order := append([]string(nil), r.order...)
	r.orderMu.Unlock()

	for _, key := range order {
		if ep, ok := r.peers.Load(key); ok {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (r *PeerRegistry) GetHealthy(ctx context.Context) ([]*domain.Endpoint, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	healthy := make([]*domain.Endpoint, 0, len(all))
	for _, ep := range all {
		if ep.Status == domain.StatusHealthy {
			healthy = append(healthy, ep)
		}
	}
	return healthy, nil
}

func (r *PeerRegistry) GetRoutable(ctx context.Context) ([]*domain.Endpoint, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	routable := make([]*domain.Endpoint, 0, len(all))
	for _, ep := range all {
		if ep.Status.IsRoutable() {
			routable = append(routable, ep)
		}
	}
	return routable, nil
}

func (r *PeerRegistry) UpdateStatus(_ context.Context, endpointURL *url.URL, status domain.EndpointStatus) error {
	key := endpointURL.String()
	ep, ok := r.peers.Load(key)
	if !ok {
		return &domain.ErrEndpointNotFound{URL: key}
	}
	ep.Status = status
	ep.LastChecked = time.Now()
	r.peers.Store(key, ep)
	return nil
}

func (r *PeerRegistry) UpdateEndpoint(_ context.Context, endpoint *domain.Endpoint) error {
	key := endpoint.URLString
	if _, ok := r.peers.Load(key); !ok {
		return &domain.ErrEndpointNotFound{URL: key}
	}
	r.peers.Store(key, endpoint)
	return nil
}

func (r *PeerRegistry) Add(_ context.Context, endpoint *domain.Endpoint) error {
	key := endpoint.URLString
	_, loaded := r.peers.LoadOrStore(key, endpoint)
	if !loaded {
		r.orderMu.Lock()
		r.order = append(r.order, key)
		r.orderMu.Unlock()
		r.logger.Info("Registered endpoint", "name", endpoint.Name, "url", key)
	}
	return nil
}

func (r *PeerRegistry) Remove(_ context.Context, endpointURL *url.URL) error {
	key := endpointURL.String()
	r.peers.Delete(key)

	r.orderMu.Lock()
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.orderMu.Unlock()
	return nil
}

func (r *PeerRegistry) Exists(_ context.Context, endpointURL *url.URL) bool {
	_, ok := r.peers.Load(endpointURL.String())
	return ok
}

// GetGroup returns the endpoints of one upstream block, in configuration
// order. An empty group name matches endpoints declared outside any block.
func (r *PeerRegistry) GetGroup(ctx context.Context, group string) ([]*domain.Endpoint, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	members := make([]*domain.Endpoint, 0, len(all))
	for _, ep := range all {
		if ep.Group == group {
			members = append(members, ep)
		}
	}
	return members, nil
}

// UpsertFromConfig reconciles the registry against a freshly parsed set of
// endpoint directives, reporting what changed so callers (the balancer,
// the health checker) can react without diffing themselves.
func (r *PeerRegistry) UpsertFromConfig(ctx context.Context, configs []config.EndpointConfig) (*domain.EndpointChangeResult, error) {
	seen := make(map[string]struct{}, len(configs))
	result := &domain.EndpointChangeResult{}

	for _, cfg := range configs {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, err
		}
		seen[u.String()] = struct{}{}

		if existing, ok := r.peers.Load(u.String()); ok {
			var changes []string
			if existing.Name != cfg.Name {
				changes = append(changes, "name")
				existing.Name = cfg.Name
			}
			if existing.Group != cfg.Group {
				changes = append(changes, "group")
				existing.Group = cfg.Group
			}
			if existing.Weight != cfg.Weight {
				changes = append(changes, "weight")
				existing.Weight = cfg.Weight
			}
			if existing.MaxFails != cfg.MaxFails {
				changes = append(changes, "max_fails")
				existing.MaxFails = cfg.MaxFails
			}
			if len(changes) > 0 {
				r.peers.Store(u.String(), existing)
				result.Modified = append(result.Modified, &domain.EndpointChange{Name: cfg.Name, URL: u.String(), Changes: changes})
				result.Changed = true
			}
			continue
		}

		ep := &domain.Endpoint{
			Name:          cfg.Name,
			Group:         cfg.Group,
			URL:           u,
			URLString:     u.String(),
			Weight:        cfg.Weight,
			Priority:      cfg.Priority,
			MaxFails:      cfg.MaxFails,
			FailTimeout:   cfg.FailTimeout,
			CheckInterval: cfg.CheckInterval,
			CheckTimeout:  cfg.CheckTimeout,
			Status:        domain.StatusUnknown,
		}
		if cfg.HealthCheckURL != "" {
			if hu, herr := url.Parse(cfg.HealthCheckURL); herr == nil {
				ep.HealthCheckURL = hu
				ep.HealthCheckURLString = hu.String()
			}
		}
		if err := r.Add(ctx, ep); err != nil {
			return nil, err
		}
		result.Added = append(result.Added, &domain.EndpointChange{Name: cfg.Name, URL: u.String()})
		result.Changed = true
	}

	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, ep := range all {
		if _, ok := seen[ep.URLString]; !ok {
			if err := r.Remove(ctx, ep.URL); err != nil {
				return nil, err
			}
			result.Removed = append(result.Removed, &domain.EndpointChange{Name: ep.Name, URL: ep.URLString})
			result.Changed = true
		}
	}

	result.OldCount = len(all) - len(result.Added) + len(result.Removed)
	result.NewCount = r.peers.Size()
	return result, nil
}

var _ domain.EndpointRepository = (*PeerRegistry)(nil)
