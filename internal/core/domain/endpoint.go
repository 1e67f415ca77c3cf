// Package domain holds the types shared between the upstream engine, the
// load balancer and the health checker: the Endpoint (one backend server
// inside a named upstream group), its liveness status, and the
// repository/selector contracts the rest of the core programs against.
package domain

import (
	"context"
	"net/url"
	"time"

	"github.com/emberproxy/ember/internal/config"
)

// Endpoint is one backend server named by an `upstream { server ...; }`
// block. It is the unit the balancer selects, the health checker probes,
// and the next-upstream retry loop excludes after repeated failure.
type Endpoint struct {
	Name  string
	Group string // owning upstream block; "" when addressed directly
	URL   *url.URL

	// URLString mirrors URL so hot paths can compare and log without
	// re-serialising the parsed form.
	URLString string

	Weight   int
	Priority int

	HealthCheckURL       *url.URL
	HealthCheckURLString string
	CheckInterval        time.Duration
	CheckTimeout         time.Duration

	Status              EndpointStatus
	LastChecked         time.Time
	LastLatency         time.Duration
	ConsecutiveFailures int
	BackoffMultiplier   int
	NextCheckTime       time.Time

	// MaxFails/FailTimeout drive passive health: MaxFails failures inside
	// one FailTimeout window take the endpoint out of selection until the
	// window elapses.
	MaxFails    int
	FailTimeout time.Duration
}

func (e *Endpoint) GetURLString() string { return e.URLString }

func (e *Endpoint) GetHealthCheckURLString() string { return e.HealthCheckURLString }

// EndpointStatus is the health checker's verdict on an endpoint.
type EndpointStatus string

const (
	StatusHealthy   EndpointStatus = "healthy"
	StatusDegraded  EndpointStatus = "degraded" // responding, but slow or recovering
	StatusDraining  EndpointStatus = "draining" // removed from config, finishing in-flight work
	StatusUnhealthy EndpointStatus = "unhealthy"
	StatusOffline   EndpointStatus = "offline"
	StatusUnknown   EndpointStatus = "unknown"
)

func (s EndpointStatus) String() string { return string(s) }

// IsRoutable reports whether new requests may be sent to an endpoint in
// this state. Draining endpoints keep their in-flight requests but take
// no new ones.
func (s EndpointStatus) IsRoutable() bool {
	return s == StatusHealthy || s == StatusDegraded
}

// TrafficWeight scales an endpoint's configured weight by its health:
// degraded endpoints receive a trickle so recovery is observable without
// shifting real load onto them.
func (s EndpointStatus) TrafficWeight() float64 {
	switch s {
	case StatusHealthy:
		return 1.0
	case StatusDegraded:
		return 0.25
	default:
		return 0
	}
}

// EndpointChange records one difference found while reconciling the
// repository against a freshly parsed configuration.
type EndpointChange struct {
	Name    string
	URL     string
	Changes []string
}

type EndpointChangeResult struct {
	Changed  bool
	Added    []*EndpointChange
	Removed  []*EndpointChange
	Modified []*EndpointChange
	OldCount int
	NewCount int
}

// EndpointRepository is the live set of configured backends. The
// discovery adapter reconciles it on reload, the health checker updates
// per-endpoint status, and selectors read routable snapshots from it.
type EndpointRepository interface {
	GetAll(ctx context.Context) ([]*Endpoint, error)
	GetHealthy(ctx context.Context) ([]*Endpoint, error)
	GetRoutable(ctx context.Context) ([]*Endpoint, error)
	GetGroup(ctx context.Context, group string) ([]*Endpoint, error)
	UpdateStatus(ctx context.Context, endpointURL *url.URL, status EndpointStatus) error
	UpdateEndpoint(ctx context.Context, endpoint *Endpoint) error
	UpsertFromConfig(ctx context.Context, configs []config.EndpointConfig) (*EndpointChangeResult, error)
	Add(ctx context.Context, endpoint *Endpoint) error
	Remove(ctx context.Context, endpointURL *url.URL) error
	Exists(ctx context.Context, endpointURL *url.URL) bool
}

// EndpointSelector is the peer capability of the upstream engine: pick
// the next endpoint, account connections, and hear about failures so a
// strategy can bias future picks.
type EndpointSelector interface {
	Select(ctx context.Context, endpoints []*Endpoint) (*Endpoint, error)
	Name() string
	IncrementConnections(endpoint *Endpoint)
	DecrementConnections(endpoint *Endpoint)
}
